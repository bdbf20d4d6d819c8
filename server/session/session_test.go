package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linwei/chartline/server/prompt"
)

func TestSetPortfolio(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.SetPortfolio("u1", "持有台積電 10 張"))
	assert.Equal(t, "持有台積電 10 張", s.Portfolio("u1"))
	assert.True(t, s.HasPortfolio("u1"))

	require.NoError(t, s.SetPortfolio("u1", "已出清"))
	assert.Equal(t, "已出清", s.Portfolio("u1"))
}

func TestSetPortfolioEmpty(t *testing.T) {
	s := NewStore()
	assert.ErrorIs(t, s.SetPortfolio("u1", "   "), ErrEmptyPortfolio)
	assert.False(t, s.HasPortfolio("u1"))
}

func TestSessionsAreIsolated(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.SetPortfolio("u1", "A"))

	assert.False(t, s.HasPortfolio("u2"))
	s.AppendImage("u2", []byte{1})
	assert.Equal(t, 0, s.PendingCount("u1"))
}

func TestAppendAndDrain(t *testing.T) {
	s := NewStore()

	assert.Equal(t, 1, s.AppendImage("u1", []byte{1}))
	assert.Equal(t, 2, s.AppendImage("u1", []byte{2}))
	assert.Equal(t, 3, s.AppendImage("u1", []byte{3}))

	imgs := s.DrainImages("u1")
	require.Equal(t, [][]byte{{1}, {2}, {3}}, imgs, "drain preserves arrival order")
	assert.Equal(t, 0, s.PendingCount("u1"))
	assert.Empty(t, s.DrainImages("u1"), "second drain returns nothing")
}

func TestTimerFiresWithBatch(t *testing.T) {
	s := NewStore()
	fired := make(chan [][]byte, 1)

	s.AppendImage("u1", []byte{1})
	s.AppendImage("u1", []byte{2})
	s.SetTimer("u1", 20*time.Millisecond, func(imgs [][]byte, _ time.Duration) {
		fired <- imgs
	})

	select {
	case imgs := <-fired:
		assert.Equal(t, [][]byte{{1}, {2}}, imgs)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	assert.Equal(t, 0, s.PendingCount("u1"))
}

func TestTimerDebounce(t *testing.T) {
	s := NewStore()
	var mu sync.Mutex
	var batches [][][]byte
	done := make(chan struct{}, 1)

	fire := func(imgs [][]byte, _ time.Duration) {
		mu.Lock()
		batches = append(batches, imgs)
		mu.Unlock()
		done <- struct{}{}
	}

	// Three arrivals inside the window: each resets the timer, so only
	// one flush happens, carrying all three images.
	for i := byte(1); i <= 3; i++ {
		s.AppendImage("u1", []byte{i})
		s.SetTimer("u1", 50*time.Millisecond, fire)
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("flush never happened")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 1)
	assert.Equal(t, [][]byte{{1}, {2}, {3}}, batches[0])
}

func TestGapBetweenWindowsYieldsTwoBatches(t *testing.T) {
	s := NewStore()
	var mu sync.Mutex
	var batches [][][]byte
	done := make(chan struct{}, 2)

	fire := func(imgs [][]byte, _ time.Duration) {
		mu.Lock()
		batches = append(batches, imgs)
		mu.Unlock()
		done <- struct{}{}
	}

	s.AppendImage("u1", []byte{1})
	s.SetTimer("u1", 20*time.Millisecond, fire)
	<-done

	s.AppendImage("u1", []byte{2})
	s.SetTimer("u1", 20*time.Millisecond, fire)
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 2)
	assert.Equal(t, [][]byte{{1}}, batches[0])
	assert.Equal(t, [][]byte{{2}}, batches[1])
}

func TestDrainCancelsTimer(t *testing.T) {
	s := NewStore()
	fired := make(chan struct{}, 1)

	s.AppendImage("u1", []byte{1})
	s.SetTimer("u1", 20*time.Millisecond, func(_ [][]byte, _ time.Duration) {
		fired <- struct{}{}
	})

	imgs := s.DrainImages("u1")
	require.Len(t, imgs, 1)

	select {
	case <-fired:
		t.Fatal("timer fired after drain")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancelTimerIdempotent(t *testing.T) {
	s := NewStore()

	// Cancelling with no timer armed must not panic or create state.
	s.CancelTimer("u1")

	fired := make(chan struct{}, 1)
	s.AppendImage("u1", []byte{1})
	s.SetTimer("u1", 20*time.Millisecond, func(_ [][]byte, _ time.Duration) {
		fired <- struct{}{}
	})
	s.CancelTimer("u1")
	s.CancelTimer("u1")

	select {
	case <-fired:
		t.Fatal("timer fired after cancel")
	case <-time.After(100 * time.Millisecond):
	}

	// The pending batch survives a cancel; only drains clear it.
	assert.Equal(t, 1, s.PendingCount("u1"))
}

func TestStaleTimerIsNoOp(t *testing.T) {
	s := NewStore()
	staleFired := make(chan struct{}, 1)
	liveFired := make(chan [][]byte, 1)

	s.AppendImage("u1", []byte{1})
	s.SetTimer("u1", 10*time.Millisecond, func(_ [][]byte, _ time.Duration) {
		staleFired <- struct{}{}
	})

	// Rearm immediately: the first timer is invalidated even if its
	// AfterFunc goroutine has already been scheduled.
	s.SetTimer("u1", 30*time.Millisecond, func(imgs [][]byte, _ time.Duration) {
		liveFired <- imgs
	})

	select {
	case imgs := <-liveFired:
		assert.Equal(t, [][]byte{{1}}, imgs)
	case <-time.After(time.Second):
		t.Fatal("live timer never fired")
	}

	select {
	case <-staleFired:
		t.Fatal("stale timer callback ran")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTimerWithEmptyBatchDoesNotFire(t *testing.T) {
	s := NewStore()
	fired := make(chan struct{}, 1)

	s.SetTimer("u1", 10*time.Millisecond, func(_ [][]byte, _ time.Duration) {
		fired <- struct{}{}
	})

	select {
	case <-fired:
		t.Fatal("fire invoked with an empty batch")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCollectedForSpansFirstImageToDrain(t *testing.T) {
	s := NewStore()
	got := make(chan time.Duration, 1)

	s.AppendImage("u1", []byte{1})
	time.Sleep(30 * time.Millisecond)
	s.AppendImage("u1", []byte{2})
	s.SetTimer("u1", 20*time.Millisecond, func(_ [][]byte, d time.Duration) {
		got <- d
	})

	select {
	case d := <-got:
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestHistory(t *testing.T) {
	s := NewStore()

	h := s.History("u1")
	require.Len(t, h, 1, "new session history is seeded with the system prompt")
	assert.Equal(t, prompt.RoleSystem, h[0].Role)

	s.UpdateHistory("u1", func(h []prompt.Message) []prompt.Message {
		return prompt.WithText(h, "question", 10)
	})
	assert.Len(t, s.History("u1"), 2)

	// History returns a copy; mutating it must not leak into the store.
	h = s.History("u1")
	h[1].Content = "tampered"
	assert.Equal(t, "question", s.History("u1")[1].Content)
}

func TestConcurrentAppendAndDrain(t *testing.T) {
	s := NewStore()
	const appends = 200

	var wg sync.WaitGroup
	var mu sync.Mutex
	drained := 0

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < appends; i++ {
			s.AppendImage("u1", []byte{byte(i)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			n := len(s.DrainImages("u1"))
			mu.Lock()
			drained += n
			mu.Unlock()
		}
	}()
	wg.Wait()

	mu.Lock()
	total := drained
	mu.Unlock()
	total += len(s.DrainImages("u1"))
	assert.Equal(t, appends, total, "no image lost or duplicated across racing drains")
}

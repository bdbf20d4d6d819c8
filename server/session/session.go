// Package session holds per-user conversation and batching state. The
// Store is the single writer of all session records: the coordinator
// never touches a Session directly, it issues operations keyed by user
// id. Sessions live for the process lifetime; nothing is persisted.
package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/linwei/chartline/server/prompt"
)

// ErrEmptyPortfolio is returned by SetPortfolio when the text is empty
// after trimming. Callers validate first; this is a defensive check.
var ErrEmptyPortfolio = errors.New("portfolio text is empty")

// Session is the per-user record. All fields are guarded by mu; the
// central invariant is that at most one live debounce timer exists per
// session at any instant.
type Session struct {
	mu sync.Mutex

	portfolio string
	pending   [][]byte
	history   []prompt.Message

	// timer is the single live batch deadline, nil when none. timerSeq
	// identifies the currently armed timer; a firing callback whose
	// sequence no longer matches is stale and must do nothing.
	timer          *time.Timer
	timerSeq       uint64
	batchStartedAt time.Time
}

// stopTimerLocked cancels any live timer and invalidates outstanding
// callbacks. Callers must hold s.mu. Idempotent: cancelling a fired or
// absent timer is a no-op.
func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerSeq++
}

// Store is the authoritative mapping from user id to Session.
// The store-level lock only guards the map; every mutation of a
// session's state takes that session's own lock, so users never
// contend with each other.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// get returns the session for userID, creating it on first access.
func (s *Store) get(userID string) *Session {
	s.mu.RLock()
	sess, ok := s.sessions[userID]
	s.mu.RUnlock()

	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok = s.sessions[userID]; ok {
		return sess
	}

	sess = &Session{history: prompt.NewHistory()}
	s.sessions[userID] = sess

	return sess
}

// SetPortfolio replaces the user's portfolio text wholesale.
func (s *Store) SetPortfolio(userID, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyPortfolio
	}

	sess := s.get(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.portfolio = text
	return nil
}

// Portfolio returns the user's portfolio text, empty when unset.
func (s *Store) Portfolio(userID string) string {
	sess := s.get(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.portfolio
}

// HasPortfolio reports whether the user has set portfolio context.
func (s *Store) HasPortfolio(userID string) bool {
	return s.Portfolio(userID) != ""
}

// AppendImage appends image bytes to the pending batch and returns the
// resulting count. Arrival order is preserved.
func (s *Store) AppendImage(userID string, img []byte) int {
	sess := s.get(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if len(sess.pending) == 0 {
		sess.batchStartedAt = time.Now()
	}
	sess.pending = append(sess.pending, img)
	return len(sess.pending)
}

// PendingCount returns the number of images awaiting batching.
func (s *Store) PendingCount(userID string) int {
	sess := s.get(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return len(sess.pending)
}

// DrainImages atomically removes and returns all pending images,
// cancelling any live timer in the same critical section. An append
// racing with a drain therefore either lands in the returned batch or
// starts a fresh one; no image is lost or duplicated.
func (s *Store) DrainImages(userID string) [][]byte {
	sess := s.get(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.stopTimerLocked()
	imgs := sess.pending
	sess.pending = nil
	sess.batchStartedAt = time.Time{}
	return imgs
}

// CancelTimer cancels any live batch deadline for the user. Safe to
// call when none exists.
func (s *Store) CancelTimer(userID string) {
	sess := s.get(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.stopTimerLocked()
}

// SetTimer arms the batch deadline: after d without another SetTimer,
// the pending images are drained atomically and fire is invoked with
// them outside any lock. Any previously armed timer is cancelled first,
// so calling SetTimer on every arrival yields debounce semantics. A
// timer that fires after a later reset, drain, or cancel is a no-op,
// which means images arriving while a flush is in progress always start
// a fresh batch rather than joining the in-flight one.
//
// collectedFor is the time the batch spent collecting, from the first
// pending image to the drain.
func (s *Store) SetTimer(userID string, d time.Duration, fire func(images [][]byte, collectedFor time.Duration)) {
	sess := s.get(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.stopTimerLocked()
	seq := sess.timerSeq
	sess.timer = time.AfterFunc(d, func() {
		s.fireTimer(userID, seq, fire)
	})
}

// fireTimer performs the Collecting → Flushing transition: verify the
// firing timer is still current, drain state under the session lock,
// then release the lock before handing the batch to fire. The lock is
// never held across the completion call.
func (s *Store) fireTimer(userID string, seq uint64, fire func(images [][]byte, collectedFor time.Duration)) {
	sess := s.get(userID)

	sess.mu.Lock()
	if sess.timerSeq != seq || sess.timer == nil {
		// Stale: reset, drained, or cancelled since this timer was armed.
		sess.mu.Unlock()
		return
	}
	sess.timer = nil
	sess.timerSeq++
	imgs := sess.pending
	sess.pending = nil
	started := sess.batchStartedAt
	sess.batchStartedAt = time.Time{}
	sess.mu.Unlock()

	if len(imgs) == 0 {
		return
	}
	fire(imgs, time.Since(started))
}

// History returns a copy of the user's conversation history.
func (s *Store) History(userID string) []prompt.Message {
	sess := s.get(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	out := make([]prompt.Message, len(sess.history))
	copy(out, sess.history)
	return out
}

// UpdateHistory applies fn to the user's history under the session
// lock and stores the result. fn must be pure; it receives the current
// history and returns the replacement.
func (s *Store) UpdateHistory(userID string, fn func(history []prompt.Message) []prompt.Message) {
	sess := s.get(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.history = fn(sess.history)
}

// Package push delivers analysis results to users asynchronously. The
// platform's push API is rate limited and occasionally slow, so batch
// flushes enqueue here instead of blocking on delivery.
package push

import (
	"context"
	"sync"
	"time"

	"github.com/eapache/queue/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/linwei/chartline/server/line"
	"github.com/linwei/chartline/server/metrics"
)

type message struct {
	UserID   string
	Text     string
	Enqueued time.Time
}

// Dispatcher is a bounded FIFO of outbound push messages drained by a
// single rate-limited worker. When the queue is full new messages are
// dropped rather than applying backpressure to the flush path.
type Dispatcher struct {
	mu      sync.Mutex
	queue   *queue.Queue[message]
	notify  chan struct{}
	limiter *rate.Limiter

	maxSize   int
	messenger line.Messenger
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewDispatcher creates a dispatcher with the given capacity. The
// limiter caps push throughput at roughly the platform quota.
func NewDispatcher(maxSize int, messenger line.Messenger, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		queue:     queue.New[message](),
		notify:    make(chan struct{}, 1),
		limiter:   rate.NewLimiter(rate.Limit(10), 20),
		maxSize:   maxSize,
		messenger: messenger,
		logger:    logger,
		metrics:   m,
	}
}

// Enqueue adds a push message for delivery. Returns false when the
// queue is at capacity and the message was dropped.
func (d *Dispatcher) Enqueue(userID, text string) bool {
	d.mu.Lock()
	if d.queue.Length() >= d.maxSize {
		d.mu.Unlock()
		d.metrics.PushDroppedTotal.Inc()
		d.logger.Warn("Push queue full, dropping message",
			zap.String("user_id", userID),
			zap.Int("capacity", d.maxSize),
		)
		return false
	}
	d.queue.Add(message{UserID: userID, Text: text, Enqueued: time.Now()})
	depth := d.queue.Length()
	d.mu.Unlock()

	d.metrics.PushQueueDepth.Set(float64(depth))
	select {
	case d.notify <- struct{}{}:
	default:
	}
	return true
}

// Run drains the queue until ctx is cancelled. Delivery failures are
// logged and counted but never stop the worker; a push that fails is
// not retried.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		msg, ok := d.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.notify:
				continue
			}
		}

		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}

		if err := d.messenger.Push(msg.UserID, msg.Text); err != nil {
			d.metrics.PushFailuresTotal.Inc()
			d.logger.Error("Push delivery failed",
				zap.String("user_id", msg.UserID),
				zap.Duration("queued_for", time.Since(msg.Enqueued)),
				zap.Error(err),
			)
		}
	}
}

func (d *Dispatcher) dequeue() (message, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue.Length() == 0 {
		d.metrics.PushQueueDepth.Set(0)
		return message{}, false
	}
	msg := d.queue.Remove()
	d.metrics.PushQueueDepth.Set(float64(d.queue.Length()))
	return msg, true
}

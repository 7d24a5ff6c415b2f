package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/resilience"
)

const defaultQueueSize = 64

// Notifier publishes IndexBuilt events off the build path. Notify only
// enqueues; Run drains the queue and publishes with retries.
type Notifier struct {
	publisher kafka.Publisher
	retry     resilience.RetryConfig
	queue     chan IndexBuilt
	logger    *slog.Logger
	now       func() time.Time

	closeOnce sync.Once
	done      chan struct{}
}

func NewNotifier(p kafka.Publisher, queueSize int) *Notifier {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Notifier{
		publisher: p,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
		queue:  make(chan IndexBuilt, queueSize),
		logger: logger.WithComponent("index-notifier"),
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// Notify queues an event for snap. It never blocks; when the queue is full
// the event is dropped and logged. It fits engine.Options.OnBuild.
func (n *Notifier) Notify(_ context.Context, snap *engine.Snapshot) {
	event := newIndexBuilt(snap, n.now())
	select {
	case n.queue <- event:
	default:
		n.logger.Warn("index-built queue full, dropping event",
			"dataset", event.Dataset,
			"key", event.Key.String(),
		)
	}
}

// Run publishes queued events until ctx ends, then flushes what is left
// with a short deadline.
func (n *Notifier) Run(ctx context.Context) {
	defer close(n.done)
	for {
		select {
		case event := <-n.queue:
			n.publish(ctx, event)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				select {
				case event := <-n.queue:
					n.publish(flushCtx, event)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) publish(ctx context.Context, event IndexBuilt) {
	err := resilience.Retry(ctx, "publish-index-built", n.retry, func(ctx context.Context) error {
		return n.publisher.Publish(ctx, kafka.Event{Key: event.Dataset, Value: event})
	})
	if err != nil {
		n.logger.Error("failed to publish index-built event",
			"event_id", event.EventID,
			"key", event.Key.String(),
			"error", err,
		)
		return
	}
	n.logger.Debug("index-built event published", "event_id", event.EventID, "key", event.Key.String())
}

// Wait blocks until Run has returned.
func (n *Notifier) Wait() {
	<-n.done
}

// Close closes the publisher once.
func (n *Notifier) Close() error {
	var err error
	n.closeOnce.Do(func() { err = n.publisher.Close() })
	return err
}

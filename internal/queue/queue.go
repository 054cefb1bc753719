package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-funnel/internal/retry"
)

const (
	TopicCampaignSends = "campaign_sends"
	TopicFunnelEvents  = "funnel_events"
)

// Handler processes one message body. A returned error asks the queue to
// redeliver, up to its retry budget.
type Handler func(ctx context.Context, body []byte) error

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(topic string, handler Handler) error
	Close() error
}

// InMemoryQueue fans each message out to every subscriber on its own
// goroutine and retries failed handlers with backoff.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	opts     retry.Options
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewInMemoryQueue(log *zap.Logger, opts retry.Options) *InMemoryQueue {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryQueue{
		handlers: make(map[string][]Handler),
		opts:     opts,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}

	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}
	if err := q.ctx.Err(); err != nil {
		return fmt.Errorf("queue closed: %w", err)
	}

	for _, handler := range handlers {
		q.wg.Add(1)
		go q.processJob(topic, handler, body)
	}
	return nil
}

func (q *InMemoryQueue) processJob(topic string, handler Handler, body []byte) {
	defer q.wg.Done()

	opts := q.opts
	opts.OnRetry = func(attempt int, err error) {
		q.log.Warn("job failed, retrying",
			zap.String("topic", topic),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if q.opts.OnRetry != nil {
			q.opts.OnRetry(attempt, err)
		}
	}

	err := retry.Run(q.ctx, opts, func(ctx context.Context) error {
		return handler(ctx, body)
	})
	if err != nil {
		q.log.Error("job permanently failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	q.log.Debug("job processed", zap.String("topic", topic))
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Close cancels in-flight retries and waits for every job goroutine.
func (q *InMemoryQueue) Close() error {
	q.cancel()
	q.wg.Wait()
	return nil
}

// Wait blocks until every published job has finished. Tests use it to
// observe handler side effects.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

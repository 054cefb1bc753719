package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-funnel/internal/retry"
)

const retryHeader = "x-retry-count"

// AMQPQueue implements Queue on RabbitMQ with one durable queue per topic.
// Failed deliveries are republished with an incremented x-retry-count header
// until maxRetries, then dropped. Errors marked retry.Permanent are dropped
// on the first failure.
type AMQPQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	log        *zap.Logger
	maxRetries int

	mu       sync.Mutex
	declared map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func DialAMQP(url string, maxRetries int, log *zap.Logger) (*AMQPQueue, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AMQPQueue{
		conn:       conn,
		ch:         ch,
		log:        log,
		maxRetries: maxRetries,
		declared:   make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// declare must be called with q.mu held.
func (q *AMQPQueue) declare(topic string) error {
	if q.declared[topic] {
		return nil
	}
	_, err := q.ch.QueueDeclare(
		topic,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	q.declared[topic] = true
	return nil
}

func (q *AMQPQueue) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return q.publish(topic, body, 0)
}

func (q *AMQPQueue) publish(topic string, body []byte, retries int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.declare(topic); err != nil {
		return err
	}
	return q.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{retryHeader: int32(retries)},
		Body:         body,
	})
}

func (q *AMQPQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	err := q.declare(topic)
	var msgs <-chan amqp.Delivery
	if err == nil {
		msgs, err = q.ch.Consume(
			topic,
			"",
			false, // autoAck = false for reliability
			false,
			false,
			false,
			nil,
		)
	}
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("consume %s: %w", topic, err)
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for d := range msgs {
			q.handle(topic, handler, d)
		}
	}()
	return nil
}

func (q *AMQPQueue) handle(topic string, handler Handler, d amqp.Delivery) {
	err := handler(q.ctx, d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	if q.ctx.Err() != nil {
		// Shutting down: hand the message back to the broker untouched.
		_ = d.Nack(false, true)
		return
	}

	retries := retryCount(d.Headers)
	if shouldRequeue(err, retries, q.maxRetries) {
		q.log.Warn("delivery failed, requeueing",
			zap.String("topic", topic),
			zap.Int("retry", retries+1),
			zap.Error(err),
		)
		if perr := q.publish(topic, d.Body, retries+1); perr != nil {
			q.log.Error("requeue failed", zap.String("topic", topic), zap.Error(perr))
			_ = d.Nack(false, true)
			return
		}
	} else {
		q.log.Error("delivery permanently failed", zap.String("topic", topic), zap.Int("retries", retries), zap.Error(err))
	}
	_ = d.Ack(false)
}

func shouldRequeue(err error, retries, maxRetries int) bool {
	return retry.IsRetryable(err) && retries < maxRetries
}

func retryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int16:
		return int(v)
	}
	return 0
}

func (q *AMQPQueue) Close() error {
	q.cancel()
	chErr := q.ch.Close()
	connErr := q.conn.Close()
	q.wg.Wait()
	if chErr != nil {
		return chErr
	}
	return connErr
}

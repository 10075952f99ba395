// Package queue provides the job queue that decouples API handlers from
// background workers, currently plugin installs. The in-memory queue is a
// buffered channel per topic; multiple subscriptions on one topic form a
// worker pool competing for messages.
package queue

import (
	"context"
	"sync"
)

const defaultCapacity = 1000

// Queue publishes and consumes keyed messages by topic.
type Queue interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Close() error
}

// MessageHandler processes one message. A returned error is logged; the
// message is not redelivered.
type MessageHandler func(ctx context.Context, key string, value []byte) error

// Logger is the minimal logging surface the queue needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type message struct {
	key   string
	value []byte
}

// MemoryQueue keeps messages in process memory. Suited to tests and
// single-process runs.
type MemoryQueue struct {
	mu     sync.Mutex
	topics map[string]chan message
	closed bool
	log    Logger
}

// NewMemoryQueue creates an in-memory queue. A nil logger is allowed.
func NewMemoryQueue(log Logger) *MemoryQueue {
	if log == nil {
		log = nopLogger{}
	}
	return &MemoryQueue{
		topics: make(map[string]chan message),
		log:    log,
	}
}

func (q *MemoryQueue) channel(topic string) chan message {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.topics[topic]
	if !ok {
		ch = make(chan message, defaultCapacity)
		q.topics[topic] = ch
	}
	return ch
}

// Publish implements Queue. A full topic drops the message with a warning
// rather than blocking the caller.
func (q *MemoryQueue) Publish(ctx context.Context, topic, key string, value []byte) error {
	ch := q.channel(topic)
	select {
	case ch <- message{key: key, value: value}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		q.log.Warn("queue full, dropping message", "topic", topic, "key", key)
		return nil
	}
}

// Subscribe implements Queue. Each call starts one consumer goroutine;
// subscribing N times to a topic yields an N-worker pool.
func (q *MemoryQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	ch := q.channel(topic)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, msg.key, msg.value); err != nil {
					q.log.Error("message handler failed", "topic", topic, "key", msg.key, "error", err)
				}
			}
		}
	}()
	return nil
}

// Close implements Queue. Consumers drain and exit.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for _, ch := range q.topics {
		close(ch)
	}
	return nil
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

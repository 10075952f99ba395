package events

import (
	"context"
	"encoding/json"
	"sync"
)

// sendBuffer is the per-subscription channel depth. A subscriber that falls
// this far behind is disconnected rather than allowed to stall the hub.
const sendBuffer = 64

// Subscription is one listener on an execution's event feed. Read from C;
// the channel is closed when the subscription is dropped.
type Subscription struct {
	ExecutionID string
	C           chan []byte

	hub  *Hub
	once sync.Once
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.once.Do(func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
	})
}

// broadcastMsg pairs a payload with the execution it belongs to.
type broadcastMsg struct {
	executionID string
	data        []byte
}

// Hub maintains active subscriptions and broadcasts event payloads to
// everyone watching an execution. Transport-agnostic: the HTTP layer pumps
// Subscription.C into WebSockets.
type Hub struct {
	mu          sync.RWMutex
	connections map[string][]*Subscription

	register   chan *Subscription
	unregister chan *Subscription
	broadcast  chan *broadcastMsg
	done       chan struct{}

	logger Logger
}

// NewHub creates a hub. Call Run before subscribing.
func NewHub(logger Logger) *Hub {
	return &Hub{
		connections: make(map[string][]*Subscription),
		register:    make(chan *Subscription),
		unregister:  make(chan *Subscription),
		broadcast:   make(chan *broadcastMsg, 256),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run processes registrations and broadcasts until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logf("event hub started")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.logf("event hub stopping")
			h.closeAll()
			return
		case sub := <-h.register:
			h.addSubscription(sub)
		case sub := <-h.unregister:
			h.dropSubscription(sub)
		case msg := <-h.broadcast:
			h.broadcastToExecution(msg)
		}
	}
}

// Subscribe attaches a listener to an execution's event feed. Returns a
// subscription with a closed channel when the hub has already stopped.
func (h *Hub) Subscribe(executionID string) *Subscription {
	sub := &Subscription{
		ExecutionID: executionID,
		C:           make(chan []byte, sendBuffer),
		hub:         h,
	}
	select {
	case h.register <- sub:
	case <-h.done:
		close(sub.C)
	}
	return sub
}

// Broadcast delivers a raw payload to every subscriber of an execution.
func (h *Hub) Broadcast(executionID string, data []byte) {
	select {
	case h.broadcast <- &broadcastMsg{executionID: executionID, data: data}:
	case <-h.done:
	}
}

// SubscriberCount returns the number of active subscriptions across all
// executions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, subs := range h.connections {
		count += len(subs)
	}
	return count
}

func (h *Hub) addSubscription(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[sub.ExecutionID] = append(h.connections[sub.ExecutionID], sub)
	h.logf("subscriber registered",
		"execution_id", sub.ExecutionID,
		"total_for_execution", len(h.connections[sub.ExecutionID]))
}

func (h *Hub) dropSubscription(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.connections[sub.ExecutionID]
	for i, s := range subs {
		if s == sub {
			h.connections[sub.ExecutionID] = append(subs[:i], subs[i+1:]...)
			close(sub.C)
			if len(h.connections[sub.ExecutionID]) == 0 {
				delete(h.connections, sub.ExecutionID)
			}
			h.logf("subscriber unregistered", "execution_id", sub.ExecutionID)
			break
		}
	}
}

func (h *Hub) broadcastToExecution(msg *broadcastMsg) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.connections[msg.executionID]
	if len(subs) == 0 {
		return
	}

	alive := subs[:0]
	for _, sub := range subs {
		select {
		case sub.C <- msg.data:
			alive = append(alive, sub)
		default:
			// Subscriber's buffer is full, drop the connection.
			h.logf("subscriber too slow, dropping", "execution_id", msg.executionID)
			close(sub.C)
		}
	}
	if len(alive) == 0 {
		delete(h.connections, msg.executionID)
	} else {
		h.connections[msg.executionID] = alive
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, subs := range h.connections {
		for _, sub := range subs {
			close(sub.C)
		}
		delete(h.connections, id)
	}
}

func (h *Hub) logf(msg string, keysAndValues ...interface{}) {
	if h.logger != nil {
		h.logger.Debug(msg, keysAndValues...)
	}
}

// HubPublisher delivers events straight into a hub. Used when the engine and
// the WebSocket surface run in the same process without Redis in between.
type HubPublisher struct {
	hub *Hub
}

// NewHubPublisher wraps a hub as a Publisher.
func NewHubPublisher(hub *Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

// Publish marshals the event and broadcasts it locally.
func (p *HubPublisher) Publish(ctx context.Context, e *Event) error {
	if err := stamp(e); err != nil {
		return err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	p.hub.Broadcast(e.ExecutionID, payload)
	return nil
}

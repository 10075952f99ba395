package events

import (
	"context"
	"sync"
)

// MemoryPublisher records events in order of arrival. Used by tests to assert
// on the sequence an engine run produced.
type MemoryPublisher struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryPublisher creates an empty recorder.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish appends the event to the record.
func (p *MemoryPublisher) Publish(ctx context.Context, e *Event) error {
	if err := stamp(e); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

// Events returns a snapshot of everything published so far.
func (p *MemoryPublisher) Events() []*Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Event, len(p.events))
	copy(out, p.events)
	return out
}

// ByExecution returns the recorded events for one execution, in publish order.
func (p *MemoryPublisher) ByExecution(executionID string) []*Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*Event
	for _, e := range p.events {
		if e.ExecutionID == executionID {
			out = append(out, e)
		}
	}
	return out
}

// Types returns just the event type sequence for one execution.
func (p *MemoryPublisher) Types(executionID string) []string {
	var out []string
	for _, e := range p.ByExecution(executionID) {
		out = append(out, e.Type)
	}
	return out
}

// Reset clears the record.
func (p *MemoryPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

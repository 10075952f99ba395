package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps executions in process memory. Suited to tests and
// single-process runs; production uses the postgres store.
type MemoryStore struct {
	mu    sync.RWMutex
	execs map[string]*Execution
	nodes map[string]*NodeRecord
}

// NewMemoryStore creates an empty in-memory execution store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		execs: make(map[string]*Execution),
		nodes: make(map[string]*NodeRecord),
	}
}

func nodeKey(executionID, nodeID string) string {
	return executionID + "\x00" + nodeID
}

// CreateExecution implements Store.
func (s *MemoryStore) CreateExecution(ctx context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.execs[exec.ID]; exists {
		return fmt.Errorf("execution %q already exists", exec.ID)
	}
	cp := *exec
	if cp.StartedAt.IsZero() {
		cp.StartedAt = time.Now().UTC()
	}
	s.execs[exec.ID] = &cp
	return nil
}

// GetExecution implements Store.
func (s *MemoryStore) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.execs[executionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *exec
	return &cp, nil
}

// UpdateExecution implements Store.
func (s *MemoryStore) UpdateExecution(ctx context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.execs[exec.ID]
	if !ok {
		return ErrNotFound
	}
	if IsTerminal(existing.State) && existing.State != exec.State {
		return fmt.Errorf("execution %q is %s and cannot transition to %s", exec.ID, existing.State, exec.State)
	}
	cp := *exec
	s.execs[exec.ID] = &cp
	return nil
}

// ListExecutions implements Store.
func (s *MemoryStore) ListExecutions(ctx context.Context, userID string, limit int) ([]*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Execution
	for _, exec := range s.execs {
		if userID == "" || exec.UserID == userID {
			cp := *exec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveNode implements Store.
func (s *MemoryStore) SaveNode(ctx context.Context, rec *NodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.nodes[nodeKey(rec.ExecutionID, rec.NodeID)] = &cp
	return nil
}

// GetNode implements Store.
func (s *MemoryStore) GetNode(ctx context.Context, executionID, nodeID string) (*NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.nodes[nodeKey(executionID, nodeID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// ListNodes implements Store.
func (s *MemoryStore) ListNodes(ctx context.Context, executionID string) ([]*NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*NodeRecord
	for _, rec := range s.nodes {
		if rec.ExecutionID == executionID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

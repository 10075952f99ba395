package hitl

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps approvals in process memory. Suitable for tests and
// single-process deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Approval // executionID \x00 nodeID -> record
	tokens  map[string]string    // token -> record key
}

// NewMemoryStore creates an empty in-memory approval store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Approval),
		tokens:  make(map[string]string),
	}
}

func recordKey(executionID, nodeID string) string {
	return executionID + "\x00" + nodeID
}

func cloneApproval(a *Approval) *Approval {
	cp := *a
	if a.Payload != nil {
		cp.Payload = make(map[string]interface{}, len(a.Payload))
		for k, v := range a.Payload {
			cp.Payload[k] = v
		}
	}
	if a.Response != nil {
		cp.Response = make(map[string]interface{}, len(a.Response))
		for k, v := range a.Response {
			cp.Response[k] = v
		}
	}
	if a.DecidedAt != nil {
		t := *a.DecidedAt
		cp.DecidedAt = &t
	}
	return &cp
}

// CreatePending records a pending approval unless one already exists.
func (s *MemoryStore) CreatePending(ctx context.Context, a *Approval) (bool, error) {
	if err := validateNew(a); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(a.ExecutionID, a.NodeID)
	if _, exists := s.records[key]; exists {
		return false, nil
	}

	stored := cloneApproval(a)
	stored.Status = StatusPending
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.records[key] = stored
	if stored.Token != "" {
		s.tokens[stored.Token] = key
	}
	return true, nil
}

// Get loads the approval for an execution node.
func (s *MemoryStore) Get(ctx context.Context, executionID, nodeID string) (*Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recordKey(executionID, nodeID)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneApproval(rec), nil
}

// GetByToken resolves an external token to its approval.
func (s *MemoryStore) GetByToken(ctx context.Context, token string) (*Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneApproval(rec), nil
}

// Decide transitions a pending approval to a terminal status.
func (s *MemoryStore) Decide(ctx context.Context, executionID, nodeID, status string, response map[string]interface{}) (*Approval, error) {
	if err := validDecision(status); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordKey(executionID, nodeID)]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status != StatusPending {
		return cloneApproval(rec), ErrDecided
	}

	now := time.Now().UTC()
	rec.Status = status
	rec.Response = response
	rec.DecidedAt = &now
	return cloneApproval(rec), nil
}

// PendingCount reports pending approvals for an execution.
func (s *MemoryStore) PendingCount(ctx context.Context, executionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, rec := range s.records {
		if rec.ExecutionID == executionID && rec.Status == StatusPending {
			count++
		}
	}
	return count, nil
}

// ListByExecution returns every approval for an execution, oldest first.
func (s *MemoryStore) ListByExecution(ctx context.Context, executionID string) ([]*Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Approval
	for _, rec := range s.records {
		if rec.ExecutionID == executionID {
			out = append(out, cloneApproval(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].NodeID < out[j].NodeID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteByExecution removes all approvals for an execution.
func (s *MemoryStore) DeleteByExecution(ctx context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, rec := range s.records {
		if rec.ExecutionID != executionID {
			continue
		}
		if rec.Token != "" {
			delete(s.tokens, rec.Token)
		}
		delete(s.records, key)
	}
	return nil
}

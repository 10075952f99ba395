package journal

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps pause records in process memory. Suited to tests and
// single-process runs; production uses the postgres store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory journal.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func key(executionID, nodeID string) string {
	return executionID + "\x00" + nodeID
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(rec.ExecutionID, rec.NodeID)
	if _, exists := s.records[k]; exists {
		return ErrDuplicate
	}
	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.records[k] = &cp
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, executionID, nodeID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key(executionID, nodeID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, executionID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key(executionID, nodeID))
	return nil
}

// ListByExecution implements Store.
func (s *MemoryStore) ListByExecution(ctx context.Context, executionID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, rec := range s.records {
		if rec.ExecutionID == executionID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

// ListDue implements Store.
func (s *MemoryStore) ListDue(ctx context.Context, before time.Time, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, rec := range s.records {
		if rec.ResumeKind != KindTimer || rec.ScheduledResumeAt == nil {
			continue
		}
		if rec.ScheduledResumeAt.After(before) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledResumeAt.Before(*out[j].ScheduledResumeAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteByExecution implements Store.
func (s *MemoryStore) DeleteByExecution(ctx context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, rec := range s.records {
		if rec.ExecutionID == executionID {
			delete(s.records, k)
		}
	}
	return nil
}

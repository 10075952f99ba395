package install

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists install tasks. Update enforces the state machine:
// terminal tasks are immutable and progress never decreases.
type Store interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	Update(ctx context.Context, t *Task) error
	List(ctx context.Context, userID string, activeOnly bool) ([]*Task, error)
}

// MemoryStore keeps install tasks in process memory. Suited to tests and
// single-process runs; production uses the postgres store.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryStore creates an empty in-memory install store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return ErrDuplicate
	}
	cp := *t
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	cp.Progress = clampProgress(cp.Progress)
	s.tasks[t.ID] = &cp
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.ID]
	if !ok {
		return ErrNotFound
	}
	if err := validateTransition(cur, t); err != nil {
		return err
	}
	cp := *t
	cp.Progress = clampProgress(cp.Progress)
	cp.CreatedAt = cur.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	s.tasks[t.ID] = &cp
	return nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, userID string, activeOnly bool) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Task
	for _, t := range s.tasks {
		if t.UserID != userID {
			continue
		}
		if activeOnly && !t.Active() {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

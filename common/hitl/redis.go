package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	redisw "github.com/lyzr/flowcore/common/redis"
)

const (
	approvalKeyPrefix = "flow:approval:"
	tokenKeyPrefix    = "flow:approval:token:"

	// DefaultTTL bounds how long an undecided approval survives. Executions
	// that pause longer than this are expected to be resumed via the journal,
	// not the approval record.
	DefaultTTL = 24 * time.Hour
)

// RedisStore persists approvals in Redis. Records live under
// flow:approval:<execution_id>:<node_id> with a pending counter per execution
// so dashboards can show outstanding approvals without scanning.
type RedisStore struct {
	client *redisw.Client
	logger Logger
	ttl    time.Duration
}

// RedisStoreOpts configures a RedisStore.
type RedisStoreOpts struct {
	Client *redisw.Client
	Logger Logger
	TTL    time.Duration
}

// NewRedisStore creates a Redis-backed approval store.
func NewRedisStore(opts *RedisStoreOpts) *RedisStore {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: opts.Client,
		logger: opts.Logger,
		ttl:    ttl,
	}
}

func approvalKey(executionID, nodeID string) string {
	return fmt.Sprintf("%s%s:%s", approvalKeyPrefix, executionID, nodeID)
}

func tokenKey(token string) string {
	return tokenKeyPrefix + token
}

func pendingCounterKey(executionID string) string {
	return fmt.Sprintf("flow:execution:%s:pending_approvals", executionID)
}

// CreatePending records a pending approval. SETNX and the pending counter
// increment run in one transaction; a duplicate create compensates the
// counter back down.
func (s *RedisStore) CreatePending(ctx context.Context, a *Approval) (bool, error) {
	if err := validateNew(a); err != nil {
		return false, err
	}

	stored := cloneApproval(a)
	stored.Status = StatusPending
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	recordJSON, err := json.Marshal(stored)
	if err != nil {
		return false, fmt.Errorf("failed to marshal approval: %w", err)
	}

	key := approvalKey(stored.ExecutionID, stored.NodeID)
	counterKey := pendingCounterKey(stored.ExecutionID)

	tx := s.client.NewTransaction()
	setLabel := tx.SetNX(ctx, key, string(recordJSON), s.ttl)
	incrLabel := tx.Incr(ctx, counterKey)
	if err := tx.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to create approval: %w", err)
	}

	wasCreated, err := tx.GetBoolResult(setLabel)
	if err != nil {
		return false, fmt.Errorf("failed to check SETNX result: %w", err)
	}

	if !wasCreated {
		// INCR still happened, bring the counter back down.
		if _, err := s.client.Decrement(ctx, counterKey); err != nil {
			s.logger.Error("failed to decrement counter after duplicate approval",
				"execution_id", stored.ExecutionID, "node_id", stored.NodeID, "error", err)
		}
		s.logger.Warn("approval already exists",
			"execution_id", stored.ExecutionID, "node_id", stored.NodeID)
		return false, nil
	}

	if stored.Token != "" {
		if err := s.client.Set(ctx, tokenKey(stored.Token), key, s.ttl); err != nil {
			s.logger.Error("failed to index approval token",
				"execution_id", stored.ExecutionID, "node_id", stored.NodeID, "error", err)
		}
	}

	pending, _ := tx.GetIntResult(incrLabel)
	s.logger.Info("approval created",
		"execution_id", stored.ExecutionID,
		"node_id", stored.NodeID,
		"kind", stored.Kind,
		"pending_count", pending)
	return true, nil
}

// Get loads the approval for an execution node.
func (s *RedisStore) Get(ctx context.Context, executionID, nodeID string) (*Approval, error) {
	return s.getByKey(ctx, approvalKey(executionID, nodeID))
}

// GetByToken resolves an external token to its approval.
func (s *RedisStore) GetByToken(ctx context.Context, token string) (*Approval, error) {
	key, err := s.client.Get(ctx, tokenKey(token))
	if err != nil {
		if errors.Is(err, redisw.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.getByKey(ctx, key)
}

func (s *RedisStore) getByKey(ctx context.Context, key string) (*Approval, error) {
	data, err := s.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redisw.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var rec Approval
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal approval: %w", err)
	}
	return &rec, nil
}

// Decide transitions a pending approval to a terminal status. The write is
// idempotent: a second decision returns the stored record with ErrDecided.
func (s *RedisStore) Decide(ctx context.Context, executionID, nodeID, status string, response map[string]interface{}) (*Approval, error) {
	if err := validDecision(status); err != nil {
		return nil, err
	}

	rec, err := s.Get(ctx, executionID, nodeID)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusPending {
		return rec, ErrDecided
	}

	now := time.Now().UTC()
	rec.Status = status
	rec.Response = response
	rec.DecidedAt = &now

	updatedJSON, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal approval: %w", err)
	}
	if err := s.client.Set(ctx, approvalKey(executionID, nodeID), string(updatedJSON), s.ttl); err != nil {
		return nil, fmt.Errorf("failed to update approval: %w", err)
	}

	if _, err := s.client.Decrement(ctx, pendingCounterKey(executionID)); err != nil {
		s.logger.Error("failed to decrement pending counter",
			"execution_id", executionID, "node_id", nodeID, "error", err)
	}

	s.logger.Info("approval decided",
		"execution_id", executionID,
		"node_id", nodeID,
		"status", status)
	return rec, nil
}

// PendingCount reports pending approvals for an execution.
func (s *RedisStore) PendingCount(ctx context.Context, executionID string) (int64, error) {
	val, err := s.client.Get(ctx, pendingCounterKey(executionID))
	if err != nil {
		if errors.Is(err, redisw.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse pending counter: %w", err)
	}
	if count < 0 {
		count = 0
	}
	return count, nil
}

// ListByExecution returns every approval for an execution, oldest first.
func (s *RedisStore) ListByExecution(ctx context.Context, executionID string) ([]*Approval, error) {
	pattern := fmt.Sprintf("%s%s:*", approvalKeyPrefix, executionID)
	keys, err := s.client.ScanKeys(ctx, pattern)
	if err != nil {
		return nil, err
	}

	// The token index shares the flow:approval: prefix, keep records only.
	recordKeys := keys[:0]
	for _, k := range keys {
		if !strings.HasPrefix(k, tokenKeyPrefix) {
			recordKeys = append(recordKeys, k)
		}
	}
	if len(recordKeys) == 0 {
		return nil, nil
	}

	values, err := s.client.GetMultiple(ctx, recordKeys)
	if err != nil {
		return nil, err
	}

	out := make([]*Approval, 0, len(values))
	for key, data := range values {
		var rec Approval
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			s.logger.Warn("skipping malformed approval record", "key", key, "error", err)
			continue
		}
		out = append(out, &rec)
	}
	sortApprovals(out)
	return out, nil
}

// DeleteByExecution removes all approvals and counters for an execution.
func (s *RedisStore) DeleteByExecution(ctx context.Context, executionID string) error {
	records, err := s.ListByExecution(ctx, executionID)
	if err != nil {
		return err
	}

	keys := []string{pendingCounterKey(executionID)}
	for _, rec := range records {
		keys = append(keys, approvalKey(rec.ExecutionID, rec.NodeID))
		if rec.Token != "" {
			keys = append(keys, tokenKey(rec.Token))
		}
	}
	return s.client.Delete(ctx, keys...)
}

func sortApprovals(out []*Approval) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].NodeID < out[j].NodeID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
}

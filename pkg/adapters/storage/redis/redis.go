package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aescanero/msgflow/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "msgflow:run:"

// RunStorage implements RunStorage using Redis
type RunStorage struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewRunStorage creates a new Redis run storage
func NewRunStorage(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RunStorage {
	return &RunStorage{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveRun persists a finished run
func (s *RunStorage) SaveRun(ctx context.Context, run *domain.FlowRun) error {
	if run == nil || run.SessionID == "" {
		return fmt.Errorf("run must have a session id")
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	if err := s.client.Set(ctx, getRunKey(run.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	s.logger.Debug("run saved",
		zap.String("session_id", run.SessionID),
		zap.String("status", string(run.Status)),
		zap.Int("results", len(run.Results)))

	return nil
}

// GetRun retrieves a run
func (s *RunStorage) GetRun(ctx context.Context, sessionID string) (*domain.FlowRun, error) {
	data, err := s.client.Get(ctx, getRunKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("run %s: %w", sessionID, domain.ErrFlowNotFound)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var run domain.FlowRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}

	return &run, nil
}

// ListRuns returns the stored session ids, sorted
func (s *RunStorage) ListRuns(ctx context.Context) ([]string, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if len(key) > len(keyPrefix) {
			ids = append(ids, key[len(keyPrefix):])
		}
	}
	sort.Strings(ids)

	return ids, nil
}

// DeleteRun removes a run
func (s *RunStorage) DeleteRun(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, getRunKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	s.logger.Debug("run deleted", zap.String("session_id", sessionID))
	return nil
}

// getRunKey returns the Redis key for a run
func getRunKey(sessionID string) string {
	return keyPrefix + sessionID
}

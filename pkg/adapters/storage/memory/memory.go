package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/msgflow/pkg/domain"
)

// InMemoryRunStorage implements RunStorage using an in-memory map
type InMemoryRunStorage struct {
	runs map[string]*domain.FlowRun
	mu   sync.RWMutex
}

// NewInMemoryRunStorage creates a new in-memory run storage
func NewInMemoryRunStorage() *InMemoryRunStorage {
	return &InMemoryRunStorage{
		runs: make(map[string]*domain.FlowRun),
	}
}

// SaveRun stores a copy of the run
func (s *InMemoryRunStorage) SaveRun(ctx context.Context, run *domain.FlowRun) error {
	if run == nil || run.SessionID == "" {
		return fmt.Errorf("run must have a session id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	runCopy := *run
	runCopy.Results = append([]domain.MessageFlowResult(nil), run.Results...)
	s.runs[run.SessionID] = &runCopy
	return nil
}

// GetRun retrieves a run by session id
func (s *InMemoryRunStorage) GetRun(ctx context.Context, sessionID string) (*domain.FlowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[sessionID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", sessionID, domain.ErrFlowNotFound)
	}

	runCopy := *run
	return &runCopy, nil
}

// ListRuns returns the stored session ids, sorted
func (s *InMemoryRunStorage) ListRuns(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids, nil
}

// DeleteRun removes a run
func (s *InMemoryRunStorage) DeleteRun(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, sessionID)
	return nil
}

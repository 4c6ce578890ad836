package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/aescanero/msgflow/pkg/domain"
)

// AreDependenciesMet reports whether every dependency of step has been
// attempted. A failed step still counts as attempted.
func AreDependenciesMet(step domain.MessageFlowStep, attempted map[string]struct{}) bool {
	for _, dep := range step.Dependencies {
		if _, ok := attempted[dep]; !ok {
			return false
		}
	}
	return true
}

// attemptTracker is the set of attempted step ids of one flow plus a
// broadcast channel that is closed and replaced on every change
type attemptTracker struct {
	mu        sync.Mutex
	attempted map[string]struct{}
	changed   chan struct{}
}

func newAttemptTracker() *attemptTracker {
	return &attemptTracker{
		attempted: make(map[string]struct{}),
		changed:   make(chan struct{}),
	}
}

func (t *attemptTracker) mark(stepID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempted[stepID] = struct{}{}
	close(t.changed)
	t.changed = make(chan struct{})
}

func (t *attemptTracker) met(step domain.MessageFlowStep) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return AreDependenciesMet(step, t.attempted)
}

func (t *attemptTracker) missing(step domain.MessageFlowStep) ([]string, <-chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var missing []string
	for _, dep := range step.Dependencies {
		if _, ok := t.attempted[dep]; !ok {
			missing = append(missing, dep)
		}
	}
	return missing, t.changed
}

// wait blocks until the dependencies of step are attempted, ctx is done or
// timeout elapses. ctx cancellation returns the context cause.
func (t *attemptTracker) wait(ctx context.Context, step domain.MessageFlowStep, timeout time.Duration) error {
	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		missing, changed := t.missing(step)
		if len(missing) == 0 {
			return nil
		}

		select {
		case <-changed:
		case <-timer.C:
			return &domain.DependencyTimeoutError{
				StepID:  step.StepID,
				Missing: missing,
				Waited:  time.Since(start),
			}
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}

package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	prommetrics "github.com/aescanero/msgflow/pkg/adapters/metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPool(size, queue int) *Pool {
	metrics := prommetrics.NewCollector(prometheus.NewRegistry())
	return NewPool(size, queue, metrics, zap.NewNop(), time.Hour)
}

func TestPool_RunsJobs(t *testing.T) {
	pool := newTestPool(2, 10)
	require.NoError(t, pool.Start())
	defer pool.Shutdown(context.Background())

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(Job{
			ID:  "job",
			Run: func(context.Context) { ran.Add(1) },
		}))
	}

	require.Eventually(t, func() bool { return ran.Load() == 5 }, time.Second, 5*time.Millisecond)
}

func TestPool_QueueFull(t *testing.T) {
	pool := newTestPool(1, 1)
	require.NoError(t, pool.Start())
	defer pool.Shutdown(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(Job{ID: "blocker", Run: func(context.Context) {
		close(started)
		<-release
	}}))
	<-started

	require.NoError(t, pool.Submit(Job{ID: "queued", Run: func(context.Context) {}}))
	assert.ErrorIs(t, pool.Submit(Job{ID: "overflow", Run: func(context.Context) {}}), ErrQueueFull)
	assert.Equal(t, 1, pool.QueueDepth())

	close(release)
}

func TestPool_SurvivesPanickingJob(t *testing.T) {
	pool := newTestPool(1, 4)
	require.NoError(t, pool.Start())
	defer pool.Shutdown(context.Background())

	done := make(chan struct{})
	require.NoError(t, pool.Submit(Job{ID: "panic", Run: func(context.Context) { panic("boom") }}))
	require.NoError(t, pool.Submit(Job{ID: "after", Run: func(context.Context) { close(done) }}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive panic")
	}
}

func TestPool_ShutdownCancelsAndDrops(t *testing.T) {
	pool := newTestPool(1, 4)
	require.NoError(t, pool.Start())

	started := make(chan struct{})
	var cancelled atomic.Bool
	require.NoError(t, pool.Submit(Job{ID: "running", Run: func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	}}))
	<-started

	var dropped atomic.Int32
	for i := 0; i < 2; i++ {
		require.NoError(t, pool.Submit(Job{
			ID:   "queued",
			Run:  func(context.Context) { t.Error("queued job must not run after shutdown") },
			Drop: func() { dropped.Add(1) },
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))

	assert.True(t, cancelled.Load())
	assert.Equal(t, int32(2), dropped.Load())
	assert.ErrorIs(t, pool.Submit(Job{ID: "late", Run: func(context.Context) {}}), ErrPoolClosed)

	for _, status := range pool.GetStatus() {
		assert.Equal(t, WorkerStatusStopped, status)
	}
}

func TestHealthMonitor_Status(t *testing.T) {
	pool := newTestPool(2, 4)

	status := pool.Health().GetStatus()
	assert.Equal(t, 2, status.TotalWorkers)
	assert.Equal(t, 2, status.StoppedWorkers)
	assert.False(t, status.Healthy)

	require.NoError(t, pool.Start())
	defer pool.Shutdown(context.Background())

	status = pool.Health().GetStatus()
	assert.Equal(t, 2, status.IdleWorkers)
	assert.True(t, status.Healthy)
	assert.False(t, status.Saturated)
}

func TestHealthMonitor_NotifiesListeners(t *testing.T) {
	metrics := prommetrics.NewCollector(prometheus.NewRegistry())
	pool := NewPool(1, 1, metrics, zap.NewNop(), 10*time.Millisecond)

	got := make(chan *HealthStatus, 16)
	pool.Health().OnStatus(func(s *HealthStatus) {
		select {
		case got <- s:
		default:
		}
	})

	require.NoError(t, pool.Start())
	defer pool.Shutdown(context.Background())

	select {
	case s := <-got:
		assert.Equal(t, 1, s.TotalWorkers)
	case <-time.After(time.Second):
		t.Fatal("no health status delivered")
	}
}

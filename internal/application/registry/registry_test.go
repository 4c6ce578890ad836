package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aescanero/msgflow/pkg/adapters/events/memory"
	"github.com/aescanero/msgflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry() (*Registry, *memory.InMemoryEventBus) {
	bus := memory.NewInMemoryEventBus(zap.NewNop())
	return New(bus, nil, zap.NewNop()), bus
}

func flowWithHistory(id string, results ...domain.MessageFlowResult) *domain.FlowContext {
	fc := domain.NewFlowContext(id, "ue", "cell", domain.PLMN{MCC: "001", MNC: "01"})
	for _, r := range results {
		fc.Apply(domain.MessageFlowStep{StepID: r.StepID, Layer: domain.LayerRRC, MessageType: r.StepID}, r)
	}
	return fc
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r, _ := newTestRegistry()

	fc := domain.NewFlowContext("s1", "ue", "cell", domain.PLMN{})
	ctx, err := r.Register(context.Background(), fc)
	require.NoError(t, err)
	require.NotNil(t, ctx)

	got, ok := r.GetActiveFlow("s1")
	require.True(t, ok)
	assert.Same(t, fc, got)

	_, err = r.Register(context.Background(), domain.NewFlowContext("s1", "", "", domain.PLMN{}))
	assert.ErrorIs(t, err, domain.ErrDuplicateSession)

	_, err = r.Register(context.Background(), domain.NewFlowContext("", "", "", domain.PLMN{}))
	assert.Error(t, err)

	assert.False(t, r.Deregister(domain.NewFlowContext("s1", "", "", domain.PLMN{})))
	assert.True(t, r.Deregister(fc))
	assert.False(t, r.Deregister(fc))
	assert.Error(t, ctx.Err())

	_, ok = r.GetActiveFlow("s1")
	assert.False(t, ok)
}

func TestRegistry_GetAllActiveFlowsSorted(t *testing.T) {
	r, _ := newTestRegistry()

	for _, id := range []string{"c", "a", "b"} {
		_, err := r.Register(context.Background(), domain.NewFlowContext(id, "", "", domain.PLMN{}))
		require.NoError(t, err)
	}

	flows := r.GetAllActiveFlows()
	require.Len(t, flows, 3)
	assert.Equal(t, "a", flows[0].SessionID)
	assert.Equal(t, "b", flows[1].SessionID)
	assert.Equal(t, "c", flows[2].SessionID)
}

func TestRegistry_StopFlow(t *testing.T) {
	r, bus := newTestRegistry()

	var stopped []domain.Event
	bus.On(domain.EventFlowStopped, func(e domain.Event) { stopped = append(stopped, e) })

	ctx, err := r.Register(context.Background(), domain.NewFlowContext("s1", "", "", domain.PLMN{}))
	require.NoError(t, err)

	require.NoError(t, r.StopFlow("s1"))

	assert.ErrorIs(t, context.Cause(ctx), domain.ErrFlowStopped)
	require.Len(t, stopped, 1)
	assert.Equal(t, "s1", stopped[0].SessionID)

	_, ok := r.GetActiveFlow("s1")
	assert.False(t, ok)

	err = r.StopFlow("s1")
	assert.True(t, errors.Is(err, domain.ErrFlowNotFound))
}

func TestRegistry_StopAll(t *testing.T) {
	r, _ := newTestRegistry()

	for _, id := range []string{"a", "b"} {
		_, err := r.Register(context.Background(), domain.NewFlowContext(id, "", "", domain.PLMN{}))
		require.NoError(t, err)
	}
	r.StopAll()
	assert.Empty(t, r.GetAllActiveFlows())
}

func TestRegistry_StatisticsEmpty(t *testing.T) {
	r, _ := newTestRegistry()

	assert.Equal(t, domain.FlowStatistics{}, r.GetFlowStatistics())
}

func TestRegistry_Statistics(t *testing.T) {
	r, _ := newTestRegistry()

	a := flowWithHistory("a",
		domain.MessageFlowResult{StepID: "1", Success: true, Metrics: map[string]any{"processing_time_ms": 10.0}},
		domain.MessageFlowResult{StepID: "2", Success: false, Metrics: map[string]any{"processing_time_ms": 20.0}},
	)
	b := flowWithHistory("b",
		domain.MessageFlowResult{StepID: "3", Success: true, ProcessingTime: 30},
		domain.MessageFlowResult{StepID: "4", Success: true, Metrics: map[string]any{"processing_time_ms": 40.0}},
	)
	for _, fc := range []*domain.FlowContext{a, b} {
		_, err := r.Register(context.Background(), fc)
		require.NoError(t, err)
	}

	stats := r.GetFlowStatistics()
	assert.Equal(t, 2, stats.ActiveFlows)
	assert.Equal(t, 4, stats.TotalMessagesProcessed)
	assert.InDelta(t, 25.0, stats.AverageProcessingTime, 1e-9)
	assert.InDelta(t, 75.0, stats.SuccessRate, 1e-9)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r, _ := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			fc := domain.NewFlowContext(id, "", "", domain.PLMN{})
			if _, err := r.Register(context.Background(), fc); err != nil {
				return
			}
			fc.Apply(domain.MessageFlowStep{StepID: id, Layer: domain.LayerPHY}, domain.MessageFlowResult{StepID: id, Success: true})
			_ = r.GetFlowStatistics()
			r.Deregister(fc)
		}(i)
	}
	wg.Wait()

	assert.Empty(t, r.GetAllActiveFlows())
}

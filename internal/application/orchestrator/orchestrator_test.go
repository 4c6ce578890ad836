package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/msgflow/internal/application/dispatch"
	"github.com/aescanero/msgflow/internal/application/registry"
	eventsmemory "github.com/aescanero/msgflow/pkg/adapters/events/memory"
	prommetrics "github.com/aescanero/msgflow/pkg/adapters/metrics/prometheus"
	storagememory "github.com/aescanero/msgflow/pkg/adapters/storage/memory"
	"github.com/aescanero/msgflow/pkg/domain"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	orch     *Orchestrator
	table    *dispatch.Table
	registry *registry.Registry
	bus      *eventsmemory.InMemoryEventBus
	storage  *storagememory.InMemoryRunStorage
}

func newHarness(cfg Config) *harness {
	logger := zap.NewNop()
	bus := eventsmemory.NewInMemoryEventBus(logger)
	metrics := prommetrics.NewCollector(prometheus.NewRegistry())
	reg := registry.New(bus, metrics, logger)
	table := dispatch.NewTable()
	storage := storagememory.NewInMemoryRunStorage()

	return &harness{
		orch:     NewOrchestrator(table, reg, bus, metrics, storage, logger, cfg),
		table:    table,
		registry: reg,
		bus:      bus,
		storage:  storage,
	}
}

// eventLog records every event emitted on a bus
type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func recordEvents(bus *eventsmemory.InMemoryEventBus) *eventLog {
	log := &eventLog{}
	bus.OnAll(func(e domain.Event) {
		log.mu.Lock()
		defer log.mu.Unlock()
		log.events = append(log.events, e)
	})
	return log
}

func (l *eventLog) types() []domain.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func (l *eventLog) ofType(t domain.EventType) []domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newFlow(id string) *domain.FlowContext {
	return domain.NewFlowContext(id, "ue-001", "cell-1", domain.PLMN{MCC: "001", MNC: "01"})
}

func step(id string, layer domain.Layer, messageType string, ies domain.IEs, deps ...string) domain.MessageFlowStep {
	return domain.MessageFlowStep{
		StepID:              id,
		Direction:           domain.DirectionUL,
		Layer:               layer,
		MessageType:         messageType,
		MessageName:         messageType,
		InformationElements: ies,
		Dependencies:        deps,
	}
}

func TestExecute_IndependentSteps(t *testing.T) {
	h := newHarness(Config{})

	var stats domain.FlowStatistics
	h.bus.On(domain.EventFlowCompleted, func(domain.Event) {
		stats = h.registry.GetFlowStatistics()
	})

	steps := []domain.MessageFlowStep{
		step("phy", domain.LayerPHY, "PRACH_Preamble", domain.IEs{"preamble_id": 5}),
		step("rrc", domain.LayerRRC, "RRCSetupRequest", domain.IEs{"rrc_transaction_id": 0}),
		step("nas", domain.LayerNAS, "RegistrationRequest", domain.IEs{"registration_type": "initial"}),
	}

	results, err := h.orch.Execute(context.Background(), steps, newFlow("s-a"))
	require.NoError(t, err)
	require.Len(t, results, 3)

	for _, r := range results {
		assert.True(t, r.Success, r.StepID)
	}

	assert.Equal(t, 1, stats.ActiveFlows)
	assert.Equal(t, 3, stats.TotalMessagesProcessed)
	assert.InDelta(t, 100.0, stats.SuccessRate, 1e-9)
	assert.Less(t, stats.AverageProcessingTime, 20.0)

	_, active := h.registry.GetActiveFlow("s-a")
	assert.False(t, active)
}

func TestExecute_FailedDependencyStillRuns(t *testing.T) {
	h := newHarness(Config{})
	h.table.Register(domain.LayerMAC, "BSR", func(domain.IEs) (dispatch.Outcome, error) {
		return dispatch.Outcome{}, errors.New("buffer status unavailable")
	})

	var stats domain.FlowStatistics
	h.bus.On(domain.EventFlowCompleted, func(domain.Event) {
		stats = h.registry.GetFlowStatistics()
	})
	events := recordEvents(h.bus)

	steps := []domain.MessageFlowStep{
		step("A", domain.LayerMAC, "BSR", nil),
		step("B", domain.LayerMAC, "PHR", domain.IEs{"phr": 10}, "A"),
	}

	results, err := h.orch.Execute(context.Background(), steps, newFlow("s-b"))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "buffer status unavailable")
	assert.Empty(t, results[0].NextSteps)
	assert.Equal(t, false, results[0].Metrics["success"])
	// a nil payload serializes to "null"
	assert.Equal(t, 4, results[0].Metrics["message_size_bytes"])

	assert.True(t, results[1].Success)
	assert.Equal(t, []string{"adjust_power", "B_success"}, results[1].NextSteps)

	assert.InDelta(t, 50.0, stats.SuccessRate, 1e-9)

	failed := events.ofType(domain.EventStepFailed)
	require.Len(t, failed, 1)
	var stepErr *domain.StepProcessingError
	require.ErrorAs(t, failed[0].Err, &stepErr)
	assert.Equal(t, "A", stepErr.StepID)
	assert.Len(t, events.ofType(domain.EventFlowCompleted), 1)
	assert.Empty(t, events.ofType(domain.EventFlowFailed))
}

func TestExecute_RRCSetupRequestMetrics(t *testing.T) {
	h := newHarness(Config{})

	s := step("rrc-1", domain.LayerRRC, "RRCSetupRequest", domain.IEs{
		"rrc_transaction_id":  1,
		"establishment_cause": "mo-Signalling",
		"ue_identity":         "x",
	})
	s.DataPayload = map[string]any{"raw": "00ff"}

	results, err := h.orch.Execute(context.Background(), []domain.MessageFlowStep{s}, newFlow("s-c"))
	require.NoError(t, err)
	require.Len(t, results, 1)

	m := results[0].Metrics
	assert.Equal(t, 1, m["rrc_transaction_id"])
	assert.Equal(t, "mo-Signalling", m["establishment_cause"])
	assert.Equal(t, "x", m["ue_identity"])
	assert.Equal(t, "RRC", m["layer"])
	assert.Equal(t, "UL", m["direction"])
	assert.Equal(t, true, m["success"])
	assert.Equal(t, len(`{"raw":"00ff"}`), m["message_size_bytes"])
	assert.IsType(t, float64(0), m["processing_time_ms"])
	assert.IsType(t, int64(0), m["timestamp"])

	assert.Equal(t, []string{"send_rrc_setup", "rrc-1_success"}, results[0].NextSteps)
}

func TestExecute_LayerMetricsOverrideGeneric(t *testing.T) {
	h := newHarness(Config{})

	s := step("x", "X2AP", "HandoverRequest", domain.IEs{"layer": "custom", "cause": "radio"})

	results, err := h.orch.Execute(context.Background(), []domain.MessageFlowStep{s}, newFlow("s-d"))
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.True(t, results[0].Success)
	assert.Equal(t, "custom", results[0].Metrics["layer"])
	assert.Equal(t, "radio", results[0].Metrics["cause"])
	assert.Equal(t, []string{"x_success"}, results[0].NextSteps)
}

func TestExecute_EventSequence(t *testing.T) {
	h := newHarness(Config{})
	events := recordEvents(h.bus)

	steps := []domain.MessageFlowStep{
		step("1", domain.LayerPHY, "RAR", domain.IEs{"ta": 3}),
		step("2", domain.LayerMAC, "MAC_PDU", nil, "1"),
	}

	_, err := h.orch.Execute(context.Background(), steps, newFlow("s-events"))
	require.NoError(t, err)

	assert.Equal(t, []domain.EventType{
		domain.EventFlowStarted,
		domain.EventStepStarted, domain.EventStepSuccess, domain.EventStepCompleted,
		domain.EventStepStarted, domain.EventStepSuccess, domain.EventStepCompleted,
		domain.EventFlowCompleted,
	}, events.types())

	started := events.ofType(domain.EventFlowStarted)[0]
	assert.Len(t, started.Steps, 2)
	assert.Equal(t, "s-events", started.SessionID)

	completed := events.ofType(domain.EventFlowCompleted)[0]
	assert.Len(t, completed.Results, 2)
	require.NotNil(t, completed.Context)
	assert.Len(t, completed.Context.History(), 2)

	for _, e := range events.ofType(domain.EventStepCompleted) {
		require.NotNil(t, e.Step)
		require.NotNil(t, e.Result)
		assert.Equal(t, e.Step.StepID, e.Result.StepID)
	}
}

func TestExecute_FlowCompletedWhileRegistered(t *testing.T) {
	h := newHarness(Config{})

	var activeDuringEvent bool
	h.bus.On(domain.EventFlowCompleted, func(e domain.Event) {
		_, activeDuringEvent = h.registry.GetActiveFlow(e.SessionID)
	})

	_, err := h.orch.Execute(context.Background(),
		[]domain.MessageFlowStep{step("1", domain.LayerPHY, "PDSCH", nil)}, newFlow("s-reg"))
	require.NoError(t, err)

	assert.True(t, activeDuringEvent)
	_, active := h.registry.GetActiveFlow("s-reg")
	assert.False(t, active)
}

func TestExecute_ContextAccumulation(t *testing.T) {
	h := newHarness(Config{})
	fc := newFlow("s-ctx")

	steps := []domain.MessageFlowStep{
		step("1", domain.LayerPHY, "PRACH_Preamble", domain.IEs{"preamble_id": 1, "power": 10}),
		step("2", domain.LayerPHY, "PUSCH", domain.IEs{"power": 20, "mcs": 9}),
		step("3", domain.LayerRRC, "RRCSetup", domain.IEs{"rrc_transaction_id": 1}),
	}

	results, err := h.orch.Execute(context.Background(), steps, fc)
	require.NoError(t, err)

	history := fc.History()
	require.Len(t, history, len(steps))
	for i := range steps {
		assert.Equal(t, steps[i].StepID, history[i].Step.StepID)
		assert.Equal(t, results[i], history[i].Result)
	}

	state, ok := fc.LayerState(domain.LayerPHY, "PUSCH")
	require.True(t, ok)
	assert.Equal(t, "2", state.StepID)

	snap := fc.Snapshot()
	assert.Equal(t, 20, snap.PerformanceMetrics["power"])
	assert.Equal(t, 9, snap.PerformanceMetrics["mcs"])
	assert.Equal(t, "RRC", snap.PerformanceMetrics["layer"])
}

func TestExecute_ExpectedResponse(t *testing.T) {
	h := newHarness(Config{ResponseDelay: 5 * time.Millisecond})
	fc := newFlow("s-resp")

	s := step("req", domain.LayerRRC, "RRCSetupRequest", domain.IEs{"rrc_transaction_id": 2})
	s.ExpectedResponse = &domain.ExpectedResponse{
		MessageType:        "RRCSetup",
		Timeout:            1000,
		ValidationCriteria: domain.IEs{"rrc_transaction_id": 2},
	}

	results, err := h.orch.Execute(context.Background(), []domain.MessageFlowStep{s}, fc)
	require.NoError(t, err)
	require.Len(t, results, 1)

	resp := results[0].ResponseData
	require.NotNil(t, resp)
	assert.Equal(t, "RRCSetup", resp.MessageType)
	assert.True(t, resp.Success)
	assert.Equal(t, "req", resp.CorrelationID)
	assert.Equal(t, map[string]any{"rrc_transaction_id": 2}, resp.ResponseMetrics)
	assert.Equal(t, domain.IEs{"rrc_transaction_id": 2}, resp.ValidationCriteria)

	v, ok := fc.Variable("message_type")
	require.True(t, ok)
	assert.Equal(t, "RRCSetup", v)

	data, ok := fc.Variable("response_data")
	require.True(t, ok)
	assert.Equal(t, "req", data.(map[string]any)["correlation_id"])
}

func TestExecute_ResponseTimeout(t *testing.T) {
	h := newHarness(Config{ResponseDelay: 50 * time.Millisecond})

	s := step("req", domain.LayerSIP, "SIP_INVITE", nil)
	s.ExpectedResponse = &domain.ExpectedResponse{MessageType: "SIP_100_TRYING", Timeout: 5}
	next := step("next", domain.LayerSIP, "SIP_REGISTER", nil, "req")

	results, err := h.orch.Execute(context.Background(), []domain.MessageFlowStep{s, next}, newFlow("s-timeout"))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, domain.ErrResponseTimeout.Error())
	assert.Nil(t, results[0].ResponseData)
	assert.True(t, results[1].Success)
}

func TestExecute_UnserializablePayloadFailsStep(t *testing.T) {
	h := newHarness(Config{})

	s := step("bad", domain.LayerPDCP, "PDCP_Data_PDU", nil)
	s.DataPayload = make(chan int)

	results, err := h.orch.Execute(context.Background(), []domain.MessageFlowStep{s}, newFlow("s-payload"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "failed to serialize payload")
	assert.NotContains(t, results[0].Metrics, "message_size_bytes")
	assert.Contains(t, results[0].Metrics, "processing_time_ms")
}

func TestExecute_MalformedStepAborts(t *testing.T) {
	h := newHarness(Config{})
	events := recordEvents(h.bus)

	steps := []domain.MessageFlowStep{
		step("ok", domain.LayerPHY, "PDSCH", nil),
		step("broken", "", "Nothing", nil),
		step("never", domain.LayerPHY, "PDSCH", nil),
	}

	results, err := h.orch.Execute(context.Background(), steps, newFlow("s-abort"))
	require.Error(t, err)

	var abort *domain.FlowAbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, "broken", abort.StepID)
	assert.ErrorIs(t, err, domain.ErrMalformedStep)
	require.Len(t, results, 1)

	failed := events.ofType(domain.EventFlowFailed)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, domain.ErrMalformedStep)
	assert.Empty(t, events.ofType(domain.EventFlowCompleted))

	_, active := h.registry.GetActiveFlow("s-abort")
	assert.False(t, active)

	run, err := h.storage.GetRun(context.Background(), "s-abort")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Len(t, run.Results, 1)
	assert.NotEmpty(t, run.Error)
}

func TestExecute_DependencyTimeout(t *testing.T) {
	h := newHarness(Config{DependencyTimeout: 20 * time.Millisecond})
	events := recordEvents(h.bus)

	steps := []domain.MessageFlowStep{
		step("1", domain.LayerPHY, "PDSCH", nil),
		step("2", domain.LayerPHY, "PUSCH", nil, "1", "missing"),
	}

	start := time.Now()
	results, err := h.orch.Execute(context.Background(), steps, newFlow("s-dep"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	var timeout *domain.DependencyTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "2", timeout.StepID)
	assert.Equal(t, []string{"missing"}, timeout.Missing)
	assert.Len(t, results, 1)
	assert.Len(t, events.ofType(domain.EventFlowFailed), 1)
}

func TestExecute_StopFlow(t *testing.T) {
	h := newHarness(Config{})
	events := recordEvents(h.bus)

	started := make(chan struct{})
	var once sync.Once
	h.bus.On(domain.EventStepStarted, func(domain.Event) {
		once.Do(func() { close(started) })
	})

	slow := step("slow", domain.LayerNAS, "AuthenticationRequest", nil)
	slow.ProcessingDelay = 10_000
	steps := []domain.MessageFlowStep{slow, step("after", domain.LayerNAS, "RegistrationAccept", nil)}

	type outcome struct {
		results []domain.MessageFlowResult
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		results, err := h.orch.Execute(context.Background(), steps, newFlow("s-stop"))
		done <- outcome{results, err}
	}()

	<-started
	require.NoError(t, h.registry.StopFlow("s-stop"))

	select {
	case out := <-done:
		assert.ErrorIs(t, out.err, domain.ErrFlowStopped)
		assert.Empty(t, out.results)
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not observe stop")
	}

	assert.Len(t, events.ofType(domain.EventFlowStopped), 1)
	assert.Empty(t, events.ofType(domain.EventFlowFailed))
	assert.Empty(t, events.ofType(domain.EventFlowCompleted))

	run, err := h.storage.GetRun(context.Background(), "s-stop")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusStopped, run.Status)
}

func TestExecute_StopDuringDependencyWait(t *testing.T) {
	h := newHarness(Config{DependencyTimeout: 10 * time.Second})

	steps := []domain.MessageFlowStep{step("waiting", domain.LayerPHY, "PDSCH", nil, "later")}

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Execute(context.Background(), steps, newFlow("s-wait"))
		done <- err
	}()

	require.Eventually(t, func() bool {
		_, ok := h.registry.GetActiveFlow("s-wait")
		return ok
	}, time.Second, time.Millisecond)
	require.NoError(t, h.registry.StopFlow("s-wait"))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrFlowStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("dependency wait did not observe stop")
	}
}

func TestExecute_ParentCancellationAborts(t *testing.T) {
	h := newHarness(Config{})
	events := recordEvents(h.bus)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.Execute(ctx, []domain.MessageFlowStep{step("1", domain.LayerPHY, "PDSCH", nil)}, newFlow("s-cancel"))

	var abort *domain.FlowAbortError
	require.ErrorAs(t, err, &abort)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, events.ofType(domain.EventFlowFailed), 1)
}

func TestExecute_DuplicateSession(t *testing.T) {
	h := newHarness(Config{})
	events := recordEvents(h.bus)

	_, err := h.registry.Register(context.Background(), newFlow("dup"))
	require.NoError(t, err)

	_, err = h.orch.Execute(context.Background(), []domain.MessageFlowStep{step("1", domain.LayerPHY, "PDSCH", nil)}, newFlow("dup"))
	assert.ErrorIs(t, err, domain.ErrDuplicateSession)
	assert.Empty(t, events.ofType(domain.EventFlowStarted))
}

func TestExecute_PanickingObserverDoesNotBreakFlow(t *testing.T) {
	h := newHarness(Config{})
	h.bus.On(domain.EventStepStarted, func(domain.Event) { panic("observer bug") })

	var completed int
	h.bus.On(domain.EventStepCompleted, func(domain.Event) { completed++ })

	steps := []domain.MessageFlowStep{
		step("1", domain.LayerRLC, "RLC_Data_PDU", nil),
		step("2", domain.LayerRLC, "RLC_Control_PDU", nil),
	}

	results, err := h.orch.Execute(context.Background(), steps, newFlow("s-observer"))
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, completed)
}

func TestExecute_StoresCompletedRun(t *testing.T) {
	h := newHarness(Config{})

	_, err := h.orch.Execute(context.Background(),
		[]domain.MessageFlowStep{step("1", domain.LayerIMS, "IMS_Service_Route", nil)}, newFlow("s-run"))
	require.NoError(t, err)

	run, err := h.storage.GetRun(context.Background(), "s-run")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Len(t, run.Results, 1)
	assert.Len(t, run.Context.MessageHistory, 1)
	assert.False(t, run.CompletedAt.Before(run.StartedAt))
}

func TestAreDependenciesMet(t *testing.T) {
	attempted := map[string]struct{}{"a": {}, "b": {}}

	assert.True(t, AreDependenciesMet(domain.MessageFlowStep{}, attempted))
	assert.True(t, AreDependenciesMet(domain.MessageFlowStep{Dependencies: []string{"a", "b"}}, attempted))
	assert.False(t, AreDependenciesMet(domain.MessageFlowStep{Dependencies: []string{"a", "c"}}, attempted))
	assert.False(t, AreDependenciesMet(domain.MessageFlowStep{Dependencies: []string{"a"}}, nil))
}

func TestProperty_ResultsFollowInputOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)
	layers := []domain.Layer{
		domain.LayerPHY, domain.LayerMAC, domain.LayerRLC, domain.LayerPDCP,
		domain.LayerRRC, domain.LayerNAS, domain.LayerSIP, domain.LayerIMS, "OTHER",
	}

	properties.Property("one result per step in input order", prop.ForAll(
		func(layerIdx []int, depSeed []int) bool {
			h := newHarness(Config{})
			steps := make([]domain.MessageFlowStep, len(layerIdx))
			for i, li := range layerIdx {
				s := step(fmt.Sprintf("step-%d", i), layers[li], "Message", domain.IEs{"index": i})
				if i > 0 && i < len(depSeed) {
					s.Dependencies = []string{fmt.Sprintf("step-%d", depSeed[i]%i)}
				}
				steps[i] = s
			}

			fc := newFlow(fmt.Sprintf("prop-%d", len(steps)))
			results, err := h.orch.Execute(context.Background(), steps, fc)
			if err != nil || len(results) != len(steps) {
				return false
			}
			history := fc.History()
			if len(history) != len(steps) {
				return false
			}
			for i := range steps {
				if results[i].StepID != steps[i].StepID || history[i].Step.StepID != steps[i].StepID {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(8, gen.IntRange(0, len(layers)-1)),
		gen.SliceOfN(8, gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}

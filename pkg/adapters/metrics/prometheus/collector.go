package prometheus

import (
	"strconv"
	"time"

	"github.com/aescanero/msgflow/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	flowsStarted      prometheus.Counter
	flowsFinished     *prometheus.CounterVec
	flowDuration      *prometheus.HistogramVec
	stepsProcessed    *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec
	dependencyWait    prometheus.Histogram
	activeFlows       prometheus.Gauge
	queueDepth        prometheus.Gauge
	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector registered on reg.
// A nil registerer uses the default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		flowsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "msgflow_flows_started_total",
				Help: "Total number of flows started",
			},
		),
		flowsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msgflow_flows_finished_total",
				Help: "Total number of flows finished by terminal status",
			},
			[]string{"status"},
		),
		flowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "msgflow_flow_duration_seconds",
				Help:    "Flow execution duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		stepsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msgflow_steps_processed_total",
				Help: "Total number of message steps processed",
			},
			[]string{"layer", "success"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "msgflow_step_duration_seconds",
				Help:    "Message step processing duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"layer"},
		),
		dependencyWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "msgflow_dependency_wait_seconds",
				Help:    "Time a step spent waiting for its dependencies",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10},
			},
		),
		activeFlows: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "msgflow_active_flows",
				Help: "Number of currently active flows",
			},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "msgflow_queue_depth",
				Help: "Number of flows waiting for a worker",
			},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "msgflow_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "msgflow_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "msgflow_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// RecordFlowStarted counts a started flow
func (c *Collector) RecordFlowStarted() {
	c.flowsStarted.Inc()
}

// RecordFlowFinished counts a finished flow and observes its duration
func (c *Collector) RecordFlowFinished(status domain.RunStatus, duration time.Duration) {
	c.flowsFinished.WithLabelValues(string(status)).Inc()
	c.flowDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// RecordStep counts a processed step and observes its duration
func (c *Collector) RecordStep(layer domain.Layer, success bool, duration time.Duration) {
	c.stepsProcessed.WithLabelValues(string(layer), strconv.FormatBool(success)).Inc()
	c.stepDuration.WithLabelValues(string(layer)).Observe(duration.Seconds())
}

// RecordDependencyWait observes a dependency wait
func (c *Collector) RecordDependencyWait(duration time.Duration) {
	c.dependencyWait.Observe(duration.Seconds())
}

// SetActiveFlows sets the number of active flows
func (c *Collector) SetActiveFlows(count int) {
	c.activeFlows.Set(float64(count))
}

// SetQueueDepth sets the number of queued flows
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}

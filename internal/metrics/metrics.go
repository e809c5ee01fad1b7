package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeComplete labels pipeline runs that reached synthesis and returned an answer.
	OutcomeComplete = "complete"
	// OutcomeBlocked labels runs refused by the pre-flight safety check.
	OutcomeBlocked = "blocked"
	// OutcomeError labels runs that failed outside the contained retrieval scope.
	OutcomeError = "error"
)

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentra_triage",
			Name:      "pipeline_runs_total",
			Help:      "Total number of pipeline runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	pipelineDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sentra_triage",
			Name:      "pipeline_seconds",
			Help:      "End-to-end pipeline latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 4, 6, 10, 15, 20, 30, 60},
		},
	)

	gatePendingDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentra_triage",
			Name:      "llm_gate_pending",
			Help:      "Completion requests waiting behind the priority gate.",
		},
	)

	gateDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentra_triage",
			Name:      "llm_gate_dispatched_total",
			Help:      "Completion requests dispatched through the gate, by priority.",
		},
		[]string{"priority"},
	)

	queueAdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentra_triage",
			Name:      "queue_admissions_total",
			Help:      "Alert queue admission decisions, by outcome.",
		},
		[]string{"outcome"},
	)

	pollerCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentra_triage",
			Name:      "poller_cycles_total",
			Help:      "Auto-enqueue poller cycles executed.",
		},
	)

	pollerAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentra_triage",
			Name:      "poller_alerts_total",
			Help:      "Alerts handled by the poller, by disposition.",
		},
		[]string{"disposition"},
	)
)

// Register attaches sentra-triage collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pipelineRunsTotal,
		pipelineDurationSeconds,
		gatePendingDepth,
		gateDispatchedTotal,
		queueAdmissionsTotal,
		pollerCyclesTotal,
		pollerAlertsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObservePipelineRun records a pipeline run duration and outcome label.
func ObservePipelineRun(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeBlocked, OutcomeError:
	default:
		outcome = OutcomeComplete
	}
	pipelineRunsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	pipelineDurationSeconds.Observe(duration.Seconds())
}

// SetGatePending updates the pending-depth gauge for the completion gate.
func SetGatePending(depth int) {
	gatePendingDepth.Set(float64(depth))
}

// ObserveGateDispatch counts one request dispatched through the gate.
func ObserveGateDispatch(priority string) {
	gateDispatchedTotal.WithLabelValues(priority).Inc()
}

// ObserveQueueAdmission counts one admission decision (admitted, evicted, rejected, duplicate).
func ObserveQueueAdmission(outcome string) {
	queueAdmissionsTotal.WithLabelValues(outcome).Inc()
}

// ObservePollerCycle counts one poller cycle and its per-alert dispositions.
func ObservePollerCycle(matched, queued, skipped int) {
	pollerCyclesTotal.Inc()
	pollerAlertsTotal.WithLabelValues("matched").Add(float64(matched))
	pollerAlertsTotal.WithLabelValues("queued").Add(float64(queued))
	pollerAlertsTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// Package observability wires a running scheduler's event bus into
// Prometheus collectors: cycle duration, page/error counters, a
// fetchError event counter, and a live flow-context gauge, fed entirely
// from CycleSummary and the error
// events rather than by instrumenting user callbacks directly.
package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	scraperflow "github.com/m4w1s/scraperflow"
)

// Metrics is the Prometheus collector set for one scheduler instance.
type Metrics struct {
	logger *slog.Logger

	cyclesTotal     prometheus.Counter
	cyclesCompleted prometheus.Counter
	cycleDuration   prometheus.Histogram

	pagesFetched  prometheus.Counter
	pagesFailed   prometheus.Counter
	errorsTotal   prometheus.Counter
	retriesTotal  prometheus.Counter
	generalErrors prometheus.Counter

	flowContexts prometheus.GaugeFunc
}

// NewMetrics builds and registers the collector set against reg.
func NewMetrics(reg prometheus.Registerer, logger *slog.Logger) *Metrics {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Metrics{
		logger: logger.With("component", "observability"),
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraperflow_cycles_total",
			Help: "Total pagination cycles run.",
		}),
		cyclesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraperflow_cycles_completed_total",
			Help: "Cycles that reached a natural end within their fail budget.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scraperflow_cycle_duration_seconds",
			Help:    "Wall-clock duration of a cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		pagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraperflow_pages_fetched_total",
			Help: "Pages successfully fetched across all cycles.",
		}),
		pagesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraperflow_pages_failed_total",
			Help: "Pages that exhausted their retry budget.",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraperflow_errors_total",
			Help: "Fetch/resolve errors across all attempts, including retried ones.",
		}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraperflow_fetch_errors_total",
			Help: "fetchError events observed on the bus.",
		}),
		generalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraperflow_general_errors_total",
			Help: "generalError events observed on the bus (forced stops, interval/context-updater failures).",
		}),
	}

	reg.MustRegister(
		m.cyclesTotal,
		m.cyclesCompleted,
		m.cycleDuration,
		m.pagesFetched,
		m.pagesFailed,
		m.errorsTotal,
		m.retriesTotal,
		m.generalErrors,
	)

	return m
}

// Attach subscribes to sched's event bus so every future cycle updates
// these collectors. Call once per scheduler, before Start/StartOnce.
func (m *Metrics) Attach(sched *scraperflow.Scheduler) {
	sched.OnCycleSummary(func(s scraperflow.CycleSummary) {
		m.cyclesTotal.Inc()
		if s.Completed {
			m.cyclesCompleted.Inc()
		}
		m.cycleDuration.Observe(float64(s.Stats.Timings.Total) / 1000)
		m.pagesFetched.Add(float64(s.Stats.TotalPageCount))
		m.pagesFailed.Add(float64(len(s.Stats.FailedPageList)))
		m.errorsTotal.Add(float64(s.Stats.TotalErrorCount))
	})

	sched.OnFetchError(func(err error, page any) {
		m.retriesTotal.Inc()
		m.logger.Debug("fetch error observed", "page", page, "err", err)
	})

	sched.OnGeneralError(func(err error) {
		m.generalErrors.Inc()
		m.logger.Warn("general error observed", "err", err)
	})
}

// RegisterConcurrencyGauge adds a gauge reporting sched's live flow
// context count. Split from NewMetrics because it needs sched itself as a
// closure target, not just its event bus.
func (m *Metrics) RegisterConcurrencyGauge(reg prometheus.Registerer, sched *scraperflow.Scheduler) {
	m.flowContexts = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "scraperflow_flow_contexts",
		Help: "Current number of live flow contexts.",
	}, func() float64 {
		return float64(len(sched.FlowsContexts()))
	})
	reg.MustRegister(m.flowContexts)
}

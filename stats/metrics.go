package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dhcgn/mailsort/assort"
)

// Metrics holds the counters of one run. They are written once, as a
// Prometheus textfile, when the run ends.
type Metrics struct {
	registry *prometheus.Registry

	imported    *prometheus.CounterVec
	importBytes prometheus.Counter
	filed       *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	marked      *prometheus.CounterVec
	conflicts   *prometheus.CounterVec
	passes      prometheus.Gauge
	duration    prometheus.Gauge
	lastRun     *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		imported: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsort_import_messages_total",
				Help: "Messages seen while splitting the mbox, by outcome.",
			},
			[]string{"outcome"}, // outcome: "scanned", "filtered", "written", "duplicate", "error"
		),
		importBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailsort_import_bytes_total",
			Help: "Bytes written into the pool of new mail.",
		}),
		filed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsort_filed_messages_total",
				Help: "New messages filed, by folder.",
			},
			[]string{"folder"},
		),
		dropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsort_dropped_messages_total",
				Help: "New messages deleted, by reason.",
			},
			[]string{"reason"}, // reason: "duplicate-quirk", "verbatim-copy", "ignored"
		),
		marked: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsort_marked_messages_total",
				Help: "Filed messages with a presentation mark.",
			},
			[]string{"mark"}, // mark: "read", "flagged"
		),
		conflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsort_conflicts_total",
				Help: "Conflicts that aborted planning, by kind.",
			},
			[]string{"kind"},
		),
		passes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mailsort_thread_passes",
			Help: "Thread reconciliation passes of the last plan.",
		}),
		duration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mailsort_run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
		lastRun: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mailsort_last_run_timestamp_seconds",
				Help: "Unix time the last run finished, by status.",
			},
			[]string{"status"}, // status: "success", "failure"
		),
	}
}

func (m *Metrics) ObserveImport(s Summary) {
	m.imported.WithLabelValues("scanned").Add(float64(s.Scanned))
	m.imported.WithLabelValues("filtered").Add(float64(s.Filtered))
	m.imported.WithLabelValues("written").Add(float64(s.Written))
	m.imported.WithLabelValues("duplicate").Add(float64(s.Duplicates))
	m.imported.WithLabelValues("error").Add(float64(s.Errors))
	m.importBytes.Add(float64(s.Bytes))
}

func (m *Metrics) ObservePlan(s assort.Summary) {
	for folder, n := range s.Filed {
		m.filed.WithLabelValues(folder).Add(float64(n))
	}
	for reason, n := range s.Dropped {
		m.dropped.WithLabelValues(reason).Add(float64(n))
	}
	m.marked.WithLabelValues("read").Add(float64(s.Read))
	m.marked.WithLabelValues("flagged").Add(float64(s.Flagged))
	m.passes.Set(float64(s.Passes))
}

func (m *Metrics) ObserveConflicts(conflicts []assort.Conflict) {
	for _, c := range conflicts {
		m.conflicts.WithLabelValues(string(c.Kind)).Inc()
	}
}

func (m *Metrics) ObserveRun(started time.Time, err error) {
	m.duration.Set(time.Since(started).Seconds())
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.lastRun.WithLabelValues(status).SetToCurrentTime()
}

// WriteFile writes all metrics in the Prometheus text format. The file is
// replaced atomically.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

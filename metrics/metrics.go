package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"global_scheduler/scheduler"
)

// Metrics holds the Prometheus instrumentation for the scheduler. It
// implements the loop's metrics sink.
type Metrics struct {
	jobRuns       *prometheus.CounterVec
	tableRebuilds prometheus.Counter
	dstActive     prometheus.Gauge
	loopState     prometheus.Gauge
	triggerCount  prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		jobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Task executions by task name and outcome.",
		}, []string{"task", "success"}),
		tableRebuilds: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_table_rebuilds_total",
			Help: "Trigger table rebuilds, including DST-driven ones.",
		}),
		dstActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_us_dst_active",
			Help: "Whether US daylight saving time is currently active.",
		}),
		loopState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_loop_state",
			Help: "Loop lifecycle state (0 stopped, 1 bootstrapping, 2 running, 3 stopping).",
		}),
		triggerCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_triggers",
			Help: "Number of triggers currently in the table.",
		}),
	}
}

func (m *Metrics) JobRun(task string, success bool) {
	m.jobRuns.WithLabelValues(task, strconv.FormatBool(success)).Inc()
}

func (m *Metrics) TableRebuild() {
	m.tableRebuilds.Inc()
}

func (m *Metrics) SetDSTActive(active bool) {
	if active {
		m.dstActive.Set(1)
	} else {
		m.dstActive.Set(0)
	}
}

func (m *Metrics) SetLoopState(state scheduler.LoopState) {
	m.loopState.Set(float64(state))
}

func (m *Metrics) SetTriggerCount(n int) {
	m.triggerCount.Set(float64(n))
}

package http

import (
	"github.com/prometheus/client_golang/prometheus"
)

// guardCollector exposes protection state to Prometheus. Values come from
// live snapshots at scrape time, so the hot path carries no instrumentation.
type guardCollector struct {
	deps Deps

	openPositions  *prometheus.Desc
	dailyDrawdown  *prometheus.Desc
	lossStreak     *prometheus.Desc
	invalidated    *prometheus.Desc
	emergency      *prometheus.Desc
	cycles         *prometheus.Desc
	journalDropped *prometheus.Desc
	jobRuns        *prometheus.Desc
	jobErrors      *prometheus.Desc
	allocWeight    *prometheus.Desc
}

func newGuardCollector(deps Deps) *guardCollector {
	return &guardCollector{
		deps: deps,
		openPositions: prometheus.NewDesc(
			"alphaguard_open_positions",
			"Positions currently under management.",
			nil, nil),
		dailyDrawdown: prometheus.NewDesc(
			"alphaguard_daily_drawdown_ratio",
			"Worst floating drawdown seen today as a fraction of day-start balance.",
			nil, nil),
		lossStreak: prometheus.NewDesc(
			"alphaguard_consecutive_losses",
			"Current consecutive losing closes.",
			nil, nil),
		invalidated: prometheus.NewDesc(
			"alphaguard_invalidated_trades_total",
			"Entry requests rejected today.",
			nil, nil),
		emergency: prometheus.NewDesc(
			"alphaguard_emergency_active",
			"1 while the emergency lockdown is latched.",
			nil, nil),
		cycles: prometheus.NewDesc(
			"alphaguard_protection_cycles_total",
			"Completed protection cycles since start.",
			nil, nil),
		journalDropped: prometheus.NewDesc(
			"alphaguard_journal_dropped_total",
			"Journal records discarded because the queue was full.",
			nil, nil),
		jobRuns: prometheus.NewDesc(
			"alphaguard_scheduler_runs_total",
			"Scheduler job executions.",
			[]string{"job"}, nil),
		jobErrors: prometheus.NewDesc(
			"alphaguard_scheduler_errors_total",
			"Scheduler job executions that returned an error.",
			[]string{"job"}, nil),
		allocWeight: prometheus.NewDesc(
			"alphaguard_allocation_weight",
			"Capital weight assigned to an alpha at the last computation.",
			[]string{"alpha"}, nil),
	}
}

func (c *guardCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.openPositions
	ch <- c.dailyDrawdown
	ch <- c.lossStreak
	ch <- c.invalidated
	ch <- c.emergency
	ch <- c.cycles
	ch <- c.journalDropped
	ch <- c.jobRuns
	ch <- c.jobErrors
	ch <- c.allocWeight
}

func (c *guardCollector) Collect(ch chan<- prometheus.Metric) {
	risk := c.deps.Guard.Risk()

	ch <- prometheus.MustNewConstMetric(c.openPositions, prometheus.GaugeValue, float64(len(c.deps.Guard.Positions())))
	ch <- prometheus.MustNewConstMetric(c.dailyDrawdown, prometheus.GaugeValue, risk.DailyDrawdown)
	ch <- prometheus.MustNewConstMetric(c.lossStreak, prometheus.GaugeValue, float64(risk.ConsecutiveLosses))
	ch <- prometheus.MustNewConstMetric(c.invalidated, prometheus.CounterValue, float64(risk.InvalidatedTrades))

	emergency := 0.0
	if risk.EmergencyActive {
		emergency = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.emergency, prometheus.GaugeValue, emergency)
	ch <- prometheus.MustNewConstMetric(c.cycles, prometheus.CounterValue, float64(c.deps.Guard.Cycles()))

	if c.deps.Journal != nil {
		ch <- prometheus.MustNewConstMetric(c.journalDropped, prometheus.CounterValue, float64(c.deps.Journal.Dropped()))
	}
	if c.deps.Runner != nil {
		for _, job := range c.deps.Runner.Status().Jobs {
			ch <- prometheus.MustNewConstMetric(c.jobRuns, prometheus.CounterValue, float64(job.Runs), job.Name)
			ch <- prometheus.MustNewConstMetric(c.jobErrors, prometheus.CounterValue, float64(job.Errors), job.Name)
		}
	}
	if c.deps.Engine != nil {
		for _, alloc := range c.deps.Engine.Allocations() {
			ch <- prometheus.MustNewConstMetric(c.allocWeight, prometheus.GaugeValue, alloc.Allocation, alloc.AlphaID)
		}
	}
}

// newMetricsRegistry builds an isolated registry so scrapes see only the
// collector above, never global process metrics from other packages.
func newMetricsRegistry(deps Deps) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newGuardCollector(deps))
	return reg
}

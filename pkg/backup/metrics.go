package backup

import (
	"github.com/function61/peili/pkg/runjournal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
)

// writes node_exporter textfile collector -compatible metrics about the run that
// just finished. a private registry because the process-wide one carries Go runtime
// metrics that make no sense for a batch job's .prom file.
//
// no explicit sample timestamps: the textfile collector rejects those, so the last
// run's time travels as a regular gauge value instead.
func writeMetricsTextfile(path string, lastRun *runjournal.Run, journal *runjournal.Journal) error {
	allRuns, err := journal.List(0)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()

	// shorthand for new'ing, setting and registering
	gauge := func(name string, help string, value float64) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
		g.Set(value)
		registry.MustRegister(g)
	}

	lastRunOk := 0.0
	if lastRun.OK {
		lastRunOk = 1
	}

	gauge("peili_last_run_timestamp_seconds", "When the last run finished (unixtime)", float64(lastRun.Finished.Unix()))
	gauge("peili_last_run_duration_seconds", "How long the last run took", lastRun.Duration().Seconds())
	gauge("peili_last_run_ok", "1 if the last run succeeded, 0 if not", lastRunOk)
	gauge("peili_files_copied", "Files copied by the last run", float64(lastRun.FilesCopied))
	gauge("peili_bytes_copied", "Bytes copied by the last run", float64(lastRun.BytesCopied))

	runsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "peili_runs_total",
		Help: "All runs in the journal, by outcome",
	}, []string{"outcome"})
	registry.MustRegister(runsTotal)

	okRuns := lo.CountBy(allRuns, func(run runjournal.Run) bool { return run.OK })

	// Add() both so that also the zero-valued series exists from day one
	runsTotal.WithLabelValues("ok").Add(float64(okRuns))
	runsTotal.WithLabelValues("failed").Add(float64(len(allRuns) - okRuns))

	return prometheus.WriteToTextfile(path, registry)
}

// Package telemetry bootstraps tracing and stats export for the synchronizer.
package telemetry

import (
	"time"

	"go.viam.com/utils/perf"
)

// Options controls the telemetry exporter.
type Options struct {
	// ReportingInterval controls how often buffered stats are flushed.
	ReportingInterval time.Duration
}

// DefaultOptions returns the exporter options used when none are supplied.
func DefaultOptions() Options {
	return Options{ReportingInterval: time.Second}
}

// Init starts a development stats/trace exporter so the opencensus spans
// emitted by the adapter and engine packages are reported somewhere.
// Production deployments are expected to swap this for a real collector;
// that wiring is an external collaborator (base spec §1) and out of scope
// here.
func Init(opts Options) (perf.Exporter, error) {
	if opts.ReportingInterval <= 0 {
		opts = DefaultOptions()
	}

	exporter := perf.NewDevelopmentExporterWithOptions(perf.DevelopmentExporterOptions{
		ReportingInterval: opts.ReportingInterval,
	})
	if err := exporter.Start(); err != nil {
		return nil, err
	}

	return exporter, nil
}

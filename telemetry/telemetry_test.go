package telemetry

import (
	"testing"
	"time"

	"go.viam.com/test"
)

func TestInitAppliesDefaultsAndStarts(t *testing.T) {
	exporter, err := Init(Options{})
	test.That(t, err, test.ShouldBeNil)
	defer exporter.Stop()
}

func TestInitHonorsExplicitReportingInterval(t *testing.T) {
	exporter, err := Init(Options{ReportingInterval: 5 * time.Millisecond})
	test.That(t, err, test.ShouldBeNil)
	defer exporter.Stop()
}

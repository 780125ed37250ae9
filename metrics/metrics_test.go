package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.viam.com/test"
)

func TestEveryInstrumentCarriesNamespacePrefix(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)
	r.PacketsReceivedTotal.WithLabelValues("cam0").Inc()
	r.WindowSizeMs.Set(0.05)

	families, err := reg.Gather()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(families) > 0, test.ShouldBeTrue)

	for _, f := range families {
		test.That(t, f.GetName()[:len(namespace)+1], test.ShouldEqual, namespace+"_")
	}
}

func TestPacketsReceivedIncrementsPerSensor(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)
	r.PacketsReceivedTotal.WithLabelValues("lidar0").Inc()
	r.PacketsReceivedTotal.WithLabelValues("lidar0").Inc()

	m := &dto.Metric{}
	test.That(t, r.PacketsReceivedTotal.WithLabelValues("lidar0").Write(m), test.ShouldBeNil)
	test.That(t, m.GetCounter().GetValue(), test.ShouldEqual, 2.0)
}

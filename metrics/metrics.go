// Package metrics wires the Prometheus surface named in base spec §6: every
// counter, gauge, and histogram the sync engine and its adapters report,
// prefixed carla_syncer_. Grounded on the vector-registration and fq-name
// pattern of the teacher corpus's PrometheusProvider
// (99souls-ariadne/engine/telemetry/metrics/prometheus.go), simplified to
// concrete named instruments since base spec §6 fixes the metric set.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "carla_syncer"

// Registry holds every instrument the synchronizer reports. A Registry is
// safe for concurrent use; the underlying CounterVec/GaugeVec/HistogramVec
// types handle their own locking.
type Registry struct {
	PacketsReceivedTotal          *prometheus.CounterVec
	PacketsDroppedTotal           *prometheus.CounterVec
	QueueSize                     *prometheus.GaugeVec
	FramesTotal                   *prometheus.CounterVec
	BufferDepth                   *prometheus.GaugeVec
	SyncLatencySeconds            prometheus.Histogram
	KFResidual                    *prometheus.GaugeVec
	TimeOffsetMs                  *prometheus.GaugeVec
	OutOfOrderTotal               *prometheus.CounterVec
	WindowSizeMs                  prometheus.Gauge
	MotionIntensity               prometheus.Gauge
	FramesWithMissingSensorsTotal prometheus.Counter
	SensorsMissing                *prometheus.GaugeVec
}

// New constructs a Registry and registers every instrument with reg. If reg
// is nil, prometheus.NewRegistry() is used; callers that want the global
// default registry should pass prometheus.DefaultRegisterer-compatible
// *prometheus.Registry explicitly.
func New(reg *prometheus.Registry) *Registry {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := &Registry{
		PacketsReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_received_total", Help: "Total packets received per sensor.",
		}, []string{"sensor_id"}),
		PacketsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_dropped_total", Help: "Total packets dropped per sensor and stage.",
		}, []string{"sensor_id", "stage"}),
		QueueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_size", Help: "Current per-sensor adapter channel occupancy.",
		}, []string{"sensor_id"}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_total", Help: "Total frame-selection outcomes by status.",
		}, []string{"status"}),
		BufferDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "buffer_depth", Help: "Current retained packet count per sensor buffer.",
		}, []string{"sensor_id"}),
		SyncLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sync_latency_seconds", Help: "Time from reference packet push to frame emission.",
			Buckets: prometheus.DefBuckets,
		}),
		KFResidual: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "kf_residual", Help: "Most recent AdaKF innovation per sensor.",
		}, []string{"sensor_id"}),
		TimeOffsetMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "time_offset_ms", Help: "Current AdaKF offset estimate per sensor, milliseconds.",
		}, []string{"sensor_id"}),
		OutOfOrderTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "out_of_order_total", Help: "Total out-of-order arrivals per sensor.",
		}, []string{"sensor_id"}),
		WindowSizeMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "window_size_ms", Help: "Current motion-adaptive synchronization window.",
		}),
		MotionIntensity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "motion_intensity", Help: "Current dimensionless motion intensity in [0,1].",
		}),
		FramesWithMissingSensorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_with_missing_sensors_total", Help: "Total emitted frames with at least one missing required sensor.",
		}),
		SensorsMissing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sensors_missing", Help: "1 if sensor_id was missing from the most recent frame, else 0.",
		}, []string{"sensor_id"}),
	}

	reg.MustRegister(
		r.PacketsReceivedTotal,
		r.PacketsDroppedTotal,
		r.QueueSize,
		r.FramesTotal,
		r.BufferDepth,
		r.SyncLatencySeconds,
		r.KFResidual,
		r.TimeOffsetMs,
		r.OutOfOrderTotal,
		r.WindowSizeMs,
		r.MotionIntensity,
		r.FramesWithMissingSensorsTotal,
		r.SensorsMissing,
	)

	return r
}

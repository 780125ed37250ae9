// Package adapter implements the Sensor Adapter described in base spec
// §4.1: a per-sensor callback receiver that parses a foreign payload into
// an owned packet.SensorPacket and enqueues it onto a bounded channel under
// a configurable backpressure policy. An Adapter's callback is invoked by a
// foreign runtime thread (base spec §5) and must never block.
package adapter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	goutils "go.viam.com/utils"
	"go.uber.org/zap"

	"github.com/carla-syncer/syncer/metrics"
	"github.com/carla-syncer/syncer/packet"
)

// DropPolicy decides what happens to an incoming sample when an adapter's
// outbound channel is full.
type DropPolicy int

const (
	// DropNewest rejects the incoming sample, keeping everything already
	// queued. This is the default (base spec §4.1).
	DropNewest DropPolicy = iota
	// DropOldest evicts the head of the queue to make room for the
	// incoming sample.
	DropOldest
	// Block suspends the callback until the channel has room. Permitted
	// only for tests; using it in production is a defect because it can
	// stall the simulator's callback thread (base spec §4.1).
	Block
)

// RawSample is the foreign, borrow-lifetime sample handed to an Adapter's
// callback. Its Bytes (and any byte-backed fields) are valid only for the
// duration of the callback; Adapter copies whatever it needs before
// returning, per the eager-copy design note in base spec §9.
type RawSample struct {
	Timestamp float64
	FrameID   int64

	// Camera/Lidar/Radar geometry and raw bytes. Unused by IMU/GNSS.
	Bytes          []byte
	Width, Height  int
	Format         packet.PixelFormat
	PointCount     int
	Stride         int
	DetectionCount int

	// IMU/GNSS already arrive as fixed-size fields; no byte parsing needed
	// for them (base spec §4.1).
	IMU  packet.IMUPayload
	GNSS packet.GNSSPayload
}

// Source is the foreign sensor source an Adapter binds a callback to.
// Implementations are owned by the simulator integration layer; Adapter
// never calls into Source beyond registering its callback.
type Source interface {
	// RegisterCallback arranges for cb to be invoked synchronously, once
	// per new sample, by the source's own thread. cb must not block.
	RegisterCallback(cb func(RawSample)) error
}

// Config parameterizes one Adapter.
type Config struct {
	SensorID        string
	Type            packet.SensorType
	ChannelCapacity int
	DropPolicy      DropPolicy
	// Metrics, if non-nil, receives queue_size{sensor_id} updates on every
	// enqueue attempt (base spec §6). Optional; adapters used only in tests
	// may leave it nil.
	Metrics *metrics.Registry
}

// Adapter owns one bounded outbound channel for one sensor.
type Adapter struct {
	cfg    Config
	logger *zap.SugaredLogger

	out    chan packet.SensorPacket
	stopCh chan struct{}
	closed int32

	droppedCount int64
	parseErrors  int64
}

// Start registers source's callback and returns a running Adapter. The
// caller is responsible for invoking Stop() on shutdown.
func Start(cfg Config, source Source, logger *zap.SugaredLogger) (*Adapter, error) {
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = 1
	}
	a := &Adapter{
		cfg:    cfg,
		logger: logger,
		out:    make(chan packet.SensorPacket, cfg.ChannelCapacity),
		stopCh: make(chan struct{}),
	}
	if err := source.RegisterCallback(a.onSample); err != nil {
		return nil, errors.Wrapf(err, "registering adapter callback for sensor %q", cfg.SensorID)
	}
	return a, nil
}

// Receiver returns the channel onto which parsed packets are enqueued. It
// is closed when Stop is called.
func (a *Adapter) Receiver() <-chan packet.SensorPacket { return a.out }

// DroppedCount returns the number of samples discarded by the backpressure
// policy.
func (a *Adapter) DroppedCount() int64 { return atomic.LoadInt64(&a.droppedCount) }

// ParseErrorCount returns the number of samples discarded because they
// failed to parse or failed packet validation.
func (a *Adapter) ParseErrorCount() int64 { return atomic.LoadInt64(&a.parseErrors) }

// Stop closes the adapter's outbound channel. Subsequent callback
// invocations are silently ignored, per base spec §4.1 ("channel-closed
// means downstream shutdown — the adapter stops enqueuing").
func (a *Adapter) Stop() {
	if atomic.CompareAndSwapInt32(&a.closed, 0, 1) {
		close(a.stopCh)
		close(a.out)
	}
}

// onSample is the callback registered with Source. It must complete
// synchronously and never block, per base spec §4.1.
func (a *Adapter) onSample(raw RawSample) {
	if atomic.LoadInt32(&a.closed) == 1 {
		return
	}

	_, span := trace.StartSpan(context.Background(), "carlasyncer::adapter::onSample")
	defer span.End()

	pkt, err := a.parse(raw)
	if err != nil {
		atomic.AddInt64(&a.parseErrors, 1)
		a.reportDropped("parse_error")
		a.logger.Warnw("adapter parse error", "sensor_id", a.cfg.SensorID, "error", err)
		return
	}
	if err := pkt.Validate(); err != nil {
		atomic.AddInt64(&a.parseErrors, 1)
		a.reportDropped("parse_error")
		a.logger.Warnw("adapter packet failed validation", "sensor_id", a.cfg.SensorID, "error", err)
		return
	}

	a.enqueue(pkt)
}

// parse implements the per-type parsing rules of base spec §4.1: camera
// copies raw pixel bytes; lidar interprets an interleaved {x,y,z,intensity}
// buffer; imu/gnss copy fixed-size fields; radar copies a
// detection-count-strided buffer.
func (a *Adapter) parse(raw RawSample) (packet.SensorPacket, error) {
	base := packet.SensorPacket{
		SensorID:  a.cfg.SensorID,
		Type:      a.cfg.Type,
		Timestamp: raw.Timestamp,
		FrameID:   raw.FrameID,
	}

	switch a.cfg.Type {
	case packet.Camera:
		buf := make([]byte, len(raw.Bytes))
		copy(buf, raw.Bytes)
		base.Payload = packet.Payload{
			Kind: packet.Camera,
			Image: packet.ImagePayload{
				Width: raw.Width, Height: raw.Height, Format: raw.Format, Bytes: buf,
			},
		}
	case packet.Lidar:
		buf := make([]byte, len(raw.Bytes))
		copy(buf, raw.Bytes)
		base.Payload = packet.Payload{
			Kind: packet.Lidar,
			PointCloud: packet.PointCloudPayload{
				PointCount: raw.PointCount, Stride: raw.Stride, Bytes: buf,
			},
		}
	case packet.IMU:
		base.Payload = packet.Payload{Kind: packet.IMU, IMU: raw.IMU}
	case packet.GNSS:
		base.Payload = packet.Payload{Kind: packet.GNSS, GNSS: raw.GNSS}
	case packet.Radar:
		buf := make([]byte, len(raw.Bytes))
		copy(buf, raw.Bytes)
		base.Payload = packet.Payload{
			Kind: packet.Radar,
			Radar: packet.RadarPayload{
				DetectionCount: raw.DetectionCount, Bytes: buf,
			},
		}
	default:
		return packet.SensorPacket{}, errors.Errorf("adapter: sensor %q has unsupported type %v", a.cfg.SensorID, a.cfg.Type)
	}

	return base, nil
}

// enqueue applies the configured DropPolicy. It never blocks except under
// Block, which is only safe in tests.
func (a *Adapter) enqueue(pkt packet.SensorPacket) {
	defer a.reportQueueSize()
	switch a.cfg.DropPolicy {
	case Block:
		select {
		case a.out <- pkt:
		case <-a.stopCh:
		}
		return
	case DropOldest:
		select {
		case a.out <- pkt:
			return
		default:
		}
		select {
		case <-a.out:
			atomic.AddInt64(&a.droppedCount, 1)
			a.reportDropped("backpressure")
		default:
		}
		select {
		case a.out <- pkt:
		default:
			atomic.AddInt64(&a.droppedCount, 1)
			a.reportDropped("backpressure")
		}
	default: // DropNewest
		select {
		case a.out <- pkt:
		default:
			atomic.AddInt64(&a.droppedCount, 1)
			a.reportDropped("backpressure")
		}
	}
}

// reportQueueSize publishes the current outbound channel occupancy as
// queue_size{sensor_id} (base spec §6), distinct from the engine-side
// buffer_depth metric which tracks post-selection retention.
func (a *Adapter) reportQueueSize() {
	if a.cfg.Metrics == nil {
		return
	}
	a.cfg.Metrics.QueueSize.WithLabelValues(a.cfg.SensorID).Set(float64(len(a.out)))
}

// reportDropped publishes one packets_dropped_total{sensor_id,stage}
// increment (base spec §6), covering every discard stage named in base
// spec §7: backpressure (channel full) and parse_error (failed parse or
// packet validation).
func (a *Adapter) reportDropped(stage string) {
	if a.cfg.Metrics == nil {
		return
	}
	a.cfg.Metrics.PacketsDroppedTotal.WithLabelValues(a.cfg.SensorID, stage).Inc()
}

// Validate polls for a first sample for up to maxTimeout, failing
// construction if the source never produces one (base spec §12
// "Startup sensor validation", grounded on the teacher's
// ValidateGetLidarData/ValidateGetIMUData). The sample consumed during
// validation is not forwarded to the multiplexer; Validate must run before
// the adapter's Receiver() is wired into ingestion.
func Validate(ctx context.Context, a *Adapter, maxTimeout, pollInterval time.Duration, logger *zap.SugaredLogger) error {
	ctx, span := trace.StartSpan(ctx, "carlasyncer::adapter::Validate")
	defer span.End()

	startTime := time.Now()
	for {
		select {
		case _, ok := <-a.Receiver():
			if ok {
				return nil
			}
			return errors.Errorf("adapter validate: sensor %q receiver closed before any sample arrived", a.cfg.SensorID)
		default:
		}

		if time.Since(startTime) >= maxTimeout {
			return errors.Errorf("adapter validate: sensor %q timed out waiting for first sample after %s", a.cfg.SensorID, maxTimeout)
		}

		logger.Debugw("adapter validate: no sample yet", "sensor_id", a.cfg.SensorID)
		if !goutils.SelectContextOrWait(ctx, pollInterval) {
			return ctx.Err()
		}
	}
}

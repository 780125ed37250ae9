// Package engine implements the Frame Selector and Sync Engine Core of base
// spec §4.6–4.7: the state machine that owns every per-sensor buffer and
// AdaKF offset estimator, assembles temporally aligned SyncedFrames, and
// applies the missing-data and backpressure policies.
package engine

import (
	"context"
	"time"

	"go.opencensus.io/trace"
	"go.uber.org/zap"

	"github.com/carla-syncer/syncer/buffer"
	"github.com/carla-syncer/syncer/config"
	"github.com/carla-syncer/syncer/kalman"
	"github.com/carla-syncer/syncer/metrics"
	"github.com/carla-syncer/syncer/packet"
	"github.com/carla-syncer/syncer/window"
)

// SyncedPacket is one sensor's contribution to an emitted SyncedFrame.
type SyncedPacket struct {
	Packet             packet.SensorPacket
	CorrectedTimestamp float64
	Interpolated       bool
	TimeDelta          float64
}

// SyncMeta is the frame-level bookkeeping of base spec §3.
type SyncMeta struct {
	ReferenceSensorID string
	WindowSizeS       float64
	MotionIntensity   float64
	TimeOffsets       map[string]float64
	KFResiduals       map[string]float64
	MissingSensors    map[string]bool
	DroppedCount      int64
	OutOfOrderCount   int64
}

// SyncedFrame is the engine's output unit, base spec §3.
type SyncedFrame struct {
	TSync   float64
	FrameID int64
	Frames  map[string]SyncedPacket
	Meta    SyncMeta
}

// candidate is one non-reference sensor's selected (or interpolated) packet
// for the frame currently being assembled.
type candidate struct {
	pkt          packet.SensorPacket
	interpolated bool
}

// Engine is the sync worker's state: every per-sensor buffer, every
// non-reference sensor's AdaKF, and the motion-adaptive window calculator.
// An Engine is owned exclusively by one goroutine (base spec §5); it holds
// no locks and performs no I/O.
type Engine struct {
	cfg     *config.Config
	logger  *zap.SugaredLogger
	metrics *metrics.Registry

	buffers map[string]*buffer.SensorBuffer
	kfs     map[string]*kalman.OffsetEstimator
	win     *window.Calculator

	out chan *SyncedFrame

	nextFrameID   int64
	haveLastTSync bool
	lastTSync     float64

	prevOutOfOrder map[string]int64

	// refArrivalTimes records the wall-clock time each reference packet
	// was pushed, keyed by its timestamp (unique among retained reference
	// packets since t_sync is strictly increasing across emissions). Used
	// to populate sync_latency_seconds (base spec §6) at emission time;
	// entries are removed on emission or on a dropped reference candidate.
	refArrivalTimes map[float64]time.Time

	receivedCount           int64
	droppedTotal            int64
	outOfOrderTotalAll      int64
	emittedCount            int64
	emittedWithMissingCount int64
}

// New constructs an Engine. nonReferenceSensors is the set of required
// sensors other than cfg.ReferenceSensorID (config.Config.Validate returns
// exactly this set).
func New(cfg *config.Config, nonReferenceSensors []string, mreg *metrics.Registry, logger *zap.SugaredLogger, outCapacity int) *Engine {
	e := &Engine{
		cfg:             cfg,
		logger:          logger,
		metrics:         mreg,
		buffers:         make(map[string]*buffer.SensorBuffer),
		kfs:             make(map[string]*kalman.OffsetEstimator),
		win:             window.New(window.Config{MinWindowS: cfg.Window.MinMs / 1000, MaxWindowS: cfg.Window.MaxMs / 1000}),
		out:             make(chan *SyncedFrame, outCapacity),
		prevOutOfOrder:  make(map[string]int64),
		refArrivalTimes: make(map[float64]time.Time),
	}

	bufCfg := buffer.Config{MaxSize: cfg.Buffer.MaxSize, TimeoutS: cfg.Buffer.TimeoutS}
	e.buffers[cfg.ReferenceSensorID] = buffer.New(bufCfg)
	for _, id := range nonReferenceSensors {
		e.buffers[id] = buffer.New(bufCfg)
		e.kfs[id] = kalman.New(kalman.Config{
			InitialOffset:    cfg.AdaKF.InitialOffset,
			ProcessNoise:     cfg.AdaKF.ProcessNoise,
			MeasurementNoise: cfg.AdaKF.MeasurementNoise,
			ResidualWindow:   cfg.AdaKF.ResidualWindow,
			JumpSigma:        cfg.AdaKF.JumpSigma,
		})
	}
	return e
}

// Out returns the outbound channel of emitted frames.
func (e *Engine) Out() <-chan *SyncedFrame { return e.out }

// ReceivedCount, DroppedCount, OutOfOrderCount, and EmittedCount back the
// accounting invariant of base spec §8 property 3: nothing vanishes
// silently. Counts are scoped to required_sensors, per Open Question (b).
func (e *Engine) ReceivedCount() int64   { return e.receivedCount }
func (e *Engine) DroppedCount() int64    { return e.droppedTotal }
func (e *Engine) OutOfOrderCount() int64 { return e.outOfOrderTotalAll }
func (e *Engine) EmittedCount() int64    { return e.emittedCount }

// Push is the engine's single public entry point (base spec §4.7): it
// buffers pkt, attempts frame selection, and returns the emitted frame if
// one was produced. The same frame (if any) is also sent onto Out() with
// drop_oldest backpressure, so callers may use either the return value or
// the channel.
func (e *Engine) Push(pkt packet.SensorPacket) *SyncedFrame {
	_, span := trace.StartSpan(context.Background(), "carlasyncer::engine::Push")
	defer span.End()

	b, tracked := e.buffers[pkt.SensorID]
	if !tracked {
		// Only required_sensors participate in assembly (Open Question (b)).
		return nil
	}

	e.receivedCount++
	if e.metrics != nil {
		e.metrics.PacketsReceivedTotal.WithLabelValues(pkt.SensorID).Inc()
	}

	if e.haveLastTSync && pkt.Timestamp < e.lastTSync-e.cfg.Buffer.TimeoutS {
		e.bumpDropped(pkt.SensorID, "stale")
		return nil
	}

	if pkt.Type == packet.IMU && pkt.SensorID == e.cfg.IMUSensorID {
		e.win.Observe(pkt.Payload.IMU)
	}

	if !b.Push(pkt) {
		e.bumpDropped(pkt.SensorID, "overflow")
		return nil
	}
	e.bumpOutOfOrder(pkt.SensorID, b)

	if pkt.SensorID == e.cfg.ReferenceSensorID {
		e.refArrivalTimes[pkt.Timestamp] = time.Now()
	}

	if e.metrics != nil {
		e.metrics.BufferDepth.WithLabelValues(pkt.SensorID).Set(float64(b.Len()))
	}

	return e.trySelect()
}

func (e *Engine) bumpDropped(sensorID, stage string) {
	e.droppedTotal++
	if e.metrics != nil {
		e.metrics.PacketsDroppedTotal.WithLabelValues(sensorID, stage).Inc()
	}
}

func (e *Engine) bumpOutOfOrder(sensorID string, b *buffer.SensorBuffer) {
	prev := e.prevOutOfOrder[sensorID]
	cur := b.OutOfOrderCount()
	if cur <= prev {
		return
	}
	delta := cur - prev
	e.outOfOrderTotalAll += delta
	e.prevOutOfOrder[sensorID] = cur
	if e.metrics != nil {
		e.metrics.OutOfOrderTotal.WithLabelValues(sensorID).Add(float64(delta))
	}
}

// trySelect implements the Frame Selector of base spec §4.6.
// trySelect implements the Frame Selector of base spec §4.6. Beyond the
// base spec's literal "drop: abandon this attempt, leave reference in
// place" rule, a reference candidate that fails assembly under drop policy
// is discarded (not left indefinitely) once a strictly later reference
// packet is already queued behind it: a match it could make has, by
// definition, already passed, so holding it would head-of-line-block every
// later, matchable reference tick. The literal "leave in place" behavior
// still applies whenever the failing candidate is the sole one buffered.
func (e *Engine) trySelect() *SyncedFrame {
	refBuf := e.buffers[e.cfg.ReferenceSensorID]

	for {
		refPkt, ok := refBuf.Peek()
		if !ok {
			return nil
		}

		// Consecutive emissions must satisfy t_sync_new > t_sync_prev
		// (base spec §4.7); drop any reference candidate that would
		// violate this.
		if e.haveLastTSync && refPkt.Timestamp <= e.lastTSync {
			refBuf.Pop()
			delete(e.refArrivalTimes, refPkt.Timestamp)
			e.bumpDropped(e.cfg.ReferenceSensorID, "stale_reference")
			continue
		}

		windowS := e.win.Window()

		candidates := make(map[string]candidate)
		missing := make(map[string]bool)

		for sensorID, b := range e.buffers {
			if sensorID == e.cfg.ReferenceSensorID {
				continue
			}
			offset := e.offsetFor(sensorID)
			tTarget := refPkt.Timestamp + offset

			if cand, found := b.FindClosestInWindow(tTarget, windowS); found {
				candidates[sensorID] = candidate{pkt: cand}
				continue
			}

			if e.cfg.MissingStrategy == config.MissingInterpolate && sensorID == e.cfg.IMUSensorID {
				if interp, found := interpolateIMU(b, tTarget); found {
					candidates[sensorID] = candidate{pkt: interp, interpolated: true}
					continue
				}
			}
			missing[sensorID] = true
		}

		if len(missing) > 0 && e.cfg.MissingStrategy == config.MissingDrop {
			if refBuf.Len() > 1 {
				refBuf.Pop()
				delete(e.refArrivalTimes, refPkt.Timestamp)
				e.bumpDropped(e.cfg.ReferenceSensorID, "superseded")
				continue
			}
			if e.metrics != nil {
				e.metrics.FramesTotal.WithLabelValues("drop_missing").Inc()
			}
			return nil
		}

		return e.emit(refPkt, candidates, missing, windowS)
	}
}

func (e *Engine) offsetFor(sensorID string) float64 {
	if kf, ok := e.kfs[sensorID]; ok {
		return kf.Offset()
	}
	return 0
}

// emit assembles and publishes one SyncedFrame, per base spec §4.7 steps
// 5–7: pop the chosen packets, update AdaKFs, evict expired packets.
func (e *Engine) emit(refPkt packet.SensorPacket, candidates map[string]candidate, missing map[string]bool, windowS float64) *SyncedFrame {
	refBuf := e.buffers[e.cfg.ReferenceSensorID]
	refBuf.Pop()

	frames := make(map[string]SyncedPacket, len(candidates)+1)
	timeOffsets := make(map[string]float64, len(candidates))
	kfResiduals := make(map[string]float64, len(candidates))

	frames[refPkt.SensorID] = SyncedPacket{
		Packet:             refPkt,
		CorrectedTimestamp: refPkt.Timestamp,
		TimeDelta:          0,
	}

	for sensorID, cand := range candidates {
		offset := e.offsetFor(sensorID)
		tTarget := refPkt.Timestamp + offset

		frames[sensorID] = SyncedPacket{
			Packet:             cand.pkt,
			CorrectedTimestamp: cand.pkt.Timestamp - offset,
			Interpolated:       cand.interpolated,
			TimeDelta:          cand.pkt.Timestamp - tTarget,
		}

		if cand.interpolated {
			continue
		}

		if b, ok := e.buffers[sensorID]; ok {
			b.Remove(cand.pkt.Timestamp, cand.pkt.Seq)
		}
		if kf, ok := e.kfs[sensorID]; ok {
			newOffset, residual := kf.Update(cand.pkt.Timestamp - refPkt.Timestamp)
			timeOffsets[sensorID] = newOffset
			kfResiduals[sensorID] = residual
			if e.metrics != nil {
				e.metrics.TimeOffsetMs.WithLabelValues(sensorID).Set(newOffset * 1000)
				e.metrics.KFResidual.WithLabelValues(sensorID).Set(residual)
			}
		}
	}

	frameID := e.nextFrameID
	e.nextFrameID++

	motionIntensity := e.win.MotionIntensity()
	meta := SyncMeta{
		ReferenceSensorID: e.cfg.ReferenceSensorID,
		WindowSizeS:       windowS,
		MotionIntensity:   motionIntensity,
		TimeOffsets:       timeOffsets,
		KFResiduals:       kfResiduals,
		MissingSensors:    missing,
		DroppedCount:      e.droppedTotal,
		OutOfOrderCount:   e.outOfOrderTotalAll,
	}

	frame := &SyncedFrame{
		TSync:   refPkt.Timestamp,
		FrameID: frameID,
		Frames:  frames,
		Meta:    meta,
	}

	e.lastTSync = refPkt.Timestamp
	e.haveLastTSync = true
	e.emittedCount++

	if arrival, ok := e.refArrivalTimes[refPkt.Timestamp]; ok {
		if e.metrics != nil {
			e.metrics.SyncLatencySeconds.Observe(time.Since(arrival).Seconds())
		}
		delete(e.refArrivalTimes, refPkt.Timestamp)
	}

	if e.metrics != nil {
		e.metrics.FramesTotal.WithLabelValues("emitted").Inc()
		e.metrics.WindowSizeMs.Set(windowS * 1000)
		e.metrics.MotionIntensity.Set(motionIntensity)
	}
	if len(missing) > 0 {
		e.emittedWithMissingCount++
		if e.metrics != nil {
			e.metrics.FramesWithMissingSensorsTotal.Inc()
		}
	}
	if e.metrics != nil {
		// sensors_missing is a gauge reflecting current state: every
		// tracked non-reference sensor gets an explicit 0/1 each emission,
		// not just the ones missing from this particular frame, so a
		// sensor that recovers doesn't stay stuck at 1 forever.
		for id := range e.kfs {
			value := 0.0
			if missing[id] {
				value = 1.0
			}
			e.metrics.SensorsMissing.WithLabelValues(id).Set(value)
		}
	}

	for sensorID, b := range e.buffers {
		removed := b.EvictExpired(refPkt.Timestamp)
		if removed == 0 {
			continue
		}
		e.droppedTotal += int64(removed)
		if e.metrics != nil {
			e.metrics.PacketsDroppedTotal.WithLabelValues(sensorID, "eviction").Add(float64(removed))
		}
	}

	e.sendOut(frame)
	return frame
}

// sendOut applies the outbound drop_oldest backpressure policy of base
// spec §6.
func (e *Engine) sendOut(frame *SyncedFrame) {
	select {
	case e.out <- frame:
		return
	default:
	}
	select {
	case <-e.out:
	default:
	}
	select {
	case e.out <- frame:
	default:
	}
}

// interpolateIMU synthesizes an IMU sample at tTarget by linearly
// interpolating the two bracketing retained IMU packets, per base spec
// §4.4 and §4.6 step 4.
func interpolateIMU(b *buffer.SensorBuffer, tTarget float64) (packet.SensorPacket, bool) {
	snap := b.Snapshot()

	var before, after *packet.SensorPacket
	for i := range snap {
		p := &snap[i]
		if p.Timestamp <= tTarget {
			before = p
		}
		if p.Timestamp >= tTarget && after == nil {
			after = p
		}
	}
	if before == nil || after == nil || before.Timestamp == after.Timestamp {
		return packet.SensorPacket{}, false
	}

	frac := (tTarget - before.Timestamp) / (after.Timestamp - before.Timestamp)
	lerp := func(a, c float64) float64 { return a + frac*(c-a) }

	bIMU, aIMU := before.Payload.IMU, after.Payload.IMU
	imu := packet.IMUPayload{
		Accel: packet.Vector3{
			X: lerp(bIMU.Accel.X, aIMU.Accel.X),
			Y: lerp(bIMU.Accel.Y, aIMU.Accel.Y),
			Z: lerp(bIMU.Accel.Z, aIMU.Accel.Z),
		},
		Gyro: packet.Vector3{
			X: lerp(bIMU.Gyro.X, aIMU.Gyro.X),
			Y: lerp(bIMU.Gyro.Y, aIMU.Gyro.Y),
			Z: lerp(bIMU.Gyro.Z, aIMU.Gyro.Z),
		},
		Compass: lerp(bIMU.Compass, aIMU.Compass),
	}

	return packet.SensorPacket{
		SensorID:  before.SensorID,
		Type:      packet.IMU,
		Timestamp: tTarget,
		Payload:   packet.Payload{Kind: packet.IMU, IMU: imu},
	}, true
}

// Run drives the engine from a merged packet stream until in closes or ctx
// is done, then drains any already-queued packets for up to gracePeriod
// before closing Out(), generalizing the teacher's
// context-cancellation-driven background workers (base spec §12
// "Graceful shutdown draining").
func (e *Engine) Run(ctx context.Context, in <-chan packet.SensorPacket, gracePeriod time.Duration) {
	defer close(e.out)
	for {
		select {
		case pkt, ok := <-in:
			if !ok {
				return
			}
			e.Push(pkt)
		case <-ctx.Done():
			e.drain(in, gracePeriod)
			return
		}
	}
}

func (e *Engine) drain(in <-chan packet.SensorPacket, gracePeriod time.Duration) {
	deadline := time.Now().Add(gracePeriod)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		select {
		case pkt, ok := <-in:
			if !ok {
				return
			}
			e.Push(pkt)
		case <-time.After(remaining):
			return
		}
	}
}

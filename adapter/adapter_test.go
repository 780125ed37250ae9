package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
	"go.viam.com/test"

	"github.com/carla-syncer/syncer/metrics"
	"github.com/carla-syncer/syncer/packet"
)

// fakeSource is a Source whose RegisterCallback hands the test the callback
// so it can drive samples directly, mirroring the teacher's *Mock pattern
// of function-valued test doubles.
type fakeSource struct {
	cb func(RawSample)
}

func (s *fakeSource) RegisterCallback(cb func(RawSample)) error {
	s.cb = cb
	return nil
}

func testLogger() *zap.SugaredLogger {
	l, _ := zap.NewDevelopment()
	return l.Sugar()
}

func TestCameraParseAndEnqueue(t *testing.T) {
	src := &fakeSource{}
	a, err := Start(Config{SensorID: "cam0", Type: packet.Camera, ChannelCapacity: 4}, src, testLogger())
	test.That(t, err, test.ShouldBeNil)

	src.cb(RawSample{Timestamp: 0.1, Width: 2, Height: 1, Format: packet.RGB8, Bytes: make([]byte, 6)})

	pkt := <-a.Receiver()
	test.That(t, pkt.SensorID, test.ShouldEqual, "cam0")
	test.That(t, pkt.Timestamp, test.ShouldEqual, 0.1)
	test.That(t, pkt.Payload.Image.Width, test.ShouldEqual, 2)
	test.That(t, a.ParseErrorCount(), test.ShouldEqual, 0)
}

func TestBadGeometryCountsParseError(t *testing.T) {
	src := &fakeSource{}
	a, err := Start(Config{SensorID: "cam0", Type: packet.Camera, ChannelCapacity: 4}, src, testLogger())
	test.That(t, err, test.ShouldBeNil)

	src.cb(RawSample{Timestamp: 0.1, Width: 2, Height: 1, Format: packet.RGB8, Bytes: make([]byte, 3)})

	select {
	case <-a.Receiver():
		t.Fatal("expected no packet enqueued for bad geometry")
	default:
	}
	test.That(t, a.ParseErrorCount(), test.ShouldEqual, 1)
}

func TestDropNewestRejectsOnFullChannel(t *testing.T) {
	src := &fakeSource{}
	a, err := Start(Config{SensorID: "imu0", Type: packet.IMU, ChannelCapacity: 1, DropPolicy: DropNewest}, src, testLogger())
	test.That(t, err, test.ShouldBeNil)

	src.cb(RawSample{Timestamp: 0.0})
	src.cb(RawSample{Timestamp: 0.01})

	test.That(t, a.DroppedCount(), test.ShouldEqual, 1)
	pkt := <-a.Receiver()
	test.That(t, pkt.Timestamp, test.ShouldEqual, 0.0)
}

func TestDropOldestEvictsHead(t *testing.T) {
	src := &fakeSource{}
	a, err := Start(Config{SensorID: "imu0", Type: packet.IMU, ChannelCapacity: 1, DropPolicy: DropOldest}, src, testLogger())
	test.That(t, err, test.ShouldBeNil)

	src.cb(RawSample{Timestamp: 0.0})
	src.cb(RawSample{Timestamp: 0.01})

	test.That(t, a.DroppedCount(), test.ShouldEqual, 1)
	pkt := <-a.Receiver()
	test.That(t, pkt.Timestamp, test.ShouldEqual, 0.01)
}

func TestStopClosesReceiverAndIgnoresLateCallbacks(t *testing.T) {
	src := &fakeSource{}
	a, err := Start(Config{SensorID: "gnss0", Type: packet.GNSS, ChannelCapacity: 1}, src, testLogger())
	test.That(t, err, test.ShouldBeNil)

	a.Stop()
	src.cb(RawSample{Timestamp: 0.0}) // must not panic

	_, ok := <-a.Receiver()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestValidateSucceedsOnFirstSample(t *testing.T) {
	src := &fakeSource{}
	a, err := Start(Config{SensorID: "imu0", Type: packet.IMU, ChannelCapacity: 1}, src, testLogger())
	test.That(t, err, test.ShouldBeNil)

	go func() {
		time.Sleep(5 * time.Millisecond)
		src.cb(RawSample{Timestamp: 0.0})
	}()

	err = Validate(context.Background(), a, 500*time.Millisecond, 5*time.Millisecond, testLogger())
	test.That(t, err, test.ShouldBeNil)
}

func TestEnqueueReportsQueueSize(t *testing.T) {
	src := &fakeSource{}
	mreg := metrics.New(prometheus.NewRegistry())
	a, err := Start(Config{SensorID: "imu0", Type: packet.IMU, ChannelCapacity: 4, Metrics: mreg}, src, testLogger())
	test.That(t, err, test.ShouldBeNil)

	src.cb(RawSample{Timestamp: 0.0})
	src.cb(RawSample{Timestamp: 0.01})

	m := &dto.Metric{}
	test.That(t, mreg.QueueSize.WithLabelValues("imu0").Write(m), test.ShouldBeNil)
	test.That(t, m.GetGauge().GetValue(), test.ShouldEqual, 2.0)
}

func TestEnqueueReportsBackpressureDrop(t *testing.T) {
	src := &fakeSource{}
	mreg := metrics.New(prometheus.NewRegistry())
	a, err := Start(Config{SensorID: "imu0", Type: packet.IMU, ChannelCapacity: 1, DropPolicy: DropNewest, Metrics: mreg}, src, testLogger())
	test.That(t, err, test.ShouldBeNil)

	src.cb(RawSample{Timestamp: 0.0})
	src.cb(RawSample{Timestamp: 0.01})

	m := &dto.Metric{}
	test.That(t, mreg.PacketsDroppedTotal.WithLabelValues("imu0", "backpressure").Write(m), test.ShouldBeNil)
	test.That(t, m.GetCounter().GetValue(), test.ShouldEqual, 1.0)
}

func TestEnqueueReportsParseErrorDrop(t *testing.T) {
	src := &fakeSource{}
	mreg := metrics.New(prometheus.NewRegistry())
	a, err := Start(Config{SensorID: "cam0", Type: packet.Camera, ChannelCapacity: 4, Metrics: mreg}, src, testLogger())
	test.That(t, err, test.ShouldBeNil)

	src.cb(RawSample{Timestamp: 0.1, Width: 2, Height: 1, Format: packet.RGB8, Bytes: make([]byte, 3)})

	test.That(t, a.ParseErrorCount(), test.ShouldEqual, 1)
	m := &dto.Metric{}
	test.That(t, mreg.PacketsDroppedTotal.WithLabelValues("cam0", "parse_error").Write(m), test.ShouldBeNil)
	test.That(t, m.GetCounter().GetValue(), test.ShouldEqual, 1.0)
}

func TestValidateTimesOutWithoutData(t *testing.T) {
	src := &fakeSource{}
	a, err := Start(Config{SensorID: "imu0", Type: packet.IMU, ChannelCapacity: 1}, src, testLogger())
	test.That(t, err, test.ShouldBeNil)

	err = Validate(context.Background(), a, 20*time.Millisecond, 5*time.Millisecond, testLogger())
	test.That(t, err, test.ShouldNotBeNil)
}

package ingest

import (
	"context"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/carla-syncer/syncer/adapter"
	"github.com/carla-syncer/syncer/packet"
)

func pkt(sensorID string, ts float64) packet.SensorPacket {
	return packet.SensorPacket{SensorID: sensorID, Type: packet.GNSS, Timestamp: ts, Payload: packet.Payload{Kind: packet.GNSS}}
}

func TestMultiplexerPreservesPerSensorFIFO(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := make(chan packet.SensorPacket, 4)
	b := make(chan packet.SensorPacket, 4)

	m := NewMultiplexer(16)
	m.Add(ctx, a)
	m.Add(ctx, b)

	a <- pkt("a", 0.1)
	a <- pkt("a", 0.2)
	b <- pkt("b", 0.15)
	close(a)
	close(b)
	m.Wait()

	var aSeen []float64
	for p := range m.Out() {
		if p.SensorID == "a" {
			aSeen = append(aSeen, p.Timestamp)
		}
	}
	test.That(t, len(aSeen), test.ShouldEqual, 2)
	test.That(t, aSeen[0], test.ShouldEqual, 0.1)
	test.That(t, aSeen[1], test.ShouldEqual, 0.2)
}

func TestMultiplexerClosesOutOnceAllSourcesDrain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := make(chan packet.SensorPacket)
	m := NewMultiplexer(4)
	m.Add(ctx, a)
	close(a)
	m.Wait()

	_, ok := <-m.Out()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestMockSourceDeliversInListOrderRegardlessOfTimestamp(t *testing.T) {
	src := NewMockSource([]MockSample{
		{Raw: adapter.RawSample{Timestamp: 0.2}},
		{Raw: adapter.RawSample{Timestamp: 0.1}},
	})

	var delivered []float64
	test.That(t, src.RegisterCallback(func(raw adapter.RawSample) {
		delivered = append(delivered, raw.Timestamp)
	}), test.ShouldBeNil)

	src.Run(context.Background())

	test.That(t, len(delivered), test.ShouldEqual, 2)
	test.That(t, delivered[0], test.ShouldEqual, 0.2)
	test.That(t, delivered[1], test.ShouldEqual, 0.1)
}

func TestMockSourceHonorsDelay(t *testing.T) {
	src := NewMockSource([]MockSample{
		{Raw: adapter.RawSample{Timestamp: 0.0}},
		{Delay: 10 * time.Millisecond, Raw: adapter.RawSample{Timestamp: 0.01}},
	})

	var timestamps []float64
	src.RegisterCallback(func(raw adapter.RawSample) {
		timestamps = append(timestamps, raw.Timestamp)
	})

	start := time.Now()
	src.Run(context.Background())
	elapsed := time.Since(start)

	test.That(t, len(timestamps), test.ShouldEqual, 2)
	test.That(t, elapsed, test.ShouldBeGreaterThanOrEqualTo, 10*time.Millisecond)
}

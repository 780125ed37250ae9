// Package ingest implements the Ingestion Multiplexer of base spec §4.2:
// fan-in of N per-sensor receivers into a single stream feeding the sync
// engine. Per-sensor FIFO order is preserved; no cross-sensor ordering
// promise is made on the wire — the sync engine's per-sensor buffers
// (package buffer) reconstruct temporal alignment.
package ingest

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"

	"github.com/carla-syncer/syncer/packet"
)

// Multiplexer merges N per-sensor receivers into one bounded outbound
// channel.
type Multiplexer struct {
	out chan packet.SensorPacket
	wg  sync.WaitGroup
}

// NewMultiplexer constructs an empty Multiplexer with the given outbound
// channel capacity.
func NewMultiplexer(capacity int) *Multiplexer {
	return &Multiplexer{out: make(chan packet.SensorPacket, capacity)}
}

// Add attaches one sensor's receiver. A forwarding goroutine copies each
// packet onto the shared outbound channel, preserving that sensor's FIFO
// order, until recv closes or ctx is done.
func (m *Multiplexer) Add(ctx context.Context, recv <-chan packet.SensorPacket) {
	m.wg.Add(1)
	goutils.PanicCapturingGo(func() {
		defer m.wg.Done()
		for {
			select {
			case pkt, ok := <-recv:
				if !ok {
					return
				}
				select {
				case m.out <- pkt:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})
}

// Out returns the merged stream.
func (m *Multiplexer) Out() <-chan packet.SensorPacket { return m.out }

// Wait blocks until every attached forwarder has exited, then closes Out().
// Callers should only call Wait once every underlying adapter has been
// stopped (or ctx cancelled), so the merged stream's close signals genuine
// end-of-input to the sync worker (base spec §5).
func (m *Multiplexer) Wait() {
	m.wg.Wait()
	close(m.out)
}

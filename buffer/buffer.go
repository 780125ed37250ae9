// Package buffer implements the per-sensor, time-ordered packet container
// described in base spec §4.3: bounded, accepts out-of-order arrivals, and
// supports peek/pop/closest-in-window/evict. Buffers are owned exclusively
// by the sync worker goroutine (base spec §5) and are not safe for
// concurrent use.
package buffer

import (
	"container/heap"
	"sort"

	"github.com/carla-syncer/syncer/packet"
)

// DropPolicy decides which packet to discard when a full buffer receives a
// new arrival.
type DropPolicy int

const (
	// DropOldest evicts the earliest retained packet to make room.
	DropOldest DropPolicy = iota
	// DropNewest rejects the incoming packet.
	DropNewest
)

// entry is one retained packet plus its heap index, so evict-by-index can
// remove an arbitrary element in O(log n).
type entry struct {
	pkt   packet.SensorPacket
	index int
}

// orderedHeap orders entries by (timestamp, arrival sequence), giving
// stable tie-breaking per base spec §3.
type orderedHeap []*entry

func (h orderedHeap) Len() int { return len(h) }
func (h orderedHeap) Less(i, j int) bool {
	if h[i].pkt.Timestamp != h[j].pkt.Timestamp {
		return h[i].pkt.Timestamp < h[j].pkt.Timestamp
	}
	return h[i].pkt.Seq < h[j].pkt.Seq
}
func (h orderedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *orderedHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *orderedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// SensorBuffer is a bounded, time-ordered container for one sensor's
// packets.
type SensorBuffer struct {
	maxSize    int
	timeoutS   float64
	dropPolicy DropPolicy

	h   orderedHeap
	seq uint64

	droppedCount    int64
	outOfOrderCount int64
	maxRetainedTs   float64
	haveMaxRetained bool
}

// Config parameterizes a new SensorBuffer.
type Config struct {
	MaxSize    int
	TimeoutS   float64
	DropPolicy DropPolicy
}

// New constructs an empty SensorBuffer.
func New(cfg Config) *SensorBuffer {
	return &SensorBuffer{
		maxSize:    cfg.MaxSize,
		timeoutS:   cfg.TimeoutS,
		dropPolicy: cfg.DropPolicy,
	}
}

// Len returns the number of retained packets.
func (b *SensorBuffer) Len() int { return b.h.Len() }

// DroppedCount returns the number of packets dropped by overflow or
// eviction.
func (b *SensorBuffer) DroppedCount() int64 { return b.droppedCount }

// OutOfOrderCount returns the number of packets that arrived with a
// timestamp below the current retained maximum.
func (b *SensorBuffer) OutOfOrderCount() int64 { return b.outOfOrderCount }

// Push inserts pkt by key (timestamp, arrival-sequence), per base spec
// §4.3's push semantics. It assigns the packet its arrival sequence number.
// Returns false if the packet was rejected outright (drop_newest on a full
// buffer).
func (b *SensorBuffer) Push(pkt packet.SensorPacket) bool {
	b.seq++
	pkt.Seq = b.seq

	if b.haveMaxRetained && pkt.Timestamp < b.maxRetainedTs {
		b.outOfOrderCount++
	}

	if b.maxSize > 0 && b.h.Len() >= b.maxSize {
		switch b.dropPolicy {
		case DropOldest:
			b.popEarliest()
			b.droppedCount++
		case DropNewest:
			b.droppedCount++
			return false
		}
	}

	heap.Push(&b.h, &entry{pkt: pkt})
	if !b.haveMaxRetained || pkt.Timestamp > b.maxRetainedTs {
		b.maxRetainedTs = pkt.Timestamp
		b.haveMaxRetained = true
	}
	return true
}

// Peek returns the earliest retained packet without removing it.
func (b *SensorBuffer) Peek() (packet.SensorPacket, bool) {
	if b.h.Len() == 0 {
		return packet.SensorPacket{}, false
	}
	return b.h[0].pkt, true
}

// Pop removes and returns the earliest retained packet.
func (b *SensorBuffer) Pop() (packet.SensorPacket, bool) {
	if b.h.Len() == 0 {
		return packet.SensorPacket{}, false
	}
	e := heap.Pop(&b.h).(*entry)
	return e.pkt, true
}

func (b *SensorBuffer) popEarliest() {
	if b.h.Len() == 0 {
		return
	}
	heap.Pop(&b.h)
}

// Remove deletes the retained packet with the given (timestamp, seq) key,
// used by the frame selector to pop a non-reference candidate that is not
// necessarily at the head of the buffer.
func (b *SensorBuffer) Remove(timestamp float64, seq uint64) bool {
	for i, e := range b.h {
		if e.pkt.Timestamp == timestamp && e.pkt.Seq == seq {
			heap.Remove(&b.h, i)
			return true
		}
	}
	return false
}

// FindClosestInWindow returns the retained packet minimizing
// |timestamp - tTarget| among those within window/2 of tTarget, breaking
// ties by earlier arrival sequence, per base spec §4.3.
func (b *SensorBuffer) FindClosestInWindow(tTarget, window float64) (packet.SensorPacket, bool) {
	half := window / 2
	var best *packet.SensorPacket
	var bestDist float64
	var bestSeq uint64

	for _, e := range b.h {
		dist := e.pkt.Timestamp - tTarget
		if dist < 0 {
			dist = -dist
		}
		if dist > half {
			continue
		}
		if best == nil || dist < bestDist || (dist == bestDist && e.pkt.Seq < bestSeq) {
			p := e.pkt
			best = &p
			bestDist = dist
			bestSeq = e.pkt.Seq
		}
	}
	if best == nil {
		return packet.SensorPacket{}, false
	}
	return *best, true
}

// EvictExpired removes every packet with timestamp < now - timeout_s,
// incrementing droppedCount accordingly, per base spec §4.3.
func (b *SensorBuffer) EvictExpired(now float64) int {
	if b.timeoutS <= 0 {
		return 0
	}
	cutoff := now - b.timeoutS
	removed := 0
	for {
		if b.h.Len() == 0 {
			break
		}
		if b.h[0].pkt.Timestamp >= cutoff {
			break
		}
		heap.Pop(&b.h)
		removed++
	}
	b.droppedCount += int64(removed)
	return removed
}

// Snapshot returns every retained packet ordered by (timestamp, seq),
// primarily for tests asserting buffer ordering invariants.
func (b *SensorBuffer) Snapshot() []packet.SensorPacket {
	out := make([]packet.SensorPacket, len(b.h))
	for i, e := range b.h {
		out[i] = e.pkt
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

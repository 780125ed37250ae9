package ingest

import (
	"context"
	"time"

	goutils "go.viam.com/utils"

	"github.com/carla-syncer/syncer/adapter"
)

// MockSample is one scripted delivery: Raw is handed to the registered
// callback after waiting Delay since the previous delivery. A zero Delay on
// every sample gives the "offline" unthrottled replay mode of base spec
// §12 (grounded on the teacher's LidarDataRateMsec == 0 meaning "process
// every reading, no throttling").
type MockSample struct {
	Delay time.Duration
	Raw   adapter.RawSample
}

// MockSource is an adapter.Source that replays a fixed, programmable
// sequence of samples, per base spec §4.2: "a mock variant replays a fixed
// packet list at programmable inter-arrival intervals (including
// deliberate out-of-order injection) for deterministic testing." Ordering
// is whatever order Samples lists them in, independent of their Timestamp
// fields, so out-of-order arrival is produced simply by listing samples out
// of timestamp order.
type MockSource struct {
	Samples []MockSample
	cb      func(adapter.RawSample)
}

// NewMockSource constructs a MockSource that will replay samples in order.
func NewMockSource(samples []MockSample) *MockSource {
	return &MockSource{Samples: samples}
}

// RegisterCallback implements adapter.Source.
func (s *MockSource) RegisterCallback(cb func(adapter.RawSample)) error {
	s.cb = cb
	return nil
}

// Run delivers every sample in order on the calling goroutine, honoring
// each sample's Delay. It returns once every sample has been delivered or
// ctx is done.
func (s *MockSource) Run(ctx context.Context) {
	for _, sample := range s.Samples {
		if sample.Delay > 0 {
			if !goutils.SelectContextOrWait(ctx, sample.Delay) {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		if s.cb != nil {
			s.cb(sample.Raw)
		}
	}
}

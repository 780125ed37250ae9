package window

import (
	"testing"

	"go.viam.com/test"

	"github.com/carla-syncer/syncer/packet"
)

func TestNoIMUSampleUsesMaxWindow(t *testing.T) {
	c := New(Config{MinWindowS: 0.020, MaxWindowS: 0.100})
	test.That(t, c.Window(), test.ShouldEqual, 0.100)
	test.That(t, c.MotionIntensity(), test.ShouldEqual, 0.0)
}

func TestIntensityMapping(t *testing.T) {
	// intensity ≈ 0: stationary, no rotation.
	c := New(Config{MinWindowS: 0.020, MaxWindowS: 0.100})
	c.Observe(packet.IMUPayload{Accel: packet.Vector3{Z: 9.8}})
	test.That(t, c.MotionIntensity(), test.ShouldEqual, 0.0)
	test.That(t, c.Window(), test.ShouldEqual, 0.100)

	// high motion, per base spec §8 S6: linear_norm ≈ 1 plus angular_norm
	// 1 sums to ≈ 2, which clamps to exactly 1.
	c.Observe(packet.IMUPayload{Accel: packet.Vector3{Z: 9.8 + 5.0}, Gyro: packet.Vector3{Z: 1.0}})
	test.That(t, c.MotionIntensity(), test.ShouldEqual, 1.0)
	test.That(t, c.Window(), test.ShouldBeBetween, 0.0199, 0.0201)
}

func TestIntensityMonotonicallyShrinksWindow(t *testing.T) {
	c := New(Config{MinWindowS: 0.020, MaxWindowS: 0.100})

	levels := []float64{0, 0.25, 0.5, 0.75, 1.0}
	var prevWindow float64 = -1
	for _, level := range levels {
		// accel chosen so linear_norm alone equals `level`.
		c.Observe(packet.IMUPayload{Accel: packet.Vector3{Z: 9.8 + level*5.0}})
		w := c.Window()
		test.That(t, w, test.ShouldBeGreaterThanOrEqualTo, c.cfg.MinWindowS)
		test.That(t, w, test.ShouldBeLessThanOrEqualTo, c.cfg.MaxWindowS)
		if prevWindow >= 0 {
			test.That(t, w, test.ShouldBeLessThanOrEqualTo, prevWindow)
		}
		prevWindow = w
	}
}

func TestIntensityClampedAtOne(t *testing.T) {
	c := New(Config{MinWindowS: 0.020, MaxWindowS: 0.100})
	c.Observe(packet.IMUPayload{Accel: packet.Vector3{Z: 9.8 + 50.0}, Gyro: packet.Vector3{Z: 10.0}})
	test.That(t, c.MotionIntensity(), test.ShouldEqual, 1.0)
	test.That(t, c.Window(), test.ShouldEqual, 0.020)
}

// Package window implements the motion-adaptive synchronization window
// described in base spec §4.4: the most recent IMU sample drives a
// motion_intensity scalar, which in turn sizes the window Δt used by the
// frame selector.
package window

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/carla-syncer/syncer/packet"
)

const (
	// gravityMSS is the nominal stationary accelerometer magnitude used as
	// the linear-motion baseline.
	gravityMSS = 9.8
	// linearNormScale divides |accel - gravity| to produce linear_norm.
	linearNormScale = 5.0
	// angularNormScale divides |gyro| to produce angular_norm.
	angularNormScale = 1.0
)

// Config bounds the synchronization window.
type Config struct {
	MinWindowS float64
	MaxWindowS float64
}

// Calculator derives motion_intensity and Δt from the most recent IMU
// sample, per base spec §4.4.
type Calculator struct {
	cfg       Config
	haveIMU   bool
	lastAccel r3.Vector
	lastGyro  r3.Vector
}

// New constructs a Calculator. If either bound is zero, the corresponding
// default from base spec §6 applies.
func New(cfg Config) *Calculator {
	if cfg.MinWindowS == 0 {
		cfg.MinWindowS = 0.020
	}
	if cfg.MaxWindowS == 0 {
		cfg.MaxWindowS = 0.100
	}
	return &Calculator{cfg: cfg}
}

// Observe records the latest IMU sample so subsequent Window() calls use it.
func (c *Calculator) Observe(imu packet.IMUPayload) {
	c.lastAccel = r3.Vector{X: imu.Accel.X, Y: imu.Accel.Y, Z: imu.Accel.Z}
	c.lastGyro = r3.Vector{X: imu.Gyro.X, Y: imu.Gyro.Y, Z: imu.Gyro.Z}
	c.haveIMU = true
}

// MotionIntensity returns the current dimensionless motion intensity in
// [0, 1]. Absent any IMU sample, intensity is 0 (so Window() returns
// max_window, per base spec §4.4: "If no IMU sample yet, use max_window").
func (c *Calculator) MotionIntensity() float64 {
	if !c.haveIMU {
		return 0
	}
	linearMag := c.lastAccel.Norm()
	linearNorm := math.Abs(linearMag-gravityMSS) / linearNormScale

	angularMag := c.lastGyro.Norm()
	angularNorm := angularMag / angularNormScale

	intensity := linearNorm + angularNorm
	return clamp01(intensity)
}

// Window returns the synchronization window Δt in seconds, monotonically
// non-increasing in motion intensity, per base spec §4.4 and §8 invariant 6.
func (c *Calculator) Window() float64 {
	intensity := c.MotionIntensity()
	// Weighted form of max - intensity*(max-min) that hits both bounds
	// exactly at intensity 0 and 1.
	return c.cfg.MaxWindowS*(1-intensity) + c.cfg.MinWindowS*intensity
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

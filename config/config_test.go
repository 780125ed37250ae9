package config

import (
	"testing"

	"go.uber.org/zap"
	"go.viam.com/test"

	"github.com/carla-syncer/syncer/packet"
)

func validConfig() Config {
	return Config{
		ReferenceSensorID: "cam0",
		RequiredSensors:   []string{"cam0", "lidar0"},
		IMUSensorID:       "imu0",
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := validConfig()
		nonRef, err := cfg.Validate()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, nonRef, test.ShouldResemble, []string{"lidar0"})
	})

	t.Run("missing reference sensor", func(t *testing.T) {
		cfg := validConfig()
		cfg.ReferenceSensorID = ""
		_, err := cfg.Validate()
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("empty required sensors", func(t *testing.T) {
		cfg := validConfig()
		cfg.RequiredSensors = nil
		_, err := cfg.Validate()
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("reference sensor not in required set", func(t *testing.T) {
		cfg := validConfig()
		cfg.ReferenceSensorID = "radar0"
		_, err := cfg.Validate()
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("min window greater than max window", func(t *testing.T) {
		cfg := validConfig()
		cfg.Window = WindowConfig{MinMs: 200, MaxMs: 100}
		_, err := cfg.Validate()
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("collects multiple violations", func(t *testing.T) {
		cfg := Config{Window: WindowConfig{MinMs: 200, MaxMs: 100}}
		_, err := cfg.Validate()
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestApplyDefaults(t *testing.T) {
	logger := zap.NewNop().Sugar()
	cfg := validConfig()
	cfg.ApplyDefaults(logger)

	test.That(t, cfg.Window.MinMs, test.ShouldEqual, DefaultMinWindowMs)
	test.That(t, cfg.Window.MaxMs, test.ShouldEqual, DefaultMaxWindowMs)
	test.That(t, cfg.Buffer.MaxSize, test.ShouldEqual, DefaultBufferMaxSize)
	test.That(t, cfg.Buffer.TimeoutS, test.ShouldEqual, DefaultBufferTimeoutS)
	test.That(t, cfg.AdaKF.ProcessNoise, test.ShouldEqual, DefaultProcessNoise)
	test.That(t, cfg.AdaKF.MeasurementNoise, test.ShouldEqual, DefaultMeasurementNoise)
	test.That(t, cfg.AdaKF.ResidualWindow, test.ShouldEqual, DefaultResidualWindow)
	test.That(t, cfg.AdaKF.JumpSigma, test.ShouldEqual, DefaultJumpSigma)
	test.That(t, cfg.MissingStrategy, test.ShouldEqual, DefaultMissingStrategy)
}

func TestResolveIMUSensorIDAutoDetectsFromTypes(t *testing.T) {
	cfg := Config{
		ReferenceSensorID: "cam0",
		RequiredSensors:   []string{"cam0", "lidar0", "imu0"},
	}
	cfg.ResolveIMUSensorID(map[string]packet.SensorType{
		"cam0":   packet.Camera,
		"lidar0": packet.Lidar,
		"imu0":   packet.IMU,
	})
	test.That(t, cfg.IMUSensorID, test.ShouldEqual, "imu0")
}

func TestResolveIMUSensorIDLeavesExplicitValueAlone(t *testing.T) {
	cfg := Config{
		ReferenceSensorID: "cam0",
		RequiredSensors:   []string{"cam0", "imu0"},
		IMUSensorID:       "imu_override",
	}
	cfg.ResolveIMUSensorID(map[string]packet.SensorType{"cam0": packet.Camera, "imu0": packet.IMU})
	test.That(t, cfg.IMUSensorID, test.ShouldEqual, "imu_override")
}

func TestApplyDefaultsDoesNotOverrideSetValues(t *testing.T) {
	logger := zap.NewNop().Sugar()
	cfg := validConfig()
	cfg.Window.MinMs = 15
	cfg.MissingStrategy = MissingEmpty
	cfg.ApplyDefaults(logger)

	test.That(t, cfg.Window.MinMs, test.ShouldEqual, 15.0)
	test.That(t, cfg.MissingStrategy, test.ShouldEqual, MissingEmpty)
}

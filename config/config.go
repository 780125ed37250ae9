// Package config implements parsing and validation of the synchronizer's
// configuration surface.
package config

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/carla-syncer/syncer/packet"
)

// MissingStrategy is the policy applied when a required sensor has no
// candidate packet within the current window.
type MissingStrategy string

const (
	// MissingDrop abandons the selection attempt and leaves the reference in place.
	MissingDrop MissingStrategy = "drop"
	// MissingEmpty proceeds to emission with the sensor marked missing.
	MissingEmpty MissingStrategy = "empty"
	// MissingInterpolate synthesizes an IMU sample from bracketing readings.
	MissingInterpolate MissingStrategy = "interpolate"
)

// newError returns an error specific to a failure in the synchronizer config.
func newError(configError string) error {
	return errors.Errorf("syncer configuration error: %s", configError)
}

var (
	errReferenceSensorRequired = errors.New("\"reference_sensor_id\" must not be empty")
	errRequiredSensorsEmpty    = errors.New("\"required_sensors\" must not be empty")
	errWindowOrder             = errors.New("\"window.min_ms\" must not exceed \"window.max_ms\"")
)

// WindowConfig bounds the motion-adaptive synchronization window.
type WindowConfig struct {
	MinMs float64 `yaml:"min_ms"`
	MaxMs float64 `yaml:"max_ms"`
}

// BufferConfig bounds each per-sensor buffer.
type BufferConfig struct {
	MaxSize  int     `yaml:"max_size"`
	TimeoutS float64 `yaml:"timeout_s"`
}

// AdaKFConfig parameterizes every per-sensor offset estimator.
type AdaKFConfig struct {
	ProcessNoise     float64 `yaml:"process_noise"`
	MeasurementNoise float64 `yaml:"measurement_noise"`
	ResidualWindow   int     `yaml:"residual_window"`
	InitialOffset    float64 `yaml:"initial_offset"`
	// JumpSigma is the multiple of sqrt(S) an innovation must exceed to be
	// treated as a sudden jump, temporarily inflating Q. Open Question (c)
	// in the base spec; kept as a named, retunable constant.
	JumpSigma float64 `yaml:"jump_sigma"`
}

// Config is the full configuration surface consumed by the synchronizer
// (base spec §6).
type Config struct {
	ReferenceSensorID string             `yaml:"reference_sensor_id"`
	RequiredSensors   []string           `yaml:"required_sensors"`
	IMUSensorID       string             `yaml:"imu_sensor_id"`
	Window            WindowConfig       `yaml:"window"`
	Buffer            BufferConfig       `yaml:"buffer"`
	AdaKF             AdaKFConfig        `yaml:"adakf"`
	MissingStrategy   MissingStrategy    `yaml:"missing_strategy"`
	SensorIntervals   map[string]float64 `yaml:"sensor_intervals"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading syncer config %q", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing syncer config %q", path)
	}

	return &cfg, nil
}

// Validate checks the configuration for fatal, construction-time errors (an
// empty reference_sensor_id, empty required_sensors or entries in it,
// window.min_ms above window.max_ms, and a reference sensor absent from
// required_sensors), and returns the set of required non-reference sensor
// ids the engine must track. Config holds no list of known sensors, so other
// ids in required_sensors are not checked against anything. Every violation
// is collected via multierr so a caller sees the full set of problems in one
// failure.
func (c *Config) Validate() ([]string, error) {
	var errs error

	if c.ReferenceSensorID == "" {
		errs = multierr.Append(errs, errReferenceSensorRequired)
	}
	if len(c.RequiredSensors) == 0 {
		errs = multierr.Append(errs, errRequiredSensorsEmpty)
	}
	if c.Window.MinMs > 0 && c.Window.MaxMs > 0 && c.Window.MinMs > c.Window.MaxMs {
		errs = multierr.Append(errs, errWindowOrder)
	}

	seen := make(map[string]bool, len(c.RequiredSensors))
	nonReference := make([]string, 0, len(c.RequiredSensors))
	for _, id := range c.RequiredSensors {
		if id == "" {
			errs = multierr.Append(errs, errors.New("\"required_sensors\" entries must not be empty"))
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		if id != c.ReferenceSensorID {
			nonReference = append(nonReference, id)
		}
	}
	if c.ReferenceSensorID != "" && !seen[c.ReferenceSensorID] {
		errs = multierr.Append(errs, errors.Errorf(
			"\"reference_sensor_id\" %q must be present in \"required_sensors\"", c.ReferenceSensorID))
	}

	if errs != nil {
		return nil, newError(errs.Error())
	}

	return nonReference, nil
}

// ResolveIMUSensorID fills in IMUSensorID by scanning sensorTypes for the
// one required sensor of type packet.IMU, per base spec §6's
// "optional imu_sensor_id (auto-detected from types)". A no-op if
// IMUSensorID is already set. sensorTypes is supplied by the caller wiring
// adapters to sensor ids (config itself has no notion of sensor type).
func (c *Config) ResolveIMUSensorID(sensorTypes map[string]packet.SensorType) {
	if c.IMUSensorID != "" {
		return
	}
	for _, id := range c.RequiredSensors {
		if sensorTypes[id] == packet.IMU {
			c.IMUSensorID = id
			return
		}
	}
}

// Defaults for optional parameters, per base spec §6.
const (
	DefaultMinWindowMs      = 20.0
	DefaultMaxWindowMs      = 100.0
	DefaultBufferMaxSize    = 1000
	DefaultBufferTimeoutS   = 1.0
	DefaultProcessNoise     = 1e-4
	DefaultMeasurementNoise = 1e-3
	DefaultResidualWindow   = 20
	DefaultInitialOffset    = 0.0
	DefaultJumpSigma        = 5.0
)

// DefaultMissingStrategy is applied when missing_strategy is unset.
const DefaultMissingStrategy = MissingDrop

// ApplyDefaults fills in every unset optional parameter, mirroring the
// teacher's GetOptionalParameters. Window, buffer and missing_strategy
// substitutions are logged; the adakf knobs are filled in without a log line.
func (c *Config) ApplyDefaults(logger *zap.SugaredLogger) {
	if c.Window.MinMs == 0 {
		logger.Debugf("no window.min_ms given, setting to default value of %v", DefaultMinWindowMs)
		c.Window.MinMs = DefaultMinWindowMs
	}
	if c.Window.MaxMs == 0 {
		logger.Debugf("no window.max_ms given, setting to default value of %v", DefaultMaxWindowMs)
		c.Window.MaxMs = DefaultMaxWindowMs
	}
	if c.Buffer.MaxSize == 0 {
		logger.Debugf("no buffer.max_size given, setting to default value of %d", DefaultBufferMaxSize)
		c.Buffer.MaxSize = DefaultBufferMaxSize
	}
	if c.Buffer.TimeoutS == 0 {
		logger.Debugf("no buffer.timeout_s given, setting to default value of %v", DefaultBufferTimeoutS)
		c.Buffer.TimeoutS = DefaultBufferTimeoutS
	}
	if c.AdaKF.ProcessNoise == 0 {
		c.AdaKF.ProcessNoise = DefaultProcessNoise
	}
	if c.AdaKF.MeasurementNoise == 0 {
		c.AdaKF.MeasurementNoise = DefaultMeasurementNoise
	}
	if c.AdaKF.ResidualWindow == 0 {
		c.AdaKF.ResidualWindow = DefaultResidualWindow
	}
	if c.AdaKF.JumpSigma == 0 {
		c.AdaKF.JumpSigma = DefaultJumpSigma
	}
	if c.MissingStrategy == "" {
		logger.Debugf("no missing_strategy given, setting to default value of %q", DefaultMissingStrategy)
		c.MissingStrategy = DefaultMissingStrategy
	}
}

// Package packet defines the data model for one sensor sample moving
// through the synchronization pipeline: the foreign-owned bytes an adapter
// receives are copied once into a SensorPacket, which is then shared,
// immutable, between the callback thread that produced it and the sync
// worker that consumes it.
package packet

import (
	"math"

	"github.com/pkg/errors"
)

// SensorType identifies the kind of sensor a packet originated from.
type SensorType int

const (
	// Camera is an image-producing sensor.
	Camera SensorType = iota
	// Lidar is a point-cloud-producing sensor.
	Lidar
	// Radar is a detection-list-producing sensor.
	Radar
	// IMU is an inertial measurement unit.
	IMU
	// GNSS is a satellite positioning sensor.
	GNSS
)

// String renders the sensor type for logging and metric labels.
func (t SensorType) String() string {
	switch t {
	case Camera:
		return "camera"
	case Lidar:
		return "lidar"
	case Radar:
		return "radar"
	case IMU:
		return "imu"
	case GNSS:
		return "gnss"
	default:
		return "unknown"
	}
}

// PixelFormat names the layout of an ImagePayload's bytes.
type PixelFormat int

const (
	// RGB8 is 3 bytes per pixel, red-green-blue.
	RGB8 PixelFormat = iota
	// BGRA8 is 4 bytes per pixel, blue-green-red-alpha.
	BGRA8
	// Gray8 is 1 byte per pixel.
	Gray8
)

func (f PixelFormat) bytesPerPixel() int {
	switch f {
	case RGB8:
		return 3
	case BGRA8:
		return 4
	case Gray8:
		return 1
	default:
		return 0
	}
}

// ImagePayload holds a copied, immutable camera frame.
type ImagePayload struct {
	Width, Height int
	Format        PixelFormat
	Bytes         []byte
}

func (p ImagePayload) validate() error {
	bpp := p.Format.bytesPerPixel()
	if bpp == 0 {
		return errors.Errorf("image payload: unknown pixel format %v", p.Format)
	}
	want := p.Width * p.Height * bpp
	if len(p.Bytes) != want {
		return errors.Errorf("image payload: byte length %d does not match declared geometry %dx%d @ %d bytes/px (want %d)",
			len(p.Bytes), p.Width, p.Height, bpp, want)
	}
	return nil
}

// lidarPointStride is the byte stride of one interleaved {x,y,z,intensity}
// point: four float32 fields.
const lidarPointStride = 16

// PointCloudPayload holds a copied, immutable lidar scan: interleaved
// {x,y,z,intensity} float32 records.
type PointCloudPayload struct {
	PointCount int
	Stride     int
	Bytes      []byte
}

func (p PointCloudPayload) validate() error {
	stride := p.Stride
	if stride == 0 {
		stride = lidarPointStride
	}
	want := p.PointCount * stride
	if len(p.Bytes) != want {
		return errors.Errorf("point cloud payload: byte length %d does not match declared geometry %d points @ %d bytes (want %d)",
			len(p.Bytes), p.PointCount, stride, want)
	}
	return nil
}

// Vector3 is a plain 3-component vector, used for IMU accel/gyro fields.
// Kept independent of any geometry library's richer vector type so that
// packet stays free of non-arithmetic dependencies; window.Calculator
// converts to r3.Vector where it needs norm().
type Vector3 struct {
	X, Y, Z float64
}

// IMUPayload holds one inertial sample.
type IMUPayload struct {
	Accel   Vector3
	Gyro    Vector3
	Compass float64
}

func (p IMUPayload) validate() error {
	for _, v := range []float64{p.Accel.X, p.Accel.Y, p.Accel.Z, p.Gyro.X, p.Gyro.Y, p.Gyro.Z, p.Compass} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("imu payload: non-finite field")
		}
	}
	return nil
}

// GNSSPayload holds one satellite positioning fix.
type GNSSPayload struct {
	Lat, Lon, Alt float64
}

func (p GNSSPayload) validate() error {
	for _, v := range []float64{p.Lat, p.Lon, p.Alt} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("gnss payload: non-finite field")
		}
	}
	return nil
}

// radarDetectionStride is the byte stride of one radar detection record.
const radarDetectionStride = 16

// RadarPayload holds a copied, immutable radar detection list.
type RadarPayload struct {
	DetectionCount int
	Bytes          []byte
}

func (p RadarPayload) validate() error {
	want := p.DetectionCount * radarDetectionStride
	if len(p.Bytes) != want {
		return errors.Errorf("radar payload: byte length %d does not match declared geometry %d detections @ %d bytes (want %d)",
			len(p.Bytes), p.DetectionCount, radarDetectionStride, want)
	}
	return nil
}

// RawPayload holds an opaque, unparsed byte block.
type RawPayload struct {
	Bytes []byte
}

func (p RawPayload) validate() error { return nil }

// Payload is a tagged union over the sensor-specific sample data. Exactly
// one of the typed fields is meaningful, selected by Kind; this mirrors the
// tagged-union shape of base spec §3 without resorting to interface{} for
// every packet, so callers can type-switch on Kind with compile-time typed
// accessors.
type Payload struct {
	Kind       SensorType
	Image      ImagePayload
	PointCloud PointCloudPayload
	IMU        IMUPayload
	GNSS       GNSSPayload
	Radar      RadarPayload
	Raw        RawPayload
}

func (p Payload) validate() error {
	switch p.Kind {
	case Camera:
		return p.Image.validate()
	case Lidar:
		return p.PointCloud.validate()
	case IMU:
		return p.IMU.validate()
	case GNSS:
		return p.GNSS.validate()
	case Radar:
		return p.Radar.validate()
	default:
		return p.Raw.validate()
	}
}

// SensorPacket is one timestamped sample from one sensor, owned briefly by a
// buffer.SensorBuffer before being moved into a SyncedFrame or dropped.
type SensorPacket struct {
	SensorID  string
	Type      SensorType
	Timestamp float64 // simulator seconds
	FrameID   int64   // monotonic per sensor when provided; diagnostic only
	Payload   Payload
	// Seq is the arrival sequence assigned by the buffer that accepted this
	// packet; it breaks timestamp ties for stable ordering (base spec §3).
	// Zero until a buffer assigns it.
	Seq uint64
}

// Validate checks the invariants required of every packet before it is
// allowed onto a channel: a finite, non-negative timestamp and payload
// bytes that agree with their declared geometry.
func (p SensorPacket) Validate() error {
	if math.IsNaN(p.Timestamp) || math.IsInf(p.Timestamp, 0) {
		return errors.New("sensor packet: timestamp is not finite")
	}
	if p.Timestamp < 0 {
		return errors.New("sensor packet: timestamp is negative")
	}
	if err := p.Payload.validate(); err != nil {
		return errors.Wrapf(err, "sensor packet %s@%s", p.SensorID, p.Type)
	}
	return nil
}

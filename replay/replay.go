// Package replay implements the golden-test replay format of base spec §6:
// a JSON packet list that seeds a run, and a JSON frame list that verifies
// its deterministic output.
package replay

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/carla-syncer/syncer/engine"
	"github.com/carla-syncer/syncer/packet"
)

// PacketFixture is one entry of a golden input packet list.
type PacketFixture struct {
	SensorID  string  `json:"sensor_id"`
	Timestamp float64 `json:"timestamp"`
	Type      string  `json:"type"`

	// Payload is optional; omitted for tests that only exercise ordering
	// and selection, not payload content.
	Width, Height  int     `json:"width,omitempty"`
	Format         string  `json:"format,omitempty"`
	PointCount     int     `json:"point_count,omitempty"`
	DetectionCount int     `json:"detection_count,omitempty"`
	AccelX         float64 `json:"accel_x,omitempty"`
	AccelY         float64 `json:"accel_y,omitempty"`
	AccelZ         float64 `json:"accel_z,omitempty"`
	GyroX          float64 `json:"gyro_x,omitempty"`
	GyroY          float64 `json:"gyro_y,omitempty"`
	GyroZ          float64 `json:"gyro_z,omitempty"`
	Compass        float64 `json:"compass,omitempty"`
	Lat            float64 `json:"lat,omitempty"`
	Lon            float64 `json:"lon,omitempty"`
	Alt            float64 `json:"alt,omitempty"`
}

// PacketList is the `{packets:[...]}` golden input document.
type PacketList struct {
	Packets []PacketFixture `json:"packets"`
}

// FrameFixture is one expected emission in a golden output list.
type FrameFixture struct {
	TSync   float64  `json:"t_sync"`
	FrameID int64    `json:"frame_id"`
	Sensors []string `json:"sensors"`
	Meta    *MetaFixture `json:"meta,omitempty"`
}

// MetaFixture is the optional, partial SyncMeta comparison base.
type MetaFixture struct {
	MissingSensors []string `json:"missing_sensors,omitempty"`
}

// FrameList is the `{frames:[...]}` golden expected-output document.
type FrameList struct {
	Frames []FrameFixture `json:"frames"`
}

func sensorType(s string) packet.SensorType {
	switch s {
	case "camera":
		return packet.Camera
	case "lidar":
		return packet.Lidar
	case "radar":
		return packet.Radar
	case "imu":
		return packet.IMU
	case "gnss":
		return packet.GNSS
	default:
		return packet.SensorType(-1)
	}
}

func pixelFormat(s string) packet.PixelFormat {
	switch s {
	case "bgra8":
		return packet.BGRA8
	case "gray8":
		return packet.Gray8
	default:
		return packet.RGB8
	}
}

// ToPacket converts a PacketFixture into an engine-ready SensorPacket,
// synthesizing placeholder payload bytes that satisfy packet.Validate's
// geometry invariant.
func (f PacketFixture) ToPacket() (packet.SensorPacket, error) {
	t := sensorType(f.Type)
	pkt := packet.SensorPacket{SensorID: f.SensorID, Type: t, Timestamp: f.Timestamp}

	switch t {
	case packet.Camera:
		format := pixelFormat(f.Format)
		w, h := f.Width, f.Height
		if w == 0 {
			w = 1
		}
		if h == 0 {
			h = 1
		}
		bpp := map[packet.PixelFormat]int{packet.RGB8: 3, packet.BGRA8: 4, packet.Gray8: 1}[format]
		pkt.Payload = packet.Payload{Kind: packet.Camera, Image: packet.ImagePayload{
			Width: w, Height: h, Format: format, Bytes: make([]byte, w*h*bpp),
		}}
	case packet.Lidar:
		pkt.Payload = packet.Payload{Kind: packet.Lidar, PointCloud: packet.PointCloudPayload{
			PointCount: f.PointCount, Bytes: make([]byte, f.PointCount*16),
		}}
	case packet.Radar:
		pkt.Payload = packet.Payload{Kind: packet.Radar, Radar: packet.RadarPayload{
			DetectionCount: f.DetectionCount, Bytes: make([]byte, f.DetectionCount*16),
		}}
	case packet.IMU:
		pkt.Payload = packet.Payload{Kind: packet.IMU, IMU: packet.IMUPayload{
			Accel:   packet.Vector3{X: f.AccelX, Y: f.AccelY, Z: f.AccelZ},
			Gyro:    packet.Vector3{X: f.GyroX, Y: f.GyroY, Z: f.GyroZ},
			Compass: f.Compass,
		}}
	case packet.GNSS:
		pkt.Payload = packet.Payload{Kind: packet.GNSS, GNSS: packet.GNSSPayload{Lat: f.Lat, Lon: f.Lon, Alt: f.Alt}}
	default:
		return packet.SensorPacket{}, errors.Errorf("replay: unknown sensor type %q", f.Type)
	}

	return pkt, nil
}

// LoadPacketList reads a golden input document from path.
func LoadPacketList(path string) (*PacketList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading replay packet list %q", path)
	}
	var list PacketList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, errors.Wrapf(err, "parsing replay packet list %q", path)
	}
	return &list, nil
}

// LoadFrameList reads a golden expected-output document from path.
func LoadFrameList(path string) (*FrameList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading replay frame list %q", path)
	}
	var list FrameList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, errors.Wrapf(err, "parsing replay frame list %q", path)
	}
	return &list, nil
}

// FromFrame converts an emitted engine.SyncedFrame into its comparable
// FrameFixture form for golden-test assertions. Sensor and missing-sensor
// lists are sorted so two runs over the same input produce byte-identical
// JSON, per base spec §8's round-trip property.
func FromFrame(f *engine.SyncedFrame) FrameFixture {
	sensors := make([]string, 0, len(f.Frames))
	for id := range f.Frames {
		sensors = append(sensors, id)
	}
	sort.Strings(sensors)

	var missing []string
	for id := range f.Meta.MissingSensors {
		missing = append(missing, id)
	}
	sort.Strings(missing)

	var meta *MetaFixture
	if len(missing) > 0 {
		meta = &MetaFixture{MissingSensors: missing}
	}
	return FrameFixture{TSync: f.TSync, FrameID: f.FrameID, Sensors: sensors, Meta: meta}
}

// WriteFrameList writes frames to path as a `{frames:[...]}` document,
// letting a test record a golden output for later comparison.
func WriteFrameList(path string, frames []*engine.SyncedFrame) error {
	list := FrameList{Frames: make([]FrameFixture, len(frames))}
	for i, f := range frames {
		list.Frames[i] = FromFrame(f)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling replay frame list")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "writing replay frame list %q", path)
}

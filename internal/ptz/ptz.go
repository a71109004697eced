// Package ptz converts between the host's normalized 0-100 telemetry triple
// and the device's native pan/tilt/zoom units.
//
// The host's generic video-settings contract carries the camera pose as
// {brightness, contrast, hue}, reinterpreted here as tilt, pan and zoom.
package ptz

// Device ranges in native units. Azimuth and elevation are tenths of a degree.
const (
	MaxAzimuth   = 3600
	MaxElevation = 900
	MaxZoom      = 40

	MaxTelemetry = 100
)

// Telemetry is the normalized pose, every field in [0,100]
type Telemetry struct {
	Brightness int `json:"brightness"` // tilt
	Contrast   int `json:"contrast"`   // pan
	Hue        int `json:"hue"`        // zoom
}

// DevicePTZ is the pose in device-native units
type DevicePTZ struct {
	Azimuth   int `json:"azimuth"`
	Elevation int `json:"elevation"`
	Zoom      int `json:"zoom"`
}

// ToDevice scales a telemetry triple to device units, rounding half up.
// Out-of-range inputs are clamped to [0,100].
func ToDevice(t Telemetry) DevicePTZ {
	return DevicePTZ{
		Elevation: scaleRound(clamp(t.Brightness, MaxTelemetry), MaxElevation, MaxTelemetry),
		Azimuth:   scaleRound(clamp(t.Contrast, MaxTelemetry), MaxAzimuth, MaxTelemetry),
		Zoom:      scaleRound(clamp(t.Hue, MaxTelemetry), MaxZoom, MaxTelemetry),
	}
}

// ToTelemetry scales a device pose to telemetry, truncating.
//
// Brightness is derived from azimuth rather than elevation, so tilt never
// round-trips. This matches the behaviour hosts have been observing and is
// kept until the intended mapping is confirmed.
func ToTelemetry(p DevicePTZ) Telemetry {
	azimuth := clamp(p.Azimuth, MaxAzimuth)
	return Telemetry{
		Brightness: scaleFloor(azimuth, MaxTelemetry, MaxAzimuth),
		Contrast:   scaleFloor(azimuth, MaxTelemetry, MaxAzimuth),
		Hue:        scaleFloor(clamp(p.Zoom, MaxZoom), MaxTelemetry, MaxZoom),
	}
}

// Valid reports whether every field is within [0,100]
func (t Telemetry) Valid() bool {
	return inRange(t.Brightness, MaxTelemetry) && inRange(t.Contrast, MaxTelemetry) && inRange(t.Hue, MaxTelemetry)
}

// scaleRound returns round(v*num/den) with halves rounded up. v is non-negative.
func scaleRound(v, num, den int) int {
	return (2*v*num + den) / (2 * den)
}

// scaleFloor returns floor(v*num/den). v is non-negative.
func scaleFloor(v, num, den int) int {
	return v * num / den
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func inRange(v, max int) bool {
	return v >= 0 && v <= max
}

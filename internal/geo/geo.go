package geo

import (
	"errors"
	"math"
)

// earthRadiusM is the mean Earth radius used by the haversine formula.
const earthRadiusM = 6371000.0

// ErrInvalidCoordinate is returned when a latitude/longitude pair is NaN or
// outside the valid degree ranges.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// Validate checks that the coordinate is a real point on the globe.
func Validate(c Coordinate) error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return ErrInvalidCoordinate
	}
	if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		return ErrInvalidCoordinate
	}
	return nil
}

// DistanceMeters returns the great-circle distance between a and b in meters
// using the haversine formula on a spherical Earth.
func DistanceMeters(a, b Coordinate) (float64, error) {
	if err := Validate(a); err != nil {
		return 0, err
	}
	if err := Validate(b); err != nil {
		return 0, err
	}

	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// Floating-point overshoot past 1 would put Sqrt(1-h) out of domain for
	// antipodal points.
	if h > 1 {
		h = 1
	}
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c, nil
}

// WithinRadius reports whether a and b are at most radiusMeters apart.
func WithinRadius(a, b Coordinate, radiusMeters float64) (bool, float64, error) {
	d, err := DistanceMeters(a, b)
	if err != nil {
		return false, 0, err
	}
	return d <= radiusMeters, d, nil
}

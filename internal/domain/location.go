package domain

import (
	"errors"
	"math"
	"time"
)

var (
	ErrInvalidCoordinates = errors.New("coordinates out of range")
	ErrInvalidSpeed       = errors.New("speed must be non-negative")
	ErrInvalidHeading     = errors.New("heading must be in [0, 360)")
)

// Location is a participant's latest known position. Only the most recent snapshot is kept.
type Location struct {
	Latitude  float64
	Longitude float64
	Speed     *float64 // meters per second
	Heading   *float64 // degrees clockwise from north

	RecordedAt time.Time
}

func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) ||
		l.Latitude < -90 || l.Latitude > 90 || l.Longitude < -180 || l.Longitude > 180 {
		return ErrInvalidCoordinates
	}
	if l.Speed != nil && (math.IsNaN(*l.Speed) || *l.Speed < 0) {
		return ErrInvalidSpeed
	}
	if l.Heading != nil && (math.IsNaN(*l.Heading) || *l.Heading < 0 || *l.Heading >= 360) {
		return ErrInvalidHeading
	}
	return nil
}

const earthRadiusKm = 6371.0088

// HaversineKm returns the great-circle distance between two points in kilometres.
func HaversineKm(a, b GeoPoint) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(b.Latitude - a.Latitude)
	dLon := rad(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(a.Latitude))*math.Cos(rad(b.Latitude))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

package location

import (
	"context"
	"time"

	"github.com/paulmach/orb"
)

// Position is one fix from a PositionSource.
type Position struct {
	Latitude  float64
	Longitude float64
	// Altitude in meters above sea level, valid when HasAltitude.
	Altitude    float64
	HasAltitude bool
	// Course over ground in degrees from true north, valid when HasCourse.
	Course    float64
	HasCourse bool
	// Speed over ground in meters per second.
	Speed float64
	Time  time.Time
}

// Point returns the fix as an orb point (lon, lat).
func (p Position) Point() orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}

// PositionSource is polled for a best-effort current location.
//
// Implementations return one of the package errors; ctx bounds the request.
type PositionSource interface {
	CurrentPosition(ctx context.Context) (Position, error)
}

// NoSource is used when no GPS is configured.
type NoSource struct{}

func (NoSource) CurrentPosition(ctx context.Context) (Position, error) {
	return Position{}, ErrNotSupported
}

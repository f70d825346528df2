package location

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// SimConfig describes a simulated ride.
type SimConfig struct {
	StartLatitude  float64
	StartLongitude float64
	Altitude       float64 // meters
	Speed          float64 // meters per second
	Bearing        float64 // initial bearing, degrees
	TurnRate       float64 // degrees per second
}

func DefaultSimConfig() SimConfig {
	return SimConfig{
		StartLatitude:  45.5152,
		StartLongitude: -122.6784,
		Altitude:       15,
		Speed:          5,
		Bearing:        90,
		TurnRate:       2,
	}
}

// SimSource moves a point along a slowly curving path for demos without a receiver.
type SimSource struct {
	config SimConfig
	now    func() time.Time

	mu      sync.Mutex
	point   orb.Point
	bearing float64
	last    time.Time
}

var _ PositionSource = (*SimSource)(nil)

func NewSimSource(config SimConfig) *SimSource {
	return &SimSource{
		config:  config,
		now:     time.Now,
		point:   orb.Point{config.StartLongitude, config.StartLatitude},
		bearing: config.Bearing,
	}
}

func (s *SimSource) CurrentPosition(ctx context.Context) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, ErrTimeout
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.last.IsZero() {
		elapsed := now.Sub(s.last).Seconds()
		if elapsed > 0 {
			s.point = geo.PointAtBearingAndDistance(s.point, s.bearing, s.config.Speed*elapsed)
			s.bearing = normalizeHeading(s.bearing + s.config.TurnRate*elapsed)
		}
	}
	s.last = now

	return Position{
		Latitude:    s.point.Lat(),
		Longitude:   s.point.Lon(),
		Altitude:    s.config.Altitude + 2*math.Sin(float64(now.Unix())/60),
		HasAltitude: true,
		Course:      s.bearing,
		HasCourse:   true,
		Speed:       s.config.Speed,
		Time:        now,
	}, nil
}

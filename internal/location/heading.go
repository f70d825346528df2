package location

import (
	"math"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

const (
	// Below this ground speed GPS course is mostly noise.
	DefaultMinCourseSpeed = 1.0 // m/s
	// Fixes closer than this are not used to derive a bearing.
	DefaultMinBearingDistance = 3.0 // meters
)

// HeadingTracker derives a heading from successive fixes. It prefers the
// receiver's course over ground and falls back to the bearing between the
// last used fix and the current one.
type HeadingTracker struct {
	MinCourseSpeed     float64
	MinBearingDistance float64

	last    orb.Point
	hasLast bool
}

func NewHeadingTracker() *HeadingTracker {
	return &HeadingTracker{
		MinCourseSpeed:     DefaultMinCourseSpeed,
		MinBearingDistance: DefaultMinBearingDistance,
	}
}

// Update returns the heading implied by p, or false if p does not move the
// estimate. Not safe for concurrent use.
func (h *HeadingTracker) Update(p Position) (float64, bool) {
	point := p.Point()
	if p.HasCourse && p.Speed >= h.MinCourseSpeed {
		h.last, h.hasLast = point, true
		return normalizeHeading(p.Course), true
	}
	if !h.hasLast {
		h.last, h.hasLast = point, true
		return 0, false
	}
	if geo.Distance(h.last, point) < h.MinBearingDistance {
		return 0, false
	}
	bearing := geo.Bearing(h.last, point)
	h.last = point
	return normalizeHeading(bearing), true
}

func normalizeHeading(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// HeadingSource reports headings through a handler, the way a compass driver
// reports through a callback. A nil handler stops delivery.
type HeadingSource interface {
	SetHeadingHandler(handler func(heading float64))
}

// CourseHeading is the HeadingSource used when no compass is fitted: it
// derives the heading from the GPS fixes it observes.
type CourseHeading struct {
	mu      sync.Mutex
	tracker *HeadingTracker
	handler func(float64)
}

var _ HeadingSource = (*CourseHeading)(nil)

func NewCourseHeading() *CourseHeading {
	return &CourseHeading{tracker: NewHeadingTracker()}
}

func (c *CourseHeading) SetHeadingHandler(handler func(heading float64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Observe feeds one fix. A heading it implies goes to the handler.
func (c *CourseHeading) Observe(p Position) {
	c.mu.Lock()
	heading, ok := c.tracker.Update(p)
	handler := c.handler
	c.mu.Unlock()
	if ok && handler != nil {
		handler(heading)
	}
}

package location

import (
	"sync"

	"github.com/lowaak/bike-computer/internal/events"
)

// Snapshot is a consistent copy of the readouts at one instant.
type Snapshot struct {
	Position    Position
	HasPosition bool
	Heading     float64
	HasHeading  bool
}

// Readouts holds the last known position and heading.
//
// Each field has exactly one writer: the position poller and the attached
// HeadingSource respectively. Any number of readers may take snapshots.
// Values may be stale or absent.
type Readouts struct {
	mu          sync.RWMutex
	position    Position
	hasPosition bool
	heading     float64
	hasHeading  bool

	positionEvent *events.ChannelEvent[Position]
	headingEvent  *events.ChannelEvent[float64]

	sourceMu      sync.Mutex
	headingSource HeadingSource
}

func NewReadouts() *Readouts {
	return &Readouts{
		positionEvent: events.NewChannelEvent[Position](true),
		headingEvent:  events.NewChannelEvent[float64](true),
	}
}

func (r *Readouts) SetPosition(p Position) {
	r.mu.Lock()
	r.position = p
	r.hasPosition = true
	r.mu.Unlock()
	r.positionEvent.Notify(p)
}

func (r *Readouts) SetHeading(heading float64) {
	r.mu.Lock()
	r.heading = heading
	r.hasHeading = true
	r.mu.Unlock()
	r.headingEvent.Notify(heading)
}

// AttachHeadingSource makes src the only writer of the heading readout.
// A previously attached source is detached first.
func (r *Readouts) AttachHeadingSource(src HeadingSource) {
	r.sourceMu.Lock()
	defer r.sourceMu.Unlock()
	if r.headingSource != nil {
		r.headingSource.SetHeadingHandler(nil)
	}
	r.headingSource = src
	src.SetHeadingHandler(r.SetHeading)
}

func (r *Readouts) Position() (Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.position, r.hasPosition
}

func (r *Readouts) Heading() (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.heading, r.hasHeading
}

func (r *Readouts) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		Position:    r.position,
		HasPosition: r.hasPosition,
		Heading:     r.heading,
		HasHeading:  r.hasHeading,
	}
}

func (r *Readouts) ListenToPosition(ch chan<- Position) func() {
	return r.positionEvent.Listen(ch)
}

func (r *Readouts) ListenToHeading(ch chan<- float64) func() {
	return r.headingEvent.Listen(ch)
}

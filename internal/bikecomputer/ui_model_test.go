package bikecomputer

import (
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/bike-computer/internal/bt"
	"github.com/lowaak/bike-computer/internal/location"
	"github.com/lowaak/bike-computer/internal/trail"
)

func TestUIModel_InitialDashboard(t *testing.T) {
	r := newDefaultRig(t)

	d := r.model.GetDashboard()
	assert.Equal(t, "0", d.Speed)
	assert.Equal(t, bt.Disconnected, d.Connection)
	assert.Equal(t, "BT Options (Disconnected)", d.ConnectionLabel())
	assert.Equal(t, "--", d.Location)
	assert.Equal(t, "--", d.Heading)
	assert.Equal(t, trail.Stopped, d.Trail)
	assert.Equal(t, "Start Trailblazing", d.TrailLabel())
}

func TestUIModel_SpeedReadout(t *testing.T) {
	r := newDefaultRig(t)
	now := time.Now()
	for i := 0; i < 8; i++ {
		r.ticks.Record(now)
	}

	r.estimator.Update()

	// 8 ticks in 4 s on a 24" wheel is about 8.57 mph.
	require.Eventually(t, func() bool { return r.model.GetDashboard().Speed == "9" }, waitFor, tick)
}

func TestUIModel_LocationReadouts(t *testing.T) {
	r := newDefaultRig(t)

	r.readouts.SetPosition(location.Position{
		Latitude:    45.123456789,
		Longitude:   -122.5678,
		Altitude:    10.2,
		HasAltitude: true,
	})
	require.Eventually(t, func() bool {
		return r.model.GetDashboard().Location == "Lat: 45.123457, Long: -122.5678, Alt: 33.5"
	}, waitFor, tick)
	assert.Equal(t, "--", r.model.GetDashboard().Heading)

	r.readouts.SetHeading(87.4)
	require.Eventually(t, func() bool { return r.model.GetDashboard().Heading == "87°" }, waitFor, tick)
}

func TestUIModel_TrailProgress(t *testing.T) {
	r := newDefaultRig(t)

	r.model.onTrailProgress(trail.Progress{Points: 3, Distance: 1234})

	d := r.model.GetDashboard()
	assert.Equal(t, 3, d.TrailPoints)
	assert.InDelta(t, 1.234, d.TrailKm, 1e-9)
}

func TestUIModel_DashboardEventsCarryLatestState(t *testing.T) {
	r := newDefaultRig(t)
	ch := make(chan Dashboard, 1)
	defer r.model.ListenToDashboard(ch)()
	<-ch // replay of the current dashboard

	r.model.SetStatus("one")
	r.model.SetStatus("two")

	select {
	case d := <-ch:
		assert.Contains(t, []string{"one", "two"}, d.Status)
	case <-time.After(waitFor):
		t.Fatal("no dashboard event")
	}
	assert.Equal(t, "two", r.model.GetDashboard().Status)
}

func TestUIModel_UnchangedStatusIsNotRepublished(t *testing.T) {
	r := newDefaultRig(t)
	r.model.SetStatus("same")
	ch := make(chan Dashboard, 4)
	defer r.model.ListenToDashboard(ch)()
	<-ch

	r.model.SetStatus("same")

	select {
	case d := <-ch:
		t.Fatalf("unexpected dashboard event: %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUIModel_LogTail(t *testing.T) {
	r := newDefaultRig(t)
	for i := 0; i < 3; i++ {
		r.logChan <- fmt.Sprintf("line %d\n", i)
	}

	require.Eventually(t, func() bool { return len(r.model.GetLogTail(10)) == 3 }, waitFor, tick)
	assert.Equal(t, []string{"line 1\n", "line 2\n"}, r.model.GetLogTail(2))
	assert.Empty(t, r.model.GetLogTail(0))
}

func TestUIModel_LogTailIsBounded(t *testing.T) {
	r := newDefaultRig(t)
	total := maxLogLines + 5
	for i := 0; i < total; i++ {
		r.logChan <- fmt.Sprintf("line %d\n", i)
	}

	require.Eventually(t, func() bool {
		tail := r.model.GetLogTail(total)
		return len(tail) == maxLogLines && tail[len(tail)-1] == fmt.Sprintf("line %d\n", total-1)
	}, waitFor, tick)
	assert.Equal(t, "line 5\n", r.model.GetLogTail(total)[0])
}

func TestNewUIModel_PanicsOnMissingDependencies(t *testing.T) {
	r := newDefaultRig(t)
	logger := log.New(io.Discard, "", 0)

	assert.Panics(t, func() {
		NewUIModel(NewUIModelArg{Link: r.link, Speed: r.estimator, Location: r.readouts, Trail: r.recorder, UILogChan: r.logChan})
	})
	assert.Panics(t, func() {
		NewUIModel(NewUIModelArg{Link: r.link, Speed: r.estimator, Location: r.readouts, Trail: r.recorder, Logger: logger})
	})
	assert.Panics(t, func() {
		NewUIModel(NewUIModelArg{Speed: r.estimator, Location: r.readouts, Trail: r.recorder, Logger: logger, UILogChan: r.logChan})
	})
}

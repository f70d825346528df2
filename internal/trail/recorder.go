package trail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/lowaak/bike-computer/internal/events"
	"github.com/lowaak/bike-computer/internal/go_func_utils"
	"github.com/lowaak/bike-computer/internal/location"
)

const DefaultSamplePeriod = 5000 * time.Millisecond

var (
	ErrInvalidName   = errors.New("invalid trail name")
	ErrIO            = errors.New("trail file error")
	ErrAlreadyActive = errors.New("trail already active")
	ErrNotActive     = errors.New("no active trail")

	errSessionEnded = errors.New("session ended")
)

// State is the recording state.
type State int

const (
	Stopped State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "Active"
	}
	return "Stopped"
}

// ButtonLabel is the text of the trail toggle for this state.
func (s State) ButtonLabel() string {
	if s == Active {
		return "Stop Trailblazing"
	}
	return "Start Trailblazing"
}

// Config controls where and how often points are written.
type Config struct {
	Dir           string
	SamplePeriod  time.Duration
	SyncEachPoint bool
}

// SnapshotSource supplies the last known readouts.
type SnapshotSource interface {
	Snapshot() location.Snapshot
}

type trackFile interface {
	io.Writer
	Sync() error
	Close() error
}

func createTrackFile(path string) (trackFile, error) {
	// O_EXCL: an existing track is never appended to.
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}

// Summary describes a finished recording.
type Summary struct {
	Name        string
	Path        string
	Points      int
	Skipped     int
	WriteErrors int
	Distance    float64 // meters
	Duration    time.Duration
}

type session struct {
	name    string
	path    string
	file    trackFile
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}

	points      int
	skipped     int
	writeErrors int
	distance    float64
	last        orb.Point
	hasLast     bool

	// finishing is set by the first Stop; no point may follow epilogue bytes.
	finishing bool
	// epilogueDone counts epilogue bytes already on disk.
	epilogueDone int
}

// Recorder logs the last known position to a GPX file while a trail is active.
//
// The recorder lock is held for every file write, so a point never
// interleaves with the epilogue and a sample fired after Stop finds the
// session gone and exits.
type Recorder struct {
	readouts SnapshotSource
	config   Config
	now      func() time.Time
	open     func(path string) (trackFile, error)
	logger   *log.Logger

	mu      sync.Mutex
	session *session

	stateEvent    *events.ChannelEvent[State]
	progressEvent *events.CallbackEvent[Progress]
}

// Progress is the running total of the active trail.
type Progress struct {
	Points   int
	Distance float64 // meters
}

func NewRecorder(readouts SnapshotSource, config Config, logger *log.Logger) *Recorder {
	if readouts == nil {
		panic("Recorder: readouts cannot be nil")
	}
	if logger == nil {
		panic("Recorder: logger cannot be nil")
	}
	if config.SamplePeriod <= 0 {
		panic("Recorder: sample period must be > 0")
	}
	r := &Recorder{
		readouts:      readouts,
		config:        config,
		now:           time.Now,
		open:          createTrackFile,
		logger:        logger,
		stateEvent:    events.NewChannelEvent[State](true),
		progressEvent: events.NewCallbackEvent[Progress](false),
	}
	r.stateEvent.Notify(Stopped)
	return r
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return Active
	}
	return Stopped
}

// Current returns the name and path of the active trail.
func (r *Recorder) Current() (name, path string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return "", "", false
	}
	return r.session.name, r.session.path, true
}

func (r *Recorder) ListenToState(ch chan<- State) func() {
	return r.stateEvent.Listen(ch)
}

// ValidateName rejects names that are empty or would escape the trail directory.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidName, name)
	}
	return nil
}

// Start creates <dir>/<name>.gpx, writes the prologue and arms the sampler.
func (r *Recorder) Start(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyActive, r.session.name)
	}

	if err := os.MkdirAll(r.config.Dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	path := filepath.Join(r.config.Dir, name+".gpx")
	file, err := r.open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	started := r.now()
	if _, err := io.WriteString(file, gpxPrologue(name, started)); err != nil {
		file.Close()
		os.Remove(path)
		return fmt.Errorf("%w: writing prologue: %v", ErrIO, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		name:    name,
		path:    path,
		file:    file,
		started: started,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	r.session = s
	go_func_utils.SafeGo(r.logger, func() {
		defer close(s.done)
		r.runSampler(ctx, s)
	})

	r.logger.Printf("Recorder: started trail %q at %s", name, path)
	r.progressEvent.Notify(Progress{})
	r.stateEvent.Notify(Active)
	return nil
}

// Stop writes the epilogue and closes the file. If the epilogue cannot be
// written the trail stays Active and Stop may be retried.
func (r *Recorder) Stop() (Summary, error) {
	r.mu.Lock()
	s := r.session
	if s == nil {
		r.mu.Unlock()
		return Summary{}, ErrNotActive
	}
	s.finishing = true
	n, err := io.WriteString(s.file, gpxEpilogue[s.epilogueDone:])
	s.epilogueDone += n
	if err != nil {
		r.mu.Unlock()
		r.logger.Printf("Recorder: error finishing trail %q: %v", s.name, err)
		return Summary{}, fmt.Errorf("%w: writing epilogue: %v", ErrIO, err)
	}
	closeErr := s.file.Close()
	r.session = nil
	s.cancel()
	summary := Summary{
		Name:        s.name,
		Path:        s.path,
		Points:      s.points,
		Skipped:     s.skipped,
		WriteErrors: s.writeErrors,
		Distance:    s.distance,
		Duration:    r.now().Sub(s.started),
	}
	r.mu.Unlock()

	<-s.done
	r.stateEvent.Notify(Stopped)
	r.logger.Printf("Recorder: stopped trail %q: %d points, %.0f m in %s",
		summary.Name, summary.Points, summary.Distance, summary.Duration.Round(time.Second))

	if closeErr != nil {
		r.logger.Printf("Recorder: error closing %s: %v", s.path, closeErr)
		return summary, fmt.Errorf("%w: closing: %v", ErrIO, closeErr)
	}
	return summary, nil
}

// Shutdown finishes any active trail.
func (r *Recorder) Shutdown() {
	if _, err := r.Stop(); err != nil && !errors.Is(err, ErrNotActive) {
		r.logger.Printf("Recorder: error during shutdown: %v", err)
	}
}

func (r *Recorder) runSampler(ctx context.Context, s *session) {
	ticker := time.NewTicker(r.config.SamplePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.sample(s); errors.Is(err, errSessionEnded) {
				return
			}
		}
	}
}

// ListenToProgress registers callback to run when a trail starts and after
// every point written. It may run with the recorder lock held, so it must not
// call back into the Recorder.
func (r *Recorder) ListenToProgress(callback func(Progress)) func() {
	return r.progressEvent.Listen(callback)
}

// sample appends one point for s, if s is still the active session.
func (r *Recorder) sample(s *session) error {
	progress, written, err := r.samplePoint(s)
	if written {
		r.progressEvent.Notify(progress)
	}
	return err
}

func (r *Recorder) samplePoint(s *session) (Progress, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != s {
		return Progress{}, false, errSessionEnded
	}
	if s.finishing {
		return Progress{}, false, nil
	}

	snap := r.readouts.Snapshot()
	if !snap.HasPosition {
		s.skipped++
		r.logger.Printf("Recorder: no position yet, skipping point")
		return Progress{}, false, nil
	}

	pos := snap.Position
	point := TrackPoint{
		Latitude:    pos.Latitude,
		Longitude:   pos.Longitude,
		Altitude:    pos.Altitude,
		HasAltitude: pos.HasAltitude,
		Heading:     snap.Heading,
		Time:        r.now(),
	}
	if err := r.appendLocked(s, point); err != nil {
		s.writeErrors++
		r.logger.Printf("Recorder: error writing point to %s: %v", s.path, err)
		return Progress{}, false, fmt.Errorf("%w: %v", ErrIO, err)
	}

	p := pos.Point()
	if s.hasLast {
		s.distance += geo.Distance(s.last, p)
	}
	s.last, s.hasLast = p, true
	s.points++
	return Progress{Points: s.points, Distance: s.distance}, true, nil
}

func (r *Recorder) appendLocked(s *session, point TrackPoint) error {
	if _, err := io.WriteString(s.file, gpxPoint(point)); err != nil {
		return err
	}
	if r.config.SyncEachPoint {
		return s.file.Sync()
	}
	return nil
}

package location

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lowaak/bike-computer/internal/go_func_utils"
)

const (
	DefaultPollPeriod = 1000 * time.Millisecond
	DefaultTimeout    = 10 * time.Second
)

// PollerConfig controls how often the source is asked for a fix.
type PollerConfig struct {
	Period  time.Duration
	Timeout time.Duration
}

func DefaultPollerConfig() PollerConfig {
	return PollerConfig{Period: DefaultPollPeriod, Timeout: DefaultTimeout}
}

// Poller periodically asks a PositionSource for a fix and publishes it to
// Readouts. It also attaches a CourseHeading as the heading source; attach a
// compass to the Readouts afterwards to replace it. Failures leave the
// previous readouts in place.
type Poller struct {
	source   PositionSource
	readouts *Readouts
	course   *CourseHeading
	config   PollerConfig
	logger   *log.Logger

	inFlight atomic.Bool
	// lastErr suppresses repeating the same failure every period.
	errMu   sync.Mutex
	lastErr error

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPoller(source PositionSource, readouts *Readouts, config PollerConfig, logger *log.Logger) *Poller {
	if source == nil {
		panic("Poller: source cannot be nil")
	}
	if readouts == nil {
		panic("Poller: readouts cannot be nil")
	}
	if logger == nil {
		panic("Poller: logger cannot be nil")
	}
	if config.Period <= 0 || config.Timeout <= 0 {
		panic("Poller: period and timeout must be > 0")
	}
	course := NewCourseHeading()
	readouts.AttachHeadingSource(course)
	return &Poller{
		source:   source,
		readouts: readouts,
		course:   course,
		config:   config,
		logger:   logger,
	}
}

// Start begins polling. Calling Start on a running poller does nothing.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	// A request cancelled by the previous Shutdown keeps the slot taken.
	p.inFlight.Store(false)
	go_func_utils.SafeGoWG(p.logger, &p.wg, func() { p.run(ctx) })
	p.logger.Printf("Poller: started (period %s, timeout %s)", p.config.Period, p.config.Timeout)
}

// Shutdown cancels any outstanding request and waits for the loop to exit.
func (p *Poller) Shutdown() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
	p.logger.Printf("Poller: stopped")
}

func (p *Poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.config.Period)
	defer ticker.Stop()
	p.spawnPoll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			p.spawnPoll(ctx)
		}
	}
}

// spawnPoll runs one request in its own goroutine so a slow source never
// delays the ticker. At most one request is outstanding, and none is started
// once ctx is done.
func (p *Poller) spawnPoll(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		return
	}
	if ctx.Err() != nil {
		p.inFlight.Store(false)
		return
	}
	go_func_utils.SafeGoWG(p.logger, &p.wg, func() {
		p.PollOnce(ctx)
		// After cancellation the slot stays taken until the next Start.
		if ctx.Err() == nil {
			p.inFlight.Store(false)
		}
	})
}

// PollOnce performs a single bounded request and updates the readouts.
func (p *Poller) PollOnce(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	pos, err := p.source.CurrentPosition(reqCtx)
	if err != nil {
		err = classify(reqCtx, err)
		if ctx.Err() == nil {
			p.reportError(err)
		}
		return err
	}
	p.reportError(nil)

	p.readouts.SetPosition(pos)
	p.course.Observe(pos)
	return nil
}

func classify(ctx context.Context, err error) error {
	for _, known := range []error{ErrNotSupported, ErrNotEnabled, ErrPermissionDenied, ErrTimeout, ErrUnknown} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnknown, err)
}

func (p *Poller) reportError(err error) {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	switch {
	case err == nil && p.lastErr != nil:
		p.logger.Printf("Poller: position available again")
	case err != nil && (p.lastErr == nil || p.lastErr.Error() != err.Error()):
		p.logger.Printf("Poller: no position: %v", err)
	}
	p.lastErr = err
}

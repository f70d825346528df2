package speed

import (
	"context"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/lowaak/bike-computer/internal/events"
	"github.com/lowaak/bike-computer/internal/go_func_utils"
)

const (
	DefaultRetentionWindow = 4000 * time.Millisecond
	DefaultPeriod          = 500 * time.Millisecond
	// DefaultCircumference is the distance covered per tick, in inches (24" wheel).
	DefaultCircumference = 24 * 3.14159
	// DefaultConversion turns inches per second into miles per hour.
	DefaultConversion = 0.05682
)

// EstimatorConfig holds the constants of the boxcar estimator.
type EstimatorConfig struct {
	Period        time.Duration
	Circumference float64
	Conversion    float64
}

// DefaultEstimatorConfig returns the values the instrument ships with.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		Period:        DefaultPeriod,
		Circumference: DefaultCircumference,
		Conversion:    DefaultConversion,
	}
}

// Estimator turns the tick count of a TickBuffer into a speed.
//
// It counts ticks inside the retention window and divides by the window's
// fixed length, not by the time actually spanned by the ticks. Speed therefore
// lags by up to one window but does not jump around with notification jitter.
type Estimator struct {
	buffer     *TickBuffer
	config     EstimatorConfig
	now        func() time.Time
	logger     *log.Logger
	speedEvent *events.ChannelEvent[float64]

	mu      sync.Mutex
	current float64
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEstimator creates an estimator over buffer. now may be nil to use time.Now.
func NewEstimator(buffer *TickBuffer, config EstimatorConfig, now func() time.Time, logger *log.Logger) *Estimator {
	if buffer == nil {
		panic("Estimator: buffer cannot be nil")
	}
	if logger == nil {
		panic("Estimator: logger cannot be nil")
	}
	if config.Period <= 0 {
		panic("Estimator: period must be > 0")
	}
	if now == nil {
		now = time.Now
	}
	return &Estimator{
		buffer:     buffer,
		config:     config,
		now:        now,
		logger:     logger,
		speedEvent: events.NewChannelEvent[float64](true),
	}
}

// Compute evicts stale ticks relative to now and returns the speed in display
// units. The result is never rounded here.
func (e *Estimator) Compute(now time.Time) float64 {
	ticks := e.buffer.EvictAndCount(now)
	windowSeconds := e.buffer.Window().Seconds()
	distancePerSecond := float64(ticks) * e.config.Circumference / windowSeconds
	return distancePerSecond * e.config.Conversion
}

// Update runs one estimation step, stores the result and notifies listeners.
func (e *Estimator) Update() float64 {
	value := e.Compute(e.now())
	e.mu.Lock()
	e.current = value
	e.mu.Unlock()
	e.speedEvent.Notify(value)
	return value
}

// Current returns the last computed speed.
func (e *Estimator) Current() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// ListenToSpeed registers a channel that receives every computed speed.
// Returns a deregistration function.
func (e *Estimator) ListenToSpeed(ch chan<- float64) func() {
	return e.speedEvent.Listen(ch)
}

// Start launches the periodic loop. Calling Start twice is a no-op.
func (e *Estimator) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go_func_utils.SafeGoWG(e.logger, &e.wg, func() { e.run(ctx) })
	e.logger.Printf("Estimator: started (period %v, window %v)", e.config.Period, e.buffer.Window())
}

// Shutdown stops the periodic loop and waits for it to exit.
func (e *Estimator) Shutdown() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()
	e.logger.Printf("Estimator: stopped")
}

func (e *Estimator) run(ctx context.Context) {
	ticker := time.NewTicker(e.config.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Update()
		}
	}
}

// FormatSpeed rounds a speed for display. Halves round to even.
func FormatSpeed(value float64) string {
	return strconv.FormatFloat(math.RoundToEven(value), 'f', 0, 64)
}

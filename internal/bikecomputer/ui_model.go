package bikecomputer

import (
	"context"
	"log"
	"sync"

	"github.com/lowaak/bike-computer/internal/bt"
	"github.com/lowaak/bike-computer/internal/events"
	"github.com/lowaak/bike-computer/internal/go_func_utils"
	"github.com/lowaak/bike-computer/internal/location"
	"github.com/lowaak/bike-computer/internal/speed"
	"github.com/lowaak/bike-computer/internal/trail"
)

// ConnectionSource is the part of bt.LinkManager the model watches.
type ConnectionSource interface {
	State() bt.ConnectionState
	ListenToState(ch chan<- bt.ConnectionState) func()
}

// SpeedSource is the part of speed.Estimator the model watches.
type SpeedSource interface {
	Current() float64
	ListenToSpeed(ch chan<- float64) func()
}

// LocationSource is the part of location.Readouts the model watches.
type LocationSource interface {
	Position() (location.Position, bool)
	Heading() (float64, bool)
	ListenToPosition(ch chan<- location.Position) func()
	ListenToHeading(ch chan<- float64) func()
}

// TrailSource is the part of trail.Recorder the model watches.
type TrailSource interface {
	State() trail.State
	Current() (name, path string, ok bool)
	ListenToState(ch chan<- trail.State) func()
	ListenToProgress(callback func(trail.Progress)) func()
}

// Dashboard holds every readout the views render.
type Dashboard struct {
	Speed       string
	Connection  bt.ConnectionState
	Location    string
	Heading     string
	Trail       trail.State
	TrailName   string
	TrailPoints int
	TrailKm     float64
	Status      string
}

func (d Dashboard) ConnectionLabel() string {
	return d.Connection.Label()
}

func (d Dashboard) TrailLabel() string {
	return d.Trail.ButtonLabel()
}

// NewUIModelArg holds the arguments for creating a new UIModel
type NewUIModelArg struct {
	Link     ConnectionSource
	Speed    SpeedSource
	Location LocationSource
	Trail    TrailSource

	// StatePath is the JSON file remembering UI choices between runs.
	// Empty disables persistence.
	StatePath string
	Logger    *log.Logger
	UILogChan <-chan string
}

type UIModel struct {
	link     ConnectionSource
	speed    SpeedSource
	location LocationSource
	trail    TrailSource

	logEvent              *events.ChannelEvent[string]
	closeApplicationEvent *events.ChannelEvent[struct{}]
	dashboardEvent        *events.ChannelEvent[Dashboard]
	dashboard             Dashboard
	persistence           *uiModelPersistence
	logLines              []string
	logMu                 sync.RWMutex
	mu                    sync.RWMutex
	ctx                   context.Context
	cancel                context.CancelFunc
	wg                    sync.WaitGroup
	logger                *log.Logger

	unregisterProgress func()
}

const maxLogLines = 1000

func NewUIModel(args NewUIModelArg) *UIModel {
	if args.Logger == nil {
		panic("UIModel: logger cannot be nil")
	}
	if args.UILogChan == nil {
		panic("UIModel: uiLogChan cannot be nil")
	}
	if args.Link == nil || args.Speed == nil || args.Location == nil || args.Trail == nil {
		panic("UIModel: sources cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	model := &UIModel{
		link:                  args.Link,
		speed:                 args.Speed,
		location:              args.Location,
		trail:                 args.Trail,
		logEvent:              events.NewChannelEvent[string](false),
		closeApplicationEvent: events.NewChannelEvent[struct{}](true),
		dashboardEvent:        events.NewChannelEvent[Dashboard](true),
		persistence:           newUIModelPersistence(args.StatePath, args.Logger),
		logLines:              make([]string, 0, maxLogLines),
		ctx:                   ctx,
		cancel:                cancel,
		logger:                args.Logger,
	}
	model.dashboard = Dashboard{
		Speed:      speed.FormatSpeed(0),
		Connection: args.Link.State(),
		Location:   noReading,
		Heading:    noReading,
		Trail:      args.Trail.State(),
	}
	model.refreshSpeed()
	model.refreshLocation()
	model.refreshTrail()
	model.dashboardEvent.Notify(model.dashboard)

	// Notifications only wake the model up; every handler re-reads the
	// source so a notification dropped on a full channel never leaves a
	// readout behind.
	pump(ctx, &model.wg, model.logger, args.Link.ListenToState, func(bt.ConnectionState) { model.refreshConnection() })
	pump(ctx, &model.wg, model.logger, args.Speed.ListenToSpeed, func(float64) { model.refreshSpeed() })
	pump(ctx, &model.wg, model.logger, args.Location.ListenToPosition, func(location.Position) { model.refreshLocation() })
	pump(ctx, &model.wg, model.logger, args.Location.ListenToHeading, func(float64) { model.refreshLocation() })
	pump(ctx, &model.wg, model.logger, args.Trail.ListenToState, func(trail.State) { model.refreshTrail() })
	model.unregisterProgress = args.Trail.ListenToProgress(model.onTrailProgress)

	// Read from the UI log channel and populate logLines
	model.wg.Add(1)
	go_func_utils.SafeGo(model.logger, func() { model.readFromLogChannel(ctx, args.UILogChan) })

	return model
}

// pump forwards every value registered through listen to handle until ctx ends.
func pump[T any](ctx context.Context, wg *sync.WaitGroup, logger *log.Logger, listen func(chan<- T) func(), handle func(T)) {
	ch := make(chan T, 1)
	unregister := listen(ch)
	go_func_utils.SafeGoWG(logger, wg, func() {
		defer unregister()
		for {
			select {
			case <-ctx.Done():
				return
			case value, ok := <-ch:
				if !ok {
					return
				}
				handle(value)
			}
		}
	})
}

// Shutdown stops all goroutines and waits for them to finish
func (m *UIModel) Shutdown() {
	m.logger.Println("UIModel: Shutting down")
	m.unregisterProgress()
	m.cancel()
	m.wg.Wait()
	m.logger.Println("UIModel: Shutdown complete")
}

// ListenToLog registers a channel to receive log messages
// Returns a deregistration function that can be called to remove the listener
func (m *UIModel) ListenToLog(ch chan<- string) func() {
	return m.logEvent.Listen(ch)
}

// ListenToDashboard registers a channel to receive readout changes
func (m *UIModel) ListenToDashboard(ch chan<- Dashboard) func() {
	return m.dashboardEvent.Listen(ch)
}

// ListenToCloseApplication registers a channel to receive close application signals
// Returns a deregistration function that can be called to remove the listener
func (m *UIModel) ListenToCloseApplication(ch chan<- struct{}) func() {
	return m.closeApplicationEvent.Listen(ch)
}

// RequestCloseApplication signals that the application should close
func (m *UIModel) RequestCloseApplication() {
	m.closeApplicationEvent.Notify(struct{}{})
}

// GetDashboard returns the current readouts
func (m *UIModel) GetDashboard() Dashboard {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dashboard
}

// SetStatus records the outcome of the last operator command
func (m *UIModel) SetStatus(status string) {
	m.update(func(d *Dashboard) { d.Status = status })
}

// LastTrailName is the name used for the previous trail, to prefill the prompt.
func (m *UIModel) LastTrailName() string {
	return m.persistence.getLastTrailName()
}

func (m *UIModel) SetLastTrailName(name string) {
	m.persistence.setLastTrailName(name)
}

func (m *UIModel) update(change func(d *Dashboard)) {
	m.mu.Lock()
	before := m.dashboard
	change(&m.dashboard)
	after := m.dashboard
	m.mu.Unlock()

	if after != before {
		m.dashboardEvent.Notify(after)
	}
}

func (m *UIModel) refreshConnection() {
	state := m.link.State()
	m.update(func(d *Dashboard) { d.Connection = state })
}

func (m *UIModel) refreshSpeed() {
	text := speed.FormatSpeed(m.speed.Current())
	m.update(func(d *Dashboard) { d.Speed = text })
}

func (m *UIModel) refreshLocation() {
	locationText, headingText := noReading, noReading
	if pos, ok := m.location.Position(); ok {
		locationText = location.FormatPosition(pos)
	}
	if heading, ok := m.location.Heading(); ok {
		headingText = location.FormatHeading(heading)
	}
	m.update(func(d *Dashboard) {
		d.Location = locationText
		d.Heading = headingText
	})
}

func (m *UIModel) refreshTrail() {
	state := m.trail.State()
	name, _, _ := m.trail.Current()
	m.update(func(d *Dashboard) {
		d.Trail = state
		d.TrailName = name
	})
}

func (m *UIModel) onTrailProgress(p trail.Progress) {
	m.update(func(d *Dashboard) {
		d.TrailPoints = p.Points
		d.TrailKm = p.Distance / 1000
	})
}

func (m *UIModel) readFromLogChannel(ctx context.Context, logChan <-chan string) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-logChan:
			if !ok {
				return
			}

			m.logMu.Lock()
			m.logLines = append(m.logLines, line)
			if len(m.logLines) > maxLogLines {
				m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
			}
			m.logMu.Unlock()

			m.logEvent.Notify(line)
		}
	}
}

// GetLogTail returns the last n lines of logs
func (m *UIModel) GetLogTail(n int) []string {
	m.logMu.RLock()
	defer m.logMu.RUnlock()

	if n <= 0 {
		return []string{}
	}
	if n >= len(m.logLines) {
		result := make([]string, len(m.logLines))
		copy(result, m.logLines)
		return result
	}
	result := make([]string, n)
	copy(result, m.logLines[len(m.logLines)-n:])
	return result
}

package bikecomputer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lowaak/bike-computer/internal/bt"
	"github.com/lowaak/bike-computer/internal/go_func_utils"
	"github.com/lowaak/bike-computer/internal/trail"
)

// LinkController is the part of bt.LinkManager the operator drives.
type LinkController interface {
	ConnectionSource
	Connect(ctx context.Context) error
	Disconnect() error
	CancelConnecting() bool
	Shutdown()
}

// TrailController is the part of trail.Recorder the operator drives.
type TrailController interface {
	State() trail.State
	Start(name string) error
	Stop() (trail.Summary, error)
	Shutdown()
}

// TickResetter drops buffered ticks once the link is gone.
type TickResetter interface {
	Reset()
}

// Service is a background job stopped with the session.
type Service interface {
	Shutdown()
}

// NewUIControllerArg holds the arguments for creating a new UIController.
// Services are shut down after the trail and the link, in order.
type NewUIControllerArg struct {
	Model    *UIModel
	Link     LinkController
	Trail    TrailController
	Ticks    TickResetter
	Services []Service
	Logger   *log.Logger
}

// UIController turns operator commands into calls on the link and the
// recorder. Every command returns a status line that is also published on
// the model.
type UIController struct {
	model    *UIModel
	link     LinkController
	trail    TrailController
	ticks    TickResetter
	services []Service
	logger   *log.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// lastState is only touched by the connection listener
	lastState bt.ConnectionState
}

func NewUIController(args NewUIControllerArg) *UIController {
	if args.Model == nil {
		panic("UIController: model cannot be nil")
	}
	if args.Link == nil {
		panic("UIController: link cannot be nil")
	}
	if args.Trail == nil {
		panic("UIController: trail cannot be nil")
	}
	if args.Ticks == nil {
		panic("UIController: ticks cannot be nil")
	}
	if args.Logger == nil {
		panic("UIController: logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &UIController{
		model:     args.Model,
		link:      args.Link,
		trail:     args.Trail,
		ticks:     args.Ticks,
		services:  args.Services,
		logger:    args.Logger,
		lastState: args.Link.State(),
		ctx:       ctx,
		cancel:    cancel,
	}

	pump(ctx, &c.wg, c.logger, c.link.ListenToState, func(bt.ConnectionState) { c.onConnectionChanged() })

	return c
}

// onConnectionChanged clears ticks from a lost link so a reconnect does not
// start with a stale speed.
func (c *UIController) onConnectionChanged() {
	state := c.link.State()
	if state == bt.Disconnected && c.lastState != bt.Disconnected {
		c.ticks.Reset()
	}
	c.lastState = state
}

func (c *UIController) report(status string) string {
	c.model.SetStatus(status)
	return status
}

// Connect starts a connect attempt in the background. The outcome is
// published on the model when the attempt ends.
func (c *UIController) Connect() string {
	if state := c.link.State(); state != bt.Disconnected {
		c.logger.Printf("UIController: connect ignored while %s", state)
		return c.report("Already " + strings.ToLower(state.String()))
	}
	go_func_utils.SafeGoWG(c.logger, &c.wg, c.runConnect)
	return c.report(bt.Connecting.Label())
}

func (c *UIController) runConnect() {
	err := c.link.Connect(c.ctx)
	switch {
	case err == nil:
		c.report(bt.Connected.Label())
	case bt.IsCancelled(err):
		// The operator asked for this; not a failure.
		c.report(bt.Disconnected.Label())
	case errors.Is(err, bt.ErrInvalidState):
		c.logger.Printf("UIController: connect ignored: %v", err)
		c.report(c.link.State().Label())
	default:
		c.logger.Printf("UIController: connect failed: %v", err)
		c.report(fmt.Sprintf("Connect failed: %v", err))
	}
}

// Disconnect drops the link or aborts a pending connect.
func (c *UIController) Disconnect() string {
	if err := c.link.Disconnect(); err != nil {
		c.logger.Printf("UIController: error while disconnecting: %v", err)
	}
	c.ticks.Reset()
	return c.report(bt.Disconnected.Label())
}

// CancelConnecting aborts a pending connect and leaves a live link alone.
func (c *UIController) CancelConnecting() string {
	if !c.link.CancelConnecting() {
		return c.report("Not connecting")
	}
	return c.report(bt.Disconnected.Label())
}

// OnBTAction dispatches an entry of the Bluetooth options menu.
func (c *UIController) OnBTAction(action BTAction) string {
	switch action {
	case BTActionConnect:
		return c.Connect()
	case BTActionDisconnect:
		return c.Disconnect()
	case BTActionStopConnecting:
		return c.CancelConnecting()
	default:
		return c.model.GetDashboard().Status
	}
}

// StartTrail begins recording to <name>.gpx. An empty name means the
// operator cancelled the prompt and nothing happens.
func (c *UIController) StartTrail(name string) string {
	err := c.trail.Start(name)
	switch {
	case err == nil:
		c.model.SetLastTrailName(name)
		return c.report(fmt.Sprintf("Recording trail %q", name))
	case errors.Is(err, trail.ErrInvalidName) && strings.TrimSpace(name) == "":
		return c.report("Trail not started")
	case errors.Is(err, trail.ErrInvalidName):
		c.logger.Printf("UIController: %v", err)
		return c.report(fmt.Sprintf("Invalid trail name %q", name))
	case errors.Is(err, trail.ErrAlreadyActive):
		return c.report("A trail is already being recorded")
	default:
		c.logger.Printf("UIController: could not start trail: %v", err)
		return c.report(fmt.Sprintf("Could not start trail: %v", err))
	}
}

// StopTrail finishes the active trail. When the file cannot be finished the
// trail keeps recording and StopTrail may be retried.
func (c *UIController) StopTrail() string {
	summary, err := c.trail.Stop()
	switch {
	case err == nil:
		return c.report(fmt.Sprintf("Saved %s: %d points, %.2f km",
			filepath.Base(summary.Path), summary.Points, summary.Distance/1000))
	case errors.Is(err, trail.ErrNotActive):
		return c.report("No trail is being recorded")
	case c.trail.State() == trail.Active:
		c.logger.Printf("UIController: could not finish trail: %v", err)
		return c.report(fmt.Sprintf("Could not finish trail, try again: %v", err))
	default:
		c.logger.Printf("UIController: trail saved with errors: %v", err)
		return c.report(fmt.Sprintf("Saved %s with errors: %v", filepath.Base(summary.Path), err))
	}
}

// ToggleTrail stops an active trail or starts one called name.
func (c *UIController) ToggleTrail(name string) string {
	if c.trail.State() == trail.Active {
		return c.StopTrail()
	}
	return c.StartTrail(name)
}

// IsTrailActive tells the view whether the trail key needs a name prompt.
func (c *UIController) IsTrailActive() bool {
	return c.trail.State() == trail.Active
}

// LastTrailName prefills the trail name prompt.
func (c *UIController) LastTrailName() string {
	return c.model.LastTrailName()
}

// OnEscapeKey handles when the Escape key is pressed
func (c *UIController) OnEscapeKey() {
	c.model.RequestCloseApplication()
}

// Shutdown finishes the trail, drops the link and stops background jobs.
func (c *UIController) Shutdown() {
	c.cancel()
	c.wg.Wait()
	c.trail.Shutdown()
	c.link.Shutdown()
	for _, s := range c.services {
		s.Shutdown()
	}
}

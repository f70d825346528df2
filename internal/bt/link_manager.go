package bt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lowaak/bike-computer/internal/events"
)

// LinkConfig identifies the peripheral and the handshake.
type LinkConfig struct {
	DeviceID    string
	ServiceUUID string
	Greeting    []byte
}

// DefaultLinkConfig returns the identity of the shipped wheel sensor.
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		DeviceID:    DefaultDeviceID,
		ServiceUUID: ServiceUUIDNordicUART,
		Greeting:    []byte(DefaultGreeting),
	}
}

// DeviceLink is one negotiated session. It only exists while Connected.
type DeviceLink struct {
	PeripheralID string
	Write        Characteristic
	Notify       Characteristic

	peripheral Peripheral
	subscribed bool
}

// LinkManager owns the connection lifecycle of one known peripheral.
//
// Every state transition happens under mu. Blocking adapter calls run outside
// the lock; each connect attempt carries a generation number and only commits
// its result if no Disconnect, CancelConnecting or OnLinkLost happened meanwhile.
type LinkManager struct {
	adapter Adapter
	ticks   TickRecorder
	config  LinkConfig
	now     func() time.Time
	logger  *log.Logger

	mu            sync.Mutex
	state         ConnectionState
	link          *DeviceLink
	attempt       uint64
	cancelAttempt context.CancelFunc
	// lostAttempt is the attempt aborted by OnLinkLost, if any.
	lostAttempt uint64

	stateEvent *events.ChannelEvent[ConnectionState]
}

// NewLinkManager creates a manager in the Disconnected state and registers
// itself as the adapter's link-lost handler.
func NewLinkManager(adapter Adapter, ticks TickRecorder, config LinkConfig, logger *log.Logger) *LinkManager {
	if adapter == nil {
		panic("LinkManager: adapter cannot be nil")
	}
	if ticks == nil {
		panic("LinkManager: ticks cannot be nil")
	}
	if logger == nil {
		panic("LinkManager: logger cannot be nil")
	}
	m := &LinkManager{
		adapter:    adapter,
		ticks:      ticks,
		config:     config,
		now:        time.Now,
		logger:     logger,
		state:      Disconnected,
		stateEvent: events.NewChannelEvent[ConnectionState](true),
	}
	m.stateEvent.Notify(Disconnected)
	adapter.SetLinkLostHandler(m.OnLinkLost)
	return m
}

// State returns the current connection state.
func (m *LinkManager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Link returns the identity of the connected peripheral, or "" when not connected.
func (m *LinkManager) Link() (peripheralID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link == nil {
		return "", false
	}
	return m.link.PeripheralID, true
}

// ListenToState registers a channel that receives every state change.
// Returns a deregistration function.
func (m *LinkManager) ListenToState(ch chan<- ConnectionState) func() {
	return m.stateEvent.Listen(ch)
}

// Connect connects to the configured peripheral and blocks until the link is
// up, fails, or is cancelled. It is only valid from Disconnected.
func (m *LinkManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Disconnected {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: connect while %s", ErrInvalidState, state)
	}
	m.attempt++
	attempt := m.attempt
	attemptCtx, cancel := context.WithCancel(ctx)
	m.cancelAttempt = cancel
	m.setStateLocked(Connecting)
	m.mu.Unlock()
	defer cancel()

	attemptID := strings.SplitN(uuid.NewString(), "-", 2)[0]
	m.logger.Printf("LinkManager: [%s] connecting to %s", attemptID, m.config.DeviceID)

	link, err := m.negotiate(attemptCtx, attempt, attemptID)

	m.mu.Lock()
	if m.attempt != attempt || attemptCtx.Err() != nil {
		// Superseded by Disconnect, CancelConnecting, OnLinkLost or the caller's ctx.
		superseded := m.attempt != attempt
		if !superseded {
			m.attempt++
			m.cancelAttempt = nil
			m.setStateLocked(Disconnected)
		}
		lost := m.lostAttempt == attempt
		m.mu.Unlock()
		if link != nil {
			m.teardown(link)
		}
		if lost {
			m.logger.Printf("LinkManager: [%s] link lost while connecting", attemptID)
			return fmt.Errorf("%w: %s: link lost while connecting", ErrDeviceUnreachable, m.config.DeviceID)
		}
		m.logger.Printf("LinkManager: [%s] connect cancelled", attemptID)
		if err != nil && !errors.Is(err, ErrConnectCancelled) && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %v", ErrConnectCancelled, err)
		}
		return ErrConnectCancelled
	}
	m.cancelAttempt = nil
	if err != nil {
		m.setStateLocked(Disconnected)
		m.mu.Unlock()
		m.logger.Printf("LinkManager: [%s] connect failed: %v", attemptID, err)
		return err
	}
	m.link = link
	m.setStateLocked(Connected)
	m.mu.Unlock()

	m.logger.Printf("LinkManager: [%s] connected to %s (write %s, notify %s)",
		attemptID, link.PeripheralID, link.Write.UUID(), link.Notify.UUID())
	return nil
}

// Disconnect cancels an in-flight connect or tears down the live link.
// It always leaves the manager Disconnected and is a no-op when already there.
func (m *LinkManager) Disconnect() error {
	m.mu.Lock()
	switch m.state {
	case Disconnected:
		m.mu.Unlock()
		m.logger.Printf("LinkManager: already disconnected")
		return nil
	case Connecting:
		m.abortAttemptLocked()
		m.mu.Unlock()
		m.logger.Printf("LinkManager: connect attempt aborted by disconnect")
		return nil
	}
	link := m.link
	m.link = nil
	m.attempt++
	m.setStateLocked(Disconnected)
	m.mu.Unlock()

	m.logger.Printf("LinkManager: disconnecting from %s", link.PeripheralID)
	return m.teardown(link)
}

// CancelConnecting aborts an in-flight connect. It does nothing in any other
// state, so cancelling twice or after completion is harmless.
func (m *LinkManager) CancelConnecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connecting {
		return false
	}
	m.abortAttemptLocked()
	m.logger.Printf("LinkManager: connect attempt cancelled")
	return true
}

// OnLinkLost is called by the adapter when the physical link drops. The
// peripheral is gone, so whatever the state, it becomes Disconnected.
func (m *LinkManager) OnLinkLost(deviceID string) {
	m.mu.Lock()
	prev := m.state
	if prev == Connecting {
		m.lostAttempt = m.attempt
	}
	if m.cancelAttempt != nil {
		m.cancelAttempt()
		m.cancelAttempt = nil
	}
	m.link = nil
	m.attempt++
	m.setStateLocked(Disconnected)
	m.mu.Unlock()
	m.logger.Printf("LinkManager: link to %s lost (was %s)", deviceID, prev)
}

// Shutdown drops any link or attempt. Used on session teardown.
func (m *LinkManager) Shutdown() {
	if err := m.Disconnect(); err != nil {
		m.logger.Printf("LinkManager: error during shutdown: %v", err)
	}
}

// abortAttemptLocked must be called with mu held and state Connecting.
func (m *LinkManager) abortAttemptLocked() {
	if m.cancelAttempt != nil {
		m.cancelAttempt()
		m.cancelAttempt = nil
	}
	m.attempt++
	m.setStateLocked(Disconnected)
}

func (m *LinkManager) setStateLocked(state ConnectionState) {
	if m.state == state {
		return
	}
	m.state = state
	m.stateEvent.Notify(state)
}

func (m *LinkManager) isCurrent(attempt uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt == attempt
}

// negotiate runs connect, discovery and the write-then-subscribe handshake.
// On failure it releases whatever it acquired and returns a nil link.
func (m *LinkManager) negotiate(ctx context.Context, attempt uint64, attemptID string) (*DeviceLink, error) {
	peripheral, err := m.adapter.Connect(ctx, m.config.DeviceID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrConnectCancelled
		}
		if errors.Is(err, ErrDeviceUnreachable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnreachable, m.config.DeviceID, err)
	}

	link := &DeviceLink{PeripheralID: peripheral.ID(), peripheral: peripheral}
	fail := func(err error) (*DeviceLink, error) {
		m.teardown(link)
		return nil, err
	}
	cancelled := func() bool { return ctx.Err() != nil }

	if cancelled() {
		return fail(ErrConnectCancelled)
	}
	service, err := peripheral.DiscoverService(m.config.ServiceUUID)
	if err != nil {
		if errors.Is(err, ErrServiceMissing) {
			return fail(err)
		}
		return fail(fmt.Errorf("%w: %s: %v", ErrServiceMissing, m.config.ServiceUUID, err))
	}
	m.logger.Printf("LinkManager: [%s] found service %s", attemptID, service.UUID())

	characteristics, err := service.Characteristics()
	if err != nil {
		return fail(fmt.Errorf("%w: discovering characteristics: %v", ErrCharacteristicMissing, err))
	}
	for _, c := range characteristics {
		m.logger.Printf("LinkManager: [%s] characteristic %s write=%v notify=%v", attemptID, c.UUID(), c.CanWrite(), c.CanNotify())
		if link.Write == nil && c.CanWrite() {
			link.Write = c
		}
		if link.Notify == nil && c.CanNotify() {
			link.Notify = c
		}
	}
	if link.Write == nil {
		return fail(fmt.Errorf("%w: no writable characteristic in %s", ErrCharacteristicMissing, service.UUID()))
	}
	if link.Notify == nil {
		return fail(fmt.Errorf("%w: no notifying characteristic in %s", ErrCharacteristicMissing, service.UUID()))
	}

	if cancelled() {
		return fail(ErrConnectCancelled)
	}
	if err := link.Write.Write(m.config.Greeting); err != nil {
		return fail(fmt.Errorf("%w: greeting write: %v", ErrHandshakeFailed, err))
	}

	if cancelled() {
		return fail(ErrConnectCancelled)
	}
	err = link.Notify.EnableNotifications(func(buf []byte) {
		// Arrival is the signal; the payload is not interpreted.
		if m.isCurrent(attempt) {
			m.ticks.Record(m.now())
		}
	})
	if err != nil {
		return fail(fmt.Errorf("%w: subscribe: %v", ErrHandshakeFailed, err))
	}
	link.subscribed = true
	return link, nil
}

// teardown unsubscribes and disconnects. Errors are logged; the first one is returned.
func (m *LinkManager) teardown(link *DeviceLink) error {
	var firstErr error
	if link.subscribed && link.Notify != nil {
		if err := link.Notify.DisableNotifications(); err != nil {
			m.logger.Printf("LinkManager: error disabling notifications on %s: %v", link.PeripheralID, err)
			firstErr = err
		}
		link.subscribed = false
	}
	if link.peripheral != nil {
		if err := link.peripheral.Disconnect(); err != nil {
			m.logger.Printf("LinkManager: error disconnecting %s: %v", link.PeripheralID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

package bt

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	mu    sync.Mutex
	ticks []time.Time
}

func (r *countingRecorder) Record(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, t)
}

func (r *countingRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

type fakeCharacteristic struct {
	uuid      string
	write     bool
	notify    bool
	writeErr  error
	notifyErr error

	mu       sync.Mutex
	written  [][]byte
	callback func([]byte)
	disabled int
}

func (c *fakeCharacteristic) UUID() string    { return c.uuid }
func (c *fakeCharacteristic) CanWrite() bool  { return c.write }
func (c *fakeCharacteristic) CanNotify() bool { return c.notify }

func (c *fakeCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, data)
	return nil
}

func (c *fakeCharacteristic) EnableNotifications(callback func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notifyErr != nil {
		return c.notifyErr
	}
	c.callback = callback
	return nil
}

func (c *fakeCharacteristic) DisableNotifications() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled++
	return nil
}

func (c *fakeCharacteristic) fire() {
	c.mu.Lock()
	callback := c.callback
	c.mu.Unlock()
	if callback != nil {
		callback([]byte("t"))
	}
}

type fakePeripheral struct {
	adapter *fakeAdapter

	mu           sync.Mutex
	disconnected int
}

func (p *fakePeripheral) ID() string { return "fake-peripheral" }

func (p *fakePeripheral) DiscoverService(uuid string) (Service, error) {
	if p.adapter.serviceErr != nil {
		return nil, p.adapter.serviceErr
	}
	return &fakeService{adapter: p.adapter, uuid: uuid}, nil
}

func (p *fakePeripheral) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected++
	return nil
}

func (p *fakePeripheral) Disconnects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnected
}

type fakeService struct {
	adapter *fakeAdapter
	uuid    string
}

func (s *fakeService) UUID() string { return s.uuid }

func (s *fakeService) Characteristics() ([]Characteristic, error) {
	result := make([]Characteristic, 0, len(s.adapter.chars))
	for _, c := range s.adapter.chars {
		result = append(result, c)
	}
	return result, nil
}

// fakeAdapter is scripted by setting its fields before Connect is called.
type fakeAdapter struct {
	connectErr error
	serviceErr error
	chars      []*fakeCharacteristic
	// When set, Connect blocks until it is closed or ctx ends.
	gate chan struct{}
	// When set, Connect ignores ctx while waiting on gate.
	ignoreCtx bool

	peripheral *fakePeripheral
	linkLost   func(string)
}

func newFakeAdapter() *fakeAdapter {
	a := &fakeAdapter{
		chars: []*fakeCharacteristic{
			{uuid: CharUUIDNordicUARTRX, write: true},
			{uuid: CharUUIDNordicUARTTX, notify: true},
		},
	}
	a.peripheral = &fakePeripheral{adapter: a}
	return a
}

func (a *fakeAdapter) Enable() error { return nil }

func (a *fakeAdapter) SetLinkLostHandler(handler func(string)) { a.linkLost = handler }

func (a *fakeAdapter) Connect(ctx context.Context, deviceID string) (Peripheral, error) {
	if a.gate != nil {
		if a.ignoreCtx {
			<-a.gate
		} else {
			select {
			case <-a.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	return a.peripheral, nil
}

func newTestManager(t *testing.T, adapter Adapter) (*LinkManager, *countingRecorder) {
	t.Helper()
	recorder := &countingRecorder{}
	return NewLinkManager(adapter, recorder, DefaultLinkConfig(), log.New(io.Discard, "", 0)), recorder
}

func collectStates(m *LinkManager) (<-chan ConnectionState, func()) {
	ch := make(chan ConnectionState, 32)
	return ch, m.ListenToState(ch)
}

func drainStates(ch <-chan ConnectionState) []ConnectionState {
	var states []ConnectionState
	for {
		select {
		case s := <-ch:
			states = append(states, s)
		default:
			return states
		}
	}
}

func TestLinkManager_ConnectHandshake(t *testing.T) {
	adapter := newFakeAdapter()
	m, recorder := newTestManager(t, adapter)
	states, unregister := collectStates(m)
	defer unregister()

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, Connected, m.State())
	id, ok := m.Link()
	assert.True(t, ok)
	assert.Equal(t, "fake-peripheral", id)

	rx, tx := adapter.chars[0], adapter.chars[1]
	require.Len(t, rx.written, 1)
	assert.Equal(t, []byte(DefaultGreeting), rx.written[0])
	require.NotNil(t, tx.callback)

	tx.fire()
	tx.fire()
	assert.Equal(t, 2, recorder.Count())

	assert.Equal(t, []ConnectionState{Disconnected, Connecting, Connected}, drainStates(states))
}

func TestLinkManager_FirstCapableCharacteristicWins(t *testing.T) {
	adapter := newFakeAdapter()
	extraWrite := &fakeCharacteristic{uuid: "extra-write", write: true}
	extraNotify := &fakeCharacteristic{uuid: "extra-notify", notify: true}
	adapter.chars = append(adapter.chars, extraWrite, extraNotify)
	m, _ := newTestManager(t, adapter)

	require.NoError(t, m.Connect(context.Background()))
	assert.Len(t, adapter.chars[0].written, 1)
	assert.Empty(t, extraWrite.written)
	assert.Nil(t, extraNotify.callback)
}

func TestLinkManager_ServiceMissing(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.serviceErr = ErrServiceMissing
	m, _ := newTestManager(t, adapter)

	err := m.Connect(context.Background())
	assert.ErrorIs(t, err, ErrServiceMissing)
	assert.Equal(t, Disconnected, m.State())
	_, ok := m.Link()
	assert.False(t, ok)
	assert.Equal(t, 1, adapter.peripheral.Disconnects())
}

func TestLinkManager_ServiceDiscoveryErrorIsServiceMissing(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.serviceErr = errors.New("gatt timeout")
	m, _ := newTestManager(t, adapter)

	assert.ErrorIs(t, m.Connect(context.Background()), ErrServiceMissing)
	assert.Equal(t, Disconnected, m.State())
}

func TestLinkManager_CharacteristicMissing(t *testing.T) {
	for name, chars := range map[string][]*fakeCharacteristic{
		"no writer":   {{uuid: CharUUIDNordicUARTTX, notify: true}},
		"no notifier": {{uuid: CharUUIDNordicUARTRX, write: true}},
		"empty":       nil,
	} {
		t.Run(name, func(t *testing.T) {
			adapter := newFakeAdapter()
			adapter.chars = chars
			m, _ := newTestManager(t, adapter)

			assert.ErrorIs(t, m.Connect(context.Background()), ErrCharacteristicMissing)
			assert.Equal(t, Disconnected, m.State())
			assert.Equal(t, 1, adapter.peripheral.Disconnects())
		})
	}
}

func TestLinkManager_HandshakeFailure(t *testing.T) {
	t.Run("write", func(t *testing.T) {
		adapter := newFakeAdapter()
		adapter.chars[0].writeErr = errors.New("write rejected")
		m, _ := newTestManager(t, adapter)

		assert.ErrorIs(t, m.Connect(context.Background()), ErrHandshakeFailed)
		assert.Equal(t, Disconnected, m.State())
		assert.Nil(t, adapter.chars[1].callback)
		assert.Equal(t, 1, adapter.peripheral.Disconnects())
	})
	t.Run("subscribe", func(t *testing.T) {
		adapter := newFakeAdapter()
		adapter.chars[1].notifyErr = errors.New("cccd write failed")
		m, _ := newTestManager(t, adapter)

		assert.ErrorIs(t, m.Connect(context.Background()), ErrHandshakeFailed)
		assert.Equal(t, Disconnected, m.State())
		assert.Equal(t, 1, adapter.peripheral.Disconnects())
	})
}

func TestLinkManager_Unreachable(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.connectErr = errors.New("le-connection-abort-by-local")
	m, _ := newTestManager(t, adapter)

	assert.ErrorIs(t, m.Connect(context.Background()), ErrDeviceUnreachable)
	assert.Equal(t, Disconnected, m.State())
	assert.Equal(t, 0, adapter.peripheral.Disconnects())
}

func TestLinkManager_ConnectWhileNotDisconnected(t *testing.T) {
	adapter := newFakeAdapter()
	m, _ := newTestManager(t, adapter)
	require.NoError(t, m.Connect(context.Background()))

	assert.ErrorIs(t, m.Connect(context.Background()), ErrInvalidState)
	assert.Equal(t, Connected, m.State())
}

func startBlockedConnect(t *testing.T, m *LinkManager) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background()) }()
	require.Eventually(t, func() bool { return m.State() == Connecting }, time.Second, time.Millisecond)
	return done
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		t.Fatal("connect did not return")
		return nil
	}
}

func TestLinkManager_DisconnectWhileConnecting(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.gate = make(chan struct{})
	m, _ := newTestManager(t, adapter)
	states, unregister := collectStates(m)
	defer unregister()

	done := startBlockedConnect(t, m)
	require.NoError(t, m.Disconnect())
	assert.Equal(t, Disconnected, m.State())

	err := waitErr(t, done)
	assert.True(t, IsCancelled(err))
	assert.Equal(t, Disconnected, m.State())
	assert.NotContains(t, drainStates(states), Connected)
}

func TestLinkManager_CancelConnecting(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.gate = make(chan struct{})
	m, _ := newTestManager(t, adapter)

	assert.False(t, m.CancelConnecting())

	done := startBlockedConnect(t, m)
	assert.True(t, m.CancelConnecting())
	assert.False(t, m.CancelConnecting())

	assert.ErrorIs(t, waitErr(t, done), ErrConnectCancelled)
	assert.Equal(t, Disconnected, m.State())
}

func TestLinkManager_LateSuccessAfterCancelIsTornDown(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.gate = make(chan struct{})
	adapter.ignoreCtx = true
	m, recorder := newTestManager(t, adapter)
	states, unregister := collectStates(m)
	defer unregister()

	done := startBlockedConnect(t, m)
	require.True(t, m.CancelConnecting())
	close(adapter.gate)

	assert.ErrorIs(t, waitErr(t, done), ErrConnectCancelled)
	assert.Equal(t, Disconnected, m.State())
	assert.Equal(t, 1, adapter.peripheral.Disconnects())
	assert.Empty(t, adapter.chars[0].written)
	assert.NotContains(t, drainStates(states), Connected)

	adapter.chars[1].fire()
	assert.Equal(t, 0, recorder.Count())
}

func TestLinkManager_CallerContextCancelled(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.gate = make(chan struct{})
	m, _ := newTestManager(t, adapter)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Connect(ctx) }()
	require.Eventually(t, func() bool { return m.State() == Connecting }, time.Second, time.Millisecond)
	cancel()

	assert.ErrorIs(t, waitErr(t, done), ErrConnectCancelled)
	assert.Equal(t, Disconnected, m.State())
}

func TestLinkManager_DisconnectIsIdempotent(t *testing.T) {
	adapter := newFakeAdapter()
	m, recorder := newTestManager(t, adapter)
	require.NoError(t, m.Connect(context.Background()))

	require.NoError(t, m.Disconnect())
	require.NoError(t, m.Disconnect())
	assert.Equal(t, Disconnected, m.State())
	assert.Equal(t, 1, adapter.peripheral.Disconnects())
	assert.Equal(t, 1, adapter.chars[1].disabled)

	adapter.chars[1].fire()
	assert.Equal(t, 0, recorder.Count())

	// A fresh connect works after a disconnect.
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, Connected, m.State())
}

func TestLinkManager_LinkLost(t *testing.T) {
	t.Run("connected", func(t *testing.T) {
		adapter := newFakeAdapter()
		m, recorder := newTestManager(t, adapter)
		require.NoError(t, m.Connect(context.Background()))
		tx := adapter.chars[1]

		adapter.linkLost("fake-peripheral")
		assert.Equal(t, Disconnected, m.State())
		_, ok := m.Link()
		assert.False(t, ok)

		tx.fire()
		assert.Equal(t, 0, recorder.Count())
	})
	t.Run("connecting", func(t *testing.T) {
		adapter := newFakeAdapter()
		adapter.gate = make(chan struct{})
		m, _ := newTestManager(t, adapter)

		done := startBlockedConnect(t, m)
		adapter.linkLost("fake-peripheral")
		assert.Equal(t, Disconnected, m.State())

		err := waitErr(t, done)
		assert.ErrorIs(t, err, ErrDeviceUnreachable)
		assert.False(t, IsCancelled(err))
	})
	t.Run("connecting then retry", func(t *testing.T) {
		adapter := newFakeAdapter()
		adapter.gate = make(chan struct{})
		m, _ := newTestManager(t, adapter)

		done := startBlockedConnect(t, m)
		adapter.linkLost("fake-peripheral")
		require.ErrorIs(t, waitErr(t, done), ErrDeviceUnreachable)

		// The next attempt is not tainted by the earlier loss.
		done = startBlockedConnect(t, m)
		require.True(t, m.CancelConnecting())
		assert.ErrorIs(t, waitErr(t, done), ErrConnectCancelled)
	})
	t.Run("disconnected", func(t *testing.T) {
		adapter := newFakeAdapter()
		m, _ := newTestManager(t, adapter)
		adapter.linkLost("fake-peripheral")
		assert.Equal(t, Disconnected, m.State())
	})
}

func TestConnectionState_Label(t *testing.T) {
	assert.Equal(t, "BT Options (Disconnected)", Disconnected.Label())
	assert.Equal(t, "BT Options (Connecting)", Connecting.Label())
	assert.Equal(t, "BT Options (Connected)", Connected.Label())
}

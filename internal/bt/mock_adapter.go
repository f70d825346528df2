package bt

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lowaak/bike-computer/internal/go_func_utils"
)

// MockAdapterConfig configures the simulated wheel sensor.
type MockAdapterConfig struct {
	DeviceID       string
	ServerPort     int // 0 disables the control server
	TicksPerSecond float64
	ConnectDelay   time.Duration
}

// WrittenValue records a value the central wrote to the sensor.
type WrittenValue struct {
	Timestamp          time.Time `json:"timestamp"`
	CharacteristicUUID string    `json:"characteristicUuid"`
	Data               []byte    `json:"data"`
	DataHex            string    `json:"dataHex"`
	Text               string    `json:"text"`
}

// MockDeviceState is returned by /api/state.
type MockDeviceState struct {
	DeviceID       string  `json:"deviceId"`
	Connected      bool    `json:"connected"`
	Subscribed     bool    `json:"subscribed"`
	TicksPerSecond float64 `json:"ticksPerSecond"`
	ServiceMissing bool    `json:"serviceMissing"`
	Unreachable    bool    `json:"unreachable"`
	TicksSent      uint64  `json:"ticksSent"`
}

// MockAdapter simulates a Nordic UART wheel sensor without hardware. It emits
// notifications at a configurable rate and exposes an HTTP control page.
type MockAdapter struct {
	logger *log.Logger
	config MockAdapterConfig

	mu             sync.RWMutex
	connected      bool
	serviceMissing bool
	unreachable    bool
	ticksPerSecond float64
	ticksSent      uint64
	notifyCallback func([]byte)
	linkLost       func(deviceID string)

	writtenValues   []WrittenValue
	writtenValuesMu sync.RWMutex

	server *http.Server
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Adapter = (*MockAdapter)(nil)

// NewMockAdapter creates a mock sensor. Nothing runs until Enable.
func NewMockAdapter(logger *log.Logger, config MockAdapterConfig) *MockAdapter {
	if logger == nil {
		panic("MockAdapter: logger cannot be nil")
	}
	if config.DeviceID == "" {
		config.DeviceID = DefaultDeviceID
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MockAdapter{
		logger:         logger,
		config:         config,
		ticksPerSecond: config.TicksPerSecond,
		writtenValues:  make([]WrittenValue, 0),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Enable starts the tick generator and, when configured, the control server.
func (m *MockAdapter) Enable() error {
	m.logger.Printf("MockAdapter: enabling mock sensor %s", m.config.DeviceID)

	if m.config.ServerPort > 0 {
		m.server = &http.Server{
			Addr:    fmt.Sprintf(":%d", m.config.ServerPort),
			Handler: m.Handler(),
		}
		go_func_utils.SafeGoWG(m.logger, &m.wg, func() {
			m.logger.Printf("MockAdapter: control server on http://localhost:%d", m.config.ServerPort)
			if err := m.server.ListenAndServe(); err != http.ErrServerClosed {
				m.logger.Printf("MockAdapter: control server error: %v", err)
			}
		})
	}

	go_func_utils.SafeGoWG(m.logger, &m.wg, m.tickLoop)
	return nil
}

// Shutdown stops the generator and the control server.
func (m *MockAdapter) Shutdown() {
	m.logger.Printf("MockAdapter: shutting down")
	m.cancel()
	if m.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.server.Shutdown(ctx); err != nil {
			m.logger.Printf("MockAdapter: error shutting down control server: %v", err)
		}
	}
	m.wg.Wait()
	m.logger.Printf("MockAdapter: shutdown complete")
}

func (m *MockAdapter) SetLinkLostHandler(handler func(deviceID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linkLost = handler
}

func (m *MockAdapter) Connect(ctx context.Context, deviceID string) (Peripheral, error) {
	m.logger.Printf("MockAdapter: connect to %s", deviceID)
	if !strings.EqualFold(deviceID, m.config.DeviceID) {
		return nil, fmt.Errorf("%w: unknown device %s", ErrDeviceUnreachable, deviceID)
	}

	if m.config.ConnectDelay > 0 {
		timer := time.NewTimer(m.config.ConnectDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable {
		return nil, fmt.Errorf("%w: %s out of range", ErrDeviceUnreachable, deviceID)
	}
	m.connected = true
	return &mockPeripheral{adapter: m}, nil
}

// SetTicksPerSecond changes the simulated wheel rate. 0 stops the wheel.
func (m *MockAdapter) SetTicksPerSecond(rate float64) {
	if rate < 0 {
		rate = 0
	}
	m.mu.Lock()
	m.ticksPerSecond = rate
	m.mu.Unlock()
}

// TriggerNotification sends one tick if the central is subscribed.
func (m *MockAdapter) TriggerNotification() bool {
	m.mu.Lock()
	callback := m.notifyCallback
	if callback != nil {
		m.ticksSent++
	}
	m.mu.Unlock()

	if callback == nil {
		return false
	}
	callback([]byte{0x01})
	return true
}

// DropLink simulates the sensor going out of range while connected.
func (m *MockAdapter) DropLink() bool {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return false
	}
	m.connected = false
	m.notifyCallback = nil
	handler := m.linkLost
	m.mu.Unlock()

	m.logger.Printf("MockAdapter: link dropped")
	if handler != nil {
		handler(m.config.DeviceID)
	}
	return true
}

// Writes returns a copy of everything the central wrote.
func (m *MockAdapter) Writes() []WrittenValue {
	m.writtenValuesMu.RLock()
	defer m.writtenValuesMu.RUnlock()
	writes := make([]WrittenValue, len(m.writtenValues))
	copy(writes, m.writtenValues)
	return writes
}

// State returns a snapshot for the control API.
func (m *MockAdapter) State() MockDeviceState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MockDeviceState{
		DeviceID:       m.config.DeviceID,
		Connected:      m.connected,
		Subscribed:     m.notifyCallback != nil,
		TicksPerSecond: m.ticksPerSecond,
		ServiceMissing: m.serviceMissing,
		Unreachable:    m.unreachable,
		TicksSent:      m.ticksSent,
	}
}

func (m *MockAdapter) tickLoop() {
	const idle = 200 * time.Millisecond
	timer := time.NewTimer(idle)
	defer timer.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-timer.C:
		}

		m.mu.RLock()
		rate := m.ticksPerSecond
		m.mu.RUnlock()

		next := idle
		if rate > 0 {
			m.TriggerNotification()
			next = time.Duration(float64(time.Second) / rate)
		}
		timer.Reset(next)
	}
}

func (m *MockAdapter) recordWrite(uuid string, data []byte) {
	m.logger.Printf("MockAdapter: write %s data=%q", uuid, data)
	m.writtenValuesMu.Lock()
	defer m.writtenValuesMu.Unlock()
	m.writtenValues = append(m.writtenValues, WrittenValue{
		Timestamp:          time.Now(),
		CharacteristicUUID: uuid,
		Data:               append([]byte(nil), data...),
		DataHex:            hex.EncodeToString(data),
		Text:               string(data),
	})
	// Keep only last 100 writes
	if len(m.writtenValues) > 100 {
		m.writtenValues = m.writtenValues[len(m.writtenValues)-100:]
	}
}

type mockPeripheral struct {
	adapter *MockAdapter
}

func (p *mockPeripheral) ID() string {
	return p.adapter.config.DeviceID
}

func (p *mockPeripheral) DiscoverService(uuid string) (Service, error) {
	p.adapter.mu.RLock()
	missing := p.adapter.serviceMissing
	p.adapter.mu.RUnlock()
	if missing || !strings.EqualFold(uuid, ServiceUUIDNordicUART) {
		return nil, fmt.Errorf("%w: %s", ErrServiceMissing, uuid)
	}
	return &mockService{adapter: p.adapter}, nil
}

func (p *mockPeripheral) Disconnect() error {
	p.adapter.mu.Lock()
	defer p.adapter.mu.Unlock()
	p.adapter.connected = false
	p.adapter.notifyCallback = nil
	p.adapter.logger.Printf("MockAdapter: disconnected")
	return nil
}

type mockService struct {
	adapter *MockAdapter
}

func (s *mockService) UUID() string { return ServiceUUIDNordicUART }

func (s *mockService) Characteristics() ([]Characteristic, error) {
	return []Characteristic{
		&mockCharacteristic{adapter: s.adapter, uuid: CharUUIDNordicUARTRX, canWrite: true},
		&mockCharacteristic{adapter: s.adapter, uuid: CharUUIDNordicUARTTX, canNotify: true},
	}, nil
}

type mockCharacteristic struct {
	adapter   *MockAdapter
	uuid      string
	canWrite  bool
	canNotify bool
}

func (c *mockCharacteristic) UUID() string    { return c.uuid }
func (c *mockCharacteristic) CanWrite() bool  { return c.canWrite }
func (c *mockCharacteristic) CanNotify() bool { return c.canNotify }

func (c *mockCharacteristic) Write(data []byte) error {
	if !c.canWrite {
		return fmt.Errorf("characteristic %s is not writable", c.uuid)
	}
	c.adapter.recordWrite(c.uuid, data)
	return nil
}

func (c *mockCharacteristic) EnableNotifications(callback func(buf []byte)) error {
	if !c.canNotify {
		return fmt.Errorf("characteristic %s does not notify", c.uuid)
	}
	c.adapter.mu.Lock()
	defer c.adapter.mu.Unlock()
	if !c.adapter.connected {
		return fmt.Errorf("not connected")
	}
	c.adapter.notifyCallback = callback
	c.adapter.logger.Printf("MockAdapter: notifications enabled on %s", c.uuid)
	return nil
}

func (c *mockCharacteristic) DisableNotifications() error {
	c.adapter.mu.Lock()
	defer c.adapter.mu.Unlock()
	c.adapter.notifyCallback = nil
	c.adapter.logger.Printf("MockAdapter: notifications disabled on %s", c.uuid)
	return nil
}

// --- Control Server ---

// Handler returns the HTTP control API.
func (m *MockAdapter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", m.handleIndex)
	mux.HandleFunc("/api/state", m.handleGetState)
	mux.HandleFunc("/api/set", m.handleSetValues)
	mux.HandleFunc("/api/writes", m.handleGetWrites)
	mux.HandleFunc("/api/trigger-notification", m.handleTriggerNotification)
	mux.HandleFunc("/api/drop-link", m.handleDropLink)
	return mux
}

func (m *MockAdapter) handleIndex(w http.ResponseWriter, r *http.Request) {
	html := `<!DOCTYPE html>
<html>
<head>
    <title>Mock Wheel Sensor</title>
    <style>
        body { font-family: Arial, sans-serif; max-width: 800px; margin: 0 auto; padding: 20px; }
        .section { margin: 20px 0; padding: 15px; border: 1px solid #ccc; border-radius: 5px; }
        button { padding: 10px 20px; margin: 5px; cursor: pointer; }
        .status { padding: 10px; background: #e0e0e0; border-radius: 5px; margin: 10px 0; font-family: monospace; }
    </style>
</head>
<body>
    <h1>Mock Wheel Sensor</h1>
    <div class="section">
        <div id="state" class="status">Loading...</div>
        <button onclick="refreshState()">Refresh</button>
    </div>
    <div class="section">
        <label>Ticks per second:</label>
        <input type="number" id="rate" min="0" max="50" step="0.5" value="0">
        <button onclick="setRate()">Set</button>
        <button onclick="post('/api/trigger-notification')">Single Tick</button>
        <button onclick="post('/api/drop-link')">Drop Link</button>
    </div>
    <script>
        function refreshState() {
            fetch('/api/state').then(r => r.json()).then(data => {
                document.getElementById('state').textContent = JSON.stringify(data, null, 2);
            });
        }
        function setRate() {
            post('/api/set?ticksPerSecond=' + document.getElementById('rate').value);
        }
        function post(url) {
            fetch(url, {method: 'POST'}).then(() => refreshState());
        }
        refreshState();
        setInterval(refreshState, 2000);
    </script>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(html))
}

func (m *MockAdapter) handleGetState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.State())
}

func (m *MockAdapter) handleSetValues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	if s := query.Get("ticksPerSecond"); s != "" {
		rate, err := strconv.ParseFloat(s, 64)
		if err != nil || rate < 0 {
			http.Error(w, "bad ticksPerSecond", http.StatusBadRequest)
			return
		}
		m.SetTicksPerSecond(rate)
	}
	for name, target := range map[string]*bool{
		"serviceMissing": &m.serviceMissing,
		"unreachable":    &m.unreachable,
	} {
		s := query.Get(name)
		if s == "" {
			continue
		}
		v, err := strconv.ParseBool(s)
		if err != nil {
			http.Error(w, "bad "+name, http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		*target = v
		m.mu.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

func (m *MockAdapter) handleGetWrites(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.Writes())
}

func (m *MockAdapter) handleTriggerNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !m.TriggerNotification() {
		http.Error(w, "not subscribed", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (m *MockAdapter) handleDropLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !m.DropLink() {
		http.Error(w, "not connected", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

package bt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/lowaak/bike-computer/internal/go_func_utils"
)

// CapabilityTable says which characteristic UUIDs accept writes and which
// notify. The portable tinygo API does not expose GATT property flags.
type CapabilityTable struct {
	WriteUUIDs  []string
	NotifyUUIDs []string
}

// DefaultCapabilityTable classifies the Nordic UART characteristics.
func DefaultCapabilityTable() CapabilityTable {
	return CapabilityTable{
		WriteUUIDs:  []string{CharUUIDNordicUARTRX},
		NotifyUUIDs: []string{CharUUIDNordicUARTTX},
	}
}

func (t CapabilityTable) canWrite(uuid string) bool  { return containsUUID(t.WriteUUIDs, uuid) }
func (t CapabilityTable) canNotify(uuid string) bool { return containsUUID(t.NotifyUUIDs, uuid) }

func containsUUID(list []string, uuid string) bool {
	for _, u := range list {
		if strings.EqualFold(u, uuid) {
			return true
		}
	}
	return false
}

// TinyGoAdapter drives the host BLE stack through tinygo.org/x/bluetooth.
type TinyGoAdapter struct {
	adapter      *bluetooth.Adapter
	capabilities CapabilityTable
	logger       *log.Logger

	mu       sync.Mutex
	linkLost func(deviceID string)
}

var _ Adapter = (*TinyGoAdapter)(nil)

// NewTinyGoAdapter wraps adapter, usually bluetooth.DefaultAdapter.
func NewTinyGoAdapter(adapter *bluetooth.Adapter, capabilities CapabilityTable, logger *log.Logger) *TinyGoAdapter {
	if adapter == nil {
		panic("TinyGoAdapter: adapter cannot be nil")
	}
	if logger == nil {
		panic("TinyGoAdapter: logger cannot be nil")
	}
	return &TinyGoAdapter{
		adapter:      adapter,
		capabilities: capabilities,
		logger:       logger,
	}
}

func (a *TinyGoAdapter) Enable() error {
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		addressStr := device.Address.String()
		if connected {
			a.logger.Printf("TinyGoAdapter: device connected: %s", addressStr)
			return
		}
		a.logger.Printf("TinyGoAdapter: device disconnected: %s", addressStr)
		a.mu.Lock()
		handler := a.linkLost
		a.mu.Unlock()
		if handler != nil {
			handler(addressStr)
		}
	})
	return a.adapter.Enable()
}

func (a *TinyGoAdapter) SetLinkLostHandler(handler func(deviceID string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.linkLost = handler
}

type connectResult struct {
	device bluetooth.Device
	err    error
}

// Connect issues a direct connect. The stack call itself cannot be
// interrupted, so on cancellation a late success is disconnected in the
// background.
func (a *TinyGoAdapter) Connect(ctx context.Context, deviceID string) (Peripheral, error) {
	address, err := parseAddress(deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad device id %q: %v", ErrDeviceUnreachable, deviceID, err)
	}

	resultCh := make(chan connectResult, 1)
	go_func_utils.SafeGo(a.logger, func() {
		device, err := a.adapter.Connect(address, bluetooth.ConnectionParams{})
		resultCh <- connectResult{device: device, err: err}
	})

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnreachable, res.err)
		}
		return &tinyGoPeripheral{device: res.device, capabilities: a.capabilities, logger: a.logger}, nil
	case <-ctx.Done():
		go_func_utils.SafeGo(a.logger, func() {
			res := <-resultCh
			if res.err == nil {
				a.logger.Printf("TinyGoAdapter: dropping late connection to %s", deviceID)
				if err := res.device.Disconnect(); err != nil {
					a.logger.Printf("TinyGoAdapter: error dropping late connection: %v", err)
				}
			}
		})
		return nil, ctx.Err()
	}
}

type tinyGoPeripheral struct {
	device       bluetooth.Device
	capabilities CapabilityTable
	logger       *log.Logger
}

func (p *tinyGoPeripheral) ID() string {
	return p.device.Address.String()
}

func (p *tinyGoPeripheral) DiscoverService(uuid string) (Service, error) {
	// Discover everything in one pass; discovering a single service on some
	// stacks interrupts services already in use.
	services, err := p.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("error discovering services: %w", err)
	}
	for i := range services {
		svc := services[i]
		p.logger.Printf("TinyGoAdapter: found service %s", svc.UUID().String())
		if strings.EqualFold(svc.UUID().String(), uuid) {
			return &tinyGoService{service: svc, capabilities: p.capabilities}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrServiceMissing, uuid)
}

func (p *tinyGoPeripheral) Disconnect() error {
	return p.device.Disconnect()
}

type tinyGoService struct {
	service      bluetooth.DeviceService
	capabilities CapabilityTable
}

func (s *tinyGoService) UUID() string {
	return s.service.UUID().String()
}

func (s *tinyGoService) Characteristics() ([]Characteristic, error) {
	discovered, err := s.service.DiscoverCharacteristics(nil)
	if err != nil {
		return nil, err
	}
	result := make([]Characteristic, 0, len(discovered))
	for i := range discovered {
		c := discovered[i]
		uuid := c.UUID().String()
		result = append(result, &tinyGoCharacteristic{
			char:      c,
			uuid:      uuid,
			canWrite:  s.capabilities.canWrite(uuid),
			canNotify: s.capabilities.canNotify(uuid),
		})
	}
	return result, nil
}

type tinyGoCharacteristic struct {
	char      bluetooth.DeviceCharacteristic
	uuid      string
	canWrite  bool
	canNotify bool
}

func (c *tinyGoCharacteristic) UUID() string    { return c.uuid }
func (c *tinyGoCharacteristic) CanWrite() bool  { return c.canWrite }
func (c *tinyGoCharacteristic) CanNotify() bool { return c.canNotify }

func (c *tinyGoCharacteristic) Write(data []byte) error {
	if !c.canWrite {
		return errors.New("characteristic is not writable")
	}
	return writeCharacteristic(c.char, data)
}

func (c *tinyGoCharacteristic) EnableNotifications(callback func(buf []byte)) error {
	return c.char.EnableNotifications(callback)
}

func (c *tinyGoCharacteristic) DisableNotifications() error {
	return c.char.EnableNotifications(nil)
}

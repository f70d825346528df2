package bt

import (
	"context"
	"time"
)

// Adapter is the platform BLE central the LinkManager drives.
type Adapter interface {
	Enable() error
	// Connect performs a direct connect to a known peripheral, without scanning.
	// It returns ctx.Err() when ctx ends first.
	Connect(ctx context.Context, deviceID string) (Peripheral, error)
	// SetLinkLostHandler installs the callback fired when the stack reports
	// that a peripheral dropped.
	SetLinkLostHandler(handler func(deviceID string))
}

// Peripheral is a connected remote device.
type Peripheral interface {
	ID() string
	// DiscoverService returns ErrServiceMissing when the service is absent.
	DiscoverService(uuid string) (Service, error)
	Disconnect() error
}

// Service is a GATT service on a connected peripheral.
type Service interface {
	UUID() string
	Characteristics() ([]Characteristic, error)
}

// Characteristic is a GATT characteristic classified by capability.
type Characteristic interface {
	UUID() string
	CanWrite() bool
	CanNotify() bool
	Write(data []byte) error
	EnableNotifications(callback func(buf []byte)) error
	DisableNotifications() error
}

// TickRecorder receives one timestamp per notification.
type TickRecorder interface {
	Record(t time.Time)
}

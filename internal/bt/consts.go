package bt

// Nordic UART Service, the profile the wheel sensor firmware exposes.
const (
	ServiceUUIDNordicUART = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	CharUUIDNordicUARTRX  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e" // central writes here
	CharUUIDNordicUARTTX  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e" // peripheral notifies here
)

const (
	// DefaultDeviceID is the platform identity of the paired sensor.
	DefaultDeviceID = "f971f253-ae40-3ea7-f5e0-336be023f148"
	// DefaultGreeting is written once after the characteristics are resolved.
	DefaultGreeting = "Hello Android!"
)

// ConnectionState is the state of the single sensor link.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// Label is the text shown on the connection button.
func (s ConnectionState) Label() string {
	return "BT Options (" + s.String() + ")"
}

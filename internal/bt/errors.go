package bt

import "errors"

var (
	ErrDeviceUnreachable     = errors.New("device unreachable")
	ErrServiceMissing        = errors.New("service missing")
	ErrCharacteristicMissing = errors.New("characteristic missing")
	ErrConnectCancelled      = errors.New("connect cancelled")
	ErrHandshakeFailed       = errors.New("handshake failed")
	ErrInvalidState          = errors.New("invalid connection state")
)

// IsCancelled reports whether err is the expected outcome of an operator
// cancelling a connect, as opposed to a real failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrConnectCancelled)
}

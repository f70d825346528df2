//go:build darwin

package bt

import "tinygo.org/x/bluetooth"

// CoreBluetooth hides MAC addresses; peripherals are identified by a UUID.
func parseAddress(deviceID string) (bluetooth.Address, error) {
	id, err := bluetooth.ParseUUID(deviceID)
	if err != nil {
		return bluetooth.Address{}, err
	}
	return bluetooth.Address{UUID: id}, nil
}

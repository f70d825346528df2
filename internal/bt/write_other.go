//go:build !darwin && !windows

package bt

import "tinygo.org/x/bluetooth"

// BlueZ and the other backends only offer write without response.
func writeCharacteristic(char bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := char.WriteWithoutResponse(data)
	return err
}

//go:build darwin || windows

package bt

import "tinygo.org/x/bluetooth"

// CoreBluetooth and WinRT expose an acknowledged write.
func writeCharacteristic(char bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := char.Write(data)
	return err
}

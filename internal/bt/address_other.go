//go:build !darwin

package bt

import "tinygo.org/x/bluetooth"

func parseAddress(deviceID string) (bluetooth.Address, error) {
	mac, err := bluetooth.ParseMAC(deviceID)
	if err != nil {
		return bluetooth.Address{}, err
	}
	return bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, nil
}

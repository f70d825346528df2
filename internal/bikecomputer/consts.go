package bikecomputer

// BTAction is one entry of the Bluetooth options menu.
type BTAction int

const (
	BTActionCancel BTAction = iota
	BTActionConnect
	BTActionDisconnect
	BTActionStopConnecting
)

// BTActionInfo contains display information for a menu entry
type BTActionInfo struct {
	Action      BTAction
	DisplayName string
}

// AllBTActions defines the menu entries in display order
var AllBTActions = []BTActionInfo{
	{Action: BTActionDisconnect, DisplayName: "Disconnect"},
	{Action: BTActionConnect, DisplayName: "Connect"},
	{Action: BTActionStopConnecting, DisplayName: "Stop Connecting"},
	{Action: BTActionCancel, DisplayName: "Cancel"},
}

// GetBTActionByName returns the action for a menu label
func GetBTActionByName(name string) (BTAction, bool) {
	for _, info := range AllBTActions {
		if info.DisplayName == name {
			return info.Action, true
		}
	}
	return BTActionCancel, false
}

// BTActionNames returns the menu labels in display order
func BTActionNames() []string {
	names := make([]string, 0, len(AllBTActions))
	for _, info := range AllBTActions {
		names = append(names, info.DisplayName)
	}
	return names
}

const (
	btMenuTitle     = "Bluetooth Controls"
	trailPromptText = "What is this trail's name?"
	trailPromptName = "Name Trail"

	// Placeholder shown until a source has produced a value
	noReading = "--"
)

const keyHelpText = "[yellow]B[white] BT Options  |  [yellow]T[white] Trailblazing  |  [yellow]C[white] Connect  |  [yellow]D[white] Disconnect  |  [yellow]Esc[white] Quit"

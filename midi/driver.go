package midi

// Driver is a MIDI backend. It enumerates endpoints and creates or releases
// the device for an endpoint as ports subscribe and unsubscribe. Whether
// several ports share one device is up to the driver.
//
// Any method may fail; ports treat every failure as non-fatal.
type Driver interface {
	Name() string

	InputDeviceIDs() ([]int, error)
	InputDeviceName(deviceID int) (string, error)
	SubscribeInput(deviceID int, in *Input) (*InputDevice, error)
	UnsubscribeInput(deviceID int, in *Input) error

	OutputDeviceIDs() ([]int, error)
	OutputDeviceName(deviceID int) (string, error)
	SubscribeOutput(deviceID int, out *Output) (*OutputDevice, error)
	UnsubscribeOutput(deviceID int, out *Output) error

	// Close releases every device the driver still holds.
	Close() error
}

// Device is an open endpoint owned by a driver.
type Device interface {
	Name() string
}

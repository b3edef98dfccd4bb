package midi

import "sync/atomic"

// Output sends messages to an output device.
type Output struct {
	port

	sink     atomic.Pointer[OutputDevice]
	failures atomic.Uint64
}

// NewOutput returns an output bound to the fallback driver on channel 0.
func NewOutput(ctx *Context) *Output {
	out := &Output{}
	out.port.init(ctx, out)
	out.Reset()
	return out
}

// SendMessage sends a copy of msg to the bound device, rewriting the channel
// of channel messages unless the port channel is -1. Without a device the
// message is dropped. Failures are counted, not logged.
func (out *Output) SendMessage(msg Message) {
	dev := out.sink.Load()
	if dev == nil {
		return
	}
	if !msg.IsSystem() {
		if ch := out.Channel(); ch >= 0 {
			msg.SetChannel(ch)
		}
	}
	if err := dev.SendMessage(msg); err != nil {
		out.failures.Add(1)
	}
}

// SendFailures returns how many sends the device rejected.
func (out *Output) SendFailures() uint64 {
	return out.failures.Load()
}

func (out *Output) kind() string { return "output" }

func (out *Output) defaultChannel() int { return 0 }

func (out *Output) channels() []int { return OutputChannels() }

func (out *Output) deviceIDs(d Driver) ([]int, error) {
	return d.OutputDeviceIDs()
}

func (out *Output) deviceName(d Driver, deviceID int) (string, error) {
	return d.OutputDeviceName(deviceID)
}

func (out *Output) subscribe(d Driver, deviceID int) (Device, error) {
	dev, err := d.SubscribeOutput(deviceID, out)
	if err != nil || dev == nil {
		return nil, err
	}
	out.sink.Store(dev)
	return dev, nil
}

func (out *Output) unsubscribe(d Driver, deviceID int) error {
	out.sink.Store(nil)
	return d.UnsubscribeOutput(deviceID, out)
}

package midi

import "fmt"

// InputFunc receives messages on the goroutine of the delivering device.
// It must not block.
type InputFunc func(ctx *Context, msg Message)

// Input receives messages from an input device.
type Input struct {
	port
	fn InputFunc
}

// NewInput returns an input bound to the fallback driver, listening on all
// channels. fn may be nil.
func NewInput(ctx *Context, fn InputFunc) *Input {
	in := &Input{fn: fn}
	in.port.init(ctx, in)
	in.Reset()
	return in
}

// receive runs fn, isolating the device from a panicking callback so the
// remaining subscribers still get the message.
func (in *Input) receive(msg Message) {
	if in.fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			in.ctx.Logger.Error("midi: input callback panicked", "panic", fmt.Sprint(r))
		}
	}()
	in.fn(in.ctx, msg)
}

func (in *Input) kind() string { return "input" }

func (in *Input) defaultChannel() int { return AllChannels }

func (in *Input) channels() []int { return InputChannels() }

func (in *Input) deviceIDs(d Driver) ([]int, error) {
	return d.InputDeviceIDs()
}

func (in *Input) deviceName(d Driver, deviceID int) (string, error) {
	return d.InputDeviceName(deviceID)
}

func (in *Input) subscribe(d Driver, deviceID int) (Device, error) {
	dev, err := d.SubscribeInput(deviceID, in)
	if err != nil || dev == nil {
		return nil, err
	}
	return dev, nil
}

func (in *Input) unsubscribe(d Driver, deviceID int) error {
	return d.UnsubscribeInput(deviceID, in)
}

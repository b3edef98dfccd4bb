package midi

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// endpoint holds the direction-specific half of a port.
type endpoint interface {
	kind() string
	defaultChannel() int
	channels() []int
	deviceIDs(d Driver) ([]int, error)
	deviceName(d Driver, deviceID int) (string, error)
	subscribe(d Driver, deviceID int) (Device, error)
	unsubscribe(d Driver, deviceID int) error
}

// port is the binding state machine shared by Input and Output:
//
//	unbound       driver == nil, deviceID == -1
//	driver bound  driver != nil, deviceID == -1
//	device bound  driver != nil, deviceID >= 0, subscribed to device
type port struct {
	ctx *Context
	ep  endpoint

	mu       sync.Mutex
	driver   Driver
	driverID int
	device   Device
	deviceID int

	// Read by the device goroutine during fan-out.
	channel atomic.Int32
}

func (p *port) init(ctx *Context, ep endpoint) {
	if ctx == nil {
		ctx = NewContext(nil)
	}
	p.ctx = ctx
	p.ep = ep
	p.driverID = -1
	p.deviceID = -1
	p.channel.Store(int32(ep.defaultChannel()))
}

// Context returns the context the port was created with.
func (p *port) Context() *Context {
	return p.ctx
}

// Reset binds the port to the fallback driver with no device and restores
// the default channel.
func (p *port) Reset() {
	p.SetDriverID(-1)
	p.channel.Store(int32(p.ep.defaultChannel()))
}

// Driver returns the bound driver, or nil.
func (p *port) Driver() Driver {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.driver
}

// DriverID returns the bound driver ID, or -1.
func (p *port) DriverID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.driverID
}

// SetDriverID unbinds the current device and binds driver id. Unknown IDs,
// including -1, bind the first registered driver instead; with no drivers
// registered the port stays unbound.
func (p *port) SetDriverID(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.unbindDevice()
	p.driver = nil
	p.driverID = -1

	reg := p.ctx.Registry
	if d, ok := reg.Driver(id); ok {
		p.driver = d
		p.driverID = id
		return
	}
	if fid, d, ok := reg.Fallback(); ok {
		p.driver = d
		p.driverID = fid
	}
}

// Device returns the bound device, or nil.
func (p *port) Device() Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device
}

// DeviceID returns the bound device ID, or -1.
func (p *port) DeviceID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deviceID
}

// SetDeviceID unsubscribes from the current device and, when id >= 0 and a
// driver is bound, subscribes to device id. A driver failure leaves the port
// without a device.
func (p *port) SetDeviceID(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.unbindDevice()
	if id < 0 || p.driver == nil {
		return
	}

	dev, err := p.ep.subscribe(p.driver, id)
	if err != nil {
		p.ctx.driverError("midi: port could not subscribe to device", &DriverError{
			Kind: ErrDriverSubscribe, Op: "subscribe " + p.ep.kind(),
			DriverID: p.driverID, DeviceID: id, Err: err,
		}, "port", p.ep.kind())
		return
	}
	if dev == nil {
		// Release whatever the driver registered before giving up.
		_ = p.ep.unsubscribe(p.driver, id)
		p.ctx.driverError("midi: port could not subscribe to device", &DriverError{
			Kind: ErrDriverSubscribe, Op: "subscribe " + p.ep.kind(),
			DriverID: p.driverID, DeviceID: id, Err: ErrNoDevice,
		}, "port", p.ep.kind())
		return
	}
	p.device = dev
	p.deviceID = id
}

// unbindDevice must be called with mu held. Local state is cleared even if
// the driver fails.
func (p *port) unbindDevice() {
	if p.driver != nil && p.deviceID >= 0 {
		if err := p.ep.unsubscribe(p.driver, p.deviceID); err != nil {
			p.ctx.driverError("midi: port could not unsubscribe from device", &DriverError{
				Kind: ErrDriverUnsubscribe, Op: "unsubscribe " + p.ep.kind(),
				DriverID: p.driverID, DeviceID: p.deviceID, Err: err,
			}, "port", p.ep.kind())
		}
	}
	p.device = nil
	p.deviceID = -1
}

func (p *port) boundDriver() (Driver, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.driver, p.driverID
}

// DeviceIDs lists the devices of the bound driver.
func (p *port) DeviceIDs() []int {
	d, driverID := p.boundDriver()
	if d == nil {
		return nil
	}
	ids, err := p.ep.deviceIDs(d)
	if err != nil {
		p.ctx.driverError("midi: port could not get device IDs", &DriverError{
			Kind: ErrDriverQuery, Op: p.ep.kind() + " device ids",
			DriverID: driverID, DeviceID: -1, Err: err,
		}, "port", p.ep.kind())
		return nil
	}
	return ids
}

// DeviceName returns the name of a device of the bound driver, or "".
func (p *port) DeviceName(deviceID int) string {
	d, driverID := p.boundDriver()
	if d == nil {
		return ""
	}
	name, err := p.ep.deviceName(d, deviceID)
	if err != nil {
		p.ctx.driverError("midi: port could not get device name", &DriverError{
			Kind: ErrDriverQuery, Op: p.ep.kind() + " device name",
			DriverID: driverID, DeviceID: deviceID, Err: err,
		}, "port", p.ep.kind())
		return ""
	}
	return name
}

// Channel returns the port channel.
func (p *port) Channel() int {
	return int(p.channel.Load())
}

// SetChannel sets the channel; -1 means all channels on an input and
// passthrough on an output.
func (p *port) SetChannel(channel int) error {
	if !validChannel(channel) {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	p.channel.Store(int32(channel))
	return nil
}

// Channels lists the channels offered for selection.
func (p *port) Channels() []int {
	return p.ep.channels()
}

// Close unsubscribes from the device and releases the driver. The port must
// be closed before it is dropped so no device keeps a reference to it.
func (p *port) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unbindDevice()
	p.driver = nil
	p.driverID = -1
}

// PortState is the persisted form of a port binding.
type PortState struct {
	Driver     *int   `json:"driver,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
	Channel    *int   `json:"channel,omitempty"`
}

// State captures the current binding.
func (p *port) State() PortState {
	p.mu.Lock()
	driverID := p.driverID
	var deviceName string
	if p.device != nil {
		deviceName = p.device.Name()
	}
	p.mu.Unlock()

	channel := p.Channel()
	return PortState{
		Driver:     &driverID,
		DeviceName: deviceName,
		Channel:    &channel,
	}
}

// Restore rebinds the port from s: driver first (falling back like
// SetDriverID), then the first device whose name equals s.DeviceName, then
// the channel, which is taken as-is.
func (p *port) Restore(s PortState) {
	driverID := -1
	if s.Driver != nil {
		driverID = *s.Driver
	}
	p.SetDriverID(driverID)

	if s.DeviceName != "" && p.Driver() != nil {
		for _, id := range p.DeviceIDs() {
			if p.DeviceName(id) == s.DeviceName {
				p.SetDeviceID(id)
				break
			}
		}
	}

	if s.Channel != nil {
		p.channel.Store(int32(*s.Channel))
	}
}

func (p *port) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.State())
}

func (p *port) UnmarshalJSON(data []byte) error {
	var s PortState
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to unmarshal port state: %w", err)
	}
	p.Restore(s)
	return nil
}

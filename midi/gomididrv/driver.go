// Package gomididrv exposes a gitlab.com/gomidi/midi/v2 driver (rtmidi,
// portmidi, webmidi, ...) as a midi.Driver.
//
// Device IDs are the port numbers reported by the wrapped driver. Virtual
// outputs opened through AddVirtualOutput are numbered from VirtualIDBase.
// All ports subscribed to the same device ID share one midi device; the
// underlying port is opened on the first subscription and closed after the
// last one goes away.
package gomididrv

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/leafo/midiports/midi"
)

// VirtualIDBase is the device ID of the first virtual output.
const VirtualIDBase = 1000

// virtualOpener is implemented by rtmididrv.Driver.
type virtualOpener interface {
	OpenVirtualOut(name string) (drivers.Out, error)
}

type inputConn struct {
	port drivers.In
	dev  *midi.InputDevice
	stop func()
}

type outputConn struct {
	port    drivers.Out
	dev     *midi.OutputDevice
	virtual bool
}

type virtualOut struct {
	name string
	port drivers.Out
}

// Driver adapts a gomidi driver.
type Driver struct {
	drv    drivers.Driver
	clock  midi.Clock
	logger *slog.Logger

	mu      sync.Mutex
	inputs  map[int]*inputConn
	outputs map[int]*outputConn
	virtual []virtualOut
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock sets the clock input devices stamp messages with.
func WithClock(clock midi.Clock) Option {
	return func(d *Driver) {
		d.clock = clock
	}
}

// WithLogger sets the logger for listener errors.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// New wraps drv. The returned driver owns drv and closes it in Close.
func New(drv drivers.Driver, opts ...Option) *Driver {
	d := &Driver{
		drv:     drv,
		logger:  slog.Default(),
		inputs:  make(map[int]*inputConn),
		outputs: make(map[int]*outputConn),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Name() string {
	return d.drv.String()
}

func (d *Driver) InputDeviceIDs() ([]int, error) {
	ins, err := d.drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("failed to get MIDI inputs: %w", err)
	}
	ids := make([]int, 0, len(ins))
	for _, in := range ins {
		ids = append(ids, in.Number())
	}
	return ids, nil
}

func (d *Driver) findIn(id int) (drivers.In, error) {
	ins, err := d.drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("failed to get MIDI inputs: %w", err)
	}
	for _, in := range ins {
		if in.Number() == id {
			return in, nil
		}
	}
	return nil, fmt.Errorf("input %d: %w", id, midi.ErrNoDevice)
}

func (d *Driver) InputDeviceName(id int) (string, error) {
	in, err := d.findIn(id)
	if err != nil {
		return "", err
	}
	return in.String(), nil
}

// SubscribeInput starts listening on input id for its first subscriber.
func (d *Driver) SubscribeInput(id int, in *midi.Input) (*midi.InputDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if conn, ok := d.inputs[id]; ok {
		conn.dev.Subscribe(in)
		return conn.dev, nil
	}

	port, err := d.findIn(id)
	if err != nil {
		return nil, err
	}
	name := port.String()
	if !port.IsOpen() {
		if err := port.Open(); err != nil {
			return nil, fmt.Errorf("open %q: %w", name, err)
		}
	}

	dev := midi.NewInputDevice(name, d.clock)
	stop, err := gomidi.ListenTo(port, func(msg gomidi.Message, _ int32) {
		// The device stamps the message; gomidi timestamps are relative to
		// port open.
		m, ok := midi.MessageFromBytes(msg)
		if !ok {
			return
		}
		dev.OnMessage(m)
	}, gomidi.HandleError(func(err error) {
		d.logger.Warn("midi: listener error", "device", name, "err", err)
	}))
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("listen %q: %w", name, err)
	}

	d.inputs[id] = &inputConn{port: port, dev: dev, stop: stop}
	dev.Subscribe(in)
	d.logger.Debug("midi: input opened", "device", name)
	return dev, nil
}

// UnsubscribeInput stops listening once the last subscriber leaves.
func (d *Driver) UnsubscribeInput(id int, in *midi.Input) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	conn, ok := d.inputs[id]
	if !ok {
		return fmt.Errorf("input %d: %w", id, midi.ErrNoDevice)
	}
	conn.dev.Unsubscribe(in)
	if conn.dev.Len() > 0 {
		return nil
	}
	delete(d.inputs, id)
	return closeInput(conn)
}

func closeInput(conn *inputConn) error {
	conn.stop()
	if err := conn.port.Close(); err != nil {
		return fmt.Errorf("close %q: %w", conn.dev.Name(), err)
	}
	return nil
}

func (d *Driver) outs() ([]drivers.Out, []int, error) {
	outs, err := d.drv.Outs()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get MIDI outputs: %w", err)
	}
	ids := make([]int, 0, len(outs)+len(d.virtual))
	for _, out := range outs {
		ids = append(ids, out.Number())
	}
	d.mu.Lock()
	for i, v := range d.virtual {
		outs = append(outs, v.port)
		ids = append(ids, VirtualIDBase+i)
	}
	d.mu.Unlock()
	return outs, ids, nil
}

func (d *Driver) OutputDeviceIDs() ([]int, error) {
	_, ids, err := d.outs()
	return ids, err
}

func (d *Driver) OutputDeviceName(id int) (string, error) {
	if v, ok := d.virtualOut(id); ok {
		return v.name, nil
	}
	out, err := d.findOut(id)
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

func (d *Driver) virtualOut(id int) (virtualOut, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := id - VirtualIDBase
	if i < 0 || i >= len(d.virtual) {
		return virtualOut{}, false
	}
	return d.virtual[i], true
}

func (d *Driver) findOut(id int) (drivers.Out, error) {
	outs, err := d.drv.Outs()
	if err != nil {
		return nil, fmt.Errorf("failed to get MIDI outputs: %w", err)
	}
	for _, out := range outs {
		if out.Number() == id {
			return out, nil
		}
	}
	return nil, fmt.Errorf("output %d: %w", id, midi.ErrNoDevice)
}

// SubscribeOutput opens output id for its first subscriber.
func (d *Driver) SubscribeOutput(id int, out *midi.Output) (*midi.OutputDevice, error) {
	v, isVirtual := d.virtualOut(id)

	d.mu.Lock()
	defer d.mu.Unlock()

	if conn, ok := d.outputs[id]; ok {
		conn.dev.Subscribe(out)
		return conn.dev, nil
	}

	var port drivers.Out
	name := v.name
	if isVirtual {
		port = v.port
	} else {
		var err error
		if port, err = d.findOut(id); err != nil {
			return nil, err
		}
		name = port.String()
		if !port.IsOpen() {
			if err := port.Open(); err != nil {
				return nil, fmt.Errorf("open %q: %w", name, err)
			}
		}
	}

	send, err := gomidi.SendTo(port)
	if err != nil {
		return nil, fmt.Errorf("failed to create sender for %q: %w", name, err)
	}
	dev := midi.NewOutputDevice(name, func(msg midi.Message) error {
		return send(msg.Data())
	})

	d.outputs[id] = &outputConn{port: port, dev: dev, virtual: isVirtual}
	dev.Subscribe(out)
	d.logger.Debug("midi: output opened", "device", name)
	return dev, nil
}

// UnsubscribeOutput closes the port once the last subscriber leaves.
// Virtual ports stay open until Close.
func (d *Driver) UnsubscribeOutput(id int, out *midi.Output) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	conn, ok := d.outputs[id]
	if !ok {
		return fmt.Errorf("output %d: %w", id, midi.ErrNoDevice)
	}
	conn.dev.Unsubscribe(out)
	if conn.dev.Len() > 0 {
		return nil
	}
	delete(d.outputs, id)
	if conn.virtual {
		return nil
	}
	if err := conn.port.Close(); err != nil {
		return fmt.Errorf("close %q: %w", conn.dev.Name(), err)
	}
	return nil
}

// AddVirtualOutput opens a virtual output port other applications can
// read from and returns its device ID.
func (d *Driver) AddVirtualOutput(name string) (int, error) {
	opener, ok := d.drv.(virtualOpener)
	if !ok {
		return -1, midi.ErrVirtualUnsupported
	}
	port, err := opener.OpenVirtualOut(name)
	if err != nil {
		return -1, fmt.Errorf("failed to create virtual output %q: %w", name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.virtual = append(d.virtual, virtualOut{name: name, port: port})
	return VirtualIDBase + len(d.virtual) - 1, nil
}

// Close stops every listener, closes every port and the wrapped driver.
func (d *Driver) Close() error {
	d.mu.Lock()
	inputs, outputs, virtual := d.inputs, d.outputs, d.virtual
	d.inputs = make(map[int]*inputConn)
	d.outputs = make(map[int]*outputConn)
	d.virtual = nil
	d.mu.Unlock()

	var errs []error
	for _, conn := range inputs {
		if err := closeInput(conn); err != nil {
			errs = append(errs, err)
		}
	}
	for _, conn := range outputs {
		if conn.virtual {
			continue
		}
		if err := conn.port.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", conn.dev.Name(), err))
		}
	}
	for _, v := range virtual {
		if err := v.port.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", v.name, err))
		}
	}
	if err := d.drv.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close driver: %w", err))
	}
	return errors.Join(errs...)
}

var _ midi.Driver = (*Driver)(nil)

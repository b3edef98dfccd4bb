// Package serialdrv drives DIN MIDI interfaces attached to a serial port
// (USB-UART adapters, microcontroller boards). Every serial port is both
// an input and an output device with the same ID.
package serialdrv

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/leafo/midiports/midi"
)

// BaudRate is the DIN MIDI line rate.
const BaudRate = 31250

const defaultReadTimeout = 100 * time.Millisecond

// Conn is an open serial port.
type Conn interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens a serial port by name.
type Opener func(name string, baud int) (Conn, error)

// Lister lists serial port names.
type Lister func() ([]string, error)

func openSerial(name string, baud int) (Conn, error) {
	return serial.Open(name, &serial.Mode{BaudRate: baud})
}

type conn struct {
	name string
	port Conn
	in   *midi.InputDevice
	out  *midi.OutputDevice

	writeMu sync.Mutex
	done    chan struct{}
	stopped chan struct{}
}

func (c *conn) write(msg midi.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.port.Write(msg.Data())
	return err
}

// Driver is a midi.Driver over serial ports.
type Driver struct {
	baud        int
	open        Opener
	list        Lister
	clock       midi.Clock
	logger      *slog.Logger
	readTimeout time.Duration

	mu    sync.Mutex
	ids   map[string]int
	names []string
	conns map[int]*conn
}

// Option configures a Driver.
type Option func(*Driver)

// WithBaudRate overrides BaudRate, for adapters that remap the line speed.
func WithBaudRate(baud int) Option {
	return func(d *Driver) { d.baud = baud }
}

// WithPorts replaces serial port enumeration and opening.
func WithPorts(list Lister, open Opener) Option {
	return func(d *Driver) {
		d.list = list
		d.open = open
	}
}

// WithClock sets the clock input devices stamp messages with.
func WithClock(clock midi.Clock) Option {
	return func(d *Driver) { d.clock = clock }
}

// WithLogger sets the logger for read errors.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

func New(opts ...Option) *Driver {
	d := &Driver{
		baud:        BaudRate,
		open:        openSerial,
		list:        serial.GetPortsList,
		logger:      slog.Default(),
		readTimeout: defaultReadTimeout,
		ids:         make(map[string]int),
		conns:       make(map[int]*conn),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Name() string {
	return "Serial MIDI"
}

// deviceIDs assigns IDs to newly seen ports; an ID keeps naming the same
// port for the life of the driver.
func (d *Driver) deviceIDs() ([]int, error) {
	names, err := d.list()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]int, 0, len(names))
	for _, name := range names {
		id, ok := d.ids[name]
		if !ok {
			id = len(d.names)
			d.ids[name] = id
			d.names = append(d.names, name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (d *Driver) deviceName(id int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id < 0 || id >= len(d.names) {
		return "", fmt.Errorf("serial device %d: %w", id, midi.ErrNoDevice)
	}
	return d.names[id], nil
}

func (d *Driver) InputDeviceIDs() ([]int, error)          { return d.deviceIDs() }
func (d *Driver) InputDeviceName(id int) (string, error)  { return d.deviceName(id) }
func (d *Driver) OutputDeviceIDs() ([]int, error)         { return d.deviceIDs() }
func (d *Driver) OutputDeviceName(id int) (string, error) { return d.deviceName(id) }

// acquire must be called with mu held.
func (d *Driver) acquire(id int) (*conn, error) {
	if c, ok := d.conns[id]; ok {
		return c, nil
	}
	if id < 0 || id >= len(d.names) {
		return nil, fmt.Errorf("serial device %d: %w", id, midi.ErrNoDevice)
	}
	name := d.names[id]
	port, err := d.open(name, d.baud)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", name, err)
	}
	if err := port.SetReadTimeout(d.readTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout on %q: %w", name, err)
	}

	c := &conn{
		name:    name,
		port:    port,
		in:      midi.NewInputDevice(name, d.clock),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	c.out = midi.NewOutputDevice(name, c.write)
	d.conns[id] = c
	go d.readLoop(c)
	d.logger.Debug("midi: serial port opened", "device", name, "baud", d.baud)
	return c, nil
}

// release must be called with mu held. The port is closed once neither
// side has subscribers.
func (d *Driver) release(id int, c *conn) error {
	if c.in.Len()+c.out.Len() > 0 {
		return nil
	}
	delete(d.conns, id)
	return closeConn(c)
}

func closeConn(c *conn) error {
	close(c.done)
	err := c.port.Close()
	<-c.stopped
	if err != nil {
		return fmt.Errorf("close %q: %w", c.name, err)
	}
	return nil
}

func (d *Driver) readLoop(c *conn) {
	defer close(c.stopped)

	var f Framer
	buf := make([]byte, 64)
	for {
		select {
		case <-c.done:
			return
		default:
		}
		n, err := c.port.Read(buf)
		if err != nil {
			select {
			case <-c.done:
			default:
				d.logger.Warn("midi: serial read failed", "device", c.name, "err", err)
			}
			return
		}
		for _, b := range buf[:n] {
			if msg, ok := f.Feed(b); ok {
				c.in.OnMessage(msg)
			}
		}
	}
}

func (d *Driver) SubscribeInput(id int, in *midi.Input) (*midi.InputDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.acquire(id)
	if err != nil {
		return nil, err
	}
	c.in.Subscribe(in)
	return c.in, nil
}

func (d *Driver) UnsubscribeInput(id int, in *midi.Input) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conns[id]
	if !ok {
		return fmt.Errorf("serial device %d: %w", id, midi.ErrNoDevice)
	}
	c.in.Unsubscribe(in)
	return d.release(id, c)
}

func (d *Driver) SubscribeOutput(id int, out *midi.Output) (*midi.OutputDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.acquire(id)
	if err != nil {
		return nil, err
	}
	c.out.Subscribe(out)
	return c.out, nil
}

func (d *Driver) UnsubscribeOutput(id int, out *midi.Output) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conns[id]
	if !ok {
		return fmt.Errorf("serial device %d: %w", id, midi.ErrNoDevice)
	}
	c.out.Unsubscribe(out)
	return d.release(id, c)
}

// Close closes every open serial port.
func (d *Driver) Close() error {
	d.mu.Lock()
	conns := d.conns
	d.conns = make(map[int]*conn)
	d.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := closeConn(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ midi.Driver = (*Driver)(nil)

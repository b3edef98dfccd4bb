// Package loopback provides virtual MIDI cables inside the process. Every
// device has an output side and an input side; messages sent to the output
// are delivered to the ports listening on the input.
package loopback

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/leafo/midiports/midi"
)

type cable struct {
	in      *midi.InputDevice
	out     *midi.OutputDevice
	removed atomic.Bool
}

// Driver is a set of virtual cables.
type Driver struct {
	name  string
	clock midi.Clock

	mu     sync.Mutex
	cables map[int]*cable
	next   int

	// Unplugged cables that still have subscribers.
	removed map[int]*cable
}

// New returns a driver without devices. A nil clock means midi.WallClock.
func New(name string, clock midi.Clock) *Driver {
	return &Driver{
		name:   name,
		clock:  clock,
		cables:  make(map[int]*cable),
		removed: make(map[int]*cable),
	}
}

// AddDevice creates a cable and returns its device ID. IDs are never reused.
func (d *Driver) AddDevice(name string) int {
	c := &cable{in: midi.NewInputDevice(name, d.clock)}
	c.out = midi.NewOutputDevice(name, func(msg midi.Message) error {
		if c.removed.Load() {
			return midi.ErrNoDevice
		}
		c.in.OnMessage(msg)
		return nil
	})

	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.next
	d.next++
	d.cables[id] = c
	return id
}

// AddVirtualOutput returns the ID of the cable named name, creating it when
// none exists.
func (d *Driver) AddVirtualOutput(name string) (int, error) {
	d.mu.Lock()
	for _, id := range slices.Sorted(maps.Keys(d.cables)) {
		if d.cables[id].in.Name() == name {
			d.mu.Unlock()
			return id, nil
		}
	}
	d.mu.Unlock()
	return d.AddDevice(name), nil
}

// RemoveDevice unplugs a cable. Ports still bound to it stop receiving and
// their sends fail until they rebind. Unsubscribing from an unplugged cable
// reports midi.ErrNoDevice but still detaches the port.
func (d *Driver) RemoveDevice(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.cables[id]; ok {
		c.removed.Store(true)
		delete(d.cables, id)
		if c.in.Len()+c.out.Len() > 0 {
			d.removed[id] = c
		}
	}
}

// detach runs unsubscribe on cable id, unplugged or not. Unplugged cables
// yield midi.ErrNoDevice.
func (d *Driver) detach(id int, unsubscribe func(*cable)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.cables[id]; ok {
		unsubscribe(c)
		return nil
	}
	c, ok := d.removed[id]
	if !ok {
		return fmt.Errorf("loopback device %d: %w", id, midi.ErrNoDevice)
	}
	unsubscribe(c)
	if c.in.Len()+c.out.Len() == 0 {
		delete(d.removed, id)
	}
	return fmt.Errorf("loopback device %d unplugged: %w", id, midi.ErrNoDevice)
}

func (d *Driver) cable(id int) (*cable, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cables[id]
	if !ok {
		return nil, fmt.Errorf("loopback device %d: %w", id, midi.ErrNoDevice)
	}
	return c, nil
}

func (d *Driver) Name() string {
	return d.name
}

func (d *Driver) ids() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Sorted(maps.Keys(d.cables))
}

func (d *Driver) InputDeviceIDs() ([]int, error) {
	return d.ids(), nil
}

func (d *Driver) InputDeviceName(id int) (string, error) {
	c, err := d.cable(id)
	if err != nil {
		return "", err
	}
	return c.in.Name(), nil
}

func (d *Driver) SubscribeInput(id int, in *midi.Input) (*midi.InputDevice, error) {
	c, err := d.cable(id)
	if err != nil {
		return nil, err
	}
	c.in.Subscribe(in)
	return c.in, nil
}

func (d *Driver) UnsubscribeInput(id int, in *midi.Input) error {
	return d.detach(id, func(c *cable) { c.in.Unsubscribe(in) })
}

func (d *Driver) OutputDeviceIDs() ([]int, error) {
	return d.ids(), nil
}

func (d *Driver) OutputDeviceName(id int) (string, error) {
	c, err := d.cable(id)
	if err != nil {
		return "", err
	}
	return c.out.Name(), nil
}

func (d *Driver) SubscribeOutput(id int, out *midi.Output) (*midi.OutputDevice, error) {
	c, err := d.cable(id)
	if err != nil {
		return nil, err
	}
	c.out.Subscribe(out)
	return c.out, nil
}

func (d *Driver) UnsubscribeOutput(id int, out *midi.Output) error {
	return d.detach(id, func(c *cable) { c.out.Unsubscribe(out) })
}

// Close unplugs every cable.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, c := range d.cables {
		c.removed.Store(true)
		delete(d.cables, id)
	}
	clear(d.removed)
	return nil
}

var _ midi.Driver = (*Driver)(nil)

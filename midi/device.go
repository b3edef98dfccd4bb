package midi

import (
	"slices"
	"sync"
	"sync/atomic"
)

// InputDevice fans incoming messages out to the subscribed inputs.
//
// The subscriber list is copy-on-write: Subscribe and Unsubscribe build a new
// slice under mu and publish it atomically, so OnMessage reads a consistent
// snapshot without locking. An input removed while a message is being
// delivered may still receive that message, but never a later one.
type InputDevice struct {
	name  string
	clock Clock

	mu   sync.Mutex
	subs atomic.Pointer[[]*Input]
}

// NewInputDevice returns a device that stamps untimed messages with clock.
// A nil clock means WallClock.
func NewInputDevice(name string, clock Clock) *InputDevice {
	if clock == nil {
		clock = WallClock
	}
	return &InputDevice{name: name, clock: clock}
}

func (d *InputDevice) Name() string {
	return d.name
}

func (d *InputDevice) snapshot() []*Input {
	if p := d.subs.Load(); p != nil {
		return *p
	}
	return nil
}

// Subscribe adds in to the subscriber list. Subscribing twice is a no-op.
func (d *InputDevice) Subscribe(in *Input) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.snapshot()
	if slices.Contains(cur, in) {
		return
	}
	next := make([]*Input, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, in)
	d.subs.Store(&next)
}

// Unsubscribe removes in. Unsubscribing a non-member is a no-op.
func (d *InputDevice) Unsubscribe(in *Input) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.snapshot()
	i := slices.Index(cur, in)
	if i < 0 {
		return
	}
	next := slices.Delete(slices.Clone(cur), i, i+1)
	d.subs.Store(&next)
}

// Subscribers returns the current subscribers in subscription order.
func (d *InputDevice) Subscribers() []*Input {
	return slices.Clone(d.snapshot())
}

// Len returns the number of subscribers.
func (d *InputDevice) Len() int {
	return len(d.snapshot())
}

// OnMessage delivers msg to every subscriber whose channel accepts it.
// Backends call it from their receive goroutine.
func (d *InputDevice) OnMessage(msg Message) {
	if msg.Timestamp == 0 {
		msg.Timestamp = d.clock()
	}
	for _, in := range d.snapshot() {
		if !Accepts(in.Channel(), msg) {
			continue
		}
		in.receive(msg)
	}
}

// OutputDevice forwards messages to a backend sink. Several outputs may be
// subscribed; each sends independently.
type OutputDevice struct {
	name string
	send func(Message) error

	mu   sync.Mutex
	subs []*Output
}

// NewOutputDevice returns a device writing through send.
func NewOutputDevice(name string, send func(Message) error) *OutputDevice {
	return &OutputDevice{name: name, send: send}
}

func (d *OutputDevice) Name() string {
	return d.name
}

// Subscribe adds out. Subscribing twice is a no-op.
func (d *OutputDevice) Subscribe(out *Output) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !slices.Contains(d.subs, out) {
		d.subs = append(d.subs, out)
	}
}

// Unsubscribe removes out. Unsubscribing a non-member is a no-op.
func (d *OutputDevice) Unsubscribe(out *Output) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i := slices.Index(d.subs, out); i >= 0 {
		d.subs = slices.Delete(d.subs, i, i+1)
	}
}

// Subscribers returns the current subscribers in subscription order.
func (d *OutputDevice) Subscribers() []*Output {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.subs)
}

// Len returns the number of subscribers.
func (d *OutputDevice) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// SendMessage writes msg to the backend.
func (d *OutputDevice) SendMessage(msg Message) error {
	if d.send == nil {
		return ErrNoDevice
	}
	return d.send(msg)
}

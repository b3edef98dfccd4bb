package midi

import (
	"log/slog"
	"sync"

	"github.com/stretchr/testify/mock"
)

var quietLogger = slog.New(slog.DiscardHandler)

// fakeDriver shares one device per endpoint between all subscribers and
// releases it when the last one leaves.
type fakeDriver struct {
	name    string
	clock   Clock
	inputs  []string
	outputs []string

	mu      sync.Mutex
	inDevs  map[int]*InputDevice
	outDevs map[int]*OutputDevice
	sent    []Message
	closed  bool
}

func newFakeDriver(name string, inputs, outputs []string) *fakeDriver {
	return &fakeDriver{
		name:    name,
		clock:   func() float64 { return 42 },
		inputs:  inputs,
		outputs: outputs,
		inDevs:  make(map[int]*InputDevice),
		outDevs: make(map[int]*OutputDevice),
	}
}

func (d *fakeDriver) Name() string { return d.name }

func ids(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func (d *fakeDriver) InputDeviceIDs() ([]int, error) { return ids(len(d.inputs)), nil }

func (d *fakeDriver) InputDeviceName(id int) (string, error) {
	if id < 0 || id >= len(d.inputs) {
		return "", ErrNoDevice
	}
	return d.inputs[id], nil
}

func (d *fakeDriver) SubscribeInput(id int, in *Input) (*InputDevice, error) {
	name, err := d.InputDeviceName(id)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	dev := d.inDevs[id]
	if dev == nil {
		dev = NewInputDevice(name, d.clock)
		d.inDevs[id] = dev
	}
	dev.Subscribe(in)
	return dev, nil
}

func (d *fakeDriver) UnsubscribeInput(id int, in *Input) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev := d.inDevs[id]
	if dev == nil {
		return ErrNoDevice
	}
	dev.Unsubscribe(in)
	if dev.Len() == 0 {
		delete(d.inDevs, id)
	}
	return nil
}

func (d *fakeDriver) OutputDeviceIDs() ([]int, error) { return ids(len(d.outputs)), nil }

func (d *fakeDriver) OutputDeviceName(id int) (string, error) {
	if id < 0 || id >= len(d.outputs) {
		return "", ErrNoDevice
	}
	return d.outputs[id], nil
}

func (d *fakeDriver) SubscribeOutput(id int, out *Output) (*OutputDevice, error) {
	name, err := d.OutputDeviceName(id)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	dev := d.outDevs[id]
	if dev == nil {
		dev = NewOutputDevice(name, func(msg Message) error {
			d.mu.Lock()
			defer d.mu.Unlock()
			d.sent = append(d.sent, msg)
			return nil
		})
		d.outDevs[id] = dev
	}
	dev.Subscribe(out)
	return dev, nil
}

func (d *fakeDriver) UnsubscribeOutput(id int, out *Output) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev := d.outDevs[id]
	if dev == nil {
		return ErrNoDevice
	}
	dev.Unsubscribe(out)
	if dev.Len() == 0 {
		delete(d.outDevs, id)
	}
	return nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) inputDevice(id int) *InputDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inDevs[id]
}

func (d *fakeDriver) sentMessages() []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Message(nil), d.sent...)
}

// stubDriver scripts driver results, including failures.
type stubDriver struct{ mock.Mock }

func (s *stubDriver) Name() string { return s.Called().String(0) }

func (s *stubDriver) InputDeviceIDs() ([]int, error) {
	ret := s.Called()
	ids, _ := ret.Get(0).([]int)
	return ids, ret.Error(1)
}

func (s *stubDriver) InputDeviceName(id int) (string, error) {
	ret := s.Called(id)
	return ret.String(0), ret.Error(1)
}

func (s *stubDriver) SubscribeInput(id int, in *Input) (*InputDevice, error) {
	ret := s.Called(id, in)
	dev, _ := ret.Get(0).(*InputDevice)
	return dev, ret.Error(1)
}

func (s *stubDriver) UnsubscribeInput(id int, in *Input) error {
	return s.Called(id, in).Error(0)
}

func (s *stubDriver) OutputDeviceIDs() ([]int, error) {
	ret := s.Called()
	ids, _ := ret.Get(0).([]int)
	return ids, ret.Error(1)
}

func (s *stubDriver) OutputDeviceName(id int) (string, error) {
	ret := s.Called(id)
	return ret.String(0), ret.Error(1)
}

func (s *stubDriver) SubscribeOutput(id int, out *Output) (*OutputDevice, error) {
	ret := s.Called(id, out)
	dev, _ := ret.Get(0).(*OutputDevice)
	return dev, ret.Error(1)
}

func (s *stubDriver) UnsubscribeOutput(id int, out *Output) error {
	return s.Called(id, out).Error(0)
}

func (s *stubDriver) Close() error { return s.Called().Error(0) }

// errorRecorder collects the driver errors a context reports.
type errorRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *errorRecorder) record(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *errorRecorder) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func newTestContext(rec *errorRecorder, drivers ...any) *Context {
	reg := NewRegistry()
	for i := 0; i+1 < len(drivers); i += 2 {
		reg.AddDriver(drivers[i].(int), drivers[i+1].(Driver))
	}
	opts := []ContextOption{WithLogger(quietLogger)}
	if rec != nil {
		opts = append(opts, WithDriverErrorHandler(rec.record))
	}
	return NewContext(reg, opts...)
}

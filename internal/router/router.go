// Package router splits one MIDI input across named outputs, each with its
// own channel filter, note range, channel override and transposition.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/leafo/midiports/internal/config"
	"github.com/leafo/midiports/midi"
)

// VirtualOutputs is implemented by drivers that can publish output ports
// for other applications to read from. Drivers that only sometimes can
// return midi.ErrVirtualUnsupported.
type VirtualOutputs interface {
	AddVirtualOutput(name string) (int, error)
}

// Port state names used by States and RestoreStates.
const (
	InputState = "input"
	outPrefix  = "out/"
)

type route struct {
	name    string
	cfg     config.OutputConfig
	channel int
	out     *midi.Output
	routed  atomic.Uint64
}

// routed is what one route did with a message.
type routed struct {
	route     *route
	transform MessageTransformation
}

// event is a received message together with every route that sent it.
type event struct {
	msg    midi.Message
	routes []routed
}

// Router owns one input port, fanned out to the configured routes, and one
// output port per route.
type Router struct {
	ctx    *midi.Context
	cfg    *config.Config
	logger *slog.Logger
	quiet  bool
	input  *midi.Input
	routes []*route

	events  chan event
	dropped atomic.Uint64

	outMu sync.Mutex
	out   io.Writer
}

// Option configures a Router.
type Option func(*Router)

// WithQuiet suppresses per-message output.
func WithQuiet(quiet bool) Option {
	return func(r *Router) { r.quiet = quiet }
}

// WithOutput sets where routed and dropped messages are printed.
// Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(r *Router) { r.out = w }
}

// WithLogger sets the logger. Defaults to the context's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// New creates an unbound router for cfg.
func New(ctx *midi.Context, cfg *config.Config, opts ...Option) *Router {
	r := &Router{
		ctx:    ctx,
		cfg:    cfg,
		logger: ctx.Logger,
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = midi.DefaultQueueSize
	}
	r.events = make(chan event, size)
	r.input = midi.NewInput(ctx, r.dispatch)
	for i, oc := range cfg.Outputs {
		r.routes = append(r.routes, &route{
			name:    cfg.OutputName(i),
			cfg:     oc,
			channel: oc.InputChannel(),
			out:     midi.NewOutput(ctx),
		})
	}
	return r
}

// Start binds every port on driverID (or the fallback driver when it is not
// registered). It fails when the configured input device is missing or an
// output cannot be created.
func (r *Router) Start(driverID int) error {
	r.input.Restore(midi.PortState{Driver: &driverID, DeviceName: r.cfg.InputDevice})
	if r.input.Driver() == nil {
		return errors.New("no MIDI driver available")
	}
	if r.input.DeviceID() < 0 {
		return fmt.Errorf("configured input device not found: %s", r.cfg.InputDevice)
	}
	driverID = r.input.DriverID()

	for i, rt := range r.routes {
		if err := r.bindOutput(rt, driverID); err != nil {
			return fmt.Errorf("failed to bind output %d: %w", i+1, err)
		}
		if err := rt.out.SetChannel(rt.cfg.OutputChannel()); err != nil {
			return fmt.Errorf("output %d: %w", i+1, err)
		}
	}

	r.logger.Info("router started",
		"driver", driverID,
		"input", r.cfg.InputDevice,
		"routes", len(r.routes))
	return nil
}

func (r *Router) bindOutput(rt *route, driverID int) error {
	rt.out.SetDriverID(driverID)

	if v, ok := rt.out.Driver().(VirtualOutputs); ok {
		id, err := v.AddVirtualOutput(rt.name)
		switch {
		case err == nil:
			rt.out.SetDeviceID(id)
		case errors.Is(err, midi.ErrVirtualUnsupported):
			r.logger.Debug("virtual outputs unsupported, binding by name", "output", rt.name)
		default:
			return err
		}
	}

	if rt.out.DeviceID() < 0 {
		rt.out.Restore(midi.PortState{Driver: &driverID, DeviceName: rt.name})
	}
	if rt.out.DeviceID() < 0 {
		return fmt.Errorf("output device not found: %s", rt.name)
	}
	return nil
}

// dispatch runs on the driver's delivery goroutine. It sends msg through
// every accepting route and queues the outcome for Run; a full queue drops
// the report, never the routing.
func (r *Router) dispatch(_ *midi.Context, msg midi.Message) {
	var ev event
	for _, rt := range r.routes {
		if !midi.Accepts(rt.channel, msg) || !shouldRoute(msg, &rt.cfg) {
			continue
		}
		var transform MessageTransformation
		sent := applyNoteTransposition(msg, rt.cfg.TransposeSemitones, &transform)
		if ch := rt.out.Channel(); ch >= 0 {
			override := uint8(ch) + 1
			applyChannelOverride(sent, &override, &transform)
		}
		rt.out.SendMessage(sent)
		rt.routed.Add(1)
		if !r.quiet {
			ev.routes = append(ev.routes, routed{route: rt, transform: transform})
		}
	}
	if r.quiet {
		return
	}

	ev.msg = msg
	select {
	case r.events <- ev:
	default:
		r.dropped.Add(1)
	}
}

// Run prints every routed and dropped message until ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.Drain()
			return nil
		case ev := <-r.events:
			r.report(ev)
		}
	}
}

// Drain prints queued messages without waiting and returns how many it
// handled.
func (r *Router) Drain() int {
	n := 0
	for {
		select {
		case ev := <-r.events:
			r.report(ev)
			n++
		default:
			return n
		}
	}
}

func (r *Router) report(ev event) {
	if len(ev.routes) == 0 {
		r.printf("\033[2m[DROPPED] %s\033[0m\n", formatMessageWithTransformations(ev.msg, &MessageTransformation{}))
		return
	}
	for _, rd := range ev.routes {
		r.printf("[%s] %s\n", rd.route.name, formatMessageWithTransformations(ev.msg, &rd.transform))
	}
}

func (r *Router) printf(format string, args ...any) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// RouteStats reports traffic for one output.
type RouteStats struct {
	Name         string
	Routed       uint64
	SendFailures uint64
}

// Stats returns per-route counters in configuration order.
func (r *Router) Stats() []RouteStats {
	stats := make([]RouteStats, 0, len(r.routes))
	for _, rt := range r.routes {
		stats = append(stats, RouteStats{
			Name:         rt.name,
			Routed:       rt.routed.Load(),
			SendFailures: rt.out.SendFailures(),
		})
	}
	return stats
}

// Dropped returns the number of message reports discarded because Run fell
// behind. Routing itself never drops.
func (r *Router) Dropped() uint64 {
	return r.dropped.Load()
}

// States returns the binding of every port keyed by port name.
func (r *Router) States() map[string]midi.PortState {
	states := map[string]midi.PortState{InputState: r.input.State()}
	for _, rt := range r.routes {
		states[outPrefix+rt.name] = rt.out.State()
	}
	return states
}

// RestoreStates rebinds ports found in states. Unknown names are ignored.
func (r *Router) RestoreStates(states map[string]midi.PortState) {
	if s, ok := states[InputState]; ok {
		r.input.Restore(s)
	}
	for _, rt := range r.routes {
		if s, ok := states[outPrefix+rt.name]; ok {
			rt.out.Restore(s)
		}
	}
}

// Close unbinds every port.
func (r *Router) Close() {
	r.input.Close()
	for _, rt := range r.routes {
		rt.out.Close()
	}
}

package router

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafo/midiports/internal/config"
	"github.com/leafo/midiports/midi"
	"github.com/leafo/midiports/midi/loopback"
)

const loopbackID = 3

type rig struct {
	ctx      *midi.Context
	drv      *loopback.Driver
	keyboard *midi.Output
	bass     *midi.InputQueue
	lead     *midi.InputQueue
}

func newContext(t *testing.T, drv midi.Driver) *midi.Context {
	t.Helper()
	reg := midi.NewRegistry()
	reg.AddDriver(loopbackID, drv)
	t.Cleanup(func() { _ = reg.Close() })
	return midi.NewContext(reg, midi.WithLogger(slog.New(slog.DiscardHandler)))
}

func newRig(t *testing.T) *rig {
	t.Helper()
	drv := loopback.New("loopback", nil)
	keys := drv.AddDevice("Keys")
	bass := drv.AddDevice("Split Bass")
	lead := drv.AddDevice("Split Lead")

	r := &rig{ctx: newContext(t, drv), drv: drv}
	r.keyboard = midi.NewOutput(r.ctx)
	r.keyboard.SetDeviceID(keys)
	require.NoError(t, r.keyboard.SetChannel(-1))

	r.bass = midi.NewInputQueue(r.ctx, 16)
	r.bass.SetDeviceID(bass)
	r.lead = midi.NewInputQueue(r.ctx, 16)
	r.lead.SetDeviceID(lead)
	return r
}

func uint8Ptr(v uint8) *uint8 { return &v }
func int8Ptr(v int8) *int8    { return &v }

func splitConfig() *config.Config {
	return &config.Config{
		InputDevice: "Keys",
		OutputBase:  "Split",
		Outputs: []config.OutputConfig{
			{
				Name:               "Bass",
				ChannelFilter:      &config.ChannelFilter{Channel: 1},
				NoteRangeFilter:    &config.NoteRangeFilter{MinNote: 0, MaxNote: 59},
				OverrideChannel:    uint8Ptr(2),
				TransposeSemitones: int8Ptr(12),
			},
			{
				Name:            "Lead",
				NoteRangeFilter: &config.NoteRangeFilter{MinNote: 60, MaxNote: 127},
			},
		},
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func drainQueue(q *midi.InputQueue) []midi.Message {
	var msgs []midi.Message
	for {
		msg, ok := q.TryPop()
		if !ok {
			return msgs
		}
		msgs = append(msgs, msg)
	}
}

func TestRouterSplitsKeyboard(t *testing.T) {
	r := newRig(t)
	var out bytes.Buffer
	rt := New(r.ctx, splitConfig(), WithOutput(&out))
	t.Cleanup(rt.Close)
	require.NoError(t, rt.Start(loopbackID))

	r.keyboard.SendMessage(midi.NewMessage(0x90, 40, 100)) // bass
	r.keyboard.SendMessage(midi.NewMessage(0x90, 72, 90))  // lead
	r.keyboard.SendMessage(midi.NewMessage(0x92, 40, 80))  // channel 3, low note: nobody

	bass := drainQueue(r.bass)
	require.Len(t, bass, 1)
	assert.Equal(t, uint8(0x90), bass[0].Status())
	assert.Equal(t, 1, bass[0].Channel())
	assert.Equal(t, uint8(52), bass[0].Note())
	assert.Equal(t, uint8(100), bass[0].Value())

	lead := drainQueue(r.lead)
	require.Len(t, lead, 1)
	assert.Equal(t, 0, lead[0].Channel())
	assert.Equal(t, uint8(72), lead[0].Note())

	assert.Equal(t, 3, rt.Drain())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "[Split Bass]")
	assert.Contains(t, lines[0], "channel: 1->2")
	assert.Contains(t, lines[0], "note: 40->52")
	assert.Contains(t, lines[1], "[Split Lead]")
	assert.Contains(t, lines[1], "channel: 1, note: 72, velocity: 90")
	assert.Contains(t, lines[2], "[DROPPED]")
	assert.Contains(t, lines[2], "channel: 3")

	stats := rt.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, RouteStats{Name: "Split Bass", Routed: 1}, stats[0])
	assert.Equal(t, RouteStats{Name: "Split Lead", Routed: 1}, stats[1])
}

func TestRouterPassesNonNoteMessages(t *testing.T) {
	r := newRig(t)
	rt := New(r.ctx, splitConfig(), WithQuiet(true))
	t.Cleanup(rt.Close)
	require.NoError(t, rt.Start(loopbackID))

	// Control changes ignore the note range; bass still filters on channel 1.
	r.keyboard.SendMessage(midi.NewMessage(0xB0, 7, 100))

	bass := drainQueue(r.bass)
	require.Len(t, bass, 1)
	assert.Equal(t, uint8(0xB1), bass[0].Bytes[0])
	assert.Len(t, drainQueue(r.lead), 1)
}

func TestRouterQuietPrintsNothing(t *testing.T) {
	r := newRig(t)
	var out bytes.Buffer
	rt := New(r.ctx, splitConfig(), WithQuiet(true), WithOutput(&out))
	t.Cleanup(rt.Close)
	require.NoError(t, rt.Start(loopbackID))

	r.keyboard.SendMessage(midi.NewMessage(0x90, 40, 100))
	r.keyboard.SendMessage(midi.NewMessage(0x95, 10, 100))

	assert.Zero(t, rt.Drain())
	assert.Empty(t, out.String())
	assert.Equal(t, uint64(1), rt.Stats()[0].Routed)
	assert.Equal(t, uint64(0), rt.Stats()[1].Routed)
}

func TestRouterStartMissingInput(t *testing.T) {
	r := newRig(t)
	cfg := splitConfig()
	cfg.InputDevice = "Missing"
	rt := New(r.ctx, cfg)
	t.Cleanup(rt.Close)

	err := rt.Start(loopbackID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configured input device not found: Missing")
}

// hardwareOnly hides AddVirtualOutput so outputs must already exist.
type hardwareOnly struct {
	midi.Driver
}

func TestRouterStartMissingOutput(t *testing.T) {
	drv := loopback.New("loopback", nil)
	drv.AddDevice("Keys")
	drv.AddDevice("Split Bass")
	ctx := newContext(t, hardwareOnly{drv})

	cfg := splitConfig()
	rt := New(ctx, cfg)
	t.Cleanup(rt.Close)

	err := rt.Start(loopbackID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output 2")
	assert.Contains(t, err.Error(), "output device not found: Split Lead")
}

func TestRouterLoopbackPublishesOutputs(t *testing.T) {
	drv := loopback.New("loopback", nil)
	drv.AddDevice("Keys")
	ctx := newContext(t, drv)

	rt := New(ctx, splitConfig(), WithQuiet(true))
	t.Cleanup(rt.Close)
	require.NoError(t, rt.Start(loopbackID))

	out := midi.NewOutput(ctx)
	t.Cleanup(out.Close)
	var names []string
	for _, id := range out.DeviceIDs() {
		names = append(names, out.DeviceName(id))
	}
	assert.Equal(t, []string{"Keys", "Split Bass", "Split Lead"}, names)
}

func TestRouterStartWithoutDrivers(t *testing.T) {
	ctx := midi.NewContext(nil, midi.WithLogger(slog.New(slog.DiscardHandler)))
	rt := New(ctx, splitConfig())

	assert.EqualError(t, rt.Start(loopbackID), "no MIDI driver available")
}

type virtualLoopback struct {
	*loopback.Driver
	added []string
}

func (v *virtualLoopback) AddVirtualOutput(name string) (int, error) {
	v.added = append(v.added, name)
	return v.AddDevice(name), nil
}

func TestRouterCreatesVirtualOutputs(t *testing.T) {
	drv := &virtualLoopback{Driver: loopback.New("virtual", nil)}
	keys := drv.AddDevice("Keys")
	ctx := newContext(t, drv)

	rt := New(ctx, splitConfig(), WithQuiet(true))
	t.Cleanup(rt.Close)
	require.NoError(t, rt.Start(-1))
	assert.Equal(t, []string{"Split Bass", "Split Lead"}, drv.added)

	lead := midi.NewInputQueue(ctx, 4)
	lead.Restore(midi.PortState{DeviceName: "Split Lead"})
	require.GreaterOrEqual(t, lead.DeviceID(), 0)

	keyboard := midi.NewOutput(ctx)
	keyboard.SetDeviceID(keys)
	keyboard.SendMessage(midi.NewMessage(0x90, 64, 1))

	msgs := drainQueue(lead)
	require.Len(t, msgs, 1)
	assert.Equal(t, uint8(64), msgs[0].Note())
}

func TestRouterStatesRoundTrip(t *testing.T) {
	r := newRig(t)
	first := New(r.ctx, splitConfig(), WithQuiet(true))
	require.NoError(t, first.Start(loopbackID))

	states := first.States()
	assert.Len(t, states, 3)
	assert.Equal(t, "Keys", states[InputState].DeviceName)
	assert.Equal(t, -1, *states[InputState].Channel)
	assert.Equal(t, "Split Bass", states["out/Split Bass"].DeviceName)
	assert.Equal(t, 1, *states["out/Split Bass"].Channel)
	assert.Equal(t, -1, *states["out/Split Lead"].Channel)
	first.Close()

	second := New(r.ctx, splitConfig(), WithQuiet(true))
	t.Cleanup(second.Close)
	second.RestoreStates(states)
	assert.Equal(t, states, second.States())

	r.keyboard.SendMessage(midi.NewMessage(0x90, 30, 64))
	bass := drainQueue(r.bass)
	require.Len(t, bass, 1)
	assert.Equal(t, uint8(42), bass[0].Note())
}

func TestRouterRunStopsOnCancel(t *testing.T) {
	r := newRig(t)
	out := &syncBuffer{}
	rt := New(r.ctx, splitConfig(), WithOutput(out))
	t.Cleanup(rt.Close)
	require.NoError(t, rt.Start(loopbackID))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	r.keyboard.SendMessage(midi.NewMessage(0x90, 72, 90))
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[Split Lead]")
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// noVirtual reports that it cannot open virtual ports, so outputs must be
// found by name.
type noVirtual struct {
	*loopback.Driver
}

func (noVirtual) AddVirtualOutput(string) (int, error) {
	return -1, midi.ErrVirtualUnsupported
}

func TestRouterFallsBackToNamedOutputs(t *testing.T) {
	drv := loopback.New("loopback", nil)
	drv.AddDevice("Keys")
	bass := drv.AddDevice("Split Bass")
	lead := drv.AddDevice("Split Lead")
	ctx := newContext(t, noVirtual{drv})

	rt := New(ctx, splitConfig(), WithQuiet(true))
	t.Cleanup(rt.Close)
	require.NoError(t, rt.Start(loopbackID))

	states := rt.States()
	assert.Equal(t, "Split Bass", states["out/Split Bass"].DeviceName)
	assert.Equal(t, "Split Lead", states["out/Split Lead"].DeviceName)
	assert.NotEqual(t, bass, lead)
}

func TestRouterReportsWhatWasSent(t *testing.T) {
	r := newRig(t)
	var out bytes.Buffer
	rt := New(r.ctx, splitConfig(), WithOutput(&out))
	t.Cleanup(rt.Close)
	require.NoError(t, rt.Start(loopbackID))

	r.keyboard.SendMessage(midi.NewMessage(0x90, 40, 100))

	// Rebinding after the message went out does not change its report.
	states := rt.States()
	bass := states["out/Split Bass"]
	bass.Channel = intPtr(6)
	states["out/Split Bass"] = bass
	rt.RestoreStates(states)

	r.keyboard.SendMessage(midi.NewMessage(0x90, 41, 100))

	sent := drainQueue(r.bass)
	require.Len(t, sent, 2)
	assert.Equal(t, 1, sent[0].Channel())
	assert.Equal(t, 6, sent[1].Channel())

	assert.Equal(t, 2, rt.Drain())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "channel: 1->2")
	assert.Contains(t, lines[0], "note: 40->52")
	assert.Contains(t, lines[1], "channel: 1->7")
	assert.Contains(t, lines[1], "note: 41->53")
}

func TestRouterDropsReportsNotMessages(t *testing.T) {
	r := newRig(t)
	cfg := splitConfig()
	cfg.QueueSize = 1
	var out bytes.Buffer
	rt := New(r.ctx, cfg, WithOutput(&out))
	t.Cleanup(rt.Close)
	require.NoError(t, rt.Start(loopbackID))

	for i := 0; i < 3; i++ {
		r.keyboard.SendMessage(midi.NewMessage(0x90, 72, 90))
	}

	assert.Len(t, drainQueue(r.lead), 3)
	assert.Equal(t, uint64(2), rt.Dropped())
	assert.Equal(t, 1, rt.Drain())
}

func intPtr(v int) *int { return &v }

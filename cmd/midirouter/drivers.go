package main

import (
	"fmt"
	"io"

	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/leafo/midiports/midi"
	"github.com/leafo/midiports/midi/gomididrv"
	"github.com/leafo/midiports/midi/loopback"
	"github.com/leafo/midiports/midi/serialdrv"
)

// Driver IDs in fallback order.
const (
	rtmidiID   = 1
	serialID   = 2
	loopbackID = 3
)

var driverIDs = map[string]int{
	"rtmidi":   rtmidiID,
	"serial":   serialID,
	"loopback": loopbackID,
}

// newRegistry registers every driver that can be opened on this machine.
func newRegistry(serialBaud int) *midi.Registry {
	reg := midi.NewRegistry()

	drv, err := rtmididrv.New()
	if err != nil {
		logger.Warn("midi: rtmidi unavailable", "err", err)
	} else {
		reg.AddDriver(rtmidiID, gomididrv.New(drv, gomididrv.WithLogger(logger)))
	}

	reg.AddDriver(serialID, serialdrv.New(
		serialdrv.WithBaudRate(serialBaud),
		serialdrv.WithLogger(logger),
	))
	reg.AddDriver(loopbackID, loopback.New("loopback", nil))
	return reg
}

// resolveDriver maps a -driver flag value to a registered driver ID. An
// empty name returns fallback.
func resolveDriver(reg *midi.Registry, name string, fallback int) (int, error) {
	if name == "" {
		return fallback, nil
	}
	id, ok := driverIDs[name]
	if !ok {
		return -1, fmt.Errorf("unknown driver %q (want rtmidi, serial or loopback)", name)
	}
	if _, ok := reg.Driver(id); !ok {
		return -1, fmt.Errorf("driver %q is not available", name)
	}
	return id, nil
}

// listDevices prints every driver with its input and output devices.
func listDevices(w io.Writer, ctx *midi.Context) {
	in := midi.NewInput(ctx, nil)
	defer in.Close()
	out := midi.NewOutput(ctx)
	defer out.Close()

	for _, id := range ctx.Registry.DriverIDs() {
		in.SetDriverID(id)
		out.SetDriverID(id)
		fmt.Fprintf(w, "%d: %s\n", id, in.Driver().Name())

		fmt.Fprintf(w, "  inputs:\n")
		for _, dev := range in.DeviceIDs() {
			fmt.Fprintf(w, "    %d: %s\n", dev, in.DeviceName(dev))
		}
		fmt.Fprintf(w, "  outputs:\n")
		for _, dev := range out.DeviceIDs() {
			fmt.Fprintf(w, "    %d: %s\n", dev, out.DeviceName(dev))
		}
	}
}

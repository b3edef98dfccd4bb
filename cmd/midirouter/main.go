// Command midirouter splits a MIDI input into several outputs with
// per-output channel and note range filters, channel override and
// transposition.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/leafo/midiports/internal/config"
	"github.com/leafo/midiports/internal/router"
	"github.com/leafo/midiports/internal/state"
	"github.com/leafo/midiports/midi"
	"github.com/leafo/midiports/midi/serialdrv"
)

// logger is the package-wide structured logger. Safe to use before initLogger
// is called; defaults to slog.Default().
var logger = slog.Default()

// initLogger configures the shared slog logger and calls slog.SetDefault so
// the stdlib log package also routes through the same handler.
func initLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	})
	logger = slog.New(h)
	slog.SetDefault(logger)
}

type options struct {
	configFile     string
	saveConfigFile string
	stateFile      string
	driver         string
	list           bool
	quiet          bool
	serialBaud     int
}

func main() {
	var opts options
	flag.StringVar(&opts.saveConfigFile, "save-config", "", "Save result of configuration to specified file and exit (does not run router)")
	flag.StringVar(&opts.configFile, "config", "", "Load configuration from specified file and start router")
	flag.StringVar(&opts.stateFile, "state", "", "Restore port bindings from this file on start and save them on exit")
	flag.StringVar(&opts.driver, "driver", "", "MIDI driver: rtmidi, serial or loopback (default: from config, else first available)")
	flag.BoolVar(&opts.list, "list", false, "List MIDI drivers and devices and exit")
	flag.BoolVar(&opts.quiet, "quiet", false, "Suppress MIDI message logging during operation")
	flag.IntVar(&opts.serialBaud, "serial-baud", serialdrv.BaudRate, "Baud rate for serial MIDI ports")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	initLogger(*debug)

	if err := run(opts); err != nil {
		logger.Error("midirouter failed", "err", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	reg := newRegistry(opts.serialBaud)
	defer func() {
		if cerr := reg.Close(); cerr != nil {
			logger.Warn("midi: failed to close drivers", "err", cerr)
		}
	}()
	ctx := midi.NewContext(reg, midi.WithLogger(logger))

	if opts.list {
		listDevices(os.Stdout, ctx)
		return nil
	}

	cfg, err := loadOrConfigure(ctx, opts)
	if err != nil || cfg == nil {
		return err
	}

	driverID, err := resolveDriver(reg, opts.driver, cfg.DriverID())
	if err != nil {
		return err
	}

	r := router.New(ctx, cfg, router.WithQuiet(opts.quiet))
	defer r.Close()
	if err := r.Start(driverID); err != nil {
		return fmt.Errorf("MIDI router error: %w", err)
	}

	var store *state.Store
	if opts.stateFile != "" {
		store = state.NewStore(opts.stateFile)
		saved, err := store.Load()
		if err != nil {
			return err
		}
		if len(saved.Ports) > 0 {
			r.RestoreStates(saved.Ports)
			logger.Info("restored port state", "path", store.Path(), "ports", len(saved.Ports))
		}
	}

	data, err := config.Marshal(cfg, false)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	fmt.Printf("Running with configuration:\n%s\n", data)
	fmt.Println("Press Ctrl+C to stop...")

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := r.Run(sigCtx); err != nil {
		return err
	}

	fmt.Println("Shutting down...")
	for _, s := range r.Stats() {
		logger.Info("route stats", "output", s.Name, "routed", s.Routed, "send_failures", s.SendFailures)
	}
	if dropped := r.Dropped(); dropped > 0 {
		logger.Warn("message log fell behind", "dropped", dropped)
	}

	if store != nil {
		if err := store.Save(r.States()); err != nil {
			return err
		}
	}
	return nil
}

// loadOrConfigure returns the configuration to run, or nil when the run
// ends after saving a new configuration.
func loadOrConfigure(ctx *midi.Context, opts options) (*config.Config, error) {
	driverID, err := resolveDriver(ctx.Registry, opts.driver, -1)
	if err != nil {
		return nil, err
	}

	if opts.configFile != "" {
		cfg, err := config.Load(opts.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		if opts.driver == "" {
			driverID = cfg.DriverID()
		}
		if err := ensureInputDevice(ctx, cfg, driverID); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	p, closePrompt, err := newReadlinePrompter()
	if err != nil {
		return nil, err
	}
	cfg, err := interactiveConfig(ctx, driverID, p)
	_ = closePrompt()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	if opts.saveConfigFile != "" {
		if err := config.Save(cfg, opts.saveConfigFile); err != nil {
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("Configuration saved to %s\n", opts.saveConfigFile)
		return nil, nil
	}

	if err := config.Save(cfg, "config.json"); err != nil {
		logger.Warn("failed to save config", "err", err)
	}
	return cfg, nil
}

var errNoInputDevice = errors.New("input device not found")

// ensureInputDevice asks for a new input device when the configured one is
// not connected.
func ensureInputDevice(ctx *midi.Context, cfg *config.Config, driverID int) error {
	err := checkInputDevice(ctx, cfg.InputDevice, driverID)
	if err == nil {
		return nil
	}
	fmt.Printf("Warning: %s\n", err)

	p, closePrompt, err := newReadlinePrompter()
	if err != nil {
		return err
	}
	defer closePrompt()

	_, name, err := selectInputDevice(ctx, driverID, p)
	if err != nil {
		return fmt.Errorf("failed to select input device: %w", err)
	}
	cfg.InputDevice = name
	return nil
}

// checkInputDevice reports whether an input named name exists on driverID.
func checkInputDevice(ctx *midi.Context, name string, driverID int) error {
	in := midi.NewInput(ctx, nil)
	defer in.Close()
	in.SetDriverID(driverID)

	var available []string
	for _, id := range in.DeviceIDs() {
		deviceName := in.DeviceName(id)
		if deviceName == name {
			return nil
		}
		available = append(available, deviceName)
	}
	return fmt.Errorf("%w: %q (available: %v)", errNoInputDevice, name, available)
}

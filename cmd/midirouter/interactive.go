package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/leafo/midiports/internal/config"
	"github.com/leafo/midiports/internal/router"
	"github.com/leafo/midiports/midi"
)

const noteCaptureTimeout = 30 * time.Second

// prompter asks questions on the terminal.
type prompter struct {
	readLine       func(prompt string) (string, error)
	out            io.Writer
	captureTimeout time.Duration
}

// newReadlinePrompter returns a prompter reading from the terminal and a
// function releasing it.
func newReadlinePrompter() (*prompter, func() error, error) {
	rl, err := readline.NewEx(&readline.Config{
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create readline: %w", err)
	}

	p := &prompter{
		readLine: func(prompt string) (string, error) {
			rl.SetPrompt(prompt)
			return rl.Readline()
		},
		out:            rl.Stdout(),
		captureTimeout: noteCaptureTimeout,
	}
	return p, rl.Close, nil
}

func (p *prompter) printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

func (p *prompter) ask(prompt string) (string, error) {
	line, err := p.readLine(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// confirm returns true only for an explicit "y".
func (p *prompter) confirm(prompt string) (bool, error) {
	line, err := p.ask(prompt)
	if err != nil {
		return false, err
	}
	return strings.ToLower(line) == "y", nil
}

func (p *prompter) askInt(prompt string, minValue, maxValue int, invalid string) (int, error) {
	line, err := p.ask(prompt)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < minValue || n > maxValue {
		return 0, errors.New(invalid)
	}
	return n, nil
}

// selectInputDevice presents available MIDI input devices and lets user select one
func selectInputDevice(ctx *midi.Context, driverID int, p *prompter) (int, string, error) {
	in := midi.NewInput(ctx, nil)
	defer in.Close()
	in.SetDriverID(driverID)
	if in.Driver() == nil {
		return -1, "", errors.New("no MIDI driver available")
	}

	ids := in.DeviceIDs()
	if len(ids) == 0 {
		return -1, "", errors.New("no MIDI input devices found")
	}

	names := make([]string, len(ids))
	p.printf("Select MIDI Input Device:\n")
	for i, id := range ids {
		names[i] = in.DeviceName(id)
		p.printf("  %d: %s\n", i+1, names[i])
	}

	choice, err := p.askInt(fmt.Sprintf("Select input device (1-%d): ", len(ids)), 1, len(ids), "invalid selection")
	if err != nil {
		return -1, "", err
	}
	return ids[choice-1], names[choice-1], nil
}

// interactiveConfig guides the user through configuration setup
func interactiveConfig(ctx *midi.Context, driverID int, p *prompter) (*config.Config, error) {
	p.printf("Starting interactive configuration...\n")

	deviceID, deviceName, err := selectInputDevice(ctx, driverID, p)
	if err != nil {
		return nil, err
	}

	// Notes played while configuring ranges arrive here.
	capture := midi.NewInputQueue(ctx, 64)
	defer capture.Close()
	capture.SetDriverID(driverID)
	capture.SetDeviceID(deviceID)

	resolved := capture.DriverID()
	cfg := &config.Config{Driver: &resolved, InputDevice: deviceName}

	cfg.OutputBase, err = p.ask("Enter base name for outputs (default: 'MIDI Router'): ")
	if err != nil {
		return nil, err
	}
	if cfg.OutputBase == "" {
		cfg.OutputBase = "MIDI Router"
	}

	numOutputs, err := p.askInt("Number of virtual outputs to create: ", 1, 16, "invalid number of outputs (must be 1-16)")
	if err != nil {
		return nil, err
	}

	cfg.Outputs = make([]config.OutputConfig, numOutputs)
	for i := range cfg.Outputs {
		if err := configureOutput(&cfg.Outputs[i], i, capture, p); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func configureOutput(out *config.OutputConfig, i int, capture *midi.InputQueue, p *prompter) error {
	defaultOutputName := fmt.Sprintf("Out %d", i+1)
	p.printf("Configuring output %d...\n", i+1)

	name, err := p.ask(fmt.Sprintf("Enter output name: (default: '%s'): ", defaultOutputName))
	if err != nil {
		return err
	}
	if name == "" {
		name = defaultOutputName
	}
	out.Name = name

	if ok, err := p.confirm("Enable channel filter? (y/N): "); err != nil {
		return err
	} else if ok {
		channel, err := p.askInt("Channel number (1-16): ", 1, 16, "invalid channel number (must be 1-16)")
		if err != nil {
			return err
		}
		out.ChannelFilter = &config.ChannelFilter{Channel: uint8(channel)}
	}

	capture.Clear()
	if ok, err := p.confirm("Enable note range filter? (y/N): "); err != nil {
		return err
	} else if ok {
		noteRange, err := configureNoteRange(capture, p)
		if err != nil {
			return fmt.Errorf("failed to configure note range: %w", err)
		}
		out.NoteRangeFilter = noteRange
	}

	if ok, err := p.confirm("Enable channel override? (y/N): "); err != nil {
		return err
	} else if ok {
		channel, err := p.askInt("Override channel (1-16): ", 1, 16, "invalid override channel number (must be 1-16)")
		if err != nil {
			return err
		}
		overrideChannel := uint8(channel)
		out.OverrideChannel = &overrideChannel
	}

	if ok, err := p.confirm("Enable note transposition? (y/N): "); err != nil {
		return err
	} else if ok {
		transpose, err := p.askInt("Transpose semitones (-127 to +127): ", -127, 127, "invalid transpose semitones (must be -127 to 127)")
		if err != nil {
			return err
		}
		transposeSemitones := int8(transpose)
		out.TransposeSemitones = &transposeSemitones
	}
	return nil
}

// configureNoteRange configures note range by listening to actual MIDI input
func configureNoteRange(capture *midi.InputQueue, p *prompter) (*config.NoteRangeFilter, error) {
	p.printf("  Play the LOWEST note: ")
	minNote, err := captureNote(capture, p)
	if err != nil {
		return nil, fmt.Errorf("failed to capture min note: %w", err)
	}

	p.printf("  Play the HIGHEST note: ")
	maxNote, err := captureNote(capture, p)
	if err != nil {
		return nil, fmt.Errorf("failed to capture max note: %w", err)
	}

	if minNote > maxNote {
		minNote, maxNote = maxNote, minNote
	}

	line, err := p.ask(fmt.Sprintf("Confirm range %s to %s? (Y/n): ", router.NoteToName(minNote), router.NoteToName(maxNote)))
	if err != nil {
		return nil, err
	}
	if strings.ToLower(line) == "n" {
		return nil, nil
	}
	return &config.NoteRangeFilter{MinNote: minNote, MaxNote: maxNote}, nil
}

// captureNote waits for a Note On with non-zero velocity.
func captureNote(capture *midi.InputQueue, p *prompter) (uint8, error) {
	timeout := time.After(p.captureTimeout)
	for {
		select {
		case msg := <-capture.C():
			if msg.Status() != 0x90 || msg.Value() == 0 {
				continue
			}
			p.printf("%s\n", router.NoteToName(msg.Note()))
			return msg.Note(), nil
		case <-timeout:
			return 0, fmt.Errorf("timeout: no note captured within %s", p.captureTimeout)
		}
	}
}

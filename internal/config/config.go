// Package config loads, validates and saves router configurations.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChannelFilter represents a MIDI channel filter
type ChannelFilter struct {
	Channel uint8 `json:"channel" yaml:"channel"` // 1-16
}

// NoteRangeFilter represents a note range filter
type NoteRangeFilter struct {
	MinNote uint8 `json:"min_note" yaml:"min_note"` // MIDI note number 0-127
	MaxNote uint8 `json:"max_note" yaml:"max_note"` // MIDI note number 0-127
}

// Contains reports whether note lies in the range.
func (nrf *NoteRangeFilter) Contains(note uint8) bool {
	return note >= nrf.MinNote && note <= nrf.MaxNote
}

// OutputConfig represents the configuration for a single output
type OutputConfig struct {
	Name               string           `json:"name" yaml:"name"`
	ChannelFilter      *ChannelFilter   `json:"channel_filter" yaml:"channel_filter,omitempty"`
	NoteRangeFilter    *NoteRangeFilter `json:"note_range_filter" yaml:"note_range_filter,omitempty"`
	OverrideChannel    *uint8           `json:"override_channel" yaml:"override_channel,omitempty"`       // 1-16, optional
	TransposeSemitones *int8            `json:"transpose_semitones" yaml:"transpose_semitones,omitempty"` // -127 to +127, optional
}

// InputChannel returns the zero-based channel the route listens on, or -1
// for all channels.
func (o *OutputConfig) InputChannel() int {
	if o.ChannelFilter == nil {
		return -1
	}
	return int(o.ChannelFilter.Channel) - 1
}

// OutputChannel returns the zero-based channel the route sends on, or -1 to
// keep the incoming channel.
func (o *OutputConfig) OutputChannel() int {
	if o.OverrideChannel == nil {
		return -1
	}
	return int(*o.OverrideChannel) - 1
}

// Config represents the complete router configuration
type Config struct {
	// Driver is the driver ID ports bind to; nil selects the first
	// registered driver.
	Driver      *int           `json:"driver,omitempty" yaml:"driver,omitempty"`
	InputDevice string         `json:"input_device" yaml:"input_device"`
	OutputBase  string         `json:"output_base" yaml:"output_base"`
	Outputs     []OutputConfig `json:"outputs" yaml:"outputs"`
	QueueSize   int            `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
}

// DriverID returns the configured driver ID, -1 when unset.
func (c *Config) DriverID() int {
	if c.Driver == nil {
		return -1
	}
	return *c.Driver
}

// OutputName returns the full device name of output i.
func (c *Config) OutputName(i int) string {
	return fmt.Sprintf("%s %s", c.OutputBase, c.Outputs[i].Name)
}

func isYAML(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Marshal encodes the configuration as JSON, or YAML when asYAML is set.
func Marshal(config *Config, asYAML bool) ([]byte, error) {
	if asYAML {
		data, err := yaml.Marshal(config)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal config: %w", err)
		}
		return data, nil
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Save saves the configuration to a JSON or YAML file, chosen by extension,
// or prints JSON to stdout if filename is empty
func Save(config *Config, filename string) error {
	data, err := Marshal(config, isYAML(filename))
	if err != nil {
		return err
	}

	if filename == "" {
		fmt.Print(string(data))
		return nil
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load loads configuration from a JSON or YAML file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if isYAML(filename) {
		err = yaml.Unmarshal(data, &config)
	} else {
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration structure (outputs, filters, etc.)
func Validate(config *Config) error {
	if len(config.Outputs) == 0 {
		return fmt.Errorf("no outputs configured")
	}
	if config.QueueSize < 0 {
		return fmt.Errorf("invalid queue size: %d", config.QueueSize)
	}

	for i, output := range config.Outputs {
		if output.Name == "" {
			return fmt.Errorf("output %d has no name", i+1)
		}
		if output.ChannelFilter != nil && (output.ChannelFilter.Channel < 1 || output.ChannelFilter.Channel > 16) {
			return fmt.Errorf("output %d has invalid channel: %d (must be 1-16)", i+1, output.ChannelFilter.Channel)
		}
		if output.NoteRangeFilter != nil && output.NoteRangeFilter.MinNote > output.NoteRangeFilter.MaxNote {
			return fmt.Errorf("output %d has invalid note range: %d-%d", i+1, output.NoteRangeFilter.MinNote, output.NoteRangeFilter.MaxNote)
		}
		if output.NoteRangeFilter != nil && output.NoteRangeFilter.MaxNote > 127 {
			return fmt.Errorf("output %d has invalid note range: %d-%d", i+1, output.NoteRangeFilter.MinNote, output.NoteRangeFilter.MaxNote)
		}
		if output.OverrideChannel != nil && (*output.OverrideChannel < 1 || *output.OverrideChannel > 16) {
			return fmt.Errorf("output %d has invalid override channel: %d (must be 1-16)", i+1, *output.OverrideChannel)
		}
		if output.TransposeSemitones != nil && *output.TransposeSemitones < -127 {
			return fmt.Errorf("output %d has invalid transpose semitones: %d (must be -127 to 127)", i+1, *output.TransposeSemitones)
		}
	}

	return nil
}

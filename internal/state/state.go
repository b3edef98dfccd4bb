// Package state persists port bindings between runs.
//
// The state file is JSON holding one midi.PortState per named port. Device
// bindings are stored by name, so a file written on one machine restores
// whatever devices with matching names exist on the next.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/leafo/midiports/midi"
)

// Version is the current version of the state file format.
const Version = 1

// State is the content of a state file.
type State struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Ports maps port names to their persisted bindings.
	Ports map[string]midi.PortState `json:"ports"`
}

// Store manages persistence of port state to a JSON file.
type Store struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewStore returns a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Save writes ports to the state file, replacing it atomically.
func (s *Store) Save(ports map[string]midi.PortState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Version: Version,
		SavedAt: s.now().UTC(),
		Ports:   ports,
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Load reads the state file. A missing file yields an empty state.
func (s *Store) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &State{Version: Version, Ports: map[string]midi.PortState{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if st.Version > Version {
		return nil, fmt.Errorf("state file version %d is newer than supported version %d", st.Version, Version)
	}
	if st.Ports == nil {
		st.Ports = map[string]midi.PortState{}
	}
	return &st, nil
}

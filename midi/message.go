package midi

import (
	gomidi "gitlab.com/gomidi/midi/v2"
)

// Message is a MIDI message of at most three bytes.
type Message struct {
	Bytes [3]byte

	// Size is the number of meaningful bytes. Zero is treated as three.
	Size int

	// Timestamp in seconds. Zero means unset; the InputDevice receiving the
	// message stamps it with its clock.
	Timestamp float64
}

// NewMessage returns a three byte message.
func NewMessage(status, data1, data2 uint8) Message {
	return Message{Bytes: [3]byte{status, data1, data2}, Size: 3}
}

// MessageFromBytes copies raw bytes into a Message. Empty input and
// anything longer than three bytes (SysEx) is rejected.
func MessageFromBytes(b []byte) (Message, bool) {
	if len(b) == 0 || len(b) > len(Message{}.Bytes) {
		return Message{}, false
	}
	var m Message
	copy(m.Bytes[:], b)
	m.Size = len(b)
	return m, true
}

// Data returns the meaningful bytes of the message.
func (m Message) Data() []byte {
	n := m.Size
	if n <= 0 || n > len(m.Bytes) {
		n = len(m.Bytes)
	}
	b := make([]byte, n)
	copy(b, m.Bytes[:n])
	return b
}

// Status returns the high nibble of the status byte, 0x80 through 0xF0.
func (m Message) Status() uint8 {
	return m.Bytes[0] & 0xF0
}

// SetStatus replaces the high nibble of the status byte and keeps the channel.
func (m *Message) SetStatus(status uint8) {
	m.Bytes[0] = (status & 0xF0) | (m.Bytes[0] & 0x0F)
}

// Channel returns the low nibble of the status byte.
func (m Message) Channel() int {
	return int(m.Bytes[0] & 0x0F)
}

// SetChannel replaces the low nibble of the status byte.
func (m *Message) SetChannel(channel int) {
	m.Bytes[0] = (m.Bytes[0] & 0xF0) | uint8(channel&0x0F)
}

// IsSystem reports whether the message is a system message (status 0xF0).
// System messages carry no channel and bypass filtering and remapping.
func (m Message) IsSystem() bool {
	return m.Status() == 0xF0
}

// Note returns the first data byte.
func (m Message) Note() uint8 {
	return m.Bytes[1]
}

// SetNote sets the first data byte.
func (m *Message) SetNote(note uint8) {
	m.Bytes[1] = note & 0x7F
}

// Value returns the second data byte.
func (m Message) Value() uint8 {
	return m.Bytes[2]
}

// SetValue sets the second data byte.
func (m *Message) SetValue(value uint8) {
	m.Bytes[2] = value & 0x7F
}

func (m Message) String() string {
	return gomidi.Message(m.Data()).String()
}

package serialdrv

import "github.com/leafo/midiports/midi"

// Framer splits a MIDI byte stream into messages. It follows running
// status, passes realtime bytes through wherever they appear and skips
// SysEx payloads.
type Framer struct {
	running byte
	msg     [3]byte
	n       int
	need    int
	sysex   bool
}

// Feed consumes one byte and returns a message when one is complete.
func (f *Framer) Feed(b byte) (midi.Message, bool) {
	switch {
	case b >= 0xF8:
		if b == 0xF9 || b == 0xFD {
			return midi.Message{}, false
		}
		return midi.Message{Bytes: [3]byte{b}, Size: 1}, true
	case b == 0xF0:
		f.sysex = true
		f.running = 0
		f.n = 0
		return midi.Message{}, false
	case b == 0xF7:
		f.sysex = false
		f.n = 0
		return midi.Message{}, false
	case b > 0xF0:
		f.sysex = false
		f.running = 0
		f.n = 0
		switch b {
		case 0xF1, 0xF3:
			f.start(b, 2)
		case 0xF2:
			f.start(b, 3)
		case 0xF6:
			return midi.Message{Bytes: [3]byte{b}, Size: 1}, true
		}
		return midi.Message{}, false
	case b >= 0x80:
		f.sysex = false
		f.running = b
		f.start(b, channelMessageSize(b))
		return midi.Message{}, false
	}

	if f.sysex {
		return midi.Message{}, false
	}
	if f.n == 0 {
		if f.running == 0 {
			return midi.Message{}, false
		}
		f.start(f.running, channelMessageSize(f.running))
	}
	f.msg[f.n] = b
	f.n++
	if f.n < f.need {
		return midi.Message{}, false
	}
	f.n = 0
	return midi.Message{Bytes: f.msg, Size: f.need}, true
}

// Reset forgets running status and any partial message.
func (f *Framer) Reset() {
	*f = Framer{}
}

func (f *Framer) start(status byte, size int) {
	f.msg = [3]byte{status}
	f.n = 1
	f.need = size
}

func channelMessageSize(status byte) int {
	switch status & 0xF0 {
	case 0xC0, 0xD0:
		return 2
	}
	return 3
}

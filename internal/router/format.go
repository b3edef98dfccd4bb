package router

import (
	"fmt"

	gomidi "gitlab.com/gomidi/midi/v2"

	"github.com/leafo/midiports/internal/config"
	"github.com/leafo/midiports/midi"
)

// MessageTransformation tracks transformations applied to a MIDI message
type MessageTransformation struct {
	OriginalChannel    *uint8 // nil if no channel info or no change
	TransformedChannel *uint8
	OriginalNote       *uint8 // nil if not a note message or no change
	TransformedNote    *uint8
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// NoteToName converts a MIDI note number to note name
func NoteToName(note uint8) string {
	octave := int(note)/12 - 1
	return fmt.Sprintf("%s%d", noteNames[note%12], octave)
}

// isNoteMessage checks if a message is a Note On or Note Off message
func isNoteMessage(msg midi.Message) bool {
	status := msg.Status()
	return status == 0x80 || status == 0x90
}

// hasChannelInfo checks if a message has channel information (channel messages)
func hasChannelInfo(msg midi.Message) bool {
	return msg.Bytes[0] >= 0x80 && !msg.IsSystem()
}

// shouldRoute applies the note range filter; non-note messages pass through
func shouldRoute(msg midi.Message, output *config.OutputConfig) bool {
	if output.NoteRangeFilter != nil && isNoteMessage(msg) {
		return output.NoteRangeFilter.Contains(msg.Note())
	}
	return true
}

// applyChannelOverride records the channel change the output port applies
// for display. The port itself rewrites the channel when sending.
func applyChannelOverride(msg midi.Message, overrideChannel *uint8, transform *MessageTransformation) midi.Message {
	if overrideChannel == nil || !hasChannelInfo(msg) {
		return msg
	}

	originalChannel := uint8(msg.Channel()) + 1 // Convert to 1-based
	msg.SetChannel(int(*overrideChannel) - 1)

	if transform != nil {
		transform.OriginalChannel = &originalChannel
		transform.TransformedChannel = overrideChannel
	}
	return msg
}

// applyNoteTransposition modifies note numbers in Note On/Off messages if
// configured. A transposition leaving 0-127 keeps the original note.
func applyNoteTransposition(msg midi.Message, transposeSemitones *int8, transform *MessageTransformation) midi.Message {
	if transposeSemitones == nil || *transposeSemitones == 0 || !isNoteMessage(msg) {
		return msg
	}

	key := msg.Note()
	newNote := int(key) + int(*transposeSemitones)
	if newNote < 0 || newNote > 127 {
		return msg
	}

	msg.SetNote(uint8(newNote))
	if transform != nil {
		transposedNote := uint8(newNote)
		transform.OriginalNote = &key
		transform.TransformedNote = &transposedNote
	}
	return msg
}

// formatMessageWithTransformations creates a formatted string showing MIDI message with transformations
func formatMessageWithTransformations(originalMsg midi.Message, transform *MessageTransformation) string {
	messageType := gomidi.Message(originalMsg.Data()).Type().String()
	data := originalMsg.Data()[1:]

	if hasChannelInfo(originalMsg) {
		channelStr := formatChannelTransformation(uint8(originalMsg.Channel())+1, transform)

		if isNoteMessage(originalMsg) {
			noteStr := formatNoteTransformation(originalMsg.Note(), transform)
			return fmt.Sprintf("%s %s, %s, velocity: %d", messageType, channelStr, noteStr, originalMsg.Value())
		}

		if len(data) > 0 {
			return fmt.Sprintf("%s %s, data: %v", messageType, channelStr, data)
		}
		return fmt.Sprintf("%s %s", messageType, channelStr)
	}

	// System messages carry no channel
	if len(data) > 0 {
		return fmt.Sprintf("%s data: %v", messageType, data)
	}
	return messageType
}

// formatChannelTransformation formats channel info with before->after if changed
func formatChannelTransformation(originalChannel uint8, transform *MessageTransformation) string {
	if transform.OriginalChannel != nil && transform.TransformedChannel != nil {
		return fmt.Sprintf("channel: %d->%d", *transform.OriginalChannel, *transform.TransformedChannel)
	}
	return fmt.Sprintf("channel: %d", originalChannel)
}

// formatNoteTransformation formats note info with before->after if changed
func formatNoteTransformation(originalNote uint8, transform *MessageTransformation) string {
	if transform.OriginalNote != nil && transform.TransformedNote != nil {
		return fmt.Sprintf("note: %d->%d", *transform.OriginalNote, *transform.TransformedNote)
	}
	return fmt.Sprintf("note: %d", originalNote)
}

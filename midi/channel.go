package midi

import "fmt"

// AllChannels is the Input channel that disables filtering.
const AllChannels = -1

// InputChannels lists the channels an Input can select, AllChannels first.
func InputChannels() []int {
	channels := make([]int, 0, 17)
	for c := AllChannels; c < 16; c++ {
		channels = append(channels, c)
	}
	return channels
}

// OutputChannels lists the channels an Output can select.
func OutputChannels() []int {
	channels := make([]int, 0, 16)
	for c := 0; c < 16; c++ {
		channels = append(channels, c)
	}
	return channels
}

// ChannelName returns the display name of a zero-based channel.
func ChannelName(channel int) string {
	if channel < 0 {
		return "All channels"
	}
	return fmt.Sprintf("Channel %d", channel+1)
}

// Accepts reports whether a port listening on channel receives msg.
func Accepts(channel int, msg Message) bool {
	return msg.IsSystem() || channel < 0 || msg.Channel() == channel
}

func validChannel(channel int) bool {
	return channel >= AllChannels && channel < 16
}

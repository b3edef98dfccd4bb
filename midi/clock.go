package midi

import "time"

// Clock returns the current time in seconds.
type Clock func() float64

// WallClock returns the Unix time in seconds.
func WallClock() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Package midi routes MIDI messages between application-facing ports and the
// devices exposed by pluggable backend drivers.
//
// # Drivers and devices
//
// A Driver enumerates the input and output endpoints of one backend (rtmidi,
// a serial UART, an in-process loopback) and creates or releases a device
// whenever a port subscribes to or unsubscribes from an endpoint. Drivers own
// their devices; ports only hold a lookup reference and always go through the
// driver to let go of one.
//
// An InputDevice is the fan-out point for one endpoint: every message the
// backend hands to OnMessage is stamped with the device clock when it carries
// no timestamp and is then delivered, in subscription order, to every
// subscribed Input whose channel filter accepts it. OnMessage may run on a
// backend-owned goroutine concurrently with ports subscribing and
// unsubscribing; it never blocks.
//
// # Ports
//
// Input, InputQueue and Output are the handles an application keeps. Each
// port binds to a driver (by integer ID, looked up in the Registry of the
// port's Context), then to one device of that driver, and carries a channel:
//
//	Input:  -1 (all channels, the default) or 0..15
//	Output:  0..15 (default 0), or -1 set programmatically for passthrough
//
// Binding changes never fail. Driver errors are logged through the
// Context logger, reported to an optional error handler and turned into a
// neutral result: an empty device list, an empty name or an unbound port.
// Failed sends are only counted.
//
// # Persistence
//
// A port's binding is persisted as a PortState:
//
//	{"driver": 1, "deviceName": "Launchkey MK3", "channel": -1}
//
// Restoring resolves the device by name against the driver's current device
// list, so a missing device leaves the port bound to its driver only.
package midi

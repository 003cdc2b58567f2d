package worker

import "context"

// Command is one extraction step issued to a device. Argv is opaque to the
// worker; only the transport interprets it.
type Command struct {
	Name string   // Short label used in logs and error messages
	Argv []string // Program and arguments
	Dir  string   // Working directory; defaults to the device dump directory
	Env  []string // Extra KEY=VALUE pairs
}

// Reply is the completion of a dispatched command.
type Reply struct {
	Output string
	Err    error
}

// Transport is the capability to run commands against a device.
type Transport interface {
	// Dispatch sends cmd to the device and returns once it is under way.
	// An error means the command was never dispatched. The returned channel
	// delivers exactly one Reply when the command finishes; it may never
	// deliver if the device stops responding.
	Dispatch(ctx context.Context, deviceID string, cmd Command) (<-chan Reply, error)
}

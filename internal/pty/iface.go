package pty

// Sink receives output and lifecycle notifications from a session's monitor.
// OnData is called on the monitor goroutine and must not block it for long.
// OnExit is called exactly once, after the output stream ends.
type Sink interface {
	OnData(text string)
	OnExit()
}

// Resizer changes the cell dimensions of a terminal.
type Resizer interface {
	Resize(rows, cols uint16) error
}

// Handle is the command surface a UI layer drives. Every method is safe to
// call concurrently with the others and with the output monitor.
type Handle interface {
	ID() string
	PID() int
	Initialize() string
	Write(data string)
	Resize(rows, cols uint16)
	Streaming() bool
	Done() <-chan struct{}
}

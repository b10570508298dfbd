package serialmux

import (
	"io"
	"time"
)

// SerialPorter is the subset of go.bug.st/serial.Port the instrument driver
// uses. Test doubles and the instrument simulator implement it without
// hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer

	// SetReadTimeout bounds how long Read blocks when no byte is available.
	// A Read that times out returns 0, nil.
	SetReadTimeout(timeout time.Duration) error

	// ResetInputBuffer discards bytes received but not yet read.
	ResetInputBuffer() error

	// Break holds the transmit line low for d.
	Break(d time.Duration) error
}

// PollReadTimeout is the read timeout applied to real ports so that a Read
// with nothing pending returns promptly to the caller's polling loop.
const PollReadTimeout = 10 * time.Millisecond

// Package monitoring holds the process-wide log function and the counters
// each instrument session reports on the status route.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...any) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}

// SessionCounters tracks the outcome of every sampling cycle and command-mode
// transaction in a session. All methods are safe for concurrent use.
type SessionCounters struct {
	ensembles      atomic.Uint64
	missed         atomic.Uint64
	checksumErrors atomic.Uint64
	formatErrors   atomic.Uint64
	handshakes     atomic.Uint64
	handshakeFails atomic.Uint64
	commandFails   atomic.Uint64
}

// CounterSnapshot is a point-in-time copy of SessionCounters.
type CounterSnapshot struct {
	Ensembles         uint64 `json:"ensembles"`
	Missed            uint64 `json:"missed"`
	ChecksumErrors    uint64 `json:"checksum_errors"`
	FormatErrors      uint64 `json:"format_errors"`
	Handshakes        uint64 `json:"handshakes"`
	HandshakeFailures uint64 `json:"handshake_failures"`
	CommandFailures   uint64 `json:"command_failures"`
}

func (c *SessionCounters) Ensemble()         { c.ensembles.Add(1) }
func (c *SessionCounters) Missed()           { c.missed.Add(1) }
func (c *SessionCounters) ChecksumError()    { c.checksumErrors.Add(1) }
func (c *SessionCounters) FormatError()      { c.formatErrors.Add(1) }
func (c *SessionCounters) Handshake()        { c.handshakes.Add(1) }
func (c *SessionCounters) HandshakeFailure() { c.handshakeFails.Add(1) }
func (c *SessionCounters) CommandFailure()   { c.commandFails.Add(1) }

// Snapshot returns the current counter values.
func (c *SessionCounters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		Ensembles:         c.ensembles.Load(),
		Missed:            c.missed.Load(),
		ChecksumErrors:    c.checksumErrors.Load(),
		FormatErrors:      c.formatErrors.Load(),
		Handshakes:        c.handshakes.Load(),
		HandshakeFailures: c.handshakeFails.Load(),
		CommandFailures:   c.commandFails.Load(),
	}
}

package adcp

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/banshee-data/adcp/internal/serialmux"
	"github.com/banshee-data/adcp/internal/timeutil"
)

// Poll intervals of the cooperative wait loops.
const (
	PollInterval     = 50 * time.Millisecond
	DataPollInterval = 100 * time.Millisecond
)

// maxReplyLength bounds a text reply awaiting its delimiter.
const maxReplyLength = 8192

// Stream is a non-blocking byte source over a serial port. A Read that
// returns nothing means no byte is available yet; callers poll on their
// clock.
type Stream struct {
	port    serialmux.SerialPorter
	clock   timeutil.Clock
	pending []byte
	chunk   [512]byte
}

// NewStream wraps port. A nil port may be attached later.
func NewStream(port serialmux.SerialPorter, clock timeutil.Clock) *Stream {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Stream{port: port, clock: clock}
}

// Attach binds the stream to port, discarding buffered bytes if the port
// changed.
func (s *Stream) Attach(port serialmux.SerialPorter) {
	if s.port != port {
		s.port = port
		s.pending = s.pending[:0]
	}
}

func (s *Stream) fill() error {
	if len(s.pending) > 0 {
		return nil
	}
	n, err := s.port.Read(s.chunk[:])
	if n > 0 {
		s.pending = append(s.pending, s.chunk[:n]...)
		tracef("rx %q", s.chunk[:n])
	}
	if err != nil {
		return transportError("read", err)
	}
	return nil
}

// TryReadByte returns the next byte if one is available now.
func (s *Stream) TryReadByte() (byte, bool, error) {
	if err := s.fill(); err != nil {
		return 0, false, err
	}
	if len(s.pending) == 0 {
		return 0, false, nil
	}
	b := s.pending[0]
	s.pending = s.pending[1:]
	return b, true, nil
}

// Available reports whether at least one byte can be read without waiting.
func (s *Stream) Available() (bool, error) {
	if err := s.fill(); err != nil {
		return false, err
	}
	return len(s.pending) > 0, nil
}

// Write sends p in full.
func (s *Stream) Write(p []byte) error {
	tracef("tx %q", p)
	for len(p) > 0 {
		n, err := s.port.Write(p)
		if err != nil {
			return transportError("write", err)
		}
		if n == 0 {
			return transportError("write", io.ErrShortWrite)
		}
		p = p[n:]
	}
	return nil
}

// Flush discards every byte received so far.
func (s *Stream) Flush() error {
	s.pending = s.pending[:0]
	if err := s.port.ResetInputBuffer(); err != nil {
		return transportError("flush", err)
	}
	return nil
}

// ReadUntil reads until delim has been received or timeout elapses and
// returns the bytes preceding delim.
func (s *Stream) ReadUntil(ctx context.Context, delim []byte, timeout time.Duration) ([]byte, error) {
	start := s.clock.Now()
	var got []byte
	for {
		if ctx.Err() != nil {
			return got, cancelled(ctx)
		}
		b, ok, err := s.TryReadByte()
		if err != nil {
			return got, err
		}
		if ok {
			got = append(got, b)
			if bytes.HasSuffix(got, delim) {
				return got[:len(got)-len(delim)], nil
			}
			if len(got) > maxReplyLength {
				return got, errReplyTooLong
			}
			continue
		}
		if s.clock.Since(start) >= timeout {
			return got, ErrTimedOut
		}
		s.clock.Sleep(PollInterval)
	}
}

// Wait sleeps for d in poll-sized steps, returning early if ctx ends.
func (s *Stream) Wait(ctx context.Context, d time.Duration) error {
	start := s.clock.Now()
	for {
		if ctx.Err() != nil {
			return cancelled(ctx)
		}
		left := d - s.clock.Since(start)
		if left <= 0 {
			return nil
		}
		s.clock.Sleep(min(left, PollInterval))
	}
}

package adcp

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/adcp/internal/pd0"
	"github.com/banshee-data/adcp/internal/timeutil"
)

// Framing defaults used by the session.
const (
	FrameIdleTimeout = time.Second
	MaxFrameSize     = 64 * 1024
)

// Framer assembles PD0 ensembles from a Stream. The declared length in the
// 4-byte prefix ends the frame; an idle gap longer than the timeout means the
// frame was cut short.
type Framer struct {
	stream *Stream
	clock  timeutil.Clock
}

// NewFramer returns a framer reading from stream.
func NewFramer(stream *Stream, clock timeutil.Clock) *Framer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Framer{stream: stream, clock: clock}
}

// ReadUntilDelay reads one ensemble into buf and returns its length. The idle
// timer restarts on every byte received.
func (f *Framer) ReadUntilDelay(ctx context.Context, buf []byte, idle time.Duration) (int, error) {
	n, declared := 0, 0
	last := f.clock.Now()

	for {
		if ctx.Err() != nil {
			return n, cancelled(ctx)
		}

		b, ok, err := f.stream.TryReadByte()
		if err != nil {
			return n, err
		}
		if !ok {
			if f.clock.Since(last) > idle {
				return n, fmt.Errorf("%w: ensemble incomplete after %d of %d bytes", ErrTimedOut, n, declared)
			}
			f.clock.Sleep(PollInterval)
			continue
		}

		if n >= len(buf) {
			return n, &pd0.FormatError{Reason: fmt.Sprintf("frame exceeds %d byte buffer", len(buf)), Offset: n}
		}
		buf[n] = b
		n++
		last = f.clock.Now()

		switch {
		case n == 2:
			if !pd0.HasMarker(buf[:2]) {
				return n, &pd0.FormatError{Reason: fmt.Sprintf("bad header marker %02X %02X", buf[0], buf[1]), Offset: 0}
			}
		case n == pd0.PrefixSize:
			declared = pd0.DeclaredLength(buf[:n])
			if declared <= pd0.PrefixSize {
				return n, &pd0.FormatError{Reason: fmt.Sprintf("declared length %d too short", declared), Offset: 2}
			}
			if declared > len(buf) {
				return n, &pd0.FormatError{Reason: fmt.Sprintf("declared length %d exceeds %d byte buffer", declared, len(buf)), Offset: 2}
			}
			tracef("framing %d byte ensemble", declared)
		}

		if n > pd0.PrefixSize && n == declared {
			return n, nil
		}
	}
}

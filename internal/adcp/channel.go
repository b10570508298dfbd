package adcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/banshee-data/adcp/internal/timeutil"
)

// Command-mode protocol limits.
const (
	MaxBreakTries   = 2
	MaxPromptTries  = 3
	MaxCommandTries = 3

	DefaultBreakDuration = 400 * time.Millisecond
	MinBreakDuration     = 350 * time.Millisecond

	PostBreakDelay     = 1500 * time.Millisecond
	PromptResponseTime = 3 * time.Second
	ResponseTime       = 5 * time.Second
	EchoResponseTime   = 2 * time.Second
	ResyncDelay        = 500 * time.Millisecond
)

// Protocol bytes.
const (
	Prompt         = '>'
	CR             = '\r'
	ResumeCommand  = "CS"
	echoTerminator = "\r\n"
)

// Mode is the instrument's protocol state as tracked by the driver.
type Mode int32

const (
	ModeSampling Mode = iota
	ModeCommand
)

func (m Mode) String() string {
	switch m {
	case ModeSampling:
		return "sampling"
	case ModeCommand:
		return "command"
	default:
		return fmt.Sprintf("Mode(%d)", int32(m))
	}
}

// CommandChannel drives the instrument's interactive command mode. It is not
// safe for concurrent use; the session serializes access.
type CommandChannel struct {
	stream        *Stream
	breaker       BreakSignaler
	clock         timeutil.Clock
	breakDuration time.Duration
	mode          atomic.Int32
}

// NewCommandChannel returns a channel in sampling mode. Break durations under
// MinBreakDuration are raised to it; zero selects DefaultBreakDuration.
func NewCommandChannel(stream *Stream, breaker BreakSignaler, clock timeutil.Clock, breakDuration time.Duration) *CommandChannel {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	switch {
	case breakDuration == 0:
		breakDuration = DefaultBreakDuration
	case breakDuration < MinBreakDuration:
		breakDuration = MinBreakDuration
	}
	return &CommandChannel{
		stream:        stream,
		breaker:       breaker,
		clock:         clock,
		breakDuration: breakDuration,
	}
}

// Mode returns the current protocol state. It is safe to call concurrently.
func (c *CommandChannel) Mode() Mode {
	return Mode(c.mode.Load())
}

func (c *CommandChannel) setMode(m Mode) {
	if old := Mode(c.mode.Swap(int32(m))); old != m {
		diagf("mode %s -> %s", old, m)
	}
}

// BreakDuration returns the break length asserted on each attempt.
func (c *CommandChannel) BreakDuration() time.Duration {
	return c.breakDuration
}

// EnterCommandMode breaks into command mode. Each break is followed by up to
// MaxPromptTries carriage returns; the first prompt wins.
func (c *CommandChannel) EnterCommandMode(ctx context.Context) error {
	for b := 1; b <= MaxBreakTries; b++ {
		if err := c.breaker.AssertBreak(ctx, c.breakDuration); err != nil {
			opsf("break %d/%d failed: %v", b, MaxBreakTries, err)
		}
		if err := c.stream.Wait(ctx, PostBreakDelay); err != nil {
			return err
		}
		// Drop the wake-up banner and any ensemble bytes still in flight.
		if err := c.stream.Flush(); err != nil {
			return err
		}

		for p := 1; p <= MaxPromptTries; p++ {
			if err := c.stream.Write([]byte{CR}); err != nil {
				return err
			}
			_, err := c.stream.ReadUntil(ctx, []byte{Prompt}, PromptResponseTime)
			if err == nil {
				c.setMode(ModeCommand)
				diagf("command mode after break %d prompt %d", b, p)
				return nil
			}
			if !retryable(err) {
				return err
			}
			tracef("no prompt after break %d attempt %d: %v", b, p, err)
		}
	}
	opsf("no prompt after %d breaks", MaxBreakTries)
	return fmt.Errorf("%w: no prompt after %d breaks of %d attempts each", ErrHandshakeFailed, MaxBreakTries, MaxPromptTries)
}

// ExitCommandMode tells the instrument to resume pinging. The instrument does
// not answer, so nothing is awaited.
func (c *CommandChannel) ExitCommandMode(ctx context.Context) error {
	if ctx.Err() != nil {
		return cancelled(ctx)
	}
	if err := c.stream.Write([]byte(ResumeCommand + string(CR))); err != nil {
		return err
	}
	c.setMode(ModeSampling)
	return nil
}

// SendCommand sends cmd and waits for the prompt that acknowledges it.
func (c *CommandChannel) SendCommand(ctx context.Context, cmd string) error {
	_, err := c.transact(ctx, cmd, false)
	if err != nil && retryable(err) {
		return fmt.Errorf("%w: %q after %d attempts: %v", ErrCommandFailed, cmd, MaxCommandTries, err)
	}
	return err
}

// SendRequest sends cmd and returns the instrument's reply with the echoed
// command, the trailing prompt and surrounding line breaks removed.
func (c *CommandChannel) SendRequest(ctx context.Context, cmd string) (string, error) {
	reply, err := c.transact(ctx, cmd, true)
	if err != nil && retryable(err) {
		return "", fmt.Errorf("%w: %q after %d attempts: %v", ErrRequestFailed, cmd, MaxCommandTries, err)
	}
	return reply, err
}

func (c *CommandChannel) transact(ctx context.Context, cmd string, request bool) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= MaxCommandTries; attempt++ {
		if attempt > 1 {
			if err := c.resync(ctx); err != nil {
				return "", err
			}
		}

		reply, err := c.exchange(ctx, cmd, request)
		if err == nil {
			diagf("%q ok on attempt %d", cmd, attempt)
			return reply, nil
		}
		if !retryable(err) {
			return "", err
		}
		opsf("%q attempt %d/%d: %v", cmd, attempt, MaxCommandTries, err)
		lastErr = err
	}
	return "", lastErr
}

func (c *CommandChannel) exchange(ctx context.Context, cmd string, request bool) (string, error) {
	if ctx.Err() != nil {
		return "", cancelled(ctx)
	}
	if err := c.stream.Write([]byte(cmd + string(CR))); err != nil {
		return "", err
	}

	if request {
		if _, err := c.stream.ReadUntil(ctx, []byte(echoTerminator), EchoResponseTime); err != nil {
			return "", fmt.Errorf("awaiting echo: %w", err)
		}
	}

	raw, err := c.stream.ReadUntil(ctx, []byte{Prompt}, ResponseTime)
	if err != nil {
		return "", fmt.Errorf("awaiting prompt: %w", err)
	}
	reply := strings.Trim(string(raw), "\r\n")
	if line, ok := errorLine(reply); ok {
		return "", fmt.Errorf("%w: %s", errInstrumentReply, line)
	}
	return reply, nil
}

// resync nudges the instrument back to a fresh prompt and discards whatever
// the failed attempt left behind.
func (c *CommandChannel) resync(ctx context.Context) error {
	if err := c.stream.Write([]byte{CR}); err != nil {
		return err
	}
	if err := c.stream.Wait(ctx, ResyncDelay); err != nil {
		return err
	}
	return c.stream.Flush()
}

// errorLine returns the first line of reply the instrument flagged as an error.
func errorLine(reply string) (string, bool) {
	sc := bufio.NewScanner(strings.NewReader(reply))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(strings.ToUpper(line), "ERR") {
			return line, true
		}
	}
	return "", false
}

// isCancelled reports whether err came from a cancelled context.
func isCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

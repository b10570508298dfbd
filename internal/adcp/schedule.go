package adcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/adcp/internal/config"
	"github.com/banshee-data/adcp/internal/timeutil"
)

// Scheduler is the external wake-up timer the coordinator keeps aligned with
// the instrument's ping cycle.
type Scheduler interface {
	// Resync arms the next wake-up interval from now.
	Resync(interval time.Duration) error
}

// ScheduleState holds the timing of the instrument's ensemble cycle.
type ScheduleState struct {
	EnsembleInterval time.Duration
	Preemption       time.Duration
	PingInterval     time.Duration
	PingsPerEnsemble int
	// InitialInterval is the wake delay after the ping cycle restarts; it is
	// set on every restart.
	InitialInterval time.Duration
}

// NewScheduleState derives the schedule from a session configuration.
func NewScheduleState(cfg *config.SessionConfig) ScheduleState {
	return ScheduleState{
		EnsembleInterval: cfg.GetEnsembleInterval(),
		Preemption:       cfg.GetPreemption(),
		PingInterval:     cfg.GetPingInterval(),
		PingsPerEnsemble: cfg.GetPingsPerEnsemble(),
	}
}

// pingCycle is the ping time of one ensemble rounded up to whole seconds.
func (s ScheduleState) pingCycle() time.Duration {
	return config.CeilSeconds(time.Duration(s.PingsPerEnsemble) * s.PingInterval)
}

// MaxWait bounds the wait for an ensemble after a wake-up.
func (s ScheduleState) MaxWait() time.Duration {
	return 2*s.Preemption + s.pingCycle()
}

// NextInterval is the wake delay after an ensemble arrived on time.
func (s ScheduleState) NextInterval() (time.Duration, error) {
	next := s.EnsembleInterval - s.Preemption
	if next < 0 {
		return 0, fmt.Errorf("%w: preemption %s exceeds ensemble interval %s", ErrConfiguration, s.Preemption, s.EnsembleInterval)
	}
	return next, nil
}

// RestartInterval is the wake delay after the instrument restarts pinging.
func (s ScheduleState) RestartInterval() (time.Duration, error) {
	initial := s.pingCycle() - s.Preemption
	if initial <= 0 {
		return 0, fmt.Errorf("%w: preemption %s leaves no wait after the %s ping cycle", ErrConfiguration, s.Preemption, s.pingCycle())
	}
	return initial, nil
}

// commandModer is the part of CommandChannel the coordinator needs.
type commandModer interface {
	EnterCommandMode(ctx context.Context) error
	ExitCommandMode(ctx context.Context) error
}

// ScheduleCoordinator waits for each ensemble and keeps the scheduler aligned
// with its arrival. It owns its ScheduleState.
type ScheduleCoordinator struct {
	mu        sync.Mutex
	state     ScheduleState
	stream    *Stream
	channel   commandModer
	scheduler Scheduler
	clock     timeutil.Clock
}

// NewScheduleCoordinator returns a coordinator for state.
func NewScheduleCoordinator(state ScheduleState, stream *Stream, channel commandModer, scheduler Scheduler, clock timeutil.Clock) *ScheduleCoordinator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ScheduleCoordinator{
		state:     state,
		stream:    stream,
		channel:   channel,
		scheduler: scheduler,
		clock:     clock,
	}
}

// State returns a copy of the current schedule.
func (c *ScheduleCoordinator) State() ScheduleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestSample waits for the next ensemble to start arriving. On time, the
// scheduler is moved to the next ensemble and nil is returned with the bytes
// left unread. When nothing arrives within MaxWait the instrument is cycled
// through command mode to restart pinging, the scheduler is moved to the
// restart interval, and an ErrTimedOut error is returned.
func (c *ScheduleCoordinator) RequestSample(ctx context.Context) error {
	if err := c.stream.Flush(); err != nil {
		return err
	}

	maxWait := c.State().MaxWait()
	start := c.clock.Now()
	for {
		if ctx.Err() != nil {
			return cancelled(ctx)
		}
		ok, err := c.stream.Available()
		if err != nil {
			return err
		}
		if ok {
			return c.onTime(c.clock.Since(start))
		}
		if c.clock.Since(start) >= maxWait {
			return c.missed(ctx, maxWait)
		}
		c.clock.Sleep(DataPollInterval)
	}
}

func (c *ScheduleCoordinator) onTime(waited time.Duration) error {
	next, err := c.State().NextInterval()
	if err != nil {
		return err
	}
	diagf("ensemble after %s, next wake in %s", waited, next)
	if err := c.scheduler.Resync(next); err != nil {
		return fmt.Errorf("resync to %s: %w", next, err)
	}
	return nil
}

func (c *ScheduleCoordinator) missed(ctx context.Context, maxWait time.Duration) error {
	opsf("no ensemble within %s, restarting ping cycle", maxWait)
	if err := c.channel.EnterCommandMode(ctx); err != nil {
		if isCancelled(err) || IsSessionFatal(err) {
			return err
		}
		return c.retryLater(err)
	}
	if err := c.channel.ExitCommandMode(ctx); err != nil {
		return err
	}
	initial, err := c.Restarted()
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: no ensemble within %s; ping cycle restarted, next wake in %s", ErrTimedOut, maxWait, initial)
}

// retryLater re-arms the scheduler after a failed recovery handshake so the
// next wake-up tries again. cause is returned unless the re-arm fails.
func (c *ScheduleCoordinator) retryLater(cause error) error {
	retry, err := c.State().RestartInterval()
	if err != nil {
		return err
	}
	if err := c.scheduler.Resync(retry); err != nil {
		return fmt.Errorf("resync to %s: %w", retry, err)
	}
	opsf("recovery handshake failed, retrying in %s: %v", retry, cause)
	return cause
}

// Restarted records that the instrument just resumed pinging and moves the
// scheduler to the first ensemble of the new cycle.
func (c *ScheduleCoordinator) Restarted() (time.Duration, error) {
	c.mu.Lock()
	initial, err := c.state.RestartInterval()
	if err == nil {
		c.state.InitialInterval = initial
	}
	c.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if err := c.scheduler.Resync(initial); err != nil {
		return 0, fmt.Errorf("resync to %s: %w", initial, err)
	}
	diagf("ping cycle restarted, next wake in %s", initial)
	return initial, nil
}

package adcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/adcp/internal/config"
	"github.com/banshee-data/adcp/internal/monitoring"
	"github.com/banshee-data/adcp/internal/pd0"
	"github.com/banshee-data/adcp/internal/serialmux"
	"github.com/banshee-data/adcp/internal/timeutil"
	"github.com/banshee-data/adcp/internal/units"
)

// PortOwner grants exclusive use of the serial port and distributes summary
// lines to subscribers. *serialmux.SerialMux satisfies it.
type PortOwner interface {
	Exclusive(fn func(port serialmux.SerialPorter) error) error
	Publish(line string)
}

// Session drives one instrument: it configures it, then samples one
// ensemble per scheduler wake-up. Every exchange with the instrument runs
// under the port owner's lock, so configuration, sampling and ad-hoc queries
// never interleave.
type Session struct {
	ID string

	cfg         *config.SessionConfig
	owner       PortOwner
	clock       timeutil.Clock
	unit        string
	stream      *Stream
	channel     *CommandChannel
	modes       commandModer
	coordinator *ScheduleCoordinator
	framer      *Framer
	counters    monitoring.SessionCounters
	buf         []byte

	mu          sync.Mutex
	startedAt   time.Time
	lastSummary *Summary
	lastErr     string
	lastErrAt   time.Time
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithClock sets the clock every wait in the session runs on.
func WithClock(c timeutil.Clock) SessionOption {
	return func(s *Session) { s.clock = c }
}

// WithUnits sets the velocity units of published summaries.
func WithUnits(unit string) SessionOption {
	return func(s *Session) { s.unit = unit }
}

// NewSession validates cfg and returns a session in sampling mode. The
// port is bound on each exclusive section.
func NewSession(cfg *config.SessionConfig, owner PortOwner, breaker BreakSignaler, scheduler Scheduler, opts ...SessionOption) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultSessionConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	s := &Session{
		ID:    uuid.New().String(),
		cfg:   cfg,
		owner: owner,
		clock: timeutil.RealClock{},
		unit:  units.CMPS,
		buf:   make([]byte, MaxFrameSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !units.IsValid(s.unit) {
		return nil, fmt.Errorf("%w: unknown units %q, want one of %s", ErrConfiguration, s.unit, units.GetValidUnitsString())
	}

	s.stream = NewStream(nil, s.clock)
	s.channel = NewCommandChannel(s.stream, breaker, s.clock, cfg.GetBreakDuration())
	s.modes = countingModer{CommandChannel: s.channel, counters: &s.counters}
	s.coordinator = NewScheduleCoordinator(NewScheduleState(cfg), s.stream, s.modes, scheduler, s.clock)
	s.framer = NewFramer(s.stream, s.clock)
	s.startedAt = s.clock.Now()
	return s, nil
}

// countingModer counts handshakes for the status route.
type countingModer struct {
	*CommandChannel
	counters *monitoring.SessionCounters
}

func (c countingModer) EnterCommandMode(ctx context.Context) error {
	err := c.CommandChannel.EnterCommandMode(ctx)
	switch {
	case err == nil:
		c.counters.Handshake()
	case errors.Is(err, ErrHandshakeFailed):
		c.counters.HandshakeFailure()
	}
	return err
}

// Mode returns the instrument's protocol state.
func (s *Session) Mode() Mode {
	return s.channel.Mode()
}

// Counters returns the session's counters.
func (s *Session) Counters() monitoring.CounterSnapshot {
	return s.counters.Snapshot()
}

func (s *Session) exclusive(fn func() error) error {
	return s.owner.Exclusive(func(port serialmux.SerialPorter) error {
		s.stream.Attach(port)
		return fn()
	})
}

// Configure sends the setup command set and starts the ping cycle. Any
// failure is fatal for the session.
func (s *Session) Configure(ctx context.Context) error {
	err := s.exclusive(func() error {
		if err := s.modes.EnterCommandMode(ctx); err != nil {
			return err
		}
		for _, cmd := range SetupCommands(s.cfg) {
			if err := s.channel.SendCommand(ctx, cmd); err != nil {
				s.counters.CommandFailure()
				return err
			}
		}
		// Refuse to start pinging on a schedule that cannot be kept.
		if _, err := s.coordinator.State().RestartInterval(); err != nil {
			return err
		}
		return s.resume(ctx)
	})
	if err != nil {
		s.recordError(err)
		return fmt.Errorf("configure session %s: %w", s.ID, err)
	}
	opsf("session %s configured, sampling every %s", s.ID, s.cfg.GetEnsembleInterval())
	return nil
}

// resume restarts pinging and realigns the scheduler with the new cycle.
func (s *Session) resume(ctx context.Context) error {
	if err := s.channel.ExitCommandMode(ctx); err != nil {
		return err
	}
	_, err := s.coordinator.Restarted()
	return err
}

// Sample waits for the next ensemble, then frames, validates and decodes
// it. A missed ensemble restarts the ping cycle and returns ErrTimedOut.
func (s *Session) Sample(ctx context.Context) (*pd0.Ensemble, error) {
	var ens *pd0.Ensemble
	err := s.exclusive(func() error {
		if err := s.coordinator.RequestSample(ctx); err != nil {
			if errors.Is(err, ErrTimedOut) {
				s.counters.Missed()
			}
			return err
		}

		n, err := s.framer.ReadUntilDelay(ctx, s.buf, FrameIdleTimeout)
		if err != nil {
			if errors.Is(err, pd0.ErrFormat) {
				s.counters.FormatError()
			} else if errors.Is(err, ErrTimedOut) {
				s.counters.Missed()
			}
			return err
		}
		frame := s.buf[:n]
		if err := pd0.ValidateChecksum(frame); err != nil {
			s.counters.ChecksumError()
			return err
		}
		ens, err = pd0.Decode(frame)
		if err != nil {
			s.counters.FormatError()
			return err
		}
		return nil
	})
	if err != nil {
		s.recordError(err)
		return nil, err
	}

	s.counters.Ensemble()
	summary := Summarize(ens)
	summary.ReceivedAt = s.clock.Now()
	s.mu.Lock()
	s.lastSummary = &summary
	s.mu.Unlock()
	s.owner.Publish(summary.Format(s.unit))
	diagf("session %s: %s", s.ID, summary)
	return ens, nil
}

// Query sends one request in command mode and returns the reply. The ping
// cycle is restarted afterwards even when the request fails.
func (s *Session) Query(ctx context.Context, cmd string) (string, error) {
	var reply string
	err := s.exclusive(func() error {
		if err := s.modes.EnterCommandMode(ctx); err != nil {
			return err
		}
		r, reqErr := s.channel.SendRequest(ctx, cmd)
		if reqErr != nil {
			s.counters.CommandFailure()
		}
		if err := s.resume(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		reply = r
		return reqErr
	})
	if err != nil {
		s.recordError(err)
		return "", err
	}
	return reply, nil
}

// AllowCommand reports whether cmd may be sent through Query from the debug
// page.
func (s *Session) AllowCommand(cmd string) bool {
	return IsAllowedCommand(cmd)
}

// Run samples once per value received on wake until ctx is done. Recoverable
// errors are logged and the loop continues; transport and configuration
// failures end it.
func (s *Session) Run(ctx context.Context, wake <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-wake:
		}

		_, err := s.Sample(ctx)
		switch {
		case err == nil:
		case isCancelled(err) || ctx.Err() != nil:
			return nil
		case errors.Is(err, serialmux.ErrClosed):
			return err
		case IsSessionFatal(err):
			opsf("session %s stopping: %v", s.ID, err)
			return err
		default:
			opsf("session %s: sample dropped: %v", s.ID, err)
		}
	}
}

func (s *Session) recordError(err error) {
	if isCancelled(err) {
		return
	}
	s.mu.Lock()
	s.lastErr = err.Error()
	s.lastErrAt = s.clock.Now()
	s.mu.Unlock()
}

// ScheduleStatus reports the schedule in human-readable durations.
type ScheduleStatus struct {
	EnsembleInterval string `json:"ensemble_interval"`
	Preemption       string `json:"preemption"`
	MaxWait          string `json:"max_wait"`
	InitialInterval  string `json:"initial_interval"`
}

// SessionStatus is the JSON document served on the status route.
type SessionStatus struct {
	ID          string                     `json:"id"`
	Mode        string                     `json:"mode"`
	StartedAt   time.Time                  `json:"started_at"`
	Uptime      string                     `json:"uptime"`
	Config      *config.SessionConfig      `json:"config"`
	Schedule    ScheduleStatus             `json:"schedule"`
	Counters    monitoring.CounterSnapshot `json:"counters"`
	LastSummary *Summary                   `json:"last_summary,omitempty"`
	LastError   string                     `json:"last_error,omitempty"`
	LastErrorAt *time.Time                 `json:"last_error_at,omitempty"`
}

// Status returns a snapshot of the session. It does not take the port lock.
func (s *Session) Status() any {
	state := s.coordinator.State()
	st := SessionStatus{
		ID:     s.ID,
		Mode:   s.Mode().String(),
		Config: s.cfg,
		Schedule: ScheduleStatus{
			EnsembleInterval: state.EnsembleInterval.String(),
			Preemption:       state.Preemption.String(),
			MaxWait:          state.MaxWait().String(),
			InitialInterval:  state.InitialInterval.String(),
		},
		Counters: s.counters.Snapshot(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st.StartedAt = s.startedAt
	st.Uptime = s.clock.Since(s.startedAt).Truncate(time.Second).String()
	if s.lastSummary != nil {
		summary := *s.lastSummary
		st.LastSummary = &summary
	}
	if s.lastErr != "" {
		at := s.lastErrAt
		st.LastError = s.lastErr
		st.LastErrorAt = &at
	}
	return st
}

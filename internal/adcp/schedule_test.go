package adcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/adcp/internal/config"
	"github.com/banshee-data/adcp/internal/serialmux"
	"github.com/banshee-data/adcp/internal/timeutil"
)

type recordingScheduler struct {
	intervals []time.Duration
	err       error
}

func (r *recordingScheduler) Resync(d time.Duration) error {
	if r.err != nil {
		return r.err
	}
	r.intervals = append(r.intervals, d)
	return nil
}

type recordingModer struct {
	calls    []string
	enterErr error
}

func (r *recordingModer) EnterCommandMode(ctx context.Context) error {
	r.calls = append(r.calls, "enter")
	return r.enterErr
}

func (r *recordingModer) ExitCommandMode(ctx context.Context) error {
	r.calls = append(r.calls, "exit")
	return nil
}

func defaultState() ScheduleState {
	return NewScheduleState(config.DefaultSessionConfig())
}

func TestScheduleState_Arithmetic(t *testing.T) {
	s := defaultState()

	next, err := s.NextInterval()
	require.NoError(t, err)
	assert.Equal(t, 280*time.Second, next)
	assert.Equal(t, 100*time.Second, s.MaxWait())

	initial, err := s.RestartInterval()
	require.NoError(t, err)
	assert.Equal(t, 40*time.Second, initial)
}

func TestScheduleState_PingCycleRoundsUp(t *testing.T) {
	s := ScheduleState{
		EnsembleInterval: time.Minute,
		Preemption:       5 * time.Second,
		PingInterval:     500 * time.Millisecond,
		PingsPerEnsemble: 61,
	}
	assert.Equal(t, 2*5*time.Second+31*time.Second, s.MaxWait())
	initial, err := s.RestartInterval()
	require.NoError(t, err)
	assert.Equal(t, 26*time.Second, initial)
}

func TestScheduleState_ConfigurationErrors(t *testing.T) {
	s := defaultState()
	s.Preemption = 301 * time.Second
	_, err := s.NextInterval()
	assert.ErrorIs(t, err, ErrConfiguration)

	// Waking exactly on the ensemble is arithmetically valid here; session
	// configs never get this far because Validate rejects it.
	s.Preemption = s.EnsembleInterval
	next, err := s.NextInterval()
	require.NoError(t, err)
	assert.Zero(t, next)

	s = defaultState()
	s.Preemption = 60 * time.Second // equals the ping cycle
	_, err = s.RestartInterval()
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.True(t, IsSessionFatal(err))
}

type coordinatorFixture struct {
	port      *serialmux.TestableSerialPort
	clock     *timeutil.MockClock
	stream    *Stream
	moder     *recordingModer
	scheduler *recordingScheduler
	coord     *ScheduleCoordinator
}

func newCoordinatorFixture(state ScheduleState) *coordinatorFixture {
	port := serialmux.NewTestableSerialPort()
	clock := timeutil.NewMockClock(epoch)
	stream := NewStream(port, clock)
	moder := &recordingModer{}
	sched := &recordingScheduler{}
	return &coordinatorFixture{
		port:      port,
		clock:     clock,
		stream:    stream,
		moder:     moder,
		scheduler: sched,
		coord:     NewScheduleCoordinator(state, stream, moder, sched, clock),
	}
}

func TestRequestSample_OnTime(t *testing.T) {
	f := newCoordinatorFixture(defaultState())
	f.port.AddReadData([]byte("stale"))
	f.clock.OnAdvance(func(now time.Time) {
		if now.Sub(epoch) == 30*time.Second {
			f.port.AddReadData([]byte{0x7F, 0x7F})
		}
	})

	require.NoError(t, f.coord.RequestSample(context.Background()))
	assert.Equal(t, []time.Duration{280 * time.Second}, f.scheduler.intervals)
	assert.Empty(t, f.moder.calls)
	assert.Equal(t, 30*time.Second, f.clock.Since(epoch))

	// The ensemble is left for the framer; stale bytes are gone.
	b, ok, err := f.stream.TryReadByte()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, byte(0x7F), b)
}

func TestRequestSample_Missed(t *testing.T) {
	f := newCoordinatorFixture(defaultState())

	err := f.coord.RequestSample(context.Background())
	require.ErrorIs(t, err, ErrTimedOut)
	assert.False(t, IsSessionFatal(err))

	assert.Equal(t, []string{"enter", "exit"}, f.moder.calls)
	assert.Equal(t, []time.Duration{40 * time.Second}, f.scheduler.intervals)
	assert.Equal(t, 40*time.Second, f.coord.State().InitialInterval)
	assert.Equal(t, 100*time.Second, f.clock.Since(epoch))
}

func TestRequestSample_MissedHandshakeFails(t *testing.T) {
	f := newCoordinatorFixture(defaultState())
	f.moder.enterErr = ErrHandshakeFailed

	err := f.coord.RequestSample(context.Background())
	require.ErrorIs(t, err, ErrHandshakeFailed)
	assert.False(t, IsSessionFatal(err))
	assert.Equal(t, []string{"enter"}, f.moder.calls)
	// The next wake-up retries the recovery.
	assert.Equal(t, []time.Duration{40 * time.Second}, f.scheduler.intervals)
	assert.Zero(t, f.coord.State().InitialInterval)
}

func TestRequestSample_MissedTransportFailureNotRescheduled(t *testing.T) {
	f := newCoordinatorFixture(defaultState())
	f.moder.enterErr = transportError("write", errors.New("port gone"))

	err := f.coord.RequestSample(context.Background())
	require.ErrorIs(t, err, ErrTransportFailure)
	assert.Empty(t, f.scheduler.intervals)
}

func TestRequestSample_OnTimeConfigurationError(t *testing.T) {
	state := defaultState()
	state.Preemption = 400 * time.Second
	f := newCoordinatorFixture(state)
	f.clock.OnAdvance(func(now time.Time) { f.port.AddReadData([]byte{0x7F}) })

	err := f.coord.RequestSample(context.Background())
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Empty(t, f.scheduler.intervals)
}

func TestRequestSample_SchedulerError(t *testing.T) {
	f := newCoordinatorFixture(defaultState())
	f.scheduler.err = errors.New("timer gone")
	f.clock.OnAdvance(func(now time.Time) { f.port.AddReadData([]byte{0x7F}) })

	err := f.coord.RequestSample(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timer gone")
}

func TestRequestSample_Cancelled(t *testing.T) {
	f := newCoordinatorFixture(defaultState())
	ctx, cancel := context.WithCancel(context.Background())
	f.clock.OnAdvance(func(now time.Time) {
		if now.Sub(epoch) >= 10*time.Second {
			cancel()
		}
	})

	err := f.coord.RequestSample(ctx)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, f.moder.calls)
	assert.Empty(t, f.scheduler.intervals)
}

func TestRequestSample_TransportFailure(t *testing.T) {
	f := newCoordinatorFixture(defaultState())
	require.NoError(t, f.port.Close())

	err := f.coord.RequestSample(context.Background())
	assert.ErrorIs(t, err, ErrTransportFailure)
}

func TestRestarted(t *testing.T) {
	f := newCoordinatorFixture(defaultState())

	initial, err := f.coord.Restarted()
	require.NoError(t, err)
	assert.Equal(t, 40*time.Second, initial)
	assert.Equal(t, []time.Duration{40 * time.Second}, f.scheduler.intervals)
}

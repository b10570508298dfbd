// Package scheduler wakes the sampling loop once per ensemble. The session
// re-arms it after every ensemble and every restart of the ping cycle.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/adcp/internal/timeutil"
)

// ErrNegativeInterval is returned by Resync for intervals below zero.
var ErrNegativeInterval = errors.New("scheduler: negative interval")

// Scheduler is a one-shot wake-up timer.
type Scheduler struct {
	mu      sync.Mutex
	clock   timeutil.Clock
	timer   timeutil.Timer
	next    time.Time
	armed   bool
	resyncs uint64
}

// New returns a disarmed scheduler on clock.
func New(clock timeutil.Clock) *Scheduler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	t := clock.NewTimer(time.Hour)
	t.Stop()
	return &Scheduler{clock: clock, timer: t}
}

// C delivers one value per wake-up.
func (s *Scheduler) C() <-chan time.Time {
	return s.timer.C()
}

// Resync arms the next wake-up interval from now, replacing any pending
// wake-up. Zero wakes on the next tick of the clock.
func (s *Scheduler) Resync(interval time.Duration) error {
	if interval < 0 {
		opsf("rejected resync to %s", interval)
		return fmt.Errorf("%w: %s", ErrNegativeInterval, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.timer.Reset(interval)
	s.next = s.clock.Now().Add(interval)
	s.armed = true
	s.resyncs++
	diagf("next wake-up in %s at %s", interval, s.next.Format(time.RFC3339))
	return nil
}

// Stop disarms the scheduler and discards an undelivered wake-up.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.armed = false
}

func (s *Scheduler) stopLocked() {
	if !s.timer.Stop() {
		select {
		case <-s.timer.C():
		default:
		}
	}
}

// Next returns the time of the pending wake-up and whether one is armed.
func (s *Scheduler) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next, s.armed
}

// Resyncs returns how many times the scheduler has been re-armed.
func (s *Scheduler) Resyncs() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resyncs
}

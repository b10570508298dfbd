// Package simulator emulates a current profiler on the far side of a serial
// line. It wakes on a break, answers commands at a '>' prompt, and once told
// to start pinging emits one PD0 ensemble per ensemble interval on its clock.
// The binary uses it in dev mode and the session tests script faults with it.
package simulator

import (
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/adcp/internal/timeutil"
)

// ErrClosed is returned by every port operation after Close.
var ErrClosed = errors.New("simulator: port closed")

// State is the simulated instrument's operating state.
type State int

const (
	// StateIdle ignores input until a break arrives.
	StateIdle State = iota
	StateCommand
	StatePinging
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCommand:
		return "command"
	case StatePinging:
		return "pinging"
	default:
		return "unknown"
	}
}

// MinBreak is the shortest break the instrument recognises.
const MinBreak = 300 * time.Millisecond

// maxBacklog caps unread output; older bytes are lost like a UART overrun.
const maxBacklog = 256 * 1024

const banner = "\r\n[BREAK Wakeup A]\r\n" +
	"Simulated Broadband ADCP Version 51.40\r\n" +
	"All Rights Reserved.\r\n"

// Settings are the instrument parameters the command set changes.
type Settings struct {
	PingsPerEnsemble int
	PingInterval     time.Duration
	EnsembleInterval time.Duration
	NumberOfCells    int
	DepthCellSize    int // cm
	FlowControl      string
}

// FactorySettings are restored by CR1.
func FactorySettings() Settings {
	return Settings{
		PingsPerEnsemble: 1,
		PingInterval:     time.Second,
		EnsembleInterval: time.Second,
		NumberOfCells:    30,
		DepthCellSize:    100,
		FlowControl:      "11110",
	}
}

// Instrument implements serialmux.SerialPorter. It is safe for concurrent
// use.
type Instrument struct {
	mu    sync.Mutex
	clock timeutil.Clock
	rng   *rand.Rand

	state    State
	settings Settings
	saved    Settings
	serial   uint32

	line []byte
	out  []byte

	pingStart time.Time
	emitted   int // ensembles emitted since pingStart
	ensemble  uint32

	dropNext     int
	corruptNext  int
	truncateNext int
	mute         bool

	commands    []string
	breaks      []time.Duration
	readTimeout time.Duration
	closed      bool
}

// New returns an idle instrument with factory settings. seed makes the
// generated profiles reproducible.
func New(clock timeutil.Clock, seed uint64) *Instrument {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Instrument{
		clock:    clock,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
		settings: FactorySettings(),
		saved:    FactorySettings(),
		serial:   8812,
	}
}

// Read returns pending output. With nothing pending it returns 0, nil like
// a serial port whose read timeout expired.
func (in *Instrument) Read(p []byte) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return 0, ErrClosed
	}
	in.emitDueLocked(in.clock.Now())
	n := copy(p, in.out)
	in.out = in.out[n:]
	return n, nil
}

// Write feeds bytes to the instrument. Outside command mode they are
// ignored.
func (in *Instrument) Write(p []byte) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return 0, ErrClosed
	}
	if in.state != StateCommand || in.mute {
		return len(p), nil
	}
	for _, b := range p {
		switch b {
		case '\r':
			cmd := string(in.line)
			in.line = in.line[:0]
			in.handleLocked(cmd)
			if in.state != StateCommand {
				// Anything after CS is lost while the instrument starts pinging.
				return len(p), nil
			}
		case '\n':
		default:
			in.line = append(in.line, b)
		}
	}
	return len(p), nil
}

// Break wakes the instrument into command mode. Breaks shorter than MinBreak
// are not recognised.
func (in *Instrument) Break(d time.Duration) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return ErrClosed
	}
	in.breaks = append(in.breaks, d)
	if d < MinBreak || in.mute {
		return nil
	}
	in.state = StateCommand
	in.line = in.line[:0]
	in.out = append(in.out[:0], banner+">"...)
	return nil
}

// ResetInputBuffer discards output the host has not read, including any
// ensemble already due.
func (in *Instrument) ResetInputBuffer() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return ErrClosed
	}
	in.emitDueLocked(in.clock.Now())
	in.out = in.out[:0]
	return nil
}

func (in *Instrument) SetReadTimeout(d time.Duration) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.readTimeout = d
	return nil
}

func (in *Instrument) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	return nil
}

// State returns the current operating state.
func (in *Instrument) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Settings returns the active parameters.
func (in *Instrument) Settings() Settings {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.settings
}

// SavedSettings returns the parameters stored by the last CK.
func (in *Instrument) SavedSettings() Settings {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.saved
}

// Commands returns every command line received in command mode.
func (in *Instrument) Commands() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]string(nil), in.commands...)
}

// Breaks returns the duration of every break received.
func (in *Instrument) Breaks() []time.Duration {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]time.Duration(nil), in.breaks...)
}

// EnsemblesSent returns the number of the last ensemble emitted.
func (in *Instrument) EnsemblesSent() uint32 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.ensemble
}

// DropNext suppresses the next n ensembles.
func (in *Instrument) DropNext(n int) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.dropNext += n
}

// CorruptNext flips a data byte in the next n ensembles so their checksum
// fails.
func (in *Instrument) CorruptNext(n int) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.corruptNext += n
}

// TruncateNext cuts the next n ensembles off halfway.
func (in *Instrument) TruncateNext(n int) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.truncateNext += n
}

// SetMute makes the instrument ignore breaks and input entirely.
func (in *Instrument) SetMute(mute bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.mute = mute
}

// pingCycle is the time one ensemble's pings take.
func (s Settings) pingCycle() time.Duration {
	return time.Duration(s.PingsPerEnsemble) * s.PingInterval
}

// startPingingLocked restarts the ensemble cycle at now. The first ensemble
// follows one ping cycle later, then one per ensemble interval.
func (in *Instrument) startPingingLocked(now time.Time) {
	in.state = StatePinging
	in.pingStart = now
	in.emitted = 0
}

func (in *Instrument) emitDueLocked(now time.Time) {
	if in.state != StatePinging {
		return
	}
	// An ensemble never takes less than its pings.
	period := max(in.settings.EnsembleInterval, in.settings.pingCycle())
	for {
		due := in.pingStart.Add(in.settings.pingCycle() + time.Duration(in.emitted)*period)
		if now.Before(due) {
			return
		}
		in.emitted++
		in.ensemble++
		if in.dropNext > 0 {
			in.dropNext--
			continue
		}
		frame, err := in.buildEnsemble(due)
		if err != nil {
			continue
		}
		switch {
		case in.truncateNext > 0:
			in.truncateNext--
			frame = frame[:len(frame)/2]
		case in.corruptNext > 0:
			in.corruptNext--
			frame[len(frame)/2] ^= 0x5A
		}
		in.out = append(in.out, frame...)
		if over := len(in.out) - maxBacklog; over > 0 {
			in.out = in.out[over:]
		}
	}
}

func (in *Instrument) respondLocked(lines ...string) {
	for _, l := range lines {
		in.out = append(in.out, l...)
		in.out = append(in.out, "\r\n"...)
	}
}

func (in *Instrument) handleLocked(raw string) {
	cmd := strings.ToUpper(strings.TrimSpace(raw))
	// Echo.
	in.out = append(in.out, raw...)
	in.out = append(in.out, "\r\n"...)
	if cmd != "" {
		in.commands = append(in.commands, cmd)
	}

	if cmd == "CS" {
		in.startPingingLocked(in.clock.Now())
		return
	}
	if reply, err := in.execLocked(cmd); err != nil {
		in.respondLocked(err.Error())
	} else if reply != "" {
		in.respondLocked(strings.Split(reply, "\n")...)
	}
	in.out = append(in.out, '>')
}

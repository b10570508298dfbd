package simulator

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/adcp/internal/pd0"
	"github.com/banshee-data/adcp/internal/timeutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func readAll(t *testing.T, in *Instrument) string {
	t.Helper()
	var sb strings.Builder
	buf := make([]byte, 256)
	for {
		n, err := in.Read(buf)
		require.NoError(t, err)
		if n == 0 {
			return sb.String()
		}
		sb.Write(buf[:n])
	}
}

func awake(t *testing.T) (*Instrument, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(epoch)
	in := New(clock, 1)
	require.NoError(t, in.Break(400*time.Millisecond))
	out := readAll(t, in)
	require.True(t, strings.HasSuffix(out, ">"), "banner %q does not end in a prompt", out)
	return in, clock
}

func send(t *testing.T, in *Instrument, cmd string) string {
	t.Helper()
	_, err := in.Write([]byte(cmd + "\r"))
	require.NoError(t, err)
	return readAll(t, in)
}

func TestInstrument_IdleIgnoresInput(t *testing.T) {
	in := New(timeutil.NewMockClock(epoch), 1)

	_, err := in.Write([]byte("\r"))
	require.NoError(t, err)
	assert.Empty(t, readAll(t, in))
	assert.Equal(t, StateIdle, in.State())
}

func TestInstrument_ShortBreakIgnored(t *testing.T) {
	in := New(timeutil.NewMockClock(epoch), 1)

	require.NoError(t, in.Break(100*time.Millisecond))
	assert.Empty(t, readAll(t, in))
	assert.Equal(t, StateIdle, in.State())
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, in.Breaks())
}

func TestInstrument_PromptOnCarriageReturn(t *testing.T) {
	in, _ := awake(t)
	assert.Equal(t, "\r\n>", send(t, in, ""))
}

func TestInstrument_SetAndQuery(t *testing.T) {
	in, _ := awake(t)

	assert.Equal(t, "WP0060\r\n>", send(t, in, "WP0060"))
	assert.Equal(t, "TP00:01.50\r\n>", send(t, in, "TP00:01.50"))
	assert.Equal(t, "TE00:05:00.00\r\n>", send(t, in, "TE00:05:00.00"))
	send(t, in, "WN040")
	send(t, in, "WS0200")
	send(t, in, "CF11110")

	got := in.Settings()
	assert.Equal(t, Settings{
		PingsPerEnsemble: 60,
		PingInterval:     1500 * time.Millisecond,
		EnsembleInterval: 5 * time.Minute,
		NumberOfCells:    40,
		DepthCellSize:    200,
		FlowControl:      "11110",
	}, got)

	assert.Equal(t, "WP?\r\nWP 00060 -------------- Pings per Ensemble (0-16384)\r\n>", send(t, in, "WP?"))
	assert.Contains(t, send(t, in, "TE?"), "TE 00:05:00.00")
	assert.Equal(t, []string{"WP0060", "TP00:01.50", "TE00:05:00.00", "WN040", "WS0200", "CF11110", "WP?", "TE?"}, in.Commands())
}

func TestInstrument_ErrorReplies(t *testing.T) {
	in, _ := awake(t)

	tests := []struct {
		cmd  string
		want string
	}{
		{"XX1", "ERR 010"},
		{"Q", "ERR 010"},
		{"WP99999", "ERR 011"},
		{"WN000", "ERR 011"},
		{"TP1:00", "ERR 011"},
		{"TE00:61:00.00", "ERR 011"},
		{"CF12345", "ERR 011"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			out := send(t, in, tt.cmd)
			assert.Contains(t, out, tt.want)
			assert.True(t, strings.HasSuffix(out, ">"))
		})
	}
	assert.Equal(t, FactorySettings(), in.Settings())
}

func TestInstrument_SaveAndFactoryReset(t *testing.T) {
	in, _ := awake(t)

	send(t, in, "WP0010")
	assert.Contains(t, send(t, in, "CK"), "saved")
	assert.Equal(t, 10, in.SavedSettings().PingsPerEnsemble)

	send(t, in, "CR1")
	assert.Equal(t, FactorySettings(), in.Settings())
	assert.Equal(t, 10, in.SavedSettings().PingsPerEnsemble)
}

func TestInstrument_SystemConfig(t *testing.T) {
	in, _ := awake(t)
	out := send(t, in, "PS0")
	assert.Contains(t, out, "Instrument S/N:  8812\r\n")
	assert.Contains(t, out, "Beam Angle:  20 DEGREES")
}

func TestInstrument_PingCycle(t *testing.T) {
	in, clock := awake(t)
	send(t, in, "WP0010")
	send(t, in, "TP00:01.00")
	send(t, in, "TE00:01:00.00")
	send(t, in, "WN005")
	assert.Equal(t, "CS\r\n", send(t, in, "CS"))
	assert.Equal(t, StatePinging, in.State())

	// First ensemble after the 10 s ping cycle.
	clock.Advance(9 * time.Second)
	assert.Empty(t, readAll(t, in))
	clock.Advance(time.Second)
	frame := []byte(readAll(t, in))
	require.NoError(t, pd0.ValidateChecksum(frame))
	ens, err := pd0.Decode(frame)
	require.NoError(t, err)
	assert.EqualValues(t, 1, ens.Variable.EnsembleNumber)
	assert.EqualValues(t, 4, ens.Fixed.NumberOfBeams)
	assert.EqualValues(t, 5, ens.Fixed.NumberOfCells)
	assert.EqualValues(t, 10, ens.Fixed.PingsPerEnsemble)
	assert.True(t, ens.Has(pd0.PercentGoodID))

	// Then one per ensemble interval.
	clock.Advance(59 * time.Second)
	assert.Empty(t, readAll(t, in))
	clock.Advance(time.Second)
	ens, err = pd0.Decode([]byte(readAll(t, in)))
	require.NoError(t, err)
	assert.EqualValues(t, 2, ens.Variable.EnsembleNumber)
}

func TestInstrument_WritesIgnoredWhilePinging(t *testing.T) {
	in, _ := awake(t)
	send(t, in, "CS")

	assert.Empty(t, send(t, in, "WP0001"))
	assert.Equal(t, 1, in.Settings().PingsPerEnsemble)
}

func TestInstrument_BreakStopsPinging(t *testing.T) {
	in, clock := awake(t)
	send(t, in, "CS")
	require.NoError(t, in.Break(400*time.Millisecond))
	assert.Equal(t, StateCommand, in.State())

	clock.Advance(time.Hour)
	out := readAll(t, in)
	assert.True(t, strings.HasPrefix(out, "\r\n[BREAK Wakeup A]"), "got %q", out)
}

func TestInstrument_Faults(t *testing.T) {
	in, clock := awake(t)
	send(t, in, "CS") // factory settings: 1 s ping cycle, 1 s ensembles

	in.DropNext(1)
	clock.Advance(time.Second)
	assert.Empty(t, readAll(t, in))
	assert.EqualValues(t, 1, in.EnsemblesSent())

	in.CorruptNext(1)
	clock.Advance(time.Second)
	assert.ErrorIs(t, pd0.ValidateChecksum([]byte(readAll(t, in))), pd0.ErrChecksum)

	in.TruncateNext(1)
	clock.Advance(time.Second)
	cut := []byte(readAll(t, in))
	require.GreaterOrEqual(t, len(cut), pd0.PrefixSize)
	assert.Less(t, len(cut), pd0.DeclaredLength(cut))

	clock.Advance(time.Second)
	_, err := pd0.Decode([]byte(readAll(t, in)))
	assert.NoError(t, err)
}

func TestInstrument_ResetInputBuffer(t *testing.T) {
	in, _ := awake(t)
	_, err := in.Write([]byte("PS0\r"))
	require.NoError(t, err)
	require.NoError(t, in.ResetInputBuffer())
	assert.Empty(t, readAll(t, in))
}

func TestInstrument_Mute(t *testing.T) {
	in := New(timeutil.NewMockClock(epoch), 1)
	in.SetMute(true)
	require.NoError(t, in.Break(400*time.Millisecond))
	assert.Empty(t, readAll(t, in))
	assert.Equal(t, StateIdle, in.State())
}

func TestInstrument_Closed(t *testing.T) {
	in := New(timeutil.NewMockClock(epoch), 1)
	require.NoError(t, in.Close())

	_, err := in.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = in.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, in.Break(time.Second), ErrClosed)
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in     string
		fields int
		want   time.Duration
		ok     bool
	}{
		{"00:01.00", 2, time.Second, true},
		{"02:30.25", 2, 2*time.Minute + 30*time.Second + 250*time.Millisecond, true},
		{"01:05:00.00", 3, time.Hour + 5*time.Minute, true},
		{"00:00:00.01", 3, 10 * time.Millisecond, true},
		{"1:00", 2, 0, false},
		{"00:60.00", 2, 0, false},
		{"00:01.0", 2, 0, false},
		{"aa:01.00", 2, 0, false},
	}
	for _, tt := range tests {
		got, err := parseClock(tt.in, tt.fields)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.in, formatClock(got, tt.fields))
	}
}

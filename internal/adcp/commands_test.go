package adcp

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/adcp/internal/config"
)

func TestSetupCommands(t *testing.T) {
	cfg := config.DefaultSessionConfig()
	got := SetupCommands(cfg)
	want := []string{"CF11110", "WN030", "WS0100", "WP0060", "TP00:01.00", "TE00:05:00.00"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SetupCommands() mismatch (-want +got):\n%s", diff)
	}
}

func TestSetupCommands_ExtrasAndSave(t *testing.T) {
	cfg := config.DefaultSessionConfig()
	interval, ping, save := "1h30m15.5s", "2.25s", true
	cfg.EnsembleInterval = &interval
	cfg.PingInterval = &ping
	cfg.SaveSetup = &save
	cfg.ExtraCommands = []string{" EA0000 ", "EZ1111101"}

	got := SetupCommands(cfg)
	want := []string{"CF11110", "WN030", "WS0100", "WP0060", "TP00:02.25", "TE01:30:15.50", "EA0000", "EZ1111101", "CK"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SetupCommands() mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatTimes(t *testing.T) {
	tests := []struct {
		d        time.Duration
		ping, te string
	}{
		{time.Second, "00:01.00", "00:00:01.00"},
		{90*time.Second + 70*time.Millisecond, "01:30.07", "00:01:30.07"},
		{23*time.Hour + 59*time.Minute, "1439:00.00", "23:59:00.00"},
	}
	for _, tt := range tests {
		if got := formatPingTime(tt.d); got != tt.ping {
			t.Errorf("formatPingTime(%s) = %q, want %q", tt.d, got, tt.ping)
		}
		if got := formatEnsembleTime(tt.d); got != tt.te {
			t.Errorf("formatEnsembleTime(%s) = %q, want %q", tt.d, got, tt.te)
		}
	}
}

func TestIsAllowedCommand(t *testing.T) {
	tests := []struct {
		cmd  string
		want bool
	}{
		{"PS0", true},
		{" ps0 ", true},
		{"TS?", true},
		{"WP?", true},
		{"?", true},
		{"CS", false},
		{"CR1", false},
		{"CZ", false},
		{"CB411", false},
		{"WP0001", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsAllowedCommand(tt.cmd); got != tt.want {
			t.Errorf("IsAllowedCommand(%q) = %v, want %v", tt.cmd, got, tt.want)
		}
	}
}

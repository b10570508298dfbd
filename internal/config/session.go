// Package config holds the instrument session parameters. Values are set from
// command-line flags; unset fields fall back to the defaults returned by the
// Get* methods. The JSON tags match the /debug/instrument-status output.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Defaults applied by the Get* methods when a field is unset.
const (
	DefaultEnsembleInterval = 5 * time.Minute
	DefaultPreemption       = 20 * time.Second
	DefaultPingInterval     = time.Second
	DefaultPingsPerEnsemble = 60
	DefaultNumberOfCells    = 30
	DefaultDepthCellSize    = 100 // cm
	DefaultBreakDuration    = 400 * time.Millisecond
)

// SessionConfig represents the configuration of one instrument session.
type SessionConfig struct {
	// Sampling schedule
	EnsembleInterval *string `json:"ensemble_interval,omitempty"` // duration string like "5m"
	Preemption       *string `json:"preemption,omitempty"`        // duration string like "20s"
	PingInterval     *string `json:"ping_interval,omitempty"`     // duration string like "1s"
	PingsPerEnsemble *int    `json:"pings_per_ensemble,omitempty"`

	// Water profile
	NumberOfCells *int `json:"number_of_cells,omitempty"`
	DepthCellSize *int `json:"depth_cell_size_cm,omitempty"`

	// Command mode
	BreakDuration *string  `json:"break_duration,omitempty"`
	SaveSetup     *bool    `json:"save_setup,omitempty"`
	ExtraCommands []string `json:"extra_commands,omitempty"`
}

// Helper functions to create pointers
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }

// DefaultSessionConfig returns a SessionConfig with every field set to its
// default.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		EnsembleInterval: ptrString(DefaultEnsembleInterval.String()),
		Preemption:       ptrString(DefaultPreemption.String()),
		PingInterval:     ptrString(DefaultPingInterval.String()),
		PingsPerEnsemble: ptrInt(DefaultPingsPerEnsemble),
		NumberOfCells:    ptrInt(DefaultNumberOfCells),
		DepthCellSize:    ptrInt(DefaultDepthCellSize),
		BreakDuration:    ptrString(DefaultBreakDuration.String()),
		SaveSetup:        ptrBool(false),
	}
}

func parseDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	if _, err := time.ParseDuration(*v); err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *SessionConfig) Validate() error {
	for _, d := range []struct {
		name string
		v    *string
	}{
		{"ensemble_interval", c.EnsembleInterval},
		{"preemption", c.Preemption},
		{"ping_interval", c.PingInterval},
		{"break_duration", c.BreakDuration},
	} {
		if err := parseDuration(d.name, d.v); err != nil {
			return err
		}
	}

	if c.GetEnsembleInterval() <= 0 {
		return fmt.Errorf("ensemble_interval must be positive, got %s", c.GetEnsembleInterval())
	}
	if c.GetPreemption() < 0 {
		return fmt.Errorf("preemption must be non-negative, got %s", c.GetPreemption())
	}
	if c.GetPingInterval() <= 0 {
		return fmt.Errorf("ping_interval must be positive, got %s", c.GetPingInterval())
	}
	// The instrument's TP and TE commands carry hundredths of a second.
	if c.GetPingInterval()%(10*time.Millisecond) != 0 || c.GetEnsembleInterval()%(10*time.Millisecond) != 0 {
		return fmt.Errorf("ping_interval and ensemble_interval must be multiples of 10ms")
	}
	if c.GetPingInterval() >= time.Hour {
		return fmt.Errorf("ping_interval must be under an hour, got %s", c.GetPingInterval())
	}
	if c.GetEnsembleInterval() >= 24*time.Hour {
		return fmt.Errorf("ensemble_interval must be under 24h, got %s", c.GetEnsembleInterval())
	}

	if n := c.GetPingsPerEnsemble(); n < 1 || n > 16384 {
		return fmt.Errorf("pings_per_ensemble must be between 1 and 16384, got %d", n)
	}
	if n := c.GetNumberOfCells(); n < 1 || n > 128 {
		return fmt.Errorf("number_of_cells must be between 1 and 128, got %d", n)
	}
	if n := c.GetDepthCellSize(); n < 1 || n > 6400 {
		return fmt.Errorf("depth_cell_size_cm must be between 1 and 6400, got %d", n)
	}

	if ping := c.PingCycle(); ping > c.GetEnsembleInterval() {
		return fmt.Errorf("ping cycle %s (%d pings x %s) exceeds ensemble_interval %s",
			ping, c.GetPingsPerEnsemble(), c.GetPingInterval(), c.GetEnsembleInterval())
	}
	if c.GetPreemption() >= c.GetEnsembleInterval() {
		return fmt.Errorf("preemption %s must be shorter than ensemble_interval %s",
			c.GetPreemption(), c.GetEnsembleInterval())
	}

	for _, cmd := range c.ExtraCommands {
		if strings.TrimSpace(cmd) == "" {
			return fmt.Errorf("extra_commands must not contain empty commands")
		}
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetEnsembleInterval returns the time between ensembles.
func (c *SessionConfig) GetEnsembleInterval() time.Duration {
	return durationOr(c.EnsembleInterval, DefaultEnsembleInterval)
}

// GetPreemption returns how early the driver wakes before an ensemble is due.
func (c *SessionConfig) GetPreemption() time.Duration {
	return durationOr(c.Preemption, DefaultPreemption)
}

// GetPingInterval returns the time between pings.
func (c *SessionConfig) GetPingInterval() time.Duration {
	return durationOr(c.PingInterval, DefaultPingInterval)
}

func (c *SessionConfig) GetPingsPerEnsemble() int {
	if c.PingsPerEnsemble == nil {
		return DefaultPingsPerEnsemble
	}
	return *c.PingsPerEnsemble
}

func (c *SessionConfig) GetNumberOfCells() int {
	if c.NumberOfCells == nil {
		return DefaultNumberOfCells
	}
	return *c.NumberOfCells
}

func (c *SessionConfig) GetDepthCellSize() int {
	if c.DepthCellSize == nil {
		return DefaultDepthCellSize
	}
	return *c.DepthCellSize
}

func (c *SessionConfig) GetBreakDuration() time.Duration {
	return durationOr(c.BreakDuration, DefaultBreakDuration)
}

func (c *SessionConfig) GetSaveSetup() bool {
	if c.SaveSetup == nil {
		return false
	}
	return *c.SaveSetup
}

// PingCycle is the time the instrument spends pinging for one ensemble.
func (c *SessionConfig) PingCycle() time.Duration {
	return time.Duration(c.GetPingsPerEnsemble()) * c.GetPingInterval()
}

// CeilSeconds rounds d up to a whole number of seconds.
func CeilSeconds(d time.Duration) time.Duration {
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}

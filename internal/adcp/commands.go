package adcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/adcp/internal/config"
)

// Setup commands. CR1 (factory reset) is never sent so that settings made
// on the bench survive.
const (
	// Binary output, internal recorder off, beam coordinates.
	flowControlCommand = "CF11110"
	saveSetupCommand   = "CK"
)

// SetupCommands returns the command sequence that configures the instrument
// for cfg, in the order it is sent.
func SetupCommands(cfg *config.SessionConfig) []string {
	cmds := []string{
		flowControlCommand,
		fmt.Sprintf("WN%03d", cfg.GetNumberOfCells()),
		fmt.Sprintf("WS%04d", cfg.GetDepthCellSize()),
		fmt.Sprintf("WP%04d", cfg.GetPingsPerEnsemble()),
		"TP" + formatPingTime(cfg.GetPingInterval()),
		"TE" + formatEnsembleTime(cfg.GetEnsembleInterval()),
	}
	for _, extra := range cfg.ExtraCommands {
		cmds = append(cmds, strings.TrimSpace(extra))
	}
	if cfg.GetSaveSetup() {
		cmds = append(cmds, saveSetupCommand)
	}
	return cmds
}

// formatPingTime renders d as mm:ss.hh for the TP command.
func formatPingTime(d time.Duration) string {
	h := int64(d / (10 * time.Millisecond))
	return fmt.Sprintf("%02d:%02d.%02d", h/6000, h/100%60, h%100)
}

// formatEnsembleTime renders d as hh:mm:ss.hh for the TE command.
func formatEnsembleTime(d time.Duration) string {
	h := int64(d / (10 * time.Millisecond))
	return fmt.Sprintf("%02d:%02d:%02d.%02d", h/360000, h/6000%60, h/100%60, h%100)
}

// allowedCommands lists the commands the debug page may send. Everything
// else could change the deployed setup or stop pinging for good.
var allowedCommands = []string{
	"PS0", // System configuration
	"PS3", // Instrument transformation matrix
	"PT200",
	"TS?", // Real-time clock
	"CF?",
	"CK",
	"WP?",
	"WN?",
	"WS?",
	"WV?",
	"TP?",
	"TE?",
	"EA?",
	"ED?",
	"ES?",
	"EX?",
	"EZ?",
	"?",
}

// IsAllowedCommand reports whether cmd may be sent from the debug page.
func IsAllowedCommand(cmd string) bool {
	cmd = strings.ToUpper(strings.TrimSpace(cmd))
	for _, allowed := range allowedCommands {
		if cmd == allowed {
			return true
		}
	}
	return false
}

package simulator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Instrument error replies.
var (
	errUnrecognized = errors.New("ERR 010:  UNRECOGNIZED COMMAND")
	errOutOfBounds  = errors.New("ERR 011:  PARAMETER OUT OF BOUNDS")
)

const helpText = `Available Commands:
C ----------------- Control Commands
E ----------------- Environment Commands
P ----------------- Performance Test Commands
T ----------------- Timing Commands
W ----------------- Water Profiling Commands
? ----------------- Display Main Menu`

func (in *Instrument) execLocked(cmd string) (string, error) {
	switch cmd {
	case "":
		return "", nil
	case "?":
		return helpText, nil
	case "CK":
		in.saved = in.settings
		return "[Parameters saved as USER defaults]", nil
	case "CR1":
		in.settings = FactorySettings()
		return "[Parameters set to FACTORY defaults]", nil
	case "PS0":
		return in.systemConfig(), nil
	case "TS?":
		return "TS " + in.clock.Now().UTC().Format("06/01/02,15:04:05") + ".00 --- Time Set (yy/mm/dd,hh:mm:ss)", nil
	}
	if len(cmd) < 3 {
		return "", errUnrecognized
	}

	code, arg := cmd[:2], cmd[2:]
	s := &in.settings
	switch code {
	case "WP":
		if arg == "?" {
			return fmt.Sprintf("WP %05d -------------- Pings per Ensemble (0-16384)", s.PingsPerEnsemble), nil
		}
		return "", setInt(arg, 1, 16384, &s.PingsPerEnsemble)
	case "WN":
		if arg == "?" {
			return fmt.Sprintf("WN %03d ---------------- Number of depth cells (1-128)", s.NumberOfCells), nil
		}
		return "", setInt(arg, 1, 128, &s.NumberOfCells)
	case "WS":
		if arg == "?" {
			return fmt.Sprintf("WS %04d --------------- Depth Cell Size (cm)", s.DepthCellSize), nil
		}
		return "", setInt(arg, 1, 6400, &s.DepthCellSize)
	case "CF":
		if arg == "?" {
			return "CF " + s.FlowControl + " ------------- Flow Ctrl (EnsCyc;PngCyc;Binry;Ser;Rec)", nil
		}
		if len(arg) != 5 || strings.Trim(arg, "01") != "" {
			return "", errOutOfBounds
		}
		s.FlowControl = arg
		return "", nil
	case "TP":
		if arg == "?" {
			return "TP " + formatClock(s.PingInterval, 2) + " -------- Time per Ping (min:sec.sec/100)", nil
		}
		d, err := parseClock(arg, 2)
		if err != nil || d <= 0 {
			return "", errOutOfBounds
		}
		s.PingInterval = d
		return "", nil
	case "TE":
		if arg == "?" {
			return "TE " + formatClock(s.EnsembleInterval, 3) + " ----- Time per Ensemble (hrs:min:sec.sec/100)", nil
		}
		d, err := parseClock(arg, 3)
		if err != nil {
			return "", errOutOfBounds
		}
		s.EnsembleInterval = d
		return "", nil
	}
	return "", errUnrecognized
}

func setInt(arg string, lo, hi int, dst *int) error {
	v, err := strconv.Atoi(arg)
	if err != nil || v < lo || v > hi {
		return errOutOfBounds
	}
	*dst = v
	return nil
}

// parseClock parses [hh:]mm:ss.hh with the given number of colon-separated
// fields.
func parseClock(s string, fields int) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) != fields {
		return 0, errOutOfBounds
	}
	secs, hund, ok := strings.Cut(parts[fields-1], ".")
	if !ok || len(hund) != 2 {
		return 0, errOutOfBounds
	}

	var d time.Duration
	scale := []time.Duration{time.Hour, time.Minute}[3-fields:]
	for i, p := range parts[:fields-1] {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || (scale[i] == time.Minute && v > 59) {
			return 0, errOutOfBounds
		}
		d += time.Duration(v) * scale[i]
	}
	sv, err := strconv.Atoi(secs)
	if err != nil || sv < 0 || sv > 59 {
		return 0, errOutOfBounds
	}
	hv, err := strconv.Atoi(hund)
	if err != nil || hv < 0 {
		return 0, errOutOfBounds
	}
	return d + time.Duration(sv)*time.Second + time.Duration(hv)*10*time.Millisecond, nil
}

func formatClock(d time.Duration, fields int) string {
	h := int64(d / (10 * time.Millisecond))
	if fields == 2 {
		return fmt.Sprintf("%02d:%02d.%02d", h/6000, h/100%60, h%100)
	}
	return fmt.Sprintf("%02d:%02d:%02d.%02d", h/360000, h/6000%60, h/100%60, h%100)
}

func (in *Instrument) systemConfig() string {
	return strings.Join([]string{
		"Instrument S/N:  " + strconv.FormatUint(uint64(in.serial), 10),
		"       Frequency:  307200 HZ",
		"   Configuration:  4 BEAM, JANUS",
		"     Match Layer:  10",
		"      Beam Angle:  20 DEGREES",
		"    Beam Pattern:  CONVEX",
		"     Orientation:  DOWN",
		"       Sensor(s):  HEADING  TILT 1  TILT 2  TEMPERATURE",
		"",
		"CPU Firmware Version:  51.40",
	}, "\n")
}

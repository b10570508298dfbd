package adcp

import (
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/adcp/internal/pd0"
	"github.com/banshee-data/adcp/internal/units"
)

// BeamSummary holds the profile statistics of one beam.
type BeamSummary struct {
	Beam      int     `json:"beam"`
	GoodCells int     `json:"good_cells"`
	MeanMMPS  float64 `json:"mean_mmps"`
	StdMMPS   float64 `json:"std_mmps"`
}

// Summary is a compact view of one ensemble, published to tail subscribers
// and reported in the session status.
type Summary struct {
	EnsembleNumber uint32        `json:"ensemble_number"`
	Time           time.Time     `json:"time"`
	ReceivedAt     time.Time     `json:"received_at"`
	Heading        float64       `json:"heading"`
	Pitch          float64       `json:"pitch"`
	Roll           float64       `json:"roll"`
	Temperature    float64       `json:"temperature"`
	Depth          float64       `json:"depth"`
	Beams          []BeamSummary `json:"beams"`
}

// Summarize computes per-beam velocity statistics over the cells the
// instrument did not flag as bad.
func Summarize(ens *pd0.Ensemble) Summary {
	s := Summary{
		EnsembleNumber: ens.Variable.EnsembleNumber,
		Time:           ens.Variable.Time,
		Heading:        ens.Variable.Heading,
		Pitch:          ens.Variable.Pitch,
		Roll:           ens.Variable.Roll,
		Temperature:    ens.Variable.Temperature,
		Depth:          ens.Variable.DepthOfTransducer,
	}
	for beam := 1; beam <= int(ens.Fixed.NumberOfBeams); beam++ {
		cells, ok := ens.Velocity(beam)
		if !ok {
			continue
		}
		good := make([]float64, 0, len(cells))
		for _, v := range cells {
			if v != pd0.BadVelocity {
				good = append(good, float64(v))
			}
		}
		bs := BeamSummary{Beam: beam, GoodCells: len(good)}
		switch len(good) {
		case 0:
		case 1:
			bs.MeanMMPS = good[0]
		default:
			bs.MeanMMPS, bs.StdMMPS = stat.MeanStdDev(good, nil)
		}
		s.Beams = append(s.Beams, bs)
	}
	return s
}

// Format renders the summary on one line with velocities in unit.
func (s Summary) Format(unit string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ens %d hdg %.1f pitch %.1f roll %.1f temp %.2fC depth %.1fm",
		s.EnsembleNumber, s.Heading, s.Pitch, s.Roll, s.Temperature, s.Depth)
	for _, bs := range s.Beams {
		if bs.GoodCells == 0 {
			fmt.Fprintf(&b, " | b%d no good cells", bs.Beam)
			continue
		}
		fmt.Fprintf(&b, " | b%d %s ±%s (%d)", bs.Beam,
			units.FormatVelocity(bs.MeanMMPS, unit),
			units.FormatVelocity(bs.StdMMPS, unit),
			bs.GoodCells)
	}
	return b.String()
}

func (s Summary) String() string {
	return s.Format(units.MMPS)
}

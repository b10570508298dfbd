package simulator

import (
	"math"
	"time"

	"github.com/banshee-data/adcp/internal/pd0"
)

const beams = 4

// buildEnsemble renders the current ensemble as a PD0 frame. Velocities follow
// a tidal profile that decays with depth; every seventeenth cell is flagged
// bad the way the instrument flags low-correlation cells.
func (in *Instrument) buildEnsemble(at time.Time) ([]byte, error) {
	s := in.settings
	cells := s.NumberOfCells
	phase := 2 * math.Pi * float64(at.Unix()%44712) / 44712 // M2 tide

	b := &pd0.Builder{
		Fixed: pd0.FixedLeader{
			FirmwareVersion:      51,
			FirmwareRevision:     40,
			SystemConfiguration:  0x5249,
			NumberOfBeams:        beams,
			NumberOfCells:        uint8(cells),
			PingsPerEnsemble:     uint16(s.PingsPerEnsemble),
			DepthCellLength:      uint16(s.DepthCellSize),
			ErrorVelocityMaximum: 2000,
			CoordinateTransform:  0x07,
			BinOneDistance:       uint16(s.DepthCellSize + 100),
			SerialNumber:         in.serial,
			BeamAngle:            20,
		},
		Variable: pd0.VariableLeader{
			EnsembleNumber:    in.ensemble,
			Time:              at,
			SpeedOfSound:      1500,
			DepthOfTransducer: 8.5 + 0.5*math.Sin(phase),
			Heading:           math.Mod(180+10*math.Sin(phase)+in.rng.Float64(), 360),
			Pitch:             -1.5 + in.rng.Float64()*0.2,
			Roll:              0.8 + in.rng.Float64()*0.2,
			Salinity:          35,
			Temperature:       11.25 + 0.5*math.Cos(phase),
		},
		Velocity:             make([][]int16, beams),
		CorrelationMagnitude: make([][]uint8, beams),
		EchoIntensity:        make([][]uint8, beams),
		PercentGood:          make([][]uint8, beams),
	}

	current := 600 * math.Sin(phase)
	for bi := 0; bi < beams; bi++ {
		sign := 1.0
		if bi%2 == 1 {
			sign = -1
		}
		vel := make([]int16, cells)
		corr := make([]uint8, cells)
		echo := make([]uint8, cells)
		good := make([]uint8, cells)
		for c := 0; c < cells; c++ {
			decay := math.Exp(-float64(c) / float64(2*cells))
			if (int(in.ensemble)+bi+c)%17 == 0 {
				vel[c] = pd0.BadVelocity
				corr[c] = uint8(20 + in.rng.IntN(20))
			} else {
				vel[c] = int16(sign*current*decay*0.34 + in.rng.NormFloat64()*15)
				corr[c] = uint8(110 + in.rng.IntN(20))
			}
			echo[c] = uint8(150 - c*100/cells/2)
			good[c] = uint8(90 + in.rng.IntN(11))
		}
		b.Velocity[bi] = vel
		b.CorrelationMagnitude[bi] = corr
		b.EchoIntensity[bi] = echo
		b.PercentGood[bi] = good
	}
	return b.Bytes()
}

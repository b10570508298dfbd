package pd0

import (
	"encoding/binary"
	"time"
)

// Leader field positions relative to the start of each leader.
const (
	fixedFirmwareVersion   = 2
	fixedFirmwareRevision  = 3
	fixedSystemConfig      = 4
	fixedNumberOfBeams     = 8
	fixedNumberOfCells     = 9
	fixedPingsPerEnsemble  = 10
	fixedDepthCellLength   = 12
	fixedErrorVelocityMax  = 20
	fixedCoordTransform    = 25
	fixedBinOneDistance    = 32
	fixedSerialNumber      = 54
	fixedBeamAngle         = 58
	fixedLeaderMinSize     = fixedBinOneDistance + 2
	fixedLeaderSerialSize  = fixedSerialNumber + 4
	fixedLeaderBeamAngSize = fixedBeamAngle + 1

	varEnsembleNumber    = 2
	varRTC               = 4
	varEnsembleNumberMSB = 11
	varBITResult         = 12
	varSpeedOfSound      = 14
	varDepthOfTransducer = 16
	varHeading           = 18
	varPitch             = 20
	varRoll              = 22
	varSalinity          = 24
	varTemperature       = 26

	variableLeaderMinSize = varTemperature + 2
)

// Scale factors from raw counts to engineering units.
const (
	DepthResolution       = 0.1  // decimetres to metres
	AttitudeResolution    = 0.01 // hundredths of a degree
	TemperatureResolution = 0.01 // hundredths of a degree Celsius
)

// FixedLeader holds the static instrument configuration carried by every
// ensemble.
type FixedLeader struct {
	FirmwareVersion      uint8
	FirmwareRevision     uint8
	SystemConfiguration  uint16
	NumberOfBeams        uint8
	NumberOfCells        uint8
	PingsPerEnsemble     uint16
	DepthCellLength      uint16 // cm
	ErrorVelocityMaximum uint16 // mm/s
	CoordinateTransform  uint8
	BinOneDistance       uint16 // cm
	SerialNumber         uint32 // zero when the leader predates the field
	BeamAngle            uint8  // degrees, zero when absent
}

// VariableLeader holds the per-ensemble sensor readings.
type VariableLeader struct {
	EnsembleNumber    uint32
	Time              time.Time // instrument real-time clock, zero if unset
	BITResult         uint16
	SpeedOfSound      uint16  // m/s
	DepthOfTransducer float64 // m
	Heading           float64 // degrees
	Pitch             float64 // degrees
	Roll              float64 // degrees
	Salinity          uint16  // ppt
	Temperature       float64 // degrees Celsius
}

// Ensemble is one decoded PD0 record. It shares no memory with the frame it
// was decoded from.
type Ensemble struct {
	Offsets  OffsetTable
	Fixed    FixedLeader
	Variable VariableLeader

	velocity    [][]int16
	correlation [][]uint8
	echo        [][]uint8
	percentGood [][]uint8
}

// Decode parses a complete, checksummed PD0 frame.
func Decode(frame []byte) (*Ensemble, error) {
	table, err := ReadOffsetTable(frame)
	if err != nil {
		return nil, err
	}
	if len(frame) < PrefixSize {
		return nil, formatErrorf(len(frame), "frame truncated before length field")
	}
	if declared := DeclaredLength(frame); declared != len(frame) {
		return nil, formatErrorf(2, "declared length %d does not match frame length %d", declared, len(frame))
	}
	if err := checkStructure(frame, table); err != nil {
		return nil, err
	}

	e := &Ensemble{Offsets: table}
	fixedOff, _ := table.Offset(1)
	varOff, _ := table.Offset(2)
	e.Fixed = decodeFixedLeader(frame, fixedOff, recordEnd(frame, table, fixedOff))
	e.Variable = decodeVariableLeader(frame, varOff)

	beams := int(e.Fixed.NumberOfBeams)
	cells := int(e.Fixed.NumberOfCells)
	for _, id := range beamRecordTypes {
		off, ok := table.find(frame, id)
		if !ok {
			diagf("ensemble %d carries no %s record", e.Variable.EnsembleNumber, id)
			continue
		}
		need := TypeIDSize + cells*beams*id.valueSize()
		if off+need > len(frame)-ChecksumSize {
			return nil, formatErrorf(off, "%s record needs %d bytes for %d beams x %d cells", id, need, beams, cells)
		}
		switch id {
		case VelocityID:
			e.velocity = extractInt16(frame, off, beams, cells)
		case CorrelationMagnitudeID:
			e.correlation = extractUint8(frame, off, beams, cells)
		case EchoIntensityID:
			e.echo = extractUint8(frame, off, beams, cells)
		case PercentGoodID:
			e.percentGood = extractUint8(frame, off, beams, cells)
		}
	}
	return e, nil
}

// checkStructure confirms that the offset table is internally consistent and
// that entries 1 and 2 locate the fixed and variable leaders.
func checkStructure(frame []byte, t OffsetTable) error {
	if t.NumDataTypes < 2 {
		return formatErrorf(5, "ensemble declares %d data types, leaders need at least 2", t.NumDataTypes)
	}
	limit := len(frame) - ChecksumSize
	if t.HeaderLength > limit {
		return formatErrorf(5, "offset table of %d bytes overruns the frame", t.HeaderLength)
	}
	for i, off := range t.Offsets {
		if off < t.HeaderLength || off+TypeIDSize > limit {
			return formatErrorf(HeaderFixedSize+2*i, "offset %d of entry %d lies outside [%d, %d)", off, i+1, t.HeaderLength, limit)
		}
	}

	fixedOff := t.Offsets[0]
	if id := DataType(u16(frame, fixedOff)); id != FixedLeaderID {
		return formatErrorf(fixedOff, "entry 1 is type 0x%04X, want fixed leader", uint16(id))
	}
	if fixedOff+fixedLeaderMinSize > limit {
		return formatErrorf(fixedOff, "fixed leader truncated")
	}
	varOff := t.Offsets[1]
	if id := DataType(u16(frame, varOff)); id != VariableLeaderID {
		return formatErrorf(varOff, "entry 2 is type 0x%04X, want variable leader", uint16(id))
	}
	if varOff+variableLeaderMinSize > limit {
		return formatErrorf(varOff, "variable leader truncated")
	}
	return nil
}

// recordEnd returns the first byte past the record starting at off: the next
// higher offset in the table, or the checksum.
func recordEnd(frame []byte, t OffsetTable, off int) int {
	end := len(frame) - ChecksumSize
	for _, o := range t.Offsets {
		if o > off && o < end {
			end = o
		}
	}
	return end
}

func decodeFixedLeader(frame []byte, off, end int) FixedLeader {
	f := FixedLeader{
		FirmwareVersion:      frame[off+fixedFirmwareVersion],
		FirmwareRevision:     frame[off+fixedFirmwareRevision],
		SystemConfiguration:  u16(frame, off+fixedSystemConfig),
		NumberOfBeams:        frame[off+fixedNumberOfBeams],
		NumberOfCells:        frame[off+fixedNumberOfCells],
		PingsPerEnsemble:     u16(frame, off+fixedPingsPerEnsemble),
		DepthCellLength:      u16(frame, off+fixedDepthCellLength),
		ErrorVelocityMaximum: u16(frame, off+fixedErrorVelocityMax),
		CoordinateTransform:  frame[off+fixedCoordTransform],
		BinOneDistance:       u16(frame, off+fixedBinOneDistance),
	}
	if off+fixedLeaderSerialSize <= end {
		f.SerialNumber = binary.LittleEndian.Uint32(frame[off+fixedSerialNumber:])
	}
	if off+fixedLeaderBeamAngSize <= end {
		f.BeamAngle = frame[off+fixedBeamAngle]
	}
	return f
}

func decodeVariableLeader(frame []byte, off int) VariableLeader {
	return VariableLeader{
		EnsembleNumber:    uint32(u16(frame, off+varEnsembleNumber)) | uint32(frame[off+varEnsembleNumberMSB])<<16,
		Time:              decodeRTC(frame[off+varRTC : off+varRTC+7]),
		BITResult:         u16(frame, off+varBITResult),
		SpeedOfSound:      u16(frame, off+varSpeedOfSound),
		DepthOfTransducer: float64(u16(frame, off+varDepthOfTransducer)) * DepthResolution,
		Heading:           float64(u16(frame, off+varHeading)) * AttitudeResolution,
		Pitch:             float64(i16(frame, off+varPitch)) * AttitudeResolution,
		Roll:              float64(i16(frame, off+varRoll)) * AttitudeResolution,
		Salinity:          u16(frame, off+varSalinity),
		Temperature:       float64(i16(frame, off+varTemperature)) * TemperatureResolution,
	}
}

// decodeRTC converts the 7-byte yy mm dd hh mm ss hundredths clock. An
// unset or impossible clock yields the zero time.
func decodeRTC(b []byte) time.Time {
	year, month, day := int(b[0]), int(b[1]), int(b[2])
	hour, minute, sec, hundredths := int(b[3]), int(b[4]), int(b[5]), int(b[6])
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || sec > 59 || hundredths > 99 {
		return time.Time{}
	}
	return time.Date(2000+year, time.Month(month), day, hour, minute, sec, hundredths*int(10*time.Millisecond), time.UTC)
}

func extractInt16(frame []byte, off, beams, cells int) [][]int16 {
	out := make([][]int16, beams)
	for b := 0; b < beams; b++ {
		out[b] = make([]int16, cells)
		for c := 0; c < cells; c++ {
			out[b][c] = i16(frame, off+TypeIDSize+b*2+c*beams*2)
		}
	}
	return out
}

func extractUint8(frame []byte, off, beams, cells int) [][]uint8 {
	out := make([][]uint8, beams)
	for b := 0; b < beams; b++ {
		out[b] = make([]uint8, cells)
		for c := 0; c < cells; c++ {
			out[b][c] = frame[off+TypeIDSize+b+c*beams]
		}
	}
	return out
}

// Velocity returns the raw velocity of every cell of beam (1-based) in mm/s.
// ok is false when the ensemble carries no velocity record or the beam does
// not exist.
func (e *Ensemble) Velocity(beam int) ([]int16, bool) {
	if beam < 1 || beam > len(e.velocity) {
		return nil, false
	}
	return append([]int16(nil), e.velocity[beam-1]...), true
}

// CorrelationMagnitude returns the correlation counts of beam (1-based).
func (e *Ensemble) CorrelationMagnitude(beam int) ([]uint8, bool) {
	return beamCopy(e.correlation, beam)
}

// EchoIntensity returns the echo intensity counts of beam (1-based).
func (e *Ensemble) EchoIntensity(beam int) ([]uint8, bool) {
	return beamCopy(e.echo, beam)
}

// PercentGood returns the percent-good values of beam (1-based).
func (e *Ensemble) PercentGood(beam int) ([]uint8, bool) {
	return beamCopy(e.percentGood, beam)
}

// Has reports whether the ensemble carries the given per-beam record with at
// least one beam, matching what the per-beam accessors can return.
func (e *Ensemble) Has(t DataType) bool {
	switch t {
	case FixedLeaderID, VariableLeaderID:
		return true
	case VelocityID:
		return len(e.velocity) > 0
	case CorrelationMagnitudeID:
		return len(e.correlation) > 0
	case EchoIntensityID:
		return len(e.echo) > 0
	case PercentGoodID:
		return len(e.percentGood) > 0
	}
	return false
}

func beamCopy(rec [][]uint8, beam int) ([]uint8, bool) {
	if beam < 1 || beam > len(rec) {
		return nil, false
	}
	return append([]uint8(nil), rec[beam-1]...), true
}

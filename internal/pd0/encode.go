package pd0

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Encoded leader sizes produced by Builder.
const (
	FixedLeaderSize    = 59
	VariableLeaderSize = 65
)

// Builder assembles a PD0 frame from decoded values. It is the inverse of
// Decode for every field Decode extracts, and is used by the instrument
// simulator and tests.
type Builder struct {
	Fixed    FixedLeader
	Variable VariableLeader

	// Per-beam records indexed [beam-1][cell]. A nil record is omitted from
	// the frame.
	Velocity             [][]int16
	CorrelationMagnitude [][]uint8
	EchoIntensity        [][]uint8
	PercentGood          [][]uint8
}

// Bytes encodes the ensemble, including offset table and checksum.
func (b *Builder) Bytes() ([]byte, error) {
	beams := int(b.Fixed.NumberOfBeams)
	cells := int(b.Fixed.NumberOfCells)

	type record struct {
		id   DataType
		size int
		put  func(dst []byte)
	}
	records := []record{
		{FixedLeaderID, FixedLeaderSize, b.putFixedLeader},
		{VariableLeaderID, VariableLeaderSize, b.putVariableLeader},
	}
	if b.Velocity != nil {
		if err := checkDims(VelocityID, len(b.Velocity), beams, func(i int) int { return len(b.Velocity[i]) }, cells); err != nil {
			return nil, err
		}
		records = append(records, record{VelocityID, TypeIDSize + beams*cells*2, func(dst []byte) {
			for bi, beam := range b.Velocity {
				for c, v := range beam {
					binary.LittleEndian.PutUint16(dst[TypeIDSize+bi*2+c*beams*2:], uint16(v))
				}
			}
		}})
	}
	for _, r := range []struct {
		id   DataType
		data [][]uint8
	}{
		{CorrelationMagnitudeID, b.CorrelationMagnitude},
		{EchoIntensityID, b.EchoIntensity},
		{PercentGoodID, b.PercentGood},
	} {
		if r.data == nil {
			continue
		}
		data := r.data
		if err := checkDims(r.id, len(data), beams, func(i int) int { return len(data[i]) }, cells); err != nil {
			return nil, err
		}
		records = append(records, record{r.id, TypeIDSize + beams*cells, func(dst []byte) {
			for bi, beam := range data {
				for c, v := range beam {
					dst[TypeIDSize+bi+c*beams] = v
				}
			}
		}})
	}

	headerLength := HeaderFixedSize + 2*len(records)
	total := headerLength + ChecksumSize
	for _, r := range records {
		total += r.size
	}
	if total-ChecksumSize > math.MaxUint16 {
		return nil, fmt.Errorf("pd0: ensemble of %d bytes exceeds the 16-bit length field", total)
	}

	frame := make([]byte, total)
	frame[0] = HeaderID
	frame[1] = DataSourceID
	binary.LittleEndian.PutUint16(frame[2:], uint16(total-ChecksumSize))
	frame[5] = byte(len(records))

	off := headerLength
	for i, r := range records {
		binary.LittleEndian.PutUint16(frame[HeaderFixedSize+2*i:], uint16(off))
		binary.LittleEndian.PutUint16(frame[off:], uint16(r.id))
		r.put(frame[off : off+r.size])
		off += r.size
	}
	PutChecksum(frame)
	return frame, nil
}

func checkDims(id DataType, gotBeams, beams int, cellsOf func(int) int, cells int) error {
	if gotBeams != beams {
		return fmt.Errorf("pd0: %s record has %d beams, fixed leader declares %d", id, gotBeams, beams)
	}
	for i := 0; i < gotBeams; i++ {
		if n := cellsOf(i); n != cells {
			return fmt.Errorf("pd0: %s beam %d has %d cells, fixed leader declares %d", id, i+1, n, cells)
		}
	}
	return nil
}

func (b *Builder) putFixedLeader(dst []byte) {
	f := b.Fixed
	dst[fixedFirmwareVersion] = f.FirmwareVersion
	dst[fixedFirmwareRevision] = f.FirmwareRevision
	binary.LittleEndian.PutUint16(dst[fixedSystemConfig:], f.SystemConfiguration)
	dst[fixedNumberOfBeams] = f.NumberOfBeams
	dst[fixedNumberOfCells] = f.NumberOfCells
	binary.LittleEndian.PutUint16(dst[fixedPingsPerEnsemble:], f.PingsPerEnsemble)
	binary.LittleEndian.PutUint16(dst[fixedDepthCellLength:], f.DepthCellLength)
	binary.LittleEndian.PutUint16(dst[fixedErrorVelocityMax:], f.ErrorVelocityMaximum)
	dst[fixedCoordTransform] = f.CoordinateTransform
	binary.LittleEndian.PutUint16(dst[fixedBinOneDistance:], f.BinOneDistance)
	binary.LittleEndian.PutUint32(dst[fixedSerialNumber:], f.SerialNumber)
	dst[fixedBeamAngle] = f.BeamAngle
}

func (b *Builder) putVariableLeader(dst []byte) {
	v := b.Variable
	binary.LittleEndian.PutUint16(dst[varEnsembleNumber:], uint16(v.EnsembleNumber))
	dst[varEnsembleNumberMSB] = byte(v.EnsembleNumber >> 16)
	putRTC(dst[varRTC:varRTC+7], v.Time)
	binary.LittleEndian.PutUint16(dst[varBITResult:], v.BITResult)
	binary.LittleEndian.PutUint16(dst[varSpeedOfSound:], v.SpeedOfSound)
	binary.LittleEndian.PutUint16(dst[varDepthOfTransducer:], uint16(math.Round(v.DepthOfTransducer/DepthResolution)))
	binary.LittleEndian.PutUint16(dst[varHeading:], uint16(math.Round(v.Heading/AttitudeResolution)))
	binary.LittleEndian.PutUint16(dst[varPitch:], uint16(int16(math.Round(v.Pitch/AttitudeResolution))))
	binary.LittleEndian.PutUint16(dst[varRoll:], uint16(int16(math.Round(v.Roll/AttitudeResolution))))
	binary.LittleEndian.PutUint16(dst[varSalinity:], v.Salinity)
	binary.LittleEndian.PutUint16(dst[varTemperature:], uint16(int16(math.Round(v.Temperature/TemperatureResolution))))
}

func putRTC(dst []byte, t time.Time) {
	if t.IsZero() {
		return
	}
	t = t.UTC()
	dst[0] = byte(t.Year() % 100)
	dst[1] = byte(t.Month())
	dst[2] = byte(t.Day())
	dst[3] = byte(t.Hour())
	dst[4] = byte(t.Minute())
	dst[5] = byte(t.Second())
	dst[6] = byte(t.Nanosecond() / int(10*time.Millisecond))
}

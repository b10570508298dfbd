// Package pd0 decodes the binary PD0 ensemble emitted by acoustic Doppler
// current profilers.
/*
PD0 ENSEMBLE LAYOUT (all multi-byte fields little-endian):

├── Header
│   ├── 0-1   header ID + data source ID (0x7F 0x7F)
│   ├── 2-3   number of bytes in the ensemble, excluding the 2-byte checksum
│   ├── 4     spare
│   ├── 5     number of data types N
│   └── 6..   N offsets, each the absolute byte position of a data type
├── Data types (order and set depend on instrument configuration)
│   ├── 0x0000 fixed leader      (static configuration)
│   ├── 0x0080 variable leader   (per-ensemble sensor readings)
│   ├── 0x0100 velocity          (int16 mm/s per beam per cell)
│   ├── 0x0200 correlation magnitude (uint8 per beam per cell)
│   ├── 0x0300 echo intensity    (uint8 per beam per cell)
│   └── 0x0400 percent good      (uint8 per beam per cell)
└── Checksum: sum of all preceding bytes mod 65536

Per-beam records are stored cell-major: for each cell, one value per beam.
Cell c of beam b (1-based) lives at recordOffset + 2 + (b-1)*size + c*beams*size.

Decoding never mutates or retains the input frame; every call returns a fresh
Ensemble.
*/
package pd0

import "encoding/binary"

// Wire constants.
const (
	HeaderID     = 0x7F
	DataSourceID = 0x7F

	// HeaderFixedSize is the header size before the offset table.
	HeaderFixedSize = 6
	// PrefixSize is the number of bytes needed to learn the frame length.
	PrefixSize   = 4
	ChecksumSize = 2
	TypeIDSize   = 2

	// BadVelocity marks a velocity cell the instrument rejected.
	BadVelocity = -32768
)

// DataType is the 16-bit identifier at the start of each sub-record.
type DataType uint16

const (
	FixedLeaderID          DataType = 0x0000
	VariableLeaderID       DataType = 0x0080
	VelocityID             DataType = 0x0100
	CorrelationMagnitudeID DataType = 0x0200
	EchoIntensityID        DataType = 0x0300
	PercentGoodID          DataType = 0x0400
)

func (t DataType) String() string {
	switch t {
	case FixedLeaderID:
		return "fixed leader"
	case VariableLeaderID:
		return "variable leader"
	case VelocityID:
		return "velocity"
	case CorrelationMagnitudeID:
		return "correlation magnitude"
	case EchoIntensityID:
		return "echo intensity"
	case PercentGoodID:
		return "percent good"
	default:
		return "unknown"
	}
}

// valueSize is the byte width of one cell value in a per-beam record.
func (t DataType) valueSize() int {
	if t == VelocityID {
		return 2
	}
	return 1
}

// beamRecordTypes lists the per-beam record types the decoder extracts.
var beamRecordTypes = []DataType{
	VelocityID,
	CorrelationMagnitudeID,
	EchoIntensityID,
	PercentGoodID,
}

// DeclaredLength returns the total frame length announced by a PD0 prefix,
// including the trailing checksum. prefix must hold at least PrefixSize bytes.
func DeclaredLength(prefix []byte) int {
	return int(binary.LittleEndian.Uint16(prefix[2:4])) + ChecksumSize
}

// HasMarker reports whether b starts with the PD0 header and source IDs.
func HasMarker(b []byte) bool {
	return len(b) >= 2 && b[0] == HeaderID && b[1] == DataSourceID
}

func u16(b []byte, off int) uint16 { return binary.LittleEndian.Uint16(b[off : off+2]) }

func i16(b []byte, off int) int16 { return int16(binary.LittleEndian.Uint16(b[off : off+2])) }

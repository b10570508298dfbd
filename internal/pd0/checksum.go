package pd0

import "encoding/binary"

// Checksum sums every byte of data as an unsigned value, modulo 65536.
func Checksum(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return sum
}

// ValidateChecksum compares the trailing little-endian checksum of frame with
// the sum of the bytes that precede it.
func ValidateChecksum(frame []byte) error {
	if len(frame) < PrefixSize {
		return formatErrorf(len(frame), "frame of %d bytes is too short to carry a checksum", len(frame))
	}
	n := len(frame) - ChecksumSize
	expected := binary.LittleEndian.Uint16(frame[n:])
	actual := Checksum(frame[:n])
	if expected != actual {
		opsf("dropping ensemble: checksum 0x%04X != computed 0x%04X (%d bytes)", expected, actual, len(frame))
		return &ChecksumError{Expected: expected, Actual: actual}
	}
	return nil
}

// PutChecksum writes the checksum of frame[:len-2] into its last two bytes.
func PutChecksum(frame []byte) {
	n := len(frame) - ChecksumSize
	binary.LittleEndian.PutUint16(frame[n:], Checksum(frame[:n]))
}

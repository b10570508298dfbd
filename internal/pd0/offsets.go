package pd0

// OffsetTable locates the data-type sub-records of one ensemble.
type OffsetTable struct {
	NumDataTypes int
	HeaderLength int
	// Offsets holds entry i (1-based) at index i-1.
	Offsets []int
}

// ReadOffsetTable parses the header of frame. The marker is checked before
// anything else so that foreign bytes are never interpreted as a table.
func ReadOffsetTable(frame []byte) (OffsetTable, error) {
	if !HasMarker(frame) {
		return OffsetTable{}, formatErrorf(0, "missing 0x7F7F header marker")
	}
	if len(frame) < HeaderFixedSize {
		return OffsetTable{}, formatErrorf(len(frame), "header truncated at %d bytes", len(frame))
	}

	n := int(frame[5])
	t := OffsetTable{
		NumDataTypes: n,
		HeaderLength: 2*n + HeaderFixedSize,
		Offsets:      make([]int, n),
	}
	if len(frame) < t.HeaderLength {
		return OffsetTable{}, formatErrorf(len(frame), "offset table for %d data types needs %d bytes", n, t.HeaderLength)
	}
	for i := 1; i <= n; i++ {
		t.Offsets[i-1] = int(u16(frame, HeaderFixedSize+2*(i-1)))
	}
	return t, nil
}

// Offset returns the absolute position of entry i (1-based).
func (t OffsetTable) Offset(i int) (int, bool) {
	if i < 1 || i > len(t.Offsets) {
		return 0, false
	}
	return t.Offsets[i-1], true
}

// find scans entries 3..N for a sub-record whose type ID equals id. Entries 1
// and 2 are always the leaders.
func (t OffsetTable) find(frame []byte, id DataType) (int, bool) {
	limit := len(frame) - ChecksumSize
	for i := 3; i <= len(t.Offsets); i++ {
		off := t.Offsets[i-1]
		if off+TypeIDSize > limit {
			continue
		}
		if DataType(u16(frame, off)) == id {
			tracef("entry %d at byte %d is %s", i, off, id)
			return off, true
		}
	}
	return 0, false
}

package container

// handleUnused marks an unused handle table slot.
var handleUnused = [HandleEntrySize]byte{0xFF, 0x00, 0x00}

// parseHandleTable reads the 36-byte handle table of 12 three-byte entries.
func parseHandleTable(data []byte, off int) ([NumHandles][HandleEntrySize]byte, error) {
	var out [NumHandles][HandleEntrySize]byte
	if off < 0 || off+HandleTableSize > len(data) {
		return out, decodeErrf(off, -1, ErrSignatureNotFound,
			"no room for the %d-byte handle table", HandleTableSize)
	}
	for i := 0; i < NumHandles; i++ {
		copy(out[i][:], data[off+i*HandleEntrySize:])
	}
	return out, nil
}

// handleTableBytes flattens the handle table back to its wire form.
func handleTableBytes(h [NumHandles][HandleEntrySize]byte) []byte {
	out := make([]byte, 0, HandleTableSize)
	for i := range h {
		out = append(out, h[i][:]...)
	}
	return out
}

// UsedHandles counts the occupied handle table slots.
func (p *Project) UsedHandles() int {
	n := 0
	for _, h := range p.Handles {
		if h != handleUnused {
			n++
		}
	}
	return n
}

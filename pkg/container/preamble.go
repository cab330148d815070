package container

// PreambleSize is the length of the per-block preamble word.
const PreambleSize = 4

// roleKnown reports whether a role byte is in the catalogued table: the
// clone marker, the multi-pattern leader marker, the propagation sentinel,
// or one of the per-track baselines.
func roleKnown(role byte) bool {
	switch role {
	case RoleClone, RoleMultiLeader, RolePropagated:
		return true
	}
	for t := 1; t <= NumTracks; t++ {
		if roleBaseline[t] == role {
			return true
		}
	}
	return false
}

// decodePreamble parses a 4-byte preamble word. offset and block are the
// position of the word for error reporting.
func decodePreamble(b []byte, offset, block int) (Preamble, error) {
	if len(b) < PreambleSize {
		return Preamble{}, decodeErrf(offset, block, ErrUnknownPreambleState,
			"truncated preamble (%d bytes)", len(b))
	}
	p := Preamble{Role: b[0], Count: b[1], BarByte: b[2], Tag: b[3]}
	if p.Tag != PreambleTag {
		return Preamble{}, decodeErrf(offset+3, block, ErrUnknownPreambleState,
			"tag byte 0x%02X, want 0x%02X", p.Tag, PreambleTag)
	}
	if !roleKnown(p.Role) {
		return Preamble{}, decodeErrf(offset, block, ErrUnknownRoleFamily,
			"role byte 0x%02X", p.Role)
	}
	if bars := p.Bars(); bars < 1 || bars > MaxBars {
		return Preamble{}, decodeErrf(offset+2, block, ErrUnknownPreambleState,
			"bar nibble %d", bars)
	}
	return p, nil
}

func (p Preamble) encode() [PreambleSize]byte {
	return [PreambleSize]byte{p.Role, p.Count, p.BarByte, p.Tag}
}

// looksLikePreamble reports whether b starts with a plausible preamble word.
// Used to re-derive boundaries inside the packed final slot, where embedded
// preambles carry no signature.
func looksLikePreamble(b []byte) bool {
	if len(b) < PreambleSize {
		return false
	}
	if b[3] != PreambleTag {
		return false
	}
	if b[2]&0x0F != 0 {
		return false
	}
	bars := int(b[2] >> 4)
	if bars < 1 || bars > MaxBars {
		return false
	}
	return roleKnown(b[0])
}

// barsForEvents computes the bar count from the highest step an event list
// reaches, rounded up to the next 16-step bar. An empty list keeps one bar.
func barsForEvents(events []NoteEvent) int {
	maxStep := 0
	for _, e := range events {
		if s := e.Step(); s > maxStep {
			maxStep = s
		}
	}
	bars := maxStep/StepsPerBar + 1
	if bars > MaxBars {
		bars = MaxBars
	}
	return bars
}

// nextBaseline returns the baseline role of the track after t, which clone
// count bytes borrow. Track 16 has no successor and uses zero.
func nextBaseline(t int) byte {
	if t >= NumTracks {
		return 0
	}
	return roleBaseline[t+1]
}

// leaderPreamble builds the preamble for the first pattern of a track.
func leaderPreamble(track, patternCount, bars int) Preamble {
	role := roleBaseline[track]
	if patternCount > 1 {
		role = RoleMultiLeader
	}
	return Preamble{
		Role:    role,
		Count:   byte(patternCount),
		BarByte: byte(bars << 4),
		Tag:     PreambleTag,
	}
}

// clonePreamble builds the preamble for pattern 2+ of a track. The count
// byte borrows the next track's baseline role.
func clonePreamble(track, bars int) Preamble {
	return Preamble{
		Role:    RoleClone,
		Count:   nextBaseline(track),
		BarByte: byte(bars << 4),
		Tag:     PreambleTag,
	}
}

// preambleUnit is the view applyPropagation needs of each unit in the
// flattened block sequence. Packed sub-blocks take part as if physical,
// inheriting their container's activation.
type preambleUnit struct {
	Track     int
	Clone     bool
	Activated bool
	Preamble  *Preamble
}

// applyPropagation rewrites role and count bytes across the flattened block
// sequence per the capture-verified adjacency rules: a unit following an
// activated unit takes the propagation sentinel as its role, except the one
// permanently exempt track; a clone's borrowed count byte folds to the
// sentinel under the same adjacency, but only for high-family baselines.
func applyPropagation(units []preambleUnit) {
	for i := 1; i < len(units); i++ {
		if !units[i-1].Activated {
			continue
		}
		u := units[i]
		if u.Track != propagationExemptTrack && !u.Clone {
			u.Preamble.Role = RolePropagated
		}
		if u.Clone && highFamily(u.Preamble.Count) {
			u.Preamble.Count = RolePropagated
		}
	}
}

package container

import (
	"fmt"
	"sort"
)

// Scheme identifies the structural family of a decoded descriptor.
type Scheme int

const (
	SchemeNone Scheme = iota // region empty, every track single-pattern
	SchemeA                  // only tracks 3-8 multi-pattern
	SchemeB                  // tracks 1 and/or 2 involved
	SchemeShort              // terminal token only
)

func (s Scheme) String() string {
	switch s {
	case SchemeNone:
		return "none"
	case SchemeA:
		return "scheme-a"
	case SchemeB:
		return "scheme-b"
	case SchemeShort:
		return "short-form"
	}
	return fmt.Sprintf("scheme(%d)", int(s))
}

// Descriptor grammar constants.
const (
	descTokenBase  = 0x1E // token = base - highest multi-pattern track
	descShortToken = 0x1E // short-form variant, empty body
	descMarker     = 0x01 // constant marker after the Scheme B token
	descTokenMin   = 0x16 // lowest token value; Scheme A pair bytes stay below
)

// Descriptor is the decoded pre-track multi-pattern declaration. Counts is
// 1-based by track; tracks the descriptor does not mention hold 1. For
// Scheme B variants that pin or omit slot bytes, counts of tracks 3+ may be
// unresolvable from the descriptor alone (zero here); the block preambles
// are authoritative and the container codec reconciles them.
type Descriptor struct {
	Scheme  Scheme
	Counts  [NumTracks + 1]int
	Highest int // highest multi-pattern track a Scheme B token declared
	Raw     []byte
}

// MultiTracks returns the tracks the descriptor declares multi-pattern, in
// ascending order.
func (d *Descriptor) MultiTracks() []int {
	if d == nil {
		return nil
	}
	var out []int
	for t := 1; t <= NumTracks; t++ {
		if d.Counts[t] > 1 {
			out = append(out, t)
		}
	}
	return out
}

// DecodeDescriptor parses the descriptor region. An empty region means
// every track has exactly one pattern and yields a nil descriptor.
func DecodeDescriptor(raw []byte) (*Descriptor, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if len(raw) < 2 {
		return nil, decodeErrf(DescriptorOffset, -1, ErrUnsupportedTopology,
			"descriptor region of %d bytes", len(raw))
	}

	d := &Descriptor{Raw: raw}
	for t := 1; t <= NumTracks; t++ {
		d.Counts[t] = 1
	}

	// The two leading bytes are independent per-track slot values for
	// tracks 1 and 2, not a combined 16-bit field.
	s1, s2 := raw[0], raw[1]
	d.Counts[1] = int(s1) + 1
	d.Counts[2] = int(s2) + 1
	body := raw[2:]

	if s1 == 0 && s2 == 0 {
		return decodeSchemeA(d, body)
	}
	return decodeSchemeB(d, body)
}

func decodeSchemeA(d *Descriptor, body []byte) (*Descriptor, error) {
	if len(body) > 0 && body[0] >= descTokenMin {
		// Terminal token in first position: a short-form variant left
		// behind by a leader-activation state.
		return decodeToken(d, body)
	}
	d.Scheme = SchemeA
	prev := 0
	for i := 0; ; i += 2 {
		if i+1 >= len(body) {
			return nil, decodeErrf(DescriptorOffset+2+i, -1, ErrUnsupportedTopology,
				"scheme A pair list missing terminator")
		}
		gap, maxSlot := body[i], body[i+1]
		if gap == 0 && maxSlot == 0 {
			if i+2 != len(body) {
				return nil, decodeErrf(DescriptorOffset+2+i, -1, ErrUnsupportedTopology,
					"%d trailing bytes after scheme A terminator", len(body)-i-2)
			}
			return d, nil
		}
		track := int(gap) + 3
		if track > 8 {
			return nil, decodeErrf(DescriptorOffset+2+i, -1, ErrUnsupportedTopology,
				"scheme A gap byte 0x%02X outside tracks 3-8", gap)
		}
		if track <= prev {
			return nil, decodeErrf(DescriptorOffset+2+i, -1, ErrUnsupportedTopology,
				"scheme A pairs not ascending at track %d", track)
		}
		count := int(maxSlot) + 1
		if count > MaxPatterns {
			return nil, decodeErrf(DescriptorOffset+3+i, -1, ErrUnsupportedTopology,
				"scheme A max-slot byte 0x%02X", maxSlot)
		}
		d.Counts[track] = count
		prev = track
	}
}

func decodeSchemeB(d *Descriptor, body []byte) (*Descriptor, error) {
	d.Scheme = SchemeB
	// The variable body runs up to a terminal token followed by the
	// constant marker and the [0,0] sentinel.
	for i := 0; i+3 < len(body); i++ {
		b := body[i]
		if b >= descTokenMin && body[i+1] == descMarker && body[i+2] == 0 && body[i+3] == 0 {
			if i+4 != len(body) {
				return nil, decodeErrf(DescriptorOffset+2+i+4, -1, ErrUnsupportedTopology,
					"%d trailing bytes after scheme B sentinel", len(body)-i-4)
			}
			if b == descShortToken {
				d.Scheme = SchemeShort
				d.Highest = highestMulti(d.Counts)
				return d, nil
			}
			d.Highest = descTokenBase - int(b)
			if d.Highest < 1 || d.Highest > 8 {
				return nil, decodeErrf(DescriptorOffset+2+i, -1, ErrUnsupportedTopology,
					"scheme B token 0x%02X", b)
			}
			// Slot bytes for tracks 3+ ahead of the token are
			// topology-dependent and may be pinned; leave those
			// counts to the preamble reconciliation pass.
			return d, nil
		}
	}
	return nil, decodeErrf(DescriptorOffset+2, -1, ErrUnsupportedTopology,
		"scheme B body missing terminal token")
}

func decodeToken(d *Descriptor, body []byte) (*Descriptor, error) {
	if len(body) != 4 || body[1] != descMarker || body[2] != 0 || body[3] != 0 {
		return nil, decodeErrf(DescriptorOffset+2, -1, ErrUnsupportedTopology,
			"malformed terminal token sequence")
	}
	if body[0] != descShortToken {
		return nil, decodeErrf(DescriptorOffset+2, -1, ErrUnsupportedTopology,
			"token 0x%02X with empty scheme A slots", body[0])
	}
	d.Scheme = SchemeShort
	return d, nil
}

// reconcileCounts overwrites Counts with the per-track pattern counts the
// block preambles declare. Scheme B variants pin or omit slot bytes for
// tracks 3+, so the logical entries are the only complete source.
func (d *Descriptor) reconcileCounts(entries []LogicalEntry) {
	if d == nil {
		return
	}
	var counts [NumTracks + 1]int
	for _, e := range entries {
		if e.Pattern > counts[e.Track] {
			counts[e.Track] = e.Pattern
		}
	}
	d.Counts = counts
}

func highestMulti(counts [NumTracks + 1]int) int {
	h := 0
	for t := 1; t <= NumTracks; t++ {
		if counts[t] > 1 {
			h = t
		}
	}
	return h
}

// Topology is the set of per-track pattern counts a descriptor encode is
// asked to declare.
type Topology struct {
	Counts [NumTracks + 1]int
}

// MultiTracks returns the multi-pattern tracks in ascending order.
func (t Topology) MultiTracks() []int {
	var out []int
	for i := 1; i <= NumTracks; i++ {
		if t.Counts[i] > 1 {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

// Activation records which pattern, if any, in each multi-pattern track
// currently holds note data (1-based; 0 = none).
type Activation struct {
	ActivePattern [NumTracks + 1]int
}

// EncodeOptions controls descriptor encoding. AllowHeuristic opts into
// synthesizing long-form bytes for topologies with no device-verified
// branch; the result still passes through the validator, but the codec
// never takes this path on its own.
type EncodeOptions struct {
	AllowHeuristic bool
}

// shortFormTracks lists the tracks whose leader-activation state collapses
// the descriptor to the bare terminal token. Track 6 is the verified
// counter-example: it keeps long form under the same condition, so the set
// is explicit per track rather than a boolean rule.
var shortFormTracks = map[int]bool{2: true, 4: true, 5: true, 7: true, 8: true}

// familyMarkerTracks are the two tracks whose multi-pattern branches have
// shown an extra family marker byte. The trigger condition is unproven;
// encode refuses when the previously-seen context (clone-side activation)
// matches rather than silently omitting the marker.
var familyMarkerTracks = map[int]bool{5: true, 7: true}

// descriptorBranch is one device-verified entry of the encode branch table.
// Adding a newly verified capture is a data addition, not a code change.
type descriptorBranch struct {
	name  string
	match func(multi []int, topo Topology, act Activation) bool
	emit  func(multi []int, topo Topology, act Activation) []byte
}

var verifiedBranches = []descriptorBranch{
	{
		name: "single-pattern",
		match: func(multi []int, _ Topology, _ Activation) bool {
			return len(multi) == 0
		},
		emit: func(_ []int, _ Topology, _ Activation) []byte {
			return nil
		},
	},
	{
		name: "short-form",
		match: func(multi []int, _ Topology, act Activation) bool {
			if len(multi) != 1 {
				return false
			}
			t := multi[0]
			return shortFormTracks[t] && act.ActivePattern[t] == 1
		},
		emit: func(multi []int, topo Topology, _ Activation) []byte {
			out := slotBytes(topo)
			return append(out, descShortToken, descMarker, 0x00, 0x00)
		},
	},
	{
		name: "scheme-a",
		match: func(multi []int, _ Topology, _ Activation) bool {
			for _, t := range multi {
				if t < 3 || t > 8 {
					return false
				}
			}
			return true
		},
		emit: func(multi []int, topo Topology, _ Activation) []byte {
			out := []byte{0x00, 0x00}
			for _, t := range multi {
				out = append(out, byte(t-3), byte(topo.Counts[t]-1))
			}
			return append(out, 0x00, 0x00)
		},
	},
	{
		name: "scheme-b-track1",
		match: func(multi []int, _ Topology, _ Activation) bool {
			return len(multi) == 1 && multi[0] == 1
		},
		emit: func(_ []int, topo Topology, _ Activation) []byte {
			out := slotBytes(topo)
			return append(out, 0x00, descTokenBase-1, descMarker, 0x00, 0x00)
		},
	},
	{
		name: "scheme-b-track2",
		match: func(multi []int, _ Topology, _ Activation) bool {
			return len(multi) == 1 && multi[0] == 2
		},
		emit: func(_ []int, topo Topology, _ Activation) []byte {
			out := slotBytes(topo)
			return append(out, 0x00, descTokenBase-2, descMarker, 0x00, 0x00)
		},
	},
	{
		name: "scheme-b-track1-track2",
		match: func(multi []int, _ Topology, _ Activation) bool {
			return len(multi) == 2 && multi[0] == 1 && multi[1] == 2
		},
		emit: func(_ []int, topo Topology, _ Activation) []byte {
			out := slotBytes(topo)
			return append(out, 0x00, descTokenBase-2, descMarker, 0x00, 0x00)
		},
	},
	{
		// Collapsed variant: the track 3 slot byte is pinned to zero
		// no matter the pattern count; the preambles carry the count.
		name: "scheme-b-track1-track3-collapsed",
		match: func(multi []int, _ Topology, _ Activation) bool {
			return len(multi) == 2 && multi[0] == 1 && multi[1] == 3
		},
		emit: func(_ []int, topo Topology, _ Activation) []byte {
			out := slotBytes(topo)
			return append(out, 0x00, descTokenBase-3, descMarker, 0x00, 0x00)
		},
	},
}

func slotBytes(topo Topology) []byte {
	b := make([]byte, 2)
	if topo.Counts[1] > 1 {
		b[0] = byte(topo.Counts[1] - 1)
	}
	if topo.Counts[2] > 1 {
		b[1] = byte(topo.Counts[2] - 1)
	}
	return b
}

// EncodeDescriptor reproduces, byte for byte, one of the device-verified
// descriptor branches for the given topology and activation state. A
// combination absent from the branch table returns ErrUnsupportedTopology
// naming the missing combination, unless the caller opted into the
// heuristic path.
func EncodeDescriptor(topo Topology, act Activation, opts EncodeOptions) ([]byte, error) {
	for t := 1; t <= NumTracks; t++ {
		if c := topo.Counts[t]; c < 0 || c > MaxPatterns {
			return nil, fmt.Errorf("%w: track %d pattern count %d", ErrUnsupportedTopology, t, c)
		}
	}
	multi := topo.MultiTracks()

	// Family marker guard: clone-side activation on a marker track is the
	// one context the undecoded marker byte has been seen in.
	for _, t := range multi {
		if familyMarkerTracks[t] && act.ActivePattern[t] >= 2 {
			return nil, fmt.Errorf("%w: track %d multi-pattern with pattern %d active (family marker context)",
				ErrUnsupportedBranch, t, act.ActivePattern[t])
		}
	}

	for _, br := range verifiedBranches {
		if br.match(multi, topo, act) {
			return br.emit(multi, topo, act), nil
		}
	}

	if opts.AllowHeuristic {
		return heuristicDescriptor(topo), nil
	}
	return nil, fmt.Errorf("%w: multi-pattern tracks %v", ErrUnsupportedTopology, multi)
}

// heuristicDescriptor synthesizes a long-form byte sequence for a topology
// with no verified branch. Opt-in only; callers must still run the result
// through the validator.
func heuristicDescriptor(topo Topology) []byte {
	multi := topo.MultiTracks()
	out := slotBytes(topo)
	if out[0] == 0 && out[1] == 0 {
		for _, t := range multi {
			out = append(out, byte(t-3), byte(topo.Counts[t]-1))
		}
		return append(out, 0x00, 0x00)
	}
	highest := multi[len(multi)-1]
	for _, t := range multi {
		if t >= 3 {
			out = append(out, byte(topo.Counts[t]-1))
		}
	}
	if len(out) == 2 {
		out = append(out, 0x00)
	}
	return append(out, byte(descTokenBase-highest), descMarker, 0x00, 0x00)
}

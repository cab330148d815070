// Package container decodes and re-encodes the grid sequencer's binary
// project container (.prj). The format has no public specification; every
// constant and branch in this package comes from paired before/after device
// captures. Anything not yet verified is either preserved verbatim as raw
// bytes or refused outright, never guessed.
package container

import "encoding/binary"

// Container geometry and limits.
const (
	NumSlots            = 16  // physical block slots per file
	NumTracks           = 16  // logical tracks
	MaxPatterns         = 9   // patterns per track
	MaxEventsPerPattern = 120 // device hard limit; exceeding it crashes
	TicksPerStep        = 480 // sequencer ticks per 16th-note step
	StepsPerBar         = 16
	MaxBars             = 4
)

// Block type bytes. Pristine blocks carry a 2-byte 08 00 padding word
// immediately after the signature; activated blocks omit it.
const (
	TypePristine  = 0x05
	TypeActivated = 0x07
)

// Preamble role bytes with special meaning.
const (
	PreambleTag     = 0xF0 // constant fourth preamble byte
	RoleClone       = 0x00 // pattern 2+ of a multi-pattern track
	RoleMultiLeader = 0x40 // leader of a track in multi-pattern mode
	RolePropagated  = 0x7E // forced onto blocks following an activated block
)

// Fixed header offsets.
const (
	TempoOffset      = 0x10 // uint16 LE, tenths of BPM
	GrooveOffset     = 0x12 // type/amount byte
	MetronomeOffset  = 0x13 // level byte
	DescriptorOffset = 0x2C // start of the variable pre-track descriptor
)

// Handle table geometry. The table sits immediately before the first block.
const (
	HandleEntrySize = 3
	NumHandles      = 12
	HandleTableSize = HandleEntrySize * NumHandles
)

// roleBaseline holds the capture-verified baseline role byte per track
// (1-based). Tracks 1-8 are the high-value family, 9-16 the low-value
// family; the split matters for clone count folding.
var roleBaseline = [NumTracks + 1]byte{
	0,
	0x54, 0x56, 0x58, 0x5A, 0x5C, 0x5E, 0x60, 0x62,
	0x24, 0x26, 0x28, 0x2A, 0x2C, 0x2E, 0x30, 0x32,
}

// propagationExemptTrack never takes the propagation sentinel, regardless of
// context. Verified empirically; there is no derived rule behind it.
const propagationExemptTrack = 10

// highFamily reports whether a baseline role byte belongs to the high-value
// family (tracks 1-8 in every capture so far).
func highFamily(role byte) bool {
	return role >= 0x40
}

// Preamble is the 4-byte per-block header: [role][count][bar<<4][0xF0].
type Preamble struct {
	Role    byte
	Count   byte
	BarByte byte
	Tag     byte
}

// Bars returns the bar count encoded in the high nibble of the bar byte.
func (p Preamble) Bars() int {
	return int(p.BarByte >> 4)
}

// TrackBlock is one physical serialization unit of the container.
type TrackBlock struct {
	Offset   int // file offset of the signature; -1 for synthesized blocks
	Type     byte
	Preamble Preamble
	Engine   byte // engine identifier, first body byte
	Body     []byte

	// Events is the decoded event section, if one was recognized inside
	// Body. EventFamily is the section's family tag, EventStart the byte
	// offset of the section within Body and EventLen its on-disk length;
	// EventStart is -1 when no section was found. Body always remains
	// authoritative for encode.
	Events      []NoteEvent
	EventFamily byte
	EventStart  int
	EventLen    int

	// Sub holds the packed sub-blocks recovered from the final physical
	// slot when logical entries exceed the slot count. Packed marks such
	// a sub-block: the packed layout carries no per-sub type byte, so
	// Type here is inherited from the containing slot and says nothing
	// about the sub's own pristine/activated state.
	Sub    []*TrackBlock
	Packed bool
}

// Activated reports whether the block has gone through the pristine to
// activated transition.
func (b *TrackBlock) Activated() bool {
	return b.Type == TypeActivated
}

// LogicalEntry is one (track, pattern) pair of the logical model, always
// ordered track-major, pattern-minor.
type LogicalEntry struct {
	Track       int // 1-16
	Pattern     int // 1-9
	Leader      bool
	Clone       bool
	LastPattern bool
	Block       *TrackBlock
}

// NoteEvent is a single decoded note record. Gate is the length in ticks;
// GateDefault means the device default-gate sentinel was used.
type NoteEvent struct {
	Tick     int
	Note     uint8
	Velocity uint8
	Gate     int
}

// GateDefault marks an event that carries the default-gate sentinel instead
// of an explicit length.
const GateDefault = 0

// Step returns the 0-based step index the event falls on.
func (e NoteEvent) Step() int {
	return e.Tick / TicksPerStep
}

// Project is the fully decoded container. Undecoded regions (header bytes
// outside the known fields, block bodies, the handle table) are kept
// verbatim so an unmodified project re-encodes to the original bytes.
type Project struct {
	Head          []byte // bytes 0x00..DescriptorOffset-1, verbatim
	RawDescriptor []byte // descriptor region bytes, verbatim
	Handles       [NumHandles][HandleEntrySize]byte

	Descriptor *Descriptor // nil when the region is empty
	Blocks     []*TrackBlock
	Entries    []LogicalEntry

	edits *projectEdits
}

// projectEdits accumulates logical-model mutations until encode.
type projectEdits struct {
	counts    map[int]int                 // track -> pattern count override
	events    map[int]map[int][]NoteEvent // track -> pattern -> events
	family    map[int]byte                // track -> event family tag override
	tempo     *uint16
	groove    *byte
	metronome *byte
}

// Modified reports whether the logical model has been mutated since decode.
func (p *Project) Modified() bool {
	return p.edits != nil
}

func (p *Project) ensureEdits() *projectEdits {
	if p.edits == nil {
		p.edits = &projectEdits{
			counts: make(map[int]int),
			events: make(map[int]map[int][]NoteEvent),
			family: make(map[int]byte),
		}
	}
	return p.edits
}

// TempoBPM returns the header tempo in BPM, including a staged edit.
func (p *Project) TempoBPM() float64 {
	if p.edits != nil && p.edits.tempo != nil {
		return float64(*p.edits.tempo) / 10
	}
	raw := binary.LittleEndian.Uint16(p.Head[TempoOffset:])
	return float64(raw) / 10
}

// SetTempoBPM stages a tempo change in tenths-of-BPM resolution.
func (p *Project) SetTempoBPM(bpm float64) {
	raw := uint16(bpm * 10)
	p.ensureEdits().tempo = &raw
}

// Groove returns the raw groove type/amount byte.
func (p *Project) Groove() byte {
	if p.edits != nil && p.edits.groove != nil {
		return *p.edits.groove
	}
	return p.Head[GrooveOffset]
}

// SetGroove stages a new groove byte.
func (p *Project) SetGroove(g byte) {
	p.ensureEdits().groove = &g
}

// Metronome returns the metronome level byte.
func (p *Project) Metronome() byte {
	if p.edits != nil && p.edits.metronome != nil {
		return *p.edits.metronome
	}
	return p.Head[MetronomeOffset]
}

// SetMetronome stages a new metronome level byte.
func (p *Project) SetMetronome(m byte) {
	p.ensureEdits().metronome = &m
}

// PatternCount returns the number of patterns for a track, including staged
// edits.
func (p *Project) PatternCount(track int) int {
	if p.edits != nil {
		if c, ok := p.edits.counts[track]; ok {
			return c
		}
	}
	n := 0
	for _, e := range p.Entries {
		if e.Track == track {
			n++
		}
	}
	if n == 0 {
		n = 1
	}
	return n
}

// SetPatternCount stages a new pattern count for a track.
func (p *Project) SetPatternCount(track, count int) error {
	if track < 1 || track > NumTracks {
		return errRange("track", track)
	}
	if count < 1 || count > MaxPatterns {
		return errRange("pattern count", count)
	}
	p.ensureEdits().counts[track] = count
	return nil
}

// SetPatternEvents stages the note list for one (track, pattern) slot. The
// event family tag comes from the caller's preset table; the codec never
// derives it.
func (p *Project) SetPatternEvents(track, pattern int, family byte, events []NoteEvent) error {
	if track < 1 || track > NumTracks {
		return errRange("track", track)
	}
	if pattern < 1 || pattern > MaxPatterns {
		return errRange("pattern", pattern)
	}
	ed := p.ensureEdits()
	if ed.events[track] == nil {
		ed.events[track] = make(map[int][]NoteEvent)
	}
	ed.events[track][pattern] = events
	ed.family[track] = family
	return nil
}

// EntriesForTrack returns the logical entries of one track in pattern order.
func (p *Project) EntriesForTrack(track int) []LogicalEntry {
	var out []LogicalEntry
	for _, e := range p.Entries {
		if e.Track == track {
			out = append(out, e)
		}
	}
	return out
}

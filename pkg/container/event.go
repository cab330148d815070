package container

import (
	"fmt"
	"sort"
)

// Event family tags. The tag is determined by the active preset and is
// supplied by the caller from the engine/preset tables; the codec never
// derives it from track index or engine id.
const (
	FamilyDrum  = 0x25
	FamilySynth = 0x29
	FamilyBass  = 0x2D
	FamilyChord = 0x31
)

// Per-record tick flags. The escape form exists because 0x00 doubles as the
// inter-record separator: a tick whose low byte is naturally zero must not
// emit a literal 0x00 in the tick position.
const (
	tickFlagFull   = 0x00 // 2-byte little-endian tick follows
	tickFlagEscape = 0x01 // single byte holds tick>>8 (low byte is zero)
	tickFlagFirst  = 0x02 // first event, tick implicitly 0, no field
	tickFlagChord  = 0x04 // inherits the previous event's tick, no field
)

// KnownFamily reports whether a byte is a catalogued event family tag.
func KnownFamily(b byte) bool {
	switch b {
	case FamilyDrum, FamilySynth, FamilyBass, FamilyChord:
		return true
	}
	return false
}

// gateWidth returns the gate field width for a family: 4 bytes for the
// drum/bass families, 2 for synth/chord.
func gateWidth(family byte) int {
	switch family {
	case FamilyDrum, FamilyBass:
		return 4
	case FamilySynth, FamilyChord:
		return 2
	}
	return 0
}

// Default-gate sentinels: 0xF0 in the final gate byte, zero elsewhere. An
// explicit gate is a little-endian tick count followed by zero padding, so
// the two forms never collide for gates a pattern can hold.
var (
	gateSentinelWide   = []byte{0x00, 0x00, 0x00, 0xF0}
	gateSentinelNarrow = []byte{0x00, 0xF0}
)

// maxExplicitGate is the largest explicit gate a narrow field can carry
// without colliding with the sentinel byte. Patterns max out at 4 bars
// (30720 ticks), well below it.
const maxExplicitGate = 0xF000 - 1

// checkCrashSignatures rejects event lists matching catalogued device-crash
// conditions before any bytes are produced.
func checkCrashSignatures(events []NoteEvent) error {
	if len(events) > MaxEventsPerPattern {
		return fmt.Errorf("%w: %d events in one pattern (limit %d)",
			ErrCrashPattern, len(events), MaxEventsPerPattern)
	}
	for i, e := range events {
		if e.Note == e.Velocity {
			return fmt.Errorf("%w: event %d has note == velocity (%d)",
				ErrCrashPattern, i, e.Note)
		}
	}
	return nil
}

// EncodeEvents serializes an event list into one event section: the family
// tag, records separated by 0x00, and a 0x00 0x00 terminator. Events are
// sorted by tick; same-tick events become chord continuations.
func EncodeEvents(family byte, events []NoteEvent) ([]byte, error) {
	if !KnownFamily(family) {
		return nil, fmt.Errorf("%w: event family tag 0x%02X", ErrUnknownPreambleState, family)
	}
	if err := checkCrashSignatures(events); err != nil {
		return nil, err
	}

	sorted := make([]NoteEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Tick < sorted[j].Tick })

	gw := gateWidth(family)
	out := []byte{family}
	for i, e := range sorted {
		if e.Note > 127 || e.Velocity > 127 {
			return nil, fmt.Errorf("event %d: note/velocity out of MIDI range", i)
		}
		if e.Tick < 0 || e.Tick > 0xFFFF {
			return nil, fmt.Errorf("event %d: tick %d out of range", i, e.Tick)
		}
		if i > 0 {
			out = append(out, 0x00)
		}

		switch {
		case i == 0 && e.Tick == 0:
			out = append(out, tickFlagFirst, 0x00)
		case i > 0 && e.Tick == sorted[i-1].Tick:
			out = append(out, tickFlagChord, 0x00)
		case e.Tick&0xFF == 0:
			out = append(out, tickFlagEscape, 0x00, byte(e.Tick>>8))
		default:
			out = append(out, tickFlagFull, 0x00, byte(e.Tick), byte(e.Tick>>8))
		}

		g, err := encodeGate(e.Gate, gw)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		out = append(out, g...)
		out = append(out, 0x00, 0x00, 0x01, e.Note, e.Velocity)
	}
	return append(out, 0x00, 0x00), nil
}

func encodeGate(gate, width int) ([]byte, error) {
	if gate == GateDefault {
		if width == 4 {
			return gateSentinelWide, nil
		}
		return gateSentinelNarrow, nil
	}
	if gate < 0 || gate > maxExplicitGate {
		return nil, fmt.Errorf("gate %d out of range", gate)
	}
	if width == 4 {
		return []byte{byte(gate), byte(gate >> 8), 0x00, 0x00}, nil
	}
	return []byte{byte(gate), byte(gate >> 8)}, nil
}

// DecodeEvents parses one event section starting at data[0] (the family
// tag). It returns the events, the number of bytes consumed, and the family
// tag it saw. Decoding is lenient about crash signatures: files straight
// off a device cannot contain them, and the validator re-checks anyway.
func DecodeEvents(data []byte) ([]NoteEvent, int, byte, error) {
	if len(data) == 0 || !KnownFamily(data[0]) {
		return nil, 0, 0, fmt.Errorf("no event family tag at section start")
	}
	family := data[0]
	gw := gateWidth(family)
	i := 1

	var events []NoteEvent
	prevTick := 0
	for {
		ev, n, err := decodeRecord(data[i:], gw, len(events) == 0, prevTick)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("record %d at +%d: %w", len(events), i, err)
		}
		i += n
		prevTick = ev.Tick
		events = append(events, ev)

		// Record boundary: 0x00 separates records, 0x00 0x00 terminates
		// the section. The only other way a zero pair appears here is a
		// separator followed by a full-form record, which reads
		// 00 00 00 <lo> with lo nonzero (the escape form guarantees the
		// low byte); anything else is the terminator.
		if i+2 > len(data) || data[i] != 0x00 {
			return nil, 0, 0, fmt.Errorf("missing section terminator at +%d", i)
		}
		if data[i+1] == 0x00 {
			sepThenFull := i+4 <= len(data) && data[i+2] == 0x00 && data[i+3] != 0x00
			if !sepThenFull {
				return events, i + 2, family, nil
			}
		}
		i++ // separator
	}
}

func decodeRecord(b []byte, gw int, first bool, prevTick int) (NoteEvent, int, error) {
	if len(b) < 2 {
		return NoteEvent{}, 0, fmt.Errorf("truncated record header")
	}
	flag, lane := b[0], b[1]
	if lane != 0x00 {
		return NoteEvent{}, 0, fmt.Errorf("lane byte 0x%02X", lane)
	}
	i := 2

	var tick int
	switch flag {
	case tickFlagFirst:
		if !first {
			return NoteEvent{}, 0, fmt.Errorf("first-event flag on a later record")
		}
		tick = 0
	case tickFlagChord:
		if first {
			return NoteEvent{}, 0, fmt.Errorf("chord continuation with no previous event")
		}
		tick = prevTick
	case tickFlagEscape:
		if i >= len(b) {
			return NoteEvent{}, 0, fmt.Errorf("truncated escape tick")
		}
		tick = int(b[i]) << 8
		i++
	case tickFlagFull:
		if i+1 >= len(b) {
			return NoteEvent{}, 0, fmt.Errorf("truncated tick field")
		}
		tick = int(b[i]) | int(b[i+1])<<8
		i += 2
	default:
		return NoteEvent{}, 0, fmt.Errorf("tick flag 0x%02X", flag)
	}

	if i+gw > len(b) {
		return NoteEvent{}, 0, fmt.Errorf("truncated gate field")
	}
	gate, err := decodeGate(b[i:i+gw], gw)
	if err != nil {
		return NoteEvent{}, 0, err
	}
	i += gw

	if i+4 >= len(b) {
		return NoteEvent{}, 0, fmt.Errorf("truncated note payload")
	}
	if b[i] != 0x00 || b[i+1] != 0x00 {
		return NoteEvent{}, 0, fmt.Errorf("nonzero pad before note marker")
	}
	if b[i+2] != 0x01 {
		return NoteEvent{}, 0, fmt.Errorf("note marker 0x%02X", b[i+2])
	}
	note, vel := b[i+3], b[i+4]
	i += 5

	return NoteEvent{Tick: tick, Note: note, Velocity: vel, Gate: gate}, i, nil
}

func decodeGate(b []byte, width int) (int, error) {
	if width == 4 {
		if b[0] == 0x00 && b[1] == 0x00 && b[2] == 0x00 && b[3] == 0xF0 {
			return GateDefault, nil
		}
		if b[2] != 0x00 || b[3] != 0x00 {
			return 0, fmt.Errorf("gate padding bytes %02X %02X", b[2], b[3])
		}
		return int(b[0]) | int(b[1])<<8, nil
	}
	if b[0] == 0x00 && b[1] == 0xF0 {
		return GateDefault, nil
	}
	return int(b[0]) | int(b[1])<<8, nil
}

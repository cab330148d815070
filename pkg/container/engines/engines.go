// Package engines holds the capture-verified engine and preset tables: which
// event family tag a preset selects and where an engine's blocks take their
// event section. The container codec accepts these values as inputs and
// never derives them itself.
package engines

// Family tags, mirrored from the container event grammar.
const (
	FamilyDrum  = 0x25
	FamilySynth = 0x29
	FamilyBass  = 0x2D
	FamilyChord = 0x31
)

// InsertAppend marks engines whose event section is appended to the block
// body rather than inserted at a fixed offset.
const InsertAppend = -1

// Engine describes one engine id as observed in block bodies.
type Engine struct {
	ID     byte
	Name   string
	Family byte // default family; the active preset can override it
	Insert int  // event section offset within the body, or InsertAppend
}

var table = map[byte]Engine{
	0x01: {ID: 0x01, Name: "drum", Family: FamilyDrum, Insert: InsertAppend},
	0x02: {ID: 0x02, Name: "synth", Family: FamilySynth, Insert: InsertAppend},
	0x03: {ID: 0x03, Name: "bass", Family: FamilyBass, Insert: InsertAppend},
	0x04: {ID: 0x04, Name: "chord", Family: FamilyChord, Insert: InsertAppend},
	0x06: {ID: 0x06, Name: "sampler", Family: FamilyDrum, Insert: 0x18},
}

// Lookup returns the engine for an id byte.
func Lookup(id byte) (Engine, bool) {
	e, ok := table[id]
	return e, ok
}

// presetFamily lists presets whose family tag differs from the engine
// default. Keyed by engine id then preset number; grown capture by capture.
var presetFamily = map[byte]map[byte]byte{
	0x02: {0x12: FamilyChord, 0x13: FamilyChord},
	0x06: {0x04: FamilyBass},
}

// PresetFamily returns the event family tag the given engine/preset pair
// selects. The bool is false when the engine id itself is unknown.
func PresetFamily(engine, preset byte) (byte, bool) {
	e, ok := table[engine]
	if !ok {
		return 0, false
	}
	if m := presetFamily[engine]; m != nil {
		if f, ok := m[preset]; ok {
			return f, true
		}
	}
	return e.Family, true
}

// InsertOffset returns where an engine's event section lives in the body.
// Unknown engines append, the safe default for round-tripping.
func InsertOffset(engine byte) int {
	if e, ok := table[engine]; ok {
		return e.Insert
	}
	return InsertAppend
}

// Names returns the known engine names keyed by id, for inspection tooling.
func Names() map[byte]string {
	out := make(map[byte]string, len(table))
	for id, e := range table {
		out[id] = e.Name
	}
	return out
}

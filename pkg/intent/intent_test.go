package intent

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/halfstack-audio/gridproj/pkg/container"
)

func trackRole(track int) byte {
	if track <= 8 {
		return byte(0x54 + 2*(track-1))
	}
	return byte(0x24 + 2*(track-9))
}

func fixtureProject(t *testing.T) *container.Project {
	t.Helper()
	head := make([]byte, container.DescriptorOffset)
	binary.LittleEndian.PutUint16(head[container.TempoOffset:], 1200)

	out := head
	for i := 0; i < container.NumHandles; i++ {
		out = append(out, 0xFF, 0x00, 0x00)
	}
	for tr := 1; tr <= container.NumTracks; tr++ {
		out = append(out, 0x00, 0x00, 0x01, container.TypePristine, 0xFF, 0x00, 0xFC, 0x00)
		out = append(out, 0x08, 0x00)
		out = append(out, trackRole(tr), 0x01, 0x10, container.PreambleTag)
		out = append(out, byte(tr%4)+1, 0x11, 0x22, 0x33)
	}
	p, err := container.Decode(out)
	if err != nil {
		t.Fatalf("Decode(fixture) error = %v", err)
	}
	return p
}

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(`{
		"tempo": 135.5,
		"tracks": [
			{"track": 3, "patterns": 2, "family": "drum",
			 "edits": [{"pattern": 2, "notes": [{"step": 8, "note": 60, "velocity": 100}]}]}
		]
	}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.Tempo == nil || *doc.Tempo != 135.5 {
		t.Errorf("tempo = %v", doc.Tempo)
	}
	if len(doc.Tracks) != 1 || doc.Tracks[0].Patterns != 2 {
		t.Errorf("tracks = %+v", doc.Tracks)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"malformed json", `{`, "failed to parse"},
		{"tempo too low", `{"tempo": 10}`, "tempo"},
		{"track out of range", `{"tracks": [{"track": 17}]}`, "track 17"},
		{"track listed twice", `{"tracks": [{"track": 3}, {"track": 3}]}`, "listed twice"},
		{"too many patterns", `{"tracks": [{"track": 3, "patterns": 10}]}`, "pattern count"},
		{"unknown family", `{"tracks": [{"track": 3, "family": "strings"}]}`, "unknown family"},
		{
			"pattern past declared count",
			`{"tracks": [{"track": 3, "patterns": 2, "edits": [{"pattern": 3, "notes": []}]}]}`,
			"pattern 3",
		},
		{
			"note equals velocity",
			`{"tracks": [{"track": 1, "edits": [{"pattern": 1, "notes": [{"step": 0, "note": 100, "velocity": 100}]}]}]}`,
			"crash condition",
		},
		{
			"note past range",
			`{"tracks": [{"track": 1, "edits": [{"pattern": 1, "notes": [{"step": 0, "note": 128, "velocity": 100}]}]}]}`,
			"0-127",
		},
		{
			"position past four bars",
			`{"tracks": [{"track": 1, "edits": [{"pattern": 1, "notes": [{"step": 64, "note": 60, "velocity": 100}]}]}]}`,
			"4-bar limit",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.in))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestValidateNoteLimit(t *testing.T) {
	notes := make([]Note, container.MaxEventsPerPattern+1)
	for i := range notes {
		notes[i] = Note{Step: i % 64, Note: 60, Velocity: 100}
	}
	d := &Document{Tracks: []TrackEdit{{
		Track: 1,
		Edits: []PatternEdit{{Pattern: 1, Notes: notes}},
	}}}
	if err := d.Validate(); err == nil || !strings.Contains(err.Error(), "event limit") {
		t.Errorf("Validate() error = %v, want event limit", err)
	}
}

func TestApply(t *testing.T) {
	p := fixtureProject(t)
	tempo := 140.0
	groove := 0x30
	doc := &Document{
		Tempo:  &tempo,
		Groove: &groove,
		Tracks: []TrackEdit{{
			Track:    3,
			Patterns: 2,
			Family:   "drum",
			Edits: []PatternEdit{{
				Pattern: 2,
				Notes:   []Note{{Step: 8, Note: 60, Velocity: 100}},
			}},
		}},
	}
	if err := doc.Apply(p); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	data, err := container.Encode(p)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	p2, err := container.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if got := p2.TempoBPM(); got != 140.0 {
		t.Errorf("tempo = %v, want 140", got)
	}
	if p2.Groove() != 0x30 {
		t.Errorf("groove = 0x%02X, want 0x30", p2.Groove())
	}
	t3 := p2.EntriesForTrack(3)
	if len(t3) != 2 {
		t.Fatalf("track 3 entries = %d, want 2", len(t3))
	}
	ev := t3[1].Block.Events
	if len(ev) != 1 || ev[0].Tick != 8*container.TicksPerStep || ev[0].Note != 60 {
		t.Errorf("pattern 2 events = %+v", ev)
	}
}

func TestApplyFamilyFromEngine(t *testing.T) {
	p := fixtureProject(t)
	// Track 3's fixture block carries the chord engine; no explicit family.
	doc := &Document{Tracks: []TrackEdit{{
		Track: 3,
		Edits: []PatternEdit{{
			Pattern: 1,
			Notes:   []Note{{Step: 0, Note: 60, Velocity: 100}},
		}},
	}}}
	if err := doc.Apply(p); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	data, err := container.Encode(p)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	p2, err := container.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	b := p2.EntriesForTrack(3)[0].Block
	if b.EventFamily != container.FamilyChord {
		t.Errorf("family = 0x%02X, want chord 0x%02X", b.EventFamily, container.FamilyChord)
	}
}

func TestApplyTickOverride(t *testing.T) {
	p := fixtureProject(t)
	tick := 483
	doc := &Document{Tracks: []TrackEdit{{
		Track:  1,
		Family: "synth",
		Edits: []PatternEdit{{
			Pattern: 1,
			Notes:   []Note{{Step: 0, Tick: &tick, Note: 64, Velocity: 90, Gate: 960}},
		}},
	}}}
	if err := doc.Apply(p); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	data, err := container.Encode(p)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := container.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	ev := p2.EntriesForTrack(1)[0].Block.Events
	if len(ev) != 1 || ev[0].Tick != 483 || ev[0].Gate != 960 {
		t.Errorf("events = %+v", ev)
	}
}

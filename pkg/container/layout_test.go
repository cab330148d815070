package container

import (
	"bytes"
	"testing"
)

func leaderBlock(track, count int) *TrackBlock {
	role := roleBaseline[track]
	if count > 1 {
		role = RoleMultiLeader
	}
	return &TrackBlock{
		Type:     TypePristine,
		Preamble: Preamble{Role: role, Count: byte(count), BarByte: 0x10, Tag: PreambleTag},
		Body:     []byte{0x01, 0xAA},
	}
}

func cloneBlock(track int) *TrackBlock {
	return &TrackBlock{
		Type:     TypePristine,
		Preamble: Preamble{Role: RoleClone, Count: nextBaseline(track), BarByte: 0x10, Tag: PreambleTag},
		Body:     []byte{0x01, 0xAA},
	}
}

func TestBuildEntriesAllSingle(t *testing.T) {
	var blocks []*TrackBlock
	for tr := 1; tr <= NumTracks; tr++ {
		blocks = append(blocks, leaderBlock(tr, 1))
	}
	entries, err := BuildEntries(blocks)
	if err != nil {
		t.Fatalf("BuildEntries() error = %v", err)
	}
	if len(entries) != NumTracks {
		t.Fatalf("got %d entries, want %d", len(entries), NumTracks)
	}
	for i, e := range entries {
		if e.Track != i+1 || e.Pattern != 1 || !e.Leader || !e.LastPattern {
			t.Errorf("entry %d = %+v", i, e)
		}
	}
}

func TestBuildEntriesWithClones(t *testing.T) {
	var blocks []*TrackBlock
	for tr := 1; tr <= NumTracks; tr++ {
		if tr == 3 {
			blocks = append(blocks, leaderBlock(3, 3), cloneBlock(3), cloneBlock(3))
			continue
		}
		blocks = append(blocks, leaderBlock(tr, 1))
	}
	entries, err := BuildEntries(blocks)
	if err != nil {
		t.Fatalf("BuildEntries() error = %v", err)
	}
	if len(entries) != NumTracks+2 {
		t.Fatalf("got %d entries, want %d", len(entries), NumTracks+2)
	}
	e3 := entries[2:5]
	for i, e := range e3 {
		if e.Track != 3 || e.Pattern != i+1 {
			t.Errorf("track 3 entry %d = %+v", i, e)
		}
	}
	if !e3[0].Leader || e3[1].Leader || !e3[2].Clone || !e3[2].LastPattern || e3[1].LastPattern {
		t.Errorf("track 3 flags wrong: %+v", e3)
	}
}

func TestBuildEntriesWalksPackedSubBlocks(t *testing.T) {
	var blocks []*TrackBlock
	for tr := 1; tr <= 14; tr++ {
		blocks = append(blocks, leaderBlock(tr, 1))
	}
	final := leaderBlock(15, 2)
	final.Sub = []*TrackBlock{cloneBlock(15), leaderBlock(16, 1)}
	blocks = append(blocks, final)
	entries, err := BuildEntries(blocks)
	if err != nil {
		t.Fatalf("BuildEntries() error = %v", err)
	}
	if len(entries) != NumTracks+1 {
		t.Fatalf("got %d entries, want %d", len(entries), NumTracks+1)
	}
	last := entries[len(entries)-1]
	if last.Track != NumTracks || !last.Leader {
		t.Errorf("final entry = %+v, want track %d leader", last, NumTracks)
	}
}

func TestBuildEntriesErrors(t *testing.T) {
	sixteen := func() []*TrackBlock {
		var blocks []*TrackBlock
		for tr := 1; tr <= NumTracks; tr++ {
			blocks = append(blocks, leaderBlock(tr, 1))
		}
		return blocks
	}
	tests := []struct {
		name   string
		blocks []*TrackBlock
	}{
		{"clone before any leader", append([]*TrackBlock{cloneBlock(1)}, sixteen()...)},
		{"leader while clones expected", func() []*TrackBlock {
			b := sixteen()
			b[2] = leaderBlock(3, 2) // declares a clone that never comes
			return b
		}()},
		{"clone beyond declared count", func() []*TrackBlock {
			b := sixteen()
			return append(b[:3:3], append([]*TrackBlock{cloneBlock(3)}, b[3:]...)...)
		}()},
		{"seventeen leaders", append(sixteen(), leaderBlock(16, 1))},
		{"fifteen leaders", sixteen()[:NumTracks-1]},
		{"zero count byte", func() []*TrackBlock {
			b := sixteen()
			b[4].Preamble.Count = 0
			return b
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BuildEntries(tt.blocks); !isKind(err, ErrUnknownPreambleState) {
				t.Errorf("BuildEntries() error = %v, want ErrUnknownPreambleState", err)
			}
		})
	}
}

func TestUnpackFinalSlot(t *testing.T) {
	own := []byte{0x01, 0xAA, 0xBB}
	embedded := []byte{RoleClone, nextBaseline(15), 0x10, PreambleTag}
	subBody := []byte{0x02, 0xCC, 0xDD}
	b := &TrackBlock{
		Type: TypePristine,
		Body: append(append(append([]byte{}, own...), embedded...), subBody...),
	}
	unpackFinalSlot(b)
	if !bytes.Equal(b.Body, own) {
		t.Errorf("body after unpack = % X, want % X", b.Body, own)
	}
	if len(b.Sub) != 1 {
		t.Fatalf("got %d sub-blocks, want 1", len(b.Sub))
	}
	sub := b.Sub[0]
	if sub.Preamble.Role != RoleClone || sub.Preamble.Tag != PreambleTag {
		t.Errorf("sub preamble = %+v", sub.Preamble)
	}
	if !bytes.Equal(sub.Body, subBody) || sub.Engine != 0x02 {
		t.Errorf("sub body = % X engine 0x%02X", sub.Body, sub.Engine)
	}
}

func TestUnpackFinalSlotNoEmbedded(t *testing.T) {
	body := []byte{0x01, 0xAA, 0xBB, 0xCC}
	b := &TrackBlock{Type: TypePristine, Body: append([]byte{}, body...)}
	unpackFinalSlot(b)
	if !bytes.Equal(b.Body, body) || len(b.Sub) != 0 {
		t.Errorf("unpack changed a plain body: % X, %d subs", b.Body, len(b.Sub))
	}
}

func TestBuildPatternUnit(t *testing.T) {
	donor := []byte{0x01, 0xAA, 0xBB, 0xCC}
	tp := trackPlan{
		Track:     3,
		Count:     2,
		Donor:     donor,
		DonorType: TypePristine,
		DonorBars: 1,
		Engine:    0x01,
		Family:    FamilyDrum,
		Events:    map[int][]NoteEvent{2: {{Tick: 0, Note: 60, Velocity: 100, Gate: GateDefault}}},
	}

	t.Run("leader without notes trims only", func(t *testing.T) {
		u, err := buildPatternUnit(tp, 1)
		if err != nil {
			t.Fatal(err)
		}
		if u.Activated() {
			t.Error("pristine leader came out activated")
		}
		if u.Preamble.Role != RoleMultiLeader || u.Preamble.Count != 2 {
			t.Errorf("leader preamble = %+v", u.Preamble)
		}
		if !bytes.Equal(u.Body, donor[:len(donor)-1]) {
			t.Errorf("body = % X, want donor minus final byte", u.Body)
		}
	})

	t.Run("clone with notes activates after insert", func(t *testing.T) {
		u, err := buildPatternUnit(tp, 2)
		if err != nil {
			t.Fatal(err)
		}
		if !u.Activated() {
			t.Error("clone with notes stayed pristine")
		}
		if u.Preamble.Role != RoleClone || u.Preamble.Count != nextBaseline(3) {
			t.Errorf("clone preamble = %+v", u.Preamble)
		}
		if u.EventStart != len(donor) {
			t.Errorf("EventStart = %d, want appended at %d", u.EventStart, len(donor))
		}
		if !bytes.Equal(u.Body[:len(donor)], donor) {
			t.Errorf("donor prefix disturbed: % X", u.Body[:len(donor)])
		}
		section, _ := EncodeEvents(FamilyDrum, tp.Events[2])
		if !bytes.Equal(u.Body[len(donor):], section) {
			t.Errorf("appended section = % X, want % X", u.Body[len(donor):], section)
		}
	})

	t.Run("leader with notes activates", func(t *testing.T) {
		solo := tp
		solo.Count = 1
		solo.Events = map[int][]NoteEvent{1: {{Tick: 0, Note: 60, Velocity: 100, Gate: GateDefault}}}
		u, err := buildPatternUnit(solo, 1)
		if err != nil {
			t.Fatal(err)
		}
		if !u.Activated() {
			t.Error("leader with notes stayed pristine")
		}
		if u.Preamble.Role != roleBaseline[3] {
			t.Errorf("single-pattern leader role = 0x%02X", u.Preamble.Role)
		}
	})
}

// A fixed-offset engine inserts its section ahead of the donor's trailing
// byte, so the trim position shifts right by the section length.
func TestBuildPatternUnitInsertBeforeTrim(t *testing.T) {
	donor := make([]byte, 0x20)
	donor[0] = 0x06
	for i := 1; i < len(donor); i++ {
		donor[i] = byte(i)
	}
	tp := trackPlan{
		Track:     5,
		Count:     2,
		Donor:     donor,
		DonorType: TypePristine,
		DonorBars: 1,
		Engine:    0x06,
		Family:    FamilySynth,
		Events:    map[int][]NoteEvent{1: {{Tick: 0, Note: 60, Velocity: 100, Gate: GateDefault}}},
	}
	u, err := buildPatternUnit(tp, 1)
	if err != nil {
		t.Fatal(err)
	}
	section, _ := EncodeEvents(FamilySynth, tp.Events[1])
	if u.EventStart != 0x18 {
		t.Errorf("EventStart = %d, want 0x18", u.EventStart)
	}
	wantLen := len(donor) + len(section) - 1
	if len(u.Body) != wantLen {
		t.Fatalf("body length = %d, want %d", len(u.Body), wantLen)
	}
	// The donor's final byte is gone; the byte before it survives at the end.
	if u.Body[len(u.Body)-1] != donor[len(donor)-2] {
		t.Errorf("trailing byte = 0x%02X, want 0x%02X", u.Body[len(u.Body)-1], donor[len(donor)-2])
	}
	if !bytes.Equal(u.Body[0x18:0x18+len(section)], section) {
		t.Errorf("section not at insert offset")
	}
}

func TestBuildUnitsPropagation(t *testing.T) {
	plans := make([]trackPlan, NumTracks)
	for i := range plans {
		tr := i + 1
		plans[i] = trackPlan{
			Track:     tr,
			Count:     1,
			Donor:     []byte{0x01, 0xAA},
			DonorType: TypePristine,
			DonorBars: 1,
			Engine:    0x01,
			Family:    FamilyDrum,
		}
	}
	plans[2].Count = 2
	plans[2].Events = map[int][]NoteEvent{2: {{Tick: 0, Note: 60, Velocity: 100, Gate: GateDefault}}}

	units, entries, err := buildUnits(plans)
	if err != nil {
		t.Fatalf("buildUnits() error = %v", err)
	}
	if len(units) != NumTracks+1 || len(entries) != NumTracks+1 {
		t.Fatalf("got %d units, want %d", len(units), NumTracks+1)
	}
	// Track 3's clone (unit index 3) is activated; the track 4 leader
	// behind it takes the propagation sentinel.
	if !units[3].Activated() {
		t.Error("track 3 clone not activated")
	}
	if units[4].Preamble.Role != RolePropagated {
		t.Errorf("track 4 role = 0x%02X, want 0x%02X", units[4].Preamble.Role, RolePropagated)
	}
	if units[2].Preamble.Role != RoleMultiLeader {
		t.Errorf("track 3 leader role = 0x%02X", units[2].Preamble.Role)
	}
}

func TestPackPhysical(t *testing.T) {
	mk := func(n int) []*TrackBlock {
		units := make([]*TrackBlock, n)
		for i := range units {
			units[i] = leaderBlock(1, 1)
		}
		return units
	}

	t.Run("sixteen pass through", func(t *testing.T) {
		units := mk(NumSlots)
		phys, err := packPhysical(units)
		if err != nil {
			t.Fatal(err)
		}
		if len(phys) != NumSlots || phys[0] != units[0] || len(phys[NumSlots-1].Sub) != 0 {
			t.Errorf("pass-through disturbed the sequence")
		}
	})

	t.Run("overflow packs into final slot", func(t *testing.T) {
		units := mk(NumSlots + 2)
		phys, err := packPhysical(units)
		if err != nil {
			t.Fatal(err)
		}
		if len(phys) != NumSlots {
			t.Fatalf("got %d physical blocks", len(phys))
		}
		last := phys[NumSlots-1]
		if len(last.Sub) != 2 || last.Sub[0] != units[NumSlots] || last.Sub[1] != units[NumSlots+1] {
			t.Errorf("final slot subs = %d", len(last.Sub))
		}
	})

	t.Run("too few units", func(t *testing.T) {
		if _, err := packPhysical(mk(NumSlots - 1)); err == nil {
			t.Error("short sequence accepted")
		}
	})
}

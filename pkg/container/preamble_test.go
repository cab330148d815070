package container

import "testing"

func TestDecodePreamble(t *testing.T) {
	pre, err := decodePreamble([]byte{0x54, 0x01, 0x20, 0xF0}, 0, 0)
	if err != nil {
		t.Fatalf("decodePreamble() error = %v", err)
	}
	if pre.Role != 0x54 || pre.Count != 1 || pre.Bars() != 2 {
		t.Errorf("preamble = %+v, want role 0x54 count 1 bars 2", pre)
	}
}

func TestDecodePreambleErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		kind error
	}{
		{"bad tag", []byte{0x54, 0x01, 0x10, 0xF1}, ErrUnknownPreambleState},
		{"unknown role", []byte{0x99, 0x01, 0x10, 0xF0}, ErrUnknownRoleFamily},
		{"zero bars", []byte{0x54, 0x01, 0x00, 0xF0}, ErrUnknownPreambleState},
		{"five bars", []byte{0x54, 0x01, 0x50, 0xF0}, ErrUnknownPreambleState},
		{"truncated", []byte{0x54, 0x01}, ErrUnknownPreambleState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodePreamble(tt.in, 0x40, 2)
			if !isKind(err, tt.kind) {
				t.Errorf("decodePreamble(% X) error = %v, want %v", tt.in, err, tt.kind)
			}
		})
	}
}

func TestBarByteFormula(t *testing.T) {
	// 0x10/0x20/0x30/0x40 map to 1/2/3/4 bars.
	for bars := 1; bars <= MaxBars; bars++ {
		p := Preamble{BarByte: byte(bars << 4)}
		if p.Bars() != bars {
			t.Errorf("BarByte 0x%02X: Bars() = %d, want %d", p.BarByte, p.Bars(), bars)
		}
	}
}

func TestBarsForEvents(t *testing.T) {
	tests := []struct {
		name   string
		events []NoteEvent
		want   int
	}{
		{"empty keeps one bar", nil, 1},
		{"step 0", []NoteEvent{{Tick: 0}}, 1},
		{"step 15", []NoteEvent{{Tick: 15 * TicksPerStep}}, 1},
		{"step 16 rolls to bar 2", []NoteEvent{{Tick: 16 * TicksPerStep}}, 2},
		{"step 47", []NoteEvent{{Tick: 47 * TicksPerStep}}, 3},
		{"step 63", []NoteEvent{{Tick: 63 * TicksPerStep}}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := barsForEvents(tt.events); got != tt.want {
				t.Errorf("barsForEvents() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLeaderPreamble(t *testing.T) {
	single := leaderPreamble(4, 1, 1)
	if single.Role != roleBaseline[4] || single.Count != 1 {
		t.Errorf("single-pattern leader = %+v, want baseline role", single)
	}

	multi := leaderPreamble(4, 3, 1)
	if multi.Role != RoleMultiLeader {
		t.Errorf("multi-pattern leader role = 0x%02X, want 0x%02X", multi.Role, RoleMultiLeader)
	}
	if multi.Count != 3 {
		t.Errorf("multi-pattern leader count = %d, want 3", multi.Count)
	}
}

func TestClonePreambleBorrowsNextBaseline(t *testing.T) {
	c := clonePreamble(3, 1)
	if c.Role != RoleClone {
		t.Errorf("clone role = 0x%02X, want 0x00", c.Role)
	}
	if c.Count != roleBaseline[4] {
		t.Errorf("clone count = 0x%02X, want next track's baseline 0x%02X", c.Count, roleBaseline[4])
	}
	if c := clonePreamble(16, 1); c.Count != 0 {
		t.Errorf("track 16 clone count = 0x%02X, want 0 (no successor)", c.Count)
	}
}

func TestApplyPropagation(t *testing.T) {
	mk := func(track int, clone, activated bool) (preambleUnit, *Preamble) {
		p := &Preamble{Role: roleBaseline[track], Count: 1, BarByte: 0x10, Tag: PreambleTag}
		if clone {
			p.Role = RoleClone
			p.Count = nextBaseline(track)
		}
		return preambleUnit{Track: track, Clone: clone, Activated: activated, Preamble: p}, p
	}

	t.Run("leader after activated takes sentinel", func(t *testing.T) {
		u1, _ := mk(3, false, true)
		u2, p2 := mk(4, false, false)
		applyPropagation([]preambleUnit{u1, u2})
		if p2.Role != RolePropagated {
			t.Errorf("role = 0x%02X, want 0x%02X", p2.Role, RolePropagated)
		}
	})

	t.Run("exempt track keeps baseline", func(t *testing.T) {
		u1, _ := mk(9, false, true)
		u2, p2 := mk(propagationExemptTrack, false, false)
		applyPropagation([]preambleUnit{u1, u2})
		if p2.Role != roleBaseline[propagationExemptTrack] {
			t.Errorf("role = 0x%02X, want baseline", p2.Role)
		}
	})

	t.Run("high-family clone count folds", func(t *testing.T) {
		u1, _ := mk(3, false, true)
		u2, p2 := mk(3, true, false) // borrows track 4's high-family baseline
		applyPropagation([]preambleUnit{u1, u2})
		if p2.Count != RolePropagated {
			t.Errorf("count = 0x%02X, want folded sentinel 0x%02X", p2.Count, RolePropagated)
		}
	})

	t.Run("low-family clone count is exempt", func(t *testing.T) {
		u1, _ := mk(11, false, true)
		u2, p2 := mk(11, true, false) // borrows track 12's low-family baseline
		applyPropagation([]preambleUnit{u1, u2})
		if p2.Count != nextBaseline(11) {
			t.Errorf("count = 0x%02X, want untouched baseline 0x%02X", p2.Count, nextBaseline(11))
		}
	})

	t.Run("nothing propagates from pristine", func(t *testing.T) {
		u1, _ := mk(3, false, false)
		u2, p2 := mk(4, false, false)
		applyPropagation([]preambleUnit{u1, u2})
		if p2.Role != roleBaseline[4] {
			t.Errorf("role = 0x%02X, want baseline", p2.Role)
		}
	})
}

package container

import (
	"fmt"

	"github.com/halfstack-audio/gridproj/pkg/container/engines"
)

// BuildEntries converts the physical block sequence into the logical
// (track, pattern) model. A block is a clone iff its role byte is 0x00;
// consecutive clones belong to the same track as the nearest preceding
// leader. Packed sub-blocks of the final slot are walked in place.
func BuildEntries(blocks []*TrackBlock) ([]LogicalEntry, error) {
	flat := make([]*TrackBlock, 0, len(blocks))
	for _, b := range blocks {
		flat = append(flat, b)
		flat = append(flat, b.Sub...)
	}

	var entries []LogicalEntry
	track := 0
	remaining := 0 // clones still expected for the current track
	for i, b := range flat {
		if b.Preamble.Role != RoleClone {
			if remaining != 0 {
				return nil, decodeErrf(b.Offset, i, ErrUnknownPreambleState,
					"leader while track %d still expects %d clones", track, remaining)
			}
			track++
			if track > NumTracks {
				return nil, decodeErrf(b.Offset, i, ErrUnknownPreambleState,
					"more than %d leaders", NumTracks)
			}
			count := int(b.Preamble.Count)
			if count < 1 || count > MaxPatterns {
				return nil, decodeErrf(b.Offset, i, ErrUnknownPreambleState,
					"leader count byte %d", count)
			}
			remaining = count - 1
			entries = append(entries, LogicalEntry{
				Track:       track,
				Pattern:     1,
				Leader:      true,
				LastPattern: remaining == 0,
				Block:       b,
			})
			continue
		}
		if track == 0 {
			return nil, decodeErrf(b.Offset, i, ErrUnknownPreambleState,
				"clone block before any leader")
		}
		if remaining == 0 {
			return nil, decodeErrf(b.Offset, i, ErrUnknownPreambleState,
				"clone beyond track %d's declared count", track)
		}
		remaining--
		prev := &entries[len(entries)-1]
		entries = append(entries, LogicalEntry{
			Track:       track,
			Pattern:     prev.Pattern + 1,
			Clone:       true,
			LastPattern: remaining == 0,
			Block:       b,
		})
	}
	if remaining != 0 {
		return nil, decodeErrf(0, len(flat)-1, ErrUnknownPreambleState,
			"track %d missing %d clone blocks", track, remaining)
	}
	if track != NumTracks {
		return nil, decodeErrf(0, len(flat)-1, ErrUnknownPreambleState,
			"%d leaders, want %d", track, NumTracks)
	}
	return entries, nil
}

// unpackFinalSlot re-derives the embedded preamble boundaries inside the
// final physical slot. The packed layout is [body][preamble][body]... with
// no signatures, so boundaries come from the preamble grammar itself.
func unpackFinalSlot(b *TrackBlock) {
	body := b.Body
	cut := -1
	for i := 1; i+PreambleSize <= len(body); i++ {
		if !looksLikePreamble(body[i:]) {
			continue
		}
		if cut < 0 {
			cut = i
		}
		sub := &TrackBlock{
			Offset:     -1,
			Type:       b.Type,
			EventStart: -1,
			Packed:     true,
		}
		sub.Preamble = Preamble{
			Role:    body[i],
			Count:   body[i+1],
			BarByte: body[i+2],
			Tag:     body[i+3],
		}
		start := i + PreambleSize
		end := len(body)
		for j := start + 1; j+PreambleSize <= len(body); j++ {
			if looksLikePreamble(body[j:]) {
				end = j
				break
			}
		}
		sub.Body = body[start:end]
		if len(sub.Body) > 0 {
			sub.Engine = sub.Body[0]
		}
		b.Sub = append(b.Sub, sub)
		i = end - 1
	}
	if cut >= 0 {
		b.Body = body[:cut]
	}
}

// trackPlan is the per-track input to the encode-side layout pass.
type trackPlan struct {
	Track     int
	Count     int
	Donor     []byte // the track's full last-pattern body
	DonorType byte
	DonorBars int
	Engine    byte
	Family    byte
	Events    map[int][]NoteEvent // pattern -> events
}

// buildUnits flattens the logical model into one TrackBlock per (track,
// pattern) entry, track-major, with preambles computed and adjacency
// propagation applied across the whole sequence.
func buildUnits(plans []trackPlan) ([]*TrackBlock, []LogicalEntry, error) {
	if len(plans) != NumTracks {
		return nil, nil, fmt.Errorf("layout needs %d track plans, got %d", NumTracks, len(plans))
	}

	var units []*TrackBlock
	var entries []LogicalEntry
	for _, tp := range plans {
		for p := 1; p <= tp.Count; p++ {
			u, err := buildPatternUnit(tp, p)
			if err != nil {
				return nil, nil, fmt.Errorf("track %d pattern %d: %w", tp.Track, p, err)
			}
			units = append(units, u)
			entries = append(entries, LogicalEntry{
				Track:       tp.Track,
				Pattern:     p,
				Leader:      p == 1,
				Clone:       p > 1,
				LastPattern: p == tp.Count,
				Block:       u,
			})
		}
	}

	pus := make([]preambleUnit, len(units))
	for i, u := range units {
		pus[i] = preambleUnit{
			Track:     entries[i].Track,
			Clone:     entries[i].Clone,
			Activated: u.Activated(),
			Preamble:  &u.Preamble,
		}
	}
	applyPropagation(pus)
	return units, entries, nil
}

// buildPatternUnit produces one pattern's block from the track's full-body
// donor. The ordering here is device-critical and must not be rearranged:
// leaders carrying notes activate before anything else, insertion always
// precedes the trailing-byte trim, and clones activate only after all
// insertion is done.
func buildPatternUnit(tp trackPlan, pattern int) (*TrackBlock, error) {
	events := tp.Events[pattern]
	last := pattern == tp.Count

	u := &TrackBlock{
		Offset:     -1,
		Type:       tp.DonorType,
		Engine:     tp.Engine,
		EventStart: -1,
	}

	bars := tp.DonorBars
	if len(events) > 0 {
		bars = barsForEvents(events)
	}
	if pattern == 1 {
		u.Preamble = leaderPreamble(tp.Track, tp.Count, bars)
	} else {
		u.Preamble = clonePreamble(tp.Track, bars)
	}

	body := make([]byte, len(tp.Donor))
	copy(body, tp.Donor)
	donorLen := len(body)

	if pattern == 1 && len(events) > 0 {
		u.Activate()
	}

	if len(events) > 0 {
		section, err := EncodeEvents(tp.Family, events)
		if err != nil {
			return nil, err
		}
		pos := engines.InsertOffset(tp.Engine)
		if pos == engines.InsertAppend || pos > len(body) {
			pos = len(body)
		}
		body = append(body[:pos:pos], append(section, body[pos:]...)...)
		u.Events = events
		u.EventFamily = tp.Family
		u.EventStart = pos
		u.EventLen = len(section)

		if pattern > 1 {
			u.Activate()
		}
	}

	if !last {
		// The trim always removes the donor's own final byte; an event
		// section inserted ahead of it shifts that byte right.
		trimPos := donorLen - 1
		if u.EventStart >= 0 && u.EventStart <= trimPos {
			trimPos += len(body) - donorLen
		}
		if trimPos < 0 || trimPos >= len(body) {
			return nil, fmt.Errorf("donor too short to trim (%d bytes)", donorLen)
		}
		body = append(body[:trimPos:trimPos], body[trimPos+1:]...)
		if u.EventStart > trimPos {
			u.EventStart--
		}
	}

	u.Body = body
	return u, nil
}

// Activate performs the pristine-to-activated transition. The padding word
// is derived from the type byte in exactly one place (block assembly), so
// the type flip and the padding removal cannot diverge. The transition is
// monotonic; there is no reverse operation.
func (b *TrackBlock) Activate() {
	b.Type = TypeActivated
}

// packPhysical folds a flattened unit sequence into exactly NumSlots
// physical blocks: units beyond the final slot are absorbed into it as
// concatenated [preamble][body] runs.
func packPhysical(units []*TrackBlock) ([]*TrackBlock, error) {
	if len(units) < NumSlots {
		return nil, fmt.Errorf("%d units cannot fill %d physical slots", len(units), NumSlots)
	}
	if len(units) == NumSlots {
		return units, nil
	}
	phys := make([]*TrackBlock, NumSlots)
	copy(phys, units[:NumSlots])
	last := phys[NumSlots-1]
	last.Sub = append(last.Sub, units[NumSlots:]...)
	return phys, nil
}

package container

import (
	"encoding/binary"
	"fmt"

	"github.com/halfstack-audio/gridproj/pkg/container/engines"
)

// Decode parses a full project file into a Project model. It is a pure
// function over the buffer; decode errors carry the byte offset and the
// nearest preceding block index, and a partially decoded project is never
// returned.
func Decode(data []byte) (*Project, error) {
	raws, err := ScanBlocks(data)
	if err != nil {
		return nil, err
	}
	if len(raws) != NumSlots {
		return nil, decodeErrf(raws[0].Offset, 0, ErrAlignmentViolation,
			"%d physical blocks, want %d", len(raws), NumSlots)
	}

	handleOff := raws[0].Offset - HandleTableSize
	if handleOff < DescriptorOffset {
		return nil, decodeErrf(raws[0].Offset, -1, ErrSignatureNotFound,
			"first block at 0x%X leaves no room for header and handle table", raws[0].Offset)
	}

	p := &Project{
		Head:          append([]byte(nil), data[:DescriptorOffset]...),
		RawDescriptor: append([]byte(nil), data[DescriptorOffset:handleOff]...),
	}
	if p.Handles, err = parseHandleTable(data, handleOff); err != nil {
		return nil, err
	}
	if p.Descriptor, err = DecodeDescriptor(p.RawDescriptor); err != nil {
		return nil, err
	}

	leaders := 0
	for i, rb := range raws {
		b, err := decodeBlock(rb, i)
		if err != nil {
			return nil, err
		}
		p.Blocks = append(p.Blocks, b)
		if b.Preamble.Role != RoleClone {
			leaders++
		}
	}

	// Overflow packing: fewer than 16 physical leaders means clone
	// insertion displaced trailing tracks into the final slot.
	if leaders < NumTracks {
		unpackFinalSlot(p.Blocks[NumSlots-1])
	}

	if p.Entries, err = BuildEntries(p.Blocks); err != nil {
		return nil, err
	}
	p.Descriptor.reconcileCounts(p.Entries)

	for _, e := range p.Entries {
		decodeBlockEvents(e.Block)
	}
	return p, nil
}

func decodeBlock(rb RawBlock, index int) (*TrackBlock, error) {
	b := &TrackBlock{
		Offset:     rb.Offset,
		Type:       rb.Type,
		EventStart: -1,
	}
	preOff := SignatureSize
	if rb.Type == TypePristine {
		if len(rb.Raw) < SignatureSize+2 || rb.Raw[8] != 0x08 || rb.Raw[9] != 0x00 {
			return nil, decodeErrf(rb.Offset+SignatureSize, index, ErrAlignmentViolation,
				"pristine block without the 08 00 padding word")
		}
		preOff += 2
	}
	pre, err := decodePreamble(rb.Raw[preOff:], rb.Offset+preOff, index)
	if err != nil {
		return nil, err
	}
	b.Preamble = pre
	b.Body = append([]byte(nil), rb.Raw[preOff+PreambleSize:]...)
	if len(b.Body) > 0 {
		b.Engine = b.Body[0]
	}
	return b, nil
}

// decodeBlockEvents recognizes an event section inside an activated block's
// body. Insert-style engines carry it at a fixed offset; append-style
// engines carry it at the tail, found by scanning back for a family tag
// whose section parses exactly to the end of the body. Packed sub-blocks
// are scanned regardless of type: their type byte is inherited from the
// containing slot, so a pristine type there cannot rule a section out.
// Bodies with no recognizable section stay fully opaque, which keeps
// round-trips safe.
func decodeBlockEvents(b *TrackBlock) {
	if len(b.Body) == 0 || (!b.Activated() && !b.Packed) {
		return
	}
	if off := engines.InsertOffset(b.Engine); off != engines.InsertAppend {
		if off < len(b.Body) && KnownFamily(b.Body[off]) {
			if evs, n, fam, err := DecodeEvents(b.Body[off:]); err == nil {
				b.Events, b.EventFamily, b.EventStart, b.EventLen = evs, fam, off, n
			}
		}
		return
	}
	for i := len(b.Body) - 1; i >= 0; i-- {
		if !KnownFamily(b.Body[i]) {
			continue
		}
		evs, n, fam, err := DecodeEvents(b.Body[i:])
		if err != nil || i+n != len(b.Body) {
			continue
		}
		b.Events, b.EventFamily, b.EventStart, b.EventLen = evs, fam, i, n
		return
	}
}

// Encode re-serializes a project to a complete file buffer. The result is
// validated before it is returned; on error no bytes are produced. An
// unmodified project reproduces its source bytes exactly.
func Encode(p *Project) ([]byte, error) {
	return EncodeWithOptions(p, EncodeOptions{})
}

// EncodeWithOptions is Encode with explicit control over the heuristic
// descriptor path.
func EncodeWithOptions(p *Project, opts EncodeOptions) ([]byte, error) {
	if !p.structurallyModified() {
		out := encodeVerbatim(p)
		if err := Validate(out); err != nil {
			return nil, err
		}
		p.Head = append([]byte(nil), out[:DescriptorOffset]...)
		p.edits = nil
		return out, nil
	}

	out, commit, err := encodeModified(p, opts)
	if err != nil {
		return nil, err
	}
	if err := Validate(out); err != nil {
		return nil, err
	}
	// The model is only updated once the buffer has passed validation;
	// a failed encode leaves the project untouched.
	commit()
	return out, nil
}

// structurallyModified reports whether anything beyond plain header fields
// changed; header-only edits keep the verbatim block bytes.
func (p *Project) structurallyModified() bool {
	return p.edits != nil && (len(p.edits.counts) > 0 || len(p.edits.events) > 0)
}

func (p *Project) headBytes() []byte {
	head := append([]byte(nil), p.Head...)
	if p.edits == nil {
		return head
	}
	if p.edits.tempo != nil {
		binary.LittleEndian.PutUint16(head[TempoOffset:], *p.edits.tempo)
	}
	if p.edits.groove != nil {
		head[GrooveOffset] = *p.edits.groove
	}
	if p.edits.metronome != nil {
		head[MetronomeOffset] = *p.edits.metronome
	}
	return head
}

func encodeVerbatim(p *Project) []byte {
	out := p.headBytes()
	out = append(out, p.RawDescriptor...)
	out = append(out, handleTableBytes(p.Handles)...)
	for _, b := range p.Blocks {
		out = appendBlock(out, b)
	}
	return out
}

// appendBlock assembles one physical block: signature, the padding word for
// pristine blocks (derived from the type byte here and nowhere else, so the
// two can never disagree), preamble, body.
func appendBlock(out []byte, b *TrackBlock) []byte {
	out = append(out, sigPrefix...)
	out = append(out, b.Type)
	out = append(out, sigSuffix...)
	if b.Type == TypePristine {
		out = append(out, 0x08, 0x00)
	}
	pre := b.Preamble.encode()
	out = append(out, pre[:]...)
	out = append(out, b.Body...)
	for _, sub := range b.Sub {
		sp := sub.Preamble.encode()
		out = append(out, sp[:]...)
		out = append(out, sub.Body...)
	}
	return out
}

func encodeModified(p *Project, opts EncodeOptions) ([]byte, func(), error) {
	plans, err := p.trackPlans()
	if err != nil {
		return nil, nil, err
	}

	units, entries, err := buildUnits(plans)
	if err != nil {
		return nil, nil, err
	}
	phys, err := packPhysical(units)
	if err != nil {
		return nil, nil, err
	}

	var topo Topology
	var act Activation
	for _, tp := range plans {
		topo.Counts[tp.Track] = tp.Count
		for pat := 1; pat <= tp.Count; pat++ {
			if len(tp.Events[pat]) > 0 {
				act.ActivePattern[tp.Track] = pat
				break
			}
		}
	}
	desc, err := EncodeDescriptor(topo, act, opts)
	if err != nil {
		return nil, nil, err
	}

	head := p.headBytes()
	out := append([]byte(nil), head...)
	out = append(out, desc...)
	out = append(out, handleTableBytes(p.Handles)...)
	for _, b := range phys {
		out = appendBlock(out, b)
	}

	commit := func() {
		p.Head = head
		p.RawDescriptor = desc
		p.Descriptor, _ = DecodeDescriptor(desc)
		p.Descriptor.reconcileCounts(entries)
		p.Blocks = phys
		p.Entries = entries
		p.edits = nil
	}
	return out, commit, nil
}

// trackPlans derives the per-track encode inputs: the pattern count after
// edits, the full-body donor (the track's last-pattern body with any event
// section stripped), and the merged per-pattern event lists.
func (p *Project) trackPlans() ([]trackPlan, error) {
	plans := make([]trackPlan, 0, NumTracks)
	for t := 1; t <= NumTracks; t++ {
		existing := p.EntriesForTrack(t)
		if len(existing) == 0 {
			return nil, fmt.Errorf("track %d has no backing block", t)
		}
		last := existing[len(existing)-1].Block

		tp := trackPlan{
			Track:     t,
			Count:     p.PatternCount(t),
			Donor:     donorBody(last),
			DonorType: last.Type,
			DonorBars: last.Preamble.Bars(),
			Engine:    last.Engine,
			Events:    make(map[int][]NoteEvent),
		}

		for _, e := range existing {
			if e.Pattern <= tp.Count && len(e.Block.Events) > 0 {
				tp.Events[e.Pattern] = e.Block.Events
				tp.Family = e.Block.EventFamily
			}
		}
		if p.edits != nil {
			for pat, evs := range p.edits.events[t] {
				if pat > tp.Count {
					return nil, fmt.Errorf("track %d: events staged for pattern %d of %d", t, pat, tp.Count)
				}
				tp.Events[pat] = evs
			}
			if f, ok := p.edits.family[t]; ok {
				tp.Family = f
			}
		}
		if tp.Family == 0 {
			if f, ok := engines.PresetFamily(tp.Engine, 0); ok {
				tp.Family = f
			} else {
				tp.Family = FamilyDrum
			}
		}
		plans = append(plans, tp)
	}
	return plans, nil
}

// donorBody returns a block's body with its recognized event section cut
// out, restoring the full-body donor the device builds patterns from. The
// cut uses the on-disk section length; a re-encode of the decoded events
// may legally be shorter (a same-tick record stored full-form comes back
// as a chord continuation) and must not decide how many bytes go.
func donorBody(b *TrackBlock) []byte {
	if b.EventStart < 0 {
		return append([]byte(nil), b.Body...)
	}
	out := append([]byte(nil), b.Body[:b.EventStart]...)
	return append(out, b.Body[b.EventStart+b.EventLen:]...)
}

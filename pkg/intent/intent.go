// Package intent defines the JSON edit document the CLI and API accept,
// validates it at the boundary, and applies it to a decoded project.
package intent

import (
	"encoding/json"
	"fmt"

	"github.com/halfstack-audio/gridproj/pkg/container"
	"github.com/halfstack-audio/gridproj/pkg/container/engines"
)

// Document is the top-level edit request. All fields are optional; an
// empty document is valid and applies nothing.
type Document struct {
	Tempo     *float64    `json:"tempo,omitempty"`
	Groove    *int        `json:"groove,omitempty"`
	Metronome *int        `json:"metronome,omitempty"`
	Tracks    []TrackEdit `json:"tracks,omitempty"`
}

// TrackEdit declares pattern-level changes for one track.
type TrackEdit struct {
	Track    int           `json:"track"`
	Patterns int           `json:"patterns,omitempty"` // 0 leaves the count alone
	Family   string        `json:"family,omitempty"`   // drum, synth, bass, chord
	Edits    []PatternEdit `json:"edits,omitempty"`
}

// PatternEdit replaces one pattern's note list.
type PatternEdit struct {
	Pattern int    `json:"pattern"`
	Notes   []Note `json:"notes"`
}

// Note is one step of note data. Step is the 16th-note grid position;
// Tick overrides it for off-grid placement. Gate zero means the device
// default length.
type Note struct {
	Step     int  `json:"step"`
	Tick     *int `json:"tick,omitempty"`
	Note     int  `json:"note"`
	Velocity int  `json:"velocity"`
	Gate     int  `json:"gate,omitempty"`
}

var familyTags = map[string]byte{
	"drum":  container.FamilyDrum,
	"synth": container.FamilySynth,
	"bass":  container.FamilyBass,
	"chord": container.FamilyChord,
}

// Parse decodes and validates a JSON document.
func Parse(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse intent: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks every field against the format's hard limits, so a bad
// request is rejected before it touches a project.
func (d *Document) Validate() error {
	if d.Tempo != nil && (*d.Tempo < 20 || *d.Tempo > 300) {
		return fmt.Errorf("tempo %.1f out of range 20-300", *d.Tempo)
	}
	if d.Groove != nil && (*d.Groove < 0 || *d.Groove > 0xFF) {
		return fmt.Errorf("groove %d out of range", *d.Groove)
	}
	if d.Metronome != nil && (*d.Metronome < 0 || *d.Metronome > 0xFF) {
		return fmt.Errorf("metronome %d out of range", *d.Metronome)
	}

	seen := map[int]bool{}
	for _, te := range d.Tracks {
		if te.Track < 1 || te.Track > container.NumTracks {
			return fmt.Errorf("track %d out of range 1-%d", te.Track, container.NumTracks)
		}
		if seen[te.Track] {
			return fmt.Errorf("track %d listed twice", te.Track)
		}
		seen[te.Track] = true
		if te.Patterns < 0 || te.Patterns > container.MaxPatterns {
			return fmt.Errorf("track %d: pattern count %d out of range 1-%d",
				te.Track, te.Patterns, container.MaxPatterns)
		}
		if te.Family != "" {
			if _, ok := familyTags[te.Family]; !ok {
				return fmt.Errorf("track %d: unknown family %q", te.Track, te.Family)
			}
		}
		count := te.Patterns
		if count == 0 {
			count = container.MaxPatterns
		}
		for _, pe := range te.Edits {
			if pe.Pattern < 1 || pe.Pattern > count {
				return fmt.Errorf("track %d: pattern %d out of range", te.Track, pe.Pattern)
			}
			if err := validateNotes(te.Track, pe); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateNotes(track int, pe PatternEdit) error {
	if len(pe.Notes) > container.MaxEventsPerPattern {
		return fmt.Errorf("track %d pattern %d: %d notes exceeds the %d-event limit",
			track, pe.Pattern, len(pe.Notes), container.MaxEventsPerPattern)
	}
	maxTick := container.MaxBars*container.StepsPerBar*container.TicksPerStep - 1
	for i, n := range pe.Notes {
		if n.Note < 0 || n.Note > 127 || n.Velocity < 0 || n.Velocity > 127 {
			return fmt.Errorf("track %d pattern %d note %d: note/velocity outside 0-127", track, pe.Pattern, i)
		}
		if n.Note == n.Velocity {
			return fmt.Errorf("track %d pattern %d note %d: note equal to velocity is a device crash condition",
				track, pe.Pattern, i)
		}
		tick := n.Step * container.TicksPerStep
		if n.Tick != nil {
			tick = *n.Tick
		}
		if tick < 0 || tick > maxTick {
			return fmt.Errorf("track %d pattern %d note %d: position %d past the 4-bar limit", track, pe.Pattern, i, tick)
		}
		if n.Gate < 0 {
			return fmt.Errorf("track %d pattern %d note %d: negative gate", track, pe.Pattern, i)
		}
	}
	return nil
}

// Apply stages the document's edits onto a decoded project. The project
// is only mutated through its staging API, so a later encode failure
// leaves the original intact.
func (d *Document) Apply(p *container.Project) error {
	if err := d.Validate(); err != nil {
		return err
	}

	if d.Tempo != nil {
		p.SetTempoBPM(*d.Tempo)
	}
	if d.Groove != nil {
		p.SetGroove(byte(*d.Groove))
	}
	if d.Metronome != nil {
		p.SetMetronome(byte(*d.Metronome))
	}

	for _, te := range d.Tracks {
		if te.Patterns > 0 {
			if err := p.SetPatternCount(te.Track, te.Patterns); err != nil {
				return err
			}
		}
		if len(te.Edits) == 0 {
			continue
		}
		family, err := resolveFamily(p, te)
		if err != nil {
			return err
		}
		for _, pe := range te.Edits {
			events := make([]container.NoteEvent, 0, len(pe.Notes))
			for _, n := range pe.Notes {
				tick := n.Step * container.TicksPerStep
				if n.Tick != nil {
					tick = *n.Tick
				}
				events = append(events, container.NoteEvent{
					Tick:     tick,
					Note:     byte(n.Note),
					Velocity: byte(n.Velocity),
					Gate:     n.Gate,
				})
			}
			if err := p.SetPatternEvents(te.Track, pe.Pattern, family, events); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveFamily picks the event family tag for a track edit: an explicit
// name wins, otherwise the track's engine default.
func resolveFamily(p *container.Project, te TrackEdit) (byte, error) {
	if te.Family != "" {
		return familyTags[te.Family], nil
	}
	entries := p.EntriesForTrack(te.Track)
	if len(entries) == 0 {
		return 0, fmt.Errorf("track %d: no blocks to take a family from; set family explicitly", te.Track)
	}
	if f, ok := engines.PresetFamily(entries[0].Block.Engine, 0); ok {
		return f, nil
	}
	return 0, fmt.Errorf("track %d: unknown engine 0x%02X; set family explicitly",
		te.Track, entries[0].Block.Engine)
}

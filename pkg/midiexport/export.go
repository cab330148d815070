// Package midiexport renders the decoded project model to Standard MIDI
// Files and imports SMF note data back into the event model.
package midiexport

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/halfstack-audio/gridproj/pkg/container"
)

// ticksPerQuarter is the SMF resolution. Project ticks count 16th-note
// steps at 480 each, so a quarter note is four steps.
const ticksPerQuarter = container.TicksPerStep * 4

// defaultGateTicks is the note length used for events carrying the
// device default gate: 75% of a step.
const defaultGateTicks = container.TicksPerStep * 3 / 4

// Exporter renders projects to SMF data.
type Exporter struct {
	// MutedTracks skips the listed tracks (1-based) in the output.
	MutedTracks map[int]bool
}

// NewExporter creates an exporter with no tracks muted.
func NewExporter() *Exporter {
	return &Exporter{MutedTracks: map[int]bool{}}
}

// Export renders every track with note data to one SMF, one MIDI track
// per project track, with the project tempo on the first track.
func (e *Exporter) Export(p *container.Project) ([]byte, error) {
	if p == nil {
		return nil, errors.New("nil project")
	}

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(ticksPerQuarter)

	tempo := p.TempoBPM()
	if tempo <= 0 {
		tempo = 120.0
	}

	added := 0
	for tr := 1; tr <= container.NumTracks; tr++ {
		if e.MutedTracks[tr] {
			continue
		}
		events := trackEvents(p, tr)
		if len(events) == 0 {
			continue
		}
		track := buildTrack(events, byte((tr-1)%16), added == 0, tempo)
		if err := s.Add(track); err != nil {
			return nil, fmt.Errorf("failed to add track %d: %w", tr, err)
		}
		added++
	}
	if added == 0 {
		// An all-empty project still yields a playable file carrying the
		// tempo, matching what the device's own USB export does.
		track := buildTrack(nil, 0, true, tempo)
		if err := s.Add(track); err != nil {
			return nil, fmt.Errorf("failed to add tempo track: %w", err)
		}
	}

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write MIDI: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportTrack renders a single track to a one-track SMF.
func (e *Exporter) ExportTrack(p *container.Project, tr int) ([]byte, error) {
	if p == nil {
		return nil, errors.New("nil project")
	}
	if tr < 1 || tr > container.NumTracks {
		return nil, fmt.Errorf("track %d out of range", tr)
	}
	events := trackEvents(p, tr)
	if len(events) == 0 {
		return nil, fmt.Errorf("track %d has no note data", tr)
	}

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(ticksPerQuarter)
	if err := s.Add(buildTrack(events, byte((tr-1)%16), true, p.TempoBPM())); err != nil {
		return nil, fmt.Errorf("failed to add track: %w", err)
	}

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write MIDI: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile renders the project and writes the SMF to disk.
func (e *Exporter) WriteFile(p *container.Project, filename string) error {
	data, err := e.Export(p)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// trackEvents collects the track's events across its patterns, laid out
// back to back: pattern 2 starts where pattern 1's bars end.
func trackEvents(p *container.Project, tr int) []container.NoteEvent {
	var out []container.NoteEvent
	offset := 0
	for _, entry := range p.EntriesForTrack(tr) {
		bars := entry.Block.Preamble.Bars()
		for _, ev := range entry.Block.Events {
			ev.Tick += offset
			out = append(out, ev)
		}
		offset += bars * container.StepsPerBar * container.TicksPerStep
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Tick < out[j].Tick })
	return out
}

func buildTrack(events []container.NoteEvent, channel byte, withTempo bool, tempo float64) smf.Track {
	var track smf.Track

	if withTempo {
		if tempo <= 0 {
			tempo = 120.0
		}
		microsecondsPerBeat := uint32(60000000.0 / tempo)
		track.Add(0, smf.Message([]byte{
			0xFF, 0x51, 0x03,
			byte(microsecondsPerBeat >> 16),
			byte(microsecondsPerBeat >> 8),
			byte(microsecondsPerBeat),
		}))
		// 4/4 time signature.
		track.Add(0, smf.Message([]byte{0xFF, 0x58, 0x04, 0x04, 0x02, 0x18, 0x08}))
	}

	type edge struct {
		tick int
		on   bool
		note byte
		vel  byte
	}
	var edges []edge
	for _, ev := range events {
		gate := ev.Gate
		if gate == container.GateDefault {
			gate = defaultGateTicks
		}
		edges = append(edges, edge{tick: ev.Tick, on: true, note: ev.Note, vel: ev.Velocity})
		edges = append(edges, edge{tick: ev.Tick + gate, on: false, note: ev.Note})
	}
	// Offs before ons at the same tick so retriggers do not cancel.
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].tick != edges[j].tick {
			return edges[i].tick < edges[j].tick
		}
		return !edges[i].on && edges[j].on
	})

	current := 0
	for _, ed := range edges {
		delta := uint32(ed.tick - current)
		current = ed.tick
		if ed.on {
			track.Add(delta, midi.NoteOn(channel, ed.note, ed.vel))
		} else {
			track.Add(delta, midi.NoteOff(channel, ed.note))
		}
	}
	track.Close(0)
	return track
}

// Import parses SMF data and quantizes its note-on events to the step
// grid as a flat event list, ready for the pattern editing operations.
// Note lengths become explicit gates; tempo metadata is returned so the
// caller can apply it to the project header.
func Import(data []byte) ([]container.NoteEvent, float64, error) {
	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse MIDI: %w", err)
	}

	resolution := int64(ticksPerQuarter)
	if mt, ok := s.TimeFormat.(smf.MetricTicks); ok {
		resolution = int64(mt.Resolution())
	}
	// Scale from the file's resolution to project ticks.
	scale := float64(ticksPerQuarter) / float64(resolution)

	tempo := 0.0
	type open struct {
		tick int
		vel  byte
	}
	pending := map[byte]open{}
	var events []container.NoteEvent

	for _, track := range s.Tracks {
		var current int64
		for _, ev := range track {
			current += int64(ev.Delta)
			msg := ev.Message

			if len(msg) >= 6 && msg[0] == 0xFF && msg[1] == 0x51 && msg[2] == 0x03 {
				usPerBeat := uint32(msg[3])<<16 | uint32(msg[4])<<8 | uint32(msg[5])
				if usPerBeat > 0 {
					tempo = 60000000.0 / float64(usPerBeat)
				}
			}
			if len(msg) < 3 {
				continue
			}
			status, note, vel := msg[0], msg[1], msg[2]
			tick := int(float64(current) * scale)

			switch {
			case status >= 0x90 && status <= 0x9F && vel > 0:
				pending[note] = open{tick: tick, vel: vel}
			case (status >= 0x80 && status <= 0x8F) || (status >= 0x90 && status <= 0x9F && vel == 0):
				o, ok := pending[note]
				if !ok {
					continue
				}
				delete(pending, note)
				events = append(events, container.NoteEvent{
					Tick:     quantize(o.tick),
					Note:     note,
					Velocity: o.vel,
					Gate:     tick - o.tick,
				})
			}
		}
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Tick < events[j].Tick })
	return events, tempo, nil
}

// quantize snaps a tick to the nearest 16th-note step.
func quantize(tick int) int {
	step := (tick + container.TicksPerStep/2) / container.TicksPerStep
	return step * container.TicksPerStep
}

// Package inspect renders decoded projects as human-readable reports for
// the CLI and TUI surfaces.
package inspect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/halfstack-audio/gridproj/pkg/container"
	"github.com/halfstack-audio/gridproj/pkg/container/engines"
)

// TrackRow is one track's summary line.
type TrackRow struct {
	Track     int
	Engine    string
	Patterns  int
	Bars      int
	Events    int
	Activated bool
}

// Report is the flattened view of a project the renderers work from.
type Report struct {
	TempoBPM    float64
	Groove      byte
	Metronome   byte
	UsedHandles int
	Scheme      string
	Tracks      []TrackRow
}

// Summarize builds a report from a decoded project.
func Summarize(p *container.Project) *Report {
	r := &Report{
		TempoBPM:    p.TempoBPM(),
		Groove:      p.Groove(),
		Metronome:   p.Metronome(),
		UsedHandles: p.UsedHandles(),
		Scheme:      "none",
	}
	if p.Descriptor != nil {
		r.Scheme = p.Descriptor.Scheme.String()
	}

	byTrack := map[int]*TrackRow{}
	for _, e := range p.Entries {
		row, ok := byTrack[e.Track]
		if !ok {
			name := fmt.Sprintf("0x%02X", e.Block.Engine)
			if eng, known := engines.Lookup(e.Block.Engine); known {
				name = eng.Name
			}
			row = &TrackRow{Track: e.Track, Engine: name}
			byTrack[e.Track] = row
		}
		row.Patterns++
		if bars := e.Block.Preamble.Bars(); bars > row.Bars {
			row.Bars = bars
		}
		row.Events += len(e.Block.Events)
		if e.Block.Activated() {
			row.Activated = true
		}
	}
	for _, row := range byTrack {
		r.Tracks = append(r.Tracks, *row)
	}
	sort.Slice(r.Tracks, func(i, j int) bool { return r.Tracks[i].Track < r.Tracks[j].Track })
	return r
}

// String renders the report as plain text.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tempo:     %.1f BPM\n", r.TempoBPM)
	fmt.Fprintf(&b, "Groove:    0x%02X\n", r.Groove)
	fmt.Fprintf(&b, "Metronome: 0x%02X\n", r.Metronome)
	fmt.Fprintf(&b, "Handles:   %d in use\n", r.UsedHandles)
	fmt.Fprintf(&b, "Layout:    %s\n\n", r.Scheme)
	fmt.Fprintf(&b, "%-6s %-8s %-9s %-5s %-7s %s\n", "Track", "Engine", "Patterns", "Bars", "Events", "State")
	for _, row := range r.Tracks {
		state := "pristine"
		if row.Activated {
			state = "activated"
		}
		fmt.Fprintf(&b, "%-6d %-8s %-9d %-5d %-7d %s\n",
			row.Track, row.Engine, row.Patterns, row.Bars, row.Events, state)
	}
	return b.String()
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// Render renders the report with terminal styling.
func (r *Report) Render() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Project") + "\n\n")
	b.WriteString(labelStyle.Render("Tempo     ") + fmt.Sprintf("%.1f BPM\n", r.TempoBPM))
	b.WriteString(labelStyle.Render("Groove    ") + fmt.Sprintf("0x%02X\n", r.Groove))
	b.WriteString(labelStyle.Render("Metronome ") + fmt.Sprintf("0x%02X\n", r.Metronome))
	b.WriteString(labelStyle.Render("Handles   ") + fmt.Sprintf("%d in use\n", r.UsedHandles))
	b.WriteString(labelStyle.Render("Layout    ") + r.Scheme + "\n\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-6s %-8s %-9s %-5s %-7s %s",
		"Track", "Engine", "Patterns", "Bars", "Events", "State")) + "\n")
	for _, row := range r.Tracks {
		state := "pristine"
		if row.Activated {
			state = activeStyle.Render("activated")
		}
		b.WriteString(fmt.Sprintf("%-6d %-8s %-9d %-5d %-7d %s\n",
			row.Track, row.Engine, row.Patterns, row.Bars, row.Events, state))
	}
	return b.String()
}

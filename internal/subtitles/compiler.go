// Package subtitles compiles caption sources into a burn-ready ASS file.
// Sources are handled in priority order: narration word timings (grouped
// into short lines with per-word highlighting), an imported SRT file, or a
// direct array of timed lines.
package subtitles

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/reelforge/renderd/internal/media"
	"github.com/reelforge/renderd/internal/templates"
)

// Input carries the possible caption sources, checked in field order.
type Input struct {
	Words   []media.WordTiming
	SRTPath string
	Lines   []media.LineTiming
}

// Compiler renders ASS subtitle files for burn-in.
type Compiler struct {
	style templates.CaptionStyle
	// PlayRes is the coordinate space the margins and font sizes are
	// expressed in; it should match the render resolution.
	width  int
	height int
}

// NewCompiler builds a compiler for the given caption style and render
// resolution.
func NewCompiler(style templates.CaptionStyle, width, height int) *Compiler {
	if style.MaxWordsPerLine <= 0 {
		style.MaxWordsPerLine = 4
	}
	return &Compiler{style: style, width: width, height: height}
}

// Compile writes the ASS file into workdir and returns its path. An input
// with no usable caption source compiles to "", meaning no subtitles.
func (c *Compiler) Compile(in Input, workdir string) (string, error) {
	var events []event
	switch {
	case len(in.Words) > 0:
		events = c.karaokeEvents(in.Words)
	case in.SRTPath != "":
		lines, err := ParseSRT(in.SRTPath)
		if err != nil {
			return "", fmt.Errorf("parse srt: %w", err)
		}
		events = plainEvents(lines)
	case len(in.Lines) > 0:
		events = plainEvents(in.Lines)
	}
	if len(events) == 0 {
		return "", nil
	}

	path := filepath.Join(workdir, "subtitles.ass")
	if err := os.WriteFile(path, []byte(c.render(events)), 0o644); err != nil {
		return "", fmt.Errorf("write subtitles: %w", err)
	}
	return path, nil
}

type event struct {
	start float64
	end   float64
	text  string
}

// karaokeEvents groups words into lines of at most MaxWordsPerLine and emits
// one event per word window, with the active word restyled in the highlight
// colour. A word's window runs from its own start to the next word's start
// so highlighting never gaps; the last word of a line uses its own end.
func (c *Compiler) karaokeEvents(words []media.WordTiming) []event {
	var events []event
	for i := 0; i < len(words); i += c.style.MaxWordsPerLine {
		line := words[i:min(i+c.style.MaxWordsPerLine, len(words))]
		for j, w := range line {
			end := w.End
			if j < len(line)-1 {
				end = line[j+1].Start
			}
			var b strings.Builder
			for k, lw := range line {
				if k > 0 {
					b.WriteByte(' ')
				}
				if k == j {
					fmt.Fprintf(&b, "{\\c%s}%s{\\c%s}", c.style.HighlightColour, escapeASS(lw.Word), c.style.PrimaryColour)
				} else {
					b.WriteString(escapeASS(lw.Word))
				}
			}
			events = append(events, event{start: w.Start, end: end, text: b.String()})
		}
	}
	return events
}

func plainEvents(lines []media.LineTiming) []event {
	events := make([]event, 0, len(lines))
	for _, l := range lines {
		text := strings.TrimSpace(l.Text)
		if text == "" || l.End <= l.Start {
			continue
		}
		events = append(events, event{start: l.Start, end: l.End, text: escapeASS(text)})
	}
	return events
}

func (c *Compiler) render(events []event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Script Info]\nScriptType: v4.00+\nPlayResX: %d\nPlayResY: %d\nWrapStyle: 0\n\n", c.width, c.height)

	b.WriteString("[V4+ Styles]\n")
	b.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, OutlineColour, BackColour, Bold, Italic, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV\n")
	fmt.Fprintf(&b, "Style: Default,%s,%d,%s,%s,&H80000000,1,0,1,3,1,2,40,40,%d\n\n",
		c.style.FontName, c.style.FontSize, c.style.PrimaryColour, c.style.OutlineColour, c.style.MarginV)

	b.WriteString("[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, e := range events {
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n", assTime(e.start), assTime(e.end), e.text)
	}
	return b.String()
}

// assTime formats seconds as H:MM:SS.CS, the ASS timestamp form.
func assTime(secs float64) string {
	if secs < 0 {
		secs = 0
	}
	cs := int(secs*100 + 0.5)
	h := cs / 360000
	m := cs / 6000 % 60
	s := cs / 100 % 60
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs%100)
}

func escapeASS(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "{", "(")
	s = strings.ReplaceAll(s, "}", ")")
	return strings.ReplaceAll(s, "\n", "\\N")
}

package subtitles

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/reelforge/renderd/internal/media"
)

var srtTimeRe = regexp.MustCompile(`(\d+):(\d{2}):(\d{2})[,.](\d{1,3})`)

// ParseSRT reads an SRT file into timed lines. Cue indexes are ignored;
// multi-line cue text is joined with newlines. Malformed cues fail the whole
// parse rather than being silently dropped.
func ParseSRT(path string) ([]media.LineTiming, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []media.LineTiming
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var cur *media.LineTiming
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))

		switch {
		case line == "":
			if cur != nil {
				lines = append(lines, *cur)
				cur = nil
			}
		case strings.Contains(line, "-->"):
			parts := strings.SplitN(line, "-->", 2)
			start, err := parseSRTTime(strings.TrimSpace(parts[0]))
			if err != nil {
				return nil, err
			}
			end, err := parseSRTTime(strings.TrimSpace(parts[1]))
			if err != nil {
				return nil, err
			}
			if end <= start {
				return nil, fmt.Errorf("cue ends before it starts: %q", line)
			}
			cur = &media.LineTiming{Start: start, End: end}
		case cur != nil:
			if cur.Text != "" {
				cur.Text += "\n"
			}
			cur.Text += line
		default:
			// Cue index line, ignored.
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if cur != nil {
		lines = append(lines, *cur)
	}
	return lines, nil
}

func parseSRTTime(s string) (float64, error) {
	m := srtTimeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("malformed srt timestamp %q", s)
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	msStr := m[4]
	for len(msStr) < 3 {
		msStr += "0"
	}
	ms, _ := strconv.Atoi(msStr)
	return float64(h)*3600 + float64(min)*60 + float64(sec) + float64(ms)/1000, nil
}

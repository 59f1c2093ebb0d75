package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Prober inspects media files with ffprobe.
type Prober struct {
	bin string
}

// NewProber builds a prober for the given ffprobe binary.
func NewProber(bin string) *Prober {
	return &Prober{bin: bin}
}

// Duration returns the container duration of path in seconds.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	out, err := exec.CommandContext(ctx, p.bin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", path, err)
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("probe %s: unparseable duration %q", path, strings.TrimSpace(string(out)))
	}
	return dur, nil
}

// StreamInfo is the subset of probe output the engines act on.
type StreamInfo struct {
	Width    int
	Height   int
	HasAudio bool
	Duration float64
}

// Inspect probes the streams of path.
func (p *Prober) Inspect(ctx context.Context, path string) (*StreamInfo, error) {
	out, err := exec.CommandContext(ctx, p.bin,
		"-v", "error",
		"-show_entries", "stream=codec_type,width,height:format=duration",
		"-of", "json",
		path,
	).Output()
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}

	var doc struct {
		Streams []struct {
			CodecType string `json:"codec_type"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}

	info := &StreamInfo{}
	for _, s := range doc.Streams {
		switch s.CodecType {
		case "video":
			if info.Width == 0 {
				info.Width, info.Height = s.Width, s.Height
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if doc.Format.Duration != "" {
		info.Duration, _ = strconv.ParseFloat(doc.Format.Duration, 64)
	}
	return info, nil
}

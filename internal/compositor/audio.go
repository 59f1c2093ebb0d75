package compositor

import (
	"fmt"
)

// audioOptions describes the audio sources feeding the mix.
type audioOptions struct {
	// target is the output duration; every branch is padded or trimmed to it.
	target float64

	// narrationInput / musicInput are ffmpeg input indexes, -1 when absent.
	narrationInput int
	musicInput     int

	musicVolume float64
	ducking     bool
}

// buildAudioGraph constructs the mix. A silent stereo bed always anchors the
// mix so the output carries an audio track of exactly the target duration
// even with no narration and no music; narration and music branches join it
// through amix. When ducking is on, the music is keyed against a split of
// the narration through a sidechain compressor before mixing.
func buildAudioGraph(g *Graph, opts audioOptions) Stream {
	bed := g.NewStream("abed")
	g.Add(Chain{
		Filters: []string{
			"anullsrc=channel_layout=stereo:sample_rate=44100",
			fmt.Sprintf("atrim=duration=%.3f", opts.target),
		},
		Outputs: []Stream{bed},
	})

	branches := []Stream{bed}

	var voice, duckKey Stream
	if opts.narrationInput >= 0 {
		narr := g.Chain(Input(opts.narrationInput, "a"), "an",
			"aformat=channel_layouts=stereo:sample_rates=44100",
			"apad",
			fmt.Sprintf("atrim=duration=%.3f", opts.target),
		)
		if opts.ducking && opts.musicInput >= 0 {
			voice = g.NewStream("anv")
			duckKey = g.NewStream("akey")
			g.Add(Chain{
				Inputs:  []Stream{narr},
				Filters: []string{"asplit=2"},
				Outputs: []Stream{voice, duckKey},
			})
		} else {
			voice = narr
		}
		branches = append(branches, voice)
	}

	if opts.musicInput >= 0 {
		music := g.Chain(Input(opts.musicInput, "a"), "am",
			"aformat=channel_layouts=stereo:sample_rates=44100",
			fmt.Sprintf("volume=%.3f", opts.musicVolume),
			"aloop=loop=-1:size=2147483647",
			fmt.Sprintf("atrim=duration=%.3f", opts.target),
		)
		if duckKey != "" {
			ducked := g.NewStream("aduck")
			g.Add(Chain{
				Inputs:  []Stream{music, duckKey},
				Filters: []string{"sidechaincompress=threshold=0.05:ratio=8:attack=50:release=400"},
				Outputs: []Stream{ducked},
			})
			music = ducked
		}
		branches = append(branches, music)
	}

	if len(branches) == 1 {
		return bed
	}
	out := g.NewStream("amix")
	g.Add(Chain{
		Inputs: branches,
		Filters: []string{
			fmt.Sprintf("amix=inputs=%d:duration=first:dropout_transition=0:normalize=0", len(branches)),
		},
		Outputs: []Stream{out},
	})
	return out
}

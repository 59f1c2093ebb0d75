package compositor

import (
	"fmt"

	"github.com/reelforge/renderd/internal/media"
)

// segment is one entry of the transition chain: a normalized clip stream,
// its on-timeline duration, and how it blends with its predecessor (nil
// means hard cut).
type segment struct {
	stream     Stream
	duration   float64
	transition *media.TransitionSpec
}

// buildTransitionChain folds the segments left to right into a single video
// stream. Transitioned pairs overlap by the transition duration through
// xfade; the offset of each xfade is tracked with a running accumulator over
// the timeline built so far, clamped at zero for overlaps longer than the
// accumulated footage. Pairs without a transition are concatenated.
func buildTransitionChain(g *Graph, segments []segment) (Stream, float64) {
	if len(segments) == 0 {
		return "", 0
	}

	current := segments[0].stream
	running := segments[0].duration
	for _, seg := range segments[1:] {
		if t := seg.transition; t != nil {
			offset := running - t.Duration
			if offset < 0 {
				offset = 0
			}
			out := g.NewStream("x")
			g.Add(Chain{
				Inputs: []Stream{current, seg.stream},
				Filters: []string{fmt.Sprintf("xfade=transition=%s:duration=%.3f:offset=%.3f",
					t.Type, t.Duration, offset)},
				Outputs: []Stream{out},
			})
			current = out
			running += seg.duration - t.Duration
		} else {
			out := g.NewStream("x")
			g.Add(Chain{
				Inputs:  []Stream{current, seg.stream},
				Filters: []string{"concat=n=2:v=1:a=0"},
				Outputs: []Stream{out},
			})
			current = out
			running += seg.duration
		}
	}
	return current, running
}

// TotalDuration is the timeline length the transition chain produces: the
// sum of segment durations minus the sum of transition overlaps.
func TotalDuration(durations []float64, transitions []*media.TransitionSpec) float64 {
	var total float64
	for _, d := range durations {
		total += d
	}
	for i, t := range transitions {
		if i == 0 || t == nil {
			// The first clip has nothing to blend into.
			continue
		}
		total -= t.Duration
	}
	return total
}

// Package narration turns request text into a voice track. A facade walks an
// ordered chain of speech providers, falling back to the next one when a
// provider fails, and fills in estimated word timings when timestamps were
// requested but the winning provider returns none.
package narration

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/reelforge/renderd/internal/media"
)

// wordsPerSecond is the speaking-rate assumption behind estimated timings.
const wordsPerSecond = 2.2

// Clip is the synthesized narration artifact: an audio file plus optional
// word-level timings.
type Clip struct {
	AudioPath string
	Duration  float64
	Words     []media.WordTiming

	// EstimatedTimings is set when Words were derived from text length
	// rather than reported by the synthesizer.
	EstimatedTimings bool

	// Provider is the name of the provider that produced the clip.
	Provider string
}

// Provider synthesizes speech. Implementations write the audio file into
// workdir and report its duration; word timings are optional.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, text, voice, workdir string) (*Clip, error)
}

// SynthesisError reports that every provider in the chain failed. It carries
// the last provider's error.
type SynthesisError struct {
	Attempted []string
	Err       error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("narration synthesis failed after %d providers (%s): %v",
		len(e.Attempted), strings.Join(e.Attempted, ", "), e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Facade tries each provider in order, at most once per call.
type Facade struct {
	providers []Provider
	logger    hclog.Logger
}

// NewFacade builds the fallback chain in the given order.
func NewFacade(providers []Provider, logger hclog.Logger) *Facade {
	return &Facade{providers: providers, logger: logger.Named("narration")}
}

// Synthesize produces a narration clip via the first provider that succeeds.
// When the spec asks for timestamps and the winning provider returned no
// word timings, uniform estimates are filled in.
func (f *Facade) Synthesize(ctx context.Context, spec media.NarrationSpec, workdir string) (*Clip, error) {
	if len(f.providers) == 0 {
		return nil, &SynthesisError{Err: fmt.Errorf("no narration providers configured")}
	}

	var attempted []string
	var lastErr error
	for _, p := range f.providers {
		attempted = append(attempted, p.Name())
		clip, err := p.Synthesize(ctx, spec.Text, spec.Voice, workdir)
		if err == nil {
			clip.Provider = p.Name()
			if spec.WantTimestamps && len(clip.Words) == 0 {
				clip.Words = EstimateTimings(spec.Text)
				clip.EstimatedTimings = true
			}
			return clip, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		f.logger.Warn("narration provider failed, trying next", "provider", p.Name(), "error", err)
	}
	return nil, &SynthesisError{Attempted: attempted, Err: lastErr}
}

// EstimateTimings assigns each word of text a uniform window at the assumed
// speaking rate, sequentially from zero.
func EstimateTimings(text string) []media.WordTiming {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	per := 1.0 / wordsPerSecond
	timings := make([]media.WordTiming, len(words))
	for i, w := range words {
		start := float64(i) * per
		timings[i] = media.WordTiming{
			Word:  w,
			Start: round3(start),
			End:   round3(start + per),
		}
	}
	return timings
}

// EstimatedDuration is the spoken length EstimateTimings assumes for text.
func EstimatedDuration(text string) float64 {
	n := len(strings.Fields(text))
	return round3(float64(n) / wordsPerSecond)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

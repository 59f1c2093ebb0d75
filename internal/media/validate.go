package media

import (
	"fmt"
	"net/url"
	"strings"
)

// Validation limits enforced before a request becomes a job.
const (
	MinClips          = 1
	MaxClips          = 20
	MinSpeed          = 0.25
	MaxSpeed          = 4.0
	MaxNarrationChars = 5000
	MaxTransitionSecs = 5.0
)

// ValidationError rejects a request at submission time; it never becomes a
// queued job.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks a render request against the submission limits. It returns
// a *ValidationError describing the first violation found.
func (r *RenderRequest) Validate() error {
	switch r.Mode {
	case ModeComposition:
		if err := r.validateComposition(); err != nil {
			return err
		}
	case ModeAssembly:
		if err := r.validateAssembly(); err != nil {
			return err
		}
	default:
		return invalid("mode", "must be %q or %q", ModeComposition, ModeAssembly)
	}

	switch r.Quality {
	case "", QualityDraft, QualityFull:
	default:
		return invalid("quality", "unknown quality %q", r.Quality)
	}

	switch r.OutputFormat {
	case "", FormatMP4, FormatWebM, FormatMOV:
	default:
		return invalid("outputFormat", "unknown format %q", r.OutputFormat)
	}

	if r.WebhookURL != "" {
		if err := checkURL(r.WebhookURL); err != nil {
			return invalid("webhookUrl", "%v", err)
		}
	}
	return nil
}

func (r *RenderRequest) validateComposition() error {
	if len(r.Clips) < MinClips || len(r.Clips) > MaxClips {
		return invalid("clips", "clip count must be between %d and %d, got %d", MinClips, MaxClips, len(r.Clips))
	}
	for i, c := range r.Clips {
		field := fmt.Sprintf("clips[%d]", i)
		if (c.Source == "") == (c.Query == "") {
			return invalid(field, "exactly one of source or query must be set")
		}
		if c.Source != "" && !strings.HasPrefix(c.Source, "local://") {
			if err := checkURL(c.Source); err != nil {
				return invalid(field+".source", "%v", err)
			}
		}
		switch c.Kind {
		case ClipVideo, ClipImage:
		default:
			return invalid(field+".kind", "unknown clip kind %q", c.Kind)
		}
		if c.Duration < 0 {
			return invalid(field+".duration", "must not be negative")
		}
		if c.Kind == ClipImage && c.Duration == 0 {
			return invalid(field+".duration", "image clips require an explicit duration")
		}
		if c.Speed != 0 && (c.Speed < MinSpeed || c.Speed > MaxSpeed) {
			return invalid(field+".speed", "must be between %g and %g, got %g", MinSpeed, MaxSpeed, c.Speed)
		}
		if c.Transition != nil {
			switch c.Transition.Type {
			case TransitionFade, TransitionDissolve, TransitionWipeLeft,
				TransitionWipeRight, TransitionSlideUp, TransitionSlideDown:
			default:
				return invalid(field+".transition.type", "unknown transition %q", c.Transition.Type)
			}
			if c.Transition.Duration <= 0 || c.Transition.Duration > MaxTransitionSecs {
				return invalid(field+".transition.duration", "must be in (0, %g]", MaxTransitionSecs)
			}
		}
		if c.Effect != "" {
			switch c.Effect {
			case EffectZoomIn, EffectZoomOut, EffectPanLeft, EffectPanRight:
			default:
				return invalid(field+".effect", "unknown effect %q", c.Effect)
			}
		}
	}
	if r.Narration != nil {
		if strings.TrimSpace(r.Narration.Text) == "" {
			return invalid("narration.text", "must not be empty")
		}
		if len(r.Narration.Text) > MaxNarrationChars {
			return invalid("narration.text", "exceeds %d characters", MaxNarrationChars)
		}
	}
	if r.Music != nil {
		if !strings.HasPrefix(r.Music.Source, "local://") {
			if err := checkURL(r.Music.Source); err != nil {
				return invalid("music.source", "%v", err)
			}
		}
		if r.Music.Volume != nil && (*r.Music.Volume < 0 || *r.Music.Volume > 1) {
			return invalid("music.volume", "must be in [0, 1]")
		}
	}
	if r.Subtitles != nil && r.Subtitles.ImportURL != "" {
		if err := checkURL(r.Subtitles.ImportURL); err != nil {
			return invalid("subtitles.importUrl", "%v", err)
		}
	}
	return nil
}

func (r *RenderRequest) validateAssembly() error {
	if len(r.Segments) < 1 || len(r.Segments) > MaxClips {
		return invalid("segments", "segment count must be between 1 and %d, got %d", MaxClips, len(r.Segments))
	}
	for i, s := range r.Segments {
		field := fmt.Sprintf("segments[%d]", i)
		if !strings.HasPrefix(s.SourceURL, "local://") {
			if err := checkURL(s.SourceURL); err != nil {
				return invalid(field+".sourceUrl", "%v", err)
			}
		}
		if s.Start < 0 || s.End <= s.Start {
			return invalid(field, "requires 0 <= start < end")
		}
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	return nil
}

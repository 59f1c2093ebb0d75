// Package media defines the render request model shared by the job manager,
// the composition engine, and the HTTP surface. A request is a declarative
// description of the video to produce: visual sources, narration, music,
// subtitles, transitions, and a named style template. Requests are validated
// once at submission time and are immutable after they are queued.
package media

// Mode selects which engine executes a render request.
type Mode string

const (
	// ModeComposition runs the full filter-graph pipeline: transitions,
	// audio mixing, subtitle burn-in, effects.
	ModeComposition Mode = "composition"
	// ModeAssembly performs lossless trim + concatenation only.
	ModeAssembly Mode = "assembly"
)

// Quality selects the render quality profile.
type Quality string

const (
	// QualityDraft renders at one-third linear resolution with the fastest
	// encoder preset, for quick iteration.
	QualityDraft Quality = "draft"
	// QualityFull renders at template resolution with a balanced preset.
	QualityFull Quality = "full"
)

// OutputFormat is the container format of the rendered file.
type OutputFormat string

const (
	FormatMP4  OutputFormat = "mp4"
	FormatWebM OutputFormat = "webm"
	FormatMOV  OutputFormat = "mov"
)

// ClipKind distinguishes moving video sources from still images.
type ClipKind string

const (
	ClipVideo ClipKind = "video"
	ClipImage ClipKind = "image"
)

// ImageEffect is the parametric pan/zoom applied to still images.
type ImageEffect string

const (
	EffectZoomIn   ImageEffect = "zoom-in"
	EffectZoomOut  ImageEffect = "zoom-out"
	EffectPanLeft  ImageEffect = "pan-left"
	EffectPanRight ImageEffect = "pan-right"
)

// TransitionType is one of the fixed set of blend styles between two
// adjacent visual segments.
type TransitionType string

const (
	TransitionFade      TransitionType = "fade"
	TransitionDissolve  TransitionType = "dissolve"
	TransitionWipeLeft  TransitionType = "wipeleft"
	TransitionWipeRight TransitionType = "wiperight"
	TransitionSlideUp   TransitionType = "slideup"
	TransitionSlideDown TransitionType = "slidedown"
)

// TransitionSpec describes how a clip blends with the preceding one.
// Absence means hard concatenation.
type TransitionSpec struct {
	Type     TransitionType `json:"type"`
	Duration float64        `json:"duration"`
}

// ClipSpec describes one visual source. Exactly one of Source or Query must
// be set: Source is an http(s) URL or a local:// reference, Query is a
// keyword search resolved through the stock-search collaborator.
type ClipSpec struct {
	Source         string          `json:"source,omitempty"`
	Query          string          `json:"query,omitempty"`
	Kind           ClipKind        `json:"kind"`
	Duration       float64         `json:"duration,omitempty"`
	Speed          float64         `json:"speed,omitempty"`
	Transition     *TransitionSpec `json:"transition,omitempty"`
	BlurBackground bool            `json:"blurBackground,omitempty"`
	Effect         ImageEffect     `json:"effect,omitempty"`
}

// SegmentSpec is one assembly-mode cut: a source trimmed to [Start, End).
type SegmentSpec struct {
	SourceURL string  `json:"sourceUrl"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}

// NarrationSpec requests synthesized narration for the composition.
type NarrationSpec struct {
	Text           string `json:"text"`
	Voice          string `json:"voice,omitempty"`
	WantTimestamps bool   `json:"wantTimestamps,omitempty"`
}

// MusicSpec adds a background music track.
type MusicSpec struct {
	Source string   `json:"source"`
	Volume *float64 `json:"volume,omitempty"`
}

// WordTiming is one narration word with its spoken window, in seconds.
// Starts are non-decreasing across a timing list.
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// LineTiming is one caption line with an explicit display window.
type LineTiming struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// SubtitleSpec selects the caption source. Modes are mutually exclusive, in
// priority order: narration word timings, an imported SRT, a direct line
// array. When none applies the render carries no subtitles.
type SubtitleSpec struct {
	Enabled   bool         `json:"enabled"`
	ImportURL string       `json:"importUrl,omitempty"`
	Lines     []LineTiming `json:"lines,omitempty"`
}

// RenderRequest is the full declarative job payload, immutable once queued.
type RenderRequest struct {
	Mode     Mode   `json:"mode"`
	Template string `json:"template,omitempty"`

	// Variables are substituted into {{placeholder}} tokens anywhere in the
	// effective template, after request-level overrides are applied.
	Variables map[string]string `json:"variables,omitempty"`

	// TemplateOverrides are request-level template field overrides, applied
	// on top of the named template before variable substitution.
	TemplateOverrides map[string]any `json:"templateOverrides,omitempty"`

	Clips     []ClipSpec     `json:"clips,omitempty"`
	Segments  []SegmentSpec  `json:"segments,omitempty"`
	Narration *NarrationSpec `json:"narration,omitempty"`
	Music     *MusicSpec     `json:"music,omitempty"`
	Subtitles *SubtitleSpec  `json:"subtitles,omitempty"`

	Quality      Quality      `json:"quality,omitempty"`
	OutputFormat OutputFormat `json:"outputFormat,omitempty"`
	WebhookURL   string       `json:"webhookUrl,omitempty"`
}

// RenderResult is the artifact reference returned by an engine run.
type RenderResult struct {
	OutputPath    string  `json:"outputPath,omitempty"`
	OutputURL     string  `json:"outputUrl,omitempty"`
	ThumbnailPath string  `json:"thumbnailPath,omitempty"`
	ThumbnailURL  string  `json:"thumbnailUrl,omitempty"`
	Duration      float64 `json:"duration,omitempty"`

	// UploadDegraded is set when the artifact publish step failed; the local
	// files still exist and the job is reported done.
	UploadDegraded bool `json:"uploadDegraded,omitempty"`
}

// Package templates manages named style templates: bundles of rendering
// defaults (resolution, frame rate, caption style, color grade, ducking,
// music volume, default transition) looked up by id and specialized per
// request. The effective template is produced in a fixed override order:
// template defaults, then request-level overrides, then {{variable}}
// substitution. The result must be fully resolved before filter-graph
// construction starts.
package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/reelforge/renderd/internal/media"
)

// CaptionStyle styles burned-in subtitles.
type CaptionStyle struct {
	FontName        string `yaml:"font_name" json:"fontName"`
	FontSize        int    `yaml:"font_size" json:"fontSize"`
	PrimaryColour   string `yaml:"primary_colour" json:"primaryColour"`
	HighlightColour string `yaml:"highlight_colour" json:"highlightColour"`
	OutlineColour   string `yaml:"outline_colour" json:"outlineColour"`
	MarginV         int    `yaml:"margin_v" json:"marginV"`
	MaxWordsPerLine int    `yaml:"max_words_per_line" json:"maxWordsPerLine"`
}

// ColorGrade is an optional per-clip eq adjustment. Zero values mean "leave
// the channel untouched".
type ColorGrade struct {
	Contrast   float64 `yaml:"contrast" json:"contrast"`
	Saturation float64 `yaml:"saturation" json:"saturation"`
	Brightness float64 `yaml:"brightness" json:"brightness"`
}

// Enabled reports whether the grade changes anything.
func (g ColorGrade) Enabled() bool {
	return g.Contrast != 0 || g.Saturation != 0 || g.Brightness != 0
}

// ProgressBar styles the optional progress overlay along the bottom edge.
type ProgressBar struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Colour  string `yaml:"colour" json:"colour"`
	Height  int    `yaml:"height" json:"height"`
}

// Template is a named bundle of rendering defaults.
type Template struct {
	Name              string                `yaml:"name" json:"name"`
	Width             int                   `yaml:"width" json:"width"`
	Height            int                   `yaml:"height" json:"height"`
	FPS               int                   `yaml:"fps" json:"fps"`
	CaptionStyle      CaptionStyle          `yaml:"caption_style" json:"captionStyle"`
	ColorGrade        ColorGrade            `yaml:"color_grade" json:"colorGrade"`
	ProgressBar       ProgressBar           `yaml:"progress_bar" json:"progressBar"`
	Ducking           bool                  `yaml:"ducking" json:"ducking"`
	MusicVolume       float64               `yaml:"music_volume" json:"musicVolume"`
	DefaultTransition *media.TransitionSpec `yaml:"default_transition" json:"defaultTransition"`
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// Registry holds the built-in templates plus any loaded from the template
// directory; directory templates shadow built-ins of the same name.
type Registry struct {
	templates map[string]Template
}

// NewRegistry returns a registry seeded with the built-in template library.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]Template)}
	for _, t := range builtins() {
		r.templates[t.Name] = t
	}
	return r
}

// LoadDir reads *.yaml template files from dir. A missing directory is not
// an error.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read template directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("read template %s: %w", e.Name(), err)
		}
		var t Template
		if err := yaml.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("parse template %s: %w", e.Name(), err)
		}
		if t.Name == "" {
			t.Name = strings.TrimSuffix(e.Name(), ".yaml")
		}
		r.templates[t.Name] = t
	}
	return nil
}

// Names lists the registered template ids.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for n := range r.templates {
		names = append(names, n)
	}
	return names
}

// Resolve produces the fully specialized template for a request. Override
// order: named template defaults, then request-level overrides, then
// variable substitution into {{placeholder}} tokens anywhere in the
// template. It fails if the template id is unknown or any placeholder is
// left unresolved.
func (r *Registry) Resolve(name string, overrides map[string]any, vars map[string]string) (Template, error) {
	if name == "" {
		name = "portrait-1080"
	}
	base, ok := r.templates[name]
	if !ok {
		return Template{}, fmt.Errorf("unknown template %q", name)
	}

	// Overrides and variables are applied on the YAML form of the template
	// so they reach every field, including nested ones, without per-field
	// plumbing.
	doc, err := yaml.Marshal(base)
	if err != nil {
		return Template{}, fmt.Errorf("encode template: %w", err)
	}

	var tree map[string]any
	if err := yaml.Unmarshal(doc, &tree); err != nil {
		return Template{}, fmt.Errorf("decode template: %w", err)
	}
	mergeTree(tree, overrides)

	merged, err := yaml.Marshal(tree)
	if err != nil {
		return Template{}, fmt.Errorf("encode merged template: %w", err)
	}

	substituted := placeholderRe.ReplaceAllFunc(merged, func(m []byte) []byte {
		key := string(placeholderRe.FindSubmatch(m)[1])
		if v, ok := vars[key]; ok {
			return []byte(v)
		}
		return m
	})
	if loc := placeholderRe.Find(substituted); loc != nil {
		return Template{}, fmt.Errorf("unresolved template placeholder %s", loc)
	}

	var out Template
	if err := yaml.Unmarshal(substituted, &out); err != nil {
		return Template{}, fmt.Errorf("decode effective template: %w", err)
	}
	if out.Width <= 0 || out.Height <= 0 || out.FPS <= 0 {
		return Template{}, fmt.Errorf("template %q has no usable resolution or frame rate", name)
	}
	return out, nil
}

func mergeTree(dst map[string]any, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if cur, ok := dst[k].(map[string]any); ok {
				mergeTree(cur, sub)
				continue
			}
		}
		dst[k] = v
	}
}

func builtins() []Template {
	caption := CaptionStyle{
		FontName:        "Arial",
		FontSize:        64,
		PrimaryColour:   "&H00FFFFFF",
		HighlightColour: "&H0000D7FF",
		OutlineColour:   "&H00000000",
		MarginV:         160,
		MaxWordsPerLine: 4,
	}
	return []Template{
		{
			Name: "portrait-1080", Width: 1080, Height: 1920, FPS: 30,
			CaptionStyle: caption,
			ColorGrade:   ColorGrade{Contrast: 1.05, Saturation: 1.1},
			ProgressBar:  ProgressBar{Enabled: false, Colour: "white", Height: 12},
			Ducking:      true, MusicVolume: 0.25,
			DefaultTransition: &media.TransitionSpec{Type: media.TransitionFade, Duration: 0.5},
		},
		{
			Name: "landscape-1080", Width: 1920, Height: 1080, FPS: 30,
			CaptionStyle: caption,
			Ducking:      true, MusicVolume: 0.2,
		},
		{
			Name: "landscape-720", Width: 1280, Height: 720, FPS: 30,
			CaptionStyle: caption,
			Ducking:      false, MusicVolume: 0.3,
		},
		{
			Name: "square-1080", Width: 1080, Height: 1080, FPS: 30,
			CaptionStyle: caption,
			Ducking:      true, MusicVolume: 0.25,
		},
	}
}

package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDefaults(t *testing.T) {
	r := NewRegistry()

	tpl, err := r.Resolve("portrait-1080", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1080, tpl.Width)
	assert.Equal(t, 1920, tpl.Height)
	assert.Equal(t, 30, tpl.FPS)
	assert.True(t, tpl.Ducking)
	require.NotNil(t, tpl.DefaultTransition)
	assert.Equal(t, 0.5, tpl.DefaultTransition.Duration)
}

func TestResolveEmptyNameUsesDefaultTemplate(t *testing.T) {
	r := NewRegistry()

	tpl, err := r.Resolve("", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "portrait-1080", tpl.Name)
}

func TestResolveUnknownTemplate(t *testing.T) {
	r := NewRegistry()

	_, err := r.Resolve("no-such-template", nil, nil)
	assert.ErrorContains(t, err, "unknown template")
}

func TestResolveOverridesWinOverDefaults(t *testing.T) {
	r := NewRegistry()

	tpl, err := r.Resolve("portrait-1080", map[string]any{
		"fps":          60,
		"music_volume": 0.5,
		"caption_style": map[string]any{
			"font_size": 90,
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 60, tpl.FPS)
	assert.Equal(t, 0.5, tpl.MusicVolume)
	assert.Equal(t, 90, tpl.CaptionStyle.FontSize)
	// Untouched nested fields survive a partial override.
	assert.Equal(t, "Arial", tpl.CaptionStyle.FontName)
}

func TestResolveSubstitutesVariables(t *testing.T) {
	r := NewRegistry()

	tpl, err := r.Resolve("portrait-1080", map[string]any{
		"caption_style": map[string]any{
			"font_name": "{{brand_font}}",
		},
	}, map[string]string{"brand_font": "Inter"})
	require.NoError(t, err)
	assert.Equal(t, "Inter", tpl.CaptionStyle.FontName)
}

func TestResolveFailsOnUnresolvedPlaceholder(t *testing.T) {
	r := NewRegistry()

	_, err := r.Resolve("portrait-1080", map[string]any{
		"caption_style": map[string]any{
			"font_name": "{{missing}}",
		},
	}, nil)
	assert.ErrorContains(t, err, "unresolved template placeholder")
}

func TestLoadDirShadowsBuiltins(t *testing.T) {
	dir := t.TempDir()
	doc := []byte("name: portrait-1080\nwidth: 720\nheight: 1280\nfps: 24\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "portrait-1080.yaml"), doc, 0o644))

	r := NewRegistry()
	require.NoError(t, r.LoadDir(dir))

	tpl, err := r.Resolve("portrait-1080", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 720, tpl.Width)
	assert.Equal(t, 24, tpl.FPS)
}

func TestLoadDirMissingDirectoryIsFine(t *testing.T) {
	r := NewRegistry()
	assert.NoError(t, r.LoadDir(filepath.Join(t.TempDir(), "absent")))
}

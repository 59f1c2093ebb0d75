package compositor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/renderd/internal/config"
	"github.com/reelforge/renderd/internal/logger"
	"github.com/reelforge/renderd/internal/media"
	"github.com/reelforge/renderd/internal/narration"
	"github.com/reelforge/renderd/internal/templates"
)

func planEngine() *Engine {
	return NewEngine(nil, nil, nil, nil, templates.NewRegistry(), config.Default().Render, logger.Nop())
}

func fullTemplate(t *testing.T, e *Engine) templates.Template {
	t.Helper()
	tpl, err := e.registry.Resolve("portrait-1080", nil, nil)
	require.NoError(t, err)
	return tpl
}

func videoClip(d float64) ResolvedClip {
	return ResolvedClip{Spec: media.ClipSpec{Kind: media.ClipVideo, Duration: d}, Path: "/work/a.mp4"}
}

func argString(p *encodePlan) string {
	return strings.Join(p.args, " ")
}

func TestPlanTargetIsVisualTotal(t *testing.T) {
	e := planEngine()
	tpl := fullTemplate(t, e)

	p, err := e.plan(context.Background(), media.RenderRequest{Mode: media.ModeComposition},
		tpl, []ResolvedClip{videoClip(4), videoClip(6)}, "", nil, t.TempDir())
	require.NoError(t, err)

	// 4+6 minus the template's default 0.5s fade.
	assert.InDelta(t, 9.5, p.target, 1e-9)
	assert.Contains(t, argString(p), "-t 9.500")
}

func TestPlanNarrationExtendsTarget(t *testing.T) {
	e := planEngine()
	tpl := fullTemplate(t, e)

	narr := &narration.Clip{AudioPath: "/work/n.mp3", Duration: 15}
	p, err := e.plan(context.Background(), media.RenderRequest{Mode: media.ModeComposition},
		tpl, []ResolvedClip{videoClip(4), videoClip(6)}, "", narr, t.TempDir())
	require.NoError(t, err)

	assert.InDelta(t, 15.0, p.target, 1e-9)
	// The final clip freezes for the 5.5s the narration outlasts the
	// visuals.
	assert.Contains(t, argString(p), "tpad=stop_mode=clone:stop_duration=5.500")
}

func TestPlanShorterNarrationDoesNotShrinkTarget(t *testing.T) {
	e := planEngine()
	tpl := fullTemplate(t, e)

	narr := &narration.Clip{AudioPath: "/work/n.mp3", Duration: 3}
	p, err := e.plan(context.Background(), media.RenderRequest{Mode: media.ModeComposition},
		tpl, []ResolvedClip{videoClip(4), videoClip(6)}, "", narr, t.TempDir())
	require.NoError(t, err)

	assert.InDelta(t, 9.5, p.target, 1e-9)
	assert.NotContains(t, argString(p), "tpad")
}

func TestPlanDraftQuality(t *testing.T) {
	e := planEngine()
	tpl := fullTemplate(t, e)

	p, err := e.plan(context.Background(),
		media.RenderRequest{Mode: media.ModeComposition, Quality: media.QualityDraft},
		tpl, []ResolvedClip{videoClip(4)}, "", nil, t.TempDir())
	require.NoError(t, err)
	doc := argString(p)

	// 1080/3=360, 1920/3=640, both already even.
	assert.Contains(t, doc, "scale=360:640")
	assert.Contains(t, doc, "-preset ultrafast")
}

func TestPlanFullQualityUsesTemplateResolution(t *testing.T) {
	e := planEngine()
	tpl := fullTemplate(t, e)

	p, err := e.plan(context.Background(),
		media.RenderRequest{Mode: media.ModeComposition, Quality: media.QualityFull},
		tpl, []ResolvedClip{videoClip(4)}, "", nil, t.TempDir())
	require.NoError(t, err)
	doc := argString(p)

	assert.Contains(t, doc, "scale=1080:1920")
	assert.Contains(t, doc, "-preset medium")
}

func TestPlanOutputFormats(t *testing.T) {
	e := planEngine()
	tpl := fullTemplate(t, e)

	cases := []struct {
		format media.OutputFormat
		codec  string
	}{
		{media.FormatMP4, "libx264"},
		{media.FormatWebM, "libvpx-vp9"},
		{media.FormatMOV, "libx264"},
		{"", "libx264"}, // default container is mp4
	}
	for _, tc := range cases {
		p, err := e.plan(context.Background(),
			media.RenderRequest{Mode: media.ModeComposition, OutputFormat: tc.format},
			tpl, []ResolvedClip{videoClip(4)}, "", nil, t.TempDir())
		require.NoError(t, err)
		assert.Contains(t, argString(p), tc.codec)
		if tc.format == "" {
			assert.Equal(t, media.FormatMP4, p.format)
		}
	}
}

func TestPlanClipTransitionOverridesTemplateDefault(t *testing.T) {
	e := planEngine()
	tpl := fullTemplate(t, e)

	clips := []ResolvedClip{
		videoClip(4),
		{Spec: media.ClipSpec{Kind: media.ClipVideo, Duration: 4,
			Transition: &media.TransitionSpec{Type: media.TransitionWipeLeft, Duration: 1}}, Path: "/work/b.mp4"},
	}
	p, err := e.plan(context.Background(), media.RenderRequest{Mode: media.ModeComposition},
		tpl, clips, "", nil, t.TempDir())
	require.NoError(t, err)

	assert.Contains(t, argString(p), "xfade=transition=wipeleft:duration=1.000")
	assert.InDelta(t, 7.0, p.target, 1e-9)
}

func TestPlanMusicVolumeOverride(t *testing.T) {
	e := planEngine()
	tpl := fullTemplate(t, e)

	vol := 0.8
	p, err := e.plan(context.Background(),
		media.RenderRequest{Mode: media.ModeComposition, Music: &media.MusicSpec{Source: "local://m.mp3", Volume: &vol}},
		tpl, []ResolvedClip{videoClip(4)}, "/work/m.mp3", nil, t.TempDir())
	require.NoError(t, err)

	assert.Contains(t, argString(p), "volume=0.800")
}

func TestPlanProgressBar(t *testing.T) {
	e := planEngine()
	tpl := fullTemplate(t, e)
	tpl.ProgressBar.Enabled = true

	p, err := e.plan(context.Background(), media.RenderRequest{Mode: media.ModeComposition},
		tpl, []ResolvedClip{videoClip(4)}, "", nil, t.TempDir())
	require.NoError(t, err)

	assert.Contains(t, argString(p), "drawbox=x=0:y=ih-12")
}

func TestPlanBurnsNarrationSubtitles(t *testing.T) {
	e := planEngine()
	tpl := fullTemplate(t, e)

	narr := &narration.Clip{
		AudioPath: "/work/n.mp3",
		Duration:  2,
		Words:     []media.WordTiming{{Word: "hello", Start: 0, End: 0.5}},
	}
	p, err := e.plan(context.Background(),
		media.RenderRequest{
			Mode:      media.ModeComposition,
			Narration: &media.NarrationSpec{Text: "hello"},
			Subtitles: &media.SubtitleSpec{Enabled: true},
		},
		tpl, []ResolvedClip{videoClip(4)}, "", narr, t.TempDir())
	require.NoError(t, err)

	assert.Contains(t, argString(p), "ass=")
}

func TestPlanEstimatesSubtitleTimingsWithoutProviderWords(t *testing.T) {
	e := planEngine()
	tpl := fullTemplate(t, e)

	// The provider returned no word timings and timestamps were not
	// requested; enabled captions still get an estimated track.
	narr := &narration.Clip{AudioPath: "/work/n.mp3", Duration: 2}
	p, err := e.plan(context.Background(),
		media.RenderRequest{
			Mode:      media.ModeComposition,
			Narration: &media.NarrationSpec{Text: "hello there"},
			Subtitles: &media.SubtitleSpec{Enabled: true},
		},
		tpl, []ResolvedClip{videoClip(4)}, "", narr, t.TempDir())
	require.NoError(t, err)

	assert.Contains(t, argString(p), "ass=")
}

func TestGeometryForDraftRoundsToEven(t *testing.T) {
	tpl := templates.Template{Width: 1080, Height: 1920, FPS: 30}
	geo := geometryFor(tpl, media.QualityDraft)
	assert.Equal(t, 360, geo.width)
	assert.Equal(t, 640, geo.height)

	tpl = templates.Template{Width: 1280, Height: 720, FPS: 30}
	geo = geometryFor(tpl, media.QualityDraft)
	// 1280/3=426 (even), 720/3=240.
	assert.Equal(t, 426, geo.width)
	assert.Equal(t, 240, geo.height)
	assert.Zero(t, geo.width%2)
	assert.Zero(t, geo.height%2)
}

func TestEscapeFilterPath(t *testing.T) {
	assert.Equal(t, `'/tmp/a\:b.ass'`, escapeFilterPath("/tmp/a:b.ass"))
	assert.Equal(t, `'/tmp/it\'s.ass'`, escapeFilterPath("/tmp/it's.ass"))
}

package compositor

import (
	"fmt"
	"math"

	"github.com/reelforge/renderd/internal/media"
	"github.com/reelforge/renderd/internal/templates"
)

// ResolvedClip is a request clip with its asset materialized and probed.
type ResolvedClip struct {
	Spec           media.ClipSpec
	Path           string
	SourceDuration float64 // probed container duration; zero for images
}

// EffectiveDuration is the time the clip occupies on the output timeline:
// the requested duration, or for videos without one the full source length,
// both divided by the playback speed.
func (c ResolvedClip) EffectiveDuration() float64 {
	speed := c.Spec.Speed
	if speed == 0 {
		speed = 1
	}
	d := c.Spec.Duration
	if d == 0 {
		d = c.SourceDuration
	}
	return d / speed
}

// renderGeometry is the normalized output raster every clip chain produces.
type renderGeometry struct {
	width  int
	height int
	fps    int
}

// buildClipChain normalizes one clip to the render geometry and returns its
// output stream. holdExtra extends the clip's tail by freezing the last
// frame (videos) or holding the pan/zoom endpoint (images); it is non-zero
// only on the final clip when narration outlasts the visuals.
func buildClipChain(g *Graph, inputIndex int, clip ResolvedClip, geo renderGeometry, grade templates.ColorGrade, holdExtra float64) Stream {
	if clip.Spec.Kind == media.ClipImage {
		return buildImageChain(g, inputIndex, clip, geo, grade, holdExtra)
	}
	return buildVideoChain(g, inputIndex, clip, geo, grade, holdExtra)
}

func buildVideoChain(g *Graph, inputIndex int, clip ResolvedClip, geo renderGeometry, grade templates.ColorGrade, holdExtra float64) Stream {
	speed := clip.Spec.Speed
	if speed == 0 {
		speed = 1
	}
	effective := clip.EffectiveDuration()

	// Trim in source time, then retime to the output timeline.
	filters := []string{
		fmt.Sprintf("trim=duration=%.3f", effective*speed),
		fmt.Sprintf("setpts=PTS/%.3f", speed),
	}
	filters = append(filters, fitFilters(clip.Spec.BlurBackground, geo)...)
	filters = append(filters, fmt.Sprintf("fps=%d", geo.fps), "setsar=1", "format=yuv420p")
	if grade.Enabled() {
		filters = append(filters, eqFilter(grade))
	}
	if holdExtra > 0 {
		filters = append(filters, fmt.Sprintf("tpad=stop_mode=clone:stop_duration=%.3f", holdExtra))
	}
	return g.Chain(Input(inputIndex, "v"), "v", filters...)
}

// buildImageChain animates a still through zoompan. The frame count encodes
// the clip duration: d = round(duration * fps).
func buildImageChain(g *Graph, inputIndex int, clip ResolvedClip, geo renderGeometry, grade templates.ColorGrade, holdExtra float64) Stream {
	frames := int(math.Round(clip.EffectiveDuration() * float64(geo.fps)))
	if frames < 1 {
		frames = 1
	}

	filters := []string{
		// Upscale before zoompan so subpixel panning does not shimmer.
		fmt.Sprintf("scale=%d:-2", geo.width*4),
		zoompanFilter(clip.Spec.Effect, frames, geo),
		"setsar=1",
		"format=yuv420p",
	}
	if grade.Enabled() {
		filters = append(filters, eqFilter(grade))
	}
	if holdExtra > 0 {
		// The animation keeps its declared pace; the endpoint frame is
		// cloned for the hold.
		filters = append(filters, fmt.Sprintf("tpad=stop_mode=clone:stop_duration=%.3f", holdExtra))
	}
	return g.Chain(Input(inputIndex, "v"), "v", filters...)
}

// fitFilters letterboxes the source into the render raster, either with
// black bars or with a blurred copy of the source behind it.
func fitFilters(blurBackground bool, geo renderGeometry) []string {
	if !blurBackground {
		return []string{
			fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", geo.width, geo.height),
			fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", geo.width, geo.height),
		}
	}
	// The blurred-background fit needs a split and overlay, which cannot be
	// expressed as a linear chain; it is folded into one chain body using
	// intermediate labels local to the filter string.
	return []string{
		fmt.Sprintf("split=2[bgsrc][fgsrc];[bgsrc]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,boxblur=20:2[bg];[fgsrc]scale=%d:%d:force_original_aspect_ratio=decrease[fg];[bg][fg]overlay=(W-w)/2:(H-h)/2",
			geo.width, geo.height, geo.width, geo.height, geo.width, geo.height),
	}
}

func eqFilter(grade templates.ColorGrade) string {
	contrast, saturation := grade.Contrast, grade.Saturation
	if contrast == 0 {
		contrast = 1
	}
	if saturation == 0 {
		saturation = 1
	}
	return fmt.Sprintf("eq=contrast=%.3f:saturation=%.3f:brightness=%.3f", contrast, saturation, grade.Brightness)
}

// zoompanFilter builds the pan/zoom expression for one image effect. frames
// is the total frame count d; zoompan evaluates the expressions once per
// output frame with `on` counting up to d.
func zoompanFilter(effect media.ImageEffect, frames int, geo renderGeometry) string {
	size := fmt.Sprintf("s=%dx%d:fps=%d", geo.width, geo.height, geo.fps)
	center := "x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)'"
	switch effect {
	case media.EffectZoomOut:
		return fmt.Sprintf("zoompan=z='if(eq(on,1),1.3,max(1.0,zoom-%.5f))':%s:d=%d:%s",
			0.3/float64(frames), center, frames, size)
	case media.EffectPanLeft:
		return fmt.Sprintf("zoompan=z=1.2:x='(iw-iw/zoom)*(1-on/%d)':y='ih/2-(ih/zoom/2)':d=%d:%s", frames, frames, size)
	case media.EffectPanRight:
		return fmt.Sprintf("zoompan=z=1.2:x='(iw-iw/zoom)*on/%d':y='ih/2-(ih/zoom/2)':d=%d:%s", frames, frames, size)
	default: // zoom-in is also the fallback for an unset effect
		return fmt.Sprintf("zoompan=z='min(zoom+%.5f,1.3)':%s:d=%d:%s",
			0.3/float64(frames), center, frames, size)
	}
}

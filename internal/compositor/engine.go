package compositor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/reelforge/renderd/internal/assets"
	"github.com/reelforge/renderd/internal/config"
	"github.com/reelforge/renderd/internal/ffmpeg"
	"github.com/reelforge/renderd/internal/media"
	"github.com/reelforge/renderd/internal/narration"
	"github.com/reelforge/renderd/internal/subtitles"
	"github.com/reelforge/renderd/internal/templates"
)

// downloadParallelism bounds concurrent asset fetches per job.
const downloadParallelism = 4

// Engine runs composition renders: the full filter-graph pipeline with
// transitions, effects, audio mixing, and subtitle burn-in.
type Engine struct {
	resolver  *assets.Resolver
	narration *narration.Facade
	runner    *ffmpeg.Runner
	prober    *ffmpeg.Prober
	registry  *templates.Registry
	cfg       config.RenderConfig
	logger    hclog.Logger
}

// NewEngine wires a composition engine from its collaborators.
func NewEngine(resolver *assets.Resolver, facade *narration.Facade, runner *ffmpeg.Runner,
	prober *ffmpeg.Prober, registry *templates.Registry, cfg config.RenderConfig, logger hclog.Logger) *Engine {
	return &Engine{
		resolver:  resolver,
		narration: facade,
		runner:    runner,
		prober:    prober,
		registry:  registry,
		cfg:       cfg,
		logger:    logger.Named("compositor"),
	}
}

// Mode reports which request mode this engine serves.
func (e *Engine) Mode() media.Mode { return media.ModeComposition }

// Run executes one composition job inside workdir. progress is invoked with
// a human-readable stage name as the pipeline advances.
func (e *Engine) Run(ctx context.Context, req media.RenderRequest, workdir string, progress func(stage string)) (*media.RenderResult, error) {
	tpl, err := e.registry.Resolve(req.Template, req.TemplateOverrides, req.Variables)
	if err != nil {
		return nil, err
	}

	progress("resolving assets")
	clips, musicPath, narrClip, err := e.gatherInputs(ctx, req, workdir, progress)
	if err != nil {
		return nil, err
	}

	progress("building filters")
	plan, err := e.plan(ctx, req, tpl, clips, musicPath, narrClip, workdir)
	if err != nil {
		return nil, err
	}

	progress("encoding")
	outPath := filepath.Join(workdir, "output."+string(plan.format))
	args := append(plan.args, outPath)
	if err := e.runner.Run(ctx, args, e.cfg.EncodeTimeout); err != nil {
		return nil, err
	}

	progress("post-processing")
	result := &media.RenderResult{OutputPath: outPath, Duration: plan.target}
	if dur, err := e.prober.Duration(ctx, outPath); err == nil {
		result.Duration = dur
	}
	if thumb, err := e.thumbnail(ctx, outPath, plan.target, workdir); err == nil {
		result.ThumbnailPath = thumb
	} else {
		e.logger.Warn("thumbnail extraction failed", "error", err)
	}
	return result, nil
}

// gatherInputs materializes every asset the request names. Downloads run in
// parallel under a bounded group; narration synthesis joins the same group
// since it is network-bound too.
func (e *Engine) gatherInputs(ctx context.Context, req media.RenderRequest, workdir string, progress func(string)) ([]ResolvedClip, string, *narration.Clip, error) {
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(downloadParallelism)

	clips := make([]ResolvedClip, len(req.Clips))
	for i, spec := range req.Clips {
		i, spec := i, spec
		grp.Go(func() error {
			path, err := e.resolver.Resolve(grpCtx, assets.Descriptor{
				Source: spec.Source,
				Query:  spec.Query,
				Kind:   assetKind(spec.Kind),
			}, workdir)
			if err != nil {
				return fmt.Errorf("clip %d: %w", i, err)
			}
			clips[i] = ResolvedClip{Spec: spec, Path: path}
			return nil
		})
	}

	var musicPath string
	if req.Music != nil {
		grp.Go(func() error {
			path, err := e.resolver.Resolve(grpCtx, assets.Descriptor{
				Source: req.Music.Source,
				Kind:   assets.KindAudio,
			}, workdir)
			if err != nil {
				return fmt.Errorf("music: %w", err)
			}
			musicPath = path
			return nil
		})
	}

	var narrClip *narration.Clip
	if req.Narration != nil {
		grp.Go(func() error {
			progress("synthesizing narration")
			clip, err := e.narration.Synthesize(grpCtx, *req.Narration, workdir)
			if err != nil {
				return err
			}
			narrClip = clip
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return nil, "", nil, err
	}

	// Videos without an explicit duration play out their full source; probe
	// for it now that the files are local.
	for i := range clips {
		if clips[i].Spec.Kind == media.ClipVideo && clips[i].Spec.Duration == 0 {
			dur, err := e.prober.Duration(ctx, clips[i].Path)
			if err != nil {
				return nil, "", nil, fmt.Errorf("clip %d: %w", i, err)
			}
			clips[i].SourceDuration = dur
		}
	}

	if narrClip != nil && narrClip.Duration == 0 {
		if dur, err := e.prober.Duration(ctx, narrClip.AudioPath); err == nil {
			narrClip.Duration = dur
		} else {
			narrClip.Duration = narration.EstimatedDuration(req.Narration.Text)
		}
	}
	return clips, musicPath, narrClip, nil
}

// encodePlan is the fully determined ffmpeg invocation minus the output
// path.
type encodePlan struct {
	args   []string
	target float64
	format media.OutputFormat
}

func (e *Engine) plan(ctx context.Context, req media.RenderRequest, tpl templates.Template,
	clips []ResolvedClip, musicPath string, narrClip *narration.Clip, workdir string) (*encodePlan, error) {

	quality := req.Quality
	if quality == "" {
		quality = media.QualityFull
	}
	geo := geometryFor(tpl, quality)

	// Per-clip transitions fall back to the template default.
	transitions := make([]*media.TransitionSpec, len(clips))
	durations := make([]float64, len(clips))
	for i, c := range clips {
		durations[i] = c.EffectiveDuration()
		if i == 0 {
			continue
		}
		if c.Spec.Transition != nil {
			transitions[i] = c.Spec.Transition
		} else {
			transitions[i] = tpl.DefaultTransition
		}
	}

	visualTotal := TotalDuration(durations, transitions)
	target := visualTotal
	var holdExtra float64
	if narrClip != nil && narrClip.Duration > target {
		// Narration outlasts the visuals; freeze the final clip until the
		// voice finishes.
		holdExtra = narrClip.Duration - target
		target = narrClip.Duration
	}

	g := NewGraph()
	segments := make([]segment, len(clips))
	for i, c := range clips {
		hold := 0.0
		if i == len(clips)-1 {
			hold = holdExtra
		}
		stream := buildClipChain(g, i, c, geo, tpl.ColorGrade, hold)
		segments[i] = segment{stream: stream, duration: durations[i] + hold, transition: transitions[i]}
	}
	video, _ := buildTransitionChain(g, segments)

	if tpl.ProgressBar.Enabled {
		video = g.Chain(video, "pb", progressBarFilter(tpl.ProgressBar, target))
	}

	if subPath, err := e.compileSubtitles(ctx, req, tpl, narrClip, geo, workdir); err != nil {
		return nil, err
	} else if subPath != "" {
		video = g.Chain(video, "sub", "ass="+escapeFilterPath(subPath))
	}

	inputs := make([]string, 0, 2*(len(clips)+2))
	for _, c := range clips {
		inputs = append(inputs, "-i", c.Path)
	}
	narrIndex, musicIndex := -1, -1
	if narrClip != nil {
		narrIndex = len(inputs) / 2
		inputs = append(inputs, "-i", narrClip.AudioPath)
	}
	if musicPath != "" {
		musicIndex = len(inputs) / 2
		inputs = append(inputs, "-i", musicPath)
	}

	musicVolume := tpl.MusicVolume
	if req.Music != nil && req.Music.Volume != nil {
		musicVolume = *req.Music.Volume
	}
	audio := buildAudioGraph(g, audioOptions{
		target:         target,
		narrationInput: narrIndex,
		musicInput:     musicIndex,
		musicVolume:    musicVolume,
		ducking:        tpl.Ducking,
	})

	format := req.OutputFormat
	if format == "" {
		format = media.FormatMP4
	}

	args := []string{"-y", "-hide_banner"}
	args = append(args, inputs...)
	args = append(args,
		"-filter_complex", g.String(),
		"-map", string(video),
		"-map", string(audio),
		"-t", ffmpeg.FormatSeconds(target),
	)
	args = append(args, codecArgs(format, quality)...)
	return &encodePlan{args: args, target: target, format: format}, nil
}

// compileSubtitles picks the caption source in priority order: narration
// word timings, an imported SRT, direct lines, and finally timings estimated
// from the narration text. It returns "" when the request carries no
// captions.
func (e *Engine) compileSubtitles(ctx context.Context, req media.RenderRequest, tpl templates.Template,
	narrClip *narration.Clip, geo renderGeometry, workdir string) (string, error) {
	if req.Subtitles == nil || !req.Subtitles.Enabled {
		return "", nil
	}

	in := subtitles.Input{Lines: req.Subtitles.Lines}
	if narrClip != nil {
		in.Words = narrClip.Words
	}
	if len(in.Words) == 0 && req.Subtitles.ImportURL != "" {
		path, err := e.resolver.Resolve(ctx, assets.Descriptor{Source: req.Subtitles.ImportURL}, workdir)
		if err != nil {
			return "", fmt.Errorf("subtitle import: %w", err)
		}
		in.SRTPath = path
	}
	if len(in.Words) == 0 && in.SRTPath == "" && len(in.Lines) == 0 && req.Narration != nil {
		in.Words = narration.EstimateTimings(req.Narration.Text)
	}

	compiler := subtitles.NewCompiler(tpl.CaptionStyle, geo.width, geo.height)
	return compiler.Compile(in, workdir)
}

func (e *Engine) thumbnail(ctx context.Context, outPath string, duration float64, workdir string) (string, error) {
	thumb := filepath.Join(workdir, "thumbnail.jpg")
	args := []string{
		"-y", "-hide_banner",
		"-ss", ffmpeg.FormatSeconds(duration / 2),
		"-i", outPath,
		"-frames:v", "1",
		"-q:v", "3",
		thumb,
	}
	if err := e.runner.Run(ctx, args, e.cfg.EncodeTimeout); err != nil {
		return "", err
	}
	if _, err := os.Stat(thumb); err != nil {
		return "", err
	}
	return thumb, nil
}

// geometryFor derives the render raster. Draft renders at one third linear
// resolution, rounded to even dimensions as the encoders require.
func geometryFor(tpl templates.Template, quality media.Quality) renderGeometry {
	w, h := tpl.Width, tpl.Height
	if quality == media.QualityDraft {
		w, h = evenDim(w/3), evenDim(h/3)
	}
	return renderGeometry{width: w, height: h, fps: tpl.FPS}
}

func evenDim(d int) int {
	if d%2 != 0 {
		d++
	}
	if d < 2 {
		d = 2
	}
	return d
}

func codecArgs(format media.OutputFormat, quality media.Quality) []string {
	preset := "medium"
	crf := "20"
	if quality == media.QualityDraft {
		preset = "ultrafast"
		crf = "28"
	}
	switch format {
	case media.FormatWebM:
		return []string{"-c:v", "libvpx-vp9", "-crf", crf, "-b:v", "0", "-c:a", "libopus", "-b:a", "128k"}
	case media.FormatMOV:
		return []string{"-c:v", "libx264", "-preset", preset, "-crf", crf, "-c:a", "aac", "-b:a", "192k", "-movflags", "+faststart"}
	default:
		return []string{"-c:v", "libx264", "-preset", preset, "-crf", crf, "-pix_fmt", "yuv420p",
			"-c:a", "aac", "-b:a", "192k", "-movflags", "+faststart"}
	}
}

// progressBarFilter draws a bar along the bottom edge growing linearly over
// the whole runtime.
func progressBarFilter(bar templates.ProgressBar, total float64) string {
	colour := bar.Colour
	if colour == "" {
		colour = "white"
	}
	height := bar.Height
	if height <= 0 {
		height = 12
	}
	return fmt.Sprintf("drawbox=x=0:y=ih-%d:w='iw*t/%.3f':h=%d:color=%s@0.85:t=fill",
		height, total, height, colour)
}

// escapeFilterPath quotes a path for use inside a filter argument.
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, `\`, `\\`)
	path = strings.ReplaceAll(path, `'`, `\'`)
	path = strings.ReplaceAll(path, `:`, `\:`)
	return "'" + path + "'"
}

func assetKind(k media.ClipKind) assets.Kind {
	if k == media.ClipImage {
		return assets.KindImage
	}
	return assets.KindVideo
}

// Package assembly implements the lossless cut pipeline: each segment is
// trimmed out of its source with stream copy, never re-encoded, and the
// trimmed parts are joined through the concat demuxer. Cut points snap to
// keyframes, which is the accepted imprecision of a copy-only pipeline.
package assembly

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
)

const downloadParallelism = 4

// Engine runs assembly renders.
type Engine struct {
	resolver *assets.Resolver
	runner   *ffmpeg.Runner
	prober   *ffmpeg.Prober
	cfg      config.RenderConfig
	logger   hclog.Logger
}

// NewEngine wires an assembly engine from its collaborators.
func NewEngine(resolver *assets.Resolver, runner *ffmpeg.Runner, prober *ffmpeg.Prober,
	cfg config.RenderConfig, logger hclog.Logger) *Engine {
	return &Engine{
		resolver: resolver,
		runner:   runner,
		prober:   prober,
		cfg:      cfg,
		logger:   logger.Named("assembly"),
	}
}

// Mode reports which request mode this engine serves.
func (e *Engine) Mode() media.Mode { return media.ModeAssembly }

// Run executes one assembly job inside workdir.
func (e *Engine) Run(ctx context.Context, req media.RenderRequest, workdir string, progress func(stage string)) (*media.RenderResult, error) {
	progress("resolving assets")
	sources, err := e.resolveSources(ctx, req.Segments, workdir)
	if err != nil {
		return nil, err
	}

	progress("trimming segments")
	parts := make([]string, len(req.Segments))
	for i, seg := range req.Segments {
		part := filepath.Join(workdir, fmt.Sprintf("part-%03d.mp4", i))
		args := []string{
			"-y", "-hide_banner",
			"-ss", ffmpeg.FormatSeconds(seg.Start),
			"-to", ffmpeg.FormatSeconds(seg.End),
			"-i", sources[i],
			"-c", "copy",
			"-avoid_negative_ts", "make_zero",
			part,
		}
		if err := e.runner.Run(ctx, args, e.cfg.EncodeTimeout); err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		parts[i] = part
	}

	progress("concatenating")
	listPath, err := writeConcatList(workdir, parts)
	if err != nil {
		return nil, err
	}
	outPath := filepath.Join(workdir, "output.mp4")
	args := []string{
		"-y", "-hide_banner",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		outPath,
	}
	if err := e.runner.Run(ctx, args, e.cfg.EncodeTimeout); err != nil {
		return nil, err
	}

	progress("post-processing")
	result := &media.RenderResult{OutputPath: outPath}
	if dur, err := e.prober.Duration(ctx, outPath); err == nil {
		result.Duration = dur
	}
	if thumb, err := e.thumbnail(ctx, outPath, result.Duration, workdir); err == nil {
		result.ThumbnailPath = thumb
	} else {
		e.logger.Warn("thumbnail extraction failed", "error", err)
	}
	return result, nil
}

// resolveSources downloads every distinct source once and maps each segment
// onto its local copy.
func (e *Engine) resolveSources(ctx context.Context, segments []media.SegmentSpec, workdir string) ([]string, error) {
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(downloadParallelism)

	byURL := make(map[string]*string)
	for _, seg := range segments {
		if _, ok := byURL[seg.SourceURL]; ok {
			continue
		}
		slot := new(string)
		byURL[seg.SourceURL] = slot
		url := seg.SourceURL
		grp.Go(func() error {
			path, err := e.resolver.Resolve(grpCtx, assets.Descriptor{Source: url, Kind: assets.KindVideo}, workdir)
			if err != nil {
				return err
			}
			*slot = path
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	sources := make([]string, len(segments))
	for i, seg := range segments {
		sources[i] = *byURL[seg.SourceURL]
	}
	return sources, nil
}

// writeConcatList emits the concat demuxer's file list. Single quotes in
// paths are escaped the way the demuxer expects.
func writeConcatList(workdir string, parts []string) (string, error) {
	var b strings.Builder
	for _, p := range parts {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(p, "'", `'\''`))
	}
	listPath := filepath.Join(workdir, "concat.txt")
	if err := os.WriteFile(listPath, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}
	return listPath, nil
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
	return thumb, nil
}

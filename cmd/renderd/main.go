// renderd is the short-form video render daemon: it accepts declarative
// render requests over HTTP, queues them, and produces finished videos
// through the composition and assembly engines.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reelforge/renderd/internal/assembly"
	"github.com/reelforge/renderd/internal/assets"
	"github.com/reelforge/renderd/internal/compositor"
	"github.com/reelforge/renderd/internal/config"
	"github.com/reelforge/renderd/internal/database"
	"github.com/reelforge/renderd/internal/ffmpeg"
	"github.com/reelforge/renderd/internal/jobs"
	"github.com/reelforge/renderd/internal/logger"
	"github.com/reelforge/renderd/internal/narration"
	"github.com/reelforge/renderd/internal/server"
	"github.com/reelforge/renderd/internal/storage"
	"github.com/reelforge/renderd/internal/templates"
)

func main() {
	configPath := flag.String("config", "renderd.yaml", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "renderd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Logging.Level)
	log.Info("starting renderd", "database", cfg.Database.Type, "workdir", cfg.Jobs.WorkDir)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	store, err := jobs.NewStore(db)
	if err != nil {
		return err
	}

	registry := templates.NewRegistry()
	if err := registry.LoadDir(cfg.Render.TemplateDir); err != nil {
		return err
	}

	searcher := assets.NewHTTPStockSearcher(cfg.Narration.StockSearchURL, cfg.Render.DownloadTimeout)
	var stock assets.StockSearcher
	if searcher != nil {
		stock = searcher
	}
	resolver := assets.NewResolver(cfg.Render.LocalAssetDir, cfg.Render.MaxAssetBytes,
		cfg.Render.DownloadTimeout, stock, log)

	providers := make([]narration.Provider, 0, len(cfg.Narration.Providers))
	for _, pc := range cfg.Narration.Providers {
		providers = append(providers, narration.NewHTTPProvider(pc, cfg.Render.DownloadTimeout))
	}
	facade := narration.NewFacade(providers, log)

	runner := ffmpeg.NewRunner(cfg.Render.FFmpegBin, log)
	prober := ffmpeg.NewProber(cfg.Render.FFprobeBin)

	engines := []jobs.Engine{
		compositor.NewEngine(resolver, facade, runner, prober, registry, cfg.Render, log),
		assembly.NewEngine(resolver, runner, prober, cfg.Render, log),
	}

	publisher := storage.NewLocalPublisher(cfg.Render.PublishDir, cfg.Render.PublishBaseURL)
	webhooks := jobs.NewWebhookSender(cfg.Jobs.WebhookRetries, cfg.Jobs.WebhookTimeout, log)

	manager, err := jobs.NewManager(store, engines, publisher, webhooks, cfg.Jobs, log)
	if err != nil {
		return err
	}
	manager.Start()
	defer manager.Stop()

	srv := server.New(manager, registry, cfg.Server, log)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}
	return nil
}

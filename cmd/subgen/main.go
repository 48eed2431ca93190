package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxsub/subgen/internal/api"
	"github.com/voxsub/subgen/internal/config"
	"github.com/voxsub/subgen/internal/fetch"
	"github.com/voxsub/subgen/internal/jobstore"
	"github.com/voxsub/subgen/internal/media"
	"github.com/voxsub/subgen/internal/metrics"
	"github.com/voxsub/subgen/internal/pipeline"
	"github.com/voxsub/subgen/internal/speech"
	"github.com/voxsub/subgen/internal/storage"
	"github.com/voxsub/subgen/internal/translate"

	"github.com/prometheus/client_golang/prometheus"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "HTTP listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace|debug|info|warn|error)")
	flag.StringVar(&overrides.WorkDir, "work-dir", "", "scratch directory for per-run temp files")
	flag.StringVar(&overrides.DataDir, "data-dir", "", "directory for the jobs database and local artifacts")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("subgen starting")

	if !media.CheckFFmpeg() {
		log.Warn().Msg("ffmpeg not found in PATH; jobs will fail at extraction")
	}

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Artifact storage
	storeLog := log.With().Str("component", "storage").Logger()
	store, err := storage.New(cfg.S3, cfg.DataDir, storeLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init storage")
	}
	log.Info().Str("type", store.Type()).Msg("storage ready")

	// Job persistence
	jobs, err := jobstore.Open(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open job store")
	}
	defer jobs.Close()

	// Pipeline
	bus := pipeline.NewBus()
	orch := pipeline.NewOrchestrator(pipeline.OrchestratorOptions{
		Fetcher:    fetch.New(store),
		Speech:     speech.NewClient(cfg.Speech, cfg.Retry, log),
		Translator: translate.NewClient(cfg.Translate, cfg.Retry, log),
		Store:      store,
		Cue:        cfg.Cue,
		SampleRate: cfg.Speech.SampleRate,
		WorkDir:    cfg.WorkDir,
		Bus:        bus,
		OnStage: func(jobID string, stage pipeline.Stage) {
			if stage == pipeline.StageDone {
				return // MarkDone records the terminal state
			}
			if err := jobs.SetStage(context.Background(), jobID, string(stage)); err != nil {
				log.Warn().Err(err).Str("job_id", jobID).Str("stage", string(stage)).Msg("failed to record stage")
			}
		},
		Log: log,
	})

	pool := pipeline.NewWorkerPool(pipeline.WorkerPoolOptions{
		Runner:     orch,
		Jobs:       jobs,
		Workers:    cfg.Workers,
		QueueSize:  cfg.QueueSize,
		RunTimeout: cfg.Speech.Timeout + cfg.Translate.Timeout + 30*time.Minute,
		Log:        log,
	})
	pool.Start()

	prometheus.MustRegister(metrics.NewCollector(pool, bus))

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(api.ServerOptions{
		Config:    cfg,
		Jobs:      jobs,
		Pool:      pool,
		Store:     store,
		Bus:       bus,
		Version:   version,
		StartTime: startTime,
		Log:       httpLog,
	})

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	pool.Stop()

	log.Info().Msg("subgen stopped")
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/curator-discovery/internal/api"
	"github.com/JakeFAU/curator-discovery/internal/automation"
	"github.com/JakeFAU/curator-discovery/internal/backoff"
	"github.com/JakeFAU/curator-discovery/internal/clock/system"
	"github.com/JakeFAU/curator-discovery/internal/config"
	"github.com/JakeFAU/curator-discovery/internal/crawler"
	"github.com/JakeFAU/curator-discovery/internal/id/uuid"
	"github.com/JakeFAU/curator-discovery/internal/logging"
	"github.com/JakeFAU/curator-discovery/internal/metrics"
	"github.com/JakeFAU/curator-discovery/internal/scoreapi"
	"github.com/JakeFAU/curator-discovery/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("curatord exited with error", zap.Error(err))
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	metrics.Init()

	tp, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  logging.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		Insecure:     cfg.Tracing.Insecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
	}()

	backends, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	if err := bootstrapSeeds(ctx, backends.store, cfg.Automation.Seeds); err != nil {
		return err
	}

	fetcher, err := scoreapi.New(scoreapi.Config{
		BaseURL:   cfg.ScoreAPI.BaseURL,
		APIKey:    cfg.ScoreAPI.APIKey,
		UserAgent: cfg.ScoreAPI.UserAgent,
		Timeout:   cfg.ScoreAPITimeout(),
	}, nil, logger.Named("scoreapi"))
	if err != nil {
		return fmt.Errorf("build score api client: %w", err)
	}

	clock := system.New()
	seedCrawler := crawler.New(crawler.Config{
		PageSize:       cfg.ScoreAPI.PageSize,
		InterPageDelay: cfg.Automation.InterPageDelay,
		Backoff: backoff.Config{
			BaseUnit: cfg.Automation.BackoffBase,
			Ceiling:  cfg.Automation.BackoffCeiling,
		},
		ArchivePrefix: cfg.Archive.Prefix,
	}, fetcher, clock, backends.archive, logger.Named("crawler"))

	orchestrator := automation.New(automation.Config{
		PriorityIDs:    cfg.Automation.PriorityIDs,
		InterSeedDelay: cfg.Automation.InterSeedDelay,
		SeedTimeout:    cfg.Automation.SeedTimeout,
		Topic:          cfg.PubSub.TopicName,
	}, backends.store, seedCrawler, backends.guard, uuid.New(), clock, clock, backends.publisher, logger.Named("automation"))

	apiServer := api.NewServer(api.Deps{
		Runner:     orchestrator,
		Reader:     backends.store,
		Seeds:      backends.store,
		Ready:      backends.Ready,
		RunContext: ctx,
	}, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	if cfg.Automation.RunOnStart {
		if runID, err := orchestrator.Start(ctx); err != nil {
			logger.Warn("startup run not started", zap.Error(err))
		} else {
			logger.Info("startup run started", zap.String("run_id", runID))
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutdown initiated")

	orchestrator.Cancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	orchestrator.Wait()
	logger.Info("shutdown complete")
	return runErr
}

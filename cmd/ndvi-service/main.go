package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/ndvi-trend-service/internal/adapter/httpadapter"
	"github.com/couchcryptid/ndvi-trend-service/internal/adapter/imagery"
	kafkaadapter "github.com/couchcryptid/ndvi-trend-service/internal/adapter/kafka"
	mongoadapter "github.com/couchcryptid/ndvi-trend-service/internal/adapter/mongo"
	"github.com/couchcryptid/ndvi-trend-service/internal/cache"
	"github.com/couchcryptid/ndvi-trend-service/internal/config"
	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
	"github.com/couchcryptid/ndvi-trend-service/internal/observability"
	"github.com/couchcryptid/ndvi-trend-service/internal/pipeline"
	"github.com/couchcryptid/ndvi-trend-service/internal/scheduler"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := newSource(cfg, metrics, logger)
	if err != nil {
		logger.Error("failed to configure imagery source", "error", err)
		os.Exit(1)
	}

	var sinks []pipeline.ResultSink
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		sinks = append(sinks, writer)
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaResultTopic)
	}

	var archive *mongoadapter.Archive
	if cfg.MongoURI != "" {
		archive, err = mongoadapter.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			logger.Error("failed to connect to mongo", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, archive)
	}

	engine, err := domain.NewForecastEngine(cfg.ForecastMinHistory, domain.DefaultConfidence)
	if err != nil {
		logger.Error("invalid forecast settings", "error", err)
		os.Exit(1)
	}

	results := cache.New(cfg.CacheSize)
	svc := pipeline.New(source, results, sinks, logger, metrics, pipeline.Options{
		Workers: cfg.WorkerCount,
		Horizon: cfg.ForecastHorizonMonths,
		Reducer: domain.NewReducer(cfg.SampleScaleMetres, cfg.MaxSamplePixels, cfg.AlertThreshold),
		Engine:  engine,
	})

	var warm []*domain.PipelineResult
	if archive != nil {
		warm, err = archive.Recent(ctx, cfg.CacheSize)
		if err != nil {
			logger.Warn("warm start from archive failed; starting empty", "error", err)
			warm = nil
		}
	}
	svc.Warm(warm)
	logger.Info("result cache warmed", "results", len(warm), "capacity", results.Capacity())

	srv := httpadapter.NewServer(cfg.HTTPAddr, readiness{Service: svc, archive: archive}, httpadapter.Defaults{
		QualityThreshold: cfg.QualityThreshold,
		HorizonMonths:    cfg.ForecastHorizonMonths,
	}, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	var sched *scheduler.Scheduler
	if cfg.WatchFile != "" {
		regions, err := scheduler.LoadWatchList(cfg.WatchFile)
		if err != nil {
			logger.Error("failed to load watch list", "error", err)
			os.Exit(1)
		}
		sched = scheduler.New(svc, regions, scheduler.Config{
			Interval:         cfg.ScheduleInterval,
			LookbackMonths:   cfg.WatchLookbackMonths,
			QualityThreshold: cfg.QualityThreshold,
		}, logger, metrics)
		if err := sched.Start(); err != nil {
			logger.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if sched != nil {
		sched.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("pipeline shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if archive != nil {
		if err := archive.Close(shutdownCtx); err != nil {
			logger.Error("mongo close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

func newSource(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (pipeline.ImageCollectionSource, error) {
	var inner pipeline.ImageCollectionSource
	switch cfg.ImagerySource {
	case "file":
		inner = imagery.NewFileSource(cfg.ImageryFile, logger)
		logger.Info("imagery from fixture file", "path", cfg.ImageryFile)
	case "http":
		inner = imagery.NewClient(cfg.ImageryBaseURL, cfg.ImageryToken, cfg.ImageryTimeout, metrics, logger)
		logger.Info("imagery from catalogue api", "base_url", cfg.ImageryBaseURL)
	default:
		return nil, errors.New("unknown IMAGERY_SOURCE " + cfg.ImagerySource)
	}
	return pipeline.NewRetryingSource(inner, pipeline.RetryPolicy{
		Attempts:   cfg.ImageryMaxAttempts,
		Timeout:    cfg.ImageryTimeout,
		Backoff:    cfg.ImageryBackoff,
		MaxBackoff: 30 * time.Second,
	}, logger, metrics), nil
}

// readiness adds the archive connection to the service readiness check.
type readiness struct {
	*pipeline.Service
	archive *mongoadapter.Archive
}

func (r readiness) CheckReadiness(ctx context.Context) error {
	if err := r.Service.CheckReadiness(ctx); err != nil {
		return err
	}
	if r.archive != nil {
		return r.archive.CheckReadiness(ctx)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/UnendingLoop/ImageAugmentor/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wb-go/wbf/zlog"
)

type workerSettings struct {
	logLevel     string
	dsn          string
	broker       string
	jobTopic     string
	groupID      string
	resultTopic  string
	augmentedDir string
	parallelism  int
	stageTimeout time.Duration
	metricsPort  string
}

// workerDefaults - дефолты для необязательных энвов воркера
var workerDefaults = config.Defaults{
	"LOG_LEVEL":          "info",
	"KAFKA_TOPIC":        "augmentation",
	"KAFKA_GROUPID":      "augmentation-workers",
	"KAFKA_RESULT_TOPIC": "augmentation-results",
	"AUGMENTED_DIR":      "augmented",
	"WORKER_PARALLELISM": runtime.NumCPU(),
	"STAGE_TIMEOUT":      2 * time.Minute,
	"METRICS_PORT":       "9100",
}

func loadSettings(cfg config.Getter) workerSettings {
	return workerSettings{
		logLevel:     cfg.GetString("LOG_LEVEL"),
		dsn:          config.Required(cfg, "POSTGRES_DSN"),
		broker:       config.Required(cfg, "KAFKA_BROKER"),
		jobTopic:     cfg.GetString("KAFKA_TOPIC"),
		groupID:      cfg.GetString("KAFKA_GROUPID"),
		resultTopic:  cfg.GetString("KAFKA_RESULT_TOPIC"),
		augmentedDir: cfg.GetString("AUGMENTED_DIR"),
		parallelism:  cfg.GetInt("WORKER_PARALLELISM"),
		stageTimeout: cfg.GetDuration("STAGE_TIMEOUT"),
		metricsPort:  cfg.GetString("METRICS_PORT"),
	}
}

func newMetricsServer(port string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func runMetricsServer(srv *http.Server, stop func()) {
	zlog.Logger.Info().Str("addr", srv.Addr).Msg("Metrics server running")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zlog.Logger.Error().Err(err).Msg("Metrics server stopped")
		stop()
	}
}

// runOrStop runs a consumer loop and cancels the app when the loop exits on its own
func runOrStop(ctx context.Context, component string, loop func(ctx context.Context), stop func()) {
	loop(ctx)
	if ctx.Err() == nil {
		zlog.Logger.Error().Str("component", component).Msg("Consumer loop stopped unexpectedly, shutting down")
		stop()
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/UnendingLoop/ImageAugmentor/internal/config"
	"github.com/UnendingLoop/ImageAugmentor/internal/mwlogger"
	"github.com/wb-go/wbf/dbpg"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/zlog"
)

const orphanBatch = 20

type apiSettings struct {
	logLevel           string
	appPort            string
	ginMode            string
	dsn                string
	broker             string
	jobTopic           string
	resultTopic        string
	resultGroupID      string
	accessSecret       string
	tempDir            string
	maxUpload          int64
	maxExtracted       int64
	sweepInterval      time.Duration
	retention          time.Duration
	userCacheSize      int
	userCacheTTL       time.Duration
	orphanAge          time.Duration
	orphanScanInterval time.Duration
}

// apiDefaults - дефолты для необязательных энвов api
var apiDefaults = config.Defaults{
	"LOG_LEVEL":            "info",
	"APP_PORT":             "8080",
	"GIN_MODE":             "release",
	"KAFKA_TOPIC":          "augmentation",
	"KAFKA_RESULT_TOPIC":   "augmentation-results",
	"KAFKA_RESULT_GROUPID": "augmentation-notifier",
	"TEMP_DIR":             "temp",
	"MAX_UPLOAD_BYTES":     int64(100 << 20),
	"MAX_EXTRACTED_BYTES":  int64(1 << 30),
	"SWEEP_INTERVAL":       10 * time.Minute,
	"RETENTION_WINDOW":     10 * time.Minute,
	"USER_CACHE_SIZE":      1024,
	"USER_CACHE_TTL":       time.Minute,
	"ORPHAN_AGE":           10 * time.Minute,
	"ORPHAN_SCAN_INTERVAL": time.Minute,
}

func loadSettings(cfg config.Getter) apiSettings {
	return apiSettings{
		logLevel:           cfg.GetString("LOG_LEVEL"),
		appPort:            cfg.GetString("APP_PORT"),
		ginMode:            cfg.GetString("GIN_MODE"),
		dsn:                config.Required(cfg, "POSTGRES_DSN"),
		broker:             config.Required(cfg, "KAFKA_BROKER"),
		jobTopic:           cfg.GetString("KAFKA_TOPIC"),
		resultTopic:        cfg.GetString("KAFKA_RESULT_TOPIC"),
		resultGroupID:      cfg.GetString("KAFKA_RESULT_GROUPID"),
		accessSecret:       config.Required(cfg, "ACCESS_SECRET"),
		tempDir:            cfg.GetString("TEMP_DIR"),
		maxUpload:          cfg.GetInt64("MAX_UPLOAD_BYTES"),
		maxExtracted:       cfg.GetInt64("MAX_EXTRACTED_BYTES"),
		sweepInterval:      cfg.GetDuration("SWEEP_INTERVAL"),
		retention:          cfg.GetDuration("RETENTION_WINDOW"),
		userCacheSize:      cfg.GetInt("USER_CACHE_SIZE"),
		userCacheTTL:       cfg.GetDuration("USER_CACHE_TTL"),
		orphanAge:          cfg.GetDuration("ORPHAN_AGE"),
		orphanScanInterval: cfg.GetDuration("ORPHAN_SCAN_INTERVAL"),
	}
}

// validate - тикеры паникуют на неположительных интервалах
func (s apiSettings) validate() error {
	switch {
	case s.maxUpload <= 0:
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", s.maxUpload)
	case s.maxExtracted <= 0:
		return fmt.Errorf("MAX_EXTRACTED_BYTES must be positive, got %d", s.maxExtracted)
	case s.sweepInterval <= 0, s.retention <= 0, s.orphanScanInterval <= 0, s.orphanAge <= 0, s.userCacheTTL <= 0:
		return errors.New("SWEEP_INTERVAL, RETENTION_WINDOW, ORPHAN_AGE, ORPHAN_SCAN_INTERVAL and USER_CACHE_TTL must be positive durations")
	}
	return nil
}

type orphanReviver interface {
	ReviveOrphans(ctx context.Context, limit int)
}

func recoveryLoop(ctx context.Context, svc orphanReviver, interval time.Duration) {
	logger := mwlogger.LoggerFromContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Recovery loop crashed")
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.ReviveOrphans(ctx, orphanBatch)
		}
	}
}

func shutdown(srv *http.Server, pub *wbfkafka.Producer, cons *wbfkafka.Consumer, dbConn *dbpg.DB) {
	zlog.Logger.Info().Msg("Interrupt received!!! Starting shutdown sequence...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("Failed to shutdown HTTP-server gracefully")
	}

	// Closing Kafka connections:
	if err := pub.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("Failed to close Kafka-writer")
	}
	if err := cons.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("Failed to close Kafka-reader")
	}
	zlog.Logger.Info().Msg("Kafka connections closed.")

	// Closing DB connection
	if err := dbConn.Master.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("Failed to close DB-conn correctly")
		return
	}
	zlog.Logger.Info().Msg("DBconn closed")
}

// runOrStop runs a consumer loop and cancels the app when the loop exits on its own
func runOrStop(ctx context.Context, component string, loop func(ctx context.Context), stop func()) {
	loop(ctx)
	if ctx.Err() == nil {
		zlog.Logger.Error().Str("component", component).Msg("Consumer loop stopped unexpectedly, shutting down")
		stop()
	}
}

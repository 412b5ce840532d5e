// Package main (in worker-subfolder) launches the augmentation worker
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UnendingLoop/ImageAugmentor/internal/config"
	"github.com/UnendingLoop/ImageAugmentor/internal/kafka"
	"github.com/UnendingLoop/ImageAugmentor/internal/mwlogger"
	"github.com/UnendingLoop/ImageAugmentor/internal/notify"
	"github.com/UnendingLoop/ImageAugmentor/internal/repository"
	"github.com/UnendingLoop/ImageAugmentor/internal/storage"
	"github.com/UnendingLoop/ImageAugmentor/internal/worker"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/dbpg"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

func main() {
	// инициализировать конфиг/ считать энвы
	appConfig := config.Load(workerDefaults, storage.Defaults)
	settings := loadSettings(appConfig)

	// стартуем логгер
	zlog.InitConsole()
	if err := zlog.SetLevel(settings.logLevel); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	// Listening to interruptions through context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = mwlogger.WithFields(ctx, "component", "worker")

	// подключитсья к базе
	dbConn, err := repository.ConnectWithRetries(ctx, settings.dsn, 5, 10*time.Second)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to connect to DB. Exiting worker...")
	}
	repo := repository.NewPostgresJobRepo(dbConn)

	// подключиться к хранилищу
	strg, err := storage.NewArtifactStorage(ctx, storage.OptionsFromConfig(appConfig), 10*time.Second)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to connect to artifact storage. Exiting worker...")
	}

	// ждем пока кафка раздуплится
	if err := kafka.WaitKafkaReady(ctx, settings.broker, 3*time.Second); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Kafka is not reachable. Exiting worker...")
	}
	if err := kafka.InitKafkaTopics(ctx, settings.broker, 10*time.Second, settings.jobTopic, settings.resultTopic); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to create kafka topics. Exiting worker...")
	}

	// продюсер результатов для api-процесса
	resultProducer := wbfkafka.NewProducer([]string{settings.broker}, settings.resultTopic)

	// подключиться к кафке как читатель
	queue := make(chan kafkago.Message)
	retryStrategy := retry.Strategy{
		Attempts: 5,
		Delay:    2 * time.Second,
		Backoff:  1.5,
	}
	cons := wbfkafka.NewConsumer([]string{settings.broker}, settings.jobTopic, settings.groupID)
	cons.StartConsuming(ctx, queue, retryStrategy)

	metricsSrv := newMetricsServer(settings.metricsPort)
	go runMetricsServer(metricsSrv, stop)

	// Собираем воедино все что нужно воркеру и запускаем его
	w := worker.NewWorkerInstance(repo, strg, notify.NewPublisher(resultProducer), queue, cons, worker.Options{
		AugmentedDir: settings.augmentedDir,
		Parallelism:  settings.parallelism,
		StageTimeout: settings.stageTimeout,
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		// канал консьюмера закрыт (кафка недоступна) - гасим процесс, пусть оркестратор перезапустит
		runOrStop(ctx, "worker", w.StartWorker, stop)
	}()
	zlog.Logger.Info().Int("parallelism", settings.parallelism).Str("topic", settings.jobTopic).Msg("Worker started")

	// Waiting for interruption to stop context to start Graceful shutdown
	<-ctx.Done()
	<-done

	shutdown(cons, resultProducer, dbConn, metricsSrv)
	zlog.Logger.Info().Msg("Exiting worker...")
}

func shutdown(cons *wbfkafka.Consumer, prod *wbfkafka.Producer, dbConn *dbpg.DB, metricsSrv *http.Server) {
	zlog.Logger.Info().Msg("Interrupt received!!! Starting shutdown sequence...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("Failed to stop metrics server")
	}

	// Closing Kafka connections:
	if err := cons.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("Failed to close Kafka-reader")
	}
	if err := prod.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("Failed to close Kafka-writer")
	}
	zlog.Logger.Info().Msg("Kafka connections closed.")

	// Closing DB connection
	if err := dbConn.Master.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("Failed to close DB-conn correctly")
		return
	}
	zlog.Logger.Info().Msg("DBconn closed")
}

// Package main (in api-subfolder) provides launch of the whole application except worker
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UnendingLoop/ImageAugmentor/internal/archive"
	"github.com/UnendingLoop/ImageAugmentor/internal/auth"
	"github.com/UnendingLoop/ImageAugmentor/internal/config"
	"github.com/UnendingLoop/ImageAugmentor/internal/kafka"
	"github.com/UnendingLoop/ImageAugmentor/internal/mwlogger"
	"github.com/UnendingLoop/ImageAugmentor/internal/notify"
	"github.com/UnendingLoop/ImageAugmentor/internal/queue"
	"github.com/UnendingLoop/ImageAugmentor/internal/repository"
	"github.com/UnendingLoop/ImageAugmentor/internal/service"
	"github.com/UnendingLoop/ImageAugmentor/internal/storage"
	"github.com/UnendingLoop/ImageAugmentor/internal/sweeper"
	"github.com/UnendingLoop/ImageAugmentor/internal/transport"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/ginext"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

func main() {
	// инициализировать конфиг/ считать энвы
	appConfig := config.Load(apiDefaults, storage.Defaults)
	settings := loadSettings(appConfig)
	if err := settings.validate(); err != nil {
		log.Fatalf("Incorrect config: %v", err)
	}

	// стартуем логгер
	zlog.InitConsole()
	if err := zlog.SetLevel(settings.logLevel); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	// готовим заранее слушатель прерываний - контекст для всего приложения
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(settings.tempDir, 0o755); err != nil {
		zlog.Logger.Fatal().Err(err).Str("dir", settings.tempDir).Msg("Failed to create temp dir")
	}

	// подключитсья к базе
	dbConn, err := repository.ConnectWithRetries(ctx, settings.dsn, 5, 10*time.Second)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to connect to DB. Exiting app...")
	}
	// накатываем миграцию
	if err := repository.MigrateWithRetries(ctx, dbConn.Master, "./migrations", 10, 15*time.Second); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to apply migrations. Exiting app...")
	}
	jobRepo := repository.NewPostgresJobRepo(dbConn)
	userRepo := repository.NewPostgresUserRepo(dbConn)

	// подключиться к хранилищу
	strg, err := storage.NewArtifactStorage(ctx, storage.OptionsFromConfig(appConfig), 10*time.Second)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to connect to artifact storage. Exiting app...")
	}

	// ждем пока кафка раздуплится
	if err := kafka.WaitKafkaReady(ctx, settings.broker, 3*time.Second); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Kafka is not reachable. Exiting app...")
	}
	if err := kafka.InitKafkaTopics(ctx, settings.broker, 10*time.Second, settings.jobTopic, settings.resultTopic); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to create kafka topics. Exiting app...")
	}
	// подключиться к кафке как продюсер задач
	pub := wbfkafka.NewProducer([]string{settings.broker}, settings.jobTopic)

	// создаем экземпляр сервиса
	limits := archive.Limits{MaxEntry: settings.maxUpload, MaxTotal: settings.maxExtracted}
	svc := service.NewIngestionService(jobRepo, queue.NewJobPublisher(pub), settings.tempDir, limits, settings.orphanAge)

	// внешние коллабораторы авторизации
	verifier := auth.NewJWTVerifier(settings.accessSecret, 5*time.Second)
	directory := auth.NewDirectory(userRepo, settings.userCacheSize, settings.userCacheTTL)

	// комнаты вебсокетов + ретранслятор результатов от воркера
	hub := notify.NewHub()
	results := make(chan kafkago.Message)
	resultCons := wbfkafka.NewConsumer([]string{settings.broker}, settings.resultTopic, settings.resultGroupID)
	resultCons.StartConsuming(ctx, results, retry.Strategy{Attempts: 5, Delay: 2 * time.Second, Backoff: 1.5})
	// ретранслятор остановился сам - без него уведомления не доходят, завершаем процесс
	go runOrStop(mwlogger.WithFields(ctx, "component", "relay"), "relay", notify.NewRelay(hub, results, resultCons).Start, stop)

	// фоновая очистка бакета
	go sweeper.New(strg, settings.sweepInterval, settings.retention).Start(mwlogger.WithFields(ctx, "component", "sweeper"))

	// cоздаем экземпляр хендлера HTTP
	handlers := transport.NewAugmentationHandler(svc, settings.maxUpload)
	wsHandler := notify.NewHandler(hub, verifier, directory)
	metrics := promhttp.Handler()

	// сетапим сервер
	engine := ginext.New(settings.ginMode)
	engine.Use(transport.RequestMetrics())

	engine.GET("/ping", handlers.SimplePinger)
	engine.POST("/augmentation/upload", transport.Authenticate(verifier), transport.Authorize(directory), handlers.Upload)
	engine.GET("/ws", wsHandler.Connect)
	engine.GET("/metrics", func(c *ginext.Context) { metrics.ServeHTTP(c.Writer, c.Request) })

	srv := &http.Server{
		Addr:              ":" + settings.appPort,
		Handler:           mwlogger.NewMWLogger(engine),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Server launch
	go func() {
		zlog.Logger.Info().Msgf("Server running on http://localhost%s", srv.Addr)
		err := srv.ListenAndServe()
		if err != nil {
			switch {
			case errors.Is(err, http.ErrServerClosed):
				zlog.Logger.Info().Msg("Server gracefully stopping...")
			default:
				zlog.Logger.Error().Err(err).Msg("Server stopped")
				stop()
			}
		}
	}()

	// запускаем фонового воркера для отслеживания подвисших задач
	go recoveryLoop(mwlogger.WithFields(ctx, "component", "recovery"), svc, settings.orphanScanInterval)

	// ждем отмены контекста для запуска грейсфул закрытия сервера, бд и кафки
	<-ctx.Done()

	shutdown(srv, pub, resultCons, dbConn)
	zlog.Logger.Info().Msg("Exiting app...")
}

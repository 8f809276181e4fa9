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

	"github.com/IBM/sarama"

	"rentchat/internal/app/messaging"
	"rentchat/internal/infra/broker/kafka"
	"rentchat/internal/infra/config"
	"rentchat/internal/infra/db/mongo"
	ginserver "rentchat/internal/infra/http/gin"
	"rentchat/internal/infra/obs"
	"rentchat/internal/infra/realtime"
	"rentchat/internal/infra/security"
	"rentchat/internal/infra/storage/memory"
	"rentchat/internal/infra/storage/s3"
	"rentchat/internal/infra/storage/scylla"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(os.Getenv("DOTENV_PATH")); err != nil {
		obs.NewLogger("dev", "info").Warn("dotenv load failed", "error", err)
	}
	cfg, err := config.Load()
	if err != nil {
		obs.NewLogger("dev", "info").Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env, cfg.LogLevel)
	metrics := obs.NewMetrics()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store init failed", "error", err, "driver", cfg.StoreDriver)
		os.Exit(1)
	}
	defer store.close()

	hub := realtime.NewHub(logger, metrics)
	defer hub.Close()

	var publisher messaging.Publisher = hub
	if cfg.KafkaEnabled() {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			logger.Error("kafka producer init failed", "error", err, "brokers", cfg.KafkaBrokers)
			os.Exit(1)
		}
		defer producer.Close()
		publisher = kafka.EventPublisher{Producer: producer, Topic: cfg.KafkaTopic}

		consumerCfg := sarama.NewConfig()
		consumerCfg.ClientID = "rentchat-relay"
		relay := kafka.Relay{Sink: hub, Dedup: store.dedup, Logger: logger}
		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroup, consumerCfg, relay)
		if err != nil {
			logger.Error("kafka consumer init failed", "error", err, "group", cfg.KafkaGroup)
			os.Exit(1)
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx, []string{cfg.KafkaTopic}); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("kafka relay stopped", "error", err)
			}
		}()
		logger.Info("kafka relay enabled", "topic", cfg.KafkaTopic, "group", cfg.KafkaGroup)
	}

	service := messaging.NewService(store.repo, publisher, logger)
	if err := loadFixtures(ctx, service, cfg.FixturesPath, logger); err != nil {
		logger.Warn("fixtures load failed", "error", err, "path", cfg.FixturesPath)
	}

	var uploader s3.Uploader = s3.NoopUploader{}
	if cfg.S3Enabled() {
		client, err := s3.NewClient(cfg.S3Endpoint, cfg.S3UseSSL, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3PublicEndpoint, logger)
		if err != nil {
			logger.Error("s3 init failed", "error", err, "endpoint", cfg.S3Endpoint)
			os.Exit(1)
		}
		uploader = client
	}

	tokens := security.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	limiter := ginserver.NewRateLimiter(cfg.SendRatePerSec, cfg.SendBurst)

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger, Metrics: metrics}, obs.HealthHandlers{
		Ready: store.ping,
	}, ginserver.Handlers{
		Chat: ginserver.ChatHandler{
			Messaging: service,
			Uploader:  uploader,
			Metrics:   metrics,
			Logger:    logger,
		},
		Realtime: ginserver.RealtimeHandler{
			Messaging:  service,
			Subscriber: hub,
			Logger:     logger,
		},
		Auth: ginserver.AuthHandler{
			Tokens:     tokens,
			Messaging:  service,
			AllowIssue: devEnv(cfg.Env),
			Logger:     logger,
		},
		AuthMiddleware: ginserver.AuthMiddleware{Tokens: tokens, Logger: logger}.Handle,
		SendLimiter:    limiter.Middleware(logger),
		Metrics:        metrics.Handler(),
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// websocket streams end once the hub closes their channels
		hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("chat server starting", "addr", cfg.HTTPAddr, "env", cfg.Env, "driver", cfg.StoreDriver)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("chat server stopped")
}

type backend struct {
	repo  messaging.Repository
	dedup kafka.Deduper
	ping  func(ctx context.Context) error
	close func()
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		client, err := mongo.New(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return backend{}, err
		}
		repo := mongo.NewChatRepository(client.DB)
		processed := mongo.NewProcessedEvents(client.DB, cfg.KafkaGroup)
		for _, ensure := range []func(context.Context) error{repo.EnsureIndexes, processed.EnsureIndexes} {
			if err := ensure(ctx); err != nil {
				_ = client.Close(context.Background())
				return backend{}, err
			}
		}
		return backend{
			repo:  repo,
			dedup: processed,
			ping:  client.Ping,
			close: func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := client.Close(closeCtx); err != nil {
					logger.Warn("mongo disconnect failed", "error", err)
				}
			},
		}, nil
	case config.DriverScylla:
		session, err := scylla.NewSession(cfg, logger)
		if err != nil {
			return backend{}, err
		}
		store := scylla.NewStore(session, logger)
		return backend{repo: store, dedup: memory.NewSeenSet(0), ping: store.Ping, close: session.Close}, nil
	default:
		return backend{
			repo:  memory.NewRepository(),
			dedup: memory.NewSeenSet(0),
			ping:  func(context.Context) error { return nil },
			close: func() {},
		}, nil
	}
}

func devEnv(env string) bool {
	return env == "dev" || env == "local" || env == "test"
}

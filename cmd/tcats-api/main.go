package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/di"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/repository"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/repository/migrations"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/seatmap"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/token"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/worker"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/config"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/database"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/kafka"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/logger"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/middleware"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/redis"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/telemetry"
)

const serviceName = "tcats-api"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting TCATS reservation API...", zap.String("version", cfg.App.Version))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize OpenTelemetry
	telemetryCfg := &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}
	if _, err := telemetry.Init(ctx, telemetryCfg); err != nil {
		appLog.Warn("Failed to initialize telemetry", zap.Error(err))
	} else if telemetryCfg.Enabled {
		appLog.Info("Telemetry initialized", zap.String("collector", telemetryCfg.CollectorAddr))
	}
	defer telemetry.Shutdown(context.Background())

	// Seat layouts and token generator
	layouts, err := seatmap.Load(cfg.SeatMap.Path)
	if err != nil {
		appLog.Fatal("Failed to load seat layouts", zap.String("path", cfg.SeatMap.Path), zap.Error(err))
	}
	gen, err := token.NewGenerator(cfg.Token.Length)
	if err != nil {
		appLog.Fatal("Invalid token configuration", zap.Error(err))
	}

	// Reservation store
	var (
		db     *database.PostgresDB
		store  repository.Store
		outbox repository.OutboxRepository
	)
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		mem := repository.NewMemoryStore(&repository.MemoryStoreConfig{
			OutboxEnabled: cfg.Outbox.Enabled,
			OutboxTopic:   cfg.Outbox.Topic,
		})
		store, outbox = mem, mem
		appLog.Warn("Using the in-memory store; reservations are lost on restart")
	default:
		dbCfg := &database.PostgresConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.DBName,
			SSLMode:         cfg.Database.SSLMode,
			MaxConns:        int32(cfg.Database.MaxOpenConns),
			MinConns:        int32(cfg.Database.MaxIdleConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnectTimeout:  5 * time.Second,
			MaxRetries:      3,
			RetryInterval:   time.Second,
			EnableTracing:   cfg.OTel.Enabled,
			ServiceName:     serviceName,
		}
		db, err = database.NewPostgres(ctx, dbCfg)
		if err != nil {
			appLog.Fatal("Database connection failed", zap.Error(err))
		}
		defer db.Close()
		appLog.Info("Database connected", zap.Int32("min_conns", dbCfg.MinConns), zap.Int32("max_conns", dbCfg.MaxConns))

		if cfg.Database.AutoMigrate {
			applied, err := db.Migrate(ctx, migrations.FS)
			if err != nil {
				appLog.Fatal("Database migration failed", zap.Error(err))
			}
			appLog.Info("Database migrated", zap.Strings("applied", applied))
		}

		store = repository.NewPostgresStore(db.Pool(), &repository.PostgresStoreConfig{
			OperationTimeout: cfg.Store.OperationTimeout,
			MaxRetries:       cfg.Store.MaxRetries,
			OutboxEnabled:    cfg.Outbox.Enabled,
			OutboxTopic:      cfg.Outbox.Topic,
		})
		outbox = repository.NewPostgresOutboxRepository(db.Pool())
	}

	// Initialize Redis connection (optional - cache and idempotency are disabled if it fails)
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisCfg := &redis.Config{
			Host:          cfg.Redis.Host,
			Port:          cfg.Redis.Port,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			PoolSize:      cfg.Redis.PoolSize,
			MinIdleConns:  cfg.Redis.MinIdleConns,
			DialTimeout:   cfg.Redis.DialTimeout,
			ReadTimeout:   cfg.Redis.ReadTimeout,
			WriteTimeout:  cfg.Redis.WriteTimeout,
			MaxRetries:    3,
			RetryInterval: time.Second,
		}
		redisClient, err = redis.NewClient(ctx, redisCfg)
		if err != nil {
			appLog.Warn("Redis connection failed (caching disabled)", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
			appLog.Info("Redis connected", zap.String("addr", redisCfg.Addr()))
		}
	}

	// Start the outbox relay (optional)
	if cfg.Outbox.Enabled {
		producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
		})
		if err != nil {
			appLog.Warn("Kafka connection failed (outbox relay disabled)", zap.Error(err))
		} else {
			defer producer.Close()
			relay := worker.NewOutboxRelay(outbox, producer, &worker.OutboxRelayConfig{
				PollInterval: cfg.Outbox.PollInterval,
				BatchSize:    cfg.Outbox.BatchSize,
				ClaimLease:   cfg.Outbox.ClaimLease,
			})
			if err := relay.Start(ctx); err != nil {
				appLog.Fatal("Failed to start outbox relay", zap.Error(err))
			}
			defer relay.Stop()
		}
	}

	// Build dependency injection container
	container := di.NewContainer(&di.ContainerConfig{
		Store:            store,
		DB:               db,
		Redis:            redisClient,
		Layouts:          layouts,
		Generator:        gen,
		TokenMaxAttempts: cfg.Token.MaxAttempts,
		TokenValidFor:    cfg.Token.ValidFor,
		CacheTTL:         cfg.Redis.CacheTTL,
		Logger:           appLog,
	})

	// Setup Gin
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(appLog))

	// Add OpenTelemetry tracing middleware if enabled
	if cfg.OTel.Enabled {
		router.Use(telemetry.TracingMiddleware(serviceName))
	}

	container.RegisterRoutes(router)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
	}

	// Start server in goroutine
	go func() {
		appLog.Info("TCATS reservation API listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Server forced to shutdown", zap.Error(err))
	}
	stop()

	appLog.Info("Server exited gracefully")
}

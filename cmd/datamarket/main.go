package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/vantagedata/datamarket/api"
	"github.com/vantagedata/datamarket/internal/cache"
	"github.com/vantagedata/datamarket/internal/config"
	"github.com/vantagedata/datamarket/internal/contentstore"
	"github.com/vantagedata/datamarket/internal/database"
	"github.com/vantagedata/datamarket/internal/events"
	"github.com/vantagedata/datamarket/internal/identity"
	"github.com/vantagedata/datamarket/internal/ledger"
	"github.com/vantagedata/datamarket/internal/treasury"
	"github.com/vantagedata/datamarket/internal/ws"
	"github.com/vantagedata/datamarket/pkg/logger"
	"github.com/vantagedata/datamarket/pkg/metrics"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Create logger
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	zapLogger, err := logger.New(logLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Tracing: stdout exporter is enough for a single-node deployment
	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		zapLogger.Fatal("Failed to create trace exporter", zap.Error(err))
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.05))),
	)
	otel.SetTracerProvider(tracerProvider)

	// Connect to PostgreSQL and migrate the schema
	db, err := database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	if err := database.AutoMigrate(db); err != nil {
		zapLogger.Fatal("Failed to migrate schema", zap.Error(err))
	}

	// Schedule DB pool metrics collection every 30s
	tickerDB := time.NewTicker(30 * time.Second)
	go func() {
		for range tickerDB.C {
			if sqlDB, err := db.DB(); err == nil {
				stats := sqlDB.Stats()
				metrics.DBOpenConns.WithLabelValues("postgres").Set(float64(stats.OpenConnections))
				metrics.DBInUseConns.WithLabelValues("postgres").Set(float64(stats.InUse))
			}
		}
	}()

	// Listing cache is optional; without Redis reads fall through to the DB
	var listingCache ledger.ListingCache
	if cfg.Redis.Addr != "" {
		redisClient, err := database.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		listingCache = cache.NewListingCache(redisClient, zapLogger, cfg.Redis.TTL)
	}

	// Content store
	store, err := contentstore.NewBadgerStore(cfg.Content.Dir)
	if err != nil {
		zapLogger.Fatal("Failed to open content store", zap.Error(err))
	}
	defer store.Close()

	// Event pipeline: in-process bus feeds the websocket hub, Kafka is
	// attached when brokers are configured
	bus := events.NewBus(zapLogger)
	publisher := events.MultiPublisher{bus}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPub := events.NewKafkaPublisher(events.DefaultKafkaConfig(cfg.Kafka.Brokers, cfg.Kafka.Topic), zapLogger)
		publisher = append(publisher, kafkaPub)
	}
	defer publisher.Close()

	// Create services
	identitySvc := identity.NewService(zapLogger, db, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	admin, err := identitySvc.EnsureAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword)
	if err != nil {
		zapLogger.Fatal("Failed to provision admin account", zap.Error(err))
	}

	treasurySvc := treasury.NewService(zapLogger, db)

	ledgerSvc, err := ledger.NewService(zapLogger, db, treasurySvc, publisher, listingCache, admin.Address)
	if err != nil {
		zapLogger.Fatal("Failed to create ledger service", zap.Error(err))
	}
	if err := ledgerSvc.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start ledger service", zap.Error(err))
	}

	hub := ws.NewHub(zapLogger, bus)
	go hub.Run(ctx)

	// Create API server
	apiServer := api.NewServer(
		zapLogger,
		ledgerSvc,
		treasurySvc,
		identitySvc,
		store,
		hub,
		api.Options{MaxUploadBytes: cfg.Content.MaxUploadMiB << 20},
	)

	// Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", addr))
		if err := apiServer.Start(addr); err != nil {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	// Wait for interrupt to shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	cancel()
	if err := tracerProvider.Shutdown(context.Background()); err != nil {
		zapLogger.Error("Failed to shut down tracer", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}

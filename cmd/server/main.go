/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the khata ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, then environment)
  2. Initialize the store (sqlite or memory)
  3. Initialize the event publisher (none, kafka or amqp)
  4. Build ledger, allocator and reconciler
  5. Configure HTTP router
  6. Start server with graceful shutdown

ENVIRONMENT:
  PORT, JWT_SECRET, CORS_ALLOWED_ORIGINS
  STORE_BACKEND (sqlite|memory), SQLITE_DB_PATH
  EVENTS_BACKEND (none|kafka|amqp), KAFKA_BROKERS, KAFKA_TOPIC,
  AMQP_URL, AMQP_EXCHANGE
  ALLOCATION_CONCURRENCY, RECONCILE_INTERVAL
  LOG_LEVEL, LOG_FORMAT

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the reconciler, close the publisher and the store
  4. Exit

SEE ALSO:
  - config/config.go: Settings
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smartkhata/khata-engine/api"
	"github.com/smartkhata/khata-engine/config"
	amqpevents "github.com/smartkhata/khata-engine/events/amqp"
	kafkaevents "github.com/smartkhata/khata-engine/events/kafka"
	"github.com/smartkhata/khata-engine/khata"
	"github.com/smartkhata/khata-engine/khata/store"
	"github.com/smartkhata/khata-engine/logging"
	"github.com/smartkhata/khata-engine/store/sqlite"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger := logging.New(logging.Config{Level: level, Format: cfg.LogFormat})
	logging.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", logging.FieldError, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	// Initialize store
	txStore, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer closeStore()

	// Initialize events
	publisher, closePublisher, err := openPublisher(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize events: %w", err)
	}
	defer closePublisher()

	ledger := khata.NewLedger(txStore,
		khata.WithLogger(logger.WithComponent(logging.ComponentLedger).Logger),
		khata.WithPublisher(publisher),
	)
	allocator := khata.NewAllocator(ledger, cfg.AllocationConcurrency)

	reconciler := khata.NewReconciler(ledger, cfg.ReconcileInterval)
	reconciler.Start()
	defer reconciler.Stop()

	// Create router
	router := api.NewRouter(api.NewHandler(ledger, allocator), api.RouterConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		JWTSecret:      []byte(cfg.JWTSecret),
		Logger:         logger,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "store", cfg.StoreBackend, "events", cfg.EventsBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(cfg *config.Config, logger *logging.Logger) (khata.TxStore, func(), error) {
	storeLogger := logger.WithComponent(logging.ComponentStorage)
	switch cfg.StoreBackend {
	case config.StoreMemory:
		storeLogger.Warn("using in-memory store, data is lost on exit")
		return store.NewMemory(), func() {}, nil
	default:
		db, err := sqlite.New(cfg.SQLiteDBPath)
		if err != nil {
			return nil, nil, err
		}
		storeLogger.Info("sqlite store ready", "path", cfg.SQLiteDBPath)
		return db, closer(storeLogger, "sqlite store", db), nil
	}
}

func openPublisher(cfg *config.Config, logger *logging.Logger) (khata.EventPublisher, func(), error) {
	eventsLogger := logger.WithComponent(logging.ComponentEvents)
	switch cfg.EventsBackend {
	case config.EventsKafka:
		p := kafkaevents.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		eventsLogger.Info("publishing events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		return p, closer(eventsLogger, "kafka publisher", p), nil
	case config.EventsAMQP:
		p, err := amqpevents.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		eventsLogger.Info("publishing events to amqp", "exchange", cfg.AMQPExchange)
		return p, closer(eventsLogger, "amqp publisher", p), nil
	default:
		return khata.NopPublisher{}, func() {}, nil
	}
}

func closer(logger *logging.Logger, name string, c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			logger.Error("close failed", "resource", name, logging.FieldError, err)
		}
	}
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/24hmood24/checkserialnum/internal/api"
	"github.com/24hmood24/checkserialnum/internal/core"
	"github.com/24hmood24/checkserialnum/internal/infrastructure"
	"github.com/24hmood24/checkserialnum/internal/metrics"
	"github.com/24hmood24/checkserialnum/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the device check API server",
	Long: `Launches the HTTP API for device checks, purchase certificates and theft
reports. Scanner checks over MQTT, the Redis counter and the Service Bus event
feed are enabled when configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer() error {
	logger.Info("Initializing checkserial service...")
	metrics.MustRegister()

	// --- Infrastructure Setup ---
	logger.Info("Connecting to database...")
	db, err := infrastructure.NewDatabase(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	store, err := core.NewDataStore(db.DB)
	if err != nil {
		return fmt.Errorf("failed to create data store: %w", err)
	}

	signer, err := utils.NewSessionSigner(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("invalid auth settings: %w", err)
	}

	deps := core.Dependencies{
		Store:       store,
		Logger:      logger,
		Signer:      signer,
		MaxAttempts: cfg.Issuance.MaxAttempts,
	}
	probes := map[string]api.Probe{"database": db.Ping}

	if cfg.Redis.Addr != "" {
		logger.Info("Connecting to cache...")
		cache, err := infrastructure.NewCache(cfg.Redis, logger)
		if err != nil {
			return fmt.Errorf("cache connection failed: %w", err)
		}
		defer cache.Close()

		deps.Sequencer = core.NewCounterSequencer(cache, "", logger)
		deps.Locker = cache
		probes["redis"] = cache.Ping
	}

	outbox, closeOutbox, err := buildOutbox()
	if err != nil {
		return err
	}
	defer closeOutbox()
	if outbox != nil {
		deps.Publisher = outbox
	}

	// --- Service Layer Setup ---
	services := core.NewServiceRegistry(deps)

	// --- Scanner Ingestion ---
	if cfg.MQTT.BrokerURL != "" {
		subscriber, err := infrastructure.NewMQTTSubscriber(cfg.MQTT, logger)
		if err != nil {
			return fmt.Errorf("invalid MQTT settings: %w", err)
		}
		services.Scanner.SetResponder(subscriber, cfg.MQTT.QoS)
		subscriber.RegisterHandler("check", services.Scanner.HandleCheck)
		if err := subscriber.Start(); err != nil {
			return err
		}
		defer subscriber.Stop()
		probes["mqtt"] = func(context.Context) error {
			if !subscriber.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}
	}

	// --- API Layer Setup ---
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	handlers := api.NewAPIHandlers(services, cfg.PublicURL, probes)
	api.SetupRoutes(router, handlers, services, logger, api.RouteOptions{
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		IdempotencyCache:  cfg.Server.IdempotencyCache,
	})

	// --- HTTP Server ---
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful Shutdown ---
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("checkserial API listening on %s", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-shutdownChan:
		logger.Warn("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	} else {
		logger.Info("Server stopped gracefully")
	}

	logger.Info("checkserial shutdown complete")
	return nil
}

// buildOutbox wires the Service Bus sender and the WAL. Without a bus the
// WAL alone collects events for a later republish. The outbox is nil when
// neither is configured.
func buildOutbox() (*infrastructure.Outbox, func(), error) {
	var (
		bus     infrastructure.BusSender
		closers []func() error
	)

	if cfg.ServiceBus.ConnectionString != "" {
		logger.Info("Connecting to messaging service...")
		messaging, err := infrastructure.NewMessaging(cfg.ServiceBus, logger)
		if err != nil {
			logger.WithError(err).Warn("Messaging service unavailable, events go to the outbox")
		} else {
			bus = messaging
			closers = append(closers, messaging.Close)
		}
	}

	var wal *infrastructure.WAL
	if cfg.Storage.WALPath != "" {
		w, err := infrastructure.NewWAL(cfg.Storage.WALPath)
		if err != nil {
			if bus == nil {
				return nil, nil, fmt.Errorf("failed to open event outbox: %w", err)
			}
			logger.WithError(err).Warn("Event outbox unavailable")
		} else {
			wal = w
			closers = append(closers, w.Close)
		}
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.WithError(err).Warn("Failed to close event sink")
			}
		}
	}
	if bus == nil && wal == nil {
		return nil, closeAll, nil
	}
	outbox := infrastructure.NewOutbox(bus, wal, logger).
		WithBusLimits(cfg.ServiceBus.PublishTimeout, cfg.ServiceBus.OutageCooldown)
	return outbox, closeAll, nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/V1vekW/OPTIC-SHIELD/internal/api"
	"github.com/V1vekW/OPTIC-SHIELD/internal/bridge"
	"github.com/V1vekW/OPTIC-SHIELD/internal/config"
	"github.com/V1vekW/OPTIC-SHIELD/internal/hub"
	"github.com/V1vekW/OPTIC-SHIELD/internal/ingest"
	"github.com/V1vekW/OPTIC-SHIELD/internal/notify"
	"github.com/V1vekW/OPTIC-SHIELD/internal/species"
	"github.com/V1vekW/OPTIC-SHIELD/internal/storage"
)

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "", "Configuration file path")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.Load(configFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load configuration")
		}
	} else {
		cfg = config.Default()
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Select storage backend
	var store storage.Store
	switch cfg.Storage.Backend {
	case "postgres":
		store, err = storage.NewPostgresStore(cfg.Storage.DSN,
			cfg.Storage.DetectionCapacity, cfg.Storage.AuditCapacity)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		log.Info().Msg("Connected to database")
	default:
		store = storage.NewMemoryStore(cfg.Storage.DetectionCapacity, cfg.Storage.AuditCapacity)
		log.Info().Msg("Using in-memory storage")
	}
	defer store.Close()

	// Core services
	validator := species.NewValidator(cfg.Species.Allowed)
	broadcastHub := hub.NewHub(cfg.Hub.SubscriberQueue)
	service := ingest.NewService(store, validator, broadcastHub)

	if cfg.Webhook.Endpoint != "" {
		service.SetNotifier(notify.NewWebhookNotifier(&cfg.Webhook))
		log.Info().Str("endpoint", cfg.Webhook.Endpoint).Msg("Alert webhook enabled")
	}

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start REST API server
	apiServer := api.NewRESTServer(cfg, store, service, broadcastHub)

	// WaitGroup for services
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Optional: Start NATS bridge
	if cfg.NATS.URL != "" {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Server.Name),
			nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Msg("Reconnected to NATS")
			}),
			nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
				log.Error().
					Err(err).
					Str("subject", sub.Subject).
					Msg("NATS error")
			}),
		)

		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
		} else {
			defer nc.Close()
			log.Info().Msg("Connected to NATS")

			natsBridge := bridge.NewNATSBridge(nc, service)

			wg.Add(1)
			go func() {
				defer wg.Done()
				log.Info().Msg("Starting NATS bridge")
				if err := natsBridge.Start(ctx); err != nil && err != context.Canceled {
					log.Error().Err(err).Msg("NATS bridge stopped")
				}
			}()
		}
	}

	// Optional: Start MQTT bridge
	if cfg.MQTT.Broker != "" {
		log.Info().Str("broker", cfg.MQTT.Broker).Msg("Connecting to MQTT broker...")

		mqttBridge, err := bridge.NewMQTTBridge(&cfg.MQTT, service)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to MQTT broker, continuing without MQTT support")
		} else {
			defer mqttBridge.Close()
			if err := mqttBridge.Start(); err != nil {
				log.Warn().Err(err).Msg("Failed to subscribe MQTT topics")
			}
		}
	}

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Cancel context
	cancel()

	// Shutdown API server
	if err := apiServer.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	// Wait for all services
	wg.Wait()

	log.Info().Msg("Telemetry server stopped")
}

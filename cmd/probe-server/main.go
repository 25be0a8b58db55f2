package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/probe-link/probe-link-server/internal/api"
	"github.com/probe-link/probe-link-server/internal/config"
	"github.com/probe-link/probe-link-server/internal/integration"
	"github.com/probe-link/probe-link-server/internal/models"
	"github.com/probe-link/probe-link-server/internal/reconcile"
	"github.com/probe-link/probe-link-server/internal/server"
	"github.com/probe-link/probe-link-server/internal/storage"
	"github.com/probe-link/probe-link-server/pkg/crypto"
)

func main() {
	// Command line flags
	var configFile string
	var validateOnly bool
	var showConfig bool
	flag.StringVar(&configFile, "config", "config/probe-server.yml", "Configuration file path")
	flag.BoolVar(&validateOnly, "validate", false, "Validate configuration and exit")
	flag.BoolVar(&showConfig, "show-config", false, "Print effective configuration and exit")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", configFile).Msg("Failed to load configuration")
	}

	if showConfig {
		cfg.PrintConfigSummary()
		return
	}

	if err := cfg.ValidateServer(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	if validateOnly {
		cfg.PrintConfigSummary()
		fmt.Println("configuration ok")
		return
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Connect to database
	store, err := storage.NewPostgresStore(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	log.Info().Msg("Connected to database")

	if err := ensureAdminUser(context.Background(), store); err != nil {
		log.Fatal().Err(err).Msg("Failed to bootstrap admin user")
	}

	// Connect to NATS
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("probe-link-server"),
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
		log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
	}
	defer nc.Close()

	log.Info().Msg("Connected to NATS")

	// Per-probe reconciliation engines
	registry := reconcile.NewRegistry(
		server.NewNATSTransport(nc),
		server.NewEngineHooks(nc),
	)

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// NATS subscriber feeding the engines
	subscriber := server.NewNATSSubscriber(nc, store, registry, cfg.Engine.AutoTransfer)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := subscriber.Start(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("NATS subscriber stopped")
		}
	}()

	// Start REST API server
	apiServer := api.NewRESTServer(cfg, store, registry, subscriber)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.ListenAndServe(cfg.API.Addr()); err != nil {
			log.Error().Err(err).Msg("REST API server stopped")
			cancel()
		}
	}()

	// Start integration forwarder
	forwarder := integration.NewForwarderService(nc, cfg.Integration)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := forwarder.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Integration forwarder stopped")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
	case <-ctx.Done():
	}

	cancel()

	if err := apiServer.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	wg.Wait()

	log.Info().Msg("Probe server stopped")
}

// ensureAdminUser creates an initial admin account on an empty users
// table, with a random password printed once to the log.
func ensureAdminUser(ctx context.Context, store storage.Store) error {
	_, total, err := store.ListUsers(ctx, 1, 0)
	if err != nil {
		return err
	}
	if total > 0 {
		return nil
	}

	password, err := crypto.GenerateRandomString(18)
	if err != nil {
		return err
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}

	admin := &models.User{
		Email:        "admin@localhost",
		Name:         "Administrator",
		PasswordHash: hash,
		IsAdmin:      true,
		IsActive:     true,
	}

	if err := store.CreateUser(ctx, admin); err != nil {
		return err
	}

	log.Warn().
		Str("email", admin.Email).
		Str("password", password).
		Msg("Created initial admin user, change this password")

	return nil
}

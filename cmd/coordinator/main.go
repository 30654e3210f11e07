// Command coordinator runs the election coordinator service.
//
// The coordinator sets up tallying instances, distributes sealed mask
// material to the participating node services, serves public parameters to
// voters, and reveals tallies by collecting the nodes' partial results.
//
// # Configuration File
//
//	http_addr: ":8082"
//	registry_url: "http://localhost:8080"
//	keys:
//	  signing_key: ""     # Hex-encoded, generates if empty
//	  exchange_key: ""    # Hex-encoded, generates if empty
//	postgres:
//	  host: ""            # Empty disables the tally archive
//
// # Usage
//
//	go run ./cmd/coordinator --config=coordinator.yaml
//	go run ./cmd/coordinator --registry=http://localhost:8080
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/choosek/tinyvote/api/httpserver"
	"github.com/choosek/tinyvote/cmd/common"
	"github.com/choosek/tinyvote/services"
)

func main() {
	var (
		configPath     = flag.String("config", "", "Path to YAML config file")
		addr           = flag.String("addr", "", "HTTP listen address")
		registryURL    = flag.String("registry", "", "Registry URL for service discovery")
		signingKeyHex  = flag.String("signing-key", "", "Ed25519 signing key (hex, generates if empty)")
		exchangeKeyHex = flag.String("exchange-key", "", "ECDH P-256 exchange key (hex, generates if empty)")
		logLevel       = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *registryURL != "" {
		cfg.RegistryURL = *registryURL
	}
	if *signingKeyHex != "" {
		cfg.Keys.SigningKey = *signingKeyHex
	}
	if *exchangeKeyHex != "" {
		cfg.Keys.ExchangeKey = *exchangeKeyHex
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if cfg.RegistryURL == "" {
		fmt.Println("Error: registry_url is required (via --registry or config file)")
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfiguration(configPath string) (*common.Config, error) {
	if configPath != "" {
		return common.LoadConfig(configPath)
	}
	return common.DefaultConfig(), nil
}

func run(cfg *common.Config) error {
	log := common.NewLogger(cfg.LogLevel)

	signingKey, err := common.LoadOrGenerateSigningKey(cfg.Keys.SigningKey)
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}
	exchangeKey, err := common.LoadOrGenerateExchangeKey(cfg.Keys.ExchangeKey)
	if err != nil {
		return fmt.Errorf("exchange key: %w", err)
	}

	pubKey, _ := signingKey.PublicKey()
	log.Info().Str("public_key", pubKey.String()).Msg("coordinator identity")

	var archive services.TallyArchive
	if cfg.Postgres.Host != "" {
		pgStore, err := services.NewPostgresStore(&services.PostgresConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		})
		if err != nil {
			return fmt.Errorf("postgres store: %w", err)
		}
		defer pgStore.Close()
		archive = pgStore
	}

	coordinator, err := services.NewHTTPCoordinator(&services.ServiceConfig{
		HTTPAddr:    cfg.HTTPAddr,
		RegistryURL: cfg.RegistryURL,
		AdminToken:  cfg.AdminToken,
	}, signingKey, exchangeKey, archive, log)
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}

	server, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.HTTPAddr,
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             15 * time.Second,
	}, coordinator)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	server.RunInBackground()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	time.Sleep(100 * time.Millisecond)
	if err := coordinator.Start(ctx); err != nil {
		return fmt.Errorf("register with registry: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down coordinator")
	server.Shutdown()
	return nil
}

// Command node runs a tallying node service.
//
// Each node holds one additive mask per instance, folds incoming vote shares
// into a running total, and releases a single partial result when the
// coordinator closes the instance. Individual shares never leave the node.
//
// # Configuration File
//
//	http_addr: ":8081"
//	registry_url: "http://localhost:8080"
//	keys:
//	  signing_key: ""     # Hex-encoded, generates if empty
//	  exchange_key: ""    # Hex-encoded, generates if empty
//	node:
//	  node_id: "node-a"
//	  coordinator_key: "" # Hex signing key of the trusted coordinator
//
// # Usage
//
//	go run ./cmd/node --config=node.yaml
//	go run ./cmd/node --node-id=node-a --registry=http://localhost:8080
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/choosek/tinyvote/api/httpserver"
	"github.com/choosek/tinyvote/cmd/common"
	"github.com/choosek/tinyvote/crypto"
	"github.com/choosek/tinyvote/protocol"
	"github.com/choosek/tinyvote/services"
)

func main() {
	var (
		configPath        = flag.String("config", "", "Path to YAML config file")
		addr              = flag.String("addr", "", "HTTP listen address")
		registryURL       = flag.String("registry", "", "Registry URL for service discovery")
		nodeID            = flag.String("node-id", "", "Node identifier used in instance topologies")
		coordinatorKeyHex = flag.String("coordinator-key", "", "Trusted coordinator signing key (hex)")
		signingKeyHex     = flag.String("signing-key", "", "Ed25519 signing key (hex, generates if empty)")
		exchangeKeyHex    = flag.String("exchange-key", "", "ECDH P-256 exchange key (hex, generates if empty)")
		logLevel          = flag.String("log-level", "", "Log level (debug, info, warn, error)")
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
	if *nodeID != "" {
		cfg.Node.NodeID = *nodeID
	}
	if *coordinatorKeyHex != "" {
		cfg.Node.CoordinatorKey = *coordinatorKeyHex
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

	if cfg.Node.NodeID == "" {
		fmt.Println("Error: node_id is required (via --node-id or config file)")
		os.Exit(1)
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

	var coordinatorKey crypto.PublicKey
	if cfg.Node.CoordinatorKey != "" {
		coordinatorKey, err = crypto.NewPublicKeyFromString(cfg.Node.CoordinatorKey)
		if err != nil {
			return fmt.Errorf("coordinator key: %w", err)
		}
	}

	pubKey, _ := signingKey.PublicKey()
	log.Info().
		Str("node_id", cfg.Node.NodeID).
		Str("public_key", pubKey.String()).
		Str("exchange_key", hex.EncodeToString(exchangeKey.PublicKey().Bytes())).
		Msg("node identity")

	node, err := services.NewHTTPNode(&services.ServiceConfig{
		HTTPAddr:    cfg.HTTPAddr,
		RegistryURL: cfg.RegistryURL,
		AdminToken:  cfg.AdminToken,
	}, protocol.NodeID(cfg.Node.NodeID), signingKey, exchangeKey, coordinatorKey, log)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	server, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.HTTPAddr,
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             15 * time.Second,
	}, node)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	server.RunInBackground()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Give the listener a moment before announcing the endpoint.
	time.Sleep(100 * time.Millisecond)
	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("register with registry: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down node")
	server.Shutdown()
	return nil
}

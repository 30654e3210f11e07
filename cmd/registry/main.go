// Command registry runs a standalone service discovery registry.
//
// The registry provides centralized service discovery for tallying
// deployments: node services and coordinators register their endpoints and
// keys, voters look up where to send their shares.
//
// # Configuration File
//
// Create a YAML file with registry settings:
//
//	http_addr: ":8080"
//	admin_token: "admin:secret"
//	postgres:
//	  host: "localhost"
//	  port: 5432
//	  user: "tinyvote"
//	  password: "secret"
//	  database: "tinyvote"
//
// # Endpoints
//
// Public (no auth):
//   - POST /register/{service_type} - Signed service registration
//   - GET /services - List all services
//   - GET /services/{type} - List services by type
//   - GET /livez, /readyz - Health checks
//
// Admin (basic auth when admin_token set):
//   - DELETE /unregister/{public_key} - Remove a service
//
// # Usage
//
//	go run ./cmd/registry --config=registry.yaml
//	go run ./cmd/registry --addr=:8080 --admin-token="admin:secret"
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/choosek/tinyvote/api/httpserver"
	"github.com/choosek/tinyvote/cmd/common"
	"github.com/choosek/tinyvote/services"
	"github.com/go-chi/chi/v5"
)

// registrarFunc adapts the registry's route methods to the server's
// RouteRegistrar interface.
type registrarFunc func(r chi.Router)

func (f registrarFunc) RegisterRoutes(r chi.Router) { f(r) }

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		addr       = flag.String("addr", "", "HTTP listen address")
		adminToken = flag.String("admin-token", "", "Basic auth token for admin operations (user:pass)")
		logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
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
	if *adminToken != "" {
		cfg.AdminToken = *adminToken
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
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

	var store services.RegistryStore
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
		store = pgStore
	}

	registry, err := services.NewRegistry(&services.RegistryConfig{
		AdminToken: cfg.AdminToken,
		Store:      store,
	}, log)
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}

	if cfg.AdminToken == "" {
		log.Warn().Msg("no admin token configured, admin surface disabled")
	}

	server, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.HTTPAddr,
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             15 * time.Second,
	}, registrarFunc(func(r chi.Router) {
		registry.RegisterPublicRoutes(r)
		registry.RegisterAdminRoutes(r)
	}))
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	server.RunInBackground()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down registry")
	server.Shutdown()
	return nil
}

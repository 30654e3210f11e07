// Package common provides shared utilities for the tallying CLI commands.
//
// This package contains helpers used across the standalone service binaries
// (registry, coordinator, node) and the vote CLI to reduce code duplication:
//
//   - Key loading and generation for Ed25519 signing and ECDH exchange keys
//   - YAML configuration loading with flag overrides
//   - Structured logger construction
package common

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/choosek/tinyvote/crypto"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config holds the YAML-loadable settings shared by the service binaries.
type Config struct {
	ServiceType string `yaml:"service_type"`
	HTTPAddr    string `yaml:"http_addr"`
	RegistryURL string `yaml:"registry_url"`
	AdminToken  string `yaml:"admin_token"`

	Keys KeysConfig `yaml:"keys"`
	Node NodeConfig `yaml:"node"`

	Postgres PostgresConfig `yaml:"postgres"`

	LogLevel string `yaml:"log_level"`
}

// KeysConfig holds hex-encoded key material. Empty values mean fresh keys
// are generated at startup.
type KeysConfig struct {
	SigningKey  string `yaml:"signing_key"`
	ExchangeKey string `yaml:"exchange_key"`
}

// NodeConfig holds node-specific settings.
type NodeConfig struct {
	// NodeID is the operator-assigned identifier used in instance topologies.
	NodeID string `yaml:"node_id"`

	// CoordinatorKey is the hex-encoded signing public key of the trusted
	// coordinator. Empty accepts setups from any registered coordinator.
	CoordinatorKey string `yaml:"coordinator_key"`
}

// PostgresConfig holds optional database settings for the tally archive and
// registry persistence. An empty host disables Postgres.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DefaultConfig returns a config with sensible defaults for local runs.
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr: ":8080",
		LogLevel: "info",
	}
}

// LoadConfig reads a YAML config file, applying defaults for missing fields.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the zerolog logger the service binaries share.
func NewLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}

// LoadOrGenerateSigningKey loads an Ed25519 private key from a hex string,
// or generates a new key pair if hexKey is empty.
func LoadOrGenerateSigningKey(hexKey string) (crypto.PrivateKey, error) {
	if hexKey != "" {
		keyBytes, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid hex: %w", err)
		}
		return crypto.NewPrivateKeyFromBytes(keyBytes), nil
	}
	_, privKey, err := crypto.GenerateKeyPair()
	return privKey, err
}

// LoadOrGenerateExchangeKey loads an ECDH P-256 private key from a hex string,
// or generates a new key if hexKey is empty.
func LoadOrGenerateExchangeKey(hexKey string) (*ecdh.PrivateKey, error) {
	if hexKey != "" {
		keyBytes, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid hex: %w", err)
		}
		return ecdh.P256().NewPrivateKey(keyBytes)
	}
	return ecdh.P256().GenerateKey(rand.Reader)
}

package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/choosek/tinyvote/protocol"
	_ "github.com/lib/pq"
)

// TallyArchive persists revealed tallies. The protocol core keeps no durable
// state; archiving is an operator convenience after the reveal.
type TallyArchive interface {
	SaveTally(tally *protocol.Tally, question string) error
	GetTally(instanceID string) (*protocol.Tally, string, error)
}

// PostgresStore implements RegistryStore and TallyArchive with PostgreSQL
// persistence.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS registered_services (
		public_key VARCHAR(128) PRIMARY KEY,
		service_type VARCHAR(32) NOT NULL,
		node_id VARCHAR(128),
		http_endpoint VARCHAR(512) NOT NULL,
		exchange_key VARCHAR(256) NOT NULL,
		signature BYTEA NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_services_type ON registered_services(service_type);

	CREATE TABLE IF NOT EXISTS revealed_tallies (
		instance_id VARCHAR(64) PRIMARY KEY,
		question VARCHAR(1024),
		sum BIGINT NOT NULL,
		voters INTEGER NOT NULL,
		revealed_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveService persists a signed service registration.
func (s *PostgresStore) SaveService(signed *protocol.Signed[RegisteredService]) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc := signed.UnsafeObject()

	query := `
	INSERT INTO registered_services
		(public_key, service_type, node_id, http_endpoint, exchange_key, signature, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, NOW())
	ON CONFLICT (public_key) DO UPDATE SET
		service_type = EXCLUDED.service_type,
		node_id = EXCLUDED.node_id,
		http_endpoint = EXCLUDED.http_endpoint,
		exchange_key = EXCLUDED.exchange_key,
		signature = EXCLUDED.signature,
		updated_at = NOW()
	`

	_, err := s.db.ExecContext(ctx, query,
		svc.PublicKey, string(svc.ServiceType), string(svc.NodeID),
		svc.HTTPEndpoint, svc.ExchangeKey, signed.Signature.Bytes())
	return err
}

// ListServices returns registrations of one type. Signatures are
// reconstructed so callers can re-verify authenticity.
func (s *PostgresStore) ListServices(serviceType ServiceType) ([]*protocol.Signed[RegisteredService], error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
	SELECT public_key, service_type, node_id, http_endpoint, exchange_key, signature
	FROM registered_services WHERE service_type = $1
	`

	rows, err := s.db.QueryContext(ctx, query, string(serviceType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*protocol.Signed[RegisteredService]
	for rows.Next() {
		var svc RegisteredService
		var svcType, nodeID string
		var signature []byte
		if err := rows.Scan(&svc.PublicKey, &svcType, &nodeID, &svc.HTTPEndpoint, &svc.ExchangeKey, &signature); err != nil {
			return nil, err
		}
		svc.ServiceType = ServiceType(svcType)
		svc.NodeID = protocol.NodeID(nodeID)

		pubKey, err := svc.ParsePublicKey()
		if err != nil {
			return nil, err
		}
		result = append(result, &protocol.Signed[RegisteredService]{
			PublicKey: pubKey,
			Signature: signature,
			Object:    &svc,
		})
	}
	return result, rows.Err()
}

// DeleteService removes a registration.
func (s *PostgresStore) DeleteService(publicKey string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `DELETE FROM registered_services WHERE public_key = $1`, publicKey)
	return err
}

// SaveTally archives a revealed tally.
func (s *PostgresStore) SaveTally(tally *protocol.Tally, question string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
	INSERT INTO revealed_tallies (instance_id, question, sum, voters)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (instance_id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query, tally.InstanceID, question, int64(tally.Sum), tally.Voters)
	return err
}

// GetTally fetches an archived tally.
func (s *PostgresStore) GetTally(instanceID string) (*protocol.Tally, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `SELECT sum, voters, question FROM revealed_tallies WHERE instance_id = $1`

	var sum int64
	var voters int
	var question sql.NullString
	err := s.db.QueryRowContext(ctx, query, instanceID).Scan(&sum, &voters, &question)
	if err != nil {
		return nil, "", err
	}

	return &protocol.Tally{InstanceID: instanceID, Sum: uint64(sum), Voters: voters}, question.String, nil
}

// Close releases the database connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

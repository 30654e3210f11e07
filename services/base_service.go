package services

import (
	"crypto/ecdh"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/choosek/tinyvote/crypto"
	"github.com/choosek/tinyvote/protocol"
	"github.com/rs/zerolog"
)

// baseService contains common fields and methods for all HTTP services.
type baseService struct {
	config      *ServiceConfig
	httpClient  *http.Client
	signingKey  crypto.PrivateKey
	exchangeKey *ecdh.PrivateKey
	log         zerolog.Logger
}

func newBaseService(config *ServiceConfig, signingKey crypto.PrivateKey, exchangeKey *ecdh.PrivateKey, log zerolog.Logger) (*baseService, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if _, err := signingKey.PublicKey(); err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	if exchangeKey == nil {
		return nil, fmt.Errorf("exchange key cannot be nil")
	}

	return &baseService{
		config:      config,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		signingKey:  signingKey,
		exchangeKey: exchangeKey,
		log:         log.With().Str("service", string(config.ServiceType)).Logger(),
	}, nil
}

func (b *baseService) publicKey() crypto.PublicKey {
	pubKey, _ := b.signingKey.PublicKey()
	return pubKey
}

func (b *baseService) registrationRequest(nodeID protocol.NodeID) *RegisteredService {
	return &RegisteredService{
		ServiceType:  b.config.ServiceType,
		HTTPEndpoint: fmt.Sprintf("http://%s", b.config.HTTPAddr),
		PublicKey:    b.publicKey().String(),
		ExchangeKey:  hex.EncodeToString(b.exchangeKey.PublicKey().Bytes()),
		NodeID:       nodeID,
	}
}

// registerWithRegistry announces this service at the configured registry.
func (b *baseService) registerWithRegistry(nodeID protocol.NodeID) error {
	if b.config.RegistryURL == "" {
		return nil
	}

	signedReq, err := protocol.NewSigned(b.signingKey, b.registrationRequest(nodeID))
	if err != nil {
		return fmt.Errorf("signing registration: %w", err)
	}

	url := fmt.Sprintf("%s/register/%s", b.config.RegistryURL, b.config.ServiceType)
	resp, err := postJSON[ServiceRegistrationResponse](b.httpClient, url, signedReq)
	if err != nil {
		return fmt.Errorf("registry registration failed: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("registry refused registration: %s", resp.Message)
	}

	b.log.Info().Str("registry", b.config.RegistryURL).Msg("registered with registry")
	return nil
}

// fetchNodes lists the node services known to the registry.
func (b *baseService) fetchNodes() ([]*RegisteredService, error) {
	url := fmt.Sprintf("%s/services/%s", b.config.RegistryURL, NodeService)
	signed, err := getJSON[[]*protocol.Signed[RegisteredService]](b.httpClient, url)
	if err != nil {
		return nil, err
	}

	nodes := make([]*RegisteredService, 0, len(*signed))
	for _, s := range *signed {
		svc, signer, err := s.Recover()
		if err != nil {
			continue
		}
		pk, err := svc.ParsePublicKey()
		if err != nil || !signer.Equal(pk) {
			continue
		}
		nodes = append(nodes, svc)
	}
	return nodes, nil
}

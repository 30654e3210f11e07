package services

import (
	"crypto/ecdh"
	"encoding/hex"
	"fmt"

	"github.com/choosek/tinyvote/crypto"
	"github.com/choosek/tinyvote/protocol"
)

// ServiceConfig contains configuration for HTTP services.
type ServiceConfig struct {
	HTTPAddr    string
	ServiceType ServiceType
	RegistryURL string
	// AdminToken for authenticating with registry admin endpoints (user:pass).
	AdminToken string
}

// ServiceType identifies the type of service.
type ServiceType string

const (
	NodeService        ServiceType = "node"
	CoordinatorService ServiceType = "coordinator"
)

// Valid returns true if the service type is recognized.
func (t ServiceType) Valid() bool {
	switch t {
	case NodeService, CoordinatorService:
		return true
	}
	return false
}

// RegisteredService contains all registration data for a service instance.
// This is the canonical type used throughout the system for service identity.
type RegisteredService struct {
	ServiceType  ServiceType `json:"service_type"`
	HTTPEndpoint string      `json:"http_endpoint"`
	PublicKey    string      `json:"public_key"`
	ExchangeKey  string      `json:"exchange_key"`

	// NodeID is the operator-assigned identifier used in instance
	// topologies. Empty for coordinators.
	NodeID protocol.NodeID `json:"node_id,omitempty"`
}

// ParsePublicKey returns the parsed signing public key.
func (s *RegisteredService) ParsePublicKey() (crypto.PublicKey, error) {
	return crypto.NewPublicKeyFromString(s.PublicKey)
}

// ParseExchangeKey returns the parsed ECDH public key.
func ParseExchangeKey(exchangeKey string) (*ecdh.PublicKey, error) {
	keyBytes, err := hex.DecodeString(exchangeKey)
	if err != nil {
		return nil, fmt.Errorf("invalid exchange key hex: %w", err)
	}
	return ecdh.P256().NewPublicKey(keyBytes)
}

// ServiceListResponse contains all registered services by type.
type ServiceListResponse struct {
	Nodes        []*protocol.Signed[RegisteredService] `json:"nodes"`
	Coordinators []*protocol.Signed[RegisteredService] `json:"coordinators"`
}

// ServiceRegistrationResponse confirms registry registration.
type ServiceRegistrationResponse struct {
	Success   bool   `json:"success"`
	PublicKey string `json:"public_key,omitempty"`
	Message   string `json:"message,omitempty"`
}

// CreateElectionRequest asks the coordinator to set up a new ballot question.
type CreateElectionRequest struct {
	Question       string              `json:"question,omitempty"`
	Domain         protocol.VoteDomain `json:"domain"`
	Weight         uint64              `json:"weight,omitempty"`
	ExpectedVoters int                 `json:"expected_voters"`

	// Nodes optionally restricts the election to a subset of registered
	// nodes. Empty means all registered nodes participate.
	Nodes []protocol.NodeID `json:"nodes,omitempty"`
}

// ElectionResponse carries the public parameters voters need.
type ElectionResponse struct {
	Request  *protocol.Request `json:"request"`
	Question string            `json:"question,omitempty"`
	State    string            `json:"state,omitempty"`
}

// SetupInstanceRequest delivers a sealed node setup to a node service.
type SetupInstanceRequest struct {
	Setup *protocol.Signed[protocol.SealedNodeSetup] `json:"setup"`
}

// SubmitShareRequest wraps a voter's signed share for HTTP transport.
type SubmitShareRequest struct {
	Share *protocol.Signed[protocol.VoteShare] `json:"share"`
}

// SubmitShareResponse reports acceptance of a share.
type SubmitShareResponse struct {
	Accepted bool   `json:"accepted"`
	Complete bool   `json:"complete"`
	Message  string `json:"message,omitempty"`
}

// CloseInstanceRequest asks a node to finalize its partial result.
type CloseInstanceRequest struct {
	InstanceID string `json:"instance_id"`
}

// PartialResultResponse carries a node's signed partial result.
type PartialResultResponse struct {
	Partial *protocol.Signed[protocol.PartialResult] `json:"partial"`
}

// InstanceStatusResponse reports a node's view of one instance.
type InstanceStatusResponse struct {
	InstanceID string `json:"instance_id"`
	Accepted   int    `json:"accepted"`
	Expected   int    `json:"expected"`
	Closed     bool   `json:"closed"`
}

// TallyResponse carries a revealed tally.
type TallyResponse struct {
	Tally    *protocol.Tally `json:"tally"`
	Question string          `json:"question,omitempty"`
}

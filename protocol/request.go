package protocol

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/choosek/tinyvote/crypto"
)

// Request is the immutable public descriptor of one protocol instance.
// Voters need only a Request to encode a vote; it carries no mask material.
type Request struct {
	Config    InstanceConfig `json:"config"`
	CreatedAt time.Time      `json:"created_at"`
}

// NodeSetup is the private per-node part of an instance: the node's mask.
// Owned exclusively by that node, distributed once over a confidential channel
// and never transmitted again.
type NodeSetup struct {
	InstanceID string   `json:"instance_id"`
	NodeID     NodeID   `json:"node_id"`
	Mask       *big.Int `json:"mask"`
}

// Erase overwrites the mask material.
func (s *NodeSetup) Erase() {
	if s.Mask != nil {
		crypto.ZeroInplace(s.Mask)
	}
}

// NewInstance validates the configuration and generates the instance's mask
// material from a fresh seed. It returns the public Request and one NodeSetup
// per node, in the configured node order. The seed is erased before returning;
// each call draws independent randomness, so two instances never share masks.
//
// An unavailable randomness source is a fatal configuration error and aborts
// instance creation.
func NewInstance(config InstanceConfig, src io.Reader) (*Request, []*NodeSetup, error) {
	if err := config.Validate(); err != nil {
		return nil, nil, err
	}

	seed, err := crypto.NewMaskSeed(src)
	if err != nil {
		return nil, nil, fmt.Errorf("instance %s: %w", config.InstanceID, err)
	}
	defer seed.Zero()

	masks, err := crypto.DeriveMaskVector(seed, []byte(config.InstanceID), len(config.Nodes), crypto.TallyFieldOrder)
	if err != nil {
		return nil, nil, fmt.Errorf("instance %s: %w", config.InstanceID, err)
	}

	setups := make([]*NodeSetup, len(config.Nodes))
	for i, nodeID := range config.Nodes {
		setups[i] = &NodeSetup{
			InstanceID: config.InstanceID,
			NodeID:     nodeID,
			Mask:       masks[i],
		}
	}

	return &Request{Config: config, CreatedAt: time.Now().UTC()}, setups, nil
}

// SealedNodeSetup carries a node's setup encrypted to its exchange key, so the
// coordinator can distribute masks over an untrusted transport.
type SealedNodeSetup struct {
	InstanceID string           `json:"instance_id"`
	NodeID     NodeID           `json:"node_id"`
	Request    *Request         `json:"request"`
	Envelope   *crypto.Envelope `json:"envelope"`
}

// SealNodeSetup encrypts a node's setup to its ECDH exchange key.
func SealNodeSetup(req *Request, setup *NodeSetup, nodeExchangeKey *ecdh.PublicKey) (*SealedNodeSetup, error) {
	plaintext, err := SerializeMessage(setup)
	if err != nil {
		return nil, err
	}

	env, err := crypto.Seal(nodeExchangeKey, plaintext)
	if err != nil {
		return nil, fmt.Errorf("sealing setup for node %s: %w", setup.NodeID, err)
	}

	return &SealedNodeSetup{
		InstanceID: setup.InstanceID,
		NodeID:     setup.NodeID,
		Request:    req,
		Envelope:   env,
	}, nil
}

// OpenNodeSetup decrypts a sealed setup with the node's private exchange key
// and checks it is consistent with the enclosed request.
func OpenNodeSetup(sealed *SealedNodeSetup, exchangeKey *ecdh.PrivateKey) (*NodeSetup, error) {
	plaintext, err := crypto.Open(exchangeKey, sealed.Envelope)
	if err != nil {
		return nil, err
	}

	setup, err := UnmarshalMessage[NodeSetup](plaintext)
	if err != nil {
		return nil, fmt.Errorf("decoding node setup: %w", err)
	}

	if setup.InstanceID != sealed.InstanceID || setup.NodeID != sealed.NodeID {
		return nil, fmt.Errorf("sealed setup does not match its header")
	}
	if sealed.Request == nil || sealed.Request.Config.InstanceID != setup.InstanceID {
		return nil, fmt.Errorf("sealed setup does not match its request")
	}
	if !sealed.Request.Config.HasNode(setup.NodeID) {
		return nil, fmt.Errorf("node %s is not part of instance %s", setup.NodeID, setup.InstanceID)
	}

	return setup, nil
}

// entropySource is the system randomness used when callers do not inject one.
var entropySource io.Reader = rand.Reader

package testutil

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"

	"github.com/choosek/tinyvote/crypto"
	"github.com/choosek/tinyvote/protocol"
)

// =====================================
// Configuration Generators
// =====================================

// TestConfigOption is a function that modifies an InstanceConfig.
type TestConfigOption func(*protocol.InstanceConfig)

// WithNodes sets the instance topology.
func WithNodes(ids ...protocol.NodeID) TestConfigOption {
	return func(cfg *protocol.InstanceConfig) {
		cfg.Nodes = ids
	}
}

// WithNodeCount sets a generated topology of the given size.
func WithNodeCount(count int) TestConfigOption {
	return func(cfg *protocol.InstanceConfig) {
		cfg.Nodes = make([]protocol.NodeID, count)
		for i := 0; i < count; i++ {
			cfg.Nodes[i] = protocol.NodeID(fmt.Sprintf("node-%d", i))
		}
	}
}

// WithExpectedVoters sets the number of participants.
func WithExpectedVoters(count int) TestConfigOption {
	return func(cfg *protocol.InstanceConfig) {
		cfg.ExpectedVoters = count
	}
}

// WithWeight sets the per-vote weight multiplier.
func WithWeight(weight uint64) TestConfigOption {
	return func(cfg *protocol.InstanceConfig) {
		cfg.Weight = weight
	}
}

// WithRangeDomain switches the instance to a range domain with the given
// inclusive maximum.
func WithRangeDomain(max uint64) TestConfigOption {
	return func(cfg *protocol.InstanceConfig) {
		cfg.Domain = protocol.VoteDomain{Kind: protocol.RangeDomain, Max: max}
	}
}

// NewTestConfig creates an instance configuration with default values that
// can be customized using options. Defaults: binary domain, three nodes,
// four expected voters.
func NewTestConfig(instanceID string, options ...TestConfigOption) protocol.InstanceConfig {
	cfg := protocol.InstanceConfig{
		InstanceID:     instanceID,
		Domain:         protocol.VoteDomain{Kind: protocol.BinaryDomain},
		ExpectedVoters: 4,
		Nodes:          []protocol.NodeID{"node-a", "node-b", "node-c"},
	}

	for _, option := range options {
		option(&cfg)
	}

	return cfg
}

// =====================================
// Crypto Generators
// =====================================

// GenerateTestKeyPair generates an Ed25519 key pair for testing.
func GenerateTestKeyPair() (crypto.PublicKey, crypto.PrivateKey, error) {
	return crypto.GenerateKeyPair()
}

// GenerateTestExchangeKey generates an ECDH P-256 key for testing.
func GenerateTestExchangeKey() (*ecdh.PrivateKey, error) {
	return ecdh.P256().GenerateKey(rand.Reader)
}

// TestVoter bundles one voter's identity.
type TestVoter struct {
	PublicKey  crypto.PublicKey
	PrivateKey crypto.PrivateKey
}

// GenerateTestVoters generates a slice of voter identities.
func GenerateTestVoters(count int) ([]TestVoter, error) {
	voters := make([]TestVoter, count)
	for i := 0; i < count; i++ {
		pub, priv, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		voters[i] = TestVoter{PublicKey: pub, PrivateKey: priv}
	}
	return voters, nil
}

// =====================================
// Instance Helpers
// =====================================

// NewTestInstance sets up an instance from the given config using the system
// randomness source.
func NewTestInstance(cfg protocol.InstanceConfig) (*protocol.Request, []*protocol.NodeSetup, error) {
	return protocol.NewInstance(cfg, rand.Reader)
}

// EncodeTestVotes encodes one share vector per vote value.
func EncodeTestVotes(request *protocol.Request, values []uint64) ([][]*protocol.VoteShare, error) {
	shares := make([][]*protocol.VoteShare, len(values))
	for i, value := range values {
		encoded, err := protocol.EncodeVote(request, value)
		if err != nil {
			return nil, err
		}
		shares[i] = encoded
	}
	return shares, nil
}

// RunTestInstance drives a complete instance in-process: every vote is
// encoded, distributed to per-node evaluators and folded, and the resulting
// partials are combined into a tally. Voter identities are generated.
func RunTestInstance(cfg protocol.InstanceConfig, votes []uint64) (*protocol.Tally, error) {
	request, setups, err := protocol.NewInstance(cfg, rand.Reader)
	if err != nil {
		return nil, err
	}

	evaluators := make(map[protocol.NodeID]*protocol.NodeEvaluator, len(setups))
	for _, setup := range setups {
		eval, err := protocol.NewNodeEvaluator(request, setup)
		if err != nil {
			return nil, err
		}
		evaluators[setup.NodeID] = eval
	}

	voters, err := GenerateTestVoters(len(votes))
	if err != nil {
		return nil, err
	}

	for i, vote := range votes {
		shares, err := protocol.EncodeVote(request, vote)
		if err != nil {
			return nil, err
		}
		for _, share := range shares {
			if _, err := evaluators[share.NodeID].Accept(voters[i].PublicKey, share); err != nil {
				return nil, err
			}
		}
	}

	partials := make([]*protocol.PartialResult, 0, len(setups))
	for _, setup := range setups {
		partial, err := evaluators[setup.NodeID].Close()
		if err != nil {
			return nil, err
		}
		partials = append(partials, partial)
	}

	return protocol.Combine(request, partials)
}

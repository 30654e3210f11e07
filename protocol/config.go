package protocol

import (
	"fmt"
	"math/big"
)

// NodeID identifies a computing node within an instance's topology.
type NodeID string

// DomainKind selects one of the closed set of vote encodings.
type DomainKind string

const (
	// BinaryDomain restricts votes to {0, 1}: yes/no questions.
	BinaryDomain DomainKind = "binary"

	// RangeDomain allows bounded non-negative integers 0..Max inclusive:
	// scored or weighted questions.
	RangeDomain DomainKind = "range"
)

// VoteDomain declares the set of legal vote values for an instance.
type VoteDomain struct {
	Kind DomainKind `json:"kind"`

	// Max is the inclusive upper bound for range domains. Ignored for
	// binary domains.
	Max uint64 `json:"max,omitempty"`
}

// Validate checks the domain declaration itself.
func (d VoteDomain) Validate() error {
	switch d.Kind {
	case BinaryDomain:
		return nil
	case RangeDomain:
		if d.Max == 0 {
			return fmt.Errorf("%w: range domain needs max >= 1", ErrInvalidDomain)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDomain, d.Kind)
	}
}

// maxValue returns the largest legal vote value of the domain.
func (d VoteDomain) maxValue() uint64 {
	if d.Kind == RangeDomain {
		return d.Max
	}
	return 1
}

// Check rejects values outside the domain. A malformed vote must never
// produce a share.
func (d VoteDomain) Check(value uint64) error {
	switch d.Kind {
	case BinaryDomain:
		if value > 1 {
			return fmt.Errorf("%w: %d is not a binary vote", ErrVoteOutOfDomain, value)
		}
		return nil
	case RangeDomain:
		if value > d.Max {
			return fmt.Errorf("%w: %d > %d", ErrVoteOutOfDomain, value, d.Max)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDomain, d.Kind)
	}
}

// InstanceConfig provides the public parameters of one protocol instance
// (one ballot question).
type InstanceConfig struct {
	// InstanceID uniquely identifies the instance for the lifetime of the
	// system. Reuse is rejected as a fatal protocol violation.
	InstanceID string `json:"instance_id"`

	// Domain is the set of legal vote values.
	Domain VoteDomain `json:"domain"`

	// Weight is an optional multiplier applied to every vote at encoding
	// time. Zero means unweighted (multiplier 1).
	Weight uint64 `json:"weight,omitempty"`

	// ExpectedVoters is the number of participants; nodes finalize once
	// this many shares were accepted, or on an explicit close.
	ExpectedVoters int `json:"expected_voters"`

	// Nodes is the ordered list of participating node identifiers.
	Nodes []NodeID `json:"nodes"`
}

// Validate checks the configuration at setup. Failures here are fatal, never
// retried.
func (c *InstanceConfig) Validate() error {
	if c.InstanceID == "" {
		return fmt.Errorf("instance id must not be empty")
	}
	if err := c.Domain.Validate(); err != nil {
		return err
	}
	if c.ExpectedVoters < 1 {
		return fmt.Errorf("expected voters must be positive, got %d", c.ExpectedVoters)
	}
	if len(c.Nodes) < 2 {
		return fmt.Errorf("%w: got %d", ErrTooFewNodes, len(c.Nodes))
	}
	seen := make(map[NodeID]struct{}, len(c.Nodes))
	for _, id := range c.Nodes {
		if id == "" {
			return fmt.Errorf("node id must not be empty")
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("duplicate node id %q", id)
		}
		seen[id] = struct{}{}
	}

	// The revealed tally must be representable: every voter casting the
	// domain maximum at full weight still has to fit a uint64.
	worst := new(big.Int).SetUint64(c.Domain.maxValue())
	worst.Mul(worst, new(big.Int).SetUint64(c.VoteWeight()))
	worst.Mul(worst, big.NewInt(int64(c.ExpectedVoters)))
	if !worst.IsUint64() {
		return fmt.Errorf("tally can overflow: %d voters with max vote %d at weight %d",
			c.ExpectedVoters, c.Domain.maxValue(), c.VoteWeight())
	}
	return nil
}

// HasNode reports whether the node participates in this instance.
func (c *InstanceConfig) HasNode(id NodeID) bool {
	for _, n := range c.Nodes {
		if n == id {
			return true
		}
	}
	return false
}

// VoteWeight returns the effective multiplier for this instance.
func (c *InstanceConfig) VoteWeight() uint64 {
	if c.Weight == 0 {
		return 1
	}
	return c.Weight
}

package protocol

import (
	"fmt"
	"io"
	"math/big"

	"github.com/choosek/tinyvote/crypto"
)

// VoteShare is a voter's masked contribution addressed to one specific node.
// Individually (and in any strict subset over the node set) shares are uniform
// field elements; only the full set combined with all node masks reconstructs
// anything, and then only as part of the aggregate.
type VoteShare struct {
	InstanceID string   `json:"instance_id"`
	NodeID     NodeID   `json:"node_id"`
	Value      *big.Int `json:"value"`
}

// EncodeVote splits a raw vote value into one share per node of the instance.
// The shares sum to the weighted vote value in the field. Values outside the
// instance's domain are rejected before any share is produced. Randomness is
// drawn fresh per call; the raw value is not retained.
func EncodeVote(req *Request, value uint64) ([]*VoteShare, error) {
	return encodeVote(req, value, entropySource)
}

func encodeVote(req *Request, value uint64, src io.Reader) ([]*VoteShare, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if err := req.Config.Domain.Check(value); err != nil {
		return nil, err
	}

	weighted := new(big.Int).SetUint64(value)
	weighted.Mul(weighted, new(big.Int).SetUint64(req.Config.VoteWeight()))
	weighted.Mod(weighted, crypto.TallyFieldOrder)

	nodes := req.Config.Nodes
	shares := make([]*VoteShare, len(nodes))

	// n-1 uniform shares; the last one completes the sum to the weighted
	// value.
	remainder := new(big.Int).Set(weighted)
	for i := 0; i < len(nodes)-1; i++ {
		el, err := crypto.RandFieldElement(src, crypto.TallyFieldOrder)
		if err != nil {
			return nil, fmt.Errorf("encoding vote: %w", err)
		}
		crypto.FieldSubInplace(remainder, el, crypto.TallyFieldOrder)
		shares[i] = &VoteShare{
			InstanceID: req.Config.InstanceID,
			NodeID:     nodes[i],
			Value:      el,
		}
	}
	shares[len(nodes)-1] = &VoteShare{
		InstanceID: req.Config.InstanceID,
		NodeID:     nodes[len(nodes)-1],
		Value:      remainder,
	}

	return shares, nil
}

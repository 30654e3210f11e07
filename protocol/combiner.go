package protocol

import (
	"fmt"
	"math/big"

	"github.com/choosek/tinyvote/crypto"
)

// Tally is the revealed aggregate of an instance: the exact (optionally
// weighted) sum of all participating votes, and nothing else.
type Tally struct {
	InstanceID string `json:"instance_id"`
	Sum        uint64 `json:"sum"`
	Voters     int    `json:"voters"`
}

// Combine folds all nodes' partial results into the plaintext tally. The node
// masks cancel during the fold, leaving exactly the vote sum.
//
// Every node of the instance must contribute exactly one partial result: a
// missing node makes the instance unrecoverable under the trust model, and no
// partial or estimated tally is ever returned.
func Combine(req *Request, partials []*PartialResult) (*Tally, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}

	byNode := make(map[NodeID]*PartialResult, len(partials))
	for _, p := range partials {
		if p == nil {
			continue
		}
		if p.InstanceID != req.Config.InstanceID {
			return nil, fmt.Errorf("%w: partial for %s", ErrWrongInstance, p.InstanceID)
		}
		if !req.Config.HasNode(p.NodeID) {
			return nil, fmt.Errorf("%w: partial from %s", ErrWrongNode, p.NodeID)
		}
		if _, ok := byNode[p.NodeID]; ok {
			return nil, fmt.Errorf("conflicting partial results from node %s", p.NodeID)
		}
		if p.Value == nil || p.Value.Sign() < 0 || p.Value.Cmp(crypto.TallyFieldOrder) >= 0 {
			return nil, fmt.Errorf("node %s: partial result outside the field", p.NodeID)
		}
		byNode[p.NodeID] = p
	}

	sum := big.NewInt(0)
	voters := -1
	for _, nodeID := range req.Config.Nodes {
		p, ok := byNode[nodeID]
		if !ok {
			return nil, fmt.Errorf("%w: no result from node %s", ErrIncompleteInstance, nodeID)
		}
		if voters == -1 {
			voters = p.Voters
		} else if p.Voters != voters {
			return nil, fmt.Errorf("%w: nodes disagree on voter count (%d vs %d)", ErrIncompleteInstance, voters, p.Voters)
		}
		crypto.FieldAddInplace(sum, p.Value, crypto.TallyFieldOrder)
	}

	// A correct instance yields a small sum; anything that does not fit a
	// uint64 means masks did not cancel.
	if !sum.IsUint64() {
		return nil, fmt.Errorf("combined result is not a plausible tally, mask material inconsistent")
	}

	return &Tally{
		InstanceID: req.Config.InstanceID,
		Sum:        sum.Uint64(),
		Voters:     voters,
	}, nil
}

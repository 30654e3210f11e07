package protocol

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/choosek/tinyvote/crypto"
)

// PartialResult is a node's local fold of all shares it accepted for an
// instance, blinded by the node's mask. Produced once per (instance, node)
// pair and immutable after production.
type PartialResult struct {
	InstanceID string   `json:"instance_id"`
	NodeID     NodeID   `json:"node_id"`
	Value      *big.Int `json:"value"`
	Voters     int      `json:"voters"`
}

// NodeEvaluator accumulates the shares addressed to one node for one instance
// and folds them with the node's private mask into a PartialResult.
//
// The fold is associative and commutative, so shares are folded incrementally
// as they arrive and arrival order never affects the result. The evaluator
// finalizes when the expected voter count is reached or on an explicit Close.
type NodeEvaluator struct {
	mu sync.Mutex

	config InstanceConfig
	nodeID NodeID

	acc      *big.Int // running fold, seeded with the node's mask
	seen     map[string]struct{}
	accepted int
	closed   bool
	partial  *PartialResult
}

// NewNodeEvaluator binds a node's setup to an instance's public request.
// The evaluator takes ownership of the setup's mask material.
func NewNodeEvaluator(req *Request, setup *NodeSetup) (*NodeEvaluator, error) {
	if req == nil || setup == nil {
		return nil, fmt.Errorf("nil request or setup")
	}
	if setup.InstanceID != req.Config.InstanceID {
		return nil, fmt.Errorf("%w: setup is for %s", ErrWrongInstance, setup.InstanceID)
	}
	if !req.Config.HasNode(setup.NodeID) {
		return nil, fmt.Errorf("%w: %s not in topology", ErrWrongNode, setup.NodeID)
	}
	if setup.Mask == nil || setup.Mask.Sign() < 0 || setup.Mask.Cmp(crypto.TallyFieldOrder) >= 0 {
		return nil, fmt.Errorf("node %s: mask outside the field", setup.NodeID)
	}

	return &NodeEvaluator{
		config: req.Config,
		nodeID: setup.NodeID,
		acc:    new(big.Int).Set(setup.Mask),
		seen:   make(map[string]struct{}),
	}, nil
}

// Accept folds one voter's share into the accumulator. The voter identity
// keys duplicate detection; a voter gets exactly one share into each node.
// It reports whether the expected voter count has been reached; shares
// arriving past that count are rejected like shares after Close.
//
// Rejected shares (duplicate, closed instance, misaddressed, malformed) leave
// the accumulator untouched; the instance keeps running for other voters.
func (e *NodeEvaluator) Accept(voter crypto.PublicKey, share *VoteShare) (bool, error) {
	if share == nil {
		return false, fmt.Errorf("nil share")
	}
	if share.InstanceID != e.config.InstanceID {
		return false, fmt.Errorf("%w: got %s, evaluating %s", ErrWrongInstance, share.InstanceID, e.config.InstanceID)
	}
	if share.NodeID != e.nodeID {
		return false, fmt.Errorf("%w: addressed to %s, this is %s", ErrWrongNode, share.NodeID, e.nodeID)
	}
	if share.Value == nil || share.Value.Sign() < 0 || share.Value.Cmp(crypto.TallyFieldOrder) >= 0 {
		return false, ErrMalformedShare
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false, fmt.Errorf("%w: instance %s", ErrInstanceClosed, e.config.InstanceID)
	}
	if e.accepted >= e.config.ExpectedVoters {
		return false, fmt.Errorf("%w: instance %s reached its expected voter count", ErrInstanceClosed, e.config.InstanceID)
	}
	voterKey := voter.String()
	if _, ok := e.seen[voterKey]; ok {
		return false, fmt.Errorf("%w: voter %s", ErrDuplicateShare, voterKey)
	}

	e.seen[voterKey] = struct{}{}
	crypto.FieldAddInplace(e.acc, share.Value, crypto.TallyFieldOrder)
	e.accepted++

	return e.accepted >= e.config.ExpectedVoters, nil
}

// Accepted returns the number of shares folded so far.
func (e *NodeEvaluator) Accepted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accepted
}

// Closed reports whether the evaluator has finalized.
func (e *NodeEvaluator) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Close finalizes the evaluator and returns its PartialResult. The first call
// produces the result; later calls return the same immutable value, so both
// count-triggered and deadline-triggered closing converge.
func (e *NodeEvaluator) Close() (*PartialResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		if e.partial == nil {
			return nil, fmt.Errorf("%w: instance %s", ErrInstanceAborted, e.config.InstanceID)
		}
		return e.partial, nil
	}

	e.closed = true
	e.partial = &PartialResult{
		InstanceID: e.config.InstanceID,
		NodeID:     e.nodeID,
		Value:      new(big.Int).Set(e.acc),
		Voters:     e.accepted,
	}
	crypto.ZeroInplace(e.acc)

	return e.partial, nil
}

// Abort discards the evaluator's state without producing a result. The mask
// fold is erased and can never be reused.
func (e *NodeEvaluator) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	e.partial = nil
	crypto.ZeroInplace(e.acc)
	e.seen = make(map[string]struct{})
}

// Package protocol implements a privacy-preserving vote-tallying protocol over
// additive secret masking, the summation specialization of a sum-of-products
// multi-party computation.
//
// # Roles and Workflow
//
// A protocol instance corresponds to one ballot question and involves three
// roles:
//
//  1. Coordinator: creates the instance, generates the per-node mask material
//     from a fresh seed, and distributes each node its own mask. It never sees
//     vote values.
//
//  2. Voters: split a vote into one field share per node such that the shares
//     sum to the (optionally weighted) vote value. Any strict subset of shares
//     is uniformly random and reveals nothing about the vote.
//
//  3. Nodes: each node folds the shares addressed to it together with its
//     private mask into a single partial result. The masks of all nodes sum to
//     zero, so combining every node's partial result yields exactly the sum of
//     votes and nothing else.
//
// The lifecycle of an instance is setup, collection, evaluation, combination,
// teardown. Mask material is generated exactly once per instance and erased
// when the instance is revealed or aborted; reusing masks across instances
// would break the one-time-pad property of the scheme.
//
// # Trust Model
//
// Nodes are honest-but-curious: they follow the protocol but may inspect
// everything they legitimately see. Privacy of an individual vote holds as
// long as not all nodes collude; the full node set pooling its shares can
// reconstruct a vote. The protocol provides no Byzantine fault tolerance and
// no recovery for a missing node's partial result.
//
// # External Collaborators
//
// Transport between voters, nodes and the coordinator, persistence of ballots,
// and voter eligibility checks are outside this package. The package assumes
// an authenticated channel per node; the services package provides a reference
// HTTP wiring using the Signed envelope and sealed mask delivery from this
// package and the crypto package.
package protocol

// Package services provides HTTP-based wiring for the tallying protocol.
//
// The protocol package defines the roles (coordinator, nodes, voters) and
// assumes an external transport; this package is that transport's reference
// implementation. It contains:
//
//   - Registry: service discovery where nodes and coordinators register
//     their signed endpoints and keys
//   - HTTPNode: wraps protocol.NodeEvaluator instances behind HTTP endpoints
//     for setup delivery, share submission and closing
//   - HTTPCoordinator: drives election lifecycles end to end, from mask
//     distribution to tally publication
//   - VoterClient: client-side helper that encodes a vote and submits one
//     share to every node
//   - PostgresStore: optional persistence for registrations and revealed
//     tallies; the protocol core itself keeps no durable state
//
// All inter-service messages travel as protocol.Signed envelopes; per-node
// mask material additionally travels sealed to the node's exchange key, so a
// plain HTTP transport never exposes it.
package services

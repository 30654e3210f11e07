package protocol

import "errors"

// Configuration errors are fatal at setup and never retried.
var (
	ErrTooFewNodes        = errors.New("at least 2 nodes are required for privacy")
	ErrInvalidDomain      = errors.New("invalid vote domain")
	ErrDuplicateInstance  = errors.New("instance identifier already used")
	ErrUnknownInstance    = errors.New("unknown instance")
	ErrInstanceNotPending = errors.New("instance is not accepting this operation")
)

// Malformed-vote errors reject a single submission before any share exists.
var ErrVoteOutOfDomain = errors.New("vote value outside the configured domain")

// Protocol-integrity errors are rejected at the receiving node and reported;
// the instance keeps running for other voters.
var (
	ErrDuplicateShare = errors.New("duplicate share from voter")
	ErrInstanceClosed = errors.New("share submitted after instance close")
	ErrWrongNode      = errors.New("share addressed to a different node")
	ErrWrongInstance  = errors.New("share belongs to a different instance")
	ErrMalformedShare = errors.New("share value outside the field")
)

// Incompleteness errors abort the whole instance; no partial tally is
// ever surfaced.
var (
	ErrIncompleteInstance = errors.New("missing partial results, instance unrecoverable")
	ErrInstanceAborted    = errors.New("instance was aborted")
)

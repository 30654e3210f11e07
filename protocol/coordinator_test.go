package protocol

import (
	"crypto/ecdh"
	"crypto/rand"
	"testing"

	"github.com/choosek/tinyvote/crypto"
	"github.com/stretchr/testify/require"
)

func TestCoordinatorLifecycle(t *testing.T) {
	coord := NewCoordinator()
	config := binaryConfig("lifecycle", 3, 2)

	req, err := coord.CreateInstance(config)
	require.NoError(t, err)
	require.Equal(t, config.InstanceID, req.Config.InstanceID)

	state, err := coord.State(config.InstanceID)
	require.NoError(t, err)
	require.Equal(t, StateCollecting, state)

	setups, err := coord.TakeNodeSetups(config.InstanceID)
	require.NoError(t, err)
	require.Len(t, setups, 3)

	// Mask material is handed out exactly once.
	_, err = coord.TakeNodeSetups(config.InstanceID)
	require.Error(t, err)

	evals := make([]*NodeEvaluator, 3)
	for i, setup := range setups {
		evals[i], err = NewNodeEvaluator(req, setup)
		require.NoError(t, err)
	}
	for v, vote := range []uint64{1, 1} {
		shares, err := EncodeVote(req, vote)
		require.NoError(t, err)
		for i, share := range shares {
			_, err = evals[i].Accept(voterPK(v), share)
			require.NoError(t, err)
		}
	}

	partials := make([]*PartialResult, 3)
	for i, e := range evals {
		partials[i], err = e.Close()
		require.NoError(t, err)
	}

	tally, err := coord.Combine(config.InstanceID, partials)
	require.NoError(t, err)
	require.Equal(t, uint64(2), tally.Sum)

	state, err = coord.State(config.InstanceID)
	require.NoError(t, err)
	require.Equal(t, StateRevealed, state)

	// Revealed tallies are fixed.
	again, err := coord.Combine(config.InstanceID, nil)
	require.NoError(t, err)
	require.Equal(t, tally, again)

	stored, err := coord.Tally(config.InstanceID)
	require.NoError(t, err)
	require.Equal(t, tally, stored)
}

func TestCoordinatorRejectsDuplicateInstanceID(t *testing.T) {
	coord := NewCoordinator()
	config := binaryConfig("duplicate-id", 2, 1)

	_, err := coord.CreateInstance(config)
	require.NoError(t, err)
	_, err = coord.CreateInstance(config)
	require.ErrorIs(t, err, ErrDuplicateInstance)

	// Identifiers of aborted instances stay burned.
	require.NoError(t, coord.Abort(config.InstanceID))
	_, err = coord.CreateInstance(config)
	require.ErrorIs(t, err, ErrDuplicateInstance)
}

func TestCoordinatorAbort(t *testing.T) {
	coord := NewCoordinator()
	config := binaryConfig("abort-coordinator", 2, 1)

	_, err := coord.CreateInstance(config)
	require.NoError(t, err)
	require.NoError(t, coord.Abort(config.InstanceID))

	state, err := coord.State(config.InstanceID)
	require.NoError(t, err)
	require.Equal(t, StateAborted, state)

	_, err = coord.Combine(config.InstanceID, nil)
	require.ErrorIs(t, err, ErrInstanceAborted)
	_, err = coord.Tally(config.InstanceID)
	require.ErrorIs(t, err, ErrInstanceAborted)
	_, err = coord.TakeNodeSetups(config.InstanceID)
	require.Error(t, err)
}

func TestCoordinatorUnknownInstance(t *testing.T) {
	coord := NewCoordinator()

	_, err := coord.Request("missing")
	require.ErrorIs(t, err, ErrUnknownInstance)
	_, err = coord.Combine("missing", nil)
	require.ErrorIs(t, err, ErrUnknownInstance)
	require.ErrorIs(t, coord.Abort("missing"), ErrUnknownInstance)
}

func TestSealedNodeSetupRoundTrip(t *testing.T) {
	config := binaryConfig("sealed-setup", 2, 1)
	req, setups, err := NewInstance(config, rand.Reader)
	require.NoError(t, err)

	nodeKey, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	sealed, err := SealNodeSetup(req, setups[0], nodeKey.PublicKey())
	require.NoError(t, err)
	require.Equal(t, setups[0].NodeID, sealed.NodeID)

	opened, err := OpenNodeSetup(sealed, nodeKey)
	require.NoError(t, err)
	require.Equal(t, setups[0].NodeID, opened.NodeID)
	require.Zero(t, setups[0].Mask.Cmp(opened.Mask))

	// Only the addressed node can open its setup.
	otherKey, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, err = OpenNodeSetup(sealed, otherKey)
	require.Error(t, err)
}

func TestSignedMessageRoundTrip(t *testing.T) {
	_, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	config := binaryConfig("signed", 2, 1)
	req, _, err := NewInstance(config, rand.Reader)
	require.NoError(t, err)

	shares, err := EncodeVote(req, 1)
	require.NoError(t, err)

	signed, err := NewSigned(priv, shares[0])
	require.NoError(t, err)

	data, err := SerializeMessage(signed)
	require.NoError(t, err)

	decoded, err := UnmarshalMessage[Signed[VoteShare]](data)
	require.NoError(t, err)

	share, signer, err := decoded.Recover()
	require.NoError(t, err)
	require.Equal(t, shares[0].NodeID, share.NodeID)
	require.Zero(t, shares[0].Value.Cmp(share.Value))
	require.True(t, signed.PublicKey.Equal(signer))

	// Tampering breaks recovery.
	decoded.Object.Value.Add(decoded.Object.Value, decoded.Object.Value)
	_, _, err = decoded.Recover()
	require.Error(t, err)
}

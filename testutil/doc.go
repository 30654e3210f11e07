/*
Package testutil provides testing utilities for the tallying protocol
implementation.

This package contains test data generators designed to simplify writing tests
for the protocol and service layers. It supports unit testing and integration
testing of the entire stack by providing consistent, customizable fixtures.

# Configuration Generators

Functions for creating customizable InstanceConfig instances:

	// Create default test config
	config := testutil.NewTestConfig("instance-1")

	// Create custom config with specific options
	customConfig := testutil.NewTestConfig("instance-2",
	    testutil.WithNodes("a", "b", "c"),
	    testutil.WithRangeDomain(10),
	    testutil.WithWeight(5),
	)

# Cryptographic Generators

Utilities for generating keys and voter identities:

	pubKey, privKey, _ := testutil.GenerateTestKeyPair()
	voters, _ := testutil.GenerateTestVoters(10)

# Instance Helpers

Helpers for driving a complete instance in-process:

	request, setups, _ := testutil.NewTestInstance(config)
	shares, _ := testutil.EncodeTestVotes(request, []uint64{1, 0, 1})

This package is intended for testing purposes only and should not be used in
production code.
*/
package testutil

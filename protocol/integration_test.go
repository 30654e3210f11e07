package protocol_test

import (
	"testing"

	"github.com/choosek/tinyvote/protocol"
	"github.com/choosek/tinyvote/testutil"
	"github.com/stretchr/testify/require"
)

func TestInstanceTopologies(t *testing.T) {
	cases := []struct {
		name     string
		config   protocol.InstanceConfig
		votes    []uint64
		expected uint64
	}{
		{
			name:     "binary three nodes",
			config:   testutil.NewTestConfig("topo-1", testutil.WithExpectedVoters(4)),
			votes:    []uint64{1, 0, 1, 1},
			expected: 3,
		},
		{
			name: "binary wide topology",
			config: testutil.NewTestConfig("topo-2",
				testutil.WithNodeCount(7),
				testutil.WithExpectedVoters(5)),
			votes:    []uint64{1, 1, 0, 0, 1},
			expected: 3,
		},
		{
			name: "range domain",
			config: testutil.NewTestConfig("topo-3",
				testutil.WithRangeDomain(10),
				testutil.WithExpectedVoters(3)),
			votes:    []uint64{7, 0, 10},
			expected: 17,
		},
		{
			name: "weighted range",
			config: testutil.NewTestConfig("topo-4",
				testutil.WithRangeDomain(5),
				testutil.WithWeight(100),
				testutil.WithExpectedVoters(3)),
			votes:    []uint64{1, 2, 3},
			expected: 600,
		},
		{
			name: "minimal two node topology",
			config: testutil.NewTestConfig("topo-5",
				testutil.WithNodes("left", "right"),
				testutil.WithExpectedVoters(2)),
			votes:    []uint64{1, 1},
			expected: 2,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tally, err := testutil.RunTestInstance(tc.config, tc.votes)
			require.NoError(t, err)
			require.Equal(t, tc.expected, tally.Sum)
			require.Equal(t, len(tc.votes), tally.Voters)
		})
	}
}

func TestEncodeTestVotesReconstruct(t *testing.T) {
	cfg := testutil.NewTestConfig("encode-helpers", testutil.WithExpectedVoters(2))
	request, _, err := testutil.NewTestInstance(cfg)
	require.NoError(t, err)

	shares, err := testutil.EncodeTestVotes(request, []uint64{1, 0})
	require.NoError(t, err)
	require.Len(t, shares, 2)
	for _, voterShares := range shares {
		require.Len(t, voterShares, len(cfg.Nodes))
	}
}

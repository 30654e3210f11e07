package services

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/choosek/tinyvote/crypto"
	"github.com/choosek/tinyvote/protocol"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// memoryArchive records revealed tallies in memory for assertions.
type memoryArchive struct {
	mu      sync.Mutex
	tallies map[string]*protocol.Tally
}

func newMemoryArchive() *memoryArchive {
	return &memoryArchive{tallies: make(map[string]*protocol.Tally)}
}

func (a *memoryArchive) SaveTally(tally *protocol.Tally, question string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tallies[tally.InstanceID] = tally
	return nil
}

func (a *memoryArchive) GetTally(instanceID string) (*protocol.Tally, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tallies[instanceID], "", nil
}

func startTestRegistryServer(t *testing.T) *httptest.Server {
	t.Helper()

	registry, err := NewRegistry(&RegistryConfig{AdminToken: "admin:test"}, zerolog.Nop())
	require.NoError(t, err)

	r := chi.NewRouter()
	registry.RegisterPublicRoutes(r)
	registry.RegisterAdminRoutes(r)

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func startTestNode(t *testing.T, ctx context.Context, registryURL string, nodeID protocol.NodeID, coordinatorKey crypto.PublicKey) *HTTPNode {
	t.Helper()

	_, privKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	exchangeKey, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	r := chi.NewRouter()
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	config := &ServiceConfig{
		HTTPAddr:    ts.URL[7:], // strip "http://"
		RegistryURL: registryURL,
	}

	node, err := NewHTTPNode(config, nodeID, privKey, exchangeKey, coordinatorKey, zerolog.Nop())
	require.NoError(t, err)

	node.RegisterRoutes(r)
	require.NoError(t, node.Start(ctx))

	return node
}

func startTestCoordinator(t *testing.T, ctx context.Context, registryURL string, archive TallyArchive) (*HTTPCoordinator, *httptest.Server, crypto.PublicKey) {
	t.Helper()

	pubKey, privKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	exchangeKey, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	r := chi.NewRouter()
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	config := &ServiceConfig{
		HTTPAddr:    ts.URL[7:],
		RegistryURL: registryURL,
	}

	coordinator, err := NewHTTPCoordinator(config, privKey, exchangeKey, archive, zerolog.Nop())
	require.NoError(t, err)

	coordinator.RegisterRoutes(r)
	require.NoError(t, coordinator.Start(ctx))

	return coordinator, ts, pubKey
}

func createTestElection(t *testing.T, coordinatorURL string, createReq *CreateElectionRequest) *ElectionResponse {
	t.Helper()

	body, err := json.Marshal(createReq)
	require.NoError(t, err)

	resp, err := http.Post(coordinatorURL+"/elections", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var election ElectionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&election))
	require.NotNil(t, election.Request)
	return &election
}

func countRegisteredNodes(registryURL string) int {
	resp, err := http.Get(registryURL + "/services")
	if err != nil {
		return 0
	}
	defer resp.Body.Close()

	var list ServiceListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return 0
	}
	return len(list.Nodes)
}

// TestE2E_FullElection runs a complete election over the HTTP services:
// registry discovery, sealed setup distribution, voting through the voter
// client, and the reveal. Votes {1, 0, 1, 1} must tally to 3.
func TestE2E_FullElection(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registryServer := startTestRegistryServer(t)

	archive := newMemoryArchive()
	_, coordinatorServer, coordinatorKey := startTestCoordinator(t, ctx, registryServer.URL, archive)

	nodeIDs := []protocol.NodeID{"node-a", "node-b", "node-c"}
	for _, id := range nodeIDs {
		startTestNode(t, ctx, registryServer.URL, id, coordinatorKey)
	}

	require.Eventually(t, func() bool {
		return countRegisteredNodes(registryServer.URL) == len(nodeIDs)
	}, 5*time.Second, 50*time.Millisecond, "nodes should register with registry")

	votes := []uint64{1, 0, 1, 1}
	election := createTestElection(t, coordinatorServer.URL, &CreateElectionRequest{
		Question:       "Ship it?",
		Domain:         protocol.VoteDomain{Kind: protocol.BinaryDomain},
		ExpectedVoters: len(votes),
	})
	instanceID := election.Request.Config.InstanceID
	require.ElementsMatch(t, nodeIDs, election.Request.Config.Nodes)

	for _, vote := range votes {
		_, privKey, err := crypto.GenerateKeyPair()
		require.NoError(t, err)

		voter, err := NewVoterClient(coordinatorServer.URL, registryServer.URL, privKey)
		require.NoError(t, err)
		require.NoError(t, voter.CastVote(instanceID, vote))
	}

	resp, err := http.Post(coordinatorServer.URL+"/elections/"+instanceID+"/close", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tallyResp TallyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tallyResp))
	require.NotNil(t, tallyResp.Tally)
	require.Equal(t, uint64(3), tallyResp.Tally.Sum)
	require.Equal(t, len(votes), tallyResp.Tally.Voters)
	require.Equal(t, "Ship it?", tallyResp.Question)

	// The coordinator archived the revealed tally.
	archived, _, err := archive.GetTally(instanceID)
	require.NoError(t, err)
	require.NotNil(t, archived)
	require.Equal(t, uint64(3), archived.Sum)

	// The revealed tally stays available and stable.
	getResp, err := http.Get(coordinatorServer.URL + "/elections/" + instanceID + "/tally")
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var tallyAgain TallyResponse
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&tallyAgain))
	require.Equal(t, tallyResp.Tally.Sum, tallyAgain.Tally.Sum)
}

// TestE2E_VoteBeyondExpectedCountRejected verifies the fixed-size cutoff
// end-to-end: once the expected voter count is in, nodes finalize their
// partial results and further votes bounce, leaving the tally at exactly the
// expected count.
func TestE2E_VoteBeyondExpectedCountRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registryServer := startTestRegistryServer(t)
	_, coordinatorServer, coordinatorKey := startTestCoordinator(t, ctx, registryServer.URL, nil)

	nodeIDs := []protocol.NodeID{"node-a", "node-b"}
	var nodes []*HTTPNode
	for _, id := range nodeIDs {
		nodes = append(nodes, startTestNode(t, ctx, registryServer.URL, id, coordinatorKey))
	}

	require.Eventually(t, func() bool {
		return countRegisteredNodes(registryServer.URL) == len(nodeIDs)
	}, 5*time.Second, 50*time.Millisecond)

	election := createTestElection(t, coordinatorServer.URL, &CreateElectionRequest{
		Domain:         protocol.VoteDomain{Kind: protocol.BinaryDomain},
		ExpectedVoters: 2,
	})
	instanceID := election.Request.Config.InstanceID

	for i := 0; i < 2; i++ {
		_, privKey, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		voter, err := NewVoterClient(coordinatorServer.URL, registryServer.URL, privKey)
		require.NoError(t, err)
		require.NoError(t, voter.CastVote(instanceID, 1))
	}

	// The nodes finalized at the expected count.
	for _, node := range nodes {
		statusResp, err := http.Get("http://" + node.config.HTTPAddr + "/instances/" + instanceID)
		require.NoError(t, err)
		var status InstanceStatusResponse
		require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&status))
		statusResp.Body.Close()
		require.Equal(t, 2, status.Accepted)
		require.True(t, status.Closed)
	}

	// A third distinct voter is turned away.
	_, privKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	late, err := NewVoterClient(coordinatorServer.URL, registryServer.URL, privKey)
	require.NoError(t, err)
	require.Error(t, late.CastVote(instanceID, 1))

	resp, err := http.Post(coordinatorServer.URL+"/elections/"+instanceID+"/close", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tallyResp TallyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tallyResp))
	require.NotNil(t, tallyResp.Tally)
	require.Equal(t, uint64(2), tallyResp.Tally.Sum)
	require.Equal(t, 2, tallyResp.Tally.Voters)
}

// TestE2E_OutOfDomainVoteNeverLeavesClient verifies a malformed vote is
// rejected locally, before any share reaches a node.
func TestE2E_OutOfDomainVote(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registryServer := startTestRegistryServer(t)
	_, coordinatorServer, coordinatorKey := startTestCoordinator(t, ctx, registryServer.URL, nil)

	nodeIDs := []protocol.NodeID{"node-a", "node-b"}
	var nodes []*HTTPNode
	for _, id := range nodeIDs {
		nodes = append(nodes, startTestNode(t, ctx, registryServer.URL, id, coordinatorKey))
	}

	require.Eventually(t, func() bool {
		return countRegisteredNodes(registryServer.URL) == len(nodeIDs)
	}, 5*time.Second, 50*time.Millisecond)

	election := createTestElection(t, coordinatorServer.URL, &CreateElectionRequest{
		Domain:         protocol.VoteDomain{Kind: protocol.BinaryDomain},
		ExpectedVoters: 2,
	})
	instanceID := election.Request.Config.InstanceID

	_, privKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	voter, err := NewVoterClient(coordinatorServer.URL, registryServer.URL, privKey)
	require.NoError(t, err)

	err = voter.CastVote(instanceID, 2)
	require.ErrorIs(t, err, protocol.ErrVoteOutOfDomain)

	// No node saw a share.
	for _, node := range nodes {
		statusResp, err := http.Get("http://" + node.config.HTTPAddr + "/instances/" + instanceID)
		require.NoError(t, err)
		var status InstanceStatusResponse
		require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&status))
		statusResp.Body.Close()
		require.Equal(t, 0, status.Accepted)
	}
}

// TestE2E_UntrustedCoordinatorRejected verifies a node configured with a
// trusted coordinator key refuses setups signed by anyone else.
func TestE2E_UntrustedCoordinatorRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registryServer := startTestRegistryServer(t)

	// Nodes trust a key that is NOT the coordinator's.
	trustedKey, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	_, coordinatorServer, _ := startTestCoordinator(t, ctx, registryServer.URL, nil)

	nodeIDs := []protocol.NodeID{"node-a", "node-b"}
	for _, id := range nodeIDs {
		startTestNode(t, ctx, registryServer.URL, id, trustedKey)
	}

	require.Eventually(t, func() bool {
		return countRegisteredNodes(registryServer.URL) == len(nodeIDs)
	}, 5*time.Second, 50*time.Millisecond)

	body, err := json.Marshal(&CreateElectionRequest{
		Domain:         protocol.VoteDomain{Kind: protocol.BinaryDomain},
		ExpectedVoters: 2,
	})
	require.NoError(t, err)

	resp, err := http.Post(coordinatorServer.URL+"/elections", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	// Setup distribution fails, the coordinator aborts the instance.
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

// TestE2E_AbortElection verifies an aborted election never reveals anything.
func TestE2E_AbortElection(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registryServer := startTestRegistryServer(t)
	_, coordinatorServer, coordinatorKey := startTestCoordinator(t, ctx, registryServer.URL, nil)

	for _, id := range []protocol.NodeID{"node-a", "node-b"} {
		startTestNode(t, ctx, registryServer.URL, id, coordinatorKey)
	}

	require.Eventually(t, func() bool {
		return countRegisteredNodes(registryServer.URL) == 2
	}, 5*time.Second, 50*time.Millisecond)

	election := createTestElection(t, coordinatorServer.URL, &CreateElectionRequest{
		Domain:         protocol.VoteDomain{Kind: protocol.BinaryDomain},
		ExpectedVoters: 2,
	})
	instanceID := election.Request.Config.InstanceID

	_, privKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	voter, err := NewVoterClient(coordinatorServer.URL, registryServer.URL, privKey)
	require.NoError(t, err)
	require.NoError(t, voter.CastVote(instanceID, 1))

	resp, err := http.Post(coordinatorServer.URL+"/elections/"+instanceID+"/abort", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Closing an aborted election fails, and no tally exists.
	resp, err = http.Post(coordinatorServer.URL+"/elections/"+instanceID+"/close", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.NotEqual(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(coordinatorServer.URL + "/elections/" + instanceID + "/tally")
	require.NoError(t, err)
	resp.Body.Close()
	require.NotEqual(t, http.StatusOK, resp.StatusCode)
}

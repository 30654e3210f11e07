package services

import (
	"fmt"
	"net/http"
	"time"

	"github.com/choosek/tinyvote/crypto"
	"github.com/choosek/tinyvote/protocol"
)

// VoterClient casts votes against a coordinator and its node services.
// It fetches an election's public parameters, encodes the vote locally, signs
// each share, and submits exactly one share to every participating node. The
// raw vote value never leaves the client.
type VoterClient struct {
	coordinatorURL string
	registryURL    string
	signingKey     crypto.PrivateKey
	httpClient     *http.Client
}

// NewVoterClient creates a voter client identified by its signing key.
func NewVoterClient(coordinatorURL, registryURL string, signingKey crypto.PrivateKey) (*VoterClient, error) {
	if _, err := signingKey.PublicKey(); err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	return &VoterClient{
		coordinatorURL: coordinatorURL,
		registryURL:    registryURL,
		signingKey:     signingKey,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// FetchElection retrieves an election's public parameters.
func (v *VoterClient) FetchElection(instanceID string) (*ElectionResponse, error) {
	url := fmt.Sprintf("%s/elections/%s", v.coordinatorURL, instanceID)
	return getJSON[ElectionResponse](v.httpClient, url)
}

// CastVote encodes the value for the election and submits one signed share to
// every node. Encoding validates the value against the election's domain
// before any share exists; a rejection by any node is returned as an error.
func (v *VoterClient) CastVote(instanceID string, value uint64) error {
	election, err := v.FetchElection(instanceID)
	if err != nil {
		return fmt.Errorf("fetching election: %w", err)
	}
	if election.Request == nil {
		return fmt.Errorf("election %s has no public parameters", instanceID)
	}

	shares, err := protocol.EncodeVote(election.Request, value)
	if err != nil {
		return err
	}

	endpoints, err := v.nodeEndpoints(election.Request.Config.Nodes)
	if err != nil {
		return err
	}

	for _, share := range shares {
		endpoint, ok := endpoints[share.NodeID]
		if !ok {
			return fmt.Errorf("no endpoint for node %s", share.NodeID)
		}

		signed, err := protocol.NewSigned(v.signingKey, share)
		if err != nil {
			return fmt.Errorf("signing share for node %s: %w", share.NodeID, err)
		}

		url := fmt.Sprintf("%s/instances/%s/shares", endpoint, instanceID)
		resp, err := postJSON[SubmitShareResponse](v.httpClient, url, &SubmitShareRequest{Share: signed})
		if err != nil {
			return fmt.Errorf("submitting share to node %s: %w", share.NodeID, err)
		}
		if !resp.Accepted {
			return fmt.Errorf("node %s rejected share: %s", share.NodeID, resp.Message)
		}
	}

	return nil
}

// nodeEndpoints resolves topology node ids to HTTP endpoints via the registry.
func (v *VoterClient) nodeEndpoints(nodes []protocol.NodeID) (map[protocol.NodeID]string, error) {
	url := fmt.Sprintf("%s/services/%s", v.registryURL, NodeService)
	signed, err := getJSON[[]*protocol.Signed[RegisteredService]](v.httpClient, url)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}

	endpoints := make(map[protocol.NodeID]string)
	for _, s := range *signed {
		svc, signer, err := s.Recover()
		if err != nil {
			continue
		}
		pk, err := svc.ParsePublicKey()
		if err != nil || !signer.Equal(pk) {
			continue
		}
		endpoints[svc.NodeID] = svc.HTTPEndpoint
	}

	for _, id := range nodes {
		if _, ok := endpoints[id]; !ok {
			return nil, fmt.Errorf("node %s not found in registry", id)
		}
	}
	return endpoints, nil
}

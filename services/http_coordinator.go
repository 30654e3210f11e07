package services

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"fmt"
	"net/http"
	"sync"

	"github.com/choosek/tinyvote/crypto"
	"github.com/choosek/tinyvote/protocol"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HTTPCoordinator drives election lifecycles over HTTP: it creates protocol
// instances, distributes sealed mask material to the participating node
// services, serves public parameters to voters, and reveals tallies by
// collecting every node's signed partial result.
type HTTPCoordinator struct {
	*baseService
	coordinator *protocol.Coordinator

	// archive, when set, persists revealed tallies. The protocol core
	// itself keeps no durable state.
	archive TallyArchive

	mu        sync.RWMutex
	elections map[string]*electionContext
}

type electionContext struct {
	question string
	nodes    map[protocol.NodeID]*RegisteredService
}

// NewHTTPCoordinator creates a coordinator service.
func NewHTTPCoordinator(config *ServiceConfig, signingKey crypto.PrivateKey,
	exchangeKey *ecdh.PrivateKey, archive TallyArchive, log zerolog.Logger) (*HTTPCoordinator, error) {

	config.ServiceType = CoordinatorService
	base, err := newBaseService(config, signingKey, exchangeKey, log)
	if err != nil {
		return nil, err
	}

	return &HTTPCoordinator{
		baseService: base,
		coordinator: protocol.NewCoordinator(),
		archive:     archive,
		elections:   make(map[string]*electionContext),
	}, nil
}

// RegisterRoutes registers HTTP routes for the coordinator.
func (c *HTTPCoordinator) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Recoverer)

	r.Post("/elections", c.handleCreateElection)
	r.Get("/elections/{instance_id}", c.handleGetElection)
	r.Post("/elections/{instance_id}/close", c.handleCloseElection)
	r.Post("/elections/{instance_id}/abort", c.handleAbortElection)
	r.Get("/elections/{instance_id}/tally", c.handleGetTally)
}

// Start registers with the central registry.
func (c *HTTPCoordinator) Start(ctx context.Context) error {
	return c.registerWithRegistry("")
}

// electionNodes picks the participating node services for a new election.
func (c *HTTPCoordinator) electionNodes(restrict []protocol.NodeID) (map[protocol.NodeID]*RegisteredService, []protocol.NodeID, error) {
	registered, err := c.fetchNodes()
	if err != nil {
		return nil, nil, fmt.Errorf("listing nodes: %w", err)
	}

	byID := make(map[protocol.NodeID]*RegisteredService, len(registered))
	for _, svc := range registered {
		byID[svc.NodeID] = svc
	}

	var order []protocol.NodeID
	if len(restrict) > 0 {
		for _, id := range restrict {
			if _, ok := byID[id]; !ok {
				return nil, nil, fmt.Errorf("node %s is not registered", id)
			}
			order = append(order, id)
		}
	} else {
		for _, svc := range registered {
			order = append(order, svc.NodeID)
		}
	}

	nodes := make(map[protocol.NodeID]*RegisteredService, len(order))
	for _, id := range order {
		nodes[id] = byID[id]
	}
	return nodes, order, nil
}

func (c *HTTPCoordinator) handleCreateElection(w http.ResponseWriter, req *http.Request) {
	createReq, err := protocol.DecodeMessage[CreateElectionRequest](req.Body)
	if err != nil {
		http.Error(w, "malformed election request", http.StatusBadRequest)
		return
	}

	nodes, order, err := c.electionNodes(createReq.Nodes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	config := protocol.InstanceConfig{
		InstanceID:     uuid.NewString(),
		Domain:         createReq.Domain,
		Weight:         createReq.Weight,
		ExpectedVoters: createReq.ExpectedVoters,
		Nodes:          order,
	}

	request, err := c.coordinator.CreateInstance(config)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	setups, err := c.coordinator.TakeNodeSetups(config.InstanceID)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	if err := c.distributeSetups(request, setups, nodes); err != nil {
		// A node that never received its mask makes the instance
		// unrecoverable; burn it rather than limp along.
		c.coordinator.Abort(config.InstanceID)
		c.log.Error().Err(err).Str("instance", config.InstanceID).Msg("setup distribution failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	c.mu.Lock()
	c.elections[config.InstanceID] = &electionContext{question: createReq.Question, nodes: nodes}
	c.mu.Unlock()

	c.log.Info().
		Str("instance", config.InstanceID).
		Int("nodes", len(order)).
		Int("expected_voters", config.ExpectedVoters).
		Msg("election created")

	writeJSON(w, &ElectionResponse{Request: request, Question: createReq.Question, State: string(protocol.StateCollecting)})
}

func (c *HTTPCoordinator) distributeSetups(request *protocol.Request, setups []*protocol.NodeSetup, nodes map[protocol.NodeID]*RegisteredService) error {
	for _, setup := range setups {
		svc := nodes[setup.NodeID]
		exchangeKey, err := ParseExchangeKey(svc.ExchangeKey)
		if err != nil {
			return fmt.Errorf("node %s: %w", setup.NodeID, err)
		}

		sealed, err := protocol.SealNodeSetup(request, setup, exchangeKey)
		if err != nil {
			return err
		}
		setup.Erase()

		signed, err := protocol.NewSigned(c.signingKey, sealed)
		if err != nil {
			return fmt.Errorf("signing setup for node %s: %w", setup.NodeID, err)
		}

		url := fmt.Sprintf("%s/instances", svc.HTTPEndpoint)
		raw, err := protocol.SerializeMessage(&SetupInstanceRequest{Setup: signed})
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Post(url, "application/json", bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("delivering setup to node %s: %w", setup.NodeID, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("node %s refused setup with status %d", setup.NodeID, resp.StatusCode)
		}
	}
	return nil
}

func (c *HTTPCoordinator) election(instanceID string) (*electionContext, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ctx, ok := c.elections[instanceID]
	return ctx, ok
}

func (c *HTTPCoordinator) handleGetElection(w http.ResponseWriter, req *http.Request) {
	instanceID := chi.URLParam(req, "instance_id")

	request, err := c.coordinator.Request(instanceID)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	state, err := c.coordinator.State(instanceID)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	var question string
	if ctx, ok := c.election(instanceID); ok {
		question = ctx.question
	}

	writeJSON(w, &ElectionResponse{Request: request, Question: question, State: string(state)})
}

func (c *HTTPCoordinator) handleCloseElection(w http.ResponseWriter, req *http.Request) {
	instanceID := chi.URLParam(req, "instance_id")

	ctx, ok := c.election(instanceID)
	if !ok {
		http.Error(w, protocol.ErrUnknownInstance.Error(), http.StatusNotFound)
		return
	}
	request, err := c.coordinator.Request(instanceID)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	partials, err := c.collectPartials(instanceID, request, ctx)
	if err != nil {
		c.log.Error().Err(err).Str("instance", instanceID).Msg("collecting partial results")
		http.Error(w, err.Error(), statusForError(protocol.ErrIncompleteInstance))
		return
	}

	tally, err := c.coordinator.Combine(instanceID, partials)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	if c.archive != nil {
		if err := c.archive.SaveTally(tally, ctx.question); err != nil {
			c.log.Error().Err(err).Str("instance", instanceID).Msg("archiving tally")
		}
	}

	c.log.Info().
		Str("instance", instanceID).
		Uint64("sum", tally.Sum).
		Int("voters", tally.Voters).
		Msg("tally revealed")

	writeJSON(w, &TallyResponse{Tally: tally, Question: ctx.question})
}

// collectPartials asks every node to finalize and verifies each partial is
// signed by the node that registered for that topology slot.
func (c *HTTPCoordinator) collectPartials(instanceID string, request *protocol.Request, ctx *electionContext) ([]*protocol.PartialResult, error) {
	closeReq, err := protocol.NewSigned(c.signingKey, &CloseInstanceRequest{InstanceID: instanceID})
	if err != nil {
		return nil, err
	}

	partials := make([]*protocol.PartialResult, 0, len(request.Config.Nodes))
	for _, nodeID := range request.Config.Nodes {
		svc, ok := ctx.nodes[nodeID]
		if !ok {
			return nil, fmt.Errorf("%w: no endpoint for node %s", protocol.ErrIncompleteInstance, nodeID)
		}

		url := fmt.Sprintf("%s/instances/%s/close", svc.HTTPEndpoint, instanceID)
		resp, err := postJSON[PartialResultResponse](c.httpClient, url, closeReq)
		if err != nil {
			return nil, fmt.Errorf("%w: node %s: %s", protocol.ErrIncompleteInstance, nodeID, err)
		}

		partial, signer, err := resp.Partial.Recover()
		if err != nil {
			return nil, fmt.Errorf("node %s: invalid partial signature", nodeID)
		}
		nodeKey, err := svc.ParsePublicKey()
		if err != nil || !signer.Equal(nodeKey) {
			return nil, fmt.Errorf("node %s: partial not signed by registered key", nodeID)
		}

		partials = append(partials, partial)
	}
	return partials, nil
}

// notifyAbort tells every node of an aborted election to discard its
// evaluator. Unreachable nodes are logged and skipped; the election is
// already aborted coordinator-side either way.
func (c *HTTPCoordinator) notifyAbort(ctx *electionContext, instanceID string) {
	abortReq, err := protocol.NewSigned(c.signingKey, &CloseInstanceRequest{InstanceID: instanceID})
	if err != nil {
		c.log.Error().Err(err).Str("instance", instanceID).Msg("signing abort notification failed")
		return
	}
	raw, err := protocol.SerializeMessage(abortReq)
	if err != nil {
		c.log.Error().Err(err).Str("instance", instanceID).Msg("serializing abort notification failed")
		return
	}

	for nodeID, svc := range ctx.nodes {
		url := fmt.Sprintf("%s/instances/%s/abort", svc.HTTPEndpoint, instanceID)
		resp, err := c.httpClient.Post(url, "application/json", bytes.NewReader(raw))
		if err != nil {
			c.log.Warn().Err(err).Str("node", string(nodeID)).Msg("abort notification failed")
			continue
		}
		resp.Body.Close()
	}
}

func (c *HTTPCoordinator) handleAbortElection(w http.ResponseWriter, req *http.Request) {
	instanceID := chi.URLParam(req, "instance_id")

	if err := c.coordinator.Abort(instanceID); err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	if ctx, ok := c.election(instanceID); ok {
		c.notifyAbort(ctx, instanceID)
	}

	c.log.Info().Str("instance", instanceID).Msg("election aborted")
	w.WriteHeader(http.StatusOK)
}

func (c *HTTPCoordinator) handleGetTally(w http.ResponseWriter, req *http.Request) {
	instanceID := chi.URLParam(req, "instance_id")

	tally, err := c.coordinator.Tally(instanceID)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	var question string
	if ctx, ok := c.election(instanceID); ok {
		question = ctx.question
	}

	writeJSON(w, &TallyResponse{Tally: tally, Question: question})
}

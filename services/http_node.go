package services

import (
	"context"
	"crypto/ecdh"
	"fmt"
	"net/http"
	"sync"

	"github.com/choosek/tinyvote/crypto"
	"github.com/choosek/tinyvote/protocol"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// HTTPNode exposes one computing node over HTTP. It holds a
// protocol.NodeEvaluator per instance it participates in, accepts sealed
// setups from the coordinator and signed shares from voters, and hands back
// its signed partial result on close.
type HTTPNode struct {
	*baseService
	nodeID protocol.NodeID

	// coordinatorKey, when set, restricts setup/close/abort to messages
	// signed by this coordinator.
	coordinatorKey crypto.PublicKey

	mu        sync.RWMutex
	instances map[string]*nodeInstance
}

type nodeInstance struct {
	request *protocol.Request
	eval    *protocol.NodeEvaluator
}

// NewHTTPNode creates a node service that registers with a central registry.
func NewHTTPNode(config *ServiceConfig, nodeID protocol.NodeID, signingKey crypto.PrivateKey,
	exchangeKey *ecdh.PrivateKey, coordinatorKey crypto.PublicKey, log zerolog.Logger) (*HTTPNode, error) {

	config.ServiceType = NodeService
	base, err := newBaseService(config, signingKey, exchangeKey, log)
	if err != nil {
		return nil, err
	}
	if nodeID == "" {
		return nil, fmt.Errorf("node id cannot be empty")
	}

	return &HTTPNode{
		baseService:    base,
		nodeID:         nodeID,
		coordinatorKey: coordinatorKey,
		instances:      make(map[string]*nodeInstance),
	}, nil
}

// NodeID returns the node's topology identifier.
func (n *HTTPNode) NodeID() protocol.NodeID {
	return n.nodeID
}

// RegisterRoutes registers HTTP routes for the node.
func (n *HTTPNode) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Recoverer)

	r.Post("/instances", n.handleSetup)
	r.Post("/instances/{instance_id}/shares", n.handleSubmitShare)
	r.Post("/instances/{instance_id}/close", n.handleClose)
	r.Post("/instances/{instance_id}/abort", n.handleAbort)
	r.Get("/instances/{instance_id}", n.handleStatus)
}

// Start registers with the central registry.
func (n *HTTPNode) Start(ctx context.Context) error {
	return n.registerWithRegistry(n.nodeID)
}

func (n *HTTPNode) verifyCoordinator(signer crypto.PublicKey) error {
	if n.coordinatorKey == nil {
		return nil
	}
	if !n.coordinatorKey.Equal(signer) {
		return fmt.Errorf("message not signed by the trusted coordinator")
	}
	return nil
}

func (n *HTTPNode) handleSetup(w http.ResponseWriter, req *http.Request) {
	setupReq, err := protocol.DecodeMessage[SetupInstanceRequest](req.Body)
	if err != nil || setupReq.Setup == nil {
		http.Error(w, "malformed setup request", http.StatusBadRequest)
		return
	}

	sealed, signer, err := setupReq.Setup.Recover()
	if err != nil {
		http.Error(w, "invalid setup signature", http.StatusForbidden)
		return
	}
	if err := n.verifyCoordinator(signer); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	if sealed.NodeID != n.nodeID {
		http.Error(w, protocol.ErrWrongNode.Error(), http.StatusBadRequest)
		return
	}

	setup, err := protocol.OpenNodeSetup(sealed, n.exchangeKey)
	if err != nil {
		n.log.Warn().Err(err).Str("instance", sealed.InstanceID).Msg("rejecting sealed setup")
		http.Error(w, "could not open sealed setup", http.StatusBadRequest)
		return
	}

	eval, err := protocol.NewNodeEvaluator(sealed.Request, setup)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	n.mu.Lock()
	if _, exists := n.instances[setup.InstanceID]; exists {
		n.mu.Unlock()
		// Accepting a second setup would overwrite mask state mid-instance.
		http.Error(w, protocol.ErrDuplicateInstance.Error(), http.StatusConflict)
		return
	}
	n.instances[setup.InstanceID] = &nodeInstance{request: sealed.Request, eval: eval}
	n.mu.Unlock()

	setup.Erase()

	n.log.Info().
		Str("instance", setup.InstanceID).
		Int("expected_voters", sealed.Request.Config.ExpectedVoters).
		Msg("instance set up")

	w.WriteHeader(http.StatusOK)
}

func (n *HTTPNode) instance(instanceID string) (*nodeInstance, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	inst, ok := n.instances[instanceID]
	return inst, ok
}

func (n *HTTPNode) handleSubmitShare(w http.ResponseWriter, req *http.Request) {
	instanceID := chi.URLParam(req, "instance_id")
	inst, ok := n.instance(instanceID)
	if !ok {
		http.Error(w, protocol.ErrUnknownInstance.Error(), http.StatusNotFound)
		return
	}

	shareReq, err := protocol.DecodeMessage[SubmitShareRequest](req.Body)
	if err != nil || shareReq.Share == nil {
		http.Error(w, "malformed share request", http.StatusBadRequest)
		return
	}

	share, voter, err := shareReq.Share.Recover()
	if err != nil {
		http.Error(w, "invalid share signature", http.StatusForbidden)
		return
	}

	complete, err := inst.eval.Accept(voter, share)
	if err != nil {
		// Integrity rejections are reported, not silently dropped; the
		// instance keeps collecting from other voters.
		n.log.Warn().Err(err).
			Str("instance", instanceID).
			Str("voter", voter.String()).
			Msg("share rejected")
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	if complete {
		if _, err := inst.eval.Close(); err == nil {
			n.log.Info().
				Str("instance", instanceID).
				Int("voters", inst.eval.Accepted()).
				Msg("expected voter count reached, partial result finalized")
		}
	}

	writeJSON(w, &SubmitShareResponse{Accepted: true, Complete: complete})
}

func (n *HTTPNode) handleClose(w http.ResponseWriter, req *http.Request) {
	instanceID := chi.URLParam(req, "instance_id")
	inst, ok := n.instance(instanceID)
	if !ok {
		http.Error(w, protocol.ErrUnknownInstance.Error(), http.StatusNotFound)
		return
	}

	signedReq, err := protocol.DecodeMessage[protocol.Signed[CloseInstanceRequest]](req.Body)
	if err != nil {
		http.Error(w, "malformed close request", http.StatusBadRequest)
		return
	}
	closeReq, signer, err := signedReq.Recover()
	if err != nil {
		http.Error(w, "invalid close signature", http.StatusForbidden)
		return
	}
	if err := n.verifyCoordinator(signer); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	if closeReq.InstanceID != instanceID {
		http.Error(w, protocol.ErrWrongInstance.Error(), http.StatusBadRequest)
		return
	}

	partial, err := inst.eval.Close()
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	signedPartial, err := protocol.NewSigned(n.signingKey, partial)
	if err != nil {
		http.Error(w, "could not sign partial result", http.StatusInternalServerError)
		return
	}

	n.log.Info().
		Str("instance", instanceID).
		Int("voters", partial.Voters).
		Msg("instance closed")

	writeJSON(w, &PartialResultResponse{Partial: signedPartial})
}

func (n *HTTPNode) handleAbort(w http.ResponseWriter, req *http.Request) {
	instanceID := chi.URLParam(req, "instance_id")
	inst, ok := n.instance(instanceID)
	if !ok {
		http.Error(w, protocol.ErrUnknownInstance.Error(), http.StatusNotFound)
		return
	}

	signedReq, err := protocol.DecodeMessage[protocol.Signed[CloseInstanceRequest]](req.Body)
	if err != nil {
		http.Error(w, "malformed abort request", http.StatusBadRequest)
		return
	}
	_, signer, err := signedReq.Recover()
	if err != nil {
		http.Error(w, "invalid abort signature", http.StatusForbidden)
		return
	}
	if err := n.verifyCoordinator(signer); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	inst.eval.Abort()
	n.log.Info().Str("instance", instanceID).Msg("instance aborted")
	w.WriteHeader(http.StatusOK)
}

func (n *HTTPNode) handleStatus(w http.ResponseWriter, req *http.Request) {
	instanceID := chi.URLParam(req, "instance_id")
	inst, ok := n.instance(instanceID)
	if !ok {
		http.Error(w, protocol.ErrUnknownInstance.Error(), http.StatusNotFound)
		return
	}

	writeJSON(w, &InstanceStatusResponse{
		InstanceID: instanceID,
		Accepted:   inst.eval.Accepted(),
		Expected:   inst.request.Config.ExpectedVoters,
		Closed:     inst.eval.Closed(),
	})
}

package services

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/choosek/tinyvote/crypto"
	"github.com/choosek/tinyvote/protocol"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func setupTestRegistry(t *testing.T, adminToken string) (*Registry, chi.Router) {
	t.Helper()

	registry, err := NewRegistry(&RegistryConfig{AdminToken: adminToken}, zerolog.Nop())
	require.NoError(t, err)

	r := chi.NewRouter()
	registry.RegisterPublicRoutes(r)
	registry.RegisterAdminRoutes(r)

	return registry, r
}

func createSignedRegistration(t *testing.T, serviceType ServiceType, nodeID protocol.NodeID, endpoint string) (*protocol.Signed[RegisteredService], crypto.PrivateKey) {
	t.Helper()

	pubKey, privKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	exchangeKey, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	regService := &RegisteredService{
		ServiceType:  serviceType,
		HTTPEndpoint: endpoint,
		PublicKey:    pubKey.String(),
		ExchangeKey:  hex.EncodeToString(exchangeKey.PublicKey().Bytes()),
		NodeID:       nodeID,
	}

	signed, err := protocol.NewSigned(privKey, regService)
	require.NoError(t, err)

	return signed, privKey
}

func postRegistration(t *testing.T, router chi.Router, path string, signed *protocol.Signed[RegisteredService]) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(signed)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", path, strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRegistry_NodeRegistration(t *testing.T) {
	_, router := setupTestRegistry(t, "admin:secret")

	signed, _ := createSignedRegistration(t, NodeService, "node-a", "http://localhost:9000")
	w := postRegistration(t, router, "/register/node", signed)

	require.Equal(t, http.StatusOK, w.Code)

	var resp ServiceRegistrationResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.True(t, resp.Success)
	require.Equal(t, signed.Object.PublicKey, resp.PublicKey)
}

func TestRegistry_CoordinatorRegistration(t *testing.T) {
	_, router := setupTestRegistry(t, "admin:secret")

	signed, _ := createSignedRegistration(t, CoordinatorService, "", "http://localhost:9001")
	w := postRegistration(t, router, "/register/coordinator", signed)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestRegistry_NodeNeedsNodeID(t *testing.T) {
	_, router := setupTestRegistry(t, "admin:secret")

	signed, _ := createSignedRegistration(t, NodeService, "", "http://localhost:9000")
	w := postRegistration(t, router, "/register/node", signed)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegistry_InvalidSignature(t *testing.T) {
	_, router := setupTestRegistry(t, "admin:secret")

	signed, _ := createSignedRegistration(t, NodeService, "node-a", "http://localhost:9000")
	signed.Signature[0] ^= 0xFF

	w := postRegistration(t, router, "/register/node", signed)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRegistry_SignerMustMatchClaimedKey(t *testing.T) {
	_, router := setupTestRegistry(t, "admin:secret")

	// Sign a registration that claims someone else's public key.
	otherPub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_, privKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	exchangeKey, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	regService := &RegisteredService{
		ServiceType:  NodeService,
		HTTPEndpoint: "http://localhost:9000",
		PublicKey:    otherPub.String(),
		ExchangeKey:  hex.EncodeToString(exchangeKey.PublicKey().Bytes()),
		NodeID:       "node-a",
	}
	signed, err := protocol.NewSigned(privKey, regService)
	require.NoError(t, err)

	w := postRegistration(t, router, "/register/node", signed)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRegistry_ServiceTypeMismatch(t *testing.T) {
	_, router := setupTestRegistry(t, "admin:secret")

	signed, _ := createSignedRegistration(t, CoordinatorService, "", "http://localhost:9000")
	w := postRegistration(t, router, "/register/node", signed)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegistry_GetServices(t *testing.T) {
	_, router := setupTestRegistry(t, "admin:secret")

	signed, _ := createSignedRegistration(t, NodeService, "node-a", "http://localhost:9000")
	w := postRegistration(t, router, "/register/node", signed)
	require.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest("GET", "/services", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp ServiceListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Nodes, 1)
	require.Len(t, resp.Coordinators, 0)
	require.Equal(t, protocol.NodeID("node-a"), resp.Nodes[0].Object.NodeID)
}

func TestRegistry_GetServicesByType(t *testing.T) {
	_, router := setupTestRegistry(t, "admin:secret")

	nodeReg, _ := createSignedRegistration(t, NodeService, "node-a", "http://localhost:9000")
	require.Equal(t, http.StatusOK, postRegistration(t, router, "/register/node", nodeReg).Code)
	coordReg, _ := createSignedRegistration(t, CoordinatorService, "", "http://localhost:9001")
	require.Equal(t, http.StatusOK, postRegistration(t, router, "/register/coordinator", coordReg).Code)

	req := httptest.NewRequest("GET", "/services/node", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var nodes []*protocol.Signed[RegisteredService]
	require.NoError(t, json.NewDecoder(w.Body).Decode(&nodes))
	require.Len(t, nodes, 1)

	// Returned registrations stay verifiable end to end.
	svc, signer, err := nodes[0].Recover()
	require.NoError(t, err)
	require.Equal(t, signer.String(), svc.PublicKey)
}

func TestRegistry_UnregisterRequiresAuth(t *testing.T) {
	_, router := setupTestRegistry(t, "admin:secret")

	signed, _ := createSignedRegistration(t, NodeService, "node-a", "http://localhost:9000")
	require.Equal(t, http.StatusOK, postRegistration(t, router, "/register/node", signed).Code)

	req := httptest.NewRequest("DELETE", "/unregister/"+signed.Object.PublicKey, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest("DELETE", "/unregister/"+signed.Object.PublicKey, nil)
	req.SetBasicAuth("admin", "wrongpassword")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegistry_Unregister(t *testing.T) {
	_, router := setupTestRegistry(t, "admin:secret")

	signed, _ := createSignedRegistration(t, NodeService, "node-a", "http://localhost:9000")
	require.Equal(t, http.StatusOK, postRegistration(t, router, "/register/node", signed).Code)

	req := httptest.NewRequest("DELETE", "/unregister/"+signed.Object.PublicKey, nil)
	req.SetBasicAuth("admin", "secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", "/services", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp ServiceListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Nodes, 0)
}

func TestRegistry_AdminSurfaceDisabledWithoutToken(t *testing.T) {
	_, router := setupTestRegistry(t, "")

	req := httptest.NewRequest("DELETE", "/unregister/deadbeef", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}

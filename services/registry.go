package services

import (
	"net/http"
	"sync"

	"github.com/choosek/tinyvote/protocol"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// RegistryStore persists signed service registrations.
type RegistryStore interface {
	SaveService(signed *protocol.Signed[RegisteredService]) error
	ListServices(serviceType ServiceType) ([]*protocol.Signed[RegisteredService], error)
	DeleteService(publicKey string) error
}

// RegistryConfig configures the registry service.
type RegistryConfig struct {
	// AdminToken protects unregistration and other admin endpoints
	// (user:pass for HTTP basic auth). Empty disables the admin surface.
	AdminToken string

	// Store persists registrations; nil means in-memory only.
	Store RegistryStore
}

// Registry manages service discovery for tallying deployments: node services
// and coordinators register their endpoints and keys, voters and coordinators
// look them up.
type Registry struct {
	config *RegistryConfig
	store  RegistryStore
	log    zerolog.Logger
}

// NewRegistry creates a registry with the given configuration.
func NewRegistry(config *RegistryConfig, log zerolog.Logger) (*Registry, error) {
	if config == nil {
		config = &RegistryConfig{}
	}
	store := config.Store
	if store == nil {
		store = NewMemoryStore()
	}
	return &Registry{
		config: config,
		store:  store,
		log:    log.With().Str("service", "registry").Logger(),
	}, nil
}

// RegisterAdminRoutes registers routes requiring admin authentication.
func (r *Registry) RegisterAdminRoutes(router chi.Router) {
	router.Delete("/unregister/{public_key}", r.requireAdmin(r.handleUnregister))
}

// RegisterPublicRoutes registers the publicly reachable routes.
func (r *Registry) RegisterPublicRoutes(router chi.Router) {
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))
	router.Post("/register/{service_type}", r.handleRegister)
	router.Get("/services", r.handleGetServices)
	router.Get("/services/{type}", r.handleGetServicesByType)
}

func (r *Registry) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.config.AdminToken == "" {
			http.Error(w, "admin surface disabled", http.StatusForbidden)
			return
		}
		user, pass, ok := req.BasicAuth()
		if !ok || user+":"+pass != r.config.AdminToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, req)
	}
}

func (r *Registry) handleRegister(w http.ResponseWriter, req *http.Request) {
	serviceType := ServiceType(chi.URLParam(req, "service_type"))
	if !serviceType.Valid() {
		http.Error(w, "invalid service type", http.StatusBadRequest)
		return
	}

	signedReq, err := protocol.DecodeMessage[protocol.Signed[RegisteredService]](req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	regReq, signer, err := signedReq.Recover()
	if err != nil {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	if regReq.ServiceType != serviceType {
		http.Error(w, "service type mismatch between URL and body", http.StatusBadRequest)
		return
	}

	pubKey, err := regReq.ParsePublicKey()
	if err != nil {
		http.Error(w, "invalid public key", http.StatusBadRequest)
		return
	}
	if !signer.Equal(pubKey) {
		http.Error(w, "signer does not match claimed public key", http.StatusForbidden)
		return
	}
	if _, err := ParseExchangeKey(regReq.ExchangeKey); err != nil {
		http.Error(w, "invalid exchange key", http.StatusBadRequest)
		return
	}
	if serviceType == NodeService && regReq.NodeID == "" {
		http.Error(w, "node registration needs a node id", http.StatusBadRequest)
		return
	}

	if err := r.store.SaveService(signedReq); err != nil {
		r.log.Error().Err(err).Str("public_key", regReq.PublicKey).Msg("saving registration")
		http.Error(w, "could not persist registration", http.StatusInternalServerError)
		return
	}

	r.log.Info().
		Str("type", string(serviceType)).
		Str("node_id", string(regReq.NodeID)).
		Str("endpoint", regReq.HTTPEndpoint).
		Msg("service registered")

	writeJSON(w, &ServiceRegistrationResponse{Success: true, PublicKey: regReq.PublicKey})
}

func (r *Registry) handleUnregister(w http.ResponseWriter, req *http.Request) {
	publicKey := chi.URLParam(req, "public_key")
	if err := r.store.DeleteService(publicKey); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (r *Registry) handleGetServices(w http.ResponseWriter, req *http.Request) {
	nodes, err := r.store.ListServices(NodeService)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	coordinators, err := r.store.ListServices(CoordinatorService)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, &ServiceListResponse{Nodes: nodes, Coordinators: coordinators})
}

func (r *Registry) handleGetServicesByType(w http.ResponseWriter, req *http.Request) {
	svcType := ServiceType(chi.URLParam(req, "type"))
	if !svcType.Valid() {
		http.Error(w, "invalid service type", http.StatusBadRequest)
		return
	}

	services, err := r.store.ListServices(svcType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, services)
}

// MemoryStore is the in-memory RegistryStore used by default and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	services map[string]*protocol.Signed[RegisteredService]
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{services: make(map[string]*protocol.Signed[RegisteredService])}
}

// SaveService stores or replaces a registration keyed by public key.
func (s *MemoryStore) SaveService(signed *protocol.Signed[RegisteredService]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[signed.UnsafeObject().PublicKey] = signed
	return nil
}

// ListServices returns registrations of one type.
func (s *MemoryStore) ListServices(serviceType ServiceType) ([]*protocol.Signed[RegisteredService], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*protocol.Signed[RegisteredService], 0)
	for _, svc := range s.services {
		if svc.UnsafeObject().ServiceType == serviceType {
			result = append(result, svc)
		}
	}
	return result, nil
}

// DeleteService removes a registration.
func (s *MemoryStore) DeleteService(publicKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.services, publicKey)
	return nil
}

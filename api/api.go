// Package api exposes the pool operation surface over HTTP. It is a thin
// JSON layer: every mutation is delegated to the pool orchestrator, which
// enforces all invariants; the API only decodes requests and maps pool
// errors to HTTP error codes.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/zkpool/zkpool/log"
	"github.com/zkpool/zkpool/pool"
)

// APIConfig type represents the configuration for the API HTTP server.
type APIConfig struct {
	Host string
	Port int
	Pool *pool.Pool
}

// API type represents the API HTTP server.
type API struct {
	router *chi.Mux
	pool   *pool.Pool
}

// New creates a new API instance with the given configuration and starts
// the HTTP server.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Pool == nil {
		return nil, fmt.Errorf("missing pool instance")
	}
	a := &API{
		pool: conf.Pool,
	}
	a.initRouter()
	go func() {
		log.Infow("starting API server", "host", conf.Host, "port", conf.Port)
		if err := http.ListenAndServe(fmt.Sprintf("%s:%d", conf.Host, conf.Port), a.router); err != nil {
			log.Fatalf("failed to start the API server: %v", err)
		}
	}()
	return a, nil
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// registerHandlers registers all the API handlers.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})
	log.Infow("register handler", "endpoint", InfoEndpoint, "method", "GET")
	a.router.Get(InfoEndpoint, a.info)
	log.Infow("register handler", "endpoint", DepositsEndpoint, "method", "POST")
	a.router.Post(DepositsEndpoint, a.newDeposit)
	log.Infow("register handler", "endpoint", WithdrawalsEndpoint, "method", "POST")
	a.router.Post(WithdrawalsEndpoint, a.newWithdrawal)
	log.Infow("register handler", "endpoint", RootsEndpoint, "method", "GET")
	a.router.Get(RootsEndpoint, a.roots)
	log.Infow("register handler", "endpoint", CommitmentEndpoint, "method", "GET")
	a.router.Get(CommitmentEndpoint, a.commitment)
	log.Infow("register handler", "endpoint", MerkleProofEndpoint, "method", "GET")
	a.router.Get(MerkleProofEndpoint, a.merkleProof)
	log.Infow("register handler", "endpoint", ComplianceEndpoint, "method", "POST")
	a.router.Post(ComplianceEndpoint, a.newComplianceProof)
	log.Infow("register handler", "endpoint", ComplianceRecordEndpoint, "method", "GET")
	a.router.Get(ComplianceRecordEndpoint, a.complianceRecord)
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	// Create the router with a basic middleware stack
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}).Handler)
	a.router.Use(middleware.Logger)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	a.router.Use(middleware.Timeout(45 * time.Second))

	// Register the API handlers
	a.registerHandlers()
}

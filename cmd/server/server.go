// Package server exposes the status engine over HTTP.
package server

import (
	"net/http"

	"k8s.io/klog/v2"

	"github.com/kube9/statuscore/internal/db"
	"github.com/kube9/statuscore/internal/engine"
)

// ContextLister enumerates the cluster contexts available to requests.
// internal/kubeconfig provides the real one.
type ContextLister interface {
	Contexts() ([]string, error)
}

type APIServer struct {
	engine   *engine.Engine
	store    db.Store
	contexts ContextLister
	mux      *http.ServeMux
}

func NewAPIServer(eng *engine.Engine, store db.Store, contexts ContextLister) *APIServer {
	api := &APIServer{
		engine:   eng,
		store:    store,
		contexts: contexts,
		mux:      http.NewServeMux(),
	}
	api.registerRoutes()
	return api
}

func (api *APIServer) registerRoutes() {
	// Status reads
	api.mux.HandleFunc("/api/v1/status", api.handleStatus)
	api.mux.HandleFunc("/api/v1/contexts", api.handleContexts)

	// Mutations and operation lifecycle
	api.mux.HandleFunc("/api/v1/mutate", api.handleMutate)
	api.mux.HandleFunc("/api/v1/operations", api.handleOperations)
	api.mux.HandleFunc("/api/v1/operations/", api.handleOperationByID)

	// Event journal
	api.mux.HandleFunc("/api/v1/events", api.handleEvents)

	// Health check
	api.mux.HandleFunc("/health", api.handleHealth)
	api.mux.HandleFunc("/ready", api.handleReady)

	// Metrics/stats
	api.mux.HandleFunc("/api/v1/stats", api.handleStats)
}

// Handler returns the full middleware-wrapped handler, used directly by tests.
func (api *APIServer) Handler() http.Handler {
	return api.corsMiddleware(api.loggingMiddleware(api.mux))
}

func (api *APIServer) Start(addr string) error {
	klog.InfoS("starting API server", "addr", addr)
	return http.ListenAndServe(addr, api.Handler())
}

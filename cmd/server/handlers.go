package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/kube9/statuscore/internal/db"
	"github.com/kube9/statuscore/internal/types"
)

var validKinds = map[types.ResourceKind]bool{
	types.KindApplication:  true,
	types.KindDeployment:   true,
	types.KindStatefulSet:  true,
	types.KindReplicaSet:   true,
	types.KindPod:          true,
	types.KindArgoCDDetect: true,
}

var validOps = map[types.OperationType]bool{
	types.OpSync:        true,
	types.OpRefresh:     true,
	types.OpHardRefresh: true,
	types.OpScale:       true,
	types.OpRestart:     true,
	types.OpDelete:      true,
}

// GET /api/v1/status?context=prod&kind=Application&namespace=argocd&name=guestbook&force=true
func (api *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	kind := types.ResourceKind(q.Get("kind"))
	if !validKinds[kind] {
		http.Error(w, "unknown kind "+q.Get("kind"), http.StatusBadRequest)
		return
	}

	key := types.ResourceKey{
		Context:   q.Get("context"),
		Kind:      kind,
		Namespace: q.Get("namespace"),
		Name:      q.Get("name"),
	}

	var (
		status types.NormalizedStatus
		stale  bool
		err    error
	)
	if q.Get("force") == "true" {
		status, stale, err = api.engine.ForceRefresh(r.Context(), key)
	} else {
		status, stale, err = api.engine.Get(r.Context(), key)
	}
	if err != nil {
		api.respondError(w, err)
		return
	}

	api.respondJSON(w, map[string]interface{}{
		"key":    key,
		"status": status,
		"stale":  stale,
	})
}

// GET /api/v1/contexts
func (api *APIServer) handleContexts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names, err := api.contexts.Contexts()
	if err != nil {
		api.respondError(w, err)
		return
	}
	api.respondJSON(w, map[string]interface{}{"contexts": names})
}

// POST /api/v1/mutate
// Body: {"context": "prod", "kind": "Deployment", "namespace": "default",
//        "name": "api", "operation": "Scale", "replicas": 3}
func (api *APIServer) handleMutate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Context   string `json:"context"`
		Kind      string `json:"kind"`
		Namespace string `json:"namespace"`
		Name      string `json:"name"`
		Operation string `json:"operation"`
		Replicas  int32  `json:"replicas"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	kind := types.ResourceKind(req.Kind)
	if !validKinds[kind] {
		http.Error(w, "unknown kind "+req.Kind, http.StatusBadRequest)
		return
	}
	op := types.OperationType(req.Operation)
	if !validOps[op] {
		http.Error(w, "unknown operation "+req.Operation, http.StatusBadRequest)
		return
	}

	key := types.ResourceKey{Context: req.Context, Kind: kind, Namespace: req.Namespace, Name: req.Name}
	handle, err := api.engine.Mutate(r.Context(), key, op, types.MutateParams{Replicas: req.Replicas})
	if err != nil {
		// A non-nil handle means the operation was dispatched and failed;
		// return its snapshot alongside the error status.
		if handle != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(httpStatusFor(err))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"operation": handle.Snapshot(),
				"error":     err.Error(),
			})
			return
		}
		api.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{"operation": handle.Snapshot()})
}

// GET /api/v1/operations?limit=50
func (api *APIServer) handleOperations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ops, err := api.store.Operations(queryLimit(r, 100))
	if err != nil {
		api.respondError(w, err)
		return
	}
	if ops == nil {
		ops = []types.OperationSnapshot{}
	}
	api.respondJSON(w, map[string]interface{}{
		"operations": ops,
		"active":     api.engine.ActiveWatchers(),
	})
}

// DELETE /api/v1/operations/{id} — cancel a running operation's watcher.
func (api *APIServer) handleOperationByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/api/v1/operations/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid operation id", http.StatusBadRequest)
		return
	}

	if !api.engine.CancelOperation(id) {
		http.Error(w, "no running operation with that id", http.StatusNotFound)
		return
	}
	api.respondJSON(w, map[string]interface{}{"canceled": id})
}

// GET /api/v1/events?limit=50
func (api *APIServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	events, err := api.store.Events(queryLimit(r, 100))
	if err != nil {
		api.respondError(w, err)
		return
	}
	if events == nil {
		events = []types.Event{}
	}
	api.respondJSON(w, map[string]interface{}{"events": events})
}

// GET /health
func (api *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "healthy",
		"time":   time.Now(),
	}

	if pgStore, ok := api.store.(*db.PostgresStore); ok {
		if err := pgStore.Ping(); err != nil {
			health["status"] = "unhealthy"
			health["database"] = "disconnected"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			health["database"] = "connected"
		}
	}

	api.respondJSON(w, health)
}

// GET /ready — ready once the kubeconfig is loadable.
func (api *APIServer) handleReady(w http.ResponseWriter, r *http.Request) {
	names, err := api.contexts.Contexts()
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		api.respondJSON(w, map[string]interface{}{"ready": false, "error": err.Error()})
		return
	}
	api.respondJSON(w, map[string]interface{}{
		"ready":    true,
		"contexts": len(names),
	})
}

// GET /api/v1/stats
func (api *APIServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"cache":          api.engine.CacheStats(),
		"activeWatchers": api.engine.ActiveWatchers(),
	}

	byPhase := map[string]int{}
	if ops, err := api.store.Operations(0); err == nil {
		for _, op := range ops {
			byPhase[string(op.Phase)]++
		}
	}
	stats["operationsByPhase"] = byPhase

	api.respondJSON(w, stats)
}

func queryLimit(r *http.Request, def int) int {
	limit := def
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil {
			limit = l
		}
	}
	return limit
}

// httpStatusFor maps the error taxonomy onto HTTP status codes.
func httpStatusFor(err error) int {
	switch types.CodeOf(err) {
	case types.ErrPermissionDenied:
		return http.StatusForbidden
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrTimeout:
		return http.StatusGatewayTimeout
	case types.ErrConnectionFailed:
		return http.StatusBadGateway
	case types.ErrInvalidOperation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (api *APIServer) respondError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusFor(err))
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": err.Error(),
		"code":  string(types.CodeOf(err)),
	})
}

func (api *APIServer) respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (api *APIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		klog.V(2).InfoS("request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

func (api *APIServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

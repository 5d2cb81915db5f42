package types

import (
	"fmt"
	"sync"
	"time"
)

// ResourceKind identifies the cluster resource families this core knows how
// to fetch, normalize and mutate.
type ResourceKind string

const (
	KindApplication  ResourceKind = "Application"
	KindDeployment   ResourceKind = "Deployment"
	KindStatefulSet  ResourceKind = "StatefulSet"
	KindReplicaSet   ResourceKind = "ReplicaSet"
	KindPod          ResourceKind = "Pod"
	KindArgoCDDetect ResourceKind = "ArgoCDInstall"
)

// ResourceKey identifies a cache entry. An empty Namespace means
// cluster-scoped or "all namespaces"; an empty Name means a list query.
type ResourceKey struct {
	Context   string       `json:"context"`
	Kind      ResourceKind `json:"kind"`
	Namespace string       `json:"namespace,omitempty"`
	Name      string       `json:"name,omitempty"`
}

// String renders the internal cache key form "<kind>:<context>:<ns-or-*>:<name-or-*>".
func (k ResourceKey) String() string {
	ns, name := k.Namespace, k.Name
	if ns == "" {
		ns = "*"
	}
	if name == "" {
		name = "*"
	}
	return fmt.Sprintf("%s:%s:%s:%s", k.Kind, k.Context, ns, name)
}

// ListKey returns the list-query key covering this resource.
func (k ResourceKey) ListKey() ResourceKey {
	return ResourceKey{Context: k.Context, Kind: k.Kind, Namespace: k.Namespace}
}

type SyncStatus string

const (
	SyncSynced    SyncStatus = "Synced"
	SyncOutOfSync SyncStatus = "OutOfSync"
	SyncUnknown   SyncStatus = "Unknown"
)

type HealthStatus string

const (
	HealthHealthy     HealthStatus = "Healthy"
	HealthDegraded    HealthStatus = "Degraded"
	HealthProgressing HealthStatus = "Progressing"
	HealthSuspended   HealthStatus = "Suspended"
	HealthMissing     HealthStatus = "Missing"
	HealthUnknown     HealthStatus = "Unknown"
)

// ResourceDriftEntry is a per-resource mismatch record inside a
// NormalizedStatus (one managed resource of an application, or one item of a
// list query).
type ResourceDriftEntry struct {
	Kind      string       `json:"kind"`
	Name      string       `json:"name"`
	Namespace string       `json:"namespace"`
	Sync      SyncStatus   `json:"syncStatus"`
	Health    HealthStatus `json:"healthStatus"`
	Message   string       `json:"message,omitempty"`
}

// ReplicaCounts carries workload rollout progress for kinds that have it.
type ReplicaCounts struct {
	Desired            int32 `json:"desired"`
	Ready              int32 `json:"ready"`
	Updated            int32 `json:"updated"`
	Available          int32 `json:"available"`
	Generation         int64 `json:"generation"`
	ObservedGeneration int64 `json:"observedGeneration"`
}

// NormalizedStatus is the typed status record the normalizer produces for
// every kind. Sync and Health are always populated; missing raw data
// defaults them to Unknown.
type NormalizedStatus struct {
	Sync           SyncStatus           `json:"syncStatus"`
	Health         HealthStatus         `json:"healthStatus"`
	Resources      []ResourceDriftEntry `json:"resources"`
	Revision       string               `json:"revision"`
	LastSyncedAt   *time.Time           `json:"lastSyncedAt,omitempty"`
	OperationPhase string               `json:"operationPhase,omitempty"`
	Replicas       *ReplicaCounts       `json:"replicas,omitempty"`
}

type OperationType string

const (
	OpSync        OperationType = "Sync"
	OpRefresh     OperationType = "Refresh"
	OpHardRefresh OperationType = "HardRefresh"
	OpScale       OperationType = "Scale"
	OpRestart     OperationType = "Restart"
	OpDelete      OperationType = "Delete"
)

type OperationPhase string

const (
	PhaseRunning   OperationPhase = "Running"
	PhaseSucceeded OperationPhase = "Succeeded"
	PhaseFailed    OperationPhase = "Failed"
	PhaseTimedOut  OperationPhase = "TimedOut"
)

// Terminal reports whether the phase is one of the three end states.
func (p OperationPhase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed || p == PhaseTimedOut
}

// OperationHandle tracks one mutating operation from dispatch to settlement.
// The phase moves Running -> Succeeded | Failed | TimedOut exactly once;
// Settle reports whether the caller performed that transition and therefore
// owns the one-time side effects (cache invalidation, settled notification).
type OperationHandle struct {
	ID        int64
	Key       ResourceKey
	Type      OperationType
	StartedAt time.Time

	mu      sync.Mutex
	phase   OperationPhase
	lastErr error
}

func NewOperationHandle(id int64, key ResourceKey, op OperationType, startedAt time.Time) *OperationHandle {
	return &OperationHandle{ID: id, Key: key, Type: op, StartedAt: startedAt, phase: PhaseRunning}
}

// Settle attempts the terminal transition. It returns false if the handle
// already settled, in which case phase and error are left untouched.
func (h *OperationHandle) Settle(phase OperationPhase, err error) bool {
	if !phase.Terminal() {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.phase.Terminal() {
		return false
	}
	h.phase = phase
	h.lastErr = err
	return true
}

func (h *OperationHandle) Phase() OperationPhase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase
}

func (h *OperationHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// OperationSnapshot is the immutable, serializable view of a handle.
type OperationSnapshot struct {
	ID        int64          `json:"id"`
	Key       ResourceKey    `json:"key"`
	Type      OperationType  `json:"type"`
	StartedAt time.Time      `json:"startedAt"`
	Phase     OperationPhase `json:"phase"`
	Error     string         `json:"error,omitempty"`
}

func (h *OperationHandle) Snapshot() OperationSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := OperationSnapshot{
		ID:        h.ID,
		Key:       h.Key,
		Type:      h.Type,
		StartedAt: h.StartedAt,
		Phase:     h.phase,
	}
	if h.lastErr != nil {
		snap.Error = h.lastErr.Error()
	}
	return snap
}

// MutateParams carries operation-specific inputs. Only Scale uses it today.
type MutateParams struct {
	Replicas int32 `json:"replicas,omitempty"`
}

// Package normalize is the single translation boundary between raw resource
// JSON and the typed status model. Normalize is total: any JSON object (the
// fetcher rejects non-objects) produces a NormalizedStatus with every enum
// populated, defaulting to Unknown wherever the raw data is missing or
// malformed. Raw payload shapes never leak past this package.
package normalize

import (
	"encoding/json"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/kube9/statuscore/internal/types"
)

// argoCDServerDeployment is the control-plane deployment whose availability
// decides the install-detection status.
const argoCDServerDeployment = "argocd-server"

// Normalize translates raw into the typed status record for kind.
func Normalize(kind types.ResourceKind, raw map[string]interface{}) types.NormalizedStatus {
	if raw == nil {
		return unknownStatus()
	}
	if kind == types.KindArgoCDDetect {
		return normalizeArgoCDDetect(raw)
	}
	if _, isList := raw["items"]; isList {
		return normalizeList(kind, raw)
	}
	return normalizeSingle(kind, raw)
}

func unknownStatus() types.NormalizedStatus {
	return types.NormalizedStatus{
		Sync:      types.SyncUnknown,
		Health:    types.HealthUnknown,
		Resources: []types.ResourceDriftEntry{},
	}
}

func normalizeSingle(kind types.ResourceKind, raw map[string]interface{}) types.NormalizedStatus {
	switch kind {
	case types.KindApplication:
		return normalizeApplication(raw)
	case types.KindDeployment:
		return normalizeDeployment(raw)
	case types.KindStatefulSet:
		return normalizeStatefulSet(raw)
	case types.KindReplicaSet:
		return normalizeReplicaSet(raw)
	case types.KindPod:
		return normalizePod(raw)
	default:
		return unknownStatus()
	}
}

// rawApplication is the partial ArgoCD Application schema this core reads.
// Every field is optional; anything absent falls back to Unknown.
type rawApplication struct {
	Metadata struct {
		Name      string `json:"name"`
		Namespace string `json:"namespace"`
	} `json:"metadata"`
	Status *struct {
		Sync *struct {
			Status   string `json:"status"`
			Revision string `json:"revision"`
		} `json:"sync"`
		Health *struct {
			Status string `json:"status"`
		} `json:"health"`
		Resources []struct {
			Kind      string `json:"kind"`
			Name      string `json:"name"`
			Namespace string `json:"namespace"`
			Status    string `json:"status"`
			Health    *struct {
				Status  string `json:"status"`
				Message string `json:"message"`
			} `json:"health"`
		} `json:"resources"`
		OperationState *struct {
			Phase      string `json:"phase"`
			FinishedAt string `json:"finishedAt"`
		} `json:"operationState"`
	} `json:"status"`
}

func normalizeApplication(raw map[string]interface{}) types.NormalizedStatus {
	var app rawApplication
	decodeLenient(raw, &app)

	out := unknownStatus()
	if app.Status == nil {
		return out
	}

	if app.Status.Sync != nil {
		out.Sync = syncFromString(app.Status.Sync.Status)
		out.Revision = app.Status.Sync.Revision
	}
	if app.Status.Health != nil {
		out.Health = healthFromString(app.Status.Health.Status)
	}
	for _, res := range app.Status.Resources {
		entry := types.ResourceDriftEntry{
			Kind:      res.Kind,
			Name:      res.Name,
			Namespace: res.Namespace,
			Sync:      syncFromString(res.Status),
			Health:    types.HealthUnknown,
		}
		if res.Health != nil {
			entry.Health = healthFromString(res.Health.Status)
			entry.Message = res.Health.Message
		}
		out.Resources = append(out.Resources, entry)
	}
	if op := app.Status.OperationState; op != nil {
		out.OperationPhase = op.Phase
		out.LastSyncedAt = parseTime(op.FinishedAt)
	}
	return out
}

func normalizeDeployment(raw map[string]interface{}) types.NormalizedStatus {
	var dep appsv1.Deployment
	decodeLenient(raw, &dep)

	desired := int32(1)
	if dep.Spec.Replicas != nil {
		desired = *dep.Spec.Replicas
	}
	counts := &types.ReplicaCounts{
		Desired:            desired,
		Ready:              dep.Status.ReadyReplicas,
		Updated:            dep.Status.UpdatedReplicas,
		Available:          dep.Status.AvailableReplicas,
		Generation:         dep.Generation,
		ObservedGeneration: dep.Status.ObservedGeneration,
	}

	out := unknownStatus()
	out.Replicas = counts
	out.Sync = generationSync(dep.Generation, dep.Status.ObservedGeneration)
	out.Health = replicaHealth(counts)
	for _, cond := range dep.Status.Conditions {
		if cond.Type == appsv1.DeploymentAvailable && cond.Status == corev1.ConditionFalse {
			out.Health = types.HealthDegraded
		}
	}
	return out
}

func normalizeStatefulSet(raw map[string]interface{}) types.NormalizedStatus {
	var sts appsv1.StatefulSet
	decodeLenient(raw, &sts)

	desired := int32(1)
	if sts.Spec.Replicas != nil {
		desired = *sts.Spec.Replicas
	}
	counts := &types.ReplicaCounts{
		Desired:            desired,
		Ready:              sts.Status.ReadyReplicas,
		Updated:            sts.Status.UpdatedReplicas,
		Available:          sts.Status.AvailableReplicas,
		Generation:         sts.Generation,
		ObservedGeneration: sts.Status.ObservedGeneration,
	}

	out := unknownStatus()
	out.Replicas = counts
	out.Sync = generationSync(sts.Generation, sts.Status.ObservedGeneration)
	out.Health = replicaHealth(counts)
	return out
}

func normalizeReplicaSet(raw map[string]interface{}) types.NormalizedStatus {
	var rs appsv1.ReplicaSet
	decodeLenient(raw, &rs)

	desired := int32(1)
	if rs.Spec.Replicas != nil {
		desired = *rs.Spec.Replicas
	}
	counts := &types.ReplicaCounts{
		Desired:            desired,
		Ready:              rs.Status.ReadyReplicas,
		Updated:            rs.Status.Replicas,
		Available:          rs.Status.AvailableReplicas,
		Generation:         rs.Generation,
		ObservedGeneration: rs.Status.ObservedGeneration,
	}

	out := unknownStatus()
	out.Replicas = counts
	out.Sync = generationSync(rs.Generation, rs.Status.ObservedGeneration)
	out.Health = replicaHealth(counts)
	for _, cond := range rs.Status.Conditions {
		if cond.Type == appsv1.ReplicaSetReplicaFailure && cond.Status == corev1.ConditionTrue {
			out.Health = types.HealthDegraded
		}
	}
	return out
}

func normalizePod(raw map[string]interface{}) types.NormalizedStatus {
	var pod corev1.Pod
	decodeLenient(raw, &pod)

	out := unknownStatus()
	out.Sync = types.SyncSynced // pods have no declared state to drift from
	switch pod.Status.Phase {
	case corev1.PodRunning, corev1.PodSucceeded:
		out.Health = types.HealthHealthy
	case corev1.PodPending:
		out.Health = types.HealthProgressing
	case corev1.PodFailed:
		out.Health = types.HealthDegraded
	default:
		out.Sync = types.SyncUnknown
		out.Health = types.HealthUnknown
	}
	return out
}

type rawList struct {
	Items []map[string]interface{} `json:"items"`
}

func normalizeList(kind types.ResourceKind, raw map[string]interface{}) types.NormalizedStatus {
	var list rawList
	decodeLenient(raw, &list)

	out := unknownStatus()
	for _, item := range list.Items {
		st := normalizeSingle(kind, item)
		name, namespace := itemMeta(item)
		out.Resources = append(out.Resources, types.ResourceDriftEntry{
			Kind:      string(kind),
			Name:      name,
			Namespace: namespace,
			Sync:      st.Sync,
			Health:    st.Health,
		})
	}
	out.Sync = aggregateSync(out.Resources)
	out.Health = aggregateHealth(out.Resources)
	return out
}

// rawDeploymentProbe is the slice of a Deployment the detection path needs.
type rawDeploymentProbe struct {
	Metadata struct {
		Name string `json:"name"`
	} `json:"metadata"`
	Status struct {
		AvailableReplicas int32 `json:"availableReplicas"`
	} `json:"status"`
}

func normalizeArgoCDDetect(raw map[string]interface{}) types.NormalizedStatus {
	var list struct {
		Items []rawDeploymentProbe `json:"items"`
	}
	decodeLenient(raw, &list)

	out := unknownStatus()
	out.Sync = types.SyncSynced
	out.Health = types.HealthMissing
	for _, item := range list.Items {
		if item.Metadata.Name != argoCDServerDeployment {
			continue
		}
		if item.Status.AvailableReplicas > 0 {
			out.Health = types.HealthHealthy
		} else {
			out.Health = types.HealthProgressing
		}
	}
	return out
}

// decodeLenient round-trips a decoded JSON value into dst, tolerating type
// mismatches: mismatched fields stay at their zero value instead of failing
// the whole payload.
func decodeLenient(raw interface{}, dst interface{}) {
	data, err := json.Marshal(raw)
	if err != nil {
		return
	}
	// Unmarshal keeps decoding sibling fields after a type error.
	_ = json.Unmarshal(data, dst)
}

func syncFromString(s string) types.SyncStatus {
	switch types.SyncStatus(s) {
	case types.SyncSynced, types.SyncOutOfSync:
		return types.SyncStatus(s)
	default:
		return types.SyncUnknown
	}
}

func healthFromString(s string) types.HealthStatus {
	switch types.HealthStatus(s) {
	case types.HealthHealthy, types.HealthDegraded, types.HealthProgressing,
		types.HealthSuspended, types.HealthMissing:
		return types.HealthStatus(s)
	default:
		return types.HealthUnknown
	}
}

func generationSync(generation, observed int64) types.SyncStatus {
	if observed == 0 && generation == 0 {
		return types.SyncUnknown
	}
	if observed >= generation {
		return types.SyncSynced
	}
	return types.SyncOutOfSync
}

func replicaHealth(c *types.ReplicaCounts) types.HealthStatus {
	switch {
	case c.ObservedGeneration == 0 && c.Ready == 0 && c.Updated == 0 && c.Available == 0 && c.Desired == 0:
		return types.HealthUnknown
	case c.Ready == c.Desired && c.Updated == c.Desired:
		return types.HealthHealthy
	case c.Desired > 0 && c.Available == 0:
		return types.HealthDegraded
	default:
		return types.HealthProgressing
	}
}

func itemMeta(item map[string]interface{}) (name, namespace string) {
	meta, ok := item["metadata"].(map[string]interface{})
	if !ok {
		return "", ""
	}
	name, _ = meta["name"].(string)
	namespace, _ = meta["namespace"].(string)
	return name, namespace
}

// healthSeverity orders statuses worst-first for list aggregation.
var healthSeverity = map[types.HealthStatus]int{
	types.HealthDegraded:    0,
	types.HealthMissing:     1,
	types.HealthProgressing: 2,
	types.HealthSuspended:   3,
	types.HealthUnknown:     4,
	types.HealthHealthy:     5,
}

func aggregateHealth(entries []types.ResourceDriftEntry) types.HealthStatus {
	if len(entries) == 0 {
		return types.HealthUnknown
	}
	worst := types.HealthHealthy
	for _, e := range entries {
		if healthSeverity[e.Health] < healthSeverity[worst] {
			worst = e.Health
		}
	}
	return worst
}

func aggregateSync(entries []types.ResourceDriftEntry) types.SyncStatus {
	if len(entries) == 0 {
		return types.SyncUnknown
	}
	allSynced := true
	for _, e := range entries {
		switch e.Sync {
		case types.SyncOutOfSync:
			return types.SyncOutOfSync
		case types.SyncSynced:
		default:
			allSynced = false
		}
	}
	if allSynced {
		return types.SyncSynced
	}
	return types.SyncUnknown
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

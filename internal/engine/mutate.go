package engine

import (
	"context"
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"github.com/kube9/statuscore/internal/fetch"
	"github.com/kube9/statuscore/internal/runner"
	"github.com/kube9/statuscore/internal/settle"
	"github.com/kube9/statuscore/internal/types"
	"github.com/kube9/statuscore/internal/watch"
)

// syncPatch triggers an ArgoCD sync by writing the Application's operation
// field, the same mechanism the argocd CLI uses under the hood.
const syncPatch = `{"operation":{"initiatedBy":{"username":"kube9"},"sync":{}}}`

const refreshAnnotation = "argocd.argoproj.io/refresh"

// allowedOps is the static legality table: which operations each kind
// accepts. Checked before any I/O.
var allowedOps = map[types.ResourceKind]map[types.OperationType]bool{
	types.KindApplication: {
		types.OpSync:        true,
		types.OpRefresh:     true,
		types.OpHardRefresh: true,
		types.OpDelete:      true,
	},
	types.KindDeployment: {
		types.OpScale:   true,
		types.OpRestart: true,
		types.OpDelete:  true,
	},
	types.KindStatefulSet: {
		types.OpScale:   true,
		types.OpRestart: true,
		types.OpDelete:  true,
	},
	types.KindReplicaSet: {
		types.OpScale:  true,
		types.OpDelete: true,
	},
	types.KindPod: {
		types.OpDelete: true,
	},
}

// dependentKinds lists resources whose cached status may change as a
// consequence of mutating the parent kind.
var dependentKinds = map[types.ResourceKind][]types.ResourceKind{
	types.KindApplication: {types.KindDeployment, types.KindStatefulSet, types.KindReplicaSet, types.KindPod},
	types.KindDeployment:  {types.KindReplicaSet, types.KindPod},
	types.KindStatefulSet: {types.KindPod},
	types.KindReplicaSet:  {types.KindPod},
}

// Mutate dispatches a state-changing operation on key. On command failure
// the handle comes back already Failed and no cache entry is touched (the
// cluster state is presumed unchanged). On success the affected cache
// entries are invalidated and, for operations that settle asynchronously, a
// watcher is started and the handle returned still Running.
func (e *Engine) Mutate(ctx context.Context, key types.ResourceKey, op types.OperationType, params types.MutateParams) (*types.OperationHandle, error) {
	if err := validateOperation(key, op, params); err != nil {
		return nil, err
	}

	rc, err := e.contexts.Resolve(key.Context)
	if err != nil {
		return nil, err
	}
	args, err := buildMutationArgs(key, op, params)
	if err != nil {
		return nil, err
	}

	handle := types.NewOperationHandle(e.nextID.Add(1), key, op, e.clock.Now())
	e.record(handle)
	klog.InfoS("dispatching operation", "operation", handle.ID, "type", op, "key", key)

	res, err := e.runner.Run(ctx, e.binary, args, rc, e.mutationTimeout)
	if err != nil || res.ExitCode != 0 {
		mutErr := classifyMutation(key, res, err)
		handle.Settle(types.PhaseFailed, mutErr)
		e.record(handle)
		return handle, mutErr
	}

	e.invalidateFor(key)

	pred, async := settle.For(op)
	if !async {
		handle.Settle(types.PhaseSucceeded, nil)
		e.record(handle)
		e.notifier.OperationSettled(handle.Snapshot())
		return handle, nil
	}

	w := watch.New(watch.Config{
		Handle:    handle,
		Fetch:     func(tickCtx context.Context) (types.NormalizedStatus, error) { return e.liveStatus(tickCtx, key) },
		IsSettled: pred,
		Interval:  e.pollInterval,
		Timeout:   e.pollTimeout,
		Clock:     e.clock,
		Notifier:  e.notifier,
		OnTerminal: func(h *types.OperationHandle) {
			e.invalidateFor(key)
			e.record(h)
			e.dropWatcher(h.ID)
		},
	})
	e.registerWatcher(handle.ID, w)
	go w.Run(e.rootCtx)
	return handle, nil
}

func validateOperation(key types.ResourceKey, op types.OperationType, params types.MutateParams) error {
	if key.Name == "" {
		return types.NewStatusError(types.ErrInvalidOperation, &key, "%s requires a named resource", op)
	}
	if !allowedOps[key.Kind][op] {
		return types.NewStatusError(types.ErrInvalidOperation, &key, "%s is not valid for kind %s", op, key.Kind)
	}
	if op == types.OpScale && params.Replicas < 0 {
		return types.NewStatusError(types.ErrInvalidOperation, &key, "replica count %d is negative", params.Replicas)
	}
	return nil
}

func buildMutationArgs(key types.ResourceKey, op types.OperationType, params types.MutateParams) ([]string, error) {
	res, ok := fetch.ResourceName(key.Kind)
	if !ok {
		return nil, types.NewStatusError(types.ErrInvalidOperation, &key, "unknown resource kind %q", key.Kind)
	}

	var args []string
	switch op {
	case types.OpSync:
		args = []string{"patch", res, key.Name, "--type", "merge", "-p", syncPatch}
	case types.OpRefresh:
		args = []string{"annotate", res, key.Name, refreshAnnotation + "=normal", "--overwrite"}
	case types.OpHardRefresh:
		args = []string{"annotate", res, key.Name, refreshAnnotation + "=hard", "--overwrite"}
	case types.OpScale:
		args = []string{"scale", res, key.Name, fmt.Sprintf("--replicas=%d", params.Replicas)}
	case types.OpRestart:
		args = []string{"rollout", "restart", res + "/" + key.Name}
	case types.OpDelete:
		args = []string{"delete", res, key.Name}
	default:
		return nil, types.NewStatusError(types.ErrInvalidOperation, &key, "unsupported operation %q", op)
	}

	if key.Namespace != "" {
		args = append(args, "-n", key.Namespace)
	}
	return args, nil
}

// classifyMutation reuses the fetch-side stderr classification but keeps the
// runner-level error (timeout, missing binary) when there is one.
func classifyMutation(key types.ResourceKey, res runner.Result, runErr error) error {
	if runErr != nil {
		if se, ok := runErr.(*types.StatusError); ok && se.Key == nil {
			se.Key = &key
		}
		return runErr
	}
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(res.Stdout)
	}
	lower := strings.ToLower(msg)

	code := types.ErrUnknown
	switch {
	case strings.Contains(lower, "forbidden"):
		code = types.ErrPermissionDenied
	case strings.Contains(lower, "notfound"), strings.Contains(lower, "not found"):
		code = types.ErrNotFound
	case strings.Contains(lower, "unable to connect"), strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "no such host"):
		code = types.ErrConnectionFailed
	}
	return &types.StatusError{Code: code, Key: &key, Message: msg, ExitCode: res.ExitCode}
}

// invalidateFor removes the exact entry for key, every list entry that could
// contain it, and the cached entries of dependent kinds in the same scope.
// Over-invalidation is harmless; the next read re-fetches.
func (e *Engine) invalidateFor(key types.ResourceKey) {
	deps := dependentKinds[key.Kind]
	removed := e.cache.Invalidate(func(k types.ResourceKey) bool {
		if k.Context != key.Context {
			return false
		}
		if k.Kind == key.Kind {
			return k.Name == key.Name || k.Name == ""
		}
		for _, d := range deps {
			if k.Kind != d {
				continue
			}
			if key.Namespace == "" || k.Namespace == "" || k.Namespace == key.Namespace {
				return true
			}
		}
		return false
	})
	if removed > 0 {
		klog.V(3).InfoS("invalidated cache entries", "key", key, "removed", removed)
	}
}

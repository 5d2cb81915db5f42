// Package settle holds the static registry of settlement predicates: given a
// freshly fetched status, each predicate decides whether the operation that
// is being watched has reached a terminal outcome, and whether that outcome
// is itself a failure.
package settle

import (
	"fmt"

	"github.com/kube9/statuscore/internal/types"
)

// Outcome is a predicate's verdict for one status sample.
type Outcome struct {
	Settled bool
	Failed  bool
	Reason  string
}

// Predicate evaluates one live status sample.
type Predicate func(status types.NormalizedStatus) Outcome

// terminal ArgoCD operation phases. Error counts as Failed.
var appTerminalPhases = map[string]bool{
	"Succeeded": false,
	"Failed":    true,
	"Error":     true,
}

// For returns the predicate that decides settlement for op. Operations that
// complete synchronously have no predicate and no watcher.
func For(op types.OperationType) (Predicate, bool) {
	switch op {
	case types.OpSync:
		return appSyncSettled, true
	case types.OpScale:
		return replicasSettled, true
	case types.OpRestart:
		return rolloutSettled, true
	default:
		return nil, false
	}
}

func appSyncSettled(status types.NormalizedStatus) Outcome {
	failed, terminal := appTerminalPhases[status.OperationPhase]
	if !terminal {
		return Outcome{Reason: fmt.Sprintf("operation phase %q", status.OperationPhase)}
	}
	return Outcome{
		Settled: true,
		Failed:  failed,
		Reason:  fmt.Sprintf("sync finished with phase %s", status.OperationPhase),
	}
}

func replicasSettled(status types.NormalizedStatus) Outcome {
	c := status.Replicas
	if c == nil {
		return Outcome{Reason: "no replica counts reported yet"}
	}
	if c.Ready == c.Desired && c.Updated == c.Desired {
		return Outcome{Settled: true, Reason: fmt.Sprintf("%d/%d replicas ready", c.Ready, c.Desired)}
	}
	return Outcome{Reason: fmt.Sprintf("%d/%d replicas ready", c.Ready, c.Desired)}
}

func rolloutSettled(status types.NormalizedStatus) Outcome {
	c := status.Replicas
	if c == nil {
		return Outcome{Reason: "no replica counts reported yet"}
	}
	if c.ObservedGeneration < c.Generation {
		return Outcome{Reason: "controller has not observed the restart yet"}
	}
	if c.Updated == c.Desired && c.Ready == c.Desired {
		return Outcome{Settled: true, Reason: fmt.Sprintf("rollout complete, %d/%d replicas updated", c.Updated, c.Desired)}
	}
	return Outcome{Reason: fmt.Sprintf("%d/%d replicas updated, %d/%d ready", c.Updated, c.Desired, c.Ready, c.Desired)}
}

// Package fetch retrieves raw resource JSON through the command runner and
// classifies failures into the typed error taxonomy. It never retries; retry
// policy belongs to callers that can distinguish "never succeeded" from
// "succeeded then degraded".
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kube9/statuscore/internal/runner"
	"github.com/kube9/statuscore/internal/types"
)

// argoCDNamespace is where the detection probe looks for the ArgoCD control
// plane deployments.
const argoCDNamespace = "argocd"

var resourceNames = map[types.ResourceKind]string{
	types.KindApplication: "applications.argoproj.io",
	types.KindDeployment:  "deployments",
	types.KindStatefulSet: "statefulsets",
	types.KindReplicaSet:  "replicasets",
	types.KindPod:         "pods",
}

// ResourceName returns the kubectl resource name for kind.
func ResourceName(kind types.ResourceKind) (string, bool) {
	name, ok := resourceNames[kind]
	return name, ok
}

type Fetcher struct {
	runner  runner.Runner
	binary  string
	timeout time.Duration
}

func New(r runner.Runner, binary string, timeout time.Duration) *Fetcher {
	if binary == "" {
		binary = "kubectl"
	}
	return &Fetcher{runner: r, binary: binary, timeout: timeout}
}

// Fetch returns the decoded JSON object for key. Non-object payloads are
// rejected here so the normalizer stays total.
func (f *Fetcher) Fetch(ctx context.Context, rc runner.RunContext, key types.ResourceKey) (map[string]interface{}, error) {
	args, err := buildGetArgs(key)
	if err != nil {
		return nil, err
	}

	res, err := f.runner.Run(ctx, f.binary, args, rc, f.timeout)
	if err != nil {
		return nil, attachKey(err, key)
	}
	if res.ExitCode != 0 {
		return nil, classify(key, res)
	}

	var raw interface{}
	if err := json.Unmarshal([]byte(res.Stdout), &raw); err != nil {
		return nil, &types.StatusError{
			Code:    types.ErrUnknown,
			Key:     &key,
			Message: fmt.Sprintf("invalid JSON from %s: %v", f.binary, err),
			Err:     err,
		}
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, types.NewStatusError(types.ErrUnknown, &key, "expected a JSON object, got %T", raw)
	}
	return obj, nil
}

func buildGetArgs(key types.ResourceKey) ([]string, error) {
	if key.Kind == types.KindArgoCDDetect {
		return []string{"get", "deployments", "-n", argoCDNamespace, "-o", "json"}, nil
	}

	res, ok := resourceNames[key.Kind]
	if !ok {
		return nil, types.NewStatusError(types.ErrInvalidOperation, &key, "unknown resource kind %q", key.Kind)
	}

	args := []string{"get", res}
	if key.Name != "" {
		args = append(args, key.Name)
	}
	switch {
	case key.Namespace != "":
		args = append(args, "-n", key.Namespace)
	case key.Name == "":
		args = append(args, "--all-namespaces")
	}
	return append(args, "-o", "json"), nil
}

// classify maps a failed command to the error taxonomy using kubectl's
// stderr conventions ("Error from server (Forbidden)", "Unable to connect to
// the server", ...).
func classify(key types.ResourceKey, res runner.Result) error {
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(res.Stdout)
	}
	lower := strings.ToLower(msg)

	code := types.ErrUnknown
	switch {
	case strings.Contains(lower, "forbidden"):
		code = types.ErrPermissionDenied
	case strings.Contains(lower, "notfound"),
		strings.Contains(lower, "not found"),
		strings.Contains(lower, "doesn't have a resource type"):
		code = types.ErrNotFound
	case strings.Contains(lower, "unable to connect"),
		strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "no such host"),
		strings.Contains(lower, "i/o timeout"):
		code = types.ErrConnectionFailed
	}

	return &types.StatusError{
		Code:     code,
		Key:      &key,
		Message:  msg,
		ExitCode: res.ExitCode,
	}
}

// attachKey fills in the resource key on runner-level errors (timeouts,
// missing binary) that were produced without one.
func attachKey(err error, key types.ResourceKey) error {
	if se, ok := err.(*types.StatusError); ok && se.Key == nil {
		se.Key = &key
		return se
	}
	return err
}

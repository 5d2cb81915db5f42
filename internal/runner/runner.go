// Package runner is the process-execution boundary. Everything this core
// asks of a cluster goes through the Runner interface; the exec
// implementation shells out to kubectl (or a compatible binary) with the
// kubeconfig and context of the target cluster.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"k8s.io/klog/v2"

	"github.com/kube9/statuscore/internal/types"
)

// RunContext selects the cluster a command runs against.
type RunContext struct {
	KubeconfigPath string
	ContextName    string
}

// Result is the captured outcome of one command invocation. A non-zero
// ExitCode is not an error at this layer; classification happens in the
// fetcher and dispatcher, which know the resource key.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type Runner interface {
	Run(ctx context.Context, name string, args []string, rc RunContext, timeout time.Duration) (Result, error)
}

// ExecRunner invokes the named binary directly.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args []string, rc RunContext, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	full := args
	if rc.KubeconfigPath != "" {
		full = append(full, "--kubeconfig", rc.KubeconfigPath)
	}
	if rc.ContextName != "" {
		full = append(full, "--context", rc.ContextName)
	}

	cmd := exec.CommandContext(ctx, name, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	klog.V(4).InfoS("running command", "name", name, "args", full)
	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctx.Err() == context.DeadlineExceeded {
		return res, types.NewStatusError(types.ErrTimeout, nil, "%s timed out after %s", name, timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		// Binary missing, not executable, etc.
		return res, types.NewStatusError(types.ErrConnectionFailed, nil, "failed to start %s: %v", name, err)
	}
	return res, nil
}

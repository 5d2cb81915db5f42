// Package kubeconfig resolves the cluster contexts requests name into the
// kubeconfig/context pairs the command runner needs. The parsed file is
// cached; Reload picks up external edits.
package kubeconfig

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/u2takey/go-utils/filesystem/homedir"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"

	"github.com/kube9/statuscore/internal/runner"
	"github.com/kube9/statuscore/internal/types"
)

type Resolver struct {
	path string

	mu     sync.Mutex
	config *clientcmdapi.Config
}

// NewResolver uses the given kubeconfig path, defaulting to ~/.kube/config.
func NewResolver(path string) *Resolver {
	if path == "" {
		if home := homedir.HomeDir(); home != "" {
			path = filepath.Join(home, ".kube", "config")
		}
	}
	return &Resolver{path: path}
}

func (r *Resolver) Path() string { return r.path }

// Resolve validates that contextName exists in the kubeconfig (empty means
// the current context) and returns the run context for it.
func (r *Resolver) Resolve(contextName string) (runner.RunContext, error) {
	cfg, err := r.load()
	if err != nil {
		return runner.RunContext{}, err
	}

	if contextName == "" {
		contextName = cfg.CurrentContext
	}
	if contextName == "" {
		return runner.RunContext{}, types.NewStatusError(types.ErrNotFound, nil, "kubeconfig %s has no current context", r.path)
	}
	if _, ok := cfg.Contexts[contextName]; !ok {
		return runner.RunContext{}, types.NewStatusError(types.ErrNotFound, nil, "context %q not found in kubeconfig %s", contextName, r.path)
	}
	return runner.RunContext{KubeconfigPath: r.path, ContextName: contextName}, nil
}

// DefaultNamespace returns the namespace configured on the context, if any.
func (r *Resolver) DefaultNamespace(contextName string) (string, error) {
	cfg, err := r.load()
	if err != nil {
		return "", err
	}
	if contextName == "" {
		contextName = cfg.CurrentContext
	}
	kctx, ok := cfg.Contexts[contextName]
	if !ok {
		return "", types.NewStatusError(types.ErrNotFound, nil, "context %q not found in kubeconfig %s", contextName, r.path)
	}
	return kctx.Namespace, nil
}

// Contexts lists the context names in the kubeconfig, sorted.
func (r *Resolver) Contexts() ([]string, error) {
	cfg, err := r.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cfg.Contexts))
	for name := range cfg.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Reload drops the cached parse so the next call re-reads the file.
func (r *Resolver) Reload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = nil
}

func (r *Resolver) load() (*clientcmdapi.Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.config != nil {
		return r.config, nil
	}
	cfg, err := clientcmd.LoadFromFile(r.path)
	if err != nil {
		return nil, types.NewStatusError(types.ErrConnectionFailed, nil, "failed to load kubeconfig %s: %v", r.path, err)
	}
	r.config = cfg
	return cfg, nil
}

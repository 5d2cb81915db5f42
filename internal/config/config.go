// Package config is the env-driven configuration surface. TTLs and poll
// timings are data here, not constants at call sites.
package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/kube9/statuscore/internal/types"
)

type Config struct {
	// APIAddress is the listen address of the HTTP status API.
	APIAddress string `env:"API_ADDRESS, default=:8080"`
	// DatabaseURL enables the Postgres-backed operation history when set.
	DatabaseURL string `env:"DATABASE_URL"`
	// KubeconfigPath overrides the default ~/.kube/config.
	KubeconfigPath string `env:"KUBECONFIG"`
	// KubectlBinary is the command the runner invokes.
	KubectlBinary string `env:"KUBECTL_BIN, default=kubectl"`

	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT, default=30s"`
	MutationTimeout time.Duration `env:"MUTATION_TIMEOUT, default=60s"`
	PollInterval    time.Duration `env:"POLL_INTERVAL, default=2s"`
	PollTimeout     time.Duration `env:"POLL_TIMEOUT, default=5m"`

	// ListTTL covers list- and detail-type status reads; DetectionTTL covers
	// the slow-moving ArgoCD install probe.
	ListTTL      time.Duration `env:"LIST_TTL, default=30s"`
	DetectionTTL time.Duration `env:"DETECTION_TTL, default=5m"`

	// EventJournalSize bounds the in-memory event journal.
	EventJournalSize int `env:"EVENT_JOURNAL_SIZE, default=500"`
}

func Load(ctx context.Context) (*Config, error) {
	var c Config
	if err := envconfig.Process(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// TTLTable maps each kind to its cache TTL. Kinds absent from the table
// (none today) would be uncached.
func (c *Config) TTLTable() map[types.ResourceKind]time.Duration {
	return map[types.ResourceKind]time.Duration{
		types.KindApplication:  c.ListTTL,
		types.KindDeployment:   c.ListTTL,
		types.KindStatefulSet:  c.ListTTL,
		types.KindReplicaSet:   c.ListTTL,
		types.KindPod:          c.ListTTL,
		types.KindArgoCDDetect: c.DetectionTTL,
	}
}

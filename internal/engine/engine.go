// Package engine owns the TTL cache and coordinates the fetch, normalize,
// mutate and watch components around it. Reads are single-flight per key and
// fall back to stale data when a refresh fails; mutations invalidate the
// affected entries and, for operations that complete asynchronously in the
// cluster, hand off to a poll-until-settled watcher.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/kube9/statuscore/internal/cache"
	"github.com/kube9/statuscore/internal/fetch"
	"github.com/kube9/statuscore/internal/normalize"
	"github.com/kube9/statuscore/internal/runner"
	"github.com/kube9/statuscore/internal/types"
	"github.com/kube9/statuscore/internal/watch"
)

// ContextResolver turns a context name into the kubeconfig/context pair the
// runner needs. internal/kubeconfig provides the real one.
type ContextResolver interface {
	Resolve(contextName string) (runner.RunContext, error)
}

// OperationRecorder persists operation transitions for the history API.
type OperationRecorder interface {
	RecordOperation(op types.OperationSnapshot) error
}

type Options struct {
	Fetcher  *fetch.Fetcher
	Runner   runner.Runner
	Binary   string
	Contexts ContextResolver
	Notifier types.Notifier
	Recorder OperationRecorder
	Clock    clock.Clock

	TTLs            map[types.ResourceKind]time.Duration
	PollInterval    time.Duration
	PollTimeout     time.Duration
	MutationTimeout time.Duration
}

type Engine struct {
	cache    *cache.Cache
	fetcher  *fetch.Fetcher
	runner   runner.Runner
	binary   string
	contexts ContextResolver
	notifier types.Notifier
	recorder OperationRecorder
	clock    clock.Clock

	ttls            map[types.ResourceKind]time.Duration
	pollInterval    time.Duration
	pollTimeout     time.Duration
	mutationTimeout time.Duration

	flight singleflight.Group
	nextID atomic.Int64

	// rootCtx bounds background watchers; they outlive the request that
	// started them but not the engine.
	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu       sync.Mutex
	watchers map[int64]*watch.Watcher
}

func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Notifier == nil {
		opts.Notifier = types.NoopNotifier{}
	}
	if opts.Binary == "" {
		opts.Binary = "kubectl"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Minute
	}
	if opts.MutationTimeout <= 0 {
		opts.MutationTimeout = 60 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cache:           cache.New(opts.Clock),
		fetcher:         opts.Fetcher,
		runner:          opts.Runner,
		binary:          opts.Binary,
		contexts:        opts.Contexts,
		notifier:        opts.Notifier,
		recorder:        opts.Recorder,
		clock:           opts.Clock,
		ttls:            opts.TTLs,
		pollInterval:    opts.PollInterval,
		pollTimeout:     opts.PollTimeout,
		mutationTimeout: opts.MutationTimeout,
		rootCtx:         ctx,
		rootCancel:      cancel,
		watchers:        make(map[int64]*watch.Watcher),
	}
}

// Close cancels all running watchers.
func (e *Engine) Close() {
	e.rootCancel()
}

// Get returns the status for key, serving the cache when fresh. On a failed
// refresh it returns the most recent stale entry if one exists (stale=true);
// only when there is nothing to serve does the error propagate, with an
// error notification.
func (e *Engine) Get(ctx context.Context, key types.ResourceKey) (types.NormalizedStatus, bool, error) {
	if entry, ok := e.cache.Get(key); ok {
		return entry.Value, false, nil
	}
	return e.refresh(ctx, key)
}

// ForceRefresh bypasses the TTL and fetches fresh, still single-flight.
func (e *Engine) ForceRefresh(ctx context.Context, key types.ResourceKey) (types.NormalizedStatus, bool, error) {
	return e.refresh(ctx, key)
}

func (e *Engine) refresh(ctx context.Context, key types.ResourceKey) (types.NormalizedStatus, bool, error) {
	v, err, _ := e.flight.Do(key.String(), func() (interface{}, error) {
		status, err := e.liveStatus(ctx, key)
		if err != nil {
			return nil, err
		}
		e.cache.Put(key, status, e.ttlFor(key.Kind))
		e.notifier.DataUpdated(key)
		return status, nil
	})
	if err != nil {
		if entry, ok := e.cache.GetStaleIfPresent(key); ok {
			klog.V(2).InfoS("serving stale entry after failed refresh", "key", key, "age", e.clock.Now().Sub(entry.FetchedAt), "err", err)
			return entry.Value, true, nil
		}
		e.notifier.Error(key, err)
		return types.NormalizedStatus{Sync: types.SyncUnknown, Health: types.HealthUnknown}, false, err
	}
	return v.(types.NormalizedStatus), false, nil
}

// liveStatus is a cache-bypassing fetch+normalize; watchers tick through it.
func (e *Engine) liveStatus(ctx context.Context, key types.ResourceKey) (types.NormalizedStatus, error) {
	rc, err := e.contexts.Resolve(key.Context)
	if err != nil {
		return types.NormalizedStatus{}, err
	}
	raw, err := e.fetcher.Fetch(ctx, rc, key)
	if err != nil {
		return types.NormalizedStatus{}, err
	}
	return normalize.Normalize(key.Kind, raw), nil
}

func (e *Engine) ttlFor(kind types.ResourceKind) time.Duration {
	return e.ttls[kind]
}

// CacheStats exposes cache counters for the stats endpoint.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// ActiveWatchers reports how many operations are still being polled.
func (e *Engine) ActiveWatchers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.watchers)
}

// CancelOperation cooperatively stops the watcher for the given operation ID.
// It reports whether a running watcher was found. The cluster-side operation
// is not rolled back.
func (e *Engine) CancelOperation(id int64) bool {
	e.mu.Lock()
	w, ok := e.watchers[id]
	e.mu.Unlock()
	if !ok {
		return false
	}
	w.Cancel()
	return true
}

func (e *Engine) registerWatcher(id int64, w *watch.Watcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.watchers[id] = w
}

func (e *Engine) dropWatcher(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.watchers, id)
}

func (e *Engine) record(h *types.OperationHandle) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordOperation(h.Snapshot()); err != nil {
		klog.ErrorS(err, "failed to record operation", "operation", h.ID)
	}
}

package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/kube9/statuscore/internal/fetch"
	"github.com/kube9/statuscore/internal/runner"
	"github.com/kube9/statuscore/internal/types"
)

type staticResolver struct{}

func (staticResolver) Resolve(name string) (runner.RunContext, error) {
	return runner.RunContext{KubeconfigPath: "/home/dev/.kube/config", ContextName: name}, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	updated  []types.ResourceKey
	errors   []error
	progress int
	settled  []types.OperationSnapshot
}

func (r *recordingNotifier) DataUpdated(key types.ResourceKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, key)
}

func (r *recordingNotifier) OperationProgress(types.OperationSnapshot, types.NormalizedStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress++
}

func (r *recordingNotifier) OperationSettled(op types.OperationSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled = append(r.settled, op)
}

func (r *recordingNotifier) Error(_ types.ResourceKey, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *recordingNotifier) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

func (r *recordingNotifier) settledCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.settled)
}

type memoryRecorder struct {
	mu    sync.Mutex
	snaps []types.OperationSnapshot
}

func (m *memoryRecorder) RecordOperation(op types.OperationSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, op)
	return nil
}

const appJSON = `{"metadata":{"name":"guestbook","namespace":"argocd"},
	"status":{"sync":{"status":"Synced","revision":"abc"},"health":{"status":"Healthy"}}}`

func appKey() types.ResourceKey {
	return types.ResourceKey{Context: "prod", Kind: types.KindApplication, Namespace: "argocd", Name: "guestbook"}
}

func newTestEngine(fake *runner.Fake, fc *clocktesting.FakeClock, notifier types.Notifier) *Engine {
	return New(Options{
		Fetcher:  fetch.New(fake, "kubectl", 30*time.Second),
		Runner:   fake,
		Binary:   "kubectl",
		Contexts: staticResolver{},
		Notifier: notifier,
		Clock:    fc,
		TTLs: map[types.ResourceKind]time.Duration{
			types.KindApplication:  30 * time.Second,
			types.KindDeployment:   30 * time.Second,
			types.KindPod:          30 * time.Second,
			types.KindArgoCDDetect: 5 * time.Minute,
		},
		PollInterval: 2 * time.Second,
		PollTimeout:  time.Minute,
	})
}

func TestGetServesCacheWithinTTL(t *testing.T) {
	fake := runner.NewFake(runner.FakeResponse{Result: runner.Result{Stdout: appJSON}})
	fc := clocktesting.NewFakeClock(time.Now())
	e := newTestEngine(fake, fc, nil)
	defer e.Close()

	first, stale, err := e.Get(context.Background(), appKey())
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, types.SyncSynced, first.Sync)

	fc.Step(10 * time.Second)
	_, _, err = e.Get(context.Background(), appKey())
	require.NoError(t, err)
	assert.Equal(t, 1, fake.CallCount(), "second read inside the TTL must not hit the runner")

	fc.Step(25 * time.Second) // past 30s TTL
	_, _, err = e.Get(context.Background(), appKey())
	require.NoError(t, err)
	assert.Equal(t, 2, fake.CallCount(), "expired entry must trigger a re-fetch")
}

func TestGetSingleFlight(t *testing.T) {
	fake := runner.NewFake(runner.FakeResponse{Result: runner.Result{Stdout: appJSON}})
	fake.RunDelay = 50 * time.Millisecond
	e := newTestEngine(fake, clocktesting.NewFakeClock(time.Now()), nil)
	defer e.Close()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := e.Get(context.Background(), appKey())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fake.CallCount(), "concurrent reads for one key must share one fetch")
}

func TestGetStaleFallbackOnFetchFailure(t *testing.T) {
	fake := runner.NewFake(
		runner.FakeResponse{Result: runner.Result{Stdout: appJSON}},
		runner.FakeResponse{Result: runner.Result{Stderr: "Unable to connect to the server: connection refused", ExitCode: 1}},
	)
	fc := clocktesting.NewFakeClock(time.Now())
	notifier := &recordingNotifier{}
	e := newTestEngine(fake, fc, notifier)
	defer e.Close()

	_, _, err := e.Get(context.Background(), appKey())
	require.NoError(t, err)

	fc.Step(40 * time.Second) // entry now 40s old against a 30s TTL
	status, stale, err := e.Get(context.Background(), appKey())
	require.NoError(t, err, "stale fallback must not propagate the fetch error")
	assert.True(t, stale)
	assert.Equal(t, types.SyncSynced, status.Sync)
	assert.Equal(t, 0, notifier.errorCount(), "no error event when stale data is served")
}

func TestGetErrorWithoutStaleEntry(t *testing.T) {
	fake := runner.NewFake(runner.FakeResponse{Result: runner.Result{
		Stderr: "Unable to connect to the server: connection refused", ExitCode: 1,
	}})
	notifier := &recordingNotifier{}
	e := newTestEngine(fake, clocktesting.NewFakeClock(time.Now()), notifier)
	defer e.Close()

	_, _, err := e.Get(context.Background(), appKey())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrConnectionFailed))
	assert.Equal(t, 1, notifier.errorCount())
}

func TestForceRefreshBypassesTTL(t *testing.T) {
	fake := runner.NewFake(runner.FakeResponse{Result: runner.Result{Stdout: appJSON}})
	e := newTestEngine(fake, clocktesting.NewFakeClock(time.Now()), nil)
	defer e.Close()

	_, _, err := e.Get(context.Background(), appKey())
	require.NoError(t, err)
	_, _, err = e.ForceRefresh(context.Background(), appKey())
	require.NoError(t, err)
	assert.Equal(t, 2, fake.CallCount())
}

func TestMutateRejectsIllegalOperation(t *testing.T) {
	fake := runner.NewFake()
	e := newTestEngine(fake, clocktesting.NewFakeClock(time.Now()), nil)
	defer e.Close()

	podKey := types.ResourceKey{Context: "prod", Kind: types.KindPod, Namespace: "default", Name: "web-0"}
	_, err := e.Mutate(context.Background(), podKey, types.OpScale, types.MutateParams{Replicas: 3})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidOperation))
	assert.Equal(t, 0, fake.CallCount(), "legality failures must never reach the runner")

	listKey := types.ResourceKey{Context: "prod", Kind: types.KindDeployment, Namespace: "default"}
	_, err = e.Mutate(context.Background(), listKey, types.OpRestart, types.MutateParams{})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidOperation))

	deployKey := types.ResourceKey{Context: "prod", Kind: types.KindDeployment, Namespace: "default", Name: "web"}
	_, err = e.Mutate(context.Background(), deployKey, types.OpScale, types.MutateParams{Replicas: -1})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidOperation))
	assert.Equal(t, 0, fake.CallCount())
}

func TestMutateFailurePreservesCache(t *testing.T) {
	fake := runner.NewFake(
		runner.FakeResponse{Result: runner.Result{Stdout: appJSON}},
		runner.FakeResponse{Result: runner.Result{Stderr: `Error from server (Forbidden): applications.argoproj.io "guestbook" is forbidden`, ExitCode: 1}},
	)
	e := newTestEngine(fake, clocktesting.NewFakeClock(time.Now()), nil)
	defer e.Close()

	_, _, err := e.Get(context.Background(), appKey())
	require.NoError(t, err)

	handle, err := e.Mutate(context.Background(), appKey(), types.OpSync, types.MutateParams{})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrPermissionDenied))
	require.NotNil(t, handle)
	assert.Equal(t, types.PhaseFailed, handle.Phase())

	// State is presumed unchanged: the cached entry must survive.
	_, _, err = e.Get(context.Background(), appKey())
	require.NoError(t, err)
	assert.Equal(t, 2, fake.CallCount(), "failed mutation must not invalidate the cache")
}

func TestMutateSynchronousOperationSettlesImmediately(t *testing.T) {
	fake := runner.NewFake(
		runner.FakeResponse{Result: runner.Result{Stdout: appJSON}},
		runner.FakeResponse{Result: runner.Result{Stdout: `application.argoproj.io/guestbook annotated`}},
		runner.FakeResponse{Result: runner.Result{Stdout: appJSON}},
	)
	notifier := &recordingNotifier{}
	recorder := &memoryRecorder{}
	e := newTestEngine(fake, clocktesting.NewFakeClock(time.Now()), notifier)
	e.recorder = recorder
	defer e.Close()

	_, _, err := e.Get(context.Background(), appKey())
	require.NoError(t, err)

	handle, err := e.Mutate(context.Background(), appKey(), types.OpRefresh, types.MutateParams{})
	require.NoError(t, err)
	assert.Equal(t, types.PhaseSucceeded, handle.Phase())
	assert.Equal(t, 1, notifier.settledCount())
	assert.Equal(t, 0, e.ActiveWatchers())

	// Invalidation happened: the next read re-fetches.
	_, _, err = e.Get(context.Background(), appKey())
	require.NoError(t, err)
	assert.Equal(t, 3, fake.CallCount())

	assert.Contains(t, fake.ArgLine(1), "annotate applications.argoproj.io guestbook argocd.argoproj.io/refresh=normal --overwrite -n argocd")

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Len(t, recorder.snaps, 2, "create + terminal transitions are recorded")
	assert.Equal(t, types.PhaseRunning, recorder.snaps[0].Phase)
	assert.Equal(t, types.PhaseSucceeded, recorder.snaps[1].Phase)
}

const scaledDeploymentJSON = `{"metadata":{"name":"web","generation":2},
	"spec":{"replicas":3},
	"status":{"observedGeneration":2,"readyReplicas":3,"updatedReplicas":3,"availableReplicas":3}}`

func TestMutateScaleStartsWatcherAndSettles(t *testing.T) {
	fake := runner.NewFake(
		runner.FakeResponse{Result: runner.Result{Stdout: `deployment.apps/web scaled`}},
		runner.FakeResponse{Result: runner.Result{Stdout: scaledDeploymentJSON}},
	)
	fc := clocktesting.NewFakeClock(time.Now())
	notifier := &recordingNotifier{}
	e := newTestEngine(fake, fc, notifier)
	defer e.Close()

	key := types.ResourceKey{Context: "prod", Kind: types.KindDeployment, Namespace: "default", Name: "web"}
	handle, err := e.Mutate(context.Background(), key, types.OpScale, types.MutateParams{Replicas: 3})
	require.NoError(t, err)
	assert.Equal(t, types.PhaseRunning, handle.Phase())
	assert.Equal(t, 1, e.ActiveWatchers())
	assert.Contains(t, fake.ArgLine(0), "scale deployments web --replicas=3 -n default")

	// First tick fetches the settled deployment.
	waitForClockWaiters(t, fc)
	fc.Step(2 * time.Second)
	waitForPhase(t, handle, types.PhaseSucceeded)

	waitForSettledCount(t, notifier, 1)
	waitForWatcherCount(t, e, 0)
}

func TestCancelOperation(t *testing.T) {
	fake := runner.NewFake(
		runner.FakeResponse{Result: runner.Result{Stdout: `deployment.apps/web scaled`}},
		// Never settles: still rolling.
		runner.FakeResponse{Result: runner.Result{Stdout: `{"metadata":{"generation":2},"spec":{"replicas":3},"status":{"observedGeneration":2,"readyReplicas":1,"updatedReplicas":1}}`}},
	)
	fc := clocktesting.NewFakeClock(time.Now())
	e := newTestEngine(fake, fc, nil)
	defer e.Close()

	key := types.ResourceKey{Context: "prod", Kind: types.KindDeployment, Namespace: "default", Name: "web"}
	handle, err := e.Mutate(context.Background(), key, types.OpScale, types.MutateParams{Replicas: 3})
	require.NoError(t, err)

	require.True(t, e.CancelOperation(handle.ID))
	waitForPhase(t, handle, types.PhaseFailed)
	waitForWatcherCount(t, e, 0)
	assert.False(t, e.CancelOperation(handle.ID), "watcher is gone after settling")
	assert.False(t, e.CancelOperation(99999))
}

func TestMutateDeploymentInvalidatesDependentPods(t *testing.T) {
	podListJSON := `{"items":[{"metadata":{"name":"web-1","namespace":"default"},"status":{"phase":"Running"}}]}`
	fake := runner.NewFake(
		runner.FakeResponse{Result: runner.Result{Stdout: podListJSON}},
		runner.FakeResponse{Result: runner.Result{Stdout: `deployment.apps "web" deleted`}},
		runner.FakeResponse{Result: runner.Result{Stdout: podListJSON}},
	)
	e := newTestEngine(fake, clocktesting.NewFakeClock(time.Now()), nil)
	defer e.Close()

	podList := types.ResourceKey{Context: "prod", Kind: types.KindPod, Namespace: "default"}
	_, _, err := e.Get(context.Background(), podList)
	require.NoError(t, err)

	deployKey := types.ResourceKey{Context: "prod", Kind: types.KindDeployment, Namespace: "default", Name: "web"}
	_, err = e.Mutate(context.Background(), deployKey, types.OpDelete, types.MutateParams{})
	require.NoError(t, err)

	_, _, err = e.Get(context.Background(), podList)
	require.NoError(t, err)
	assert.Equal(t, 3, fake.CallCount(), "pod list cached under the deployment must be re-fetched after delete")
}

func waitForClockWaiters(t *testing.T, fc *clocktesting.FakeClock) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !fc.HasWaiters() {
		if time.Now().After(deadline) {
			t.Fatal("watcher never armed its interval timer")
		}
		time.Sleep(time.Millisecond)
	}
}

func waitForPhase(t *testing.T, h *types.OperationHandle, want types.OperationPhase) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.Phase() != want {
		if time.Now().After(deadline) {
			t.Fatalf("operation stuck in %s, want %s", h.Phase(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitForSettledCount(t *testing.T, r *recordingNotifier, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for r.settledCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("settled notifications stuck at %d, want %d", r.settledCount(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitForWatcherCount(t *testing.T, e *Engine, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for e.ActiveWatchers() != want {
		if time.Now().After(deadline) {
			t.Fatalf("watcher count stuck at %d, want %d", e.ActiveWatchers(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

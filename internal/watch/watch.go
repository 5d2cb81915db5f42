// Package watch drives a mutating operation to settlement: it re-fetches the
// resource's live status on a fixed interval until the settlement predicate
// holds, the timeout elapses, or the consumer cancels. The state machine is
// Running -> Succeeded | Failed | TimedOut, all terminal, entered exactly once.
package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/kube9/statuscore/internal/settle"
	"github.com/kube9/statuscore/internal/types"
)

// ErrCanceled marks a watcher stopped by its consumer. The cluster-side
// operation keeps progressing independently.
var ErrCanceled = errors.New("operation watch canceled")

// FetchFunc returns a live (cache-bypassing) status sample for the watched key.
type FetchFunc func(ctx context.Context) (types.NormalizedStatus, error)

type Config struct {
	Handle    *types.OperationHandle
	Fetch     FetchFunc
	IsSettled settle.Predicate
	Interval  time.Duration
	Timeout   time.Duration
	Clock     clock.Clock
	Notifier  types.Notifier

	// OnTerminal runs once, before the settled notification, whichever path
	// (tick, timeout, cancel) wins the terminal transition. The engine hangs
	// cache invalidation here.
	OnTerminal func(h *types.OperationHandle)
}

type Watcher struct {
	cfg Config

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func New(cfg Config) *Watcher {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = types.NoopNotifier{}
	}
	return &Watcher{
		cfg:    cfg,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Cancel cooperatively stops the watcher. It is safe to call multiple times
// and from any goroutine; the current tick, if one is mid-fetch, finishes.
func (w *Watcher) Cancel() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Done closes once the watcher has reached a terminal state.
func (w *Watcher) Done() <-chan struct{} { return w.done }

// Run blocks until terminal. Callers usually run it in a goroutine.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.done)

	deadline := w.cfg.Clock.Now().Add(w.cfg.Timeout)
	for {
		select {
		case <-ctx.Done():
			w.terminate(types.PhaseFailed, ErrCanceled)
			return
		case <-w.stopCh:
			w.terminate(types.PhaseFailed, ErrCanceled)
			return
		case <-w.cfg.Clock.After(w.cfg.Interval):
		}

		// Cancellation is checked again at the top of the tick so a Cancel
		// racing the interval timer never costs another fetch.
		select {
		case <-ctx.Done():
			w.terminate(types.PhaseFailed, ErrCanceled)
			return
		case <-w.stopCh:
			w.terminate(types.PhaseFailed, ErrCanceled)
			return
		default:
		}

		status, err := w.cfg.Fetch(ctx)
		if err != nil {
			// Transient fetch failures do not kill the watcher; the
			// operation may still be progressing server-side.
			klog.V(2).InfoS("watch tick fetch failed", "operation", w.cfg.Handle.ID, "key", w.cfg.Handle.Key, "err", err)
		} else {
			out := w.cfg.IsSettled(status)
			if out.Settled {
				if out.Failed {
					w.terminate(types.PhaseFailed, errors.New(out.Reason))
				} else {
					w.terminate(types.PhaseSucceeded, nil)
				}
				return
			}
		}

		w.cfg.Notifier.OperationProgress(w.cfg.Handle.Snapshot(), status)

		if !w.cfg.Clock.Now().Before(deadline) {
			w.terminate(types.PhaseTimedOut, nil)
			return
		}
	}
}

// terminate performs the one-time terminal transition. Losing a race against
// another terminate call is a no-op: no second invalidation, no second
// settled notification.
func (w *Watcher) terminate(phase types.OperationPhase, err error) {
	if !w.cfg.Handle.Settle(phase, err) {
		return
	}
	if w.cfg.OnTerminal != nil {
		w.cfg.OnTerminal(w.cfg.Handle)
	}
	w.cfg.Notifier.OperationSettled(w.cfg.Handle.Snapshot())
}

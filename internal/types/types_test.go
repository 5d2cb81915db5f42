package types

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceKeyString(t *testing.T) {
	key := ResourceKey{Context: "prod", Kind: KindApplication, Namespace: "argocd", Name: "guestbook"}
	assert.Equal(t, "Application:prod:argocd:guestbook", key.String())

	list := ResourceKey{Context: "prod", Kind: KindDeployment}
	assert.Equal(t, "Deployment:prod:*:*", list.String())

	assert.Equal(t, "Application:prod:argocd:*", key.ListKey().String())
}

func TestOperationHandleSettleOnce(t *testing.T) {
	h := NewOperationHandle(1, ResourceKey{Context: "c", Kind: KindDeployment, Namespace: "default", Name: "web"}, OpScale, time.Now())
	require.Equal(t, PhaseRunning, h.Phase())

	require.True(t, h.Settle(PhaseSucceeded, nil))
	assert.False(t, h.Settle(PhaseTimedOut, nil), "second transition must be rejected")
	assert.Equal(t, PhaseSucceeded, h.Phase())
	assert.NoError(t, h.Err())
}

func TestOperationHandleSettleIgnoresNonTerminal(t *testing.T) {
	h := NewOperationHandle(2, ResourceKey{}, OpSync, time.Now())
	assert.False(t, h.Settle(PhaseRunning, nil))
	assert.Equal(t, PhaseRunning, h.Phase())
}

func TestOperationHandleSettleConcurrent(t *testing.T) {
	h := NewOperationHandle(3, ResourceKey{}, OpRestart, time.Now())

	var wg sync.WaitGroup
	wins := make(chan OperationPhase, 10)
	for i := 0; i < 10; i++ {
		phase := PhaseSucceeded
		if i%2 == 1 {
			phase = PhaseTimedOut
		}
		wg.Add(1)
		go func(p OperationPhase) {
			defer wg.Done()
			if h.Settle(p, nil) {
				wins <- p
			}
		}(phase)
	}
	wg.Wait()
	close(wins)

	var winners []OperationPhase
	for p := range wins {
		winners = append(winners, p)
	}
	require.Len(t, winners, 1, "exactly one goroutine may perform the terminal transition")
	assert.Equal(t, winners[0], h.Phase())
}

func TestOperationSnapshotCarriesError(t *testing.T) {
	h := NewOperationHandle(4, ResourceKey{Kind: KindApplication, Name: "guestbook"}, OpSync, time.Now())
	h.Settle(PhaseFailed, errors.New("sync phase Failed"))

	snap := h.Snapshot()
	assert.Equal(t, PhaseFailed, snap.Phase)
	assert.Equal(t, "sync phase Failed", snap.Error)
}

func TestStatusErrorCodeMatching(t *testing.T) {
	key := ResourceKey{Context: "c", Kind: KindPod, Namespace: "default", Name: "p"}
	base := NewStatusError(ErrNotFound, &key, "pods %q not found", "p")

	assert.True(t, IsCode(base, ErrNotFound))
	assert.False(t, IsCode(base, ErrTimeout))
	assert.Equal(t, ErrNotFound, CodeOf(base))

	wrapped := fmt.Errorf("fetch failed: %w", base)
	assert.True(t, IsCode(wrapped, ErrNotFound))
	assert.Equal(t, ErrUnknown, CodeOf(errors.New("plain")))
}

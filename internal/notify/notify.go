// Package notify turns engine notifications into journaled events and fans
// them out to subscribers.
package notify

import (
	"sync"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/kube9/statuscore/internal/types"
)

// EventSink is the slice of the history store the journal needs.
type EventSink interface {
	RecordEvent(ev types.Event) error
}

// Journal implements types.Notifier. Every notification becomes an event,
// written to the sink and delivered to all subscribers. Slow subscribers
// have events dropped rather than blocking the engine.
type Journal struct {
	sink  EventSink
	clock clock.PassiveClock

	mu     sync.RWMutex
	nextID int
	subs   map[int]chan types.Event
}

func NewJournal(sink EventSink, c clock.PassiveClock) *Journal {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Journal{
		sink:  sink,
		clock: c,
		subs:  make(map[int]chan types.Event),
	}
}

// Subscribe returns a channel of future events and a cancel function. The
// channel is closed on cancel.
func (j *Journal) Subscribe(buffer int) (<-chan types.Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan types.Event, buffer)

	j.mu.Lock()
	id := j.nextID
	j.nextID++
	j.subs[id] = ch
	j.mu.Unlock()

	cancel := func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if sub, ok := j.subs[id]; ok {
			delete(j.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (j *Journal) DataUpdated(key types.ResourceKey) {
	j.publish(types.Event{
		Type: types.EventDataUpdated,
		Key:  key,
		Time: j.clock.Now(),
	})
}

func (j *Journal) OperationProgress(op types.OperationSnapshot, status types.NormalizedStatus) {
	j.publish(types.Event{
		Type:      types.EventOperationProgress,
		Key:       op.Key,
		Operation: &op,
		Time:      j.clock.Now(),
	})
}

func (j *Journal) OperationSettled(op types.OperationSnapshot) {
	j.publish(types.Event{
		Type:      types.EventOperationSettled,
		Key:       op.Key,
		Operation: &op,
		Error:     op.Error,
		Time:      j.clock.Now(),
	})
}

func (j *Journal) Error(key types.ResourceKey, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	j.publish(types.Event{
		Type:  types.EventError,
		Key:   key,
		Error: msg,
		Time:  j.clock.Now(),
	})
}

func (j *Journal) publish(ev types.Event) {
	if j.sink != nil {
		if err := j.sink.RecordEvent(ev); err != nil {
			klog.ErrorS(err, "failed to journal event", "type", ev.Type, "key", ev.Key)
		}
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, ch := range j.subs {
		select {
		case ch <- ev:
		default:
			klog.V(2).InfoS("dropping event for slow subscriber", "type", ev.Type, "key", ev.Key)
		}
	}
}

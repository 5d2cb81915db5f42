package types

import "time"

// Notifier is the change-notification boundary presentation layers register
// against. The core invokes it synchronously from whatever goroutine produced
// the event; receivers that need decoupling do their own queuing.
type Notifier interface {
	DataUpdated(key ResourceKey)
	OperationProgress(op OperationSnapshot, status NormalizedStatus)
	OperationSettled(op OperationSnapshot)
	Error(key ResourceKey, err error)
}

type EventType string

const (
	EventDataUpdated       EventType = "dataUpdated"
	EventOperationProgress EventType = "operationProgress"
	EventOperationSettled  EventType = "operationSettled"
	EventError             EventType = "error"
)

// Event is the journaled form of a notification.
type Event struct {
	Type      EventType          `json:"type"`
	Key       ResourceKey        `json:"key"`
	Operation *OperationSnapshot `json:"operation,omitempty"`
	Error     string             `json:"error,omitempty"`
	Time      time.Time          `json:"time"`
}

// NoopNotifier discards all notifications. Useful as a default and in tests
// that do not assert on events.
type NoopNotifier struct{}

func (NoopNotifier) DataUpdated(ResourceKey)                               {}
func (NoopNotifier) OperationProgress(OperationSnapshot, NormalizedStatus) {}
func (NoopNotifier) OperationSettled(OperationSnapshot)                    {}
func (NoopNotifier) Error(ResourceKey, error)                              {}

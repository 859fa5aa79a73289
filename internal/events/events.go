// Package events implements the task runtime's event bus: a fire-and-forget
// fan-out of task lifecycle notifications to whatever external UI is
// currently subscribed. Publishing never blocks on a slow subscriber — a
// full subscriber queue drops its oldest entry rather than stall the
// publisher, the same tradeoff wingthing's PTYRoutes makes for browser
// fan-out (a disconnected or slow client never blocks wing→browser
// forwarding).
package events

import (
	"log/slog"
	"sync"
)

// Kind identifies one of the four event types the runtime emits.
type Kind string

const (
	KindStatusChanged Kind = "task_status_changed"
	KindOutput        Kind = "task_terminal_output"
	KindExit          Kind = "task_terminal_exit"
	KindDiffChanged   Kind = "task_diff_changed"
)

// Event is the envelope delivered to every subscriber. Only the field
// matching Kind is populated.
type Event struct {
	Kind Kind

	TaskID string

	StatusChanged *StatusChangedPayload
	Output        *OutputPayload
	Exit          *ExitPayload
	DiffChanged   *DiffChangedPayload
}

type StatusChangedPayload struct {
	Status string
}

// TerminalKind distinguishes a task's primary agent PTY from its auxiliary
// worktree shell PTY — the two streams a client can subscribe to per task.
type TerminalKind string

const (
	TerminalAgent    TerminalKind = "agent"
	TerminalWorktree TerminalKind = "worktree"
)

type OutputPayload struct {
	Kind TerminalKind
	Data []byte
}

type ExitPayload struct {
	Kind TerminalKind
	Code int
}

type DiffChangedPayload struct{}

const subscriberQueueSize = 256

// subscriber is one registered listener's bounded mailbox.
type subscriber struct {
	id string
	ch chan Event
}

// Bus fans out published events to every active subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	log         *slog.Logger
}

// NewBus creates an empty event bus.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string]*subscriber),
		log:         log,
	}
}

// Subscribe registers a new listener under id, replacing any prior
// subscriber with the same id. It returns the channel to receive from and
// an Unsubscribe func to call when the listener goes away.
func (b *Bus) Subscribe(id string) (<-chan Event, func()) {
	sub := &subscriber{id: id, ch: make(chan Event, subscriberQueueSize)}

	b.mu.Lock()
	b.subscribers[id] = sub
	b.mu.Unlock()

	return sub.ch, func() { b.unsubscribe(id, sub) }
}

func (b *Bus) unsubscribe(id string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[id] == sub {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}

// Publish delivers ev to every current subscriber without blocking. A
// subscriber whose queue is full has its oldest pending event dropped to
// make room — the bus logs this at warn level so a consistently slow
// subscriber is visible in logs without any publisher ever stalling on it.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
				b.log.Warn("event bus: dropped oldest event, subscriber queue full", "subscriber", sub.id, "event_kind", ev.Kind)
			default:
			}
			select {
			case sub.ch <- ev:
			default:
				b.log.Warn("event bus: dropping event, subscriber queue full", "subscriber", sub.id, "event_kind", ev.Kind)
			}
		}
	}
}

// PublishStatusChanged is a convenience wrapper for the status event.
func (b *Bus) PublishStatusChanged(taskID, status string) {
	b.Publish(Event{Kind: KindStatusChanged, TaskID: taskID, StatusChanged: &StatusChangedPayload{Status: status}})
}

// PublishOutput is a convenience wrapper for the terminal-output event.
func (b *Bus) PublishOutput(taskID string, kind TerminalKind, chunk []byte) {
	b.Publish(Event{Kind: KindOutput, TaskID: taskID, Output: &OutputPayload{Kind: kind, Data: chunk}})
}

// PublishExit is a convenience wrapper for the terminal-exit event.
func (b *Bus) PublishExit(taskID string, kind TerminalKind, code int) {
	b.Publish(Event{Kind: KindExit, TaskID: taskID, Exit: &ExitPayload{Kind: kind, Code: code}})
}

// PublishDiffChanged is a convenience wrapper for the diff-changed event.
func (b *Bus) PublishDiffChanged(taskID string) {
	b.Publish(Event{Kind: KindDiffChanged, TaskID: taskID, DiffChanged: &DiffChangedPayload{}})
}

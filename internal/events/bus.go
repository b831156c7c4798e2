// Package events is the in-process publish/subscribe bus fanning core events
// (store mutations, broker activity) out to transports. Publishing never
// blocks: every subscriber owns a bounded mailbox, and a subscriber that
// falls behind far enough to overflow it is dropped.
package events

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names emitted by the core.
const (
	ComponentCreated = "component-created"
	ComponentUpdated = "component-updated"
	ComponentDeleted = "component-deleted"

	RelationshipCreated = "relationship-created"

	TaskCreated = "task-created"
	TaskUpdated = "task-updated"

	ComponentsBulkCreated    = "components-bulk-created"
	RelationshipsBulkCreated = "relationships-bulk-created"
	TasksBulkCreated         = "tasks-bulk-created"

	CommandQueued      = "command-queued"
	CommandDelivered   = "command-delivered"
	AgentWaiting       = "agent-waiting"
	AgentWaitCancelled = "agent-wait-cancelled"
)

// DefaultMailboxSize bounds each subscriber's mailbox unless overridden.
const DefaultMailboxSize = 256

// Event is one published occurrence.
type Event struct {
	Name      string      `json:"name"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Subscription is one subscriber's handle. Drain C until it closes; the bus
// closes it on Unsubscribe, on bus Close, or when the mailbox overflows.
type Subscription struct {
	ID string
	C  <-chan Event

	names map[string]bool
	ch    chan Event
	once  sync.Once
}

func (s *Subscription) wants(name string) bool {
	return len(s.names) == 0 || s.names[name]
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Bus is the process-wide event bus.
type Bus struct {
	mu          sync.RWMutex
	subs        map[string]*Subscription
	mailboxSize int
	closed      bool
}

// NewBus returns a bus with the given per-subscriber mailbox bound;
// non-positive means DefaultMailboxSize.
func NewBus(mailboxSize int) *Bus {
	if mailboxSize <= 0 {
		mailboxSize = DefaultMailboxSize
	}
	return &Bus{subs: map[string]*Subscription{}, mailboxSize: mailboxSize}
}

// Subscribe registers interest in the named events; no names means every
// event.
func (b *Bus) Subscribe(names ...string) *Subscription {
	nameSet := make(map[string]bool, len(names))
	for _, n := range names {
		nameSet[n] = true
	}
	ch := make(chan Event, b.mailboxSize)
	sub := &Subscription{ID: uuid.New().String(), C: ch, names: nameSet, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.close()
		return sub
	}
	b.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Idempotent.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Publish delivers the event to every interested subscriber without
// blocking. A subscriber whose mailbox is full is dropped.
func (b *Bus) Publish(name string, payload interface{}) {
	event := Event{Name: name, Payload: payload, Timestamp: time.Now().UTC()}

	b.mu.RLock()
	var overflowed []string
	for id, sub := range b.subs {
		if !sub.wants(name) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			overflowed = append(overflowed, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range overflowed {
		log.Printf("event bus: subscriber %s mailbox full, dropping subscriber", id)
		b.Unsubscribe(id)
	}
}

// Close drops every subscriber and rejects further subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = map[string]*Subscription{}
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// SubscriberCount reports how many subscribers are registered.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

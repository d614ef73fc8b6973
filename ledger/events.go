package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/facturo/ledger/models"
)

// EntityKind identifies what a change event is about.
type EntityKind string

const (
	EntityPayment  EntityKind = "payment"
	EntityDocument EntityKind = "document"
)

// Operation identifies what happened to the entity.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Event is a change notification emitted after a ledger transaction commits.
type Event struct {
	ID      string     `json:"id"`
	Entity  EntityKind `json:"entity"`
	Op      Operation  `json:"op"`
	Payload any        `json:"payload"`
	At      time.Time  `json:"at"`
}

// DocumentChange is the payload of document events: the reconciled figures
// after the operation that produced the event.
type DocumentChange struct {
	DocumentID int           `json:"document_id"`
	Status     models.Status `json:"status"`
	Paid       models.Money  `json:"paid"`
	Remaining  models.Money  `json:"remaining"`
}

// Broker fans change events out to subscribers. Delivery is fire-and-forget:
// Publish never blocks, and a subscriber that falls behind loses events
// rather than stalling the publisher. Subscribers are expected to re-read
// state they care about, not to replay a complete event log.
type Broker struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns its id and channel. The
// channel is closed on Unsubscribe.
func (b *Broker) Subscribe(buffer int) (int, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	ch := make(chan Event, buffer)
	b.subs[b.next] = ch
	return b.next, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers an event to every subscriber that has room for it.
func (b *Broker) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Package events is the in-process notification channel for session
// lifecycle transitions. Delivery is synchronous, on the publisher's
// goroutine, in subscription order.
package events

import (
	"log"
	"sync"
	"time"

	"github.com/wakala/paybytransfer/internal/domain"
)

type Signal string

const (
	SessionCreated   Signal = "session.created"
	PaymentConfirmed Signal = "payment.confirmed"
	PaymentExpired   Signal = "payment.expired"
	PaymentUnmatched Signal = "payment.unmatched"
	Error            Signal = "error"
)

// Signals lists every signal the bus carries.
var Signals = []Signal{SessionCreated, PaymentConfirmed, PaymentExpired, PaymentUnmatched, Error}

// Event is what subscribers receive. Session is set for lifecycle signals,
// Transfer for payment.unmatched and Err for error.
type Event struct {
	Signal   Signal
	Session  *domain.Session
	Transfer *domain.TransferEvent
	Err      error
	At       time.Time
}

type Handler func(Event)

type subscription struct {
	id     int
	signal Signal // empty matches every signal
	fn     Handler
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID int
	now    func() time.Time
}

func NewBus() *Bus {
	return &Bus{now: time.Now}
}

// Subscribe registers fn for one signal and returns a function that removes
// the subscription.
func (b *Bus) Subscribe(sig Signal, fn Handler) (unsubscribe func()) {
	return b.add(sig, fn)
}

// SubscribeAll registers fn for every signal.
func (b *Bus) SubscribeAll(fn Handler) (unsubscribe func()) {
	return b.add("", fn)
}

func (b *Bus) add(sig Signal, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, signal: sig, fn: fn})
	return func() { b.remove(id) }
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers evt to every matching subscriber before returning. A
// subscriber that panics is logged and skipped.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = b.now()
	}

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.signal == "" || s.signal == evt.Signal {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		deliver(s, evt)
	}
}

func deliver(s subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[events] WARNING: subscriber %d panicked on %s: %v", s.id, evt.Signal, r)
		}
	}()
	s.fn(evt)
}

// --- convenience publishers ---

func (b *Bus) PublishSession(sig Signal, s domain.Session) {
	b.Publish(Event{Signal: sig, Session: &s})
}

func (b *Bus) PublishUnmatched(t domain.TransferEvent) {
	b.Publish(Event{Signal: PaymentUnmatched, Transfer: &t})
}

func (b *Bus) PublishError(err error) {
	b.Publish(Event{Signal: Error, Err: err})
}

package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// ErrWaitTimeout is returned by WaitFor when no matching event arrived in time
var ErrWaitTimeout = errors.New("timed out waiting for event")

const defaultRecentEvents = 512

// Handler receives a dispatched event
type Handler func(Event)

// Matcher filters events for a subscription
type Matcher func(Event) bool

// ForTransaction matches events of one transfer
func ForTransaction(txID string) Matcher {
	return func(ev Event) bool {
		return strings.EqualFold(ev.TransactionID, txID)
	}
}

type subscription struct {
	owner   string
	kind    EventKind
	match   Matcher
	handler Handler
}

// Subscription is a registered handler. Cancel detaches it.
type Subscription struct {
	hub  *Hub
	id   uint64
	once sync.Once
}

// Cancel detaches the handler; safe to call more than once
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
	})
}

// Hub demultiplexes the shared event stream to per-route subscribers.
// Recent events are kept so a waiter that subscribes late still sees them.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
	recent *lru.Cache[string, Event]
	log    *logrus.Entry
}

// NewHub creates a hub remembering up to recent events
func NewHub(recent int, log *logrus.Entry) *Hub {
	if recent <= 0 {
		recent = defaultRecentEvents
	}
	cache, err := lru.New[string, Event](recent)
	if err != nil {
		panic(err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Hub{
		subs:   make(map[uint64]*subscription),
		recent: cache,
		log:    log,
	}
}

// Subscribe registers handler for events of kind accepted by match. An
// empty kind subscribes to every kind; a nil match accepts every event.
func (h *Hub) Subscribe(owner string, kind EventKind, match Matcher, handler Handler) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.subs[h.nextID] = &subscription{
		owner:   owner,
		kind:    kind,
		match:   match,
		handler: handler,
	}
	return &Subscription{hub: h, id: h.nextID}
}

// Release detaches every subscription of owner
func (h *Hub) Release(owner string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		if sub.owner == owner {
			delete(h.subs, id)
		}
	}
}

// Subscribers returns the number of subscriptions held by owner
func (h *Hub) Subscribers(owner string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, sub := range h.subs {
		if sub.owner == owner {
			n++
		}
	}
	return n
}

// Publish records ev and dispatches it to matching subscribers
func (h *Hub) Publish(ev Event) {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	h.recent.Add(string(ev.Kind)+":"+strings.ToLower(ev.TransactionID), ev)

	h.mu.Lock()
	handlers := make([]Handler, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.kind != "" && sub.kind != ev.Kind {
			continue
		}
		if sub.match != nil && !sub.match(ev) {
			continue
		}
		handlers = append(handlers, sub.handler)
	}
	h.mu.Unlock()

	for _, handler := range handlers {
		handler(ev)
	}
}

// Run dispatches events from src until it closes or ctx is done
func (h *Hub) Run(ctx context.Context, src <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-src:
			if !ok {
				h.log.Debug("event stream closed")
				return
			}
			h.log.WithFields(logrus.Fields{
				"event": ev.Kind,
				"txid":  ev.TransactionID,
			}).Debug("event received")
			h.Publish(ev)
		}
	}
}

// Recent returns a remembered event of kind accepted by match
func (h *Hub) Recent(kind EventKind, match Matcher) (Event, bool) {
	for _, ev := range h.recent.Values() {
		if ev.Kind == kind && (match == nil || match(ev)) {
			return ev, true
		}
	}
	return Event{}, false
}

// WaitFor blocks until an event of kind accepted by match arrives, timeout
// elapses or ctx is done. Remembered events satisfy the wait immediately.
func (h *Hub) WaitFor(ctx context.Context, owner string, kind EventKind, timeout time.Duration, match Matcher) (Event, error) {
	ch := make(chan Event, 1)
	sub := h.Subscribe(owner, kind, match, func(ev Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	defer sub.Cancel()

	if ev, ok := h.Recent(kind, match); ok {
		return ev, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-ch:
		return ev, nil
	case <-timer.C:
		return Event{}, ErrWaitTimeout
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

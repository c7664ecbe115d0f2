// Package progress fans ingestion progress events out to live subscribers,
// keyed by document and then by user.
package progress

import (
	"log"
	"sync"
	"time"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

const (
	defaultBuffer = 16
	// terminal events are kept this long for late pollers, then dropped
	defaultRetention = 10 * time.Minute
)

type key struct {
	doc  string
	user string
}

// Hub is the subscriber registry. Subscribe, unsubscribe and publish all run
// under one lock, and publishing never blocks on a subscriber.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[string]map[*Subscription]struct{}
	latest map[key]models.Progress
	buffer int
	retain time.Duration
}

var _ core.ProgressPublisher = (*Hub)(nil)

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[string]map[*Subscription]struct{}),
		latest: make(map[key]models.Progress),
		buffer: buffer,
		retain: defaultRetention,
	}
}

// Subscription receives events on C until Close is called or the subscriber
// falls too far behind, in which case C is closed by the hub.
type Subscription struct {
	C <-chan models.Progress

	ch   chan models.Progress
	hub  *Hub
	doc  string
	user string
	open bool
}

// Subscribe registers a subscriber. The latest known event for the pair, if
// any, is delivered first.
func (h *Hub) Subscribe(docID, userID string) *Subscription {
	ch := make(chan models.Progress, h.buffer)
	s := &Subscription{C: ch, ch: ch, hub: h, doc: docID, user: userID, open: true}

	h.mu.Lock()
	defer h.mu.Unlock()

	users, ok := h.subs[docID]
	if !ok {
		users = make(map[string]map[*Subscription]struct{})
		h.subs[docID] = users
	}
	set, ok := users[userID]
	if !ok {
		set = make(map[*Subscription]struct{})
		users[userID] = set
	}
	set[s] = struct{}{}

	if ev, ok := h.latest[key{docID, userID}]; ok {
		ch <- ev
	}
	return s
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.removeLocked(s)
}

func (h *Hub) removeLocked(s *Subscription) {
	if !s.open {
		return
	}
	s.open = false
	close(s.ch)

	users := h.subs[s.doc]
	if users == nil {
		return
	}
	set := users[s.user]
	delete(set, s)
	if len(set) == 0 {
		delete(users, s.user)
	}
	if len(users) == 0 {
		delete(h.subs, s.doc)
	}
}

// Publish delivers ev to every subscriber of (ev.DocumentID, ev.UserID).
// A subscriber whose buffer is full is dropped; the others still get the event.
func (h *Hub) Publish(ev models.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()

	k := key{ev.DocumentID, ev.UserID}
	h.latest[k] = ev
	if ev.Terminal {
		time.AfterFunc(h.retain, func() { h.evict(k) })
	}

	for s := range h.subs[ev.DocumentID][ev.UserID] {
		select {
		case s.ch <- ev:
		default:
			log.Printf("progress: dropping slow subscriber for document %s", ev.DocumentID)
			h.removeLocked(s)
		}
	}
}

// evict forgets the last event of k if it is still the terminal one.
func (h *Hub) evict(k key) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ev, ok := h.latest[k]; ok && ev.Terminal {
		delete(h.latest, k)
	}
}

// Latest returns the most recent event for the pair.
func (h *Hub) Latest(docID, userID string) (models.Progress, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev, ok := h.latest[key{docID, userID}]
	return ev, ok
}

// Subscribers returns the number of live subscribers for the pair.
func (h *Hub) Subscribers(docID, userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[docID][userID])
}

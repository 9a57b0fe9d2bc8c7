// Package events implements the SSE fan-out described in spec §4.10/§9:
// a set of subscribers, each event written to every subscriber, with
// write-failing subscribers removed. No replay — new subscribers only
// see future events.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"nvr/internal/model"
)

// Subscriber receives marshaled SSE event bodies (one JSON line each).
type Subscriber struct {
	id string
	ch chan []byte
}

// Broadcaster owns the live subscriber set.
type Broadcaster struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[string]*Subscriber
}

func New(log *slog.Logger) *Broadcaster {
	return &Broadcaster{log: log, subs: make(map[string]*Subscriber)}
}

// Subscribe registers a new client and returns its channel plus an
// unsubscribe func. The channel is buffered so one slow write doesn't
// stall the publisher; if the buffer fills, the subscriber is dropped.
func (b *Broadcaster) Subscribe() (*Subscriber, func()) {
	s := &Subscriber{id: uuid.New().String(), ch: make(chan []byte, 32)}
	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()

	return s, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[s.id]; !ok {
			// Already removed (and closed) by Publish's drop-on-full path
			// or by Drain.
			return
		}
		delete(b.subs, s.id)
		close(s.ch)
	}
}

// Chan exposes the subscriber's event channel for the HTTP handler's
// write loop.
func (s *Subscriber) Chan() <-chan []byte { return s.ch }

// Publish marshals evt and writes it to every live subscriber. Events
// for a given movement key are published in call order by the caller
// (movement.Tracker / detect.Worker), which preserves the
// new -> update* -> complete ordering guarantee (§5).
func (b *Broadcaster) Publish(t model.SSEEventType, m *model.Movement) {
	payload, err := json.Marshal(model.SSEEvent{Type: t, Movement: m})
	if err != nil {
		b.log.Error("marshaling SSE event", "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subs {
		select {
		case s.ch <- payload:
		default:
			b.log.Warn("dropping slow SSE subscriber", "id", id)
			delete(b.subs, id)
			close(s.ch)
		}
	}
}

// Drain closes every subscriber's channel, used on shutdown.
func (b *Broadcaster) Drain() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}

package auth

import (
	"context"
	"sync"
	"time"
)

// EventKind labels a user-state change published by the Manager.
type EventKind string

const (
	EventSignedIn  EventKind = "signed_in"
	EventSignedOut EventKind = "signed_out"
	EventRefreshed EventKind = "refreshed"
)

// Event is a push-style notification that a user's authentication state
// changed. Live clients subscribe and re-render on delivery.
type Event struct {
	Kind      EventKind
	UserID    string
	SessionID string
	At        time.Time
}

const subscriberBuffer = 16

// hub fans events out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event rather than stalling login paths.
type hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[chan Event]struct{})}
}

func (h *hub) subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
		close(ch)
	}()

	return ch
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

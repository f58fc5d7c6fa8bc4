package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Event is what subscribers of the Broker receive.
type Event struct {
	Ref          string `json:"ref"`
	Notification `json:"notification"`
}

type subscription struct {
	userID string
}

// Broker fans notifications out to in-process subscribers such as the SSE
// stream of the HTTP gateway. A subscription with an empty user id observes
// everything; one with a user id receives that user's direct notifications.
//
// Channel notifications are delivered when the channel is known. User
// notifications are delivered only when at least one subscription of that
// user took the message; otherwise the user is unreachable.
type Broker struct {
	mu       sync.RWMutex
	clients  map[chan string]subscription
	channels map[string]struct{}
}

// NewBroker creates a broker. With no channels every channel is accepted.
func NewBroker(channels ...string) *Broker {
	b := &Broker{
		clients:  make(map[chan string]subscription),
		channels: make(map[string]struct{}),
	}
	for _, c := range channels {
		if c != "" {
			b.channels[c] = struct{}{}
		}
	}
	return b
}

func (b *Broker) Subscribe(userID string) chan string {
	ch := make(chan string, 16)
	b.mu.Lock()
	b.clients[ch] = subscription{userID: userID}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(ch chan string) {
	b.mu.Lock()
	_, ok := b.clients[ch]
	delete(b.clients, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (b *Broker) Deliver(_ context.Context, n Notification) (string, bool) {
	if n.Recipient.Kind == RecipientChannel && !b.knownChannel(n.Recipient.ID) {
		return "", false
	}

	ev := Event{Ref: uuid.NewString(), Notification: n}
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", false
	}
	msg := string(payload)

	reached := false
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, sub := range b.clients {
		direct := n.Recipient.Kind == RecipientUser && sub.userID == n.Recipient.ID
		if sub.userID != "" && !direct {
			continue
		}
		select {
		case ch <- msg:
			if direct {
				reached = true
			}
		default:
		}
	}

	if n.Recipient.Kind == RecipientUser && !reached {
		return "", false
	}
	return ev.Ref, true
}

func (b *Broker) knownChannel(id string) bool {
	if id == "" {
		return false
	}
	if len(b.channels) == 0 {
		return true
	}
	_, ok := b.channels[id]
	return ok
}

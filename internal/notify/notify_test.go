package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func receive(t *testing.T, ch chan string) Event {
	t.Helper()
	select {
	case msg := <-ch:
		var ev Event
		if err := json.Unmarshal([]byte(msg), &ev); err != nil {
			t.Fatalf("failed to parse message: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Event{}
}

func TestBrokerChannelDeliveryReachesObservers(t *testing.T) {
	b := NewBroker("review")
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	ref, ok := b.Deliver(context.Background(), Notification{
		Kind:      KindSubmissionReceived,
		Recipient: Channel("review"),
		RecordID:  "LASD-DST001",
		Summary:   "submitted",
	})
	if !ok || ref == "" {
		t.Fatalf("expected delivery with ref, got ok=%v ref=%q", ok, ref)
	}

	ev := receive(t, ch)
	if ev.Ref != ref {
		t.Errorf("expected ref %q, got %q", ref, ev.Ref)
	}
	if ev.RecordID != "LASD-DST001" {
		t.Errorf("expected record LASD-DST001, got %q", ev.RecordID)
	}
}

func TestBrokerUnknownChannel(t *testing.T) {
	b := NewBroker("review")
	if _, ok := b.Deliver(context.Background(), Notification{Recipient: Channel("elsewhere")}); ok {
		t.Error("expected delivery to unknown channel to fail")
	}
}

func TestBrokerAnyChannelWhenUnconfigured(t *testing.T) {
	b := NewBroker()
	if _, ok := b.Deliver(context.Background(), Notification{Recipient: Channel("anything")}); !ok {
		t.Error("expected delivery to succeed")
	}
}

func TestBrokerUserUnreachableWithoutSubscription(t *testing.T) {
	b := NewBroker()
	observer := b.Subscribe("")
	defer b.Unsubscribe(observer)

	if _, ok := b.Deliver(context.Background(), Notification{Recipient: User("1001")}); ok {
		t.Error("expected user without subscription to be unreachable")
	}
	// Observers still see the attempt.
	receive(t, observer)
}

func TestBrokerUserDelivery(t *testing.T) {
	b := NewBroker()
	mine := b.Subscribe("1001")
	other := b.Subscribe("1002")
	defer b.Unsubscribe(mine)
	defer b.Unsubscribe(other)

	if _, ok := b.Deliver(context.Background(), Notification{Recipient: User("1001"), Summary: "hi"}); !ok {
		t.Fatal("expected delivery to subscribed user")
	}
	if ev := receive(t, mine); ev.Summary != "hi" {
		t.Errorf("expected summary 'hi', got %q", ev.Summary)
	}
	select {
	case msg := <-other:
		t.Errorf("other user received %q", msg)
	default:
	}
}

func TestBrokerDropsWhenFull(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("1001")
	defer b.Unsubscribe(ch)

	for i := 0; i < 16; i++ {
		if _, ok := b.Deliver(context.Background(), Notification{Recipient: User("1001")}); !ok {
			t.Fatalf("delivery %d failed", i)
		}
	}
	if _, ok := b.Deliver(context.Background(), Notification{Recipient: User("1001")}); ok {
		t.Error("expected delivery to a full subscriber to fail")
	}
}

func TestBrokerUnsubscribeTwice(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("")
	b.Unsubscribe(ch)
	// Should not panic
	b.Unsubscribe(ch)
}

type fakeDispatcher struct {
	ref string
	ok  bool
	got []Notification
}

func (f *fakeDispatcher) Deliver(_ context.Context, n Notification) (string, bool) {
	f.got = append(f.got, n)
	return f.ref, f.ok
}

func TestFanout(t *testing.T) {
	a := &fakeDispatcher{ok: false}
	b := &fakeDispatcher{ref: "b", ok: true}
	c := &fakeDispatcher{ref: "c", ok: true}

	ref, ok := Fanout{a, b, c}.Deliver(context.Background(), Notification{})
	if !ok || ref != "b" {
		t.Errorf("expected ref b, got ok=%v ref=%q", ok, ref)
	}
	if len(a.got) != 1 || len(c.got) != 1 {
		t.Error("expected every dispatcher to be called")
	}

	if _, ok := (Fanout{a}).Deliver(context.Background(), Notification{}); ok {
		t.Error("expected fanout with only failing dispatchers to fail")
	}
}

func TestRedisPublisherTopic(t *testing.T) {
	p := NewRedisPublisher(nil, WithRedisPrefix(":desk:"))
	if got := p.Topic(User("1001")); got != "desk:user:1001" {
		t.Errorf("unexpected topic %q", got)
	}
	if got := p.Topic(Channel("review")); got != "desk:channel:review" {
		t.Errorf("unexpected topic %q", got)
	}
}

func TestRedisPublisherWithoutClient(t *testing.T) {
	p := NewRedisPublisher(nil)
	if _, ok := p.Deliver(context.Background(), Notification{Recipient: Channel("review")}); ok {
		t.Error("expected failure without a client")
	}
}

func TestRedisPublisherUnreachableServer(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	p := NewRedisPublisher(rdb)
	if _, ok := p.Deliver(context.Background(), Notification{Recipient: Channel("review")}); ok {
		t.Error("expected failure when redis is unreachable")
	}
}

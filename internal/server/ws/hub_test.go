package ws

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gavelhq/gavel/internal/domain"
)

// fakeBus records subscriptions and lets a test push signals into them.
type fakeBus struct {
	mu   sync.Mutex
	subs map[string]chan domain.Signal
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[string]chan domain.Signal)}
}

func (b *fakeBus) Publish(_ context.Context, _ string, _ []byte) error { return nil }

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan domain.Signal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan domain.Signal, 16)
	b.subs[channel] = ch
	return ch, nil
}

// emit pushes a signal into the subscription registered under pattern,
// waiting briefly for the hub's subscribe goroutine to attach.
func (b *fakeBus) emit(t *testing.T, pattern string, sig domain.Signal) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		b.mu.Lock()
		ch, ok := b.subs[pattern]
		b.mu.Unlock()
		if ok {
			ch <- sig
			return
		}
		require.True(t, time.Now().Before(deadline), "no subscription for %s", pattern)
		time.Sleep(5 * time.Millisecond)
	}
}

func startHub(t *testing.T) (*Hub, *fakeBus) {
	t.Helper()
	bus := newFakeBus()
	h := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = h.Run(ctx) }()
	return h, bus
}

func attachClient(t *testing.T, h *Hub, channels ...string) *client {
	t.Helper()
	c := &client{
		hub:  h,
		send: make(chan []byte, 8),
		subs: make(map[string]bool),
	}
	for _, ch := range channels {
		c.subs[ch] = true
	}
	select {
	case h.register <- c:
	case <-time.After(time.Second):
		t.Fatal("hub did not accept client registration")
	}
	return c
}

func recvOne(t *testing.T, c *client) []byte {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("client received nothing")
		return nil
	}
}

func TestNarrowSubscriberReceivesAuctionEvents(t *testing.T) {
	h, bus := startHub(t)
	c := attachClient(t, h, "ch:auction:abc")

	payload := []byte(`{"type":"bid_placed","data":{"auction_id":"abc"}}`)
	bus.emit(t, "ch:auction:*", domain.Signal{Channel: "ch:auction:abc", Payload: payload})

	require.Equal(t, payload, recvOne(t, c))
}

func TestNarrowSubscriberIgnoresOtherAuctions(t *testing.T) {
	h, bus := startHub(t)
	c := attachClient(t, h, "ch:auction:abc")

	bus.emit(t, "ch:auction:*", domain.Signal{Channel: "ch:auction:other", Payload: []byte(`{}`)})

	select {
	case msg := <-c.send:
		t.Fatalf("unexpected delivery: %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDefaultClientReceivesBidEventOnce(t *testing.T) {
	h, bus := startHub(t)
	c := attachClient(t, h, defaultSubscriptions...)

	// The publisher sends every bid event to both the per-auction stream and
	// the firehose. A default client holds only the firehose subscriptions,
	// so it must see the envelope exactly once.
	payload := []byte(`{"type":"bid_placed","data":{"auction_id":"abc"}}`)
	bus.emit(t, "ch:auction:*", domain.Signal{Channel: "ch:auction:abc", Payload: payload})
	bus.emit(t, "ch:bids", domain.Signal{Channel: "ch:bids", Payload: payload})

	require.Equal(t, payload, recvOne(t, c))
	select {
	case msg := <-c.send:
		t.Fatalf("duplicate delivery: %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWildcardSubscriptionMatchesConcreteChannel(t *testing.T) {
	h, bus := startHub(t)
	c := attachClient(t, h, "ch:auction:*")

	payload := []byte(`{"type":"auction_ended","data":{"auction_id":"xyz"}}`)
	bus.emit(t, "ch:auction:*", domain.Signal{Channel: "ch:auction:xyz", Payload: payload})

	require.Equal(t, payload, recvOne(t, c))
}

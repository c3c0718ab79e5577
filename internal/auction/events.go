package auction

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gavelhq/gavel/internal/domain"
)

// Pub/Sub channel layout. Every event goes to the auction's own channel plus
// a firehose channel so the websocket hub can serve both per-auction watchers
// and global feeds.
const (
	channelBids     = "ch:bids"
	channelAuctions = "ch:auctions"
)

func auctionChannel(auctionID string) string {
	return "ch:auction:" + auctionID
}

// envelope is the wire form of every published event.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Publisher fans marketplace events out over the signal bus. It implements
// domain.EventSink: publish failures are logged and swallowed, never
// propagated back into the committed operation.
type Publisher struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewPublisher creates a Publisher over the given signal bus.
func NewPublisher(bus domain.SignalBus, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:    bus,
		logger: logger.With(slog.String("component", "events")),
	}
}

// BidPlaced publishes a bid_placed event to the auction channel and the bid
// firehose.
func (p *Publisher) BidPlaced(ctx context.Context, ev domain.BidPlacedEvent) {
	p.publish(ctx, domain.EventTypeBidPlaced, ev.AuctionID, channelBids, ev)
}

// BidCancelled publishes a bid_cancelled event to the auction channel and the
// bid firehose.
func (p *Publisher) BidCancelled(ctx context.Context, ev domain.BidCancelledEvent) {
	p.publish(ctx, domain.EventTypeBidCancelled, ev.AuctionID, channelBids, ev)
}

// AuctionEnded publishes an auction_ended event to the auction channel and
// the auction firehose.
func (p *Publisher) AuctionEnded(ctx context.Context, ev domain.AuctionEndedEvent) {
	p.publish(ctx, domain.EventTypeAuctionEnded, ev.AuctionID, channelAuctions, ev)
}

func (p *Publisher) publish(ctx context.Context, eventType, auctionID, firehose string, data any) {
	payload, err := json.Marshal(envelope{Type: eventType, Data: data})
	if err != nil {
		p.logger.Error("marshal event", "type", eventType, "auction_id", auctionID, "error", err)
		return
	}

	for _, ch := range []string{auctionChannel(auctionID), firehose} {
		if err := p.bus.Publish(ctx, ch, payload); err != nil {
			p.logger.Warn("publish event",
				"type", eventType,
				"channel", ch,
				"auction_id", auctionID,
				"error", err)
		}
	}
}

// Compile-time interface check.
var _ domain.EventSink = (*Publisher)(nil)

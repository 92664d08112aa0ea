// Package notify announces finalized auctions. The engine calls a Notifier
// exactly once per auction, after the finalization claim succeeded.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"

	model "auction-engine/internal/models"
	"auction-engine/utils"
)

// DefaultQueue is the durable queue finalization events are published to
const DefaultQueue = "auction.finalized"

// AuctionFinalizedEvent is the message emitted when an auction closes
type AuctionFinalizedEvent struct {
	AuctionID   string           `json:"product_id"`
	AuctionName string           `json:"product_name"`
	SellerID    string           `json:"seller_id"`
	WinnerID    *string          `json:"winner_id"`
	FinalPrice  *decimal.Decimal `json:"final_price"`
	TotalBids   int              `json:"total_bids"`
	EndTime     time.Time        `json:"end_time"`
	FinalizedAt time.Time        `json:"finalized_at"`
}

// NewAuctionFinalizedEvent builds the event from the closed auction and its result
func NewAuctionFinalizedEvent(a model.Auction, highest model.HighestBid, res model.FinalizationResult) AuctionFinalizedEvent {
	return AuctionFinalizedEvent{
		AuctionID:   res.AuctionID,
		AuctionName: a.Name,
		SellerID:    a.SellerID,
		WinnerID:    res.WinnerID,
		FinalPrice:  res.FinalPrice,
		TotalBids:   highest.TotalBids,
		EndTime:     a.EndTime,
		FinalizedAt: res.FinalizedAt,
	}
}

// Notifier delivers finalization events
type Notifier interface {
	AuctionFinalized(ctx context.Context, event AuctionFinalizedEvent) error
}

// LogNotifier writes events to the structured log
type LogNotifier struct{}

// AuctionFinalized logs the event
func (LogNotifier) AuctionFinalized(_ context.Context, event AuctionFinalizedEvent) error {
	fields := map[string]any{
		"product_id": event.AuctionID,
		"total_bids": event.TotalBids,
	}
	if event.WinnerID != nil {
		fields["winner_id"] = *event.WinnerID
		fields["final_price"] = event.FinalPrice.String()
		utils.Info("auction finalized with winner", fields)
		return nil
	}
	utils.Info("auction finalized without bids", fields)
	return nil
}

// Publisher is the part of *amqp.Channel used to publish
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes events as persistent JSON messages to a durable queue
type AMQPNotifier struct {
	mu      sync.Mutex
	pub     Publisher
	queue   string
	closers []func() error
}

// NewAMQPNotifier publishes through pub to queue. The queue must already exist.
func NewAMQPNotifier(pub Publisher, queue string) *AMQPNotifier {
	if queue == "" {
		queue = DefaultQueue
	}
	return &AMQPNotifier{pub: pub, queue: queue}
}

// DialAMQP connects to the broker at url, declares queue as durable and
// returns a notifier bound to it.
func DialAMQP(url, queue string) (*AMQPNotifier, error) {
	if queue == "" {
		queue = DefaultQueue
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare %s: %w", queue, err)
	}

	n := NewAMQPNotifier(ch, queue)
	n.closers = []func() error{ch.Close, conn.Close}
	return n, nil
}

// AuctionFinalized publishes event to the queue
func (n *AMQPNotifier) AuctionFinalized(ctx context.Context, event AuctionFinalizedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal finalized event %s: %w", event.AuctionID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	n.mu.Lock()
	defer n.mu.Unlock()
	err = n.pub.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.AuctionID,
		Timestamp:    event.FinalizedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish finalized event %s: %w", event.AuctionID, err)
	}
	return nil
}

// Close closes the channel and connection opened by DialAMQP
func (n *AMQPNotifier) Close() error {
	var first error
	for _, c := range n.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// Notification kinds the engine emits. Template rendering happens
// downstream; these only name the event.
const (
	KindAuctionWon            = "auction_won"
	KindAuctionSold           = "auction_sold"
	KindAuctionNoSale         = "auction_no_sale"
	KindPaymentActionRequired = "payment_action_required"
)

// Notifier dispatches a user-facing notification. Calls are
// fire-and-forget from the caller's perspective: failures are logged,
// never fatal.
type Notifier interface {
	Notify(ctx context.Context, recipientID uuid.UUID, kind string, payload map[string]any) error
}

// message is the wire format published to the notification exchange
type message struct {
	RecipientID uuid.UUID      `json:"recipient_id"`
	Kind        string         `json:"kind"`
	Payload     map[string]any `json:"payload,omitempty"`
	SentAt      time.Time      `json:"sent_at"`
}

// AMQPNotifier publishes notification events to a RabbitMQ topic
// exchange for the notification service to render and deliver.
type AMQPNotifier struct {
	ch       *amqp.Channel
	exchange string
}

// NewAMQPNotifier declares the topic exchange and returns a publisher
func NewAMQPNotifier(ch *amqp.Channel, exchange string) (*AMQPNotifier, error) {
	err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &AMQPNotifier{ch: ch, exchange: exchange}, nil
}

// Notify publishes one notification event, routing key notify.<kind>
func (n *AMQPNotifier) Notify(ctx context.Context, recipientID uuid.UUID, kind string, payload map[string]any) error {
	body, err := json.Marshal(message{
		RecipientID: recipientID,
		Kind:        kind,
		Payload:     payload,
		SentAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	err = n.ch.PublishWithContext(ctx, n.exchange, "notify."+kind, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// LogNotifier writes notifications to the log; used when no broker is
// configured.
type LogNotifier struct{}

// Notify logs the notification at info level
func (LogNotifier) Notify(_ context.Context, recipientID uuid.UUID, kind string, payload map[string]any) error {
	log.WithFields(log.Fields{
		"recipient_id": recipientID,
		"kind":         kind,
		"payload":      payload,
	}).Info("notification dispatched")
	return nil
}

package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"

	"github.com/john25coder/pizzaria-app/internal/domain/order"
	"github.com/john25coder/pizzaria-app/internal/domain/payment"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaNotifier.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ payment.Notifier = (*KafkaNotifier)(nil)

// KafkaNotifier publishes order notifications to a Kafka topic keyed by
// order id. A downstream consumer turns them into customer messages.
type KafkaNotifier struct {
	writer  MessageWriter
	timeout time.Duration
	now     func() time.Time
}

// NewKafkaWriter returns a writer for topic on brokers.
func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
	}
}

// NewKafkaNotifier returns a notifier that gives each publish at most
// timeout.
func NewKafkaNotifier(w MessageWriter, timeout time.Duration) *KafkaNotifier {
	return &KafkaNotifier{writer: w, timeout: timeout, now: time.Now}
}

// OrderConfirmed publishes an order.confirmed event.
func (n *KafkaNotifier) OrderConfirmed(ctx context.Context, o *order.Order) error {
	return n.publish(ctx, EventOrderConfirmed, o, "")
}

// PaymentFailed publishes an order.payment_failed event.
func (n *KafkaNotifier) PaymentFailed(ctx context.Context, o *order.Order, reason string) error {
	return n.publish(ctx, EventPaymentFailed, o, reason)
}

// Close flushes and closes the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

func (n *KafkaNotifier) publish(ctx context.Context, eventType string, o *order.Order, reason string) error {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	msg := kafka.Message{
		Key:   []byte(o.ID),
		Value: encodeEvent(eventType, o, reason, n.now()),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s for order %s", eventType, o.ID)
	}
	return nil
}

// Package notify sends best-effort order notifications.
package notify

import (
	"context"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/john25coder/pizzaria-app/internal/domain/order"
	"github.com/john25coder/pizzaria-app/internal/domain/payment"
)

// Event types published for order notifications.
const (
	EventOrderConfirmed = "order.confirmed"
	EventPaymentFailed  = "order.payment_failed"
)

var _ payment.Notifier = (*LogNotifier)(nil)

// LogNotifier writes notifications to the context logger. It is the
// fallback when no broker is configured.
type LogNotifier struct{}

// OrderConfirmed logs the confirmation.
func (LogNotifier) OrderConfirmed(ctx context.Context, o *order.Order) error {
	zctx.From(ctx).Info("Order confirmed",
		zap.String("order_id", o.ID),
		zap.String("customer_id", o.CustomerID),
		zap.String("total", o.Total.StringFixed(2)),
	)
	return nil
}

// PaymentFailed logs the failure.
func (LogNotifier) PaymentFailed(ctx context.Context, o *order.Order, reason string) error {
	zctx.From(ctx).Info("Order payment failed",
		zap.String("order_id", o.ID),
		zap.String("customer_id", o.CustomerID),
		zap.String("reason", reason),
	)
	return nil
}

// encodeEvent renders the message body for an order notification.
func encodeEvent(eventType string, o *order.Order, reason string, at time.Time) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("type")
	e.Str(eventType)
	e.FieldStart("order_id")
	e.Str(o.ID)
	e.FieldStart("customer_id")
	e.Str(o.CustomerID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("total")
	e.Str(o.Total.StringFixed(2))
	e.FieldStart("phone")
	e.Str(o.Phone)
	if reason != "" {
		e.FieldStart("reason")
		e.Str(reason)
	}
	e.FieldStart("occurred_at")
	e.Str(at.UTC().Format(time.RFC3339))
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}

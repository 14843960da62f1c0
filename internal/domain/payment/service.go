package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/john25coder/pizzaria-app/internal/domain/order"
)

const canceledReason = "payment canceled"

// IntentResult is returned to the client that will complete the payment.
type IntentResult struct {
	PaymentID    string
	IntentID     string
	ClientSecret string
	Amount       decimal.Decimal
	Currency     string
}

// RefundResult describes an accepted refund request.
type RefundResult struct {
	RefundID string
	Status   string
	Amount   decimal.Decimal
}

// Options configure a Service.
type Options struct {
	// Currency is the ISO code sent to the processor. Defaults to "brl".
	Currency string
	// Meter records reconciliation counters. Defaults to a no-op meter.
	Meter metric.Meter
}

// outcome is the state change a processor result implies.
type outcome struct {
	payment     Status
	order       order.Status
	description string
	notify      func(ctx context.Context, n Notifier, o *order.Order) error
}

// Service implements intent creation, confirmation, webhook handling and
// refunds.
type Service struct {
	payments  Repository
	events    EventLog
	orders    order.Repository
	processor Processor
	notifier  Notifier
	tx        order.TxRunner
	currency  string
	applied   metric.Int64Counter
	confirms  singleflight.Group
	now       func() time.Time
}

// NewService creates a payment Service.
func NewService(
	payments Repository,
	events EventLog,
	orders order.Repository,
	processor Processor,
	notifier Notifier,
	tx order.TxRunner,
	opts Options,
) (*Service, error) {
	if opts.Currency == "" {
		opts.Currency = "brl"
	}
	if opts.Meter == nil {
		opts.Meter = noop.NewMeterProvider().Meter("payment")
	}
	applied, err := opts.Meter.Int64Counter("payment.events",
		metric.WithDescription("Processor outcomes applied to payments"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create payment.events counter")
	}
	return &Service{
		payments:  payments,
		events:    events,
		orders:    orders,
		processor: processor,
		notifier:  notifier,
		tx:        tx,
		currency:  opts.Currency,
		applied:   applied,
		now:       time.Now,
	}, nil
}

// CreateIntent asks the processor for an intent covering the order total and
// records a PENDING payment for it.
func (s *Service) CreateIntent(ctx context.Context, orderID string) (*IntentResult, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusPending {
		return nil, &InvalidStateError{Op: "create payment intent", State: string(o.Status)}
	}

	amount := ToMinorUnits(o.Total)
	if amount <= 0 {
		return nil, ErrNothingToPay
	}

	intent, err := s.processor.CreateIntent(ctx, IntentParams{
		Amount:      amount,
		Currency:    s.currency,
		Description: fmt.Sprintf("Order %s", o.ID),
		Metadata: map[string]string{
			"order_id":    o.ID,
			"customer_id": o.CustomerID,
		},
		IdempotencyKey: "intent-" + o.ID + "-" + o.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, &ExternalError{Op: "create intent", Err: err}
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		return nil, &ExternalError{Op: "create intent", Err: errors.New("response missing intent id or client secret")}
	}

	// The idempotency key is stable while the order is unchanged, so a retry
	// gets the same intent back.
	if p, err := s.payments.GetByIntentID(ctx, intent.ID); err == nil {
		return existingIntent(p, intent), nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "get payment")
	}

	now := s.now()
	p := &Payment{
		ID:          uuid.New().String(),
		OrderID:     o.ID,
		IntentID:    intent.ID,
		Status:      StatusPending,
		Amount:      FromMinorUnits(amount),
		Currency:    s.currency,
		Method:      "card",
		Description: fmt.Sprintf("Order %s", o.ID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		if !errors.Is(err, ErrDuplicateIntent) {
			return nil, errors.Wrap(err, "create payment")
		}
		// A concurrent request recorded it first.
		existing, err := s.payments.GetByIntentID(ctx, intent.ID)
		if err != nil {
			return nil, errors.Wrap(err, "get payment")
		}
		return existingIntent(existing, intent), nil
	}

	return &IntentResult{
		PaymentID:    p.ID,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       p.Amount,
		Currency:     p.Currency,
	}, nil
}

func existingIntent(p *Payment, intent *Intent) *IntentResult {
	return &IntentResult{
		PaymentID:    p.ID,
		IntentID:     p.IntentID,
		ClientSecret: intent.ClientSecret,
		Amount:       p.Amount,
		Currency:     p.Currency,
	}
}

// Confirm reads the intent status from the processor and applies it. It
// converges with HandleEvent: confirming an intent whose webhook was already
// processed changes nothing. Concurrent calls for one intent share a single
// processor round trip.
func (s *Service) Confirm(ctx context.Context, intentID string) (*Payment, error) {
	v, err, _ := s.confirms.Do(intentID, func() (any, error) {
		// Shared by every caller, so one caller going away must not fail the rest.
		return s.confirm(context.WithoutCancel(ctx), intentID)
	})
	if err != nil {
		return nil, err
	}
	p := *v.(*Payment)
	return &p, nil
}

func (s *Service) confirm(ctx context.Context, intentID string) (*Payment, error) {
	if _, err := s.payments.GetByIntentID(ctx, intentID); err != nil {
		return nil, err
	}

	intent, err := s.processor.RetrieveIntent(ctx, intentID)
	if err != nil {
		return nil, &ExternalError{Op: "retrieve intent", Err: err}
	}

	var out *outcome
	switch intent.Status {
	case IntentSucceeded:
		out = succeeded()
	case IntentCanceled:
		out = failed(canceledReason)
	case IntentRequiresPaymentMethod:
		// A fresh intent also sits in this state; only a recorded
		// failure means the attempt was declined.
		if intent.FailureReason != "" {
			out = failed(intent.FailureReason)
		}
	}

	if out != nil {
		if _, err := s.apply(ctx, "", "confirm", intentID, out); err != nil {
			return nil, err
		}
	}
	return s.payments.GetByIntentID(ctx, intentID)
}

// HandleWebhook verifies and applies a raw processor notification.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.processor.ParseEvent(payload, signature)
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			return err
		}
		return errors.Wrap(ErrInvalidSignature, err.Error())
	}
	return s.HandleEvent(ctx, ev)
}

// HandleEvent applies a verified event. Duplicate deliveries, events for
// unknown intents and event types without a mapping are acknowledged
// without changing anything.
func (s *Service) HandleEvent(ctx context.Context, ev *Event) error {
	var out *outcome
	switch ev.Type {
	case EventIntentSucceeded:
		out = succeeded()
	case EventIntentFailed:
		reason := ev.FailureReason
		if reason == "" {
			reason = "payment failed"
		}
		out = failed(reason)
	case EventIntentCanceled:
		out = failed(canceledReason)
	case EventChargeRefunded:
		out = &outcome{payment: StatusRefunded}
	default:
		zctx.From(ctx).Debug("Ignoring payment event", zap.String("event_type", ev.Type), zap.String("event_id", ev.ID))
		return nil
	}
	if ev.IntentID == "" {
		return &ExternalError{Op: "parse event", Err: errors.Errorf("event %s has no intent id", ev.ID)}
	}

	_, err := s.apply(ctx, ev.ID, ev.Type, ev.IntentID, out)
	if errors.Is(err, ErrNotFound) {
		zctx.From(ctx).Warn("Payment event for unknown intent",
			zap.String("event_id", ev.ID),
			zap.String("intent_id", ev.IntentID),
		)
		return nil
	}
	return err
}

// Refund refunds a successful payment, marks it PROCESSING and cancels the
// order right away. A later charge.refunded event completes the payment.
func (s *Service) Refund(ctx context.Context, orderID, reason string) (*RefundResult, error) {
	p, err := s.payments.LatestByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusSuccess {
		return nil, &InvalidStateError{Op: "refund", State: string(p.Status)}
	}

	meta := map[string]string{"order_id": orderID}
	if reason != "" {
		meta["reason"] = reason
	}
	r, err := s.processor.CreateRefund(ctx, RefundParams{IntentID: p.IntentID, Reason: reason, Metadata: meta})
	if err != nil {
		return nil, &ExternalError{Op: "create refund", Err: err}
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.payments.LockByIntentID(ctx, p.IntentID)
		if err != nil {
			return err
		}
		// charge.refunded may have landed between the processor call and here.
		if locked.Status.CanTransitionTo(StatusProcessing) {
			locked.Status = StatusProcessing
		}
		locked.RefundID = r.ID
		locked.UpdatedAt = s.now()
		if err := s.payments.Update(ctx, locked); err != nil {
			return errors.Wrap(err, "update payment")
		}
		_, _, err = s.moveOrder(ctx, locked.OrderID, order.StatusCancelled, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	amount := FromMinorUnits(r.Amount)
	if r.Amount == 0 {
		amount = p.Amount
	}
	return &RefundResult{RefundID: r.ID, Status: r.Status, Amount: amount}, nil
}

// Status returns the most recent payment for an order.
func (s *Service) Status(ctx context.Context, orderID string) (*Payment, error) {
	return s.payments.LatestByOrderID(ctx, orderID)
}

// CancelIntent cancels an unpaid intent at the processor and fails the
// payment, which cancels the order.
func (s *Service) CancelIntent(ctx context.Context, intentID string) (*Payment, error) {
	p, err := s.payments.GetByIntentID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return nil, &InvalidStateError{Op: "cancel intent", State: string(p.Status)}
	}

	if _, err := s.processor.CancelIntent(ctx, intentID); err != nil {
		return nil, &ExternalError{Op: "cancel intent", Err: err}
	}
	if _, err := s.apply(ctx, "", "cancel", intentID, failed(canceledReason)); err != nil {
		return nil, err
	}
	return s.payments.GetByIntentID(ctx, intentID)
}

// apply moves the payment and its order to the outcome in one transaction
// and sends the notification after commit. It reports whether anything
// changed.
func (s *Service) apply(ctx context.Context, eventID, source, intentID string, out *outcome) (bool, error) {
	lg := zctx.From(ctx).With(zap.String("intent_id", intentID), zap.String("source", source))

	var (
		changed bool
		moved   bool
		result  = "applied"
		o       *order.Order
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if eventID != "" {
			fresh, err := s.events.MarkProcessed(ctx, eventID, source)
			if err != nil {
				return errors.Wrap(err, "record event")
			}
			if !fresh {
				result = "duplicate"
				return nil
			}
		}

		p, err := s.payments.LockByIntentID(ctx, intentID)
		if err != nil {
			return err
		}
		if p.Status == out.payment {
			result = "noop"
			return nil
		}
		if !p.Status.CanTransitionTo(out.payment) {
			result = "out_of_order"
			lg.Warn("Ignoring payment outcome",
				zap.String("from", string(p.Status)),
				zap.String("to", string(out.payment)),
			)
			return nil
		}

		revive := p.Status == StatusFailed && out.payment == StatusSuccess
		p.Status = out.payment
		if out.description != "" {
			p.Description = out.description
		}
		p.UpdatedAt = s.now()
		if err := s.payments.Update(ctx, p); err != nil {
			return errors.Wrap(err, "update payment")
		}
		changed = true

		if out.order != "" {
			if o, moved, err = s.moveOrder(ctx, p.OrderID, out.order, revive); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	s.applied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(out.payment)),
		attribute.String("result", result),
	))

	if changed && moved && out.notify != nil && s.notifier != nil {
		if err := out.notify(ctx, s.notifier, o); err != nil {
			lg.Warn("Notification failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	return changed, nil
}

// moveOrder transitions the order when the lifecycle allows it and leaves
// it untouched otherwise. With revive set, a CANCELLED order may also move
// to CONFIRMED: a retried intent succeeded after the decline that cancelled
// it, and the customer has been charged. It reports whether the order moved.
func (s *Service) moveOrder(ctx context.Context, orderID string, to order.Status, revive bool) (*order.Order, bool, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, false, errors.Wrap(err, "get order")
	}
	if o.Status == to {
		return o, false, nil
	}
	revived := revive && o.Status == order.StatusCancelled && to == order.StatusConfirmed
	if revived {
		zctx.From(ctx).Info("Reviving order paid after a declined attempt", zap.String("order_id", o.ID))
	}
	if !revived && !o.Status.CanTransitionTo(to) {
		zctx.From(ctx).Warn("Order not moved by payment outcome",
			zap.String("order_id", o.ID),
			zap.String("from", string(o.Status)),
			zap.String("to", string(to)),
		)
		return o, false, nil
	}

	now := s.now()
	if err := s.orders.UpdateStatus(ctx, o.ID, o.Status, to, now); err != nil {
		return nil, false, errors.Wrap(err, "update order status")
	}
	o.Status = to
	o.UpdatedAt = now
	return o, true, nil
}

func succeeded() *outcome {
	return &outcome{
		payment: StatusSuccess,
		order:   order.StatusConfirmed,
		notify: func(ctx context.Context, n Notifier, o *order.Order) error {
			return n.OrderConfirmed(ctx, o)
		},
	}
}

func failed(reason string) *outcome {
	return &outcome{
		payment:     StatusFailed,
		order:       order.StatusCancelled,
		description: reason,
		notify: func(ctx context.Context, n Notifier, o *order.Order) error {
			return n.PaymentFailed(ctx, o, reason)
		},
	}
}

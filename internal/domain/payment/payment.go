// Package payment reconciles payment-processor intents with orders. Every
// processor outcome, whether it arrives from a webhook or an explicit
// confirmation, updates the payment record and the order in one
// transaction, and repeated deliveries are no-ops.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/john25coder/pizzaria-app/internal/domain/order"
)

// Status is the state of a payment record.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusProcessing Status = "PROCESSING"
	StatusRefunded   Status = "REFUNDED"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusSuccess, StatusFailed},
	StatusFailed:     {StatusSuccess},
	StatusSuccess:    {StatusProcessing, StatusRefunded},
	StatusProcessing: {StatusRefunded},
}

// CanTransitionTo reports whether a payment may move from s to to.
func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Processor event types handled by HandleEvent.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventIntentCanceled  = "payment_intent.canceled"
	EventChargeRefunded  = "charge.refunded"
)

var (
	// ErrNotFound is returned when no payment matches.
	ErrNotFound = errors.New("payment not found")
	// ErrInvalidState is matched by every InvalidStateError.
	ErrInvalidState = errors.New("invalid payment state")
	// ErrInvalidSignature is returned when a webhook payload fails verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrDuplicateIntent is returned by Repository.Create when a payment for
	// the intent already exists.
	ErrDuplicateIntent = errors.New("payment for intent already exists")
	// ErrNothingToPay is returned for orders whose total rounds to zero cents.
	ErrNothingToPay = errors.New("order total must be positive")
)

// InvalidStateError reports an operation that the current state forbids.
type InvalidStateError struct {
	Op    string
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s: state is %s", e.Op, e.State)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// ExternalError wraps a failed or malformed payment-processor call.
type ExternalError struct {
	Op  string
	Err error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("payment processor %s: %v", e.Op, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// Payment is one attempt to pay for an order.
type Payment struct {
	ID          string
	OrderID     string
	IntentID    string
	Status      Status
	Amount      decimal.Decimal
	Currency    string
	Method      string
	Description string
	RefundID    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IntentStatus is the processor-side status of an intent.
type IntentStatus string

const (
	IntentSucceeded             IntentStatus = "succeeded"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentCanceled              IntentStatus = "canceled"
)

// Intent is the processor's view of an attempted charge.
type Intent struct {
	ID            string
	ClientSecret  string
	Status        IntentStatus
	Amount        int64
	Currency      string
	FailureReason string
}

// IntentParams describes the charge to create. Amount is in minor units.
type IntentParams struct {
	Amount         int64
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// RefundParams describes a refund of a whole intent.
type RefundParams struct {
	IntentID string
	Reason   string
	Metadata map[string]string
}

// Refund is the processor's refund record. Amount is in minor units.
type Refund struct {
	ID     string
	Status string
	Amount int64
}

// Event is a verified processor notification.
type Event struct {
	ID            string
	Type          string
	IntentID      string
	FailureReason string
}

// Processor is the external payment gateway.
type Processor interface {
	CreateIntent(ctx context.Context, p IntentParams) (*Intent, error)
	RetrieveIntent(ctx context.Context, id string) (*Intent, error)
	CancelIntent(ctx context.Context, id string) (*Intent, error)
	CreateRefund(ctx context.Context, p RefundParams) (*Refund, error)
	// ParseEvent verifies the signature and decodes the event. It returns an
	// error matching ErrInvalidSignature for unverifiable payloads.
	ParseEvent(payload []byte, signature string) (*Event, error)
}

// Notifier sends best-effort customer notifications.
type Notifier interface {
	OrderConfirmed(ctx context.Context, o *order.Order) error
	PaymentFailed(ctx context.Context, o *order.Order, reason string) error
}

// Repository persists payment records.
type Repository interface {
	// Create returns ErrDuplicateIntent if p.IntentID is already recorded.
	Create(ctx context.Context, p *Payment) error
	GetByIntentID(ctx context.Context, intentID string) (*Payment, error)
	// LockByIntentID reads the payment and holds a row lock until the
	// surrounding transaction ends.
	LockByIntentID(ctx context.Context, intentID string) (*Payment, error)
	LatestByOrderID(ctx context.Context, orderID string) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
}

// EventLog records processed webhook event ids.
type EventLog interface {
	// MarkProcessed records the event and reports false if it was already recorded.
	MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error)
}

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts a currency amount to cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts cents to a currency amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

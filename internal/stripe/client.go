// Package stripe implements payment.Processor on the Stripe API. Every call
// goes through a circuit breaker so an unavailable processor fails fast.
package stripe

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"

	"github.com/john25coder/pizzaria-app/internal/domain/payment"
)

// refundReason is the only Stripe refund reason that fits customer and
// back-office refunds. The free-text reason travels in metadata.
const refundReason = "requested_by_customer"

// BreakerConfig tunes the circuit breaker around Stripe calls.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32 `default:"1" usage:"Requests allowed while the breaker is half-open"`
	// Interval after which closed-state counts reset.
	Interval time.Duration `default:"60s" usage:"Closed-state counter reset interval"`
	// Timeout before an open breaker turns half-open.
	Timeout time.Duration `default:"30s" usage:"Open-state duration"`
	// ConsecutiveFailures that trip the breaker.
	ConsecutiveFailures uint32 `default:"5" usage:"Consecutive failures that open the breaker"`
}

// Config holds Stripe credentials and client tuning.
type Config struct {
	SecretKey     string        `usage:"Stripe secret API key"`
	WebhookSecret string        `usage:"Stripe webhook signing secret"`
	BaseURL       string        `usage:"Override the Stripe API base URL (stripe-mock, tests)"`
	Timeout       time.Duration `default:"10s" usage:"HTTP timeout for Stripe calls"`
	MaxRetries    int64         `default:"2" usage:"Network retries for idempotent Stripe calls"`
	Breaker       BreakerConfig
}

var _ payment.Processor = (*Client)(nil)

// Client is a payment.Processor backed by Stripe.
type Client struct {
	api           *client.API
	webhookSecret string
	breaker       *gobreaker.CircuitBreaker[any]
}

// New creates a Stripe client.
func New(cfg Config, lg *zap.Logger) *Client {
	backendCfg := &stripeapi.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripeapi.Int64(cfg.MaxRetries),
		LeveledLogger:     lg.Sugar(),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripeapi.String(cfg.BaseURL)
	}
	backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, backendCfg)

	api := client.New(cfg.SecretKey, &stripeapi.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= max(cfg.Breaker.ConsecutiveFailures, 1)
		},
		IsSuccessful: isHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})

	return &Client{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		breaker:       breaker,
	}
}

// CreateIntent creates a PaymentIntent with automatic payment methods.
func (c *Client) CreateIntent(ctx context.Context, p payment.IntentParams) (*payment.Intent, error) {
	params := &stripeapi.PaymentIntentParams{
		Amount:      stripeapi.Int64(p.Amount),
		Currency:    stripeapi.String(p.Currency),
		Description: stripeapi.String(p.Description),
		AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	pi, err := execute(c, func() (*stripeapi.PaymentIntent, error) {
		return c.api.PaymentIntents.New(params)
	})
	if err != nil {
		return nil, errors.Wrap(err, "create payment intent")
	}
	return toIntent(pi), nil
}

// RetrieveIntent fetches the current state of an intent.
func (c *Client) RetrieveIntent(ctx context.Context, id string) (*payment.Intent, error) {
	params := &stripeapi.PaymentIntentParams{}
	params.Context = ctx

	pi, err := execute(c, func() (*stripeapi.PaymentIntent, error) {
		return c.api.PaymentIntents.Get(id, params)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "retrieve payment intent %s", id)
	}
	return toIntent(pi), nil
}

// CancelIntent cancels an unpaid intent.
func (c *Client) CancelIntent(ctx context.Context, id string) (*payment.Intent, error) {
	params := &stripeapi.PaymentIntentCancelParams{}
	params.Context = ctx

	pi, err := execute(c, func() (*stripeapi.PaymentIntent, error) {
		return c.api.PaymentIntents.Cancel(id, params)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "cancel payment intent %s", id)
	}
	return toIntent(pi), nil
}

// CreateRefund refunds the whole amount captured by an intent.
func (c *Client) CreateRefund(ctx context.Context, p payment.RefundParams) (*payment.Refund, error) {
	params := &stripeapi.RefundParams{
		PaymentIntent: stripeapi.String(p.IntentID),
		Reason:        stripeapi.String(refundReason),
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey("refund-" + p.IntentID)

	r, err := execute(c, func() (*stripeapi.Refund, error) {
		return c.api.Refunds.New(params)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "refund payment intent %s", p.IntentID)
	}
	return &payment.Refund{ID: r.ID, Status: string(r.Status), Amount: r.Amount}, nil
}

// execute runs fn through the breaker.
func execute[T any](c *Client, fn func() (T, error)) (T, error) {
	v, err := c.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// isHealthy reports whether err says nothing about Stripe availability.
// Declines and validation errors are the caller's problem.
func isHealthy(err error) bool {
	if err == nil {
		return true
	}
	var se *stripeapi.Error
	if errors.As(err, &se) {
		return se.HTTPStatusCode > 0 && se.HTTPStatusCode < http.StatusInternalServerError &&
			se.HTTPStatusCode != http.StatusTooManyRequests
	}
	return false
}

func toIntent(pi *stripeapi.PaymentIntent) *payment.Intent {
	in := &payment.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       payment.IntentStatus(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
	}
	if pi.LastPaymentError != nil {
		in.FailureReason = pi.LastPaymentError.Msg
	}
	return in
}

package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/john25coder/pizzaria-app/internal/domain/order"
	"github.com/john25coder/pizzaria-app/internal/domain/paging"
)

// --- Mock implementations ---

type mockPayments struct {
	mu       sync.Mutex
	byIntent map[string]*Payment
}

func newMockPayments(ps ...*Payment) *mockPayments {
	m := &mockPayments{byIntent: map[string]*Payment{}}
	for _, p := range ps {
		m.byIntent[p.IntentID] = p
	}
	return m
}

func (m *mockPayments) Create(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byIntent[p.IntentID]; ok {
		return ErrDuplicateIntent
	}
	cp := *p
	m.byIntent[p.IntentID] = &cp
	return nil
}

func (m *mockPayments) GetByIntentID(_ context.Context, id string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byIntent[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPayments) LockByIntentID(ctx context.Context, id string) (*Payment, error) {
	return m.GetByIntentID(ctx, id)
}

func (m *mockPayments) LatestByOrderID(_ context.Context, orderID string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Payment
	for _, p := range m.byIntent {
		if p.OrderID == orderID && (latest == nil || p.CreatedAt.After(latest.CreatedAt)) {
			latest = p
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *mockPayments) Update(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.byIntent[p.IntentID] = &cp
	return nil
}

// racingPayments misses the first lookup, as if a concurrent request
// inserted the payment between the lookup and Create.
type racingPayments struct {
	*mockPayments
	missed bool
}

func (r *racingPayments) GetByIntentID(ctx context.Context, id string) (*Payment, error) {
	if !r.missed {
		r.missed = true
		return nil, ErrNotFound
	}
	return r.mockPayments.GetByIntentID(ctx, id)
}

type mockEvents struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *mockEvents) MarkProcessed(_ context.Context, id, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	if m.seen[id] {
		return false, nil
	}
	m.seen[id] = true
	return true, nil
}

type mockOrders struct {
	mu     sync.Mutex
	orders map[string]*order.Order
}

func (m *mockOrders) Create(context.Context, *order.Order) error { return nil }

func (m *mockOrders) Get(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrders) ListByCustomer(context.Context, string, *order.Status, paging.Params) ([]order.Order, int, error) {
	return nil, 0, nil
}

func (m *mockOrders) List(context.Context, *order.Status, *time.Time, *time.Time, paging.Params) ([]order.Order, int, error) {
	return nil, 0, nil
}

func (m *mockOrders) UpdateStatus(_ context.Context, id string, from, to order.Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status != from {
		return order.ErrConcurrentUpdate
	}
	o.Status = to
	o.UpdatedAt = at
	return nil
}

func (m *mockOrders) CountByStatus(context.Context) (map[order.Status]int, decimal.Decimal, error) {
	return nil, decimal.Zero, nil
}

func (m *mockOrders) status(id string) order.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id].Status
}

type mockProcessor struct {
	intent    *Intent
	refund    *Refund
	err       error
	event     *Event
	created   []IntentParams
	refunds   []RefundParams
	retrieves int
	ctxErr    error
}

func (m *mockProcessor) CreateIntent(_ context.Context, p IntentParams) (*Intent, error) {
	m.created = append(m.created, p)
	if m.err != nil {
		return nil, m.err
	}
	return m.intent, nil
}

func (m *mockProcessor) RetrieveIntent(ctx context.Context, _ string) (*Intent, error) {
	m.retrieves++
	if err := ctx.Err(); err != nil {
		m.ctxErr = err
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.intent, nil
}

func (m *mockProcessor) CancelIntent(context.Context, string) (*Intent, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &Intent{ID: m.intent.ID, Status: IntentCanceled}, nil
}

func (m *mockProcessor) CreateRefund(_ context.Context, p RefundParams) (*Refund, error) {
	m.refunds = append(m.refunds, p)
	if m.err != nil {
		return nil, m.err
	}
	return m.refund, nil
}

func (m *mockProcessor) ParseEvent(_ []byte, signature string) (*Event, error) {
	if signature != "valid" {
		return nil, ErrInvalidSignature
	}
	return m.event, nil
}

type mockNotifier struct {
	mu        sync.Mutex
	confirmed []string
	failed    []string
	err       error
}

func (m *mockNotifier) OrderConfirmed(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmed = append(m.confirmed, o.ID)
	return m.err
}

func (m *mockNotifier) PaymentFailed(_ context.Context, o *order.Order, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, o.ID+":"+reason)
	return m.err
}

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	svc       *Service
	payments  *mockPayments
	orders    *mockOrders
	processor *mockProcessor
	notifier  *mockNotifier
}

func newFixture(t *testing.T, orderStatus order.Status, payments ...*Payment) *fixture {
	t.Helper()
	f := &fixture{
		payments: newMockPayments(payments...),
		orders: &mockOrders{orders: map[string]*order.Order{
			"o1": {
				ID:         "o1",
				CustomerID: "c1",
				Status:     orderStatus,
				Total:      decimal.RequireFromString("184.40"),
			},
		}},
		processor: &mockProcessor{
			intent: &Intent{ID: "pi_1", ClientSecret: "pi_1_secret", Status: IntentRequiresPaymentMethod},
			refund: &Refund{ID: "re_1", Status: "pending", Amount: 18440},
		},
		notifier: &mockNotifier{},
	}
	svc, err := NewService(f.payments, &mockEvents{}, f.orders, f.processor, f.notifier, passthroughTx{}, Options{})
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC) }
	f.svc = svc
	return f
}

func pendingPayment() *Payment {
	return &Payment{
		ID:       "p1",
		OrderID:  "o1",
		IntentID: "pi_1",
		Status:   StatusPending,
		Amount:   decimal.RequireFromString("184.40"),
		Currency: "brl",
	}
}

func successfulPayment() *Payment {
	p := pendingPayment()
	p.Status = StatusSuccess
	return p
}

// --- Tests ---

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(18440), ToMinorUnits(decimal.RequireFromString("184.40")))
	assert.Equal(t, int64(1), ToMinorUnits(decimal.RequireFromString("0.005")))
	assert.True(t, decimal.RequireFromString("184.40").Equal(FromMinorUnits(18440)))
}

func TestStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusSuccess))
	assert.True(t, StatusFailed.CanTransitionTo(StatusSuccess))
	assert.True(t, StatusSuccess.CanTransitionTo(StatusProcessing))
	assert.True(t, StatusProcessing.CanTransitionTo(StatusRefunded))
	assert.False(t, StatusSuccess.CanTransitionTo(StatusFailed))
	assert.False(t, StatusRefunded.CanTransitionTo(StatusSuccess))
	assert.False(t, StatusPending.CanTransitionTo(StatusRefunded))
}

func TestCreateIntent(t *testing.T) {
	f := newFixture(t, order.StatusPending)

	res, err := f.svc.CreateIntent(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, "pi_1", res.IntentID)
	assert.Equal(t, "pi_1_secret", res.ClientSecret)
	assert.True(t, decimal.RequireFromString("184.40").Equal(res.Amount))
	assert.Equal(t, "brl", res.Currency)

	require.Len(t, f.processor.created, 1)
	assert.Equal(t, int64(18440), f.processor.created[0].Amount)
	assert.Equal(t, "o1", f.processor.created[0].Metadata["order_id"])
	assert.NotEmpty(t, f.processor.created[0].IdempotencyKey)

	p, err := f.payments.GetByIntentID(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, "o1", p.OrderID)
}

func TestCreateIntent_RetryReturnsExistingPayment(t *testing.T) {
	f := newFixture(t, order.StatusPending)

	first, err := f.svc.CreateIntent(context.Background(), "o1")
	require.NoError(t, err)
	second, err := f.svc.CreateIntent(context.Background(), "o1")
	require.NoError(t, err)

	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, "pi_1", second.IntentID)
	assert.Equal(t, "pi_1_secret", second.ClientSecret)
	assert.True(t, first.Amount.Equal(second.Amount))

	require.Len(t, f.processor.created, 2)
	assert.Equal(t, f.processor.created[0].IdempotencyKey, f.processor.created[1].IdempotencyKey)
	assert.Len(t, f.payments.byIntent, 1)
}

func TestCreateIntent_ConcurrentInsert(t *testing.T) {
	existing := pendingPayment()
	existing.ID = "p_other"
	f := newFixture(t, order.StatusPending)
	payments := &racingPayments{mockPayments: newMockPayments(existing)}
	svc, err := NewService(payments, &mockEvents{}, f.orders, f.processor, f.notifier, passthroughTx{}, Options{})
	require.NoError(t, err)

	res, err := svc.CreateIntent(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, "p_other", res.PaymentID)
	assert.Equal(t, "pi_1_secret", res.ClientSecret)
	assert.True(t, payments.missed)
}

func TestCreateIntent_Errors(t *testing.T) {
	t.Run("order not pending", func(t *testing.T) {
		f := newFixture(t, order.StatusConfirmed)
		_, err := f.svc.CreateIntent(context.Background(), "o1")
		require.ErrorIs(t, err, ErrInvalidState)
		assert.Empty(t, f.processor.created)
	})
	t.Run("order missing", func(t *testing.T) {
		f := newFixture(t, order.StatusPending)
		_, err := f.svc.CreateIntent(context.Background(), "missing")
		require.ErrorIs(t, err, order.ErrNotFound)
	})
	t.Run("zero total", func(t *testing.T) {
		f := newFixture(t, order.StatusPending)
		f.orders.orders["o1"].Total = decimal.Zero
		_, err := f.svc.CreateIntent(context.Background(), "o1")
		require.ErrorIs(t, err, ErrNothingToPay)
	})
	t.Run("processor failure", func(t *testing.T) {
		f := newFixture(t, order.StatusPending)
		f.processor.err = errors.New("boom")
		_, err := f.svc.CreateIntent(context.Background(), "o1")
		var ext *ExternalError
		require.ErrorAs(t, err, &ext)
		assert.Equal(t, "create intent", ext.Op)
	})
}

func TestHandleEvent_SucceededIsIdempotent(t *testing.T) {
	f := newFixture(t, order.StatusPending, pendingPayment())
	ev := &Event{ID: "evt_1", Type: EventIntentSucceeded, IntentID: "pi_1"}

	require.NoError(t, f.svc.HandleEvent(context.Background(), ev))
	require.NoError(t, f.svc.HandleEvent(context.Background(), ev))

	p, err := f.payments.GetByIntentID(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, p.Status)
	assert.Equal(t, order.StatusConfirmed, f.orders.status("o1"))
	assert.Equal(t, []string{"o1"}, f.notifier.confirmed)
}

func TestHandleEvent_RedeliveryWithNewID(t *testing.T) {
	f := newFixture(t, order.StatusPending, pendingPayment())

	require.NoError(t, f.svc.HandleEvent(context.Background(), &Event{ID: "evt_1", Type: EventIntentSucceeded, IntentID: "pi_1"}))
	require.NoError(t, f.svc.HandleEvent(context.Background(), &Event{ID: "evt_2", Type: EventIntentSucceeded, IntentID: "pi_1"}))

	assert.Len(t, f.notifier.confirmed, 1)
}

func TestHandleEvent_Failed(t *testing.T) {
	f := newFixture(t, order.StatusPending, pendingPayment())

	err := f.svc.HandleEvent(context.Background(), &Event{
		ID:            "evt_1",
		Type:          EventIntentFailed,
		IntentID:      "pi_1",
		FailureReason: "card declined",
	})
	require.NoError(t, err)

	p, err := f.payments.GetByIntentID(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, "card declined", p.Description)
	assert.Equal(t, order.StatusCancelled, f.orders.status("o1"))
	assert.Equal(t, []string{"o1:card declined"}, f.notifier.failed)
}

func TestHandleEvent_NotifierFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, order.StatusPending, pendingPayment())
	f.notifier.err = errors.New("smtp down")

	err := f.svc.HandleEvent(context.Background(), &Event{ID: "evt_1", Type: EventIntentSucceeded, IntentID: "pi_1"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, f.orders.status("o1"))
}

func TestHandleEvent_UnknownIntentAcknowledged(t *testing.T) {
	f := newFixture(t, order.StatusPending)
	err := f.svc.HandleEvent(context.Background(), &Event{ID: "evt_1", Type: EventIntentSucceeded, IntentID: "pi_unknown"})
	require.NoError(t, err)
}

func TestHandleEvent_UnhandledTypeIgnored(t *testing.T) {
	f := newFixture(t, order.StatusPending, pendingPayment())
	err := f.svc.HandleEvent(context.Background(), &Event{ID: "evt_1", Type: "customer.created"})
	require.NoError(t, err)

	p, err := f.payments.GetByIntentID(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
}

func TestHandleEvent_SuccessAfterDeclineRevivesOrder(t *testing.T) {
	f := newFixture(t, order.StatusPending, pendingPayment())

	require.NoError(t, f.svc.HandleEvent(context.Background(), &Event{
		ID:            "evt_1",
		Type:          EventIntentFailed,
		IntentID:      "pi_1",
		FailureReason: "card declined",
	}))
	require.Equal(t, order.StatusCancelled, f.orders.status("o1"))

	require.NoError(t, f.svc.HandleEvent(context.Background(), &Event{ID: "evt_2", Type: EventIntentSucceeded, IntentID: "pi_1"}))

	p, err := f.payments.GetByIntentID(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, p.Status)
	assert.Equal(t, order.StatusConfirmed, f.orders.status("o1"))
	assert.Equal(t, []string{"o1"}, f.notifier.confirmed)
	assert.Equal(t, []string{"o1:card declined"}, f.notifier.failed)
}

func TestHandleEvent_SuccessDoesNotReviveCustomerCancelledOrder(t *testing.T) {
	f := newFixture(t, order.StatusCancelled, pendingPayment())

	err := f.svc.HandleEvent(context.Background(), &Event{ID: "evt_1", Type: EventIntentSucceeded, IntentID: "pi_1"})
	require.NoError(t, err)

	p, err := f.payments.GetByIntentID(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, p.Status)
	assert.Equal(t, order.StatusCancelled, f.orders.status("o1"))
	assert.Empty(t, f.notifier.confirmed)
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	f := newFixture(t, order.StatusPending, pendingPayment())
	err := f.svc.HandleWebhook(context.Background(), []byte(`{}`), "forged")
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestHandleWebhook_Applies(t *testing.T) {
	f := newFixture(t, order.StatusPending, pendingPayment())
	f.processor.event = &Event{ID: "evt_1", Type: EventIntentSucceeded, IntentID: "pi_1"}

	require.NoError(t, f.svc.HandleWebhook(context.Background(), []byte(`{}`), "valid"))
	assert.Equal(t, order.StatusConfirmed, f.orders.status("o1"))
}

func TestConfirm(t *testing.T) {
	t.Run("succeeded", func(t *testing.T) {
		f := newFixture(t, order.StatusPending, pendingPayment())
		f.processor.intent.Status = IntentSucceeded

		p, err := f.svc.Confirm(context.Background(), "pi_1")
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, p.Status)
		assert.Equal(t, order.StatusConfirmed, f.orders.status("o1"))

		// Webhook arriving afterwards changes nothing.
		require.NoError(t, f.svc.HandleEvent(context.Background(), &Event{ID: "evt_1", Type: EventIntentSucceeded, IntentID: "pi_1"}))
		assert.Len(t, f.notifier.confirmed, 1)
	})
	t.Run("still pending", func(t *testing.T) {
		f := newFixture(t, order.StatusPending, pendingPayment())
		f.processor.intent.Status = IntentProcessing

		p, err := f.svc.Confirm(context.Background(), "pi_1")
		require.NoError(t, err)
		assert.Equal(t, StatusPending, p.Status)
		assert.Equal(t, order.StatusPending, f.orders.status("o1"))
	})
	t.Run("declined", func(t *testing.T) {
		f := newFixture(t, order.StatusPending, pendingPayment())
		f.processor.intent.FailureReason = "insufficient funds"

		p, err := f.svc.Confirm(context.Background(), "pi_1")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, p.Status)
		assert.Equal(t, order.StatusCancelled, f.orders.status("o1"))
	})
	t.Run("caller context cancelled", func(t *testing.T) {
		f := newFixture(t, order.StatusPending, pendingPayment())
		f.processor.intent.Status = IntentSucceeded
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		p, err := f.svc.Confirm(ctx, "pi_1")
		require.NoError(t, err)
		assert.NoError(t, f.processor.ctxErr)
		assert.Equal(t, StatusSuccess, p.Status)
		assert.Equal(t, order.StatusConfirmed, f.orders.status("o1"))
	})
	t.Run("unknown intent", func(t *testing.T) {
		f := newFixture(t, order.StatusPending)
		_, err := f.svc.Confirm(context.Background(), "pi_missing")
		require.ErrorIs(t, err, ErrNotFound)
		assert.Zero(t, f.processor.retrieves)
	})
	t.Run("processor failure", func(t *testing.T) {
		f := newFixture(t, order.StatusPending, pendingPayment())
		f.processor.err = errors.New("timeout")
		_, err := f.svc.Confirm(context.Background(), "pi_1")
		var ext *ExternalError
		require.ErrorAs(t, err, &ext)
	})
}

func TestRefund_Flow(t *testing.T) {
	f := newFixture(t, order.StatusConfirmed, successfulPayment())

	res, err := f.svc.Refund(context.Background(), "o1", "customer request")
	require.NoError(t, err)
	assert.Equal(t, "re_1", res.RefundID)
	assert.True(t, decimal.RequireFromString("184.40").Equal(res.Amount))

	p, err := f.payments.GetByIntentID(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, p.Status)
	assert.Equal(t, "re_1", p.RefundID)
	assert.Equal(t, order.StatusCancelled, f.orders.status("o1"))
	require.Len(t, f.processor.refunds, 1)
	assert.Equal(t, "pi_1", f.processor.refunds[0].IntentID)

	require.NoError(t, f.svc.HandleEvent(context.Background(), &Event{ID: "evt_r", Type: EventChargeRefunded, IntentID: "pi_1"}))
	p, err = f.payments.GetByIntentID(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, p.Status)
}

func TestRefund_Errors(t *testing.T) {
	t.Run("pending payment", func(t *testing.T) {
		f := newFixture(t, order.StatusPending, pendingPayment())
		_, err := f.svc.Refund(context.Background(), "o1", "")
		require.ErrorIs(t, err, ErrInvalidState)
		assert.Empty(t, f.processor.refunds)
	})
	t.Run("no payment", func(t *testing.T) {
		f := newFixture(t, order.StatusPending)
		_, err := f.svc.Refund(context.Background(), "o1", "")
		require.ErrorIs(t, err, ErrNotFound)
	})
	t.Run("processor failure leaves state", func(t *testing.T) {
		f := newFixture(t, order.StatusConfirmed, successfulPayment())
		f.processor.err = errors.New("boom")
		_, err := f.svc.Refund(context.Background(), "o1", "")
		var ext *ExternalError
		require.ErrorAs(t, err, &ext)

		p, err := f.payments.GetByIntentID(context.Background(), "pi_1")
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, p.Status)
		assert.Equal(t, order.StatusConfirmed, f.orders.status("o1"))
	})
	t.Run("delivered order kept", func(t *testing.T) {
		f := newFixture(t, order.StatusDelivered, successfulPayment())
		_, err := f.svc.Refund(context.Background(), "o1", "")
		require.NoError(t, err)
		assert.Equal(t, order.StatusDelivered, f.orders.status("o1"))
	})
}

func TestCancelIntent(t *testing.T) {
	f := newFixture(t, order.StatusPending, pendingPayment())

	p, err := f.svc.CancelIntent(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, order.StatusCancelled, f.orders.status("o1"))

	_, err = f.svc.CancelIntent(context.Background(), "pi_1")
	require.ErrorIs(t, err, ErrInvalidState)
}

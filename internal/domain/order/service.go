package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/john25coder/pizzaria-app/internal/domain/coupon"
	"github.com/john25coder/pizzaria-app/internal/domain/customer"
	"github.com/john25coder/pizzaria-app/internal/domain/paging"
)

// Quoter prices a set of lines.
type Quoter interface {
	Price(ctx context.Context, lines []Line, couponCode string) (*Quote, error)
}

// CreateRequest holds the input for placing an order.
type CreateRequest struct {
	CustomerID      string
	Lines           []Line
	DeliveryAddress string
	Phone           string
	Notes           string
	CouponCode      string
}

// Service encapsulates order placement and lifecycle rules.
type Service struct {
	customers customer.Repository
	pricer    Quoter
	coupons   coupon.Consumer
	orders    Repository
	tx        TxRunner
	now       func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	customers customer.Repository,
	pricer Quoter,
	coupons coupon.Consumer,
	orders Repository,
	tx TxRunner,
) *Service {
	return &Service{
		customers: customers,
		pricer:    pricer,
		coupons:   coupons,
		orders:    orders,
		tx:        tx,
		now:       time.Now,
	}
}

// Quote prices lines without persisting anything or consuming the coupon.
func (s *Service) Quote(ctx context.Context, lines []Line, couponCode string) (*Quote, error) {
	return s.pricer.Price(ctx, lines, couponCode)
}

// Create prices the order, consumes the coupon and persists the order in
// PENDING. Coupon consumption and the insert share one transaction, so a
// coupon that runs out between pricing and commit fails the order.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	if req.CustomerID == "" {
		return nil, ErrCustomerRequired
	}
	if _, err := s.customers.GetByID(ctx, req.CustomerID); err != nil {
		return nil, err
	}

	q, err := s.pricer.Price(ctx, req.Lines, req.CouponCode)
	if err != nil {
		return nil, err
	}

	now := s.now()
	o := &Order{
		ID:              uuid.New().String(),
		CustomerID:      req.CustomerID,
		Status:          StatusPending,
		Items:           q.Items,
		Subtotal:        q.Subtotal,
		Discount:        q.Discount,
		DeliveryFee:     q.DeliveryFee,
		Total:           q.Total,
		DeliveryAddress: req.DeliveryAddress,
		Phone:           req.Phone,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i := range o.Items {
		o.Items[i].ID = uuid.New().String()
	}
	if q.Coupon != nil {
		o.CouponID = &q.Coupon.ID
		o.CouponCode = q.Coupon.Code
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if q.Coupon != nil {
			if err := s.coupons.Consume(ctx, q.Coupon.ID); err != nil {
				if errors.Is(err, coupon.ErrUsageLimitReached) {
					return &coupon.InvalidCouponError{Code: q.Coupon.Code, Reason: coupon.ReasonUsageLimit}
				}
				return errors.Wrap(err, "consume coupon")
			}
		}
		if err := s.orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Get returns an order with its items.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.orders.Get(ctx, id)
}

// ListByCustomer returns a page of a customer's orders, newest first.
func (s *Service) ListByCustomer(ctx context.Context, customerID string, f ListFilter) (*Page, error) {
	status, err := optionalStatus(f.Status)
	if err != nil {
		return nil, err
	}
	p := f.Params.Normalize()

	orders, total, err := s.orders.ListByCustomer(ctx, customerID, status, p)
	if err != nil {
		return nil, errors.Wrap(err, "list customer orders")
	}
	return &Page{Orders: orders, Info: paging.NewInfo(p, total)}, nil
}

// ListAll returns a page of all orders for the back office.
func (s *Service) ListAll(ctx context.Context, f AdminFilter) (*Page, error) {
	status, err := optionalStatus(f.Status)
	if err != nil {
		return nil, err
	}
	p := f.Params.Normalize()

	orders, total, err := s.orders.List(ctx, status, f.From, f.To, p)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return &Page{Orders: orders, Info: paging.NewInfo(p, total)}, nil
}

// SetStatus moves an order to a new status, enforcing the transition table.
func (s *Service) SetStatus(ctx context.Context, id, status string) (*Order, error) {
	to, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, id, to)
}

// Cancel moves a non-terminal order to CANCELLED. It neither refunds nor
// returns the coupon use.
func (s *Service) Cancel(ctx context.Context, id string) (*Order, error) {
	return s.transition(ctx, id, StatusCancelled)
}

func (s *Service) transition(ctx context.Context, id string, to Status) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.Status.CanTransitionTo(to) {
		return nil, &InvalidTransitionError{From: o.Status, To: to}
	}

	now := s.now()
	if err := s.orders.UpdateStatus(ctx, id, o.Status, to, now); err != nil {
		return nil, err
	}
	o.Status = to
	o.UpdatedAt = now
	return o, nil
}

// Stats counts orders per status and sums revenue from delivered orders.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	counts, revenue, err := s.orders.CountByStatus(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "count orders")
	}

	st := &Stats{
		ByStatus:         make(map[Status]int, len(Statuses)),
		DeliveredRevenue: revenue.Round(2),
	}
	for _, status := range Statuses {
		n := counts[status]
		st.ByStatus[status] = n
		st.Total += n
	}
	return st, nil
}

func optionalStatus(s string) (*Status, error) {
	if s == "" {
		return nil, nil
	}
	st, err := ParseStatus(s)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

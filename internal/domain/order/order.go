package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/john25coder/pizzaria-app/internal/domain/paging"
)

// Order is a customer's priced order. Total always equals
// Subtotal - Discount + DeliveryFee.
type Order struct {
	ID              string
	CustomerID      string
	Status          Status
	Items           []Item
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	DeliveryFee     decimal.Decimal
	Total           decimal.Decimal
	DeliveryAddress string
	Phone           string
	Notes           string
	CouponID        *string
	CouponCode      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Item is one order line with the unit price captured at creation.
type Item struct {
	ID          string
	ProductID   string
	ProductName string
	SizeID      string
	SizeName    string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// LineTotal returns UnitPrice * Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ListFilter narrows a customer's order history.
type ListFilter struct {
	Status string
	paging.Params
}

// AdminFilter narrows the back-office order listing.
type AdminFilter struct {
	Status string
	From   *time.Time
	To     *time.Time
	paging.Params
}

// Page is one page of orders.
type Page struct {
	Orders []Order
	paging.Info
}

// Stats summarizes orders by status.
type Stats struct {
	Total            int
	ByStatus         map[Status]int
	DeliveredRevenue decimal.Decimal
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts the order and its items.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	ListByCustomer(ctx context.Context, customerID string, status *Status, p paging.Params) ([]Order, int, error)
	List(ctx context.Context, status *Status, from, to *time.Time, p paging.Params) ([]Order, int, error)
	// UpdateStatus moves the order from one status to another and returns
	// ErrConcurrentUpdate if the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) error
	CountByStatus(ctx context.Context) (map[Status]int, decimal.Decimal, error)
}

// TxRunner runs fn inside a single database transaction carried by ctx.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

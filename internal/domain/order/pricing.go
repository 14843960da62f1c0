package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/john25coder/pizzaria-app/internal/domain/catalog"
	"github.com/john25coder/pizzaria-app/internal/domain/coupon"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems       = errors.New("items required")
	ErrCustomerRequired = errors.New("customer id required")
	ErrNotFound         = errors.New("order not found")
	ErrConcurrentUpdate = errors.New("order was modified concurrently")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error { return catalog.ErrProductNotFound }

// SizeNotFoundError indicates a requested size does not exist.
type SizeNotFoundError struct {
	SizeID string
}

func (e *SizeNotFoundError) Error() string {
	return fmt.Sprintf("size %s not found", e.SizeID)
}

func (e *SizeNotFoundError) Unwrap() error { return catalog.ErrSizeNotFound }

// UnavailableError indicates a product or size exists but is inactive.
type UnavailableError struct {
	Kind string
	ID   string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s %s is not available", e.Kind, e.ID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// Line is a requested order line before pricing.
type Line struct {
	ProductID string
	SizeID    string
	Quantity  int
}

// Quote is a fully priced set of lines.
type Quote struct {
	Items       []Item
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	DeliveryFee decimal.Decimal
	Total       decimal.Decimal
	Coupon      *coupon.Coupon
}

// Pricer resolves unit prices from sizes and applies coupons.
type Pricer struct {
	products    catalog.ProductRepository
	sizes       catalog.SizeRepository
	coupons     coupon.Validator
	deliveryFee decimal.Decimal
}

// NewPricer creates a Pricer charging a flat delivery fee.
func NewPricer(
	products catalog.ProductRepository,
	sizes catalog.SizeRepository,
	coupons coupon.Validator,
	deliveryFee decimal.Decimal,
) *Pricer {
	return &Pricer{
		products:    products,
		sizes:       sizes,
		coupons:     coupons,
		deliveryFee: deliveryFee.Round(2),
	}
}

// Price validates lines, captures unit prices, and computes the totals.
// A non-empty couponCode that fails validation yields *coupon.InvalidCouponError.
func (p *Pricer) Price(ctx context.Context, lines []Line, couponCode string) (*Quote, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyItems
	}

	productIDs := make([]string, 0, len(lines))
	sizeIDs := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: l.ProductID}
		}
		productIDs = append(productIDs, l.ProductID)
		sizeIDs = append(sizeIDs, l.SizeID)
	}

	// Products and sizes are independent lookups.
	var (
		products []catalog.Product
		sizes    []catalog.Size
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if products, err = p.products.GetProductsByIDs(gctx, productIDs); err != nil {
			return errors.Wrap(err, "get products")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if sizes, err = p.sizes.GetSizesByIDs(gctx, sizeIDs); err != nil {
			return errors.Wrap(err, "get sizes")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	productMap := make(map[string]catalog.Product, len(products))
	for _, pr := range products {
		productMap[pr.ID] = pr
	}
	sizeMap := make(map[string]catalog.Size, len(sizes))
	for _, s := range sizes {
		sizeMap[s.ID] = s
	}

	items := make([]Item, 0, len(lines))
	subtotal := decimal.Zero
	for _, l := range lines {
		pr, ok := productMap[l.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: l.ProductID}
		}
		if !pr.Active {
			return nil, &UnavailableError{Kind: "product", ID: pr.ID}
		}
		sz, ok := sizeMap[l.SizeID]
		if !ok {
			return nil, &SizeNotFoundError{SizeID: l.SizeID}
		}
		if !sz.Active {
			return nil, &UnavailableError{Kind: "size", ID: sz.ID}
		}

		item := Item{
			ProductID:   pr.ID,
			ProductName: pr.Name,
			SizeID:      sz.ID,
			SizeName:    sz.Name,
			Quantity:    l.Quantity,
			UnitPrice:   sz.Price,
		}
		items = append(items, item)
		subtotal = subtotal.Add(item.LineTotal())
	}
	subtotal = subtotal.Round(2)

	q := &Quote{
		Items:       items,
		Subtotal:    subtotal,
		Discount:    decimal.Zero,
		DeliveryFee: p.deliveryFee,
	}

	if code := coupon.NormalizeCode(couponCode); code != "" {
		v, err := p.coupons.Validate(ctx, code)
		if err != nil {
			return nil, errors.Wrap(err, "validate coupon")
		}
		if !v.Valid {
			return nil, &coupon.InvalidCouponError{Code: code, Reason: v.Reason}
		}
		q.Coupon = v.Coupon
		q.Discount = coupon.Apply(v.Coupon, subtotal)
	}

	q.Total = subtotal.Sub(q.Discount).Add(q.DeliveryFee).Round(2)
	return q, nil
}

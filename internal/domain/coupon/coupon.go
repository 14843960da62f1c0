package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported coupon discount strategies.
type Kind string

const (
	// KindPercentage applies a percentage of the subtotal.
	KindPercentage Kind = "PERCENTAGE"
	// KindFixed applies a fixed amount capped at the subtotal.
	KindFixed Kind = "FIXED"
)

// ParseKind validates a discount kind name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindPercentage, KindFixed:
		return k, nil
	default:
		return "", ErrInvalidKind
	}
}

// Human-readable reasons reported by Validate.
const (
	ReasonNotFound   = "coupon not found"
	ReasonInactive   = "coupon is inactive"
	ReasonExpired    = "coupon expired"
	ReasonUsageLimit = "coupon usage limit reached"
)

var (
	// ErrNotFound is returned when a coupon id does not exist.
	ErrNotFound = errors.New("coupon not found")
	// ErrDuplicateCode is returned when another coupon already uses the code.
	ErrDuplicateCode = errors.New("coupon code already exists")
	// ErrCodeRequired is returned for an empty code.
	ErrCodeRequired = errors.New("coupon code is required")
	// ErrInvalidKind is returned for a discount kind other than PERCENTAGE or FIXED.
	ErrInvalidKind = errors.New("invalid discount kind: must be PERCENTAGE or FIXED")
	// ErrInvalidDiscount is returned when the value is out of range for its kind.
	ErrInvalidDiscount = errors.New("invalid discount value")
	// ErrInvalidMaxUses is returned when a usage limit below one is supplied.
	ErrInvalidMaxUses = errors.New("max uses must be at least 1")
	// ErrUsageLimitReached is returned by Consumer when the conditional
	// increment matched no row.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
)

// InvalidCouponError reports why a code cannot be applied to an order.
type InvalidCouponError struct {
	Code   string
	Reason string
}

func (e *InvalidCouponError) Error() string {
	return fmt.Sprintf("invalid coupon %s: %s", e.Code, e.Reason)
}

// Coupon is a discount code.
type Coupon struct {
	ID          string
	Code        string
	Kind        Kind
	Value       decimal.Decimal
	Description string
	ExpiresAt   *time.Time
	MaxUses     *int
	Uses        int
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Check returns the reason the coupon cannot be used at now, or "" if it can.
func (c *Coupon) Check(now time.Time) string {
	switch {
	case !c.Active:
		return ReasonInactive
	case c.ExpiresAt != nil && now.After(*c.ExpiresAt):
		return ReasonExpired
	case c.MaxUses != nil && c.Uses >= *c.MaxUses:
		return ReasonUsageLimit
	}
	return ""
}

// Remaining returns the uses left, or nil for unlimited coupons.
func (c *Coupon) Remaining() *int {
	if c.MaxUses == nil {
		return nil
	}
	left := max(*c.MaxUses-c.Uses, 0)
	return &left
}

// NormalizeCode trims and uppercases a code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Usage aggregates the orders that consumed a coupon.
type Usage struct {
	OrderCount    int
	TotalDiscount decimal.Decimal
}

// Repository provides lookup and mutation of coupons.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Coupon, error)
	// GetByCode returns ErrNotFound when no coupon has the normalized code.
	GetByCode(ctx context.Context, code string) (*Coupon, error)
	List(ctx context.Context, activeOnly bool) ([]Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error
	Usage(ctx context.Context, id string) (*Usage, error)
}

// Consumer atomically takes one use of a coupon. Implementations must only
// increment when the coupon is active, not expired and below its limit, and
// return ErrUsageLimitReached otherwise.
type Consumer interface {
	Consume(ctx context.Context, id string) error
}

package coupon

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Apply calculates the discount a coupon grants on subtotal, rounded to
// cents. The result is always within [0, subtotal].
func Apply(c *Coupon, subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() {
		return decimal.Zero
	}

	var amount decimal.Decimal
	switch c.Kind {
	case KindPercentage:
		amount = subtotal.Mul(c.Value).Div(hundred)
	case KindFixed:
		amount = decimal.Min(c.Value, subtotal)
	default:
		return decimal.Zero
	}

	amount = amount.Round(2)
	if amount.IsNegative() {
		return decimal.Zero
	}
	if amount.GreaterThan(subtotal) {
		return subtotal
	}
	return amount
}

// validateValue checks the value range for a kind.
func validateValue(kind Kind, value decimal.Decimal) error {
	if value.IsNegative() {
		return ErrInvalidDiscount
	}
	if kind == KindPercentage && value.GreaterThan(hundred) {
		return ErrInvalidDiscount
	}
	return nil
}

package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ComputeDiscount calculates the monetary discount an admitted coupon earns
// against the applicable portion of the cart.
//
//   - PERCENTAGE: applicable * value / 100, capped by the coupon's
//     MaxDiscountAmount when set.
//   - FIXED_AMOUNT: min(value, applicable) so the coupon never discounts
//     more than the items it covers.
//   - FREE_SHIPPING: always zero; the caller waives shipping off the
//     validity signal alone.
//
// Results are rounded to 2 decimal places, half away from zero, and never
// negative.
func ComputeDiscount(c *Coupon, applicable decimal.Decimal) (decimal.Decimal, error) {
	switch c.Type {
	case TypePercentage:
		raw := applicable.Mul(c.Value).Div(hundred)
		if c.MaxDiscountAmount != nil {
			raw = decimal.Min(raw, *c.MaxDiscountAmount)
		}
		return clampRound(raw), nil
	case TypeFixedAmount:
		return clampRound(decimal.Min(c.Value, applicable)), nil
	case TypeFreeShipping:
		return decimal.Zero, nil
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", c.Type)
	}
}

// clampRound floors negatives to zero and rounds to currency precision.
// decimal.Round rounds half away from zero, matching currency rounding.
func clampRound(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d.Round(2)
}

package coupon

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Rejection messages surfaced to shoppers. Exactly one is chosen per
// evaluation, decided by the fixed check order in Evaluate.
const (
	MsgInvalidCode   = "Invalid coupon code"
	MsgInactive      = "This coupon is no longer active"
	MsgExpired       = "This coupon has expired or is not yet valid"
	MsgUsageLimit    = "This coupon has reached its usage limit"
	MsgPerUserLimit  = "You have already used this coupon the maximum number of times"
	MsgFirstTimeOnly = "This coupon is only valid for first-time customers"
	MsgNotApplicable = "This coupon is not applicable to any items in your cart"
)

// MinOrderMessage formats the minimum-order rejection for the given
// threshold, e.g. "Minimum order value of ৳500 required".
func MinOrderMessage(minOrder decimal.Decimal) string {
	return fmt.Sprintf("Minimum order value of ৳%s required", minOrder)
}

// Evaluate decides whether the coupon can be applied to the cart and, when
// it can, what it is worth. Checks run in a fixed order and short-circuit on
// the first failure so rejection messages are deterministic:
//
//	active → validity window → global usage limit → per-user limit →
//	minimum order value → first-purchase restriction → applicability.
//
// The validity window is inclusive on both ends: a coupon whose ValidUntil
// equals now is still admitted. Existence (check one) is the caller's
// concern; a failed lookup maps to MsgInvalidCode before Evaluate is
// reached.
//
// Evaluate is pure: it reads only its arguments and performs no I/O, so
// re-validation is always safe.
func Evaluate(c *Coupon, items []CartItem, user UserContext, subtotal decimal.Decimal, now time.Time) ValidationResult {
	reject := func(msg string) ValidationResult {
		return ValidationResult{
			Message:     msg,
			Discount:    decimal.Zero,
			FinalAmount: subtotal.Round(2),
		}
	}

	if !c.IsActive {
		return reject(MsgInactive)
	}
	if now.Before(c.ValidFrom) || c.Expired(now) {
		return reject(MsgExpired)
	}
	if c.MaxUses != nil && c.UsedCount >= *c.MaxUses {
		return reject(MsgUsageLimit)
	}
	if c.MaxUsesPerUser != nil && user.UsageCount >= *c.MaxUsesPerUser {
		return reject(MsgPerUserLimit)
	}
	if c.MinOrderValue != nil && subtotal.LessThan(*c.MinOrderValue) {
		return reject(MinOrderMessage(*c.MinOrderValue))
	}
	if c.FirstTimeOnly && user.HasPriorOrders {
		return reject(MsgFirstTimeOnly)
	}

	applicable := ApplicableAmount(c, items)
	if !applicable.IsPositive() {
		return reject(MsgNotApplicable)
	}

	discount, err := ComputeDiscount(c, applicable)
	if err != nil {
		// Unknown discount type on a stored coupon is a data integrity
		// problem, not a shopper mistake. Fail closed.
		return reject(MsgInvalidCode)
	}

	final := subtotal.Sub(discount)
	if final.IsNegative() {
		final = decimal.Zero
	}

	return ValidationResult{
		Valid:        true,
		Discount:     discount,
		FinalAmount:  final.Round(2),
		FreeShipping: c.Type == TypeFreeShipping,
		CouponID:     c.ID,
	}
}

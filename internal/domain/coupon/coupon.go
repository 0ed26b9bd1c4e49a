// Package coupon implements the storefront's discount engine: coupon
// eligibility evaluation, discount calculation, auto-apply selection, and
// usage bookkeeping.
package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported coupon discount strategies.
type Type string

const (
	// TypePercentage discounts a percentage of the applicable cart value.
	TypePercentage Type = "PERCENTAGE"
	// TypeFixedAmount discounts a fixed sum, capped at the applicable cart value.
	TypeFixedAmount Type = "FIXED_AMOUNT"
	// TypeFreeShipping waives the shipping cost. The engine only signals
	// eligibility; the checkout flow zeroes the shipping charge itself.
	TypeFreeShipping Type = "FREE_SHIPPING"
)

var (
	// ErrNotFound is returned by store lookups when no coupon matches.
	ErrNotFound = errors.New("coupon not found")
	// ErrCodeTaken is returned when creating a coupon with a code that
	// already exists.
	ErrCodeTaken = errors.New("coupon code already exists")
	// ErrInvalidDefinition is returned when an admin submits a coupon
	// definition that violates value or date constraints.
	ErrInvalidDefinition = errors.New("invalid coupon definition")
	// ErrUsageLimitExceeded is returned by Commit when the conditional
	// increment finds the coupon (or the user's allowance) already
	// exhausted. It is distinct from a validation rejection: it happens
	// after the caller believed the coupon was valid.
	ErrUsageLimitExceeded = errors.New("coupon usage limit exceeded")
	// ErrCodeGeneration is returned when unique code generation exhausts
	// its attempt budget.
	ErrCodeGeneration = errors.New("could not generate a unique coupon code")
)

// Coupon is the offer definition. UsedCount is mutated exclusively through
// the usage Ledger; every other field is written only by admin operations.
type Coupon struct {
	ID          uuid.UUID
	Code        string
	Name        string
	Description string

	Type              Type
	Value             decimal.Decimal
	MaxDiscountAmount *decimal.Decimal

	MinOrderValue        *decimal.Decimal
	ValidFrom            time.Time
	ValidUntil           time.Time
	MaxUses              *int
	MaxUsesPerUser       *int
	FirstTimeOnly        bool
	ApplicableProducts   []string
	ExcludedProducts     []string
	ApplicableCategories []string

	IsActive  bool
	IsPublic  bool
	AutoApply bool
	Stackable bool

	UsedCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the coupon's validity window has closed at the
// given instant. The upper bound is inclusive: a coupon is still valid at
// exactly ValidUntil. Expiry is always derived from the window, never cached.
func (c *Coupon) Expired(now time.Time) bool {
	return now.After(c.ValidUntil)
}

// UserCoupon tracks how many times a single user has redeemed a coupon.
// Rows are created lazily on first use and owned exclusively by the Ledger.
type UserCoupon struct {
	UserID     uuid.UUID
	CouponID   uuid.UUID
	UsedCount  int
	LastUsedAt time.Time
}

// CartItem is a read-only line item snapshot supplied by the cart subsystem.
// Category is empty when the product has no category assigned.
type CartItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	Category  string
}

// UserContext carries the per-user facts the evaluator needs. The service
// resolves these from the ledger and the order subsystem before evaluation,
// so the evaluator itself stays pure.
type UserContext struct {
	UserID uuid.UUID
	// UsageCount is how many times this user has already redeemed the
	// coupon under evaluation.
	UsageCount int
	// HasPriorOrders reports whether the user has at least one completed
	// order, as told by the order subsystem.
	HasPriorOrders bool
}

// ValidationResult is the engine's answer to "can this coupon be applied to
// this cart". Rejections are data, not errors: exactly one Message is set,
// chosen by the fixed check order of the evaluator.
type ValidationResult struct {
	Valid   bool
	Message string
	// Discount is the monetary reduction, rounded to 2 decimal places.
	// Always zero for FREE_SHIPPING coupons.
	Discount decimal.Decimal
	// FinalAmount is subtotal minus discount, floored at zero.
	FinalAmount decimal.Decimal
	// FreeShipping tells the caller to waive the shipping charge.
	FreeShipping bool
	// CouponID is set only when Valid; the caller needs it to commit usage
	// after the order is placed.
	CouponID uuid.UUID
}

// NormalizeCode maps a user-submitted code to its canonical stored form.
// Codes are compared and stored upper-case.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ListFilter holds the named predicates for the admin coupon listing.
// Empty string predicates match everything; a nil Active matches both
// active and inactive coupons.
type ListFilter struct {
	CodeContains        string
	NameContains        string
	DescriptionContains string
	Active              *bool
	Limit               int
	Offset              int
}

// Stats summarises the coupon table for correctness verification.
type Stats struct {
	Total            int
	Active           int
	Expired          int
	TotalRedemptions int
}

// Store provides persistence for coupon definitions. Implementations must
// not mutate usage counters; that is the Ledger's job.
type Store interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	CreateBatch(ctx context.Context, cs []*Coupon) error
	Update(ctx context.Context, c *Coupon) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter) ([]Coupon, int, error)
	ListPublicActive(ctx context.Context, now time.Time) ([]Coupon, error)
	// ListAutoApplyActive returns active auto-apply coupons whose minimum
	// order value (when set) is already satisfied by subtotal, ordered by
	// value descending so the richest discount is evaluated first.
	ListAutoApplyActive(ctx context.Context, now time.Time, subtotal decimal.Decimal) ([]Coupon, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	Stats(ctx context.Context, now time.Time) (*Stats, error)
}

// Ledger is the only component permitted to increment usage counters.
type Ledger interface {
	// Commit atomically increments the coupon's global counter and upserts
	// the per-user counter. Both increments are conditional: when either
	// limit is already exhausted the whole commit rolls back and
	// ErrUsageLimitExceeded is returned.
	Commit(ctx context.Context, couponID, userID uuid.UUID) error
	// UserUsage returns the user's usage row for a coupon, or nil when the
	// user has never redeemed it.
	UserUsage(ctx context.Context, couponID, userID uuid.UUID) (*UserCoupon, error)
	// UsageByUser returns all of a user's usage rows keyed by coupon ID.
	UsageByUser(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]UserCoupon, error)
}

// OrderHistory is the engine's view of the order subsystem, consulted only
// for first-time-only coupons.
type OrderHistory interface {
	HasCompletedOrders(ctx context.Context, userID uuid.UUID) (bool, error)
}

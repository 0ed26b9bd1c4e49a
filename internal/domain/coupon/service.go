package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service is the engine's entry point for the checkout flow. It glues the
// store, the usage ledger, and the order subsystem to the pure evaluator.
type Service struct {
	store  Store
	ledger Ledger
	orders OrderHistory
	now    func() time.Time
}

// NewService creates a Service with the required collaborators.
func NewService(store Store, ledger Ledger, orders OrderHistory) *Service {
	return &Service{
		store:  store,
		ledger: ledger,
		orders: orders,
		now:    time.Now,
	}
}

// Validate checks whether the coupon identified by code can be applied to
// the cart. The code is case-normalized before lookup, so "save50" and
// "SAVE50" yield identical results. An unknown code is a business rejection
// (MsgInvalidCode), not an error; errors signal store failures only.
func (s *Service) Validate(
	ctx context.Context,
	code string,
	items []CartItem,
	userID uuid.UUID,
	subtotal decimal.Decimal,
) (ValidationResult, error) {
	c, err := s.store.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ValidationResult{
				Message:     MsgInvalidCode,
				FinalAmount: subtotal.Round(2),
			}, nil
		}
		return ValidationResult{}, errors.Wrap(err, "find coupon by code")
	}

	user, err := s.userContext(ctx, c, userID)
	if err != nil {
		return ValidationResult{}, err
	}

	return Evaluate(c, items, user, subtotal, s.now()), nil
}

// AvailableCoupon is a public coupon annotated with the requesting user's
// own usage of it.
type AvailableCoupon struct {
	Coupon
	UserUsedCount int
}

// ListAvailable returns all public, active coupons whose validity window
// contains now, each annotated with how many times the user has already
// redeemed it.
func (s *Service) ListAvailable(ctx context.Context, userID uuid.UUID) ([]AvailableCoupon, error) {
	coupons, err := s.store.ListPublicActive(ctx, s.now())
	if err != nil {
		return nil, errors.Wrap(err, "list public coupons")
	}

	usage, err := s.ledger.UsageByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load user usage")
	}

	out := make([]AvailableCoupon, len(coupons))
	for i, c := range coupons {
		out[i] = AvailableCoupon{Coupon: c, UserUsedCount: usage[c.ID].UsedCount}
	}
	return out, nil
}

// AutoApplied is an auto-apply coupon that passed evaluation, annotated
// with the discount it would earn against the current cart.
type AutoApplied struct {
	Coupon       Coupon
	Discount     decimal.Decimal
	FinalAmount  decimal.Decimal
	FreeShipping bool
}

// AutoApply finds every auto-apply coupon the cart and user qualify for.
// Candidates are evaluated independently, ordered by value descending, and
// every passing coupon is returned.
//
// The selector deliberately does not consult the Stackable flag: deciding
// how many of the returned coupons to combine on one order is the caller's
// contract, not the engine's.
func (s *Service) AutoApply(
	ctx context.Context,
	items []CartItem,
	subtotal decimal.Decimal,
	userID uuid.UUID,
) ([]AutoApplied, error) {
	now := s.now()

	candidates, err := s.store.ListAutoApplyActive(ctx, now, subtotal)
	if err != nil {
		return nil, errors.Wrap(err, "list auto-apply coupons")
	}

	var applied []AutoApplied
	for i := range candidates {
		c := &candidates[i]

		user, err := s.userContext(ctx, c, userID)
		if err != nil {
			return nil, err
		}

		res := Evaluate(c, items, user, subtotal, now)
		if !res.Valid {
			continue
		}
		applied = append(applied, AutoApplied{
			Coupon:       *c,
			Discount:     res.Discount,
			FinalAmount:  res.FinalAmount,
			FreeShipping: res.FreeShipping,
		})
	}
	return applied, nil
}

// CommitUsage durably records one redemption of the coupon by the user.
// It must be called exactly once per order, after the order has been
// created. A returned ErrUsageLimitExceeded means another checkout won the
// race for the last allowed use; the caller must drop the discount and
// re-price, or fail the order.
func (s *Service) CommitUsage(ctx context.Context, couponID, userID uuid.UUID) error {
	return s.ledger.Commit(ctx, couponID, userID)
}

// userContext resolves the per-user facts the evaluator needs, fetching
// only what the coupon's rules will actually consult.
func (s *Service) userContext(ctx context.Context, c *Coupon, userID uuid.UUID) (UserContext, error) {
	user := UserContext{UserID: userID}

	if c.MaxUsesPerUser != nil {
		usage, err := s.ledger.UserUsage(ctx, c.ID, userID)
		if err != nil {
			return user, errors.Wrap(err, "load user usage")
		}
		if usage != nil {
			user.UsageCount = usage.UsedCount
		}
	}

	if c.FirstTimeOnly {
		prior, err := s.orders.HasCompletedOrders(ctx, userID)
		if err != nil {
			return user, errors.Wrap(err, "check order history")
		}
		user.HasPriorOrders = prior
	}

	return user, nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taazabazar/coupon-engine/internal/domain/coupon"
)

const (
	// Conditional global increment: zero rows affected means the coupon's
	// usage cap is already exhausted. The row lock taken by the UPDATE
	// serializes concurrent commits against the same coupon, so the final
	// used_count can never exceed max_uses no matter how many checkouts
	// validated against the same stale snapshot.
	incrementCouponUsageSQL = `UPDATE coupons
	SET used_count = used_count + 1, updated_at = now()
	WHERE id = $1 AND (max_uses IS NULL OR used_count < max_uses)`

	// Conditional per-user upsert. The DO UPDATE guard rejects the
	// increment when the user's allowance is exhausted; pgx then reports
	// no returned row and the surrounding transaction rolls back the
	// global increment too.
	upsertUserUsageSQL = `INSERT INTO user_coupons (user_id, coupon_id, used_count, last_used_at)
	VALUES ($1, $2, 1, now())
	ON CONFLICT (user_id, coupon_id) DO UPDATE
	SET used_count = user_coupons.used_count + 1, last_used_at = now()
	WHERE (SELECT max_uses_per_user FROM coupons WHERE id = $2) IS NULL
	   OR user_coupons.used_count < (SELECT max_uses_per_user FROM coupons WHERE id = $2)
	RETURNING used_count`

	userUsageSQL = `SELECT user_id, coupon_id, used_count, last_used_at
	FROM user_coupons WHERE coupon_id = $1 AND user_id = $2`

	usageByUserSQL = `SELECT user_id, coupon_id, used_count, last_used_at
	FROM user_coupons WHERE user_id = $1`
)

var _ coupon.Ledger = (*UsageLedger)(nil)

// UsageLedger implements coupon.Ledger backed by PostgreSQL. It is the only
// code path in the system that writes usage counters; all correctness under
// concurrent checkouts comes from the conditional statements above running
// inside one transaction.
type UsageLedger struct {
	pool *pgxpool.Pool
}

// NewUsageLedger returns a UsageLedger that uses the given pool.
func NewUsageLedger(pool *pgxpool.Pool) *UsageLedger {
	return &UsageLedger{pool: pool}
}

// Commit records one redemption: the global counter and the per-user
// counter move together or not at all. When either conditional write finds
// its limit exhausted, the transaction rolls back and
// coupon.ErrUsageLimitExceeded is returned so the caller can re-price or
// fail the order.
func (l *UsageLedger) Commit(ctx context.Context, couponID, userID uuid.UUID) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning usage commit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, incrementCouponUsageSQL, couponID)
	if err != nil {
		return fmt.Errorf("incrementing usage for coupon %q: %w", couponID, err)
	}
	if tag.RowsAffected() == 0 {
		// Either the cap is reached or the coupon is gone; both mean the
		// redemption the caller validated earlier is no longer available.
		return coupon.ErrUsageLimitExceeded
	}

	var used int
	err = tx.QueryRow(ctx, upsertUserUsageSQL, userID, couponID).Scan(&used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.ErrUsageLimitExceeded
		}
		return fmt.Errorf("upserting usage for user %q coupon %q: %w", userID, couponID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing usage: %w", err)
	}
	return nil
}

// UserUsage returns the user's usage row for a coupon, or nil when the user
// has never redeemed it.
func (l *UsageLedger) UserUsage(ctx context.Context, couponID, userID uuid.UUID) (*coupon.UserCoupon, error) {
	rows, err := l.pool.Query(ctx, userUsageSQL, couponID, userID)
	if err != nil {
		return nil, fmt.Errorf("finding usage for coupon %q: %w", couponID, err)
	}

	uc, err := pgx.CollectExactlyOneRow(rows, scanUserCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding usage for coupon %q: %w", couponID, err)
	}
	return &uc, nil
}

// UsageByUser returns all of a user's usage rows keyed by coupon ID.
func (l *UsageLedger) UsageByUser(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]coupon.UserCoupon, error) {
	rows, err := l.pool.Query(ctx, usageByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing usage for user %q: %w", userID, err)
	}

	usages, err := pgx.CollectRows(rows, scanUserCoupon)
	if err != nil {
		return nil, fmt.Errorf("listing usage for user %q: %w", userID, err)
	}

	byCoupon := make(map[uuid.UUID]coupon.UserCoupon, len(usages))
	for _, uc := range usages {
		byCoupon[uc.CouponID] = uc
	}
	return byCoupon, nil
}

func scanUserCoupon(row pgx.CollectableRow) (coupon.UserCoupon, error) {
	var uc coupon.UserCoupon
	err := row.Scan(&uc.UserID, &uc.CouponID, &uc.UsedCount, &uc.LastUsedAt)
	return uc, err
}

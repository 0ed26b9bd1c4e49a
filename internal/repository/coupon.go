package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/taazabazar/coupon-engine/internal/domain/coupon"
)

const couponColumns = `id, code, name, description, discount_type, value,
	max_discount_amount, min_order_value, valid_from, valid_until,
	max_uses, max_uses_per_user, first_time_only,
	applicable_products, excluded_products, applicable_categories,
	is_active, is_public, auto_apply, stackable, used_count,
	created_at, updated_at`

const (
	findCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	findCouponByIDSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	insertCouponSQL = `INSERT INTO coupons (
		id, code, name, description, discount_type, value,
		max_discount_amount, min_order_value, valid_from, valid_until,
		max_uses, max_uses_per_user, first_time_only,
		applicable_products, excluded_products, applicable_categories,
		is_active, is_public, auto_apply, stackable
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	RETURNING used_count, created_at, updated_at`

	updateCouponSQL = `UPDATE coupons SET
		code = $2, name = $3, description = $4, discount_type = $5, value = $6,
		max_discount_amount = $7, min_order_value = $8, valid_from = $9, valid_until = $10,
		max_uses = $11, max_uses_per_user = $12, first_time_only = $13,
		applicable_products = $14, excluded_products = $15, applicable_categories = $16,
		is_active = $17, is_public = $18, auto_apply = $19, stackable = $20,
		updated_at = now()
	WHERE id = $1
	RETURNING updated_at`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`

	// Named predicates combined in the store, deliberately not a dynamic
	// filter builder. Empty-string predicates match everything; a NULL
	// active filter matches both states.
	listCouponsSQL = `SELECT ` + couponColumns + `, count(*) OVER () AS total
	FROM coupons
	WHERE ($1 = '' OR code ILIKE '%' || $1 || '%')
	  AND ($2 = '' OR name ILIKE '%' || $2 || '%')
	  AND ($3 = '' OR description ILIKE '%' || $3 || '%')
	  AND ($4::boolean IS NULL OR is_active = $4)
	ORDER BY created_at DESC
	LIMIT $5 OFFSET $6`

	listPublicActiveSQL = `SELECT ` + couponColumns + ` FROM coupons
	WHERE is_public AND is_active AND valid_from <= $1 AND valid_until >= $1
	ORDER BY value DESC`

	listAutoApplyActiveSQL = `SELECT ` + couponColumns + ` FROM coupons
	WHERE auto_apply AND is_active
	  AND valid_from <= $1 AND valid_until >= $1
	  AND (min_order_value IS NULL OR min_order_value <= $2)
	ORDER BY value DESC`

	codeExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE code = $1)`

	couponStatsSQL = `SELECT
		count(*),
		count(*) FILTER (WHERE is_active AND valid_until >= $1),
		count(*) FILTER (WHERE valid_until < $1),
		COALESCE(sum(used_count), 0)
	FROM coupons`
)

var _ coupon.Store = (*CouponStore)(nil)

// CouponStore implements coupon.Store backed by PostgreSQL. It never writes
// usage counters; those belong to UsageLedger.
type CouponStore struct {
	pool *pgxpool.Pool
}

// NewCouponStore returns a CouponStore that uses the given pool.
func NewCouponStore(pool *pgxpool.Pool) *CouponStore {
	return &CouponStore{pool: pool}
}

// FindByCode looks up a coupon by its normalized code.
// Returns coupon.ErrNotFound when no coupon matches.
func (s *CouponStore) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return s.findOne(ctx, findCouponByCodeSQL, code)
}

// FindByID looks up a coupon by its identifier.
func (s *CouponStore) FindByID(ctx context.Context, id uuid.UUID) (*coupon.Coupon, error) {
	return s.findOne(ctx, findCouponByIDSQL, id)
}

func (s *CouponStore) findOne(ctx context.Context, sql string, arg any) (*coupon.Coupon, error) {
	rows, err := s.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("finding coupon: %w", err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon: %w", err)
	}
	return &c, nil
}

// Create persists a new coupon. A duplicate code maps to coupon.ErrCodeTaken.
func (s *CouponStore) Create(ctx context.Context, c *coupon.Coupon) error {
	err := s.pool.QueryRow(ctx, insertCouponSQL, insertArgs(c)...).
		Scan(&c.UsedCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrCodeTaken
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

// CreateBatch persists many coupons in one round trip via pgx batching.
func (s *CouponStore) CreateBatch(ctx context.Context, cs []*coupon.Coupon) error {
	batch := &pgx.Batch{}
	for _, c := range cs {
		batch.Queue(insertCouponSQL, insertArgs(c)...).QueryRow(func(row pgx.Row) error {
			return row.Scan(&c.UsedCount, &c.CreatedAt, &c.UpdatedAt)
		})
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrCodeTaken
		}
		return fmt.Errorf("creating coupon batch: %w", err)
	}
	return nil
}

// Update overwrites all definition fields of an existing coupon. The usage
// counter is intentionally absent from the statement.
func (s *CouponStore) Update(ctx context.Context, c *coupon.Coupon) error {
	args := append([]any{c.ID}, insertArgs(c)[1:]...)
	err := s.pool.QueryRow(ctx, updateCouponSQL, args...).Scan(&c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.ErrNotFound
		}
		if isUniqueViolation(err) {
			return coupon.ErrCodeTaken
		}
		return fmt.Errorf("updating coupon %q: %w", c.ID, err)
	}
	return nil
}

// Delete removes a coupon. Usage rows cascade via the foreign key.
func (s *CouponStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// List returns coupons matching the named predicates plus the total match
// count for pagination.
func (s *CouponStore) List(ctx context.Context, f coupon.ListFilter) ([]coupon.Coupon, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, listCouponsSQL,
		f.CodeContains, f.NameContains, f.DescriptionContains, f.Active, limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing coupons: %w", err)
	}

	total := 0
	coupons, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (coupon.Coupon, error) {
		return scanCouponWithTotal(row, &total)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("listing coupons: %w", err)
	}
	return coupons, total, nil
}

// ListPublicActive returns every public, active coupon whose validity
// window contains now.
func (s *CouponStore) ListPublicActive(ctx context.Context, now time.Time) ([]coupon.Coupon, error) {
	rows, err := s.pool.Query(ctx, listPublicActiveSQL, now)
	if err != nil {
		return nil, fmt.Errorf("listing public coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// ListAutoApplyActive returns active auto-apply coupons already satisfied by
// the subtotal floor, richest value first.
func (s *CouponStore) ListAutoApplyActive(ctx context.Context, now time.Time, subtotal decimal.Decimal) ([]coupon.Coupon, error) {
	rows, err := s.pool.Query(ctx, listAutoApplyActiveSQL, now, subtotal)
	if err != nil {
		return nil, fmt.Errorf("listing auto-apply coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// CodeExists reports whether any coupon already uses the given code.
func (s *CouponStore) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, codeExistsSQL, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking code %q: %w", code, err)
	}
	return exists, nil
}

// Stats aggregates coupon counters. Expiry is computed against the passed
// instant, never read from a stored flag.
func (s *CouponStore) Stats(ctx context.Context, now time.Time) (*coupon.Stats, error) {
	var st coupon.Stats
	err := s.pool.QueryRow(ctx, couponStatsSQL, now).
		Scan(&st.Total, &st.Active, &st.Expired, &st.TotalRedemptions)
	if err != nil {
		return nil, fmt.Errorf("loading coupon stats: %w", err)
	}
	return &st, nil
}

func insertArgs(c *coupon.Coupon) []any {
	return []any{
		c.ID, c.Code, c.Name, c.Description, string(c.Type), c.Value,
		c.MaxDiscountAmount, c.MinOrderValue, c.ValidFrom, c.ValidUntil,
		c.MaxUses, c.MaxUsesPerUser, c.FirstTimeOnly,
		c.ApplicableProducts, c.ExcludedProducts, c.ApplicableCategories,
		c.IsActive, c.IsPublic, c.AutoApply, c.Stackable,
	}
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Name, &c.Description, &discountType, &c.Value,
		&c.MaxDiscountAmount, &c.MinOrderValue, &c.ValidFrom, &c.ValidUntil,
		&c.MaxUses, &c.MaxUsesPerUser, &c.FirstTimeOnly,
		&c.ApplicableProducts, &c.ExcludedProducts, &c.ApplicableCategories,
		&c.IsActive, &c.IsPublic, &c.AutoApply, &c.Stackable, &c.UsedCount,
		&c.CreatedAt, &c.UpdatedAt,
	)
	c.Type = coupon.Type(discountType)
	return c, err
}

func scanCouponWithTotal(row pgx.CollectableRow, total *int) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Name, &c.Description, &discountType, &c.Value,
		&c.MaxDiscountAmount, &c.MinOrderValue, &c.ValidFrom, &c.ValidUntil,
		&c.MaxUses, &c.MaxUsesPerUser, &c.FirstTimeOnly,
		&c.ApplicableProducts, &c.ExcludedProducts, &c.ApplicableCategories,
		&c.IsActive, &c.IsPublic, &c.AutoApply, &c.Stackable, &c.UsedCount,
		&c.CreatedAt, &c.UpdatedAt, total,
	)
	c.Type = coupon.Type(discountType)
	return c, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

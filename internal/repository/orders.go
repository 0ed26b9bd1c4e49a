package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taazabazar/coupon-engine/internal/domain/coupon"
)

const hasCompletedOrdersSQL = `SELECT EXISTS (
	SELECT 1 FROM orders WHERE user_id = $1 AND status = 'COMPLETED'
)`

var _ coupon.OrderHistory = (*OrderHistory)(nil)

// OrderHistory answers first-purchase questions by reading the order
// subsystem's table directly. The table is owned by the order service; this
// engine only ever reads from it.
type OrderHistory struct {
	pool *pgxpool.Pool
}

// NewOrderHistory returns an OrderHistory that uses the given pool.
func NewOrderHistory(pool *pgxpool.Pool) *OrderHistory {
	return &OrderHistory{pool: pool}
}

// HasCompletedOrders reports whether the user has at least one completed
// order.
func (h *OrderHistory) HasCompletedOrders(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	if err := h.pool.QueryRow(ctx, hasCompletedOrdersSQL, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking order history for user %q: %w", userID, err)
	}
	return exists, nil
}

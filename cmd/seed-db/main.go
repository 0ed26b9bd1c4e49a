// Command seed-db prepares a database for local development: it runs
// migrations, inserts a handful of sample coupons, and registers an admin
// API key.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/taazabazar/coupon-engine/internal/domain/auth"
	"github.com/taazabazar/coupon-engine/internal/domain/coupon"
	"github.com/taazabazar/coupon-engine/internal/repository"
)

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or COUPON_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or COUPON_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("COUPON_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or COUPON_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("COUPON_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCoupons(ctx, repository.NewCouponStore(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(n int) *int { return &n }

func seedCoupons(ctx context.Context, store *repository.CouponStore) error {
	slog.Info("seeding sample coupons")

	now := time.Now().UTC()
	year := now.AddDate(1, 0, 0)

	coupons := []*coupon.Coupon{
		{
			ID:          uuid.New(),
			Code:        "SAVE50",
			Name:        "Taka 50 Off",
			Description: "Flat 50 off any order",
			Type:        coupon.TypeFixedAmount,
			Value:       dec("50"),
			ValidFrom:   now,
			ValidUntil:  year,
			IsActive:    true,
			IsPublic:    true,
		},
		{
			ID:                uuid.New(),
			Code:              "WELCOME10",
			Name:              "Welcome Discount",
			Description:       "10% off your first order, up to 100",
			Type:              coupon.TypePercentage,
			Value:             dec("10"),
			MaxDiscountAmount: decPtr("100"),
			FirstTimeOnly:     true,
			MaxUsesPerUser:    intPtr(1),
			ValidFrom:         now,
			ValidUntil:        year,
			IsActive:          true,
			IsPublic:          true,
		},
		{
			ID:            uuid.New(),
			Code:          "FREESHIP",
			Name:          "Free Delivery",
			Description:   "Free delivery on orders over 500",
			Type:          coupon.TypeFreeShipping,
			Value:         decimal.Zero,
			MinOrderValue: decPtr("500"),
			ValidFrom:     now,
			ValidUntil:    year,
			IsActive:      true,
			IsPublic:      true,
			AutoApply:     true,
		},
	}

	for _, c := range coupons {
		if err := store.Create(ctx, c); err != nil {
			if errors.Is(err, coupon.ErrCodeTaken) {
				slog.Info("coupon already present", slog.String("code", c.Code))
				continue
			}
			return errors.Wrapf(err, "insert coupon %s", c.Code)
		}
		slog.Info("inserted coupon", slog.String("code", c.Code), slog.String("name", c.Name))
	}

	return nil
}

const upsertAPIKeySQL = `
INSERT INTO api_keys (id, key_hash, name, scopes)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key_hash) DO UPDATE SET name = EXCLUDED.name, revoked_at = NULL`

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding admin API key")

	keyHash := auth.HashKey([]byte(pepper), apiKey)

	if _, err := pool.Exec(ctx, upsertAPIKeySQL,
		uuid.New(), keyHash, "Local admin key", []string{auth.ScopeAdmin},
	); err != nil {
		return errors.Wrap(err, "upsert admin API key")
	}

	slog.Info("upserted API key", slog.String("name", "Local admin key"))
	return nil
}

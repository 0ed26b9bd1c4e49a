package coupon

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Draft is the admin input for creating a coupon. The zero value of each
// optional pointer field means "no constraint".
type Draft struct {
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
}

// Patch is a partial coupon update. Nil fields are left unchanged.
// Clearing an optional constraint is done by updating it to a fresh draft
// via Create semantics; Patch only narrows or adjusts.
type Patch struct {
	Code        *string
	Name        *string
	Description *string

	Value             *decimal.Decimal
	MaxDiscountAmount *decimal.Decimal

	MinOrderValue        *decimal.Decimal
	ValidFrom            *time.Time
	ValidUntil           *time.Time
	MaxUses              *int
	MaxUsesPerUser       *int
	FirstTimeOnly        *bool
	ApplicableProducts   []string
	ExcludedProducts     []string
	ApplicableCategories []string

	IsActive  *bool
	IsPublic  *bool
	AutoApply *bool
	Stackable *bool
}

// Create validates the draft and persists a new coupon. The code is
// normalized to upper-case before storage. Value range and date ordering
// violations return errors wrapping ErrInvalidDefinition.
func (s *Service) Create(ctx context.Context, d Draft) (*Coupon, error) {
	c := &Coupon{
		ID:                   uuid.New(),
		Code:                 NormalizeCode(d.Code),
		Name:                 d.Name,
		Description:          d.Description,
		Type:                 d.Type,
		Value:                d.Value,
		MaxDiscountAmount:    d.MaxDiscountAmount,
		MinOrderValue:        d.MinOrderValue,
		ValidFrom:            d.ValidFrom,
		ValidUntil:           d.ValidUntil,
		MaxUses:              d.MaxUses,
		MaxUsesPerUser:       d.MaxUsesPerUser,
		FirstTimeOnly:        d.FirstTimeOnly,
		ApplicableProducts:   d.ApplicableProducts,
		ExcludedProducts:     d.ExcludedProducts,
		ApplicableCategories: d.ApplicableCategories,
		IsActive:             d.IsActive,
		IsPublic:             d.IsPublic,
		AutoApply:            d.AutoApply,
		Stackable:            d.Stackable,
	}

	if err := validateDefinition(c); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create coupon")
	}
	return c, nil
}

// Update applies a partial patch to an existing coupon and persists the
// result after re-validation. A patched code is re-normalized.
func (s *Service) Update(ctx context.Context, id uuid.UUID, p Patch) (*Coupon, error) {
	c, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "find coupon")
	}

	applyPatch(c, p)

	if err := validateDefinition(c); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, c); err != nil {
		return nil, errors.Wrap(err, "update coupon")
	}
	return c, nil
}

// Delete removes a coupon; the store cascades the per-user usage rows.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.store.Delete(ctx, id)
}

// Get returns a coupon by ID together with the requesting user's usage row
// (nil when the user has never redeemed it).
func (s *Service) Get(ctx context.Context, id, userID uuid.UUID) (*Coupon, *UserCoupon, error) {
	c, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, nil, errors.Wrap(err, "find coupon")
	}
	usage, err := s.ledger.UserUsage(ctx, id, userID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load user usage")
	}
	return c, usage, nil
}

// List returns coupons matching the filter plus the total match count for
// pagination.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Coupon, int, error) {
	return s.store.List(ctx, f)
}

// Stats reports aggregate counters over the coupon table.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx, s.now())
}

// codeAlphabet deliberately omits easily-confused characters (0/O, 1/I).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	codeSuffixLen       = 8
	codeGenMaxAttempts  = 10
	bulkCreateBatchSize = 500
)

// GenerateUniqueCode produces a coupon code of the form PREFIX-XXXXXXXX
// that does not yet exist in the store. It gives up after a bounded number
// of attempts and returns an error wrapping ErrCodeGeneration.
func (s *Service) GenerateUniqueCode(ctx context.Context, prefix string) (string, error) {
	prefix = NormalizeCode(prefix)

	for attempt := 0; attempt < codeGenMaxAttempts; attempt++ {
		code, err := randomCode(prefix)
		if err != nil {
			return "", errors.Wrap(err, "generate random code")
		}

		exists, err := s.store.CodeExists(ctx, code)
		if err != nil {
			return "", errors.Wrap(err, "check code existence")
		}
		if !exists {
			return code, nil
		}
	}
	return "", errors.Wrapf(ErrCodeGeneration, "exhausted %d attempts", codeGenMaxAttempts)
}

// BulkCreate creates count coupons from the base draft, each with a fresh
// generated code. Coupons are persisted in batches.
func (s *Service) BulkCreate(ctx context.Context, base Draft, count int, prefix string) ([]Coupon, error) {
	if count <= 0 {
		return nil, errors.Wrap(ErrInvalidDefinition, "count must be positive")
	}

	created := make([]Coupon, 0, count)
	batch := make([]*Coupon, 0, bulkCreateBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.store.CreateBatch(ctx, batch); err != nil {
			return errors.Wrap(err, "create coupon batch")
		}
		for _, c := range batch {
			created = append(created, *c)
		}
		batch = batch[:0]
		return nil
	}

	for i := 0; i < count; i++ {
		code, err := s.GenerateUniqueCode(ctx, prefix)
		if err != nil {
			return nil, err
		}

		d := base
		d.Code = code
		c := &Coupon{
			ID:                   uuid.New(),
			Code:                 code,
			Name:                 d.Name,
			Description:          d.Description,
			Type:                 d.Type,
			Value:                d.Value,
			MaxDiscountAmount:    d.MaxDiscountAmount,
			MinOrderValue:        d.MinOrderValue,
			ValidFrom:            d.ValidFrom,
			ValidUntil:           d.ValidUntil,
			MaxUses:              d.MaxUses,
			MaxUsesPerUser:       d.MaxUsesPerUser,
			FirstTimeOnly:        d.FirstTimeOnly,
			ApplicableProducts:   d.ApplicableProducts,
			ExcludedProducts:     d.ExcludedProducts,
			ApplicableCategories: d.ApplicableCategories,
			IsActive:             d.IsActive,
			IsPublic:             d.IsPublic,
			AutoApply:            d.AutoApply,
			Stackable:            d.Stackable,
		}
		if err := validateDefinition(c); err != nil {
			return nil, err
		}

		batch = append(batch, c)
		if len(batch) == bulkCreateBatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return created, nil
}

// validateDefinition enforces the admin-side integrity rules: discount
// value ranges per type, date ordering, and positive limits.
func validateDefinition(c *Coupon) error {
	if c.Code == "" {
		return errors.Wrap(ErrInvalidDefinition, "code is required")
	}

	switch c.Type {
	case TypePercentage:
		if !c.Value.IsPositive() || c.Value.GreaterThan(hundred) {
			return errors.Wrap(ErrInvalidDefinition, "percentage value must be in (0, 100]")
		}
	case TypeFixedAmount:
		if !c.Value.IsPositive() {
			return errors.Wrap(ErrInvalidDefinition, "fixed discount value must be positive")
		}
	case TypeFreeShipping:
		if c.Value.IsNegative() {
			return errors.Wrap(ErrInvalidDefinition, "free shipping value must not be negative")
		}
	default:
		return errors.Wrapf(ErrInvalidDefinition, "unknown discount type %q", c.Type)
	}

	if c.MaxDiscountAmount != nil {
		if c.Type != TypePercentage {
			return errors.Wrap(ErrInvalidDefinition, "max discount amount applies to percentage coupons only")
		}
		if !c.MaxDiscountAmount.IsPositive() {
			return errors.Wrap(ErrInvalidDefinition, "max discount amount must be positive")
		}
	}

	if c.ValidFrom.IsZero() || c.ValidUntil.IsZero() {
		return errors.Wrap(ErrInvalidDefinition, "validity window is required")
	}
	if !c.ValidFrom.Before(c.ValidUntil) {
		return errors.Wrap(ErrInvalidDefinition, "validFrom must precede validUntil")
	}

	if c.MinOrderValue != nil && !c.MinOrderValue.IsPositive() {
		return errors.Wrap(ErrInvalidDefinition, "minimum order value must be positive")
	}
	if c.MaxUses != nil && *c.MaxUses <= 0 {
		return errors.Wrap(ErrInvalidDefinition, "max uses must be positive")
	}
	if c.MaxUsesPerUser != nil && *c.MaxUsesPerUser <= 0 {
		return errors.Wrap(ErrInvalidDefinition, "max uses per user must be positive")
	}
	return nil
}

func applyPatch(c *Coupon, p Patch) {
	if p.Code != nil {
		c.Code = NormalizeCode(*p.Code)
	}
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Value != nil {
		c.Value = *p.Value
	}
	if p.MaxDiscountAmount != nil {
		c.MaxDiscountAmount = p.MaxDiscountAmount
	}
	if p.MinOrderValue != nil {
		c.MinOrderValue = p.MinOrderValue
	}
	if p.ValidFrom != nil {
		c.ValidFrom = *p.ValidFrom
	}
	if p.ValidUntil != nil {
		c.ValidUntil = *p.ValidUntil
	}
	if p.MaxUses != nil {
		c.MaxUses = p.MaxUses
	}
	if p.MaxUsesPerUser != nil {
		c.MaxUsesPerUser = p.MaxUsesPerUser
	}
	if p.FirstTimeOnly != nil {
		c.FirstTimeOnly = *p.FirstTimeOnly
	}
	if p.ApplicableProducts != nil {
		c.ApplicableProducts = p.ApplicableProducts
	}
	if p.ExcludedProducts != nil {
		c.ExcludedProducts = p.ExcludedProducts
	}
	if p.ApplicableCategories != nil {
		c.ApplicableCategories = p.ApplicableCategories
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
	if p.IsPublic != nil {
		c.IsPublic = *p.IsPublic
	}
	if p.AutoApply != nil {
		c.AutoApply = *p.AutoApply
	}
	if p.Stackable != nil {
		c.Stackable = *p.Stackable
	}
}

// randomCode builds PREFIX-XXXXXXXX using crypto/rand over codeAlphabet.
func randomCode(prefix string) (string, error) {
	buf := make([]byte, codeSuffixLen)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	if prefix == "" {
		return string(buf), nil
	}
	return prefix + "-" + string(buf), nil
}

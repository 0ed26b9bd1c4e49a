package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taazabazar/coupon-engine/internal/domain/coupon"
)

type couponDTO struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`

	Type              string   `json:"type"`
	Value             float64  `json:"value"`
	MaxDiscountAmount *float64 `json:"maxDiscountAmount,omitempty"`

	MinOrderValue        *float64  `json:"minOrderValue,omitempty"`
	ValidFrom            time.Time `json:"validFrom"`
	ValidUntil           time.Time `json:"validUntil"`
	MaxUses              *int      `json:"maxUses,omitempty"`
	MaxUsesPerUser       *int      `json:"maxUsesPerUser,omitempty"`
	FirstTimeOnly        bool      `json:"firstTimeOnly"`
	ApplicableProducts   []string  `json:"applicableProducts,omitempty"`
	ExcludedProducts     []string  `json:"excludedProducts,omitempty"`
	ApplicableCategories []string  `json:"applicableCategories,omitempty"`

	IsActive  bool `json:"isActive"`
	IsPublic  bool `json:"isPublic"`
	AutoApply bool `json:"autoApply"`
	Stackable bool `json:"stackable"`

	UsedCount int       `json:"usedCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toCouponDTO(c *coupon.Coupon) couponDTO {
	return couponDTO{
		ID:                   c.ID.String(),
		Code:                 c.Code,
		Name:                 c.Name,
		Description:          c.Description,
		Type:                 string(c.Type),
		Value:                c.Value.InexactFloat64(),
		MaxDiscountAmount:    decimalPtrToFloat(c.MaxDiscountAmount),
		MinOrderValue:        decimalPtrToFloat(c.MinOrderValue),
		ValidFrom:            c.ValidFrom,
		ValidUntil:           c.ValidUntil,
		MaxUses:              c.MaxUses,
		MaxUsesPerUser:       c.MaxUsesPerUser,
		FirstTimeOnly:        c.FirstTimeOnly,
		ApplicableProducts:   c.ApplicableProducts,
		ExcludedProducts:     c.ExcludedProducts,
		ApplicableCategories: c.ApplicableCategories,
		IsActive:             c.IsActive,
		IsPublic:             c.IsPublic,
		AutoApply:            c.AutoApply,
		Stackable:            c.Stackable,
		UsedCount:            c.UsedCount,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
}

func decimalPtrToFloat(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

type couponDraftDTO struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`

	Type              string           `json:"type"`
	Value             decimal.Decimal  `json:"value"`
	MaxDiscountAmount *decimal.Decimal `json:"maxDiscountAmount"`

	MinOrderValue        *decimal.Decimal `json:"minOrderValue"`
	ValidFrom            time.Time        `json:"validFrom"`
	ValidUntil           time.Time        `json:"validUntil"`
	MaxUses              *int             `json:"maxUses"`
	MaxUsesPerUser       *int             `json:"maxUsesPerUser"`
	FirstTimeOnly        bool             `json:"firstTimeOnly"`
	ApplicableProducts   []string         `json:"applicableProducts"`
	ExcludedProducts     []string         `json:"excludedProducts"`
	ApplicableCategories []string         `json:"applicableCategories"`

	// IsActive and IsPublic default to true when omitted.
	IsActive  *bool `json:"isActive"`
	IsPublic  *bool `json:"isPublic"`
	AutoApply bool  `json:"autoApply"`
	Stackable bool  `json:"stackable"`
}

func (d couponDraftDTO) toDraft() coupon.Draft {
	active, public := true, true
	if d.IsActive != nil {
		active = *d.IsActive
	}
	if d.IsPublic != nil {
		public = *d.IsPublic
	}
	return coupon.Draft{
		Code:                 d.Code,
		Name:                 d.Name,
		Description:          d.Description,
		Type:                 coupon.Type(d.Type),
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
		IsActive:             active,
		IsPublic:             public,
		AutoApply:            d.AutoApply,
		Stackable:            d.Stackable,
	}
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponDraftDTO
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.engine.Create(r.Context(), req.toDraft())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCouponDTO(c))
}

type couponPatchDTO struct {
	Code        *string `json:"code"`
	Name        *string `json:"name"`
	Description *string `json:"description"`

	Value             *decimal.Decimal `json:"value"`
	MaxDiscountAmount *decimal.Decimal `json:"maxDiscountAmount"`

	MinOrderValue        *decimal.Decimal `json:"minOrderValue"`
	ValidFrom            *time.Time       `json:"validFrom"`
	ValidUntil           *time.Time       `json:"validUntil"`
	MaxUses              *int             `json:"maxUses"`
	MaxUsesPerUser       *int             `json:"maxUsesPerUser"`
	FirstTimeOnly        *bool            `json:"firstTimeOnly"`
	ApplicableProducts   []string         `json:"applicableProducts"`
	ExcludedProducts     []string         `json:"excludedProducts"`
	ApplicableCategories []string         `json:"applicableCategories"`

	IsActive  *bool `json:"isActive"`
	IsPublic  *bool `json:"isPublic"`
	AutoApply *bool `json:"autoApply"`
	Stackable *bool `json:"stackable"`
}

func (d couponPatchDTO) toPatch() coupon.Patch {
	return coupon.Patch{
		Code:                 d.Code,
		Name:                 d.Name,
		Description:          d.Description,
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
}

func (h *Handler) updateCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid coupon id")
		return
	}

	var req couponPatchDTO
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.engine.Update(r.Context(), id, req.toPatch())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponDTO(c))
}

func (h *Handler) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid coupon id")
		return
	}

	if err := h.engine.Delete(r.Context(), id); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type couponDetailDTO struct {
	couponDTO
	UserUsedCount *int       `json:"userUsedCount,omitempty"`
	LastUsedAt    *time.Time `json:"lastUsedAt,omitempty"`
}

func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid coupon id")
		return
	}

	// userId is optional; without it the response has no usage annotation.
	var userID uuid.UUID
	if q := r.URL.Query().Get("userId"); q != "" {
		parsed, err := uuid.Parse(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid userId")
			return
		}
		userID = parsed
	}

	c, usage, err := h.engine.Get(r.Context(), id, userID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	out := couponDetailDTO{couponDTO: toCouponDTO(c)}
	if usage != nil {
		out.UserUsedCount = &usage.UsedCount
		out.LastUsedAt = &usage.LastUsedAt
	}
	writeJSON(w, http.StatusOK, out)
}

type listResponse struct {
	Coupons []couponDTO `json:"coupons"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := coupon.ListFilter{
		CodeContains:        q.Get("code"),
		NameContains:        q.Get("name"),
		DescriptionContains: q.Get("description"),
		Limit:               queryInt(q.Get("limit"), 50),
		Offset:              queryInt(q.Get("offset"), 0),
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid active filter")
			return
		}
		f.Active = &active
	}

	coupons, total, err := h.engine.List(r.Context(), f)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	out := listResponse{
		Coupons: make([]couponDTO, len(coupons)),
		Total:   total,
		Limit:   f.Limit,
		Offset:  f.Offset,
	}
	for i := range coupons {
		out.Coupons[i] = toCouponDTO(&coupons[i])
	}
	writeJSON(w, http.StatusOK, out)
}

type statsResponse struct {
	Total            int `json:"total"`
	Active           int `json:"active"`
	Expired          int `json:"expired"`
	TotalRedemptions int `json:"totalRedemptions"`
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Stats(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Total:            st.Total,
		Active:           st.Active,
		Expired:          st.Expired,
		TotalRedemptions: st.TotalRedemptions,
	})
}

type generateCodeRequest struct {
	Prefix string `json:"prefix"`
}

func (h *Handler) generateCode(w http.ResponseWriter, r *http.Request) {
	var req generateCodeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	code, err := h.engine.GenerateUniqueCode(r.Context(), req.Prefix)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}

type bulkCreateRequest struct {
	Base   couponDraftDTO `json:"base"`
	Count  int            `json:"count"`
	Prefix string         `json:"prefix"`
}

func (h *Handler) bulkCreate(w http.ResponseWriter, r *http.Request) {
	var req bulkCreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.engine.BulkCreate(r.Context(), req.Base.toDraft(), req.Count, req.Prefix)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	out := make([]couponDTO, len(created))
	for i := range created {
		out[i] = toCouponDTO(&created[i])
	}
	writeJSON(w, http.StatusCreated, out)
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

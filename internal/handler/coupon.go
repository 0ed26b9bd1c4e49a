package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taazabazar/coupon-engine/internal/domain/coupon"
)

type cartItemDTO struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Category  string          `json:"category,omitempty"`
}

func (d cartItemDTO) toDomain() coupon.CartItem {
	return coupon.CartItem{
		ProductID: d.ProductID,
		Quantity:  d.Quantity,
		UnitPrice: d.UnitPrice,
		Category:  d.Category,
	}
}

func toDomainItems(dtos []cartItemDTO) []coupon.CartItem {
	items := make([]coupon.CartItem, len(dtos))
	for i, d := range dtos {
		items[i] = d.toDomain()
	}
	return items
}

type validateRequest struct {
	Code   string        `json:"code"`
	UserID uuid.UUID     `json:"userId"`
	Items  []cartItemDTO `json:"items"`
	// Subtotal is optional; when absent it is computed from the items.
	Subtotal *decimal.Decimal `json:"subtotal,omitempty"`
}

type validationResponse struct {
	IsValid      bool    `json:"isValid"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
	Discount     float64 `json:"discount"`
	FinalAmount  float64 `json:"finalAmount"`
	FreeShipping bool    `json:"freeShipping,omitempty"`
	CouponID     string  `json:"couponId,omitempty"`
}

func toValidationResponse(res coupon.ValidationResult) validationResponse {
	out := validationResponse{
		IsValid:      res.Valid,
		ErrorMessage: res.Message,
		Discount:     res.Discount.InexactFloat64(),
		FinalAmount:  res.FinalAmount.InexactFloat64(),
		FreeShipping: res.FreeShipping,
	}
	if res.Valid {
		out.CouponID = res.CouponID.String()
	}
	return out
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	items := toDomainItems(req.Items)
	subtotal := coupon.Subtotal(items)
	if req.Subtotal != nil {
		subtotal = *req.Subtotal
	}

	res, err := h.engine.Validate(r.Context(), req.Code, items, req.UserID, subtotal)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toValidationResponse(res))
}

type availableCouponDTO struct {
	couponDTO
	UserUsedCount int `json:"userUsedCount"`
}

func (h *Handler) listAvailable(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}

	coupons, err := h.engine.ListAvailable(r.Context(), userID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	out := make([]availableCouponDTO, len(coupons))
	for i, c := range coupons {
		out[i] = availableCouponDTO{
			couponDTO:     toCouponDTO(&c.Coupon),
			UserUsedCount: c.UserUsedCount,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type autoApplyRequest struct {
	UserID   uuid.UUID        `json:"userId"`
	Items    []cartItemDTO    `json:"items"`
	Subtotal *decimal.Decimal `json:"subtotal,omitempty"`
}

type autoAppliedDTO struct {
	Coupon       couponDTO `json:"coupon"`
	Discount     float64   `json:"discount"`
	FinalAmount  float64   `json:"finalAmount"`
	FreeShipping bool      `json:"freeShipping,omitempty"`
}

func (h *Handler) autoApply(w http.ResponseWriter, r *http.Request) {
	var req autoApplyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	items := toDomainItems(req.Items)
	subtotal := coupon.Subtotal(items)
	if req.Subtotal != nil {
		subtotal = *req.Subtotal
	}

	applied, err := h.engine.AutoApply(r.Context(), items, subtotal, req.UserID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	out := make([]autoAppliedDTO, len(applied))
	for i, a := range applied {
		out[i] = autoAppliedDTO{
			Coupon:       toCouponDTO(&a.Coupon),
			Discount:     a.Discount.InexactFloat64(),
			FinalAmount:  a.FinalAmount.InexactFloat64(),
			FreeShipping: a.FreeShipping,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type commitRequest struct {
	UserID uuid.UUID `json:"userId"`
}

func (h *Handler) commitUsage(w http.ResponseWriter, r *http.Request) {
	couponID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid coupon id")
		return
	}

	var req commitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.engine.CommitUsage(r.Context(), couponID, req.UserID); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Package handler exposes the coupon engine over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/taazabazar/coupon-engine/internal/domain/auth"
	"github.com/taazabazar/coupon-engine/internal/domain/coupon"
)

// Engine is the slice of the coupon service the HTTP layer needs.
type Engine interface {
	Validate(ctx context.Context, code string, items []coupon.CartItem, userID uuid.UUID, subtotal decimal.Decimal) (coupon.ValidationResult, error)
	ListAvailable(ctx context.Context, userID uuid.UUID) ([]coupon.AvailableCoupon, error)
	AutoApply(ctx context.Context, items []coupon.CartItem, subtotal decimal.Decimal, userID uuid.UUID) ([]coupon.AutoApplied, error)
	CommitUsage(ctx context.Context, couponID, userID uuid.UUID) error

	Create(ctx context.Context, d coupon.Draft) (*coupon.Coupon, error)
	Update(ctx context.Context, id uuid.UUID, p coupon.Patch) (*coupon.Coupon, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id, userID uuid.UUID) (*coupon.Coupon, *coupon.UserCoupon, error)
	List(ctx context.Context, f coupon.ListFilter) ([]coupon.Coupon, int, error)
	Stats(ctx context.Context) (*coupon.Stats, error)
	GenerateUniqueCode(ctx context.Context, prefix string) (string, error)
	BulkCreate(ctx context.Context, base coupon.Draft, count int, prefix string) ([]coupon.Coupon, error)
}

var _ Engine = (*coupon.Service)(nil)

// Handler serves the engine's HTTP API.
type Handler struct {
	engine Engine
}

// New builds the HTTP router: shopper-facing coupon endpoints plus the
// API-key-guarded admin surface.
func New(engine Engine, apikeys auth.Repository, pepper []byte) http.Handler {
	h := &Handler{engine: engine}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Route("/coupons", func(r chi.Router) {
			r.Post("/validate", h.validate)
			r.Get("/available", h.listAvailable)
			r.Post("/auto-apply", h.autoApply)
			r.Post("/{id}/commit", h.commitUsage)
		})
		r.Route("/admin/coupons", func(r chi.Router) {
			r.Use(RequireAPIKey(apikeys, pepper))
			r.Post("/", h.createCoupon)
			r.Get("/", h.listCoupons)
			r.Get("/stats", h.stats)
			r.Post("/generate-code", h.generateCode)
			r.Post("/bulk", h.bulkCreate)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getCoupon)
				r.Patch("/", h.updateCoupon)
				r.Delete("/", h.deleteCoupon)
			})
		})
	})
	return r
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Code: status, Message: msg})
}

// writeEngineError maps domain errors to HTTP responses. Unexpected errors
// are logged and hidden behind a generic 500.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, coupon.ErrNotFound):
		writeError(w, http.StatusNotFound, "coupon not found")
	case errors.Is(err, coupon.ErrCodeTaken):
		writeError(w, http.StatusConflict, "coupon code already exists")
	case errors.Is(err, coupon.ErrInvalidDefinition):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, coupon.ErrUsageLimitExceeded):
		// Commit-time race loss, not a validation failure: the caller must
		// drop the discount and re-price, or fail the order.
		writeError(w, http.StatusConflict, "coupon usage limit exceeded at commit")
	case errors.Is(err, coupon.ErrCodeGeneration):
		writeError(w, http.StatusServiceUnavailable, "could not generate a unique coupon code")
	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

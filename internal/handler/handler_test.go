package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taazabazar/coupon-engine/internal/domain/auth"
	"github.com/taazabazar/coupon-engine/internal/domain/coupon"
)

// --- Mock implementations ---

type mockEngine struct {
	validate     func(ctx context.Context, code string, items []coupon.CartItem, userID uuid.UUID, subtotal decimal.Decimal) (coupon.ValidationResult, error)
	listAvail    func(ctx context.Context, userID uuid.UUID) ([]coupon.AvailableCoupon, error)
	autoApply    func(ctx context.Context, items []coupon.CartItem, subtotal decimal.Decimal, userID uuid.UUID) ([]coupon.AutoApplied, error)
	commit       func(ctx context.Context, couponID, userID uuid.UUID) error
	create       func(ctx context.Context, d coupon.Draft) (*coupon.Coupon, error)
	update       func(ctx context.Context, id uuid.UUID, p coupon.Patch) (*coupon.Coupon, error)
	del          func(ctx context.Context, id uuid.UUID) error
	get          func(ctx context.Context, id, userID uuid.UUID) (*coupon.Coupon, *coupon.UserCoupon, error)
	list         func(ctx context.Context, f coupon.ListFilter) ([]coupon.Coupon, int, error)
	stats        func(ctx context.Context) (*coupon.Stats, error)
	generateCode func(ctx context.Context, prefix string) (string, error)
	bulkCreate   func(ctx context.Context, base coupon.Draft, count int, prefix string) ([]coupon.Coupon, error)
}

func (m *mockEngine) Validate(ctx context.Context, code string, items []coupon.CartItem, userID uuid.UUID, subtotal decimal.Decimal) (coupon.ValidationResult, error) {
	return m.validate(ctx, code, items, userID, subtotal)
}

func (m *mockEngine) ListAvailable(ctx context.Context, userID uuid.UUID) ([]coupon.AvailableCoupon, error) {
	return m.listAvail(ctx, userID)
}

func (m *mockEngine) AutoApply(ctx context.Context, items []coupon.CartItem, subtotal decimal.Decimal, userID uuid.UUID) ([]coupon.AutoApplied, error) {
	return m.autoApply(ctx, items, subtotal, userID)
}

func (m *mockEngine) CommitUsage(ctx context.Context, couponID, userID uuid.UUID) error {
	return m.commit(ctx, couponID, userID)
}

func (m *mockEngine) Create(ctx context.Context, d coupon.Draft) (*coupon.Coupon, error) {
	return m.create(ctx, d)
}

func (m *mockEngine) Update(ctx context.Context, id uuid.UUID, p coupon.Patch) (*coupon.Coupon, error) {
	return m.update(ctx, id, p)
}

func (m *mockEngine) Delete(ctx context.Context, id uuid.UUID) error {
	return m.del(ctx, id)
}

func (m *mockEngine) Get(ctx context.Context, id, userID uuid.UUID) (*coupon.Coupon, *coupon.UserCoupon, error) {
	return m.get(ctx, id, userID)
}

func (m *mockEngine) List(ctx context.Context, f coupon.ListFilter) ([]coupon.Coupon, int, error) {
	return m.list(ctx, f)
}

func (m *mockEngine) Stats(ctx context.Context) (*coupon.Stats, error) {
	return m.stats(ctx)
}

func (m *mockEngine) GenerateUniqueCode(ctx context.Context, prefix string) (string, error) {
	return m.generateCode(ctx, prefix)
}

func (m *mockEngine) BulkCreate(ctx context.Context, base coupon.Draft, count int, prefix string) ([]coupon.Coupon, error) {
	return m.bulkCreate(ctx, base, count, prefix)
}

type mockAPIKeyRepo struct {
	info *auth.APIKeyInfo
	err  error
}

func (m *mockAPIKeyRepo) FindByHash(_ context.Context, _ string) (*auth.APIKeyInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.info, nil
}

// --- Helpers ---

var testPepper = []byte("test-pepper")

const testAPIKey = "test-admin-key"

// keyRepoFor returns a repository that accepts exactly the given key under
// testPepper.
func keyRepoFor(key string) *mockAPIKeyRepo {
	return &mockAPIKeyRepo{info: &auth.APIKeyInfo{
		ID:      "k1",
		KeyHash: auth.HashKey(testPepper, key),
		Name:    "test key",
		Scopes:  []string{auth.ScopeAdmin},
	}}
}

func newTestServer(engine Engine) *httptest.Server {
	return httptest.NewServer(New(engine, keyRepoFor(testAPIKey), testPepper))
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, body, apiKey string) *http.Response {
	t.Helper()

	var rd *strings.Reader
	if body != "" {
		rd = strings.NewReader(body)
	} else {
		rd = strings.NewReader("")
	}

	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("api_key", apiKey)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func sampleCoupon() *coupon.Coupon {
	return &coupon.Coupon{
		ID:         uuid.New(),
		Code:       "SAVE50",
		Name:       "Fifty off",
		Type:       coupon.TypeFixedAmount,
		Value:      decimal.NewFromInt(50),
		ValidFrom:  time.Now().Add(-time.Hour),
		ValidUntil: time.Now().Add(time.Hour),
		IsActive:   true,
		IsPublic:   true,
	}
}

// --- Shopper endpoints ---

func TestValidateEndpoint(t *testing.T) {
	couponID := uuid.New()
	engine := &mockEngine{
		validate: func(_ context.Context, code string, items []coupon.CartItem, _ uuid.UUID, subtotal decimal.Decimal) (coupon.ValidationResult, error) {
			assert.Equal(t, "SAVE50", code)
			require.Len(t, items, 1)
			// Subtotal is derived from the items when the request omits it.
			assert.True(t, decimal.NewFromInt(600).Equal(subtotal), "subtotal %s", subtotal)
			return coupon.ValidationResult{
				Valid:       true,
				Discount:    decimal.NewFromInt(50),
				FinalAmount: decimal.NewFromInt(550),
				CouponID:    couponID,
			}, nil
		},
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp := doJSON(t, srv, http.MethodPost, "/api/coupons/validate", `{
		"code": "SAVE50",
		"userId": "`+uuid.NewString()+`",
		"items": [{"productId": "rice-5kg", "quantity": 2, "unitPrice": 300}]
	}`, "")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body validationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.IsValid)
	assert.Equal(t, float64(50), body.Discount)
	assert.Equal(t, float64(550), body.FinalAmount)
	assert.Equal(t, couponID.String(), body.CouponID)
}

func TestValidateEndpoint_ExplicitSubtotalWins(t *testing.T) {
	engine := &mockEngine{
		validate: func(_ context.Context, _ string, _ []coupon.CartItem, _ uuid.UUID, subtotal decimal.Decimal) (coupon.ValidationResult, error) {
			assert.True(t, decimal.NewFromInt(999).Equal(subtotal), "subtotal %s", subtotal)
			return coupon.ValidationResult{Valid: true}, nil
		},
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp := doJSON(t, srv, http.MethodPost, "/api/coupons/validate", `{
		"code": "SAVE50",
		"items": [{"productId": "p1", "quantity": 1, "unitPrice": 100}],
		"subtotal": 999
	}`, "")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestValidateEndpoint_MissingCode(t *testing.T) {
	srv := newTestServer(&mockEngine{})
	defer srv.Close()

	resp := doJSON(t, srv, http.MethodPost, "/api/coupons/validate", `{"items": []}`, "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestValidateEndpoint_UnknownField(t *testing.T) {
	srv := newTestServer(&mockEngine{})
	defer srv.Close()

	resp := doJSON(t, srv, http.MethodPost, "/api/coupons/validate", `{"code": "X", "bogus": true}`, "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestValidateEndpoint_StoreError(t *testing.T) {
	engine := &mockEngine{
		validate: func(context.Context, string, []coupon.CartItem, uuid.UUID, decimal.Decimal) (coupon.ValidationResult, error) {
			return coupon.ValidationResult{}, errors.New("db down")
		},
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp := doJSON(t, srv, http.MethodPost, "/api/coupons/validate", `{"code": "X"}`, "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestListAvailableEndpoint(t *testing.T) {
	c := sampleCoupon()
	engine := &mockEngine{
		listAvail: func(_ context.Context, userID uuid.UUID) ([]coupon.AvailableCoupon, error) {
			return []coupon.AvailableCoupon{{Coupon: *c, UserUsedCount: 2}}, nil
		},
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp := doJSON(t, srv, http.MethodGet, "/api/coupons/available?userId="+uuid.NewString(), "", "")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body []availableCouponDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body, 1)
	assert.Equal(t, "SAVE50", body[0].Code)
	assert.Equal(t, 2, body[0].UserUsedCount)
}

func TestListAvailableEndpoint_MissingUserID(t *testing.T) {
	srv := newTestServer(&mockEngine{})
	defer srv.Close()

	resp := doJSON(t, srv, http.MethodGet, "/api/coupons/available", "", "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCommitEndpoint(t *testing.T) {
	couponID := uuid.New()
	userID := uuid.New()
	engine := &mockEngine{
		commit: func(_ context.Context, gotCoupon, gotUser uuid.UUID) error {
			assert.Equal(t, couponID, gotCoupon)
			assert.Equal(t, userID, gotUser)
			return nil
		},
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp := doJSON(t, srv, http.MethodPost, "/api/coupons/"+couponID.String()+"/commit",
		`{"userId": "`+userID.String()+`"}`, "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestCommitEndpoint_LimitRace(t *testing.T) {
	engine := &mockEngine{
		commit: func(context.Context, uuid.UUID, uuid.UUID) error {
			return coupon.ErrUsageLimitExceeded
		},
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp := doJSON(t, srv, http.MethodPost, "/api/coupons/"+uuid.NewString()+"/commit",
		`{"userId": "`+uuid.NewString()+`"}`, "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCommitEndpoint_BadCouponID(t *testing.T) {
	srv := newTestServer(&mockEngine{})
	defer srv.Close()

	resp := doJSON(t, srv, http.MethodPost, "/api/coupons/not-a-uuid/commit", `{}`, "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// --- Admin endpoints ---

func TestAdmin_RequiresAPIKey(t *testing.T) {
	srv := newTestServer(&mockEngine{})
	defer srv.Close()

	resp := doJSON(t, srv, http.MethodGet, "/api/admin/coupons/", "", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp2 := doJSON(t, srv, http.MethodGet, "/api/admin/coupons/", "", "wrong-key")
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestAdmin_RequiresAdminScope(t *testing.T) {
	repo := keyRepoFor(testAPIKey)
	repo.info.Scopes = []string{"reporting"}
	srv := httptest.NewServer(New(&mockEngine{}, repo, testPepper))
	defer srv.Close()

	resp := doJSON(t, srv, http.MethodGet, "/api/admin/coupons/", "", testAPIKey)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdmin_CreateCoupon(t *testing.T) {
	c := sampleCoupon()
	engine := &mockEngine{
		create: func(_ context.Context, d coupon.Draft) (*coupon.Coupon, error) {
			assert.Equal(t, "SAVE50", d.Code)
			assert.Equal(t, coupon.TypeFixedAmount, d.Type)
			// Defaults applied when the request omits the flags.
			assert.True(t, d.IsActive)
			assert.True(t, d.IsPublic)
			return c, nil
		},
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp := doJSON(t, srv, http.MethodPost, "/api/admin/coupons/", `{
		"code": "SAVE50",
		"type": "FIXED_AMOUNT",
		"value": 50,
		"validFrom": "2026-01-01T00:00:00Z",
		"validUntil": "2026-12-31T23:59:59Z"
	}`, testAPIKey)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body couponDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, c.ID.String(), body.ID)
	assert.Equal(t, "SAVE50", body.Code)
}

func TestAdmin_CreateCoupon_Invalid(t *testing.T) {
	engine := &mockEngine{
		create: func(context.Context, coupon.Draft) (*coupon.Coupon, error) {
			return nil, errors.Wrap(coupon.ErrInvalidDefinition, "percentage value must be in (0, 100]")
		},
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp := doJSON(t, srv, http.MethodPost, "/api/admin/coupons/", `{"code": "X", "type": "PERCENTAGE", "value": 150}`, testAPIKey)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdmin_CreateCoupon_DuplicateCode(t *testing.T) {
	engine := &mockEngine{
		create: func(context.Context, coupon.Draft) (*coupon.Coupon, error) {
			return nil, coupon.ErrCodeTaken
		},
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp := doJSON(t, srv, http.MethodPost, "/api/admin/coupons/", `{"code": "X", "type": "PERCENTAGE", "value": 10}`, testAPIKey)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAdmin_GetCoupon_NotFound(t *testing.T) {
	engine := &mockEngine{
		get: func(context.Context, uuid.UUID, uuid.UUID) (*coupon.Coupon, *coupon.UserCoupon, error) {
			return nil, nil, coupon.ErrNotFound
		},
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp := doJSON(t, srv, http.MethodGet, "/api/admin/coupons/"+uuid.NewString()+"/", "", testAPIKey)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdmin_ListCoupons_Filters(t *testing.T) {
	engine := &mockEngine{
		list: func(_ context.Context, f coupon.ListFilter) ([]coupon.Coupon, int, error) {
			assert.Equal(t, "SAVE", f.CodeContains)
			require.NotNil(t, f.Active)
			assert.True(t, *f.Active)
			assert.Equal(t, 10, f.Limit)
			assert.Equal(t, 20, f.Offset)
			return []coupon.Coupon{*sampleCoupon()}, 1, nil
		},
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp := doJSON(t, srv, http.MethodGet, "/api/admin/coupons/?code=SAVE&active=true&limit=10&offset=20", "", testAPIKey)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body listResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Total)
	require.Len(t, body.Coupons, 1)
}

func TestAdmin_GenerateCode_Exhausted(t *testing.T) {
	engine := &mockEngine{
		generateCode: func(context.Context, string) (string, error) {
			return "", coupon.ErrCodeGeneration
		},
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp := doJSON(t, srv, http.MethodPost, "/api/admin/coupons/generate-code", `{"prefix": "EID"}`, testAPIKey)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAdmin_DeleteCoupon(t *testing.T) {
	engine := &mockEngine{
		del: func(context.Context, uuid.UUID) error { return nil },
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp := doJSON(t, srv, http.MethodDelete, "/api/admin/coupons/"+uuid.NewString()+"/", "", testAPIKey)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func groceryCart(total float64) []cartItem {
	return []cartItem{{ProductID: "rice-5kg", Quantity: 1, UnitPrice: total, Category: "grocery"}}
}

func TestValidate_FixedAmount(t *testing.T) {
	resp := doPost(t, "/api/coupons/validate", validateRequest{
		Code:   "SAVE50",
		UserID: testUserID,
		Items:  groceryCart(600),
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON[validateResponse](t, resp)
	if !body.IsValid {
		t.Fatalf("expected valid, got %q", body.ErrorMessage)
	}
	if body.Discount != 50 {
		t.Errorf("discount: got %v, want 50", body.Discount)
	}
	if body.FinalAmount != 550 {
		t.Errorf("final amount: got %v, want 550", body.FinalAmount)
	}
	if body.CouponID == "" {
		t.Error("couponId not set on valid result")
	}
}

func TestValidate_PercentageCapped(t *testing.T) {
	resp := doPost(t, "/api/coupons/validate", validateRequest{
		Code:   "WELCOME10",
		UserID: testUserID,
		Items:  groceryCart(1200),
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON[validateResponse](t, resp)
	if !body.IsValid {
		t.Fatalf("expected valid, got %q", body.ErrorMessage)
	}
	// 10% of 1200 is 120, capped at 100.
	if body.Discount != 100 {
		t.Errorf("discount: got %v, want 100", body.Discount)
	}
	if body.FinalAmount != 1100 {
		t.Errorf("final amount: got %v, want 1100", body.FinalAmount)
	}
}

func TestValidate_CaseInsensitiveCode(t *testing.T) {
	resp := doPost(t, "/api/coupons/validate", validateRequest{
		Code:   "save50",
		UserID: testUserID,
		Items:  groceryCart(600),
	})
	defer resp.Body.Close()

	body := decodeJSON[validateResponse](t, resp)
	if !body.IsValid {
		t.Fatalf("lower-case code rejected: %q", body.ErrorMessage)
	}
}

func TestValidate_UnknownCode(t *testing.T) {
	resp := doPost(t, "/api/coupons/validate", validateRequest{
		Code:   "NOSUCHCODE",
		UserID: testUserID,
		Items:  groceryCart(600),
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON[validateResponse](t, resp)
	if body.IsValid {
		t.Fatal("unknown code reported valid")
	}
	if body.ErrorMessage != "Invalid coupon code" {
		t.Errorf("message: got %q", body.ErrorMessage)
	}
	if body.FinalAmount != 600 {
		t.Errorf("final amount: got %v, want unchanged 600", body.FinalAmount)
	}
}

func TestValidate_FreeShippingBelowMinimum(t *testing.T) {
	resp := doPost(t, "/api/coupons/validate", validateRequest{
		Code:   "FREESHIP",
		UserID: testUserID,
		Items:  groceryCart(300),
	})
	defer resp.Body.Close()

	body := decodeJSON[validateResponse](t, resp)
	if body.IsValid {
		t.Fatal("expected rejection below minimum order value")
	}
	if body.ErrorMessage != "Minimum order value of ৳500 required" {
		t.Errorf("message: got %q", body.ErrorMessage)
	}
}

func TestValidate_FreeShipping(t *testing.T) {
	resp := doPost(t, "/api/coupons/validate", validateRequest{
		Code:   "FREESHIP",
		UserID: testUserID,
		Items:  groceryCart(800),
	})
	defer resp.Body.Close()

	body := decodeJSON[validateResponse](t, resp)
	if !body.IsValid {
		t.Fatalf("expected valid, got %q", body.ErrorMessage)
	}
	if !body.FreeShipping {
		t.Error("freeShipping flag not set")
	}
	if body.Discount != 0 {
		t.Errorf("discount: got %v, want 0", body.Discount)
	}
	if body.FinalAmount != 800 {
		t.Errorf("final amount: got %v, want 800", body.FinalAmount)
	}
}

func TestValidate_MissingCode(t *testing.T) {
	resp := doPost(t, "/api/coupons/validate", validateRequest{
		UserID: testUserID,
		Items:  groceryCart(600),
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestListAvailable(t *testing.T) {
	resp := doGet(t, "/api/coupons/available?userId="+testUserID)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	coupons := decodeJSON[[]couponResponse](t, resp)
	codes := make(map[string]bool, len(coupons))
	for _, c := range coupons {
		codes[c.Code] = true
	}
	for _, want := range []string{"SAVE50", "WELCOME10", "FREESHIP"} {
		if !codes[want] {
			t.Errorf("seeded coupon %s missing from available list", want)
		}
	}
}

func TestListAvailable_MissingUserID(t *testing.T) {
	resp := doGet(t, "/api/coupons/available")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAutoApply(t *testing.T) {
	resp := doPost(t, "/api/coupons/auto-apply", map[string]any{
		"userId": testUserID,
		"items":  groceryCart(800),
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	applied := decodeJSON[[]struct {
		Coupon       couponResponse `json:"coupon"`
		Discount     float64        `json:"discount"`
		FreeShipping bool           `json:"freeShipping"`
	}](t, resp)

	// FREESHIP is the only seeded auto-apply coupon and the cart clears its
	// 500 minimum.
	if len(applied) != 1 {
		t.Fatalf("expected 1 auto-applied coupon, got %d", len(applied))
	}
	if applied[0].Coupon.Code != "FREESHIP" {
		t.Errorf("code: got %q, want FREESHIP", applied[0].Coupon.Code)
	}
	if !applied[0].FreeShipping {
		t.Error("freeShipping flag not set")
	}
}

func TestCommit_PerUserLimit(t *testing.T) {
	// Dedicated user so other tests cannot interfere with the counter.
	userID := "22222222-2222-2222-2222-222222222222"

	resp := doPost(t, "/api/coupons/validate", validateRequest{
		Code:   "WELCOME10",
		UserID: userID,
		Items:  groceryCart(1000),
	})
	first := decodeJSON[validateResponse](t, resp)
	resp.Body.Close()
	if !first.IsValid {
		t.Fatalf("expected valid, got %q", first.ErrorMessage)
	}

	// Commit the usage: WELCOME10 allows one use per user.
	resp = doPost(t, "/api/coupons/"+first.CouponID+"/commit", map[string]string{"userId": userID})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("commit: expected 204, got %d", resp.StatusCode)
	}

	// Re-validation must now fail the per-user limit check.
	resp = doPost(t, "/api/coupons/validate", validateRequest{
		Code:   "WELCOME10",
		UserID: userID,
		Items:  groceryCart(1000),
	})
	defer resp.Body.Close()

	second := decodeJSON[validateResponse](t, resp)
	if second.IsValid {
		t.Fatal("expected per-user limit rejection after commit")
	}
	if second.ErrorMessage != "You have already used this coupon the maximum number of times" {
		t.Errorf("message: got %q", second.ErrorMessage)
	}

	// A second commit attempt must lose the conditional increment.
	resp2 := doPost(t, "/api/coupons/"+first.CouponID+"/commit", map[string]string{"userId": userID})
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusConflict {
		t.Fatalf("second commit: expected 409, got %d", resp2.StatusCode)
	}
}

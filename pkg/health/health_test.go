package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func probe(t *testing.T, endpoint http.HandlerFunc) (int, map[string]any) {
	t.Helper()

	rec := httptest.NewRecorder()
	endpoint(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return rec.Code, body
}

func TestLiveness_NoChecks(t *testing.T) {
	s := New()

	code, body := probe(t, s.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestLiveness_FailingCheck(t *testing.T) {
	s := New()
	s.AddLivenessCheck("broken", time.Second, func(context.Context) error {
		return errors.New("dependency down")
	})

	code, body := probe(t, s.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body["status"])

	checks := body["checks"].(map[string]any)
	assert.Equal(t, "dependency down", checks["broken"])
}

func TestReadiness_GatedByReadyFlag(t *testing.T) {
	s := New()
	s.AddReadinessCheck("always", time.Second, func(context.Context) error { return nil })

	// Not ready until SetReady(true), even with passing checks.
	code, body := probe(t, s.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body["status"])

	s.SetReady(true)
	code, _ = probe(t, s.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)

	// Draining flips it back.
	s.SetReady(false)
	code, _ = probe(t, s.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestReadiness_FailingCheckOverridesReady(t *testing.T) {
	s := New()
	s.SetReady(true)
	s.AddReadinessCheck("db", time.Second, func(context.Context) error {
		return errors.New("connection refused")
	})

	code, _ := probe(t, s.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestCheckTimeout(t *testing.T) {
	s := New()
	s.AddLivenessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	code, body := probe(t, s.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	checks := body["checks"].(map[string]any)
	assert.Contains(t, checks["slow"], "context deadline exceeded")
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}

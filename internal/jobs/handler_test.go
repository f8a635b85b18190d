package jobs

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membercycle/internal/auth"
	"membercycle/internal/chaos"
	"membercycle/internal/membership"
)

func setupHandler(t *testing.T) (*fixture, *auth.TokenAuthenticator, http.Handler) {
	t.Helper()
	f := setup(t, Options{})
	tokens := auth.NewTokenAuthenticator("test-secret", "membercycle")
	h := NewHandler(f.service, auth.NewChain(tokens, auth.NewKeyAuthenticator(f.store)), nil)

	f.seed(t, membership.CollectionUsers, "admin-1", map[string]any{"status": "active", "tier": "admin"})
	f.seed(t, membership.CollectionUsers, "m1", map[string]any{
		"status": "active", "tier": "member", "total_shares": 15, "fund_shares": 5,
	})
	return f, tokens, h.Routes()
}

func post(t *testing.T, h http.Handler, path, authorization string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	body := map[string]any{}
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	}
	return rr, body
}

func TestHandleTrigger(t *testing.T) {
	f, tokens, h := setupHandler(t)

	adminToken, err := tokens.IssueToken("admin-1", time.Hour)
	require.NoError(t, err)
	memberToken, err := tokens.IssueToken("m1", time.Hour)
	require.NoError(t, err)

	t.Run("unauthenticated", func(t *testing.T) {
		rr, body := post(t, h, "/jobs/vip-promotion", "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "unauthenticated", body["error"])
		assert.Equal(t, "Must be authenticated", body["message"])
	})

	t.Run("non admin", func(t *testing.T) {
		rr, body := post(t, h, "/jobs/vip-promotion", "Bearer "+memberToken)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, "permission-denied", body["error"])
		assert.Equal(t, "Must be admin", body["message"])
		assert.Equal(t, membership.TierMember, f.member(t, "m1").Tier)
	})

	t.Run("unknown and scheduled only jobs", func(t *testing.T) {
		rr, _ := post(t, h, "/jobs/reactivation", "Bearer "+adminToken)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		rr, _ = post(t, h, "/jobs/score-calculation", "Bearer "+adminToken)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("admin bearer", func(t *testing.T) {
		rr, body := post(t, h, "/jobs/vip-promotion", "Bearer "+adminToken)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "Manual VIP promotion check completed", body["message"])
		assert.Equal(t, 1.0, body["checked"])
		assert.Equal(t, 1.0, body["promoted"])
		assert.Equal(t, membership.TierVIP, f.member(t, "m1").Tier)
	})

	t.Run("admin api key", func(t *testing.T) {
		key, err := auth.IssueAPIKey(t.Context(), f.store, "admin-1")
		require.NoError(t, err)
		rr, body := post(t, h, "/jobs/balance-expiry", "ApiKey "+key)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "Manual balance expiry check completed", body["message"])
		assert.Equal(t, 0.0, body["totalExpired"])
	})

	t.Run("store failure", func(t *testing.T) {
		f.store.Inject(chaos.Fault{Op: chaos.OpQuery})
		t.Cleanup(f.store.Clear)
		rr, body := post(t, h, "/jobs/suspension", "Bearer "+adminToken)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "internal", body["error"])
		assert.Equal(t, "Manual suspension check failed", body["message"])
		assert.NotContains(t, body, "checked")
	})
}

func TestHealthAndMetrics(t *testing.T) {
	_, _, h := setupHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

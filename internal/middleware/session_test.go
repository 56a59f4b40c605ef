package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chatline/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthedServer(t *testing.T, gotUserID *string) (http.Handler, string) {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.Set(context.Background(), "valid-token", "alice", time.Minute))

	h := SessionAuth(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*gotUserID = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	return h, "valid-token"
}

func TestSessionAuthBearerHeader(t *testing.T) {
	var gotUserID string
	h, token := newAuthedServer(t, &gotUserID)

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", gotUserID)
}

func TestSessionAuthQueryToken(t *testing.T) {
	var gotUserID string
	h, token := newAuthedServer(t, &gotUserID)

	// WebSocket clients cannot set headers, so the token arrives in the query.
	req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", gotUserID)
}

func TestSessionAuthRejectsMissingAndUnknownTokens(t *testing.T) {
	var gotUserID string
	h, _ := newAuthedServer(t, &gotUserID)

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", MaskToken("abc"))
	assert.Equal(t, "abcd***", MaskToken("abcdefgh"))
}

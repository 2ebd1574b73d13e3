package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltledger/internal/apperr"
	"voltledger/internal/models"
)

func statusWriter(w http.ResponseWriter, _ *http.Request, err error) {
	w.WriteHeader(apperr.HTTPStatus(apperr.KindOf(err)))
}

func newTestRouter(a *Authenticator) http.Handler {
	r := chi.NewRouter()
	r.Use(a.Middleware)
	r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ClaimsFrom(r.Context()); !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.With(a.AdminOnly).Get("/admin", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.With(a.OwnerOrAdmin).Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func request(t *testing.T, h http.Handler, path, header, query string) int {
	t.Helper()
	if query != "" {
		path += "?token=" + query
	}
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code
}

func TestTokenRoundTrip(t *testing.T) {
	a := NewAuthenticator("secret", time.Hour, statusWriter)
	token, err := a.GenerateToken(&models.User{ID: 7, IsAdmin: true})
	require.NoError(t, err)

	claims, err := a.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.True(t, claims.IsAdmin)

	other := NewAuthenticator("other", time.Hour, statusWriter)
	_, err = other.ParseToken(token)
	assert.Error(t, err)

	expired := NewAuthenticator("secret", -time.Minute, statusWriter)
	token, err = expired.GenerateToken(&models.User{ID: 7})
	require.NoError(t, err)
	_, err = a.ParseToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestMiddleware(t *testing.T) {
	a := NewAuthenticator("secret", time.Hour, statusWriter)
	h := newTestRouter(a)

	user, err := a.GenerateToken(&models.User{ID: 7})
	require.NoError(t, err)
	admin, err := a.GenerateToken(&models.User{ID: 1, IsAdmin: true})
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		query  string
		want   int
	}{
		{name: "missing token", path: "/me", want: http.StatusUnauthorized},
		{name: "malformed header", path: "/me", header: "Token " + user, want: http.StatusUnauthorized},
		{name: "garbage token", path: "/me", header: "Bearer abc", want: http.StatusUnauthorized},
		{name: "bearer header", path: "/me", header: "Bearer " + user, want: http.StatusNoContent},
		{name: "query token", path: "/me", query: user, want: http.StatusNoContent},
		{name: "admin route as user", path: "/admin", header: "Bearer " + user, want: http.StatusForbidden},
		{name: "admin route as admin", path: "/admin", header: "Bearer " + admin, want: http.StatusNoContent},
		{name: "own resource", path: "/users/7", header: "Bearer " + user, want: http.StatusNoContent},
		{name: "other resource", path: "/users/8", header: "Bearer " + user, want: http.StatusForbidden},
		{name: "bad id", path: "/users/x", header: "Bearer " + user, want: http.StatusBadRequest},
		{name: "admin on other resource", path: "/users/8", header: "Bearer " + admin, want: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, request(t, h, tt.path, tt.header, tt.query))
		})
	}
}

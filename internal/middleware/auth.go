package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"voltledger/internal/apperr"
	"voltledger/internal/models"
	"voltledger/internal/utils"
)

type contextKey string

const claimsKey contextKey = "claims"

// ErrorWriter renders an error response; the API layer supplies it so that
// middleware failures use the same JSON envelope as handlers.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

type Authenticator struct {
	secret   []byte
	ttl      time.Duration
	writeErr ErrorWriter
}

func NewAuthenticator(secret string, ttl time.Duration, writeErr ErrorWriter) *Authenticator {
	return &Authenticator{secret: []byte(secret), ttl: ttl, writeErr: writeErr}
}

// GenerateToken creates a new JWT token for a user
func (a *Authenticator) GenerateToken(u *models.User) (string, error) {
	now := time.Now()
	claims := models.Claims{
		UserID:  u.ID,
		IsAdmin: u.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(u.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ParseToken validates the signature and expiry of a token.
func (a *Authenticator) ParseToken(tokenString string) (*models.Claims, error) {
	claims := &models.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	// browsers cannot set headers on websocket upgrades
	return r.URL.Query().Get("token")
}

// Middleware authenticates the request and stores the claims in its context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			a.writeErr(w, r, apperr.Unauthorized("authorization token required"))
			return
		}

		claims, err := a.ParseToken(tokenString)
		if err != nil {
			a.writeErr(w, r, apperr.Wrap(apperr.KindUnauthorized, "invalid token", err))
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ClaimsFrom(ctx context.Context) (*models.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*models.Claims)
	return claims, ok
}

// AdminOnly middleware restricts access to admin users
func (a *Authenticator) AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		if !ok {
			a.writeErr(w, r, apperr.Unauthorized("unauthorized"))
			return
		}
		if !claims.IsAdmin {
			a.writeErr(w, r, apperr.Forbidden("admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// OwnerOrAdmin middleware allows access to the {id} resource owner or an admin
func (a *Authenticator) OwnerOrAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		if !ok {
			a.writeErr(w, r, apperr.Unauthorized("unauthorized"))
			return
		}
		if claims.IsAdmin {
			next.ServeHTTP(w, r)
			return
		}

		userID, err := utils.IDParam(r, "id")
		if err != nil {
			a.writeErr(w, r, apperr.Validation("invalid user id"))
			return
		}
		if userID != claims.UserID {
			a.writeErr(w, r, apperr.Forbidden("access denied"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

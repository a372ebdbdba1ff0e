package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/John-Robertt/subconverter-go/internal/model"
	"github.com/John-Robertt/subconverter-go/internal/settings"
)

// tokenClaims is deliberately minimal: this module only validates tokens
// minted elsewhere against the shared secret in Settings.Token, it never
// issues them.
type tokenClaims struct {
	jwt.RegisteredClaims
}

func validateToken(secret, tokenString string) error {
	if strings.TrimSpace(tokenString) == "" {
		return errors.New("token is empty")
	}
	_, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	return err
}

// requireToken gates /sub and /api/convert behind the "token" query/header
// field, per spec.md §6's auth plumbing for managed-config headers. A nil
// or RequireToken=false Settings leaves every route open.
func requireToken(st *settings.Settings) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if st == nil || !st.RequireToken {
				next.ServeHTTP(w, r)
				return
			}
			tok := bearerToken(r)
			if tok == "" {
				tok = r.URL.Query().Get("token")
			}
			if err := validateToken(st.Token, tok); err != nil {
				WriteError(w, http.StatusUnauthorized, model.AppError{
					Code:    "UNAUTHORIZED",
					Message: "token 校验失败",
					Stage:   "validate_request",
					Hint:    err.Error(),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, prefix))
	}
	return ""
}

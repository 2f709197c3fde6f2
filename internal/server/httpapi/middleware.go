package httpapi

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey int

const userIDCtxKey ctxKey = iota

// authenticator is the subset of auth.Service the middleware needs.
type authenticator interface {
	Authenticate(accessToken string) (userID string, err error)
}

// bearerAuth validates the Authorization: Bearer <token> header on every
// request in its chain and stashes the resolved user ID in the request
// context for handlers to read via userIDFromContext.
func bearerAuth(auth authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			userID, err := auth.Authenticate(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDCtxKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func userIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDCtxKey).(string)
	return userID
}

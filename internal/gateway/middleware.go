package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	ownerIDKey
)

// HeaderOwnerID identifies the caller on /v1 routes.
const HeaderOwnerID = "X-Owner-ID"

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, rid)))
	})
}

func requestID(r *http.Request) string {
	if rid, ok := r.Context().Value(requestIDKey).(string); ok {
		return rid
	}
	return uuid.NewString()
}

func requireToken(token string) func(http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isAuthorized(r, token) {
				writeError(w, requestID(r), http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(HeaderOwnerID))
		if owner == "" {
			writeError(w, requestID(r), http.StatusBadRequest, "bad_request", HeaderOwnerID+" header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerIDKey, owner)))
	})
}

func ownerID(r *http.Request) string {
	owner, _ := r.Context().Value(ownerIDKey).(string)
	return owner
}

func isAuthorized(r *http.Request, expected string) bool {
	got := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(got, prefix) {
		return false
	}
	return strings.TrimSpace(strings.TrimPrefix(got, prefix)) == expected
}

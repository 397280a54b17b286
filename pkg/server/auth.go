package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/smartenergy/smartenergy/pkg/log"
)

// authMiddleware requires a valid ID token, sent as a bearer token or in the
// auth cookie, when a verifier is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))

		if s.oidcVerifier == nil {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		var token string
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
				writeJSONError(w, "invalid auth header", http.StatusBadRequest)
				return
			}
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else {
			authCookie, err := r.Cookie(authTokenCookie)
			if err != nil && !errors.Is(err, http.ErrNoCookie) {
				log.Ctx(ctx).ErrorContext(ctx, "failed to get auth cookie", slog.Any("error", err))
				writeJSONError(w, "missing auth token", http.StatusUnauthorized)
				return
			}
			if authCookie != nil {
				token = authCookie.Value
			}
		}
		if token == "" {
			log.Ctx(ctx).WarnContext(ctx, "no auth token found")
			writeJSONError(w, "missing auth token", http.StatusUnauthorized)
			return
		}

		idToken, err := s.oidcVerifier(ctx, token)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "auth token validation failed", slog.Any("error", err))
			writeJSONError(w, "invalid auth token", http.StatusUnauthorized)
			return
		}
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("userID", idToken.Subject)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/credvault/credvault/internal/session"
)

const (
	// HeaderSessionID carries the session token.
	HeaderSessionID = "X-Session-Id"
	// HeaderAuthKey carries the legacy static shared key.
	HeaderAuthKey = "X-Auth-Key"
)

var (
	// errUnauthorized covers every authentication failure: missing token,
	// unknown token, expired token, bad legacy key. Callers must not be
	// able to tell which sessions exist.
	errUnauthorized = errors.New("invalid or expired session")
	// errForbidden means the session is valid but does not grant the
	// requested service.
	errForbidden = errors.New("session does not grant access to this service")
)

// authorize accepts either a valid session scoped to service or the legacy
// static key, which grants every service with no expiry. The specific
// session failure is logged for observability but the returned error is
// always one of the two generic ones.
func (h *Handlers) authorize(r *http.Request, service string) error {
	var sessionErr error
	if token := r.Header.Get(HeaderSessionID); token != "" {
		if _, err := h.sessions.Validate(token, service); err == nil {
			return nil
		} else {
			h.log.Debug("session validation failed",
				zap.String("service", service),
				zap.Error(err),
			)
			sessionErr = err
		}
	}

	if key := r.Header.Get(HeaderAuthKey); key != "" && h.legacyKey != "" {
		if subtle.ConstantTimeCompare([]byte(key), []byte(h.legacyKey)) == 1 {
			return nil
		}
		h.log.Debug("legacy key rejected", zap.String("service", service))
	}

	if errors.Is(sessionErr, session.ErrServiceNotGranted) {
		return errForbidden
	}
	return errUnauthorized
}

// requestLogger logs each request with its status and duration. Tokens and
// keys live in headers and are never logged.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

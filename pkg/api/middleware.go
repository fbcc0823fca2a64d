package api

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/promptbuddy/pkg/token"
)

const (
	allowMethods   = "GET,POST,OPTIONS"
	defaultHeaders = "Content-Type, Authorization, X-OU-PASS, X-OU-DEVICE"
	maxAge         = "86400"
	maxRequestID   = 64
)

type contextKey string

const subjectKey contextKey = "promptbuddy:subject"

// SubjectFromContext returns the token subject stored by the auth gate
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(subjectKey).(string)
	return subject
}

// requestLogger assigns a request id, stores a request-scoped zerolog logger in
// the context and writes one access line per request. Tokens and passphrases are
// never logged.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := h.config.Now()

		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" || len(requestID) > maxRequestID {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)

		logger := h.logger.With().Str("request_id", requestID).Logger()
		ctx := logger.WithContext(r.Context())
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			event := zerolog.Ctx(ctx).Info()
			if status >= http.StatusInternalServerError {
				event = zerolog.Ctx(ctx).Error()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", h.config.Now().Sub(start)).
				Msg("request")
		}()

		next.ServeHTTP(ww, r.WithContext(ctx))
	})
}

// cors sets the CORS headers on every response and answers preflight requests.
// With StrictOrigin, requests carrying a foreign Origin are refused.
func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		_, allowed := h.origins[origin]

		hdr := w.Header()
		if allowed {
			hdr.Set("Access-Control-Allow-Origin", origin)
		} else {
			hdr.Set("Access-Control-Allow-Origin", h.config.DefaultOrigin)
		}
		hdr.Set("Access-Control-Allow-Methods", allowMethods)
		if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
			hdr.Set("Access-Control-Allow-Headers", requested)
		} else {
			hdr.Set("Access-Control-Allow-Headers", defaultHeaders)
		}
		hdr.Set("Access-Control-Max-Age", maxAge)
		hdr.Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if h.config.StrictOrigin && origin != "" && !allowed {
			writeError(w, http.StatusForbidden, ErrKindOriginNotAllowed)
			return
		}

		next.ServeHTTP(w, r)
	})
}

var bearerPattern = regexp.MustCompile(`(?i)^Bearer\s+(.+)$`)

func bearerToken(r *http.Request) string {
	m := bearerPattern.FindStringSubmatch(r.Header.Get("Authorization"))
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// requireToken verifies the bearer token and stores its subject in the context
func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.config.Codec == nil {
			zerolog.Ctx(r.Context()).Error().Msg("token secret is not configured")
			writeError(w, http.StatusInternalServerError, ErrKindServerMisconfig)
			return
		}

		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, ErrKindMissingToken)
			return
		}

		claims, err := h.config.Codec.Verify(raw)
		if err != nil {
			if errors.Is(err, token.ErrTokenExpired) {
				writeError(w, http.StatusUnauthorized, ErrKindTokenExpired)
				return
			}
			writeError(w, http.StatusUnauthorized, ErrKindBadToken)
			return
		}

		zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("subject", claims.Subject)
		})
		ctx := context.WithValue(r.Context(), subjectKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/promptbuddy/pkg/quota"
	"github.com/mihaimyh/promptbuddy/pkg/review"
	"github.com/mihaimyh/promptbuddy/pkg/token"
)

// isoMillis matches JavaScript's Date.toISOString for UTC times
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Handler routes the proxy endpoints
type Handler struct {
	config  Config
	logger  zerolog.Logger
	origins map[string]struct{}
	limiter *attemptLimiter
	router  chi.Router
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	// Forwarding headers are client-controlled unless a proxy rewrites them
	if h.config.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(h.cors)

	// Every path outside the public ones is authenticated before it is resolved
	notFound := h.requireToken(http.HandlerFunc(h.NotFound)).ServeHTTP
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	r.Get("/", h.Health)
	r.Get("/health", h.Health)
	if h.config.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", h.config.MetricsHandler)
	}

	r.HandleFunc("/unlock", h.Unlock)

	r.Group(func(r chi.Router) {
		r.Use(h.requireToken)
		r.HandleFunc("/status", h.Status)
		r.HandleFunc("/prompt-check", h.PromptCheck)
		r.HandleFunc("/coach-last5", h.Coach)
	})

	return r
}

// Health answers liveness probes
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{OK: true})
}

// NotFound answers unknown routes
func (h *Handler) NotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, ErrKindNotFound)
}

// Unlock exchanges an allow-listed passphrase for a signed bearer token
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, ErrKindUsePost)
		return
	}

	if h.limiter != nil {
		if ok, resetAt := h.limiter.Allow(clientIP(r)); !ok {
			h.config.Metrics.RecordUnlock(ErrKindTooManyAttempts)
			setRetryAfter(w, resetAt.Sub(h.config.Now()))
			writeError(w, http.StatusTooManyRequests, ErrKindTooManyAttempts)
			return
		}
	}

	body, err := decodeBody[UnlockRequest](w, r, h.config.MaxBodyBytes)
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, ErrKindBodyTooLarge)
		return
	}

	passphrase := firstNonEmpty(r.Header.Get(HeaderPassphrase), body.Passphrase)
	deviceID := firstNonEmpty(r.Header.Get(HeaderDeviceID), body.DeviceID)

	if passphrase == "" {
		h.config.Metrics.RecordUnlock(ErrKindMissingPassphrase)
		writeError(w, http.StatusBadRequest, ErrKindMissingPassphrase)
		return
	}
	if !h.passphraseAllowed(passphrase) {
		h.config.Metrics.RecordUnlock(ErrKindInvalidPassphrase)
		zerolog.Ctx(r.Context()).Warn().Msg("unlock rejected")
		writeError(w, http.StatusUnauthorized, ErrKindInvalidPassphrase)
		return
	}
	if h.config.Codec == nil {
		h.config.Metrics.RecordUnlock(ErrKindServerMisconfig)
		zerolog.Ctx(r.Context()).Error().Msg("token secret is not configured")
		writeError(w, http.StatusInternalServerError, ErrKindServerMisconfig)
		return
	}

	issued, err := h.config.Codec.Issue(token.DeriveSubject(passphrase, deviceID), h.config.TokenTTL)
	if err != nil {
		h.config.Metrics.RecordUnlock(ErrKindServerMisconfig)
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to issue token")
		writeError(w, http.StatusInternalServerError, ErrKindServerMisconfig)
		return
	}

	h.config.Metrics.RecordUnlock("ok")
	zerolog.Ctx(r.Context()).Info().
		Str("subject", issued.Subject).
		Bool("device", deviceID != "").
		Time("expires_at", issued.ExpiresAt).
		Msg("token issued")

	writeJSON(w, http.StatusOK, UnlockResponse{
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt.UTC().Format(isoMillis),
		Exp:       issued.ExpiresAt.UnixMilli(),
	})
}

// Status reports today's counters without consuming any allowance
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, ErrKindUseGet)
		return
	}

	subject := SubjectFromContext(r.Context())
	usages := make([]*quota.Usage, len(quota.Kinds))

	g, ctx := errgroup.WithContext(r.Context())
	for i, kind := range quota.Kinds {
		g.Go(func() error {
			usage, err := h.config.Manager.Get(ctx, subject, kind)
			if err != nil {
				return err
			}
			usages[i] = usage
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.storageFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		DayKey:   usages[0].DayKey,
		ResetsAt: h.config.Manager.NextReset().Format(time.RFC3339),
		Prompt:   counterFrom(usages[0]),
		Coach:    counterFrom(usages[1]),
	})
}

// PromptCheck reviews a single prompt
func (h *Handler) PromptCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, ErrKindUsePost)
		return
	}

	body, err := decodeBody[PromptCheckRequest](w, r, h.config.MaxBodyBytes)
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, ErrKindBodyTooLarge)
		return
	}

	prompt := strings.TrimSpace(body.Prompt)
	if prompt == "" {
		writeError(w, http.StatusBadRequest, ErrKindMissingPrompt)
		return
	}
	prompt = review.Clip(prompt, h.config.PromptMaxChars)

	if !h.consume(w, r, quota.KindPrompt, ErrKindDailyPromptLimit) {
		return
	}

	result, err := h.config.Review.PromptCheck(r.Context(), prompt, review.ParseLens(body.Lens))
	if err != nil {
		h.upstreamFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Coach reviews the caller's recent prompts for recurring mistakes
func (h *Handler) Coach(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, ErrKindUsePost)
		return
	}

	body, err := decodeBody[CoachRequest](w, r, h.config.MaxBodyBytes)
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, ErrKindBodyTooLarge)
		return
	}

	combined := review.BuildCoachText(body.Items, body.Text, h.config.CoachMaxChars)
	if combined == "" {
		writeError(w, http.StatusBadRequest, ErrKindMissingItems)
		return
	}

	if !h.consume(w, r, quota.KindCoach, ErrKindDailyCoachLimit) {
		return
	}

	result, err := h.config.Review.Coach(r.Context(), combined)
	if err != nil {
		h.upstreamFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// consume increments the caller's counter for kind. It writes the error response
// and returns false when the request must stop here. The unit is spent even when
// the request turns out to be over the limit.
func (h *Handler) consume(w http.ResponseWriter, r *http.Request, kind quota.Kind, limitKind string) bool {
	usage, err := h.config.Manager.Increment(r.Context(), SubjectFromContext(r.Context()), kind)
	if err != nil {
		h.storageFailure(w, r, err)
		return false
	}
	if usage.Exceeded() {
		setRetryAfter(w, h.config.Manager.NextReset().Sub(h.config.Now()))
		writeError(w, http.StatusTooManyRequests, limitKind)
		return false
	}
	return true
}

func (h *Handler) passphraseAllowed(passphrase string) bool {
	ok := 0
	for _, allowed := range h.config.AllowedPassphrases {
		ok |= subtle.ConstantTimeCompare([]byte(allowed), []byte(passphrase))
	}
	return ok == 1
}

func counterFrom(u *quota.Usage) Counter {
	return Counter{Used: u.Used, Limit: u.Limit, Left: u.Left()}
}

// decodeBody reads a JSON body of at most limit bytes. A missing or unparsable
// body yields the zero value; only an oversized body is an error.
func decodeBody[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, error) {
	var zero T
	if r.Body == nil {
		return zero, nil
	}

	var v T
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return zero, errBodyTooLarge
		}
		return zero, nil
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

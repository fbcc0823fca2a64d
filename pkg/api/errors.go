package api

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/mihaimyh/promptbuddy/pkg/upstream"
)

// Error kinds returned in the "error" field of every failure body
const (
	ErrKindUsePost           = "use_post"
	ErrKindUseGet            = "use_get"
	ErrKindNotFound          = "not_found"
	ErrKindMissingPassphrase = "missing_passphrase"
	ErrKindInvalidPassphrase = "invalid_passphrase"
	ErrKindTooManyAttempts   = "too_many_attempts"
	ErrKindMissingToken      = "missing_token"
	ErrKindBadToken          = "bad_token"
	ErrKindTokenExpired      = "token_expired"
	ErrKindMissingPrompt     = "missing_prompt"
	ErrKindMissingItems      = "missing_items"
	ErrKindBodyTooLarge      = "body_too_large"
	ErrKindDailyPromptLimit  = "daily_prompt_limit"
	ErrKindDailyCoachLimit   = "daily_coach_limit"
	ErrKindOriginNotAllowed  = "origin_not_allowed"
	ErrKindServerMisconfig   = "server_misconfig"
	ErrKindStorage           = "storage_unavailable"
	ErrKindUpstream          = "upstream_error"

	// ErrKindPromptTooLong is reserved; oversized prompts are clipped instead
	ErrKindPromptTooLong = "prompt_too_long"
)

var errBodyTooLarge = errors.New("request body too large")

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind string) {
	writeJSON(w, status, ErrorResponse{Error: kind})
}

// storageFailure reports a counter backend error
func (h *Handler) storageFailure(w http.ResponseWriter, r *http.Request, err error) {
	zerolog.Ctx(r.Context()).Error().Err(err).Msg("counter storage failed")
	writeError(w, http.StatusServiceUnavailable, ErrKindStorage)
}

// upstreamFailure reports a failed completion call. A missing provider key is a
// configuration problem and is not blamed on the provider.
func (h *Handler) upstreamFailure(w http.ResponseWriter, r *http.Request, err error) {
	logger := zerolog.Ctx(r.Context())
	if errors.Is(err, upstream.ErrMissingAPIKey) {
		logger.Error().Err(err).Msg("upstream is not configured")
		writeError(w, http.StatusInternalServerError, ErrKindServerMisconfig)
		return
	}

	logger.Error().Err(err).Msg("upstream call failed")
	writeJSON(w, http.StatusBadGateway, ErrorResponse{
		Error:  ErrKindUpstream,
		Detail: upstream.Truncate(err.Error(), upstream.MaxErrorBody),
	})
}

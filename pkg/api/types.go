package api

import "github.com/mihaimyh/promptbuddy/pkg/review"

// HealthResponse is returned by / and /health
type HealthResponse struct {
	OK bool `json:"ok"`
}

// UnlockRequest is the optional JSON body of /unlock. Headers take precedence.
type UnlockRequest struct {
	Passphrase string `json:"passphrase"`
	DeviceID   string `json:"deviceId"`
}

// UnlockResponse carries a freshly issued bearer token
type UnlockResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"` // ISO-8601, millisecond precision, UTC
	Exp       int64  `json:"exp"`       // Unix milliseconds
}

// Counter is the public view of one daily counter
type Counter struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
	Left  int `json:"left"`
}

// StatusResponse reports today's counters for the caller
type StatusResponse struct {
	DayKey   string  `json:"dayKey"`
	ResetsAt string  `json:"resetsAt"`
	Prompt   Counter `json:"prompt"`
	Coach    Counter `json:"coach"`
}

// PromptCheckRequest is the body of /prompt-check
type PromptCheckRequest struct {
	Prompt string `json:"prompt"`
	Lens   string `json:"lens"`
}

// CoachRequest is the body of /coach-last5. Items win over Text when both are given.
type CoachRequest struct {
	Text  string        `json:"text"`
	Items []review.Item `json:"items"`
}

// Package upstream defines the chat-completion contract the proxy forwards to.
//
// Calls are single-shot: a failed completion is returned to the caller as is,
// with no retry or backoff.
package upstream

import (
	"context"
	"errors"
	"fmt"
)

// MaxErrorBody is how much of a provider's error body is kept
const MaxErrorBody = 400

// ErrMissingAPIKey is returned when the provider key is not configured
var ErrMissingAPIKey = errors.New("upstream api key is not configured")

// Request is one system+user completion
type Request struct {
	System    string
	User      string
	MaxTokens int
}

// Client completes a request and returns the first choice's text
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ClientFunc adapts a function to Client
type ClientFunc func(ctx context.Context, req Request) (string, error)

// Complete implements Client
func (f ClientFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Error is a non-successful provider response
type Error struct {
	Provider string
	Status   int
	Body     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error %d: %s", e.Provider, e.Status, e.Body)
}

// NewError builds an Error, truncating body to MaxErrorBody bytes
func NewError(provider string, status int, body string) *Error {
	return &Error{Provider: provider, Status: status, Body: Truncate(body, MaxErrorBody)}
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	// Back up to a rune start
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}

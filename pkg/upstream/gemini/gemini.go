// Package gemini implements upstream.Client with Google's Gen AI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/mihaimyh/promptbuddy/pkg/upstream"
)

const (
	// Provider names this client in errors and metrics
	Provider = "gemini"

	DefaultModel       = "gemini-2.5-flash"
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 900
)

// Config holds Gemini client configuration
type Config struct {
	APIKey string

	// Model (default: gemini-2.5-flash)
	Model string

	// BaseURL overrides the API endpoint, mainly for tests
	BaseURL string

	// Temperature (default: 0.2)
	Temperature float32

	// Timeout bounds a whole call when the context has no deadline (default: 60s)
	Timeout time.Duration
}

// Client implements upstream.Client
type Client struct {
	client *genai.Client
	config Config
}

// New creates a Gemini client. Without an API key the client is created but
// every Complete call fails with upstream.ErrMissingAPIKey.
func New(ctx context.Context, config Config) (*Client, error) {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Temperature == 0 {
		config.Temperature = DefaultTemperature
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	c := &Client{config: config}
	if strings.TrimSpace(config.APIKey) == "" {
		return c, nil
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(config.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	c.client = client
	return c, nil
}

// Complete implements upstream.Client
func (c *Client) Complete(ctx context.Context, req upstream.Request) (string, error) {
	if c.client == nil {
		return "", upstream.ErrMissingAPIKey
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	resp, err := c.client.Models.GenerateContent(ctx,
		c.config.Model,
		[]*genai.Content{genai.NewContentFromText(req.User, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
			Temperature:       genai.Ptr(c.config.Temperature),
			MaxOutputTokens:   int32(maxTokens),
		},
	)
	if err != nil {
		return "", mapError(err)
	}

	return resp.Text(), nil
}

// mapError turns SDK API errors into upstream.Error so the router reports the status
func mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return upstream.NewError(Provider, apiErr.Code, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return upstream.NewError(Provider, apiErrPtr.Code, apiErrPtr.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return upstream.NewError(Provider, http.StatusGatewayTimeout, err.Error())
	}
	return fmt.Errorf("failed to call %s: %w", Provider, err)
}

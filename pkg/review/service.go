// Package review turns user prompts into upstream completions and normalizes
// the replies into the fixed prompt-check and coach shapes.
package review

import (
	"context"
	"time"

	"github.com/mihaimyh/promptbuddy/pkg/extract"
	"github.com/mihaimyh/promptbuddy/pkg/quota"
	"github.com/mihaimyh/promptbuddy/pkg/upstream"
)

const (
	// PromptCheckMaxTokens caps the prompt-check reply length
	PromptCheckMaxTokens = 900
	// CoachMaxTokens caps the coach reply length
	CoachMaxTokens = 700
)

// Config holds review service configuration
type Config struct {
	// Provider names the upstream in metrics and logs (default: "upstream")
	Provider string

	// Metrics is used for tracking upstream calls and extraction outcomes (default: NoopMetrics)
	Metrics quota.Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger quota.Logger
}

// Service runs prompt-check and coach reviews against one upstream client
type Service struct {
	client   upstream.Client
	provider string
	metrics  quota.Metrics
	logger   quota.Logger
}

// NewService creates a review service
func NewService(client upstream.Client, config Config) *Service {
	if config.Provider == "" {
		config.Provider = "upstream"
	}
	if config.Metrics == nil {
		config.Metrics = &quota.NoopMetrics{}
	}
	if config.Logger == nil {
		config.Logger = &quota.NoopLogger{}
	}
	return &Service{
		client:   client,
		provider: config.Provider,
		metrics:  config.Metrics,
		logger:   config.Logger,
	}
}

// PromptCheck reviews prompt through lens. The prompt must already be clipped.
// Upstream failures are returned unchanged; a reply that is not JSON is not an error.
func (s *Service) PromptCheck(ctx context.Context, prompt string, lens Lens) (extract.PromptCheck, error) {
	out, err := s.complete(ctx, upstream.Request{
		System:    SystemPrompt(lens),
		User:      prompt,
		MaxTokens: PromptCheckMaxTokens,
	})
	if err != nil {
		return extract.PromptCheck{}, err
	}

	result, outcome := extract.NormalizePromptCheck(extract.Parse(out))
	s.recordExtraction("prompt_check", outcome, len(out))
	return result, nil
}

// Coach reviews combined history text built by BuildCoachText
func (s *Service) Coach(ctx context.Context, combined string) (extract.Coach, error) {
	out, err := s.complete(ctx, upstream.Request{
		System:    CoachPrompt,
		User:      combined,
		MaxTokens: CoachMaxTokens,
	})
	if err != nil {
		return extract.Coach{}, err
	}

	result, outcome := extract.NormalizeCoach(extract.Parse(out))
	s.recordExtraction("coach", outcome, len(out))
	return result, nil
}

func (s *Service) complete(ctx context.Context, req upstream.Request) (string, error) {
	start := time.Now()
	out, err := s.client.Complete(ctx, req)
	duration := time.Since(start)

	s.metrics.RecordUpstreamCall(s.provider, duration, err)
	if err != nil {
		s.logger.Error("upstream completion failed",
			quota.Field{Key: "provider", Value: s.provider},
			quota.Field{Key: "duration", Value: duration},
			quota.Field{Key: "error", Value: err})
		return "", err
	}

	s.logger.Debug("upstream completion finished",
		quota.Field{Key: "provider", Value: s.provider},
		quota.Field{Key: "duration", Value: duration},
		quota.Field{Key: "output_len", Value: len(out)})
	return out, nil
}

func (s *Service) recordExtraction(shape string, outcome extract.Outcome, outputLen int) {
	s.metrics.RecordExtraction(shape, string(outcome))
	if outcome == extract.OutcomeFallback {
		s.logger.Warn("model output was not valid JSON",
			quota.Field{Key: "shape", Value: shape},
			quota.Field{Key: "output_len", Value: outputLen})
	}
}

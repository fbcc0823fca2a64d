package quota

import (
	"time"
)

// Kind identifies which metered feature a daily counter tracks
type Kind string

const (
	// KindPrompt counts prompt-check calls
	KindPrompt Kind = "prompt"
	// KindCoach counts coach-last5 calls
	KindCoach Kind = "coach"
)

// Kinds lists every counter kind in response order
var Kinds = []Kind{KindPrompt, KindCoach}

// Valid reports whether k is a known counter kind
func (k Kind) Valid() bool {
	return k == KindPrompt || k == KindCoach
}

// Usage represents the state of one (subject, day, kind) counter
type Usage struct {
	Subject string
	Kind    Kind
	DayKey  string
	Used    int
	Limit   int
}

// Left returns the remaining allowance for the day, never negative
func (u Usage) Left() int {
	if u.Used >= u.Limit {
		return 0
	}
	return u.Limit - u.Used
}

// Exceeded reports whether the counter went past its limit.
// The check is post-increment: the call that moves used from limit to limit+1
// is the first one flagged.
func (u Usage) Exceeded() bool {
	return u.Used > u.Limit
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	// Enabled determines if the circuit breaker is active
	Enabled bool

	// FailureThreshold is the number of consecutive failures before opening the circuit (default: 5)
	FailureThreshold int

	// ResetTimeout is the duration to wait before transitioning from Open to Half-Open (default: 30 seconds)
	ResetTimeout time.Duration
}

// Config holds quota manager configuration
type Config struct {
	// Limits maps counter kinds to their daily ceilings
	Limits map[Kind]int

	// Location is the timezone whose midnight resets the counters (default: Europe/Sofia)
	Location *time.Location

	// Now overrides the clock, mainly for tests (default: time.Now)
	Now func() time.Time

	// Metrics is used for tracking counter operations (default: NoopMetrics)
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// CircuitBreakerConfig configures the circuit breaker around storage
	CircuitBreakerConfig *CircuitBreakerConfig
}

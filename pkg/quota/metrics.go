package quota

import "time"

// Metrics defines the interface for tracking proxy operations and performance.
type Metrics interface {
	// RecordIncrement records a counter increment and whether it pushed the counter over its limit.
	RecordIncrement(kind Kind, overLimit bool)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)

	// RecordUnlock records the outcome of an unlock attempt (e.g. "ok", "invalid_passphrase").
	RecordUnlock(outcome string)

	// RecordUpstreamCall records the duration and outcome of an upstream completion call.
	RecordUpstreamCall(provider string, duration time.Duration, err error)

	// RecordExtraction records how a model reply was recovered ("parsed", "nested", "fallback").
	RecordExtraction(shape, outcome string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordIncrement(kind Kind, overLimit bool)                                  {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(state string)                               {}
func (n *NoopMetrics) RecordUnlock(outcome string)                                                {}
func (n *NoopMetrics) RecordUpstreamCall(provider string, duration time.Duration, err error)      {}
func (n *NoopMetrics) RecordExtraction(shape, outcome string)                                     {}

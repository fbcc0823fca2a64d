package quota

import (
	"context"
	"time"
)

// Manager tracks per-subject daily usage for every counter kind
type Manager struct {
	storage Storage
	config  Config
	metrics Metrics
	logger  Logger
	now     func() time.Time
}

// NewManager creates a new quota manager with the given storage and configuration
func NewManager(storage Storage, config Config) (*Manager, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}

	// Set defaults
	if config.Location == nil {
		loc, err := LoadLocation(DefaultTimezone)
		if err != nil {
			return nil, err
		}
		config.Location = loc
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Limits == nil {
		config.Limits = map[Kind]int{}
	}

	if cbc := config.CircuitBreakerConfig; cbc != nil && cbc.Enabled {
		metrics, logger := config.Metrics, config.Logger
		cb := NewDefaultCircuitBreaker(cbc.FailureThreshold, cbc.ResetTimeout, func(state CircuitBreakerState) {
			metrics.RecordCircuitBreakerStateChange(string(state))
			logger.Warn("storage circuit breaker state changed", Field{"state", string(state)})
		})
		storage = NewCircuitBreakerStorage(storage, cb)
	}

	return &Manager{
		storage: storage,
		config:  config,
		metrics: config.Metrics,
		logger:  config.Logger,
		now:     config.Now,
	}, nil
}

// DayKey returns today's key in the configured timezone
func (m *Manager) DayKey() string {
	return DayKey(m.now(), m.config.Location)
}

// NextReset returns when today's counters stop being read
func (m *Manager) NextReset() time.Time {
	return NextReset(m.now(), m.config.Location)
}

// Limit returns the configured daily ceiling for a kind
func (m *Manager) Limit(kind Kind) int {
	return m.config.Limits[kind]
}

// Get returns today's usage for subject without modifying it
func (m *Manager) Get(ctx context.Context, subject string, kind Kind) (*Usage, error) {
	dayKey := m.DayKey()
	if err := ValidateKey(subject, dayKey, kind); err != nil {
		return nil, err
	}

	start := time.Now()
	used, err := m.storage.GetUsed(ctx, subject, dayKey, kind)
	m.metrics.RecordStorageOperation("get", time.Since(start), err)
	if err != nil {
		m.logger.Error("failed to read daily counter",
			Field{"subject", subject}, Field{"kind", string(kind)}, Field{"error", err})
		return nil, err
	}

	return &Usage{
		Subject: subject,
		Kind:    kind,
		DayKey:  dayKey,
		Used:    used,
		Limit:   m.Limit(kind),
	}, nil
}

// Increment adds one to today's counter and returns the new state.
//
// The increment is applied before the caller decides anything, so a request that
// ends up over the limit has still consumed a unit. Callers check Usage.Exceeded.
func (m *Manager) Increment(ctx context.Context, subject string, kind Kind) (*Usage, error) {
	dayKey := m.DayKey()
	if err := ValidateKey(subject, dayKey, kind); err != nil {
		return nil, err
	}

	start := time.Now()
	used, err := m.storage.Increment(ctx, subject, dayKey, kind)
	m.metrics.RecordStorageOperation("increment", time.Since(start), err)
	if err != nil {
		m.logger.Error("failed to increment daily counter",
			Field{"subject", subject}, Field{"kind", string(kind)}, Field{"error", err})
		return nil, err
	}

	usage := &Usage{
		Subject: subject,
		Kind:    kind,
		DayKey:  dayKey,
		Used:    used,
		Limit:   m.Limit(kind),
	}
	m.metrics.RecordIncrement(kind, usage.Exceeded())
	if usage.Exceeded() {
		m.logger.Info("daily limit exceeded",
			Field{"subject", subject}, Field{"kind", string(kind)},
			Field{"used", used}, Field{"limit", usage.Limit})
	}

	return usage, nil
}

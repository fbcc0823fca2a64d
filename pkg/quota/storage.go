package quota

import "context"

// Storage defines the interface for daily counter persistence.
//
// Implementations must linearize Increment per (subject, dayKey, kind): two
// concurrent increments never both observe the pre-increment value.
type Storage interface {
	// GetUsed returns the current count, or 0 when the counter was never incremented
	GetUsed(ctx context.Context, subject, dayKey string, kind Kind) (int, error)

	// Increment atomically adds one and returns the new count
	Increment(ctx context.Context, subject, dayKey string, kind Kind) (int, error)
}

// ValidateKey checks the arguments every Storage implementation receives
func ValidateKey(subject, dayKey string, kind Kind) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	if dayKey == "" {
		return ErrInvalidDayKey
	}
	if !kind.Valid() {
		return ErrInvalidKind
	}
	return nil
}

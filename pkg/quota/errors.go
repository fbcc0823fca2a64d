package quota

import "errors"

var (
	// ErrStorageUnavailable is returned when no storage is configured or it cannot be reached
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidKind is returned for an unknown counter kind
	ErrInvalidKind = errors.New("invalid counter kind")

	// ErrInvalidSubject is returned for an empty subject
	ErrInvalidSubject = errors.New("invalid subject")

	// ErrInvalidDayKey is returned for an empty day key
	ErrInvalidDayKey = errors.New("invalid day key")
)

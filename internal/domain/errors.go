package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrValidation           = errors.New("validation failed")
	ErrIllegalTransition    = errors.New("illegal status transition")
	ErrIdempotencyConflict  = errors.New("idempotency key reused with different payload")
	ErrCursorFilterMismatch = errors.New("cursor does not match request filters")
	ErrQuotaExceeded        = errors.New("quota exceeded")
	ErrDuplicateKey         = errors.New("duplicate key")
	ErrEngineUnsupported    = errors.New("unsupported engine")
)

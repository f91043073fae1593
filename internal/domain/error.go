package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrQuotaExceeded is terminal for an anonymous session until it upgrades.
	ErrQuotaExceeded = errors.New("anonymous message quota exceeded")

	// ErrPersistenceFailure means a durable write did not complete; the
	// affected message is not considered delivered and the sender may retry.
	ErrPersistenceFailure = errors.New("persistence failure")

	// Degraded, non-fatal conditions on the reply path.
	ErrScoringFailure  = errors.New("emotion scoring failed")
	ErrReplyGeneration = errors.New("reply generation failed")

	// ErrInvalidCredential rejects a join attempt, never the connection.
	ErrInvalidCredential = errors.New("invalid credential")
)

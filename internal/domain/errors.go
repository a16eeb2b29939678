package domain

import (
	"errors"
	"fmt"
)

// Error kinds used across the pipeline. Everything that happens after the
// webhook has acknowledged is classified against these at the orchestrator
// boundary and logged there; nothing propagates past it.
var (
	// ErrValidation marks a malformed inbound payload, rejected at ingestion.
	ErrValidation = errors.New("validation")
	// ErrNotFound marks an unregistered sender; the pipeline aborts silently.
	ErrNotFound = errors.New("not found")
	// ErrProvider marks any external call failure (transcription, generation,
	// summarization, synthesis, send).
	ErrProvider = errors.New("provider")
	// ErrPersistence marks a storage gateway failure.
	ErrPersistence = errors.New("persistence")
)

// ProviderError wraps a failed external call with enough context to log.
func ProviderError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrProvider, op, err)
}

// PersistenceError wraps a failed storage gateway call.
func PersistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

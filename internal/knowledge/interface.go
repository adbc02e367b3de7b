package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/smartmed/interaction-engine/internal/models"
)

// Source is the contract for interaction knowledge backends. Lookup
// treats the pair as unordered and returns (nil, nil) when the backend
// has no record for it; a missing record is not an error.
type Source interface {
	GetName() string
	Lookup(ctx context.Context, a, b models.Substance) (*models.InteractionFinding, error)
	IsEnabled() bool
}

// TransientError marks a retryable knowledge-source fault (timeout,
// unavailability). Callers distinguish it from "no interaction found"
// and decide whether to retry or degrade to a partial result.
type TransientError struct {
	Source string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("knowledge source %s unavailable: %v", e.Source, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is (or wraps) a retryable
// knowledge-source fault.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

package knowledge

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartmed/interaction-engine/internal/models"
)

// Resolver answers "do these two substances interact?" by consulting
// its sources in priority order. The first source with a record wins;
// code-keyed sources should therefore come before name-keyed fallbacks.
// Transient source faults are retried with a fixed backoff; when
// retries exhaust the fault is surfaced so the caller can mark the pair
// unresolved instead of pretending there is no interaction.
type Resolver struct {
	sources []Source
	retries int
	backoff time.Duration
}

// NewResolver creates a resolver over the given sources. retries is the
// number of attempts after the first; backoff is the delay between them.
func NewResolver(sources []Source, retries int, backoff time.Duration) *Resolver {
	if retries < 0 {
		retries = 0
	}
	return &Resolver{sources: sources, retries: retries, backoff: backoff}
}

// Resolve evaluates one unordered pair of substances. It returns
// (nil, nil) when no source has a record, a finding when one does, and
// a TransientError when a source kept failing. Pair order never affects
// the result: the pair is canonicalized before any source sees it.
func (r *Resolver) Resolve(ctx context.Context, a, b models.Substance) (*models.InteractionFinding, error) {
	if b.ID < a.ID {
		a, b = b, a
	}

	var lastTransient error

	for _, source := range r.sources {
		if !source.IsEnabled() {
			continue
		}

		finding, err := r.lookupWithRetry(ctx, source, a, b)
		if err != nil {
			if IsTransient(err) {
				// Remember the fault but let remaining sources answer;
				// a name-keyed fallback may still know the pair.
				lastTransient = err
				continue
			}
			return nil, err
		}
		if finding != nil {
			return finding, nil
		}
	}

	if lastTransient != nil {
		return nil, lastTransient
	}
	return nil, nil
}

func (r *Resolver) lookupWithRetry(ctx context.Context, source Source, a, b models.Substance) (*models.InteractionFinding, error) {
	var lastErr error

	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			logrus.Debugf("Retrying %s lookup for (%s, %s), attempt %d", source.GetName(), a.Name, b.Name, attempt+1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.backoff):
			}
		}

		finding, err := source.Lookup(ctx, a, b)
		if err == nil {
			return finding, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

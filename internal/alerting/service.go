package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smartmed/interaction-engine/internal/models"
	"github.com/smartmed/interaction-engine/internal/notifications"
	"github.com/smartmed/interaction-engine/internal/storage"
)

// Service is the alert materializer: it turns findings at or above the
// severity threshold into persisted alerts, idempotently. Running it
// twice over the same findings is a no-op; a finding whose severity
// escalated supersedes the prior alert instead of duplicating it.
type Service struct {
	store          storage.ProfileStore
	dispatcher     notifications.Dispatcher
	threshold      models.Severity
	persistRetries int
	persistBackoff time.Duration
}

// Outcome summarizes one materializer invocation.
type Outcome struct {
	Created   []*models.Alert
	Escalated int
	Skipped   int
}

// NewService creates a new alert materializer
func NewService(store storage.ProfileStore, dispatcher notifications.Dispatcher, threshold models.Severity) *Service {
	return &Service{
		store:          store,
		dispatcher:     dispatcher,
		threshold:      threshold,
		persistRetries: 2,
		persistBackoff: 200 * time.Millisecond,
	}
}

// Materialize persists alerts for the qualifying findings. All findings
// are attempted even when one fails; persistence failures are collected
// and returned so the caller can isolate the user without losing the
// alerts that did land.
func (s *Service) Materialize(ctx context.Context, userID string, findings []models.InteractionFinding) (*Outcome, error) {
	outcome := &Outcome{}
	var failures []string

	for _, finding := range findings {
		if !finding.SeverityLevel.AtLeast(s.threshold) {
			outcome.Skipped++
			continue
		}

		alert, escalated, err := s.materializeOne(ctx, userID, finding)
		if err != nil {
			logrus.Errorf("Failed to persist alert for %s (user %s): %v", finding.PairID, userID, err)
			failures = append(failures, fmt.Sprintf("%s: %v", finding.PairID, err))
			continue
		}
		if alert == nil {
			outcome.Skipped++
			continue
		}

		if escalated {
			outcome.Escalated++
		}
		outcome.Created = append(outcome.Created, alert)

		// Dispatch is best-effort: the persisted alert is authoritative
		// and is never rolled back on delivery failure.
		if err := s.dispatcher.SendAlert(ctx, alert); err != nil {
			logrus.Errorf("Failed to dispatch alert %s: %v", alert.ID, err)
		}
	}

	if len(failures) > 0 {
		return outcome, fmt.Errorf("alert persistence errors: %s", strings.Join(failures, "; "))
	}
	return outcome, nil
}

// materializeOne returns the newly created alert, or nil when the
// existing record already covers the finding. escalated is true when a
// prior open alert was superseded.
func (s *Service) materializeOne(ctx context.Context, userID string, finding models.InteractionFinding) (*models.Alert, bool, error) {
	existing, err := s.withRetry(ctx, func() (*models.Alert, error) {
		return s.store.LatestAlert(ctx, userID, finding.PairID)
	})
	if err != nil {
		return nil, false, err
	}

	if existing != nil && !finding.SeverityLevel.AtLeast(existing.SeverityLevel) {
		// Never silently downgrade: the stored alert stays as is.
		return nil, false, nil
	}
	if existing != nil && finding.SeverityLevel == existing.SeverityLevel {
		return nil, false, nil
	}

	alert := s.buildAlert(userID, finding)

	switch {
	case existing == nil:
		conflicted := false
		err = s.persistWithRetry(ctx, func() error {
			createErr := s.store.CreateAlert(ctx, alert)
			if errors.Is(createErr, storage.ErrAlertExists) {
				// A concurrent materializer run got there first; its
				// alert is the one that counts.
				conflicted = true
				return nil
			}
			return createErr
		})
		if err != nil {
			return nil, false, err
		}
		if conflicted {
			return nil, false, nil
		}
		return alert, false, nil

	case existing.IsAcknowledged:
		// The user acknowledged a milder version; an escalation is new
		// information and warrants a fresh alert.
		conflicted := false
		err = s.persistWithRetry(ctx, func() error {
			replaceErr := s.store.ReplaceAlert(ctx, existing, alert)
			if errors.Is(replaceErr, storage.ErrConflict) {
				conflicted = true
				return nil
			}
			return replaceErr
		})
		if err != nil {
			return nil, false, err
		}
		if conflicted {
			return nil, false, nil
		}
		return alert, false, nil

	default:
		// Open alert with lower severity: supersede it, recording that
		// the system (not the user) closed the prior record. The marked
		// copy goes into the alert history when the store swaps it out.
		now := time.Now().UTC()
		superseded := *existing
		superseded.IsAcknowledged = true
		superseded.AcknowledgedAt = &now
		superseded.AcknowledgedReason = models.AcknowledgedReasonSuperseded

		conflicted := false
		err = s.persistWithRetry(ctx, func() error {
			replaceErr := s.store.ReplaceAlert(ctx, &superseded, alert)
			if errors.Is(replaceErr, storage.ErrConflict) {
				conflicted = true
				return nil
			}
			return replaceErr
		})
		if err != nil {
			return nil, false, err
		}
		if conflicted {
			return nil, false, nil
		}
		logrus.Infof("Escalated alert for %s (user %s): %s -> %s",
			finding.PairID, userID, existing.SeverityLevel, alert.SeverityLevel)
		return alert, true, nil
	}
}

func (s *Service) buildAlert(userID string, finding models.InteractionFinding) *models.Alert {
	message := fmt.Sprintf("Potential interaction between %s and %s",
		finding.SubstanceNames[0], finding.SubstanceNames[1])
	if finding.Description != "" {
		message = fmt.Sprintf("%s: %s", message, finding.Description)
	}

	return &models.Alert{
		ID:            uuid.New().String(),
		UserID:        userID,
		InteractionID: finding.PairID,
		AlertType:     models.AlertTypeInteraction,
		Message:       message,
		SeverityLevel: finding.SeverityLevel,
		CreatedAt:     time.Now().UTC(),
	}
}

func (s *Service) withRetry(ctx context.Context, fn func() (*models.Alert, error)) (*models.Alert, error) {
	var lastErr error
	for attempt := 0; attempt <= s.persistRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.persistBackoff):
			}
		}
		alert, err := fn()
		if err == nil {
			return alert, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Service) persistWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.persistRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.persistBackoff):
			}
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}

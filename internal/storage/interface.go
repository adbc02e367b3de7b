package storage

import (
	"context"
	"errors"

	"github.com/smartmed/interaction-engine/internal/models"
)

// ErrAlertExists is returned by CreateAlert when an alert record for
// the same user and interaction id already exists.
var ErrAlertExists = errors.New("alert already exists for interaction")

// ErrConflict is returned by ReplaceAlert when the stored record
// changed since the caller read it (a concurrent materializer run won).
var ErrConflict = errors.New("alert was modified concurrently")

// ProfileStore is the profile-store collaborator: per-user substances
// and alert records. Alert records are keyed by interaction id and hold
// the latest alert for that pair; CreateAlert and ReplaceAlert carry
// the store's native conditional-write semantics so concurrent
// materializer runs for the same user need no extra locking.
type ProfileStore interface {
	ListUserIDs(ctx context.Context) ([]string, error)
	ListSubstances(ctx context.Context, userID string) ([]models.Substance, error)
	PutSubstance(ctx context.Context, userID string, substance models.Substance) error

	ListAlerts(ctx context.Context, userID string) ([]models.Alert, error)
	// LatestAlert returns the current alert record for the interaction
	// id, acknowledged or not, or nil when none exists.
	LatestAlert(ctx context.Context, userID, interactionID string) (*models.Alert, error)
	// CreateAlert stores a new alert record iff none exists for its
	// interaction id (create-if-absent).
	CreateAlert(ctx context.Context, alert *models.Alert) error
	// ReplaceAlert swaps the record for prior's interaction id with
	// replacement iff the stored record is still prior. The prior
	// record, as handed in, is kept in the user's alert history.
	ReplaceAlert(ctx context.Context, prior, replacement *models.Alert) error
}

// ReportStore persists sweep run summaries.
type ReportStore interface {
	StoreSweepReport(ctx context.Context, report *models.SweepReport) error
}

package notifications

import (
	"context"

	"github.com/smartmed/interaction-engine/internal/models"
)

// Dispatcher is the notification collaborator. Delivery is best-effort:
// callers log dispatch failures and never roll back persisted alerts.
type Dispatcher interface {
	SendAlert(ctx context.Context, alert *models.Alert) error
	SendSweepDigest(ctx context.Context, report *models.SweepReport) error
}

package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/smartmed/interaction-engine/internal/alerting"
	"github.com/smartmed/interaction-engine/internal/config"
	"github.com/smartmed/interaction-engine/internal/models"
	"github.com/smartmed/interaction-engine/internal/notifications"
	"github.com/smartmed/interaction-engine/internal/storage"
)

// Checker runs a full interaction check (satisfied by checking.Service).
type Checker interface {
	RunCheck(ctx context.Context, medications, supplements []models.Substance) (*models.InteractionCheckResult, error)
}

// Materializer persists alerts for findings (satisfied by alerting.Service).
type Materializer interface {
	Materialize(ctx context.Context, userID string, findings []models.InteractionFinding) (*alerting.Outcome, error)
}

// Coordinator drives the daily full-population interaction check.
type Coordinator struct {
	config     *config.Config
	store      storage.ProfileStore
	reports    storage.ReportStore
	checker    Checker
	alerts     Materializer
	dispatcher notifications.Dispatcher
	cron       *cron.Cron
}

// NewCoordinator creates a new sweep coordinator
func NewCoordinator(cfg *config.Config, store storage.ProfileStore, reports storage.ReportStore,
	checker Checker, alerts Materializer, dispatcher notifications.Dispatcher) *Coordinator {
	return &Coordinator{
		config:     cfg,
		store:      store,
		reports:    reports,
		checker:    checker,
		alerts:     alerts,
		dispatcher: dispatcher,
	}
}

// Start begins the scheduled sweeps
func (c *Coordinator) Start() error {
	location, err := time.LoadLocation(c.config.TimeZone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.config.TimeZone, err)
	}

	c.cron = cron.New(cron.WithSeconds(), cron.WithLocation(location))

	var cronExpression string
	switch c.config.SweepSchedule {
	case "hourly":
		cronExpression = "0 0 * * * *"
	default:
		// Daily at midnight, matching the mobile app's original schedule.
		cronExpression = "0 0 0 * * *"
	}

	_, err = c.cron.AddFunc(cronExpression, func() {
		logrus.Info("Starting scheduled interaction sweep")
		if _, err := c.RunSweep(context.Background()); err != nil {
			logrus.Errorf("Scheduled sweep failed: %v", err)
		}
	})
	if err != nil {
		return err
	}

	c.cron.Start()
	logrus.Infof("Sweep scheduler started (%s, %s)", c.config.SweepSchedule, c.config.TimeZone)
	return nil
}

// Stop stops the scheduler
func (c *Coordinator) Stop() {
	if c.cron != nil {
		c.cron.Stop()
		logrus.Info("Sweep scheduler stopped")
	}
}

// RunSweep checks every user with at least one active substance.
// Per-user failures are recorded in the report and never abort the
// sweep for other users. Re-running a sweep is safe: the materializer's
// idempotence makes already-alerted findings a no-op.
func (c *Coordinator) RunSweep(ctx context.Context) (*models.SweepReport, error) {
	start := time.Now()
	logrus.Info("Starting interaction sweep")

	userIDs, err := c.store.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	report := &models.SweepReport{
		StartedAt:  start.UTC(),
		UsersTotal: len(userIDs),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	sem := make(chan struct{}, c.config.SweepConcurrency)

	for _, userID := range userIDs {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcome, partial, err := c.sweepUser(ctx, userID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logrus.Errorf("Sweep failed for user %s: %v", userID, err)
				report.Failures = append(report.Failures, models.SweepUserFailure{
					UserID: userID,
					Reason: err.Error(),
				})
				return
			}
			if outcome == nil {
				report.UsersSkipped++
				return
			}
			report.UsersChecked++
			report.AlertsCreated += len(outcome.Created)
			report.AlertsEscalated += outcome.Escalated
			if partial {
				report.PartialChecks++
			}
		}(userID)
	}

	wg.Wait()
	report.Duration = time.Since(start).String()

	logrus.Infof("Sweep completed in %v: %d/%d users checked, %d alerts created, %d failures",
		time.Since(start), report.UsersChecked, report.UsersTotal, report.AlertsCreated, len(report.Failures))

	// Report persistence and the ops digest are best-effort; the alerts
	// themselves are already stored.
	if err := c.reports.StoreSweepReport(ctx, report); err != nil {
		logrus.Errorf("Failed to store sweep report: %v", err)
	}
	if err := c.dispatcher.SendSweepDigest(ctx, report); err != nil {
		logrus.Errorf("Failed to send sweep digest: %v", err)
	}

	return report, nil
}

// sweepUser returns (nil, false, nil) when the user has no active
// substances and was skipped.
func (c *Coordinator) sweepUser(ctx context.Context, userID string) (*alerting.Outcome, bool, error) {
	substances, err := c.store.ListSubstances(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load substances: %w", err)
	}

	now := time.Now()
	var medications, supplements []models.Substance
	activeCount := 0
	for _, sub := range substances {
		if sub.ActiveAt(now) {
			activeCount++
		}
		if sub.Kind == models.KindSupplement {
			supplements = append(supplements, sub)
		} else {
			medications = append(medications, sub)
		}
	}
	if activeCount == 0 {
		return nil, false, nil
	}

	result, err := c.checker.RunCheck(ctx, medications, supplements)
	if err != nil {
		return nil, false, fmt.Errorf("check failed: %w", err)
	}

	outcome, err := c.alerts.Materialize(ctx, userID, result.Findings)
	if err != nil {
		// Some alerts may have landed; report the materializer outcome
		// alongside the failure so the counts stay honest.
		return nil, false, fmt.Errorf("alert materialization failed: %w", err)
	}

	return outcome, !result.Complete, nil
}

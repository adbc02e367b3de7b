package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/smartmed/interaction-engine/internal/models"
)

// MemoryStore is a mutex-guarded in-process implementation with the
// same conditional-write semantics as the blob-backed store. It backs
// tests and local development (no AZURE_STORAGE_ACCOUNT configured).
type MemoryStore struct {
	mu         sync.RWMutex
	substances map[string]map[string]models.Substance // userID -> substanceID -> substance
	alerts     map[string]map[string]models.Alert     // userID -> interactionID -> latest alert
	archived   map[string][]models.Alert              // userID -> replaced alert history
	reports    []models.SweepReport
}

var (
	_ ProfileStore = (*MemoryStore)(nil)
	_ ReportStore  = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		substances: make(map[string]map[string]models.Substance),
		alerts:     make(map[string]map[string]models.Alert),
		archived:   make(map[string][]models.Alert),
	}
}

func (s *MemoryStore) ListUserIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var userIDs []string
	for userID := range s.substances {
		if !seen[userID] {
			seen[userID] = true
			userIDs = append(userIDs, userID)
		}
	}
	for userID := range s.alerts {
		if !seen[userID] {
			seen[userID] = true
			userIDs = append(userIDs, userID)
		}
	}

	sort.Strings(userIDs)
	return userIDs, nil
}

func (s *MemoryStore) ListSubstances(ctx context.Context, userID string) ([]models.Substance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var substances []models.Substance
	for _, sub := range s.substances[userID] {
		substances = append(substances, sub)
	}

	sort.Slice(substances, func(i, j int) bool {
		return substances[i].ID < substances[j].ID
	})
	return substances, nil
}

func (s *MemoryStore) PutSubstance(ctx context.Context, userID string, substance models.Substance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.substances[userID] == nil {
		s.substances[userID] = make(map[string]models.Substance)
	}
	s.substances[userID][substance.ID] = substance
	return nil
}

func (s *MemoryStore) ListAlerts(ctx context.Context, userID string) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var alerts []models.Alert
	for _, alert := range s.alerts[userID] {
		alerts = append(alerts, alert)
	}
	alerts = append(alerts, s.archived[userID]...)

	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].InteractionID < alerts[j].InteractionID
		}
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
	return alerts, nil
}

func (s *MemoryStore) LatestAlert(ctx context.Context, userID, interactionID string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alert, ok := s.alerts[userID][interactionID]
	if !ok {
		return nil, nil
	}
	copied := alert
	return &copied, nil
}

func (s *MemoryStore) CreateAlert(ctx context.Context, alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.alerts[alert.UserID] == nil {
		s.alerts[alert.UserID] = make(map[string]models.Alert)
	}
	if _, exists := s.alerts[alert.UserID][alert.InteractionID]; exists {
		return ErrAlertExists
	}
	s.alerts[alert.UserID][alert.InteractionID] = *alert
	return nil
}

func (s *MemoryStore) ReplaceAlert(ctx context.Context, prior, replacement *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.alerts[prior.UserID][prior.InteractionID]
	if !ok || stored.ID != prior.ID {
		return ErrConflict
	}
	s.alerts[prior.UserID][prior.InteractionID] = *replacement
	s.archived[prior.UserID] = append(s.archived[prior.UserID], *prior)
	return nil
}

func (s *MemoryStore) StoreSweepReport(ctx context.Context, report *models.SweepReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports = append(s.reports, *report)
	return nil
}

// SweepReports returns stored sweep reports, newest last.
func (s *MemoryStore) SweepReports() []models.SweepReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.SweepReport, len(s.reports))
	copy(out, s.reports)
	return out
}

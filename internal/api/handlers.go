package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartmed/interaction-engine/internal/knowledge"
	"github.com/smartmed/interaction-engine/internal/models"
)

// checkRequest is the on-demand check payload, matching the mobile
// app's checkInteractions callable contract.
type checkRequest struct {
	Medications []models.Substance `json:"medications"`
	Supplements []models.Substance `json:"supplements"`
}

type substanceCreatedRequest struct {
	UserID    string           `json:"userId"`
	Substance models.Substance `json:"substance"`
}

type substanceCreatedResponse struct {
	Result        *models.InteractionCheckResult `json:"result"`
	AlertsCreated int                            `json:"alertsCreated"`
}

// validateSubstances checks required fields. Validation happens in one
// step before any domain logic runs; a failure here is never retried.
// The seen set is shared across the medication and supplement lists, so
// an id must be unique over the caller's combined set.
func validateSubstances(substances []models.Substance, kind models.SubstanceKind, seen map[string]bool) error {
	for i, sub := range substances {
		if sub.ID == "" {
			return fmt.Errorf("%s[%d]: id is required", kind, i)
		}
		if sub.Name == "" {
			return fmt.Errorf("%s[%d]: name is required", kind, i)
		}
		if seen[sub.ID] {
			return fmt.Errorf("%s[%d]: duplicate id %q", kind, i, sub.ID)
		}
		seen[sub.ID] = true
	}
	return nil
}

func stampKind(substances []models.Substance, kind models.SubstanceKind) []models.Substance {
	for i := range substances {
		substances[i].Kind = kind
	}
	return substances
}

func (s *Server) handleCheckInteractions(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFault(w, http.StatusBadRequest, "invalid-argument", "request body is not valid JSON")
		return
	}

	seen := make(map[string]bool)
	if err := validateSubstances(req.Medications, models.KindMedication, seen); err != nil {
		writeFault(w, http.StatusBadRequest, "invalid-argument", err.Error())
		return
	}
	if err := validateSubstances(req.Supplements, models.KindSupplement, seen); err != nil {
		writeFault(w, http.StatusBadRequest, "invalid-argument", err.Error())
		return
	}

	medications := stampKind(req.Medications, models.KindMedication)
	supplements := stampKind(req.Supplements, models.KindSupplement)

	result, err := s.checker.RunCheck(r.Context(), medications, supplements)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; nothing to answer.
			logrus.Debugf("Check cancelled by caller %s", callerID(r))
			return
		}
		logrus.Errorf("Interaction check failed for user %s: %v", callerID(r), err)
		writeFault(w, http.StatusInternalServerError, "internal", "interaction check failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleInteractionDetails(w http.ResponseWriter, r *http.Request) {
	pairID := mux.Vars(r)["pairId"]
	idA, idB, ok := models.SplitPairID(pairID)
	if !ok {
		writeFault(w, http.StatusBadRequest, "invalid-argument", "pairId is not a canonical pair id")
		return
	}

	substances, err := s.store.ListSubstances(r.Context(), callerID(r))
	if err != nil {
		logrus.Errorf("Failed to load substances for user %s: %v", callerID(r), err)
		writeFault(w, http.StatusInternalServerError, "internal", "failed to load profile")
		return
	}

	// The resolver contract covers active substances only; expired or
	// deactivated entries are treated as absent.
	now := time.Now()
	var subA, subB *models.Substance
	for i := range substances {
		if !substances[i].ActiveAt(now) {
			continue
		}
		switch substances[i].ID {
		case idA:
			subA = &substances[i]
		case idB:
			subB = &substances[i]
		}
	}
	if subA == nil || subB == nil {
		writeFault(w, http.StatusNotFound, "not-found", "pair does not reference the caller's active substances")
		return
	}

	finding, err := s.resolver.Resolve(r.Context(), *subA, *subB)
	if err != nil {
		if knowledge.IsTransient(err) {
			writeFault(w, http.StatusServiceUnavailable, "unavailable", "knowledge source is temporarily unavailable")
			return
		}
		logrus.Errorf("Interaction details lookup failed for %s: %v", pairID, err)
		writeFault(w, http.StatusInternalServerError, "internal", "interaction lookup failed")
		return
	}
	if finding == nil {
		writeFault(w, http.StatusNotFound, "not-found", "no known interaction for this pair")
		return
	}

	writeJSON(w, http.StatusOK, finding)
}

// handleSubstanceCreated is the on-create trigger for both medications
// and supplements: it stores the new substance, checks it against the
// rest of the user's active set, and materializes alerts for what it
// finds.
func (s *Server) handleSubstanceCreated(w http.ResponseWriter, r *http.Request) {
	var req substanceCreatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFault(w, http.StatusBadRequest, "invalid-argument", "request body is not valid JSON")
		return
	}

	if req.UserID == "" {
		writeFault(w, http.StatusBadRequest, "invalid-argument", "userId is required")
		return
	}
	if req.Substance.ID == "" || req.Substance.Name == "" {
		writeFault(w, http.StatusBadRequest, "invalid-argument", "substance id and name are required")
		return
	}
	if req.Substance.Kind != models.KindMedication && req.Substance.Kind != models.KindSupplement {
		writeFault(w, http.StatusBadRequest, "invalid-argument", "substance kind must be medication or supplement")
		return
	}

	others, err := s.store.ListSubstances(r.Context(), req.UserID)
	if err != nil {
		logrus.Errorf("Failed to load substances for user %s: %v", req.UserID, err)
		writeFault(w, http.StatusInternalServerError, "internal", "failed to load profile")
		return
	}

	if err := s.store.PutSubstance(r.Context(), req.UserID, req.Substance); err != nil {
		logrus.Errorf("Failed to store substance %s for user %s: %v", req.Substance.ID, req.UserID, err)
		writeFault(w, http.StatusInternalServerError, "internal", "failed to store substance")
		return
	}

	result, err := s.checker.RunFocusedCheck(r.Context(), req.Substance, others)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		logrus.Errorf("Focused check failed for user %s: %v", req.UserID, err)
		writeFault(w, http.StatusInternalServerError, "internal", "interaction check failed")
		return
	}

	outcome, err := s.alerts.Materialize(r.Context(), req.UserID, result.Findings)
	if err != nil {
		logrus.Errorf("Alert materialization failed for user %s: %v", req.UserID, err)
		writeFault(w, http.StatusInternalServerError, "internal", "alert creation failed")
		return
	}

	writeJSON(w, http.StatusOK, substanceCreatedResponse{
		Result:        result,
		AlertsCreated: len(outcome.Created),
	})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.ListAlerts(r.Context(), callerID(r))
	if err != nil {
		logrus.Errorf("Failed to list alerts for user %s: %v", callerID(r), err)
		writeFault(w, http.StatusInternalServerError, "internal", "failed to load alerts")
		return
	}

	if alerts == nil {
		alerts = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

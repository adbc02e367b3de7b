package models

import (
	"strings"
	"time"
)

// SubstanceKind distinguishes prescribed medications from supplements.
type SubstanceKind string

const (
	KindMedication SubstanceKind = "medication"
	KindSupplement SubstanceKind = "supplement"
)

// Substance is one medication or supplement in a user's profile.
type Substance struct {
	ID        string        `json:"id"`
	Kind      SubstanceKind `json:"kind"`
	Name      string        `json:"name"`
	Dosage    string        `json:"dosage,omitempty"`
	Frequency string        `json:"frequency,omitempty"`
	RxNormID  string        `json:"rxnormId,omitempty"` // RxCUI, preferred lookup key when present
	NDCCode   string        `json:"ndcCode,omitempty"`
	Category  string        `json:"category,omitempty"` // supplements: "vitamin", "mineral", "herb", ...
	IsActive  bool          `json:"isActive"`
	StartDate time.Time     `json:"startDate,omitempty"`
	EndDate   *time.Time    `json:"endDate,omitempty"`
	CreatedAt time.Time     `json:"createdAt,omitempty"`
	UpdatedAt *time.Time    `json:"updatedAt,omitempty"`
}

// ActiveAt reports whether the substance counts as active at t. The
// validity window overrides the flag: a substance outside
// [StartDate, EndDate] is inactive even when IsActive is set.
func (s Substance) ActiveAt(t time.Time) bool {
	if !s.IsActive {
		return false
	}
	if !s.StartDate.IsZero() && t.Before(s.StartDate) {
		return false
	}
	if s.EndDate != nil && !s.EndDate.IsZero() && t.After(*s.EndDate) {
		return false
	}
	return true
}

// Severity classifies an interaction. The "none" value is only used for
// aggregate risk levels, never on an individual finding.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRanks = map[Severity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the position of s in the total order
// none < low < medium < high < critical. Unknown values rank below none.
func (s Severity) Rank() int {
	if r, ok := severityRanks[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseSeverity maps a string onto the severity enum, case-insensitively.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	_, ok := severityRanks[sev]
	return sev, ok
}

// PairID builds the canonical, order-independent identifier for a pair
// of substance ids. Findings and alerts are keyed by this form so the
// same pair always maps to the same record regardless of input order.
func PairID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "::" + b
}

// SplitPairID is the inverse of PairID. It returns false for values
// that are not a canonical pair id.
func SplitPairID(pairID string) (string, string, bool) {
	parts := strings.SplitN(pairID, "::", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// InteractionFinding is the result of evaluating one unordered pair of
// active substances against the knowledge source.
type InteractionFinding struct {
	PairID         string    `json:"pairId"`
	SubstanceIDs   [2]string `json:"substanceIds"`
	SubstanceNames [2]string `json:"substanceNames"`
	SeverityLevel  Severity  `json:"severityLevel"`
	Description    string    `json:"description"`
	Recommendation string    `json:"recommendation"`
	Source         string    `json:"source"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// InteractionCheckResult is the aggregate output of one check.
// Findings are deduplicated by canonical pair and sorted by descending
// severity, ties broken by pair id, so results are deterministic for a
// given substance set and knowledge snapshot.
type InteractionCheckResult struct {
	Findings        []InteractionFinding `json:"interactions"`
	RiskLevel       Severity             `json:"riskLevel"`
	Recommendations []string             `json:"recommendations"`
	// Complete is false when one or more pairs could not be resolved
	// (knowledge-source faults after retries). Successful findings are
	// still present; the list just cannot be guaranteed exhaustive.
	Complete        bool     `json:"complete"`
	UnresolvedPairs []string `json:"unresolvedPairs,omitempty"`
}

// AlertType mirrors the alert taxonomy of the mobile app.
type AlertType string

const (
	AlertTypeInteraction AlertType = "interaction"
	AlertTypeReminder    AlertType = "reminder"
	AlertTypeExpiry      AlertType = "expiry"
)

// AcknowledgedReasonSuperseded marks alerts the engine closed itself
// because a higher-severity finding replaced them.
const AcknowledgedReasonSuperseded = "superseded"

// Alert is a persisted, user-visible record derived from a finding.
// The engine only ever creates alerts or supersedes them on severity
// escalation; read/acknowledge transitions belong to the UI layer.
type Alert struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"userId"`
	InteractionID      string     `json:"interactionId"` // canonical pair id of the originating finding
	AlertType          AlertType  `json:"alertType"`
	Message            string     `json:"message"`
	SeverityLevel      Severity   `json:"severityLevel"`
	IsRead             bool       `json:"isRead"`
	IsAcknowledged     bool       `json:"isAcknowledged"`
	CreatedAt          time.Time  `json:"createdAt"`
	ReadAt             *time.Time `json:"readAt,omitempty"`
	AcknowledgedAt     *time.Time `json:"acknowledgedAt,omitempty"`
	AcknowledgedReason string     `json:"acknowledgedReason,omitempty"`
}

// SweepUserFailure records one user the daily sweep could not process.
type SweepUserFailure struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

// SweepReport summarizes one daily sweep run.
type SweepReport struct {
	StartedAt       time.Time          `json:"startedAt"`
	Duration        string             `json:"duration"`
	UsersTotal      int                `json:"usersTotal"`
	UsersChecked    int                `json:"usersChecked"`
	UsersSkipped    int                `json:"usersSkipped"` // no active substances
	AlertsCreated   int                `json:"alertsCreated"`
	AlertsEscalated int                `json:"alertsEscalated"`
	PartialChecks   int                `json:"partialChecks"`
	Failures        []SweepUserFailure `json:"failures,omitempty"`
}

package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/smartmed/interaction-engine/internal/models"
)

// RxNavSource queries the National Library of Medicine RxNav APIs for
// drug-drug interaction records. Substances without an RxCUI are
// resolved by name first; pairs where either side cannot be resolved
// yield no record rather than an error, since RxNav only covers coded
// drugs (most supplements are not in the vocabulary).
type RxNavSource struct {
	client  *resty.Client
	baseURL string
}

type rxcuiResponse struct {
	IDGroup struct {
		RxNormID []string `json:"rxnormId"`
	} `json:"idGroup"`
}

type approximateResponse struct {
	ApproximateGroup struct {
		Candidate []struct {
			RxCUI string `json:"rxcui"`
		} `json:"candidate"`
	} `json:"approximateGroup"`
}

type interactionListResponse struct {
	FullInteractionTypeGroup []struct {
		SourceName          string `json:"sourceName"`
		FullInteractionType []struct {
			InteractionPair []struct {
				Severity    string `json:"severity"`
				Description string `json:"description"`
				InteractionConcept []struct {
					MinConceptItem struct {
						RxCUI string `json:"rxcui"`
						Name  string `json:"name"`
					} `json:"minConceptItem"`
				} `json:"interactionConcept"`
			} `json:"interactionPair"`
		} `json:"fullInteractionType"`
	} `json:"fullInteractionTypeGroup"`
}

// NewRxNavSource creates a new RxNav source
func NewRxNavSource(baseURL string, timeout time.Duration) *RxNavSource {
	return &RxNavSource{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", "SmartMed-Interaction-Engine/1.0"),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *RxNavSource) GetName() string {
	return "rxnav"
}

func (s *RxNavSource) IsEnabled() bool {
	return true // RxNav is a public API and requires no credentials
}

func (s *RxNavSource) Lookup(ctx context.Context, a, b models.Substance) (*models.InteractionFinding, error) {
	cuiA, err := s.resolveRxCUI(ctx, a)
	if err != nil {
		return nil, err
	}
	cuiB, err := s.resolveRxCUI(ctx, b)
	if err != nil {
		return nil, err
	}

	// RxNav cannot answer for uncoded substances; that is a miss, not a fault.
	if cuiA == "" || cuiB == "" {
		logrus.Debugf("RxNav: no RxCUI for pair (%s, %s), skipping", a.Name, b.Name)
		return nil, nil
	}

	listURL := fmt.Sprintf("%s/REST/interaction/list.json?rxcuis=%s+%s", s.baseURL, cuiA, cuiB)

	resp, err := s.client.R().SetContext(ctx).Get(listURL)
	if err != nil {
		return nil, &TransientError{Source: s.GetName(), Err: err}
	}
	if resp.StatusCode() >= 500 {
		return nil, &TransientError{Source: s.GetName(), Err: fmt.Errorf("interaction API returned status %d", resp.StatusCode())}
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("rxnav interaction API returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	var listResp interactionListResponse
	if err := json.Unmarshal(resp.Body(), &listResp); err != nil {
		return nil, fmt.Errorf("failed to parse RxNav interaction response: %w", err)
	}

	return s.buildFinding(a, b, &listResp), nil
}

// buildFinding condenses all interaction pairs RxNav reports for the two
// concepts into a single finding at the worst reported severity.
func (s *RxNavSource) buildFinding(a, b models.Substance, resp *interactionListResponse) *models.InteractionFinding {
	var (
		found       bool
		severity    = models.SeverityNone
		description string
		sourceName  string
	)

	for _, group := range resp.FullInteractionTypeGroup {
		for _, fit := range group.FullInteractionType {
			for _, pair := range fit.InteractionPair {
				if len(pair.InteractionConcept) < 2 {
					continue
				}
				found = true
				sev := mapRxNavSeverity(pair.Severity)
				if sev.Rank() > severity.Rank() {
					severity = sev
					description = pair.Description
					sourceName = group.SourceName
				}
			}
		}
	}

	if !found {
		return nil
	}

	finding := &models.InteractionFinding{
		PairID:         models.PairID(a.ID, b.ID),
		SubstanceIDs:   canonicalIDs(a, b),
		SubstanceNames: canonicalNames(a, b),
		SeverityLevel:  severity,
		Description:    description,
		Recommendation: fmt.Sprintf("Consult your healthcare provider before combining %s and %s.", a.Name, b.Name),
		Source:         fmt.Sprintf("rxnav/%s", strings.ToLower(sourceName)),
		LastUpdated:    time.Now().UTC(),
	}
	return finding
}

// mapRxNavSeverity maps RxNav's free-text severity onto the engine's
// enum. Unknown or absent values map to medium: for a safety tool an
// interaction of unstated severity should surface, not disappear.
func mapRxNavSeverity(s string) models.Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return models.SeverityHigh
	case "moderate", "medium":
		return models.SeverityMedium
	case "low", "minor":
		return models.SeverityLow
	default:
		return models.SeverityMedium
	}
}

// resolveRxCUI returns the substance's RxCUI, querying RxNav by name
// when the profile does not carry one. Empty string means "not in the
// vocabulary".
func (s *RxNavSource) resolveRxCUI(ctx context.Context, sub models.Substance) (string, error) {
	if sub.RxNormID != "" {
		return sub.RxNormID, nil
	}
	if sub.Name == "" {
		return "", nil
	}

	searchURL := fmt.Sprintf("%s/REST/rxcui.json?name=%s", s.baseURL, url.QueryEscape(sub.Name))
	resp, err := s.client.R().SetContext(ctx).Get(searchURL)
	if err != nil {
		return "", &TransientError{Source: s.GetName(), Err: err}
	}
	if resp.StatusCode() >= 500 {
		return "", &TransientError{Source: s.GetName(), Err: fmt.Errorf("rxcui API returned status %d", resp.StatusCode())}
	}
	if resp.StatusCode() != 200 {
		return "", nil
	}

	var searchResp rxcuiResponse
	if err := json.Unmarshal(resp.Body(), &searchResp); err == nil && len(searchResp.IDGroup.RxNormID) > 0 {
		return searchResp.IDGroup.RxNormID[0], nil
	}

	return s.searchApproximate(ctx, sub.Name)
}

func (s *RxNavSource) searchApproximate(ctx context.Context, term string) (string, error) {
	searchURL := fmt.Sprintf("%s/REST/approximateTerm.json?term=%s&maxEntries=1", s.baseURL, url.QueryEscape(term))

	resp, err := s.client.R().SetContext(ctx).Get(searchURL)
	if err != nil {
		return "", &TransientError{Source: s.GetName(), Err: err}
	}
	if resp.StatusCode() != 200 {
		return "", nil
	}

	var approxResp approximateResponse
	if err := json.Unmarshal(resp.Body(), &approxResp); err == nil && len(approxResp.ApproximateGroup.Candidate) > 0 {
		return approxResp.ApproximateGroup.Candidate[0].RxCUI, nil
	}
	return "", nil
}

func canonicalIDs(a, b models.Substance) [2]string {
	if b.ID < a.ID {
		a, b = b, a
	}
	return [2]string{a.ID, b.ID}
}

func canonicalNames(a, b models.Substance) [2]string {
	if b.ID < a.ID {
		a, b = b, a
	}
	return [2]string{a.Name, b.Name}
}

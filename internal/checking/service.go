package checking

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartmed/interaction-engine/internal/models"
)

// Resolver is the pairwise lookup dependency (satisfied by
// knowledge.Resolver). nil, nil means the pair has no known interaction.
type Resolver interface {
	Resolve(ctx context.Context, a, b models.Substance) (*models.InteractionFinding, error)
}

// Service is the check orchestrator: it turns a user's medication and
// supplement lists into one InteractionCheckResult. Invocations are
// stateless apart from run metrics.
type Service struct {
	resolver      Resolver
	maxConcurrent int
	metrics       *Metrics
	mu            sync.RWMutex
}

// Metrics holds orchestrator run metrics
type Metrics struct {
	TotalChecks       int            `json:"total_checks"`
	TotalFindings     int            `json:"total_findings"`
	LastRun           time.Time      `json:"last_run"`
	LastRunDuration   string         `json:"last_run_duration"`
	LastRunPairs      int            `json:"last_run_pairs"`
	LastRunUnresolved int            `json:"last_run_unresolved"`
	SeverityBreakdown map[string]int `json:"severity_breakdown"`
}

// NewService creates a new check orchestrator
func NewService(resolver Resolver, maxConcurrent int) *Service {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Service{
		resolver:      resolver,
		maxConcurrent: maxConcurrent,
		metrics: &Metrics{
			SeverityBreakdown: make(map[string]int),
		},
	}
}

type pair struct {
	a, b models.Substance
}

type pairResult struct {
	pairID  string
	finding *models.InteractionFinding
	err     error
}

// RunCheck evaluates every unordered pair across the combined active
// set. Medication-medication, medication-supplement and
// supplement-supplement pairs are all eligible.
func (s *Service) RunCheck(ctx context.Context, medications, supplements []models.Substance) (*models.InteractionCheckResult, error) {
	active := filterActive(append(append([]models.Substance{}, medications...), supplements...), time.Now())

	var pairs []pair
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			// A substance never pairs with itself, even if the caller
			// slipped the same id into both lists.
			if active[i].ID == active[j].ID {
				continue
			}
			pairs = append(pairs, pair{a: active[i], b: active[j]})
		}
	}

	return s.resolvePairs(ctx, pairs)
}

// RunFocusedCheck evaluates only the pairs involving newSubstance,
// against the rest of the user's active set. Used by the
// substance-created trigger so adding one medication does not re-check
// the whole profile.
func (s *Service) RunFocusedCheck(ctx context.Context, newSubstance models.Substance, others []models.Substance) (*models.InteractionCheckResult, error) {
	now := time.Now()

	var pairs []pair
	if newSubstance.ActiveAt(now) {
		for _, other := range filterActive(others, now) {
			if other.ID == newSubstance.ID {
				continue
			}
			pairs = append(pairs, pair{a: newSubstance, b: other})
		}
	}

	return s.resolvePairs(ctx, pairs)
}

func (s *Service) resolvePairs(ctx context.Context, pairs []pair) (*models.InteractionCheckResult, error) {
	start := time.Now()
	logrus.Debugf("Resolving %d substance pairs", len(pairs))

	var wg sync.WaitGroup
	resultsChan := make(chan pairResult, len(pairs))
	sem := make(chan struct{}, s.maxConcurrent)

	// Resolve pairs concurrently with bounded fan-out to keep load on
	// the knowledge source in check.
	for _, p := range pairs {
		wg.Add(1)
		go func(p pair) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				resultsChan <- pairResult{pairID: models.PairID(p.a.ID, p.b.ID), err: ctx.Err()}
				return
			}

			finding, err := s.resolver.Resolve(ctx, p.a, p.b)
			resultsChan <- pairResult{
				pairID:  models.PairID(p.a.ID, p.b.ID),
				finding: finding,
				err:     err,
			}
		}(p)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	byPair := make(map[string]models.InteractionFinding)
	var unresolved []string

	for res := range resultsChan {
		if res.err != nil {
			logrus.Warnf("Pair %s unresolved: %v", res.pairID, res.err)
			unresolved = append(unresolved, res.pairID)
			continue
		}
		if res.finding == nil {
			continue
		}
		// Deduplicate by canonical pair, keeping the worst severity.
		if existing, ok := byPair[res.finding.PairID]; !ok || res.finding.SeverityLevel.Rank() > existing.SeverityLevel.Rank() {
			byPair[res.finding.PairID] = *res.finding
		}
	}

	// A cancelled check returns no result at all; the caller must not
	// act (e.g. create alerts) on a partially evaluated set.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := aggregate(byPair, unresolved)
	s.updateMetrics(result, len(pairs), time.Since(start))

	logrus.Debugf("Check finished: %d findings, risk %s, complete=%v (%v)",
		len(result.Findings), result.RiskLevel, result.Complete, time.Since(start))
	return result, nil
}

// aggregate builds the deterministic result: findings sorted by
// descending severity then canonical pair id, risk level as the maximum
// severity, recommendations distinct in finding order.
func aggregate(byPair map[string]models.InteractionFinding, unresolved []string) *models.InteractionCheckResult {
	findings := make([]models.InteractionFinding, 0, len(byPair))
	for _, f := range byPair {
		findings = append(findings, f)
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].SeverityLevel.Rank() != findings[j].SeverityLevel.Rank() {
			return findings[i].SeverityLevel.Rank() > findings[j].SeverityLevel.Rank()
		}
		return findings[i].PairID < findings[j].PairID
	})

	riskLevel := models.SeverityNone
	seen := make(map[string]bool)
	var recommendations []string

	for _, f := range findings {
		riskLevel = models.MaxSeverity(riskLevel, f.SeverityLevel)
		if f.Recommendation != "" && !seen[f.Recommendation] {
			seen[f.Recommendation] = true
			recommendations = append(recommendations, f.Recommendation)
		}
	}

	sort.Strings(unresolved)

	return &models.InteractionCheckResult{
		Findings:        findings,
		RiskLevel:       riskLevel,
		Recommendations: recommendations,
		Complete:        len(unresolved) == 0,
		UnresolvedPairs: unresolved,
	}
}

func filterActive(substances []models.Substance, now time.Time) []models.Substance {
	var active []models.Substance
	for _, sub := range substances {
		if sub.ActiveAt(now) {
			active = append(active, sub)
		}
	}
	return active
}

func (s *Service) updateMetrics(result *models.InteractionCheckResult, pairCount int, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.TotalChecks++
	s.metrics.TotalFindings += len(result.Findings)
	s.metrics.LastRun = time.Now()
	s.metrics.LastRunDuration = duration.String()
	s.metrics.LastRunPairs = pairCount
	s.metrics.LastRunUnresolved = len(result.UnresolvedPairs)

	s.metrics.SeverityBreakdown = make(map[string]int)
	for _, f := range result.Findings {
		s.metrics.SeverityBreakdown[string(f.SeverityLevel)]++
	}
}

// GetMetrics returns current metrics as JSON
func (s *Service) GetMetrics() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, _ := json.MarshalIndent(s.metrics, "", "  ")
	return string(data)
}

package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartmed/interaction-engine/internal/models"
)

// StaticSource serves a bundled reference table of interactions keyed
// by case-insensitive substance name. It covers the drug-supplement
// pairs RxNav does not (supplements are mostly uncoded) and doubles as
// the offline/dev backend. Lookups never fail transiently.
type StaticSource struct {
	records map[string]ReferenceRecord
}

// ReferenceRecord is one row of the bundled reference table.
type ReferenceRecord struct {
	NameA          string          `json:"nameA"`
	NameB          string          `json:"nameB"`
	SeverityLevel  models.Severity `json:"severityLevel"`
	Description    string          `json:"description"`
	Recommendation string          `json:"recommendation"`
	Source         string          `json:"source"`
	LastUpdated    time.Time       `json:"lastUpdated"`
}

// builtinRecords covers well-documented drug-supplement interactions so
// a fresh deployment warns about the dangerous classics out of the box.
var builtinRecords = []ReferenceRecord{
	{
		NameA:          "warfarin",
		NameB:          "vitamin k",
		SeverityLevel:  models.SeverityHigh,
		Description:    "Vitamin K reduces the anticoagulant effect of warfarin; INR may drop below the therapeutic range.",
		Recommendation: "Keep vitamin K intake consistent and inform your prescriber before starting or stopping supplementation.",
		Source:         "reference/nih-ods",
	},
	{
		NameA:          "warfarin",
		NameB:          "ginkgo biloba",
		SeverityLevel:  models.SeverityHigh,
		Description:    "Ginkgo biloba has antiplatelet activity and raises bleeding risk when combined with warfarin.",
		Recommendation: "Avoid this combination unless your prescriber monitors you closely for bleeding.",
		Source:         "reference/nih-ods",
	},
	{
		NameA:          "st john's wort",
		NameB:          "sertraline",
		SeverityLevel:  models.SeverityCritical,
		Description:    "St John's Wort combined with SSRIs can cause serotonin syndrome and reduces SSRI plasma levels via CYP3A4 induction.",
		Recommendation: "Do not combine. Talk to your prescriber before taking St John's Wort with any antidepressant.",
		Source:         "reference/nih-ods",
	},
	{
		NameA:          "levothyroxine",
		NameB:          "calcium",
		SeverityLevel:  models.SeverityMedium,
		Description:    "Calcium carbonate binds levothyroxine in the gut and reduces its absorption.",
		Recommendation: "Separate doses by at least four hours.",
		Source:         "reference/nih-ods",
	},
	{
		NameA:          "ciprofloxacin",
		NameB:          "iron",
		SeverityLevel:  models.SeverityMedium,
		Description:    "Iron salts chelate fluoroquinolones and can drop antibiotic levels below effective concentrations.",
		Recommendation: "Take ciprofloxacin two hours before or six hours after iron supplements.",
		Source:         "reference/nih-ods",
	},
	{
		NameA:          "lisinopril",
		NameB:          "potassium",
		SeverityLevel:  models.SeverityHigh,
		Description:    "ACE inhibitors reduce potassium excretion; supplemental potassium risks hyperkalemia.",
		Recommendation: "Avoid potassium supplements unless your prescriber orders them with monitoring.",
		Source:         "reference/nih-ods",
	},
}

// NewStaticSource builds the source from the builtin table, extended by
// the optional JSON file at dataPath (same record shape, an array).
func NewStaticSource(dataPath string) (*StaticSource, error) {
	s := &StaticSource{records: make(map[string]ReferenceRecord)}

	for _, rec := range builtinRecords {
		s.add(rec)
	}

	if dataPath != "" {
		data, err := os.ReadFile(dataPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read reference data %s: %w", dataPath, err)
		}
		var extra []ReferenceRecord
		if err := json.Unmarshal(data, &extra); err != nil {
			return nil, fmt.Errorf("failed to parse reference data %s: %w", dataPath, err)
		}
		for _, rec := range extra {
			s.add(rec)
		}
		logrus.Infof("Loaded %d extra reference interactions from %s", len(extra), dataPath)
	}

	return s, nil
}

func (s *StaticSource) add(rec ReferenceRecord) {
	if _, ok := models.ParseSeverity(string(rec.SeverityLevel)); !ok {
		logrus.Warnf("Skipping reference record (%s, %s): unknown severity %q", rec.NameA, rec.NameB, rec.SeverityLevel)
		return
	}
	s.records[nameKey(rec.NameA, rec.NameB)] = rec
}

func (s *StaticSource) GetName() string {
	return "reference"
}

func (s *StaticSource) IsEnabled() bool {
	return true
}

func (s *StaticSource) Lookup(ctx context.Context, a, b models.Substance) (*models.InteractionFinding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, ok := s.records[nameKey(a.Name, b.Name)]
	if !ok {
		return nil, nil
	}

	lastUpdated := rec.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	return &models.InteractionFinding{
		PairID:         models.PairID(a.ID, b.ID),
		SubstanceIDs:   canonicalIDs(a, b),
		SubstanceNames: canonicalNames(a, b),
		SeverityLevel:  rec.SeverityLevel,
		Description:    rec.Description,
		Recommendation: rec.Recommendation,
		Source:         rec.Source,
		LastUpdated:    lastUpdated,
	}, nil
}

// nameKey canonicalizes a name pair so both orders hit the same record.
func nameKey(a, b string) string {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

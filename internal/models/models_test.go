package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeverityOrdering(t *testing.T) {
	ordered := []Severity{SeverityNone, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

	for i := 1; i < len(ordered); i++ {
		assert.True(t, ordered[i].Rank() > ordered[i-1].Rank(),
			"%s should rank above %s", ordered[i], ordered[i-1])
	}

	assert.Equal(t, SeverityCritical, MaxSeverity(SeverityHigh, SeverityCritical))
	assert.Equal(t, SeverityHigh, MaxSeverity(SeverityHigh, SeverityLow))
	assert.True(t, SeverityMedium.AtLeast(SeverityMedium))
	assert.False(t, SeverityLow.AtLeast(SeverityMedium))
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		input    string
		expected Severity
		ok       bool
	}{
		{"high", SeverityHigh, true},
		{"HIGH", SeverityHigh, true},
		{" critical ", SeverityCritical, true},
		{"none", SeverityNone, true},
		{"severe", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			sev, ok := ParseSeverity(tt.input)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.expected, sev)
			}
		})
	}
}

func TestPairIDCanonical(t *testing.T) {
	assert.Equal(t, PairID("m1", "s1"), PairID("s1", "m1"))
	assert.Equal(t, "m1::s1", PairID("s1", "m1"))

	a, b, ok := SplitPairID("m1::s1")
	assert.True(t, ok)
	assert.Equal(t, "m1", a)
	assert.Equal(t, "s1", b)

	_, _, ok = SplitPairID("not-a-pair")
	assert.False(t, ok)
	_, _, ok = SplitPairID("::s1")
	assert.False(t, ok)
}

func TestSubstanceActiveAt(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)

	tests := []struct {
		name     string
		sub      Substance
		expected bool
	}{
		{
			name:     "active within window",
			sub:      Substance{IsActive: true, StartDate: yesterday, EndDate: &tomorrow},
			expected: true,
		},
		{
			name:     "flag off",
			sub:      Substance{IsActive: false, StartDate: yesterday},
			expected: false,
		},
		{
			name:     "window overrides flag before start",
			sub:      Substance{IsActive: true, StartDate: tomorrow},
			expected: false,
		},
		{
			name:     "window overrides flag after end",
			sub:      Substance{IsActive: true, StartDate: yesterday.Add(-48 * time.Hour), EndDate: &yesterday},
			expected: false,
		},
		{
			name:     "no window means flag decides",
			sub:      Substance{IsActive: true},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.sub.ActiveAt(now))
		})
	}
}

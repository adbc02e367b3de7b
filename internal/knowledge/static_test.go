package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartmed/interaction-engine/internal/models"
)

func TestStaticSource_LookupBothOrders(t *testing.T) {
	source, err := NewStaticSource("")
	require.NoError(t, err)

	warfarin := models.Substance{ID: "m1", Name: "Warfarin"}
	vitaminK := models.Substance{ID: "s1", Name: "Vitamin K"}

	forward, err := source.Lookup(context.Background(), warfarin, vitaminK)
	require.NoError(t, err)
	require.NotNil(t, forward)

	reversed, err := source.Lookup(context.Background(), vitaminK, warfarin)
	require.NoError(t, err)
	require.NotNil(t, reversed)

	assert.Equal(t, forward.PairID, reversed.PairID)
	assert.Equal(t, models.SeverityHigh, forward.SeverityLevel)
	assert.NotEmpty(t, forward.Description)
	assert.NotEmpty(t, forward.Recommendation)
}

func TestStaticSource_CaseInsensitiveNames(t *testing.T) {
	source, err := NewStaticSource("")
	require.NoError(t, err)

	finding, err := source.Lookup(context.Background(),
		models.Substance{ID: "a", Name: "WARFARIN"},
		models.Substance{ID: "b", Name: "vitamin k"})

	require.NoError(t, err)
	assert.NotNil(t, finding)
}

func TestStaticSource_NoRecord(t *testing.T) {
	source, err := NewStaticSource("")
	require.NoError(t, err)

	finding, err := source.Lookup(context.Background(),
		models.Substance{ID: "a", Name: "Ibuprofen"},
		models.Substance{ID: "b", Name: "Vitamin C"})

	assert.NoError(t, err)
	assert.Nil(t, finding)
}

func TestStaticSource_MissingDataFile(t *testing.T) {
	_, err := NewStaticSource("/nonexistent/interactions.json")
	assert.Error(t, err)
}

func TestMapRxNavSeverity(t *testing.T) {
	tests := []struct {
		input    string
		expected models.Severity
	}{
		{"high", models.SeverityHigh},
		{"High", models.SeverityHigh},
		{"moderate", models.SeverityMedium},
		{"low", models.SeverityLow},
		{"minor", models.SeverityLow},
		{"N/A", models.SeverityMedium},
		{"", models.SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, mapRxNavSeverity(tt.input))
		})
	}
}

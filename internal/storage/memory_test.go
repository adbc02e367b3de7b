package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartmed/interaction-engine/internal/models"
)

func TestMemoryStore_Substances(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.PutSubstance(ctx, "u1", models.Substance{ID: "m1", Name: "Warfarin", IsActive: true}))
	require.NoError(t, store.PutSubstance(ctx, "u1", models.Substance{ID: "s1", Name: "Vitamin K", IsActive: true}))
	require.NoError(t, store.PutSubstance(ctx, "u2", models.Substance{ID: "m9", Name: "Lisinopril", IsActive: true}))

	subs, err := store.ListSubstances(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, subs, 2)
	assert.Equal(t, "m1", subs[0].ID)

	users, err := store.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)
}

func TestMemoryStore_PutSubstanceOverwrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.PutSubstance(ctx, "u1", models.Substance{ID: "m1", Name: "Warfarin", IsActive: true}))
	require.NoError(t, store.PutSubstance(ctx, "u1", models.Substance{ID: "m1", Name: "Warfarin", IsActive: false}))

	subs, err := store.ListSubstances(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.False(t, subs[0].IsActive)
}

func TestMemoryStore_CreateAlertIsConditional(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	alert := &models.Alert{
		ID:            "a1",
		UserID:        "u1",
		InteractionID: "m1::s1",
		AlertType:     models.AlertTypeInteraction,
		SeverityLevel: models.SeverityHigh,
		CreatedAt:     time.Now(),
	}

	require.NoError(t, store.CreateAlert(ctx, alert))

	dup := *alert
	dup.ID = "a2"
	assert.ErrorIs(t, store.CreateAlert(ctx, &dup), ErrAlertExists)

	stored, err := store.LatestAlert(ctx, "u1", "m1::s1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "a1", stored.ID)
}

func TestMemoryStore_ReplaceAlertDetectsRace(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	prior := &models.Alert{ID: "a1", UserID: "u1", InteractionID: "m1::s1", SeverityLevel: models.SeverityMedium}
	require.NoError(t, store.CreateAlert(ctx, prior))

	replacement := &models.Alert{ID: "a2", UserID: "u1", InteractionID: "m1::s1", SeverityLevel: models.SeverityHigh}
	require.NoError(t, store.ReplaceAlert(ctx, prior, replacement))

	// prior no longer matches the stored record, so a second replace loses
	late := &models.Alert{ID: "a3", UserID: "u1", InteractionID: "m1::s1", SeverityLevel: models.SeverityCritical}
	assert.ErrorIs(t, store.ReplaceAlert(ctx, prior, late), ErrConflict)

	stored, err := store.LatestAlert(ctx, "u1", "m1::s1")
	require.NoError(t, err)
	assert.Equal(t, "a2", stored.ID)
}

func TestMemoryStore_LatestAlertMissing(t *testing.T) {
	store := NewMemoryStore()

	alert, err := store.LatestAlert(context.Background(), "u1", "m1::s1")
	assert.NoError(t, err)
	assert.Nil(t, alert)
}

func TestMemoryStore_SweepReports(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.StoreSweepReport(ctx, &models.SweepReport{UsersChecked: 3}))
	require.NoError(t, store.StoreSweepReport(ctx, &models.SweepReport{UsersChecked: 5}))

	reports := store.SweepReports()
	require.Len(t, reports, 2)
	assert.Equal(t, 5, reports[1].UsersChecked)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartmed/interaction-engine/internal/alerting"
	"github.com/smartmed/interaction-engine/internal/checking"
	"github.com/smartmed/interaction-engine/internal/config"
	"github.com/smartmed/interaction-engine/internal/knowledge"
	"github.com/smartmed/interaction-engine/internal/models"
	"github.com/smartmed/interaction-engine/internal/storage"
)

const testSecret = "test-secret"

type nopDispatcher struct{}

func (nopDispatcher) SendAlert(ctx context.Context, alert *models.Alert) error { return nil }
func (nopDispatcher) SendSweepDigest(ctx context.Context, report *models.SweepReport) error {
	return nil
}

type stubSweeper struct{ runs int }

func (s *stubSweeper) RunSweep(ctx context.Context) (*models.SweepReport, error) {
	s.runs++
	return &models.SweepReport{}, nil
}

type testEnv struct {
	server  *Server
	store   *storage.MemoryStore
	sweeper *stubSweeper
	router  http.Handler
}

// newTestEnv wires the server against the bundled reference table, so
// the Warfarin / Vitamin K scenarios resolve without any network.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{JWTSecret: testSecret, MaxConcurrentLookups: 4}

	static, err := knowledge.NewStaticSource("")
	require.NoError(t, err)
	resolver := knowledge.NewResolver([]knowledge.Source{static}, 0, time.Millisecond)

	store := storage.NewMemoryStore()
	checker := checking.NewService(resolver, cfg.MaxConcurrentLookups)
	alerts := alerting.NewService(store, nopDispatcher{}, models.SeverityMedium)
	sweeper := &stubSweeper{}

	server := NewServer(cfg, checker, resolver, alerts, store, sweeper)
	return &testEnv{
		server:  server,
		store:   store,
		sweeper: sweeper,
		router:  server.Router(),
	}
}

func bearerToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func doRequest(t *testing.T, env *testEnv, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeFault(t *testing.T, rec *httptest.ResponseRecorder) fault {
	t.Helper()
	var f fault
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &f))
	return f
}

func TestAuth_MissingToken(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env, "POST", "/v1/interactions/check", "", checkRequest{})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decodeFault(t, rec).Code)
}

func TestAuth_BadToken(t *testing.T) {
	env := newTestEnv(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1"})
	signed, err := token.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	rec := doRequest(t, env, "POST", "/v1/interactions/check", signed, checkRequest{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_HealthIsOpen(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckInteractions_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/v1/interactions/check", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+bearerToken(t, "u1"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid-argument", decodeFault(t, rec).Code)
}

func TestCheckInteractions_ValidationFault(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  checkRequest
	}{
		{
			name: "missing id",
			req: checkRequest{
				Medications: []models.Substance{{Name: "Warfarin", IsActive: true}},
			},
		},
		{
			name: "missing name",
			req: checkRequest{
				Supplements: []models.Substance{{ID: "s1", IsActive: true}},
			},
		},
		{
			name: "duplicate ids",
			req: checkRequest{
				Medications: []models.Substance{
					{ID: "m1", Name: "Warfarin", IsActive: true},
					{ID: "m1", Name: "Warfarin", IsActive: true},
				},
			},
		},
		{
			name: "duplicate id across lists",
			req: checkRequest{
				Medications: []models.Substance{{ID: "x1", Name: "Warfarin", IsActive: true}},
				Supplements: []models.Substance{{ID: "x1", Name: "Vitamin K", IsActive: true}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, env, "POST", "/v1/interactions/check", bearerToken(t, "u1"), tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid-argument", decodeFault(t, rec).Code)
		})
	}
}

func TestCheckInteractions_WarfarinVitaminK(t *testing.T) {
	env := newTestEnv(t)

	req := checkRequest{
		Medications: []models.Substance{{ID: "m1", Name: "Warfarin", IsActive: true}},
		Supplements: []models.Substance{{ID: "s1", Name: "Vitamin K", IsActive: true}},
	}

	rec := doRequest(t, env, "POST", "/v1/interactions/check", bearerToken(t, "u1"), req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.InteractionCheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	require.Len(t, result.Findings, 1)
	assert.Equal(t, models.SeverityHigh, result.RiskLevel)
	assert.Len(t, result.Recommendations, 1)
	assert.True(t, result.Complete)
}

func TestCheckInteractions_InactiveSupplement(t *testing.T) {
	env := newTestEnv(t)

	req := checkRequest{
		Medications: []models.Substance{{ID: "m1", Name: "Warfarin", IsActive: true}},
		Supplements: []models.Substance{{ID: "s1", Name: "Vitamin K", IsActive: false}},
	}

	rec := doRequest(t, env, "POST", "/v1/interactions/check", bearerToken(t, "u1"), req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.InteractionCheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	assert.Empty(t, result.Findings)
	assert.Equal(t, models.SeverityNone, result.RiskLevel)
}

func TestInteractionDetails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.PutSubstance(ctx, "u1", models.Substance{
		ID: "m1", Kind: models.KindMedication, Name: "Warfarin", IsActive: true}))
	require.NoError(t, env.store.PutSubstance(ctx, "u1", models.Substance{
		ID: "s1", Kind: models.KindSupplement, Name: "Vitamin K", IsActive: true}))

	pairID := models.PairID("m1", "s1")
	rec := doRequest(t, env, "GET", fmt.Sprintf("/v1/interactions/%s", pairID), bearerToken(t, "u1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var finding models.InteractionFinding
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &finding))
	assert.Equal(t, pairID, finding.PairID)
	assert.Equal(t, models.SeverityHigh, finding.SeverityLevel)
}

func TestInteractionDetails_NotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.PutSubstance(ctx, "u1", models.Substance{
		ID: "m1", Kind: models.KindMedication, Name: "Metformin", IsActive: true}))
	require.NoError(t, env.store.PutSubstance(ctx, "u1", models.Substance{
		ID: "s1", Kind: models.KindSupplement, Name: "Vitamin C", IsActive: true}))

	rec := doRequest(t, env, "GET", "/v1/interactions/"+models.PairID("m1", "s1"), bearerToken(t, "u1"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not-found", decodeFault(t, rec).Code)
}

func TestInteractionDetails_ExpiredSubstanceTreatedAsAbsent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ended := time.Now().Add(-24 * time.Hour)
	require.NoError(t, env.store.PutSubstance(ctx, "u1", models.Substance{
		ID: "m1", Kind: models.KindMedication, Name: "Warfarin", IsActive: true}))
	require.NoError(t, env.store.PutSubstance(ctx, "u1", models.Substance{
		ID: "s1", Kind: models.KindSupplement, Name: "Vitamin K",
		IsActive:  true,
		StartDate: ended.Add(-48 * time.Hour),
		EndDate:   &ended,
	}))

	rec := doRequest(t, env, "GET", "/v1/interactions/"+models.PairID("m1", "s1"), bearerToken(t, "u1"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not-found", decodeFault(t, rec).Code)
}

func TestInteractionDetails_UnknownSubstances(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env, "GET", "/v1/interactions/"+models.PairID("x1", "x2"), bearerToken(t, "u1"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInteractionDetails_MalformedPair(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env, "GET", "/v1/interactions/not-a-pair", bearerToken(t, "u1"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubstanceCreated_CreatesAlert(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.PutSubstance(ctx, "u1", models.Substance{
		ID: "m1", Kind: models.KindMedication, Name: "Warfarin", IsActive: true}))

	req := substanceCreatedRequest{
		UserID: "u1",
		Substance: models.Substance{
			ID: "s1", Kind: models.KindSupplement, Name: "Vitamin K", IsActive: true,
		},
	}

	rec := doRequest(t, env, "POST", "/v1/events/substance-created", bearerToken(t, "u1"), req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp substanceCreatedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.AlertsCreated)
	assert.Equal(t, models.SeverityHigh, resp.Result.RiskLevel)

	alerts, err := env.store.ListAlerts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertTypeInteraction, alerts[0].AlertType)
	assert.Equal(t, models.SeverityHigh, alerts[0].SeverityLevel)

	// Replaying the event must not duplicate the alert.
	rec = doRequest(t, env, "POST", "/v1/events/substance-created", bearerToken(t, "u1"), req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp.AlertsCreated)

	alerts, err = env.store.ListAlerts(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestSubstanceCreated_ValidationFaults(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  substanceCreatedRequest
	}{
		{
			name: "missing user",
			req: substanceCreatedRequest{
				Substance: models.Substance{ID: "s1", Kind: models.KindSupplement, Name: "Vitamin K"},
			},
		},
		{
			name: "missing substance id",
			req: substanceCreatedRequest{
				UserID:    "u1",
				Substance: models.Substance{Kind: models.KindSupplement, Name: "Vitamin K"},
			},
		},
		{
			name: "bad kind",
			req: substanceCreatedRequest{
				UserID:    "u1",
				Substance: models.Substance{ID: "s1", Kind: "vitamin", Name: "Vitamin K"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, env, "POST", "/v1/events/substance-created", bearerToken(t, "u1"), tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListAlerts_EmptyProfile(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env, "GET", "/v1/alerts", bearerToken(t, "u1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestTriggerSweep(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env, "POST", "/trigger/sweep", bearerToken(t, "ops"), nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

package adminapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defense-gateway/middleware/admission/domain"
	"defense-gateway/middleware/admission/infra"
)

type fixedGate struct{ n int }

func (g fixedGate) Active() int { return g.n }

func newServer(t *testing.T) (*Server, *infra.Registry) {
	t.Helper()
	reg := infra.NewRegistry()
	srv := &Server{
		Registry: reg,
		Gate:     fixedGate{n: 3},
		Profile:  "soft",
		BanFor:   120 * time.Second,
	}
	return srv, reg
}

func TestAdmin_StatusReportsExclusionsAndGate(t *testing.T) {
	srv, reg := newServer(t)
	now := time.Now()
	require.NoError(t, reg.Exclude(domain.Exclusion{
		Key:       "1.2.3.4",
		Tier:      domain.TierSoft,
		CreatedAt: now,
		ExpiresAt: now.Add(90 * time.Second),
	}))

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/defense/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Profile        string          `json:"profile"`
		BanSeconds     int64           `json:"ban_seconds"`
		ExclusionCount int             `json:"exclusion_count"`
		Exclusions     []exclusionJSON `json:"exclusions"`
		ActiveRequests int             `json:"active_requests"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, "soft", body.Profile)
	assert.Equal(t, int64(120), body.BanSeconds)
	assert.Equal(t, 1, body.ExclusionCount)
	assert.Equal(t, 3, body.ActiveRequests)
	require.Len(t, body.Exclusions, 1)
	assert.Equal(t, "1.2.3.4", body.Exclusions[0].Address)
	assert.Equal(t, "soft", body.Exclusions[0].Tier)
	assert.InDelta(t, 90, body.Exclusions[0].RemainingSeconds, 2)
}

func TestAdmin_ListEmptyIsEmptyArray(t *testing.T) {
	srv, _ := newServer(t)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/defense/exclusions", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestAdmin_BlockWithoutTTLIsPermanent(t *testing.T) {
	srv, reg := newServer(t)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/defense/exclusions/9.9.9.9", nil))

	require.Equal(t, http.StatusOK, w.Code)
	list := reg.List(time.Now())
	require.Len(t, list, 1)
	assert.True(t, list[0].Permanent)
	assert.Equal(t, domain.Key("9.9.9.9"), list[0].Key)
	assert.Equal(t, domain.TierSoft, list[0].Tier)
}

func TestAdmin_BlockWithTTLExpires(t *testing.T) {
	srv, reg := newServer(t)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/defense/exclusions/9.9.9.9?ttl=2m", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, reg.IsExcluded("9.9.9.9", time.Now()))
	assert.False(t, reg.IsExcluded("9.9.9.9", time.Now().Add(3*time.Minute)))
}

func TestAdmin_BlockRejectsBadTTL(t *testing.T) {
	srv, _ := newServer(t)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/defense/exclusions/9.9.9.9?ttl=banana", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_HardProfileBlocksWithHardTier(t *testing.T) {
	srv, reg := newServer(t)
	srv.Profile = "hard"

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/defense/exclusions/9.9.9.9", nil))

	require.Equal(t, http.StatusOK, w.Code)
	list := reg.List(time.Now())
	require.Len(t, list, 1)
	assert.Equal(t, domain.TierHard, list[0].Tier)
}

func TestAdmin_UnblockIsIdempotent(t *testing.T) {
	srv, reg := newServer(t)
	require.NoError(t, reg.Exclude(domain.Exclusion{
		Key: "1.2.3.4", Tier: domain.TierSoft, Permanent: true, CreatedAt: time.Now(),
	}))

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/defense/exclusions/1.2.3.4", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, reg.IsExcluded("1.2.3.4", time.Now()))

	// repetir o DELETE não é erro
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/defense/exclusions/1.2.3.4", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmin_TelemetryDisabledIs404(t *testing.T) {
	srv, _ := newServer(t)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

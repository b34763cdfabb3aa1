package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholargrid/harvester/internal/domain"
)

func TestListSources_ReturnsConfiguredSources(t *testing.T) {
	ts := newTestServer()
	router := ts.router(t)

	req := httptest.NewRequest(http.MethodGet, "/sources", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sources []domain.Source `json:"sources"`
	}
	err := json.NewDecoder(rec.Body).Decode(&body)
	require.NoError(t, err)
	require.Len(t, body.Sources, 2)
	assert.Equal(t, "nsp", body.Sources[0].ID)
	assert.True(t, body.Sources[0].Enabled)
}

func TestDisableSource_FlipsFlagAndAudits(t *testing.T) {
	ts := newTestServer()
	router := ts.router(t)

	req := httptest.NewRequest(http.MethodPost, "/sources/nsp/disable", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Source domain.Source `json:"source"`
	}
	err := json.NewDecoder(rec.Body).Decode(&body)
	require.NoError(t, err)
	assert.Equal(t, "nsp", body.Source.ID)
	assert.False(t, body.Source.Enabled)

	entries := ts.audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "source.disable", entries[0].Action)
	assert.Contains(t, entries[0].Detail, "nsp")
}

func TestEnableSource_RestoresDisabledSource(t *testing.T) {
	ts := newTestServer()
	ts.orch.sources[0].Enabled = false
	router := ts.router(t)

	req := httptest.NewRequest(http.MethodPost, "/sources/nsp/enable", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Source domain.Source `json:"source"`
	}
	err := json.NewDecoder(rec.Body).Decode(&body)
	require.NoError(t, err)
	assert.True(t, body.Source.Enabled)

	entries := ts.audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "source.enable", entries[0].Action)
}

func TestEnableSource_UnknownSource_Returns404(t *testing.T) {
	ts := newTestServer()
	router := ts.router(t)

	req := httptest.NewRequest(http.MethodPost, "/sources/ghost/enable", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]interface{}
	err := json.NewDecoder(rec.Body).Decode(&body)
	require.NoError(t, err)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "unknown_source", body["code"])
	assert.Empty(t, ts.audit.all(), "failed toggles should not be audited")
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkcheck/internal/config"
	"linkcheck/internal/coordinator"
	"linkcheck/internal/db"
	"linkcheck/internal/handlers"
	"linkcheck/internal/handlers/api"
	"linkcheck/internal/jobs"
	"linkcheck/internal/logger"
	"linkcheck/internal/models"
)

type stub struct{}

func (stub) Ping(context.Context) error                                       { return nil }
func (stub) Trigger(coordinator.PassRequest) error                            { return nil }
func (stub) Status() jobs.Status                                              { return jobs.Status{} }
func (stub) CreateExclusionRule(context.Context, *models.ExclusionRule) error { return nil }
func (stub) DeleteExclusionRule(context.Context, uuid.UUID) error             { return nil }

func (stub) RecheckURL(context.Context, coordinator.RecheckRequest) (*models.ResponseRecord, error) {
	return models.NewOKRecord(time.Now()), nil
}

func (stub) RecheckRecord(context.Context, string, int64) (*coordinator.Statistics, error) {
	return &coordinator.Statistics{}, nil
}

func (stub) ListBrokenLinks(context.Context, db.BrokenLinkFilter) ([]models.BrokenLinkEntry, error) {
	return nil, nil
}

func (stub) CountBrokenLinks(context.Context, db.BrokenLinkFilter) (int64, error) { return 0, nil }

func (stub) ListExclusionRules(context.Context, db.ExclusionFilter) ([]models.ExclusionRule, error) {
	return nil, nil
}

func (stub) ApplyExclusion(context.Context, models.ExclusionRule) (int64, error) { return 0, nil }

func newTestServer(token string) *Server {
	cfg := &config.Config{Env: "test", APIToken: token}
	log := logger.NewNop()
	s := New(cfg, log)
	s.RegisterRoutes(Handlers{
		Probe:       handlers.NewProbeHandler(stub{}),
		Checks:      api.NewChecksHandler(stub{}, log),
		Recheck:     api.NewRecheckHandler(stub{}, false, log),
		BrokenLinks: api.NewBrokenLinkHandler(stub{}, log),
		Exclusions:  api.NewExclusionHandler(stub{}, stub{}, log),
	})
	return s
}

func TestRoutes(t *testing.T) {
	s := newTestServer("secret")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"liveness", http.MethodGet, "/healthz", "", http.StatusOK},
		{"readiness", http.MethodGet, "/readyz", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"last pass is public", http.MethodGet, "/api/v1/checks/last", "", http.StatusOK},
		{"report is public", http.MethodGet, "/api/v1/broken-links", "", http.StatusOK},
		{"start needs token", http.MethodPost, "/api/v1/checks", "", http.StatusUnauthorized},
		{"start with token", http.MethodPost, "/api/v1/checks", "secret", http.StatusAccepted},
		{"delete needs token", http.MethodDelete, "/api/v1/exclusions/" + uuid.NewString(), "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			resp, err := s.App.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestErrorHandler_ReturnsJSONEnvelope(t *testing.T) {
	s := newTestServer("")

	req, _ := http.NewRequest(http.MethodGet, "/nope", nil)
	resp, err := s.App.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "error", body["status"])
	assert.NotEmpty(t, body["error"])
}

func TestBuildTLSConfig(t *testing.T) {
	tc, err := buildTLSConfig(&config.Config{})
	require.NoError(t, err)
	assert.Nil(t, tc.ClientCAs)

	_, err = buildTLSConfig(&config.Config{TLSCAFile: filepath.Join(t.TempDir(), "missing.pem")})
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))
	_, err = buildTLSConfig(&config.Config{TLSCAFile: bad})
	assert.Error(t, err)
}

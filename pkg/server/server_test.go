package server

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/tollgate/pkg/config"
	"github.com/pario-ai/tollgate/pkg/metering"
	"github.com/pario-ai/tollgate/pkg/models"
	"github.com/pario-ai/tollgate/pkg/store"
	"github.com/pario-ai/tollgate/pkg/store/sqlite"
)

func intp(v int) *int { return &v }

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "server_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.CreateOrganization(ctx, models.Organization{ID: "acme", Name: "Acme"}))
	for _, m := range []models.Membership{
		{ActorID: "olivia", OrganizationID: "acme", Role: models.RoleOwner},
		{ActorID: "sam", OrganizationID: "acme", Role: models.RoleStaff, PermissionTier: intp(4)},
	} {
		require.NoError(t, st.AddMembership(ctx, m))
	}
	return st
}

func setupServer(t *testing.T, cfg *config.Config, st store.Store) *Server {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	metrics := NewMetrics()
	svc := metering.New(st, metering.Config{PlatformOwnerID: "root"}, nil, metering.WithObserver(metrics))
	return New(cfg, svc, metrics, nil)
}

func do(t *testing.T, srv http.Handler, method, path, actor, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestModels(t *testing.T) {
	srv := setupServer(t, nil, openStore(t))

	w := do(t, srv, http.MethodGet, "/api/v1/models?org_id=acme", "sam", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var v metering.ModelsView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, 4, v.Tier)
	assert.Len(t, v.Allowed, 2)
}

func TestMissingActor(t *testing.T) {
	srv := setupServer(t, nil, openStore(t))

	w := do(t, srv, http.MethodGet, "/api/v1/models", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "tollgate_error", body.Error.Type)
	assert.Equal(t, http.StatusBadRequest, body.Error.Code)
}

func TestActorQueryParameter(t *testing.T) {
	srv := setupServer(t, nil, openStore(t))
	w := do(t, srv, http.MethodGet, "/api/v1/models?actor_id=olivia", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownActorIsNotFound(t *testing.T) {
	srv := setupServer(t, nil, openStore(t))
	w := do(t, srv, http.MethodGet, "/api/v1/models", "stranger", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJWTAuth(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	srv := setupServer(t, cfg, openStore(t))

	sign := func(secret, sub string) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": sub,
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(secret))
		require.NoError(t, err)
		return tok
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + sign("test-secret", "olivia"), http.StatusOK},
		{"wrong secret", "Bearer " + sign("other", "olivia"), http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			// header identity is ignored once tokens are required
			req.Header.Set("X-Actor-ID", "olivia")
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestUsage(t *testing.T) {
	st := openStore(t)
	_, err := st.AppendEvent(context.Background(), models.UsageEvent{
		OrganizationID: "acme", ActorID: "sam", Action: models.ActionChatQuery,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
		Details:   map[string]any{"model": "gpt-4o-mini", "input_tokens": 1000, "output_tokens": 500},
	})
	require.NoError(t, err)
	srv := setupServer(t, nil, st)

	w := do(t, srv, http.MethodGet, "/api/v1/usage?org_id=acme&period=7d", "sam", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var rep metering.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.Equal(t, 1, rep.Totals.Queries)
	assert.Nil(t, rep.Budget)

	w = do(t, srv, http.MethodGet, "/api/v1/usage?period=1y", "sam", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminUsage(t *testing.T) {
	srv := setupServer(t, nil, openStore(t))

	w := do(t, srv, http.MethodGet, "/api/v1/admin/usage", "olivia", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, srv, http.MethodGet, "/api/v1/admin/usage?period=all", "root", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sum metering.PlatformSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	require.Len(t, sum.Organizations, 1)
	assert.Equal(t, "acme", sum.Organizations[0].ID)
}

func TestBudgetUpdate(t *testing.T) {
	srv := setupServer(t, nil, openStore(t))

	w := do(t, srv, http.MethodPatch, "/api/v1/budget?org_id=acme", "sam", `{"monthlyLimit":100}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, srv, http.MethodPatch, "/api/v1/budget", "olivia", `{"org_id":"acme","monthlyLimit":100,"modelLock":"Claude 4 Sonnet"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, `"1"`, w.Header().Get("ETag"))

	var res struct {
		Version int64               `json:"version"`
		Policy  models.BudgetPolicy `json:"policy"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, int64(1), res.Version)
	assert.Equal(t, 100.0, res.Policy.MonthlyLimit)
	assert.Equal(t, "claude-4-sonnet", res.Policy.ModelLock)

	// stale version
	req := httptest.NewRequest(http.MethodPut, "/api/v1/budget?org_id=acme", strings.NewReader(`{"monthlyLimit":200}`))
	req.Header.Set("X-Actor-ID", "olivia")
	req.Header.Set("If-Match", `"0"`)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	w = do(t, srv, http.MethodPatch, "/api/v1/budget?org_id=acme", "olivia", `{"reloadThreshold":150}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPatch, "/api/v1/budget?org_id=acme", "olivia", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseIfMatch(t *testing.T) {
	v, err := parseIfMatch(`W/"7"`)
	require.NoError(t, err)
	assert.Equal(t, int64(7), *v)

	v, err = parseIfMatch("")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = parseIfMatch(`"abc"`)
	assert.Error(t, err)
}

func TestChatEvents(t *testing.T) {
	st := openStore(t)
	srv := setupServer(t, nil, st)

	w := do(t, srv, http.MethodPost, "/api/v1/chat/events", "sam", `{"org_id":"acme","model":"claude-4-opus"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, decodeError(t, w).Error.Message, "requires tier 1")

	w = do(t, srv, http.MethodPost, "/api/v1/chat/events", "sam", `{"org_id":"acme","model":"gpt-4o-mini","input_tokens":1000,"output_tokens":1000}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rc metering.ChatReceipt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rc))
	assert.Equal(t, "gpt-4o-mini", rc.Model)
	assert.False(t, rc.Estimated)

	w = do(t, srv, http.MethodPost, "/api/v1/chat/events", "sam", `{"org_id":"acme","input_tokens":-5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatEventsBudgetExceeded(t *testing.T) {
	st := openStore(t)
	srv := setupServer(t, nil, st)

	w := do(t, srv, http.MethodPatch, "/api/v1/budget?org_id=acme", "olivia", `{"monthlyLimit":1}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := `{"org_id":"acme","model":"gpt-4o","input_tokens":200000,"output_tokens":100000}`
	w = do(t, srv, http.MethodPost, "/api/v1/chat/events", "olivia", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, srv, http.MethodPost, "/api/v1/chat/events", "olivia", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

type brokenEvents struct {
	store.Store
}

func (brokenEvents) Events(context.Context, store.EventQuery) iter.Seq2[models.UsageEvent, error] {
	return func(yield func(models.UsageEvent, error) bool) {
		yield(models.UsageEvent{}, errors.New("connection reset"))
	}
}

func TestUnavailableLedger(t *testing.T) {
	srv := setupServer(t, nil, brokenEvents{openStore(t)})

	w := do(t, srv, http.MethodGet, "/api/v1/usage?org_id=acme", "sam", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, retryAfterSeconds, w.Header().Get("Retry-After"))
	assert.NotContains(t, w.Body.String(), "connection reset")
}

func TestHealthAndMetrics(t *testing.T) {
	srv := setupServer(t, nil, openStore(t))

	w := do(t, srv, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	do(t, srv, http.MethodGet, "/api/v1/models", "olivia", "")

	w = do(t, srv, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `tollgate_http_requests_total{code="200",method="GET",route="/api/v1/models"} 1`)
}

func TestNotFoundAndMethod(t *testing.T) {
	srv := setupServer(t, nil, openStore(t))

	w := do(t, srv, http.MethodGet, "/nope", "olivia", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, http.MethodDelete, "/api/v1/budget", "olivia", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	cfg := config.Default()
	cfg.CORS.AllowedOrigins = []string{"https://dash.example.com"}
	srv := setupServer(t, cfg, openStore(t))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/budget", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", "PATCH")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, "https://dash.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/curator-discovery/internal/automation"
	"github.com/JakeFAU/curator-discovery/internal/config"
	"github.com/JakeFAU/curator-discovery/internal/curator"
	memoryStorage "github.com/JakeFAU/curator-discovery/internal/storage/memory"
)

type fakeRunner struct {
	mu      sync.Mutex
	ids     []string
	running string
	err     error
	last    *automation.RunSummary
	ctxs    []context.Context
}

func (f *fakeRunner) Start(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxs = append(f.ctxs, ctx)
	if f.err != nil {
		return "", f.err
	}
	if f.running != "" {
		return "", automation.ErrRunInProgress
	}
	if len(f.ids) == 0 {
		return "", errors.New("no ids left")
	}
	f.running, f.ids = f.ids[0], f.ids[1:]
	return f.running, nil
}

func (f *fakeRunner) Status() automation.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return automation.Status{Running: f.running != "", RunID: f.running, Last: f.last}
}

func testConfig() config.Config {
	return config.Config{
		Automation: config.AutomationConfig{TriggerRPS: 100, TriggerBurst: 10},
	}
}

type harness struct {
	server *Server
	runner *fakeRunner
	store  *memoryStorage.CuratorStore
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()
	runner := &fakeRunner{ids: []string{"run-1", "run-2"}}
	store := memoryStorage.NewCuratorStore()
	srv := NewServer(Deps{Runner: runner, Reader: store, Seeds: store}, cfg, zap.NewNop())
	return &harness{server: srv, runner: runner, store: store}
}

func (h *harness) do(t *testing.T, method, target string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", nil, nil).Code)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/readyz", nil, nil).Code)

	rec := h.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "discovery_")
}

func TestServer_ReadyzReportsDownstreamFailure(t *testing.T) {
	t.Parallel()

	srv := NewServer(Deps{
		Runner: &fakeRunner{},
		Ready:  func(context.Context) error { return errors.New("db down") },
	}, testConfig(), zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_TriggerRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	rec := h.do(t, http.MethodPost, "/v1/automation/run", nil, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "run-1", decode[map[string]string](t, rec)["run_id"])

	rec = h.do(t, http.MethodPost, "/v1/automation/run", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "run-1", decode[map[string]string](t, rec)["run_id"])

	rec = h.do(t, http.MethodGet, "/v1/automation/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[automation.Status](t, rec)
	require.True(t, st.Running)
	require.Equal(t, "run-1", st.RunID)
}

func TestServer_TriggerRunUsesServerContext(t *testing.T) {
	t.Parallel()

	type ctxKey struct{}
	runner := &fakeRunner{ids: []string{"run-1"}}
	base := context.WithValue(context.Background(), ctxKey{}, "server")
	srv := NewServer(Deps{Runner: runner, RunContext: base}, testConfig(), zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/automation/run", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, runner.ctxs, 1)
	require.Equal(t, "server", runner.ctxs[0].Value(ctxKey{}))
}

func TestServer_TriggerRunThrottled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Automation.TriggerRPS = 0.001
	cfg.Automation.TriggerBurst = 1
	h := newHarness(t, cfg)

	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPost, "/v1/automation/run", nil, nil).Code)
	rec := h.do(t, http.MethodPost, "/v1/automation/run", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestServer_TriggerRunStartFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	h.runner.err = errors.New("guard backend down")
	rec := h.do(t, http.MethodPost, "/v1/automation/run", nil, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_StatusIncludesLastSummary(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	h.runner.last = &automation.RunSummary{RunID: "run-0", Status: automation.StatusCompleted, SeedsProcessed: 3}
	rec := h.do(t, http.MethodGet, "/v1/automation/status", nil, nil)
	st := decode[automation.Status](t, rec)
	require.False(t, st.Running)
	require.NotNil(t, st.Last)
	require.Equal(t, 3, st.Last.SeedsProcessed)
}

func TestServer_Seeds(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	body := []byte(`{"seeds":[{"id":"44196397","handle":"elonmusk"},{"id":" 111 ","handle":"alpha"}]}`)
	rec := h.do(t, http.MethodPost, "/v1/seeds", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, decode[map[string]int](t, rec)["upserted"])

	require.NoError(t, h.store.MarkSeedProcessed(context.Background(), "44196397", time.Now()))
	// Re-posting an existing seed keeps its processed flag.
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/seeds", body, nil).Code)

	rec = h.do(t, http.MethodGet, "/v1/seeds", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string][]curator.SeedCurator](t, rec)["seeds"]
	require.Len(t, got, 2)
	require.Equal(t, "44196397", got[0].ID)
	require.True(t, got[0].Processed)
	require.Equal(t, "111", got[1].ID)
	require.False(t, got[1].Processed)
}

func TestServer_SeedsValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	for _, body := range []string{`{invalid`, `{"seeds":[]}`, `{"seeds":[{"handle":"x"}]}`} {
		rec := h.do(t, http.MethodPost, "/v1/seeds", []byte(body), nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestServer_CuratorsAndSummary(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	ctx := context.Background()
	require.NoError(t, h.store.UpsertSeeds(ctx, []curator.SeedCurator{{ID: "44196397", Handle: "elonmusk"}}))
	require.NoError(t, h.store.UpsertCurator(ctx, curator.DiscoveredCurator{ID: "44196397", Handle: "elonmusk", FollowersCount: 500}))
	require.NoError(t, h.store.UpsertCurator(ctx, curator.DiscoveredCurator{
		ID: "999", Handle: "f", Score: 80, Categories: []curator.Category{{ID: 1, Name: "defi"}},
	}))
	require.NoError(t, h.store.UpsertCurator(ctx, curator.DiscoveredCurator{ID: "998", Handle: "g", Score: 20}))

	rec := h.do(t, http.MethodGet, "/v1/curators?min_score=50&category=defi", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]curator.DiscoveredCurator](t, rec)["curators"]
	require.Len(t, list, 1)
	require.Equal(t, "999", list[0].ID)

	rec = h.do(t, http.MethodGet, "/v1/curators?limit=2", nil, nil)
	require.Len(t, decode[map[string][]curator.DiscoveredCurator](t, rec)["curators"], 2)

	rec = h.do(t, http.MethodGet, "/v1/curators/44196397", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 500, decode[curator.DiscoveredCurator](t, rec).FollowersCount)

	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/v1/curators/missing", nil, nil).Code)

	rec = h.do(t, http.MethodGet, "/v1/summary", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, curator.Summary{Seeds: 1, ProcessedSeeds: 0, Discovered: 3, DiscoveredBeyondSeeds: 2}, decode[curator.Summary](t, rec))
}

func TestServer_CuratorFilterValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	for _, q := range []string{"limit=0", "limit=abc", "offset=-1", "min_score=x", "min_score=-3"} {
		rec := h.do(t, http.MethodGet, "/v1/curators?"+q, nil, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	h := newHarness(t, cfg)

	require.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/v1/summary", nil, nil).Code)
	require.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/v1/summary", nil, map[string]string{"X-API-Key": "nope"}).Code)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/summary", nil, map[string]string{"X-API-Key": "secret"}).Code)
	// Probes stay open for orchestration.
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", nil, nil).Code)
}

func TestServer_RequestIDEchoed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	rec := h.do(t, http.MethodGet, "/healthz", nil, map[string]string{"X-Request-ID": "abc"})
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))

	rec = h.do(t, http.MethodGet, "/healthz", nil, nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

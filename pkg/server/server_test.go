package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/compass/pkg/bandit"
	"mercator-hq/compass/pkg/config"
	"mercator-hq/compass/pkg/engine"
	"mercator-hq/compass/pkg/experiment"
	"mercator-hq/compass/pkg/ledger"
	"mercator-hq/compass/pkg/snapshot"
	"mercator-hq/compass/pkg/telemetry/health"
	"mercator-hq/compass/pkg/telemetry/logging"
)

type testEnv struct {
	engine  *engine.Engine
	ledger  *ledger.MemoryStorage
	server  *Server
	handler http.Handler
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Estimator.Features = []string{"bias", "x"}
	registry, err := config.NewRegistry(cfg)
	if err != nil {
		t.Fatal(err)
	}
	logger, err := logging.New(logging.Config{Level: "error", Writer: io.Discard})
	if err != nil {
		t.Fatal(err)
	}
	eng, err := engine.New(registry,
		engine.WithLogger(logger),
		engine.WithSnapshots(snapshot.NewMemoryBackend(), 3),
	)
	if err != nil {
		t.Fatal(err)
	}
	store := ledger.NewMemoryStorage()

	opts = append([]Option{WithLogger(logger), WithLedger(store)}, opts...)
	srv, err := NewServer(&cfg.Server, eng, opts...)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return &testEnv{engine: eng, ledger: store, server: srv, handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func (e *testEnv) startExperiment(t *testing.T) {
	t.Helper()
	_, err := e.engine.StartExperiment("routing", []engine.Candidate{
		{Name: "tree", Algorithm: config.AlgorithmPartitioner, Weight: 0.5},
	}, 50)
	if err != nil {
		t.Fatal(err)
	}
}

func TestNewServer_RequiresEngine(t *testing.T) {
	if _, err := NewServer(&config.ServerConfig{}, nil); err == nil {
		t.Fatal("expected error without engine")
	}
}

func TestHealthEndpoints(t *testing.T) {
	checker := health.New(time.Second)
	env := newTestEnv(t, WithHealth(checker), WithBuildInfo(BuildInfo{Version: "1.2.3"}))

	if w := env.do(t, http.MethodGet, "/health"); w.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/ready"); w.Code != http.StatusOK {
		t.Errorf("/ready status = %d, want 200", w.Code)
	}

	checker.RegisterCheck("ledger", func(context.Context) error { return errors.New("down") })
	if w := env.do(t, http.MethodGet, "/ready"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("/ready with failing check status = %d, want 503", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/ready/ledger"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("/ready/ledger status = %d, want 503", w.Code)
	}

	w := env.do(t, http.MethodGet, "/version")
	if !strings.Contains(w.Body.String(), "1.2.3") {
		t.Errorf("/version body = %q, want version", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"config_version":1`) {
		t.Errorf("/version body = %q, want config_version 1", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "compass_decisions_total 1\n")
	})
	env := newTestEnv(t, WithMetrics("/metrics", h))

	w := env.do(t, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "decisions_total") {
		t.Errorf("/metrics = %d %q", w.Code, w.Body.String())
	}

	plain := newTestEnv(t)
	if w := plain.do(t, http.MethodGet, "/metrics"); w.Code != http.StatusNotFound {
		t.Errorf("/metrics without handler status = %d, want 404", w.Code)
	}
}

func TestExperimentEndpoints(t *testing.T) {
	env := newTestEnv(t)

	list := decode[experimentList](t, env.do(t, http.MethodGet, "/v1/experiments"))
	if len(list.Experiments) != 0 {
		t.Errorf("expected no experiments, got %d", len(list.Experiments))
	}

	w := env.do(t, http.MethodGet, "/v1/experiments/routing")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown experiment status = %d, want 404", w.Code)
	}
	body := decode[errorBody](t, w)
	if body.Error.Kind != "not_found" {
		t.Errorf("error kind = %q, want not_found", body.Error.Kind)
	}

	env.startExperiment(t)

	list = decode[experimentList](t, env.do(t, http.MethodGet, "/v1/experiments"))
	if len(list.Experiments) != 1 || list.Experiments[0].Domain != "routing" {
		t.Fatalf("experiments = %+v, want routing", list.Experiments)
	}

	w = env.do(t, http.MethodGet, "/v1/experiments/routing")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	sum := decode[experiment.Summary](t, w)
	if sum.ShadowSampleThreshold != 50 {
		t.Errorf("threshold = %d, want 50", sum.ShadowSampleThreshold)
	}
	if sum.Phase != experiment.PhaseShadow {
		t.Errorf("phase = %v, want shadow", sum.Phase)
	}
}

func TestStartStopExperiment(t *testing.T) {
	env := newTestEnv(t)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/experiments/routing", strings.NewReader(body))
		w := httptest.NewRecorder()
		env.handler.ServeHTTP(w, req)
		return w
	}

	if w := post(`{"candidates": [{"name": "tree", "algorithm": "genetic"}]}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("unknown algorithm status = %d, want 503 (body %q)", w.Code, w.Body.String())
	}
	if w := post(`{"candidates": [], "extra": 1}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown field status = %d, want 400", w.Code)
	}
	if w := post(`{"candidates": []}`); w.Code != http.StatusBadRequest {
		t.Errorf("no candidates status = %d, want 400", w.Code)
	}

	w := post(`{"candidates": [{"name": "tree", "algorithm": "partitioner", "weight": 0.3}], "shadow_sample_threshold": 20}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("start status = %d, body %q", w.Code, w.Body.String())
	}
	sum := decode[experiment.Summary](t, w)
	if sum.ShadowSampleThreshold != 20 || len(sum.Variants) != 1 {
		t.Errorf("summary = %+v, want one variant with threshold 20", sum)
	}
	if w := post(`{"candidates": [{"name": "tree"}]}`); w.Code != http.StatusConflict {
		t.Errorf("duplicate start status = %d, want 409", w.Code)
	}

	if w := env.do(t, http.MethodDelete, "/v1/experiments/routing?promote=tree"); w.Code != http.StatusNoContent {
		t.Fatalf("stop status = %d, body %q", w.Code, w.Body.String())
	}
	if got := env.engine.Diagnostics()["routing"].Algorithm; got != config.AlgorithmPartitioner {
		t.Errorf("promoted algorithm = %q, want partitioner", got)
	}
	if w := env.do(t, http.MethodDelete, "/v1/experiments/routing"); w.Code != http.StatusNotFound {
		t.Errorf("second stop status = %d, want 404", w.Code)
	}
}

func TestOperatorActions(t *testing.T) {
	env := newTestEnv(t)
	env.startExperiment(t)

	w := env.do(t, http.MethodPost, "/v1/experiments/routing/variants/tree/promote")
	if w.Code != http.StatusOK {
		t.Fatalf("promote status = %d, body %q", w.Code, w.Body.String())
	}
	sum := decode[experiment.Summary](t, w)
	if v, _ := sum.Variant("tree"); v.Phase != experiment.PhaseActive {
		t.Errorf("tree phase = %v, want active", v.Phase)
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{"already active", "/v1/experiments/routing/variants/tree/promote", http.StatusConflict},
		{"baseline", "/v1/experiments/routing/variants/baseline/rollback", http.StatusBadRequest},
		{"unknown variant", "/v1/experiments/routing/variants/nope/rollback", http.StatusNotFound},
		{"unknown domain", "/v1/experiments/ranking/variants/tree/rollback", http.StatusNotFound},
		{"rollback active", "/v1/experiments/routing/variants/tree/rollback", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, http.MethodPost, tt.path); w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %q)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	if w := env.do(t, http.MethodGet, "/v1/experiments/routing/variants/tree/promote"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET on promote status = %d, want 405", w.Code)
	}
}

func TestPoliciesEndpoint(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Recommend(context.Background(), engine.Request{
		Domain:     "routing",
		Context:    bandit.Context{"bias": 1, "x": 0.2},
		Candidates: []bandit.Action{"a", "b"},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := decode[struct {
		Policies map[string]bandit.Diagnostics `json:"policies"`
	}](t, env.do(t, http.MethodGet, "/v1/policies"))
	if got.Policies["routing"].Algorithm != config.AlgorithmEstimator {
		t.Errorf("policies = %+v, want routing estimator", got.Policies)
	}
}

func TestTransitionsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, tr := range []*ledger.Transition{
		{ID: "1", Domain: "routing", Variant: "tree", RecordedAt: time.Now().Add(-time.Hour)},
		{ID: "2", Domain: "routing", Variant: "linear", RecordedAt: time.Now()},
		{ID: "3", Domain: "ranking", Variant: "tree", RecordedAt: time.Now()},
	} {
		if err := env.ledger.Store(ctx, tr); err != nil {
			t.Fatal(err)
		}
	}

	type response struct {
		Transitions []ledger.Transition `json:"transitions"`
	}
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"all", "", 3},
		{"by domain", "?domain=routing", 2},
		{"by variant", "?domain=routing&variant=tree", 1},
		{"limit", "?limit=1", 1},
		{"since", "?since=" + time.Now().Add(-time.Minute).UTC().Format(time.RFC3339), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/v1/transitions"+tt.query)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body %q", w.Code, w.Body.String())
			}
			if got := decode[response](t, w); len(got.Transitions) != tt.want {
				t.Errorf("got %d transitions, want %d", len(got.Transitions), tt.want)
			}
		})
	}

	for _, q := range []string{"?limit=-1", "?limit=x", "?since=yesterday"} {
		if w := env.do(t, http.MethodGet, "/v1/transitions"+q); w.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", q, w.Code)
		}
	}
}

func TestTransitionsEndpoint_LedgerDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.server.ledger = nil
	h := env.server.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/transitions", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestExportEndpoint(t *testing.T) {
	env := newTestEnv(t)

	got := decode[struct {
		Snapshots []snapshot.Meta `json:"snapshots"`
	}](t, env.do(t, http.MethodPost, "/v1/snapshots"))
	if len(got.Snapshots) != 0 {
		t.Errorf("expected no snapshots before any policy exists, got %d", len(got.Snapshots))
	}

	if _, err := env.engine.Recommend(context.Background(), engine.Request{
		Domain:     "routing",
		Context:    bandit.Context{"bias": 1, "x": 0.2},
		Candidates: []bandit.Action{"a", "b"},
	}); err != nil {
		t.Fatal(err)
	}
	w := env.do(t, http.MethodPost, "/v1/snapshots")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", w.Code, w.Body.String())
	}
	got = decode[struct {
		Snapshots []snapshot.Meta `json:"snapshots"`
	}](t, w)
	if len(got.Snapshots) != 1 || got.Snapshots[0].Domain != "routing" {
		t.Errorf("snapshots = %+v, want one for routing", got.Snapshots)
	}
}

func TestMiddleware(t *testing.T) {
	logger, err := logging.New(logging.Config{Level: "error", Writer: io.Discard})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("request id generated and echoed", func(t *testing.T) {
		var seen string
		h := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = logging.GetRequestID(r.Context())
		}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if seen == "" || w.Header().Get(RequestIDHeader) != seen {
			t.Errorf("context id %q, header %q", seen, w.Header().Get(RequestIDHeader))
		}
	})

	t.Run("request id reused", func(t *testing.T) {
		h := requestIDMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if got := w.Header().Get(RequestIDHeader); got != "abc" {
			t.Errorf("header = %q, want abc", got)
		}
	})

	t.Run("panic recovered", func(t *testing.T) {
		h := recoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", w.Code)
		}
	})

	t.Run("status captured", func(t *testing.T) {
		h := loggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusTeapot {
			t.Errorf("status = %d, want 418", w.Code)
		}
	})
}

func TestStartShutdown(t *testing.T) {
	env := newTestEnv(t)
	env.server.config.ListenAddress = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for env.server.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + env.server.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	if env.server.IsRunning() {
		t.Error("server should not be running after shutdown")
	}
}

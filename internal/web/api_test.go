package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/bigredeye/checkgate/api"
	"github.com/bigredeye/checkgate/internal/config"
	"github.com/bigredeye/checkgate/internal/dispatch"
	"github.com/bigredeye/checkgate/internal/executor/executortest"
	"github.com/bigredeye/checkgate/internal/pipeline"
	"github.com/bigredeye/checkgate/internal/runner"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const ciSpec = `
name: checkgate-ci
gates:
  - name: test
    run: cargo test --workspace
  - name: fmt
    run: cargo fmt --check
  - name: clippy
    run: cargo clippy
    when:
      events: [merge_request]
`

type staticSpecs struct {
	spec *pipeline.Spec
}

func (s staticSpecs) Current() *pipeline.Spec {
	return s.spec
}

type testEnv struct {
	server     *server
	router     *gin.Engine
	dispatcher *dispatch.Dispatcher
}

func newTestServer(t *testing.T, body string, tokens []string) *testEnv {
	t.Helper()

	spec, err := pipeline.Parse([]byte(body))
	if err != nil {
		t.Fatal("Failed to parse spec:", err)
	}

	conf := &config.Config{}
	conf.Runner.Shell = "sh"
	conf.Runner.MaxParallelGates = 4
	conf.Runner.GateTimeout = time.Hour
	conf.Server.Tokens = tokens

	runner, err := runner.New(conf, executortest.NewFake(), zap.NewNop())
	if err != nil {
		t.Fatal("Failed to build runner:", err)
	}

	dispatcher := dispatch.NewDispatcher(zap.NewNop(), staticSpecs{spec: spec}, runner, nil, nil)

	s, err := newServer(conf, zap.NewNop(), nil, dispatcher)
	if err != nil {
		t.Fatal("Failed to build server:", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		if err := dispatcher.Shutdown(ctx); err != nil {
			t.Error("Failed to shut down dispatcher:", err)
		}
		s.runs.Stop()
	})

	return &testEnv{server: s, router: s.router(), dispatcher: dispatcher}
}

func postJSON(env *testEnv, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func getPath(env *testEnv, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decodeEventResponse(t *testing.T, w *httptest.ResponseRecorder) *api.EventResponse {
	t.Helper()
	res := &api.EventResponse{}
	if err := json.Unmarshal(w.Body.Bytes(), res); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return res
}

func TestEventEndpoint(t *testing.T) {
	env := newTestServer(t, ciSpec, nil)

	w := postJSON(env, "/api/events", `{"event": "push", "branch": "main", "commit": "deadbeef"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status: got %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
	}

	res := decodeEventResponse(t, w)
	if !res.Ok {
		t.Fatalf("Response not ok: %s", res.Error)
	}
	if res.RunID == "" {
		t.Error("Run id is empty")
	}
	if diff := cmp.Diff([]string{"test", "fmt"}, res.Gates); diff != "" {
		t.Errorf("Bound gates mismatch (-want +got):\n%s", diff)
	}
}

func TestEventEndpointUnknownEvent(t *testing.T) {
	env := newTestServer(t, ciSpec, nil)

	w := postJSON(env, "/api/events", `{"event": "deploy", "branch": "main"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Status: got %d, want %d", w.Code, http.StatusBadRequest)
	}
	if res := decodeEventResponse(t, w); res.Ok {
		t.Error("Response is ok for an unknown event")
	}
}

func TestEventEndpointRequiresBranch(t *testing.T) {
	env := newTestServer(t, ciSpec, nil)

	w := postJSON(env, "/api/events", `{"event": "push"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Status: got %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestEventEndpointWithoutMatchingGates(t *testing.T) {
	const spec = `
gates:
  - name: clippy
    run: cargo clippy
    when:
      events: [merge_request]
`
	env := newTestServer(t, spec, nil)

	w := postJSON(env, "/api/events", `{"event": "push", "branch": "main"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status: got %d, want %d", w.Code, http.StatusOK)
	}

	res := decodeEventResponse(t, w)
	if !res.Ok {
		t.Fatalf("Response not ok: %s", res.Error)
	}
	if res.RunID != "" {
		t.Errorf("Run id: got %q, want empty", res.RunID)
	}
}

func TestEventEndpointTokens(t *testing.T) {
	env := newTestServer(t, ciSpec, []string{"secret"})

	w := postJSON(env, "/api/events", `{"event": "push", "branch": "main"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Status without token: got %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w = postJSON(env, "/api/events", `{"event": "push", "branch": "main"}`, map[string]string{"Token": "secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("Status with header token: got %d, want %d", w.Code, http.StatusOK)
	}

	w = postJSON(env, "/api/events", `{"token": "secret", "event": "push", "branch": "main"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status with body token: got %d, want %d", w.Code, http.StatusOK)
	}
}

func TestGitlabPushHook(t *testing.T) {
	env := newTestServer(t, ciSpec, nil)

	body := `{"object_kind": "push", "ref": "refs/heads/feature/fast", "after": "c0ffee00c0ffee00"}`
	w := postJSON(env, "/api/hooks/gitlab", body, map[string]string{"X-Gitlab-Event": "Push Hook"})
	if w.Code != http.StatusOK {
		t.Fatalf("Status: got %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
	}

	res := decodeEventResponse(t, w)
	if !res.Ok {
		t.Fatalf("Response not ok: %s", res.Error)
	}
	if res.RunID == "" {
		t.Error("Run id is empty")
	}
	if diff := cmp.Diff([]string{"test", "fmt"}, res.Gates); diff != "" {
		t.Errorf("Bound gates mismatch (-want +got):\n%s", diff)
	}
}

func TestGitlabPushHookIgnoresBranchDeletion(t *testing.T) {
	env := newTestServer(t, ciSpec, nil)

	body := `{"object_kind": "push", "ref": "refs/heads/gone", "after": "0000000000000000000000000000000000000000"}`
	w := postJSON(env, "/api/hooks/gitlab", body, map[string]string{"X-Gitlab-Event": "Push Hook"})
	if w.Code != http.StatusOK {
		t.Fatalf("Status: got %d, want %d", w.Code, http.StatusOK)
	}
	if res := decodeEventResponse(t, w); res.RunID != "" {
		t.Errorf("Run id: got %q, want empty", res.RunID)
	}
}

func TestGitlabMergeHook(t *testing.T) {
	env := newTestServer(t, ciSpec, nil)

	body := `{
		"object_kind": "merge_request",
		"object_attributes": {
			"action": "open",
			"source_branch": "feature/login",
			"last_commit": {"id": "deadbeef"}
		}
	}`
	w := postJSON(env, "/api/hooks/gitlab", body, map[string]string{"X-Gitlab-Event": "Merge Request Hook"})
	if w.Code != http.StatusOK {
		t.Fatalf("Status: got %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
	}

	res := decodeEventResponse(t, w)
	if res.RunID == "" {
		t.Error("Run id is empty")
	}
	// clippy is merge_request-only, so all three gates run.
	if diff := cmp.Diff([]string{"test", "fmt", "clippy"}, res.Gates); diff != "" {
		t.Errorf("Bound gates mismatch (-want +got):\n%s", diff)
	}
}

func TestGitlabMergeHookIgnoredAction(t *testing.T) {
	env := newTestServer(t, ciSpec, nil)

	body := `{
		"object_kind": "merge_request",
		"object_attributes": {
			"action": "close",
			"source_branch": "feature/login",
			"last_commit": {"id": "deadbeef"}
		}
	}`
	w := postJSON(env, "/api/hooks/gitlab", body, map[string]string{"X-Gitlab-Event": "Merge Request Hook"})
	if w.Code != http.StatusOK {
		t.Fatalf("Status: got %d, want %d", w.Code, http.StatusOK)
	}
	if res := decodeEventResponse(t, w); res.RunID != "" {
		t.Errorf("Run id: got %q, want empty", res.RunID)
	}
}

func TestGitlabHookToken(t *testing.T) {
	env := newTestServer(t, ciSpec, []string{"secret"})

	body := `{"object_kind": "push", "ref": "refs/heads/main", "after": "c0ffee"}`
	w := postJSON(env, "/api/hooks/gitlab", body, map[string]string{"X-Gitlab-Event": "Push Hook"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Status without token: got %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w = postJSON(env, "/api/hooks/gitlab", body, map[string]string{
		"X-Gitlab-Event": "Push Hook",
		"X-Gitlab-Token": "secret",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Status with token: got %d, want %d", w.Code, http.StatusOK)
	}
}

func TestGetRunFromCache(t *testing.T) {
	env := newTestServer(t, ciSpec, nil)

	cached := &api.RunResponse{
		Status: api.StatusOk(),
		Run:    &api.Run{ID: "run-1", Branch: "main", Status: "succeeded"},
	}
	env.server.runs.Set("run-1", cached, finishedRunCacheTTL)

	w := getPath(env, "/api/runs/run-1")
	if w.Code != http.StatusOK {
		t.Fatalf("Status: got %d, want %d", w.Code, http.StatusOK)
	}

	res := &api.RunResponse{}
	if err := json.Unmarshal(w.Body.Bytes(), res); err != nil {
		t.Fatal("Failed to decode response:", err)
	}
	if res.Run == nil || res.Run.ID != "run-1" {
		t.Errorf("Cached run not served: %+v", res.Run)
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestServer(t, ciSpec, nil)

	if w := postJSON(env, "/api/events", `{"event": "push", "branch": "main"}`, nil); w.Code != http.StatusOK {
		t.Fatalf("Failed to dispatch run: %d", w.Code)
	}

	w := getPath(env, "/api/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("Status: got %d, want %d", w.Code, http.StatusOK)
	}

	res := &api.StatsResponse{}
	if err := json.Unmarshal(w.Body.Bytes(), res); err != nil {
		t.Fatal("Failed to decode response:", err)
	}
	if res.Stats == nil || res.Stats.Dispatched != 1 {
		t.Errorf("Stats: %+v", res.Stats)
	}
}

func TestPing(t *testing.T) {
	env := newTestServer(t, ciSpec, nil)

	w := getPath(env, "/ping")
	if w.Code != http.StatusOK {
		t.Fatalf("Status: got %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.HasPrefix(w.Body.String(), "pong") {
		t.Errorf("Body: %q", w.Body.String())
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kestral/convoke/internal/agent"
	"github.com/kestral/convoke/internal/orchestrator"
	"github.com/kestral/convoke/internal/task"
	"go.uber.org/zap"
)

// echoVariant answers instantly with a fixed confidence, echoing any
// threaded context so workflow routes can be exercised end to end.
type echoVariant struct {
	capability task.CapabilityType
	confidence float64
}

func (v *echoVariant) Type() task.CapabilityType { return v.capability }
func (v *echoVariant) DisplayName() string       { return "Echo " + string(v.capability) }
func (v *echoVariant) Description() string       { return "test variant" }
func (v *echoVariant) SystemPrompt() string      { return "test" }
func (v *echoVariant) Capabilities() []string    { return []string{"echo"} }

func (v *echoVariant) ExecuteTask(_ context.Context, _ agent.Completer, t *task.Task) (*task.Response, error) {
	r := task.NewResponse("", v.capability)
	r.Response = "echo: " + t.Prompt
	r.Confidence = v.confidence
	return r, nil
}

// newTestHandler creates a Handler wired with an in-memory fleet (no
// Postgres/Redis/Neo4j/Qdrant).
func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	logger := zap.NewNop()

	pool := orchestrator.NewAgentPool(logger)
	for _, c := range task.CapabilityTypes() {
		pool.Add(agent.NewWithVariant(&echoVariant{capability: c, confidence: 0.9}, nil, logger))
	}
	orch := orchestrator.New(pool, 4, logger)
	t.Cleanup(orch.Shutdown)

	return NewHandler(orch, nil, logger).Router()
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestSubmitTask(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := postJSON(t, ts, "/api/tasks", map[string]interface{}{
		"type":   "research",
		"prompt": "look into it",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body task.Response
	decodeJSON(t, resp, &body)
	if body.Response != "echo: look into it" {
		t.Errorf("response = %q", body.Response)
	}
	if body.Confidence != 0.9 {
		t.Errorf("confidence = %v", body.Confidence)
	}
}

func TestSubmitTaskValidation(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := postJSON(t, ts, "/api/tasks", map[string]interface{}{
		"type": "psychic", "prompt": "x",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown type status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/tasks", map[string]interface{}{
		"type": "research",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing prompt status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestEnqueueAndFetchTask(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := postJSON(t, ts, "/api/tasks/enqueue", map[string]interface{}{
		"type":   "coding",
		"prompt": "write it",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var accepted map[string]string
	decodeJSON(t, resp, &accepted)
	id := accepted["task_id"]
	if id == "" {
		t.Fatal("no task id returned")
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		resp := getJSON(t, ts, "/api/tasks/"+id)
		if resp.StatusCode == http.StatusOK {
			var tk task.Task
			decodeJSON(t, resp, &tk)
			if tk.Status.Terminal() {
				if tk.Status != task.StatusCompleted {
					t.Errorf("task status = %v", tk.Status)
				}
				return
			}
		} else {
			resp.Body.Close()
		}
		if time.Now().After(deadline) {
			t.Fatal("queued task never finished")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := getJSON(t, ts, "/api/tasks/nope")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestExecuteWorkflow(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := postJSON(t, ts, "/api/workflows", map[string]interface{}{
		"name": "two step",
		"steps": []map[string]interface{}{
			{"id": "a", "type": "research", "prompt": "gather"},
			{"id": "b", "type": "analyst", "prompt": "analyze",
				"dependencies": []string{"a"}, "context_keys": []string{"a"}},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var exec task.Execution
	decodeJSON(t, resp, &exec)
	if exec.Status != task.ExecutionCompleted {
		t.Errorf("execution status = %v", exec.Status)
	}
	if len(exec.Results) != 2 {
		t.Errorf("results = %v", exec.Results)
	}
}

func TestExecuteWorkflowRejectsInvalid(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := postJSON(t, ts, "/api/workflows", map[string]interface{}{
		"name": "broken",
		"steps": []map[string]interface{}{
			{"id": "a", "type": "research", "prompt": "x", "dependencies": []string{"ghost"}},
		},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestExecuteCollaborative(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := postJSON(t, ts, "/api/workflows/collaborative", map[string]interface{}{
		"objective":    "build the thing",
		"capabilities": []string{"research", "coding"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var exec task.Execution
	decodeJSON(t, resp, &exec)
	if len(exec.Results) != 2 {
		t.Errorf("results = %v", exec.Results)
	}

	bad := postJSON(t, ts, "/api/workflows/collaborative", map[string]interface{}{
		"objective": "no phases",
	})
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("empty capabilities status = %d", bad.StatusCode)
	}
}

func TestListAgentsAndMetrics(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := getJSON(t, ts, "/api/agents")
	var agents []agent.Info
	decodeJSON(t, resp, &agents)
	if len(agents) != len(task.CapabilityTypes()) {
		t.Fatalf("agent count = %d", len(agents))
	}

	mresp := getJSON(t, ts, "/api/agents/"+agents[0].ID+"/metrics")
	defer mresp.Body.Close()
	if mresp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", mresp.StatusCode)
	}

	missing := getJSON(t, ts, "/api/agents/nope/metrics")
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing agent status = %d", missing.StatusCode)
	}
}

func TestSystemStatusRoute(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := getJSON(t, ts, "/api/status")
	var status orchestrator.SystemStatus
	decodeJSON(t, resp, &status)
	if status.AgentCount != len(task.CapabilityTypes()) {
		t.Errorf("agent count = %d", status.AgentCount)
	}
}

func TestDocumentRoutesWithoutRetrieval(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := postJSON(t, ts, "/api/documents", map[string]interface{}{
		"title": "t", "content": "c",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("index status = %d", resp.StatusCode)
	}

	search := postJSON(t, ts, "/api/documents/search", map[string]interface{}{"query": "q"})
	defer search.Body.Close()
	if search.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("search status = %d", search.StatusCode)
	}
}

package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kestral/convoke/internal/agent"
	"github.com/kestral/convoke/internal/task"
	"go.uber.org/zap"
)

// gauge tracks the high-water mark of concurrent executions.
type gauge struct {
	mu       sync.Mutex
	cur, max int
}

func (g *gauge) inc() {
	g.mu.Lock()
	g.cur++
	if g.cur > g.max {
		g.max = g.cur
	}
	g.mu.Unlock()
}

func (g *gauge) dec() {
	g.mu.Lock()
	g.cur--
	g.mu.Unlock()
}

func (g *gauge) high() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.max
}

// stubVariant is a scriptable agent variant for exercising the
// dispatcher and engine without a completion service.
type stubVariant struct {
	capability task.CapabilityType
	confidence float64
	delay      time.Duration
	respond    func(*task.Task) string
	onStart    func()
	track      *gauge
}

func (v *stubVariant) Type() task.CapabilityType { return v.capability }
func (v *stubVariant) DisplayName() string       { return "Stub " + string(v.capability) }
func (v *stubVariant) Description() string       { return "test variant" }
func (v *stubVariant) SystemPrompt() string      { return "test" }
func (v *stubVariant) Capabilities() []string    { return []string{"stub"} }

func (v *stubVariant) ExecuteTask(_ context.Context, _ agent.Completer, t *task.Task) (*task.Response, error) {
	if v.track != nil {
		v.track.inc()
		defer v.track.dec()
	}
	if v.onStart != nil {
		v.onStart()
	}
	if v.delay > 0 {
		time.Sleep(v.delay)
	}
	r := task.NewResponse("", v.capability)
	if v.respond != nil {
		r.Response = v.respond(t)
	} else {
		r.Response = "ok"
	}
	r.Confidence = v.confidence
	return r, nil
}

func poolWith(t *testing.T, variants ...*stubVariant) *AgentPool {
	t.Helper()
	pool := NewAgentPool(zap.NewNop())
	for _, v := range variants {
		pool.Add(agent.NewWithVariant(v, nil, zap.NewNop()))
	}
	return pool
}

func newTestOrchestrator(t *testing.T, maxConcurrent int, variants ...*stubVariant) *Orchestrator {
	t.Helper()
	o := New(poolWith(t, variants...), maxConcurrent, zap.NewNop())
	t.Cleanup(o.Shutdown)
	return o
}

func TestConfidenceThresholdPolicy(t *testing.T) {
	tests := []struct {
		confidence float64
		want       task.Status
	}{
		{0.0, task.StatusFailed},
		{0.5, task.StatusFailed},
		{0.500001, task.StatusCompleted},
		{1.0, task.StatusCompleted},
	}
	for _, tt := range tests {
		o := newTestOrchestrator(t, 2, &stubVariant{
			capability: task.CapabilityResearch,
			confidence: tt.confidence,
		})
		tk := task.New(task.CapabilityResearch, "score me", nil)
		o.dispatcher.Execute(context.Background(), tk)
		if tk.Status != tt.want {
			t.Errorf("confidence %v: status = %v, want %v", tt.confidence, tk.Status, tt.want)
		}
	}
}

func TestSubmitTaskNoAgentsRegistered(t *testing.T) {
	o := newTestOrchestrator(t, 2)

	resp := o.SubmitTask(context.Background(), task.CapabilityCoding, "write code", nil)
	if resp.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", resp.Confidence)
	}
	if resp.Reasoning != "no agent available" {
		t.Errorf("reasoning = %q", resp.Reasoning)
	}
	if !strings.Contains(strings.ToLower(resp.Response), "no available") {
		t.Errorf("response = %q, want to contain 'no available'", resp.Response)
	}
}

func TestSubmitTaskAllAgentsBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	o := newTestOrchestrator(t, 4, &stubVariant{
		capability: task.CapabilityResearch,
		confidence: 0.9,
		onStart: func() {
			close(started)
			<-release
		},
	})

	go o.SubmitTask(context.Background(), task.CapabilityResearch, "slow", nil)
	<-started

	resp := o.SubmitTask(context.Background(), task.CapabilityResearch, "blocked", nil)
	close(release)
	if resp.Confidence != 0 || resp.Reasoning != "no agent available" {
		t.Errorf("busy fleet response = %+v, want no-agent fallback", resp)
	}
}

func TestAdmissionBound(t *testing.T) {
	const ceiling = 2
	const submissions = 6

	g := &gauge{}
	variants := make([]*stubVariant, submissions)
	for i := range variants {
		variants[i] = &stubVariant{
			capability: task.CapabilityResearch,
			confidence: 0.9,
			delay:      50 * time.Millisecond,
			track:      g,
		}
	}
	o := newTestOrchestrator(t, ceiling, variants...)

	for i := 0; i < submissions; i++ {
		if err := o.EnqueueTask(context.Background(), task.New(task.CapabilityResearch, "bounded", nil)); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for o.dispatcher.CompletedCount() < submissions {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d tasks finished", o.dispatcher.CompletedCount(), submissions)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := g.high(); got > ceiling {
		t.Errorf("concurrent executions peaked at %d, ceiling %d", got, ceiling)
	}
}

func TestWorkflowDependencyOrdering(t *testing.T) {
	var mu sync.Mutex
	aDone := false
	violated := false

	o := newTestOrchestrator(t, 2,
		&stubVariant{
			capability: task.CapabilityResearch,
			confidence: 0.9,
			delay:      150 * time.Millisecond,
			respond: func(_ *task.Task) string {
				mu.Lock()
				aDone = true
				mu.Unlock()
				return "a done"
			},
		},
		&stubVariant{
			capability: task.CapabilityAnalyst,
			confidence: 0.9,
			onStart: func() {
				mu.Lock()
				if !aDone {
					violated = true
				}
				mu.Unlock()
			},
		},
	)

	wf := task.NewWorkflow("ordering", "", []task.WorkflowStep{
		{ID: "a", Type: task.CapabilityResearch, Prompt: "first"},
		{ID: "b", Type: task.CapabilityAnalyst, Prompt: "second", Dependencies: []string{"a"}},
	})
	exec, err := o.ExecuteWorkflow(context.Background(), wf)
	if err != nil {
		t.Fatal(err)
	}
	if violated {
		t.Error("dependent step started before its dependency resolved")
	}
	if exec.Status != task.ExecutionCompleted {
		t.Errorf("execution status = %v", exec.Status)
	}
}

func TestWorkflowPartialProgressOnLowConfidence(t *testing.T) {
	o := newTestOrchestrator(t, 2,
		&stubVariant{capability: task.CapabilityResearch, confidence: 0.0, respond: func(_ *task.Task) string {
			return "weak output"
		}},
		&stubVariant{capability: task.CapabilityAnalyst, confidence: 0.9, respond: func(tk *task.Task) string {
			return "built on: " + asString(tk.Context["a"])
		}},
	)

	wf := task.NewWorkflow("best effort", "", []task.WorkflowStep{
		{ID: "a", Type: task.CapabilityResearch, Prompt: "fails"},
		{ID: "b", Type: task.CapabilityAnalyst, Prompt: "continues",
			Dependencies: []string{"a"}, ContextKeys: []string{"a"}},
	})
	exec, err := o.ExecuteWorkflow(context.Background(), wf)
	if err != nil {
		t.Fatal(err)
	}

	if exec.Status != task.ExecutionCompleted {
		t.Fatalf("execution status = %v, want completed", exec.Status)
	}
	if _, ok := exec.Results["a"]; !ok {
		t.Error("missing result for low-confidence step")
	}
	b, ok := exec.Results["b"]
	if !ok {
		t.Fatal("dependent step did not run")
	}
	if b.Response != "built on: weak output" {
		t.Errorf("dependent step response = %q", b.Response)
	}
}

func TestWorkflowContextThreading(t *testing.T) {
	o := newTestOrchestrator(t, 2,
		&stubVariant{capability: task.CapabilityResearch, confidence: 0.9, respond: func(_ *task.Task) string {
			return "R"
		}},
		&stubVariant{capability: task.CapabilityAnalyst, confidence: 0.9, respond: func(tk *task.Task) string {
			return "A:" + asString(tk.Context["research"])
		}},
	)

	wf := task.NewWorkflow("threading", "", []task.WorkflowStep{
		{ID: "research", Type: task.CapabilityResearch, Prompt: "gather"},
		{ID: "analysis", Type: task.CapabilityAnalyst, Prompt: "analyze",
			Dependencies: []string{"research"}, ContextKeys: []string{"research"}},
	})
	exec, err := o.ExecuteWorkflow(context.Background(), wf)
	if err != nil {
		t.Fatal(err)
	}
	if got := exec.Results["analysis"].Response; got != "A:R" {
		t.Errorf("analysis response = %q, want A:R", got)
	}
}

func TestWorkflowDependencyTimeout(t *testing.T) {
	o := newTestOrchestrator(t, 2, &stubVariant{
		capability: task.CapabilityResearch,
		confidence: 0.9,
	})
	o.engine.dependencyTimeout = 300 * time.Millisecond

	// Declared out of order: b waits on a, but a is never reached
	// because the engine walks the declared order sequentially.
	wf := task.NewWorkflow("deadlock", "", []task.WorkflowStep{
		{ID: "b", Type: task.CapabilityResearch, Prompt: "late", Dependencies: []string{"a"}},
		{ID: "a", Type: task.CapabilityResearch, Prompt: "early"},
	})
	exec := o.engine.Execute(context.Background(), wf)

	if exec.Status != task.ExecutionFailed {
		t.Fatalf("execution status = %v, want failed", exec.Status)
	}
	if !strings.Contains(exec.Error, "never resolved") {
		t.Errorf("execution error = %q", exec.Error)
	}
}

func TestWorkflowSummaryFallback(t *testing.T) {
	// Analyst-only fleet: the closing summary needs a research agent,
	// so the run completes with the static placeholder.
	o := newTestOrchestrator(t, 2, &stubVariant{
		capability: task.CapabilityAnalyst,
		confidence: 0.9,
	})

	wf := task.NewWorkflow("no summarizer", "", []task.WorkflowStep{
		{ID: "a", Type: task.CapabilityAnalyst, Prompt: "analyze"},
	})
	exec, err := o.ExecuteWorkflow(context.Background(), wf)
	if err != nil {
		t.Fatal(err)
	}
	if exec.Status != task.ExecutionCompleted {
		t.Fatalf("execution status = %v", exec.Status)
	}
	if exec.Summary != summaryFallback {
		t.Errorf("summary = %q, want fallback", exec.Summary)
	}
}

func TestExecuteWorkflowRejectsInvalid(t *testing.T) {
	o := newTestOrchestrator(t, 2)
	wf := task.NewWorkflow("broken", "", []task.WorkflowStep{
		{ID: "a", Type: task.CapabilityResearch, Prompt: "x", Dependencies: []string{"ghost"}},
	})
	if _, err := o.ExecuteWorkflow(context.Background(), wf); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestPoolAvailableSkipsBusyAgents(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	first := &stubVariant{capability: task.CapabilityResearch, confidence: 0.9, onStart: func() {
		close(started)
		<-release
	}}
	second := &stubVariant{capability: task.CapabilityResearch, confidence: 0.9}
	pool := poolWith(t, first, second)

	agents := pool.Agents()
	go agents[0].Process(context.Background(), task.New(task.CapabilityResearch, "hold", nil))
	<-started
	defer close(release)

	picked := pool.Available(task.CapabilityResearch)
	if picked == nil {
		t.Fatal("no agent selected")
	}
	if picked.ID != agents[1].ID {
		t.Error("busy agent selected over idle one")
	}
}

func TestShutdownIdempotentAndStopsIntake(t *testing.T) {
	o := newTestOrchestrator(t, 2, &stubVariant{capability: task.CapabilityResearch, confidence: 0.9})
	o.Shutdown()
	o.Shutdown()

	if err := o.EnqueueTask(context.Background(), task.New(task.CapabilityResearch, "late", nil)); err == nil {
		t.Error("enqueue accepted after shutdown")
	}
}

func TestSystemStatus(t *testing.T) {
	o := newTestOrchestrator(t, 2,
		&stubVariant{capability: task.CapabilityResearch, confidence: 0.9},
		&stubVariant{capability: task.CapabilityCoding, confidence: 0.9},
	)
	o.SubmitTask(context.Background(), task.CapabilityResearch, "count me", nil)

	st := o.Status()
	if st.AgentCount != 2 {
		t.Errorf("agent count = %d", st.AgentCount)
	}
	if st.CompletedTasks != 1 {
		t.Errorf("completed tasks = %d", st.CompletedTasks)
	}
	if st.PerTypeCounts["research"] != 1 || st.PerTypeCounts["coding"] != 1 {
		t.Errorf("per-type counts = %v", st.PerTypeCounts)
	}
	if st.Metrics.TasksSubmitted != 1 || st.Metrics.TasksCompleted != 1 {
		t.Errorf("metrics = %+v", st.Metrics)
	}
}

func TestTaskLookup(t *testing.T) {
	o := newTestOrchestrator(t, 2, &stubVariant{capability: task.CapabilityResearch, confidence: 0.9})
	tk := task.New(task.CapabilityResearch, "find me", nil)
	o.dispatcher.Execute(context.Background(), tk)

	if got := o.Task(tk.ID); got == nil || got.ID != tk.ID {
		t.Errorf("task lookup failed for %s", tk.ID)
	}
	if got := o.Task("missing"); got != nil {
		t.Error("lookup of unknown id returned a task")
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

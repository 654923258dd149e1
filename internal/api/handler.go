package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kestral/convoke/internal/orchestrator"
	"github.com/kestral/convoke/internal/rag"
	"github.com/kestral/convoke/internal/task"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	orch      *orchestrator.Orchestrator
	retrieval *rag.Service
	logger    *zap.Logger
}

// NewHandler creates a new API handler. The retrieval service may be
// nil; document routes then report service unavailable.
func NewHandler(orch *orchestrator.Orchestrator, retrieval *rag.Service, logger *zap.Logger) *Handler {
	return &Handler{orch: orch, retrieval: retrieval, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/status", h.systemStatus)

		r.Post("/tasks", h.submitTask)
		r.Post("/tasks/enqueue", h.enqueueTask)
		r.Get("/tasks/{id}", h.getTask)

		r.Post("/workflows", h.executeWorkflow)
		r.Post("/workflows/collaborative", h.executeCollaborative)

		r.Get("/agents", h.listAgents)
		r.Get("/agents/{id}/metrics", h.agentMetrics)

		r.Post("/documents", h.indexDocument)
		r.Post("/documents/search", h.searchDocuments)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "convoke"})
}

func (h *Handler) systemStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Status())
}

type taskRequest struct {
	Type    string                 `json:"type"`
	Prompt  string                 `json:"prompt"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (h *Handler) submitTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	capability := task.CapabilityType(req.Type)
	if !capability.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown capability type: " + req.Type})
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return
	}

	resp := h.orch.SubmitTask(r.Context(), capability, req.Prompt, req.Context)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) enqueueTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return
	}

	t := task.New(task.CapabilityType(req.Type), req.Prompt, req.Context)
	if err := h.orch.EnqueueTask(r.Context(), t); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"task_id": t.ID,
		"status":  string(t.Status),
	})
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t := h.orch.Task(id)
	if t == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type workflowRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Steps       []task.WorkflowStep `json:"steps"`
}

func (h *Handler) executeWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	wf := task.NewWorkflow(req.Name, req.Description, req.Steps)
	exec, err := h.orch.ExecuteWorkflow(r.Context(), wf)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

type collaborativeRequest struct {
	Objective    string   `json:"objective"`
	Capabilities []string `json:"capabilities"`
}

func (h *Handler) executeCollaborative(w http.ResponseWriter, r *http.Request) {
	var req collaborativeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	capabilities := make([]task.CapabilityType, 0, len(req.Capabilities))
	for _, c := range req.Capabilities {
		capabilities = append(capabilities, task.CapabilityType(c))
	}
	exec, err := h.orch.ExecuteCollaborative(r.Context(), req.Objective, capabilities)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Agents())
}

func (h *Handler) agentMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	metrics, ok := h.orch.AgentMetrics(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

type documentRequest struct {
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (h *Handler) indexDocument(w http.ResponseWriter, r *http.Request) {
	if h.retrieval == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "retrieval not configured"})
		return
	}
	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Title == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title and content are required"})
		return
	}

	chunks, err := h.retrieval.Index(r.Context(), req.Title, req.Content, req.Metadata)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"title":  req.Title,
		"chunks": chunks,
	})
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

func (h *Handler) searchDocuments(w http.ResponseWriter, r *http.Request) {
	if h.retrieval == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "retrieval not configured"})
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}

	results, err := h.retrieval.Query(r.Context(), req.Query, req.TopK)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Package httpapi is the thin HTTP transport over the facade: JSON in, JSON
// out, error kinds mapped to status codes, and an SSE endpoint bridging the
// event bus. No business logic lives here.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/systemshift/codegraph/internal/api"
	"github.com/systemshift/codegraph/internal/core"
	"github.com/systemshift/codegraph/internal/ident"
	"github.com/systemshift/codegraph/internal/store"
)

// Server holds the HTTP handlers' dependencies.
type Server struct {
	svc *api.Service
}

// New creates the HTTP server layer.
func New(svc *api.Service) *Server {
	return &Server{svc: svc}
}

// Routes mounts every endpoint on a fresh router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", s.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/components", s.CreateComponent)
		r.Post("/components/bulk", s.CreateComponentsBulk)
		r.Get("/components", s.SearchComponents)
		r.Get("/components/{id}", s.GetComponent)
		r.Patch("/components/{id}", s.UpdateComponent)
		r.Delete("/components/{id}", s.DeleteComponent)
		r.Get("/components/{id}/relationships", s.GetComponentRelationships)
		r.Get("/components/{id}/dependencies", s.GetDependencyTree)
		r.Get("/components/{id}/comments", s.GetNodeComments)

		r.Post("/relationships", s.CreateRelationship)
		r.Post("/relationships/bulk", s.CreateRelationshipsBulk)
		r.Delete("/relationships/{id}", s.DeleteRelationship)

		r.Post("/tasks", s.CreateTask)
		r.Post("/tasks/bulk", s.CreateTasksBulk)
		r.Post("/tasks/search", s.SearchTasks)
		r.Get("/tasks", s.GetTasks)
		r.Get("/tasks/{id}", s.GetTask)
		r.Patch("/tasks/{id}/status", s.UpdateTaskStatus)
		r.Get("/tasks/{id}/comments", s.GetNodeComments)

		r.Post("/comments", s.CreateComment)
		r.Get("/comments/{id}", s.GetComment)
		r.Patch("/comments/{id}", s.UpdateComment)
		r.Delete("/comments/{id}", s.DeleteComment)

		r.Get("/overview/{codebase}", s.GetCodebaseOverview)

		r.Get("/changes", s.GetChangeHistory)
		r.Get("/changes/stats", s.GetHistoryStats)

		r.Post("/snapshots", s.CreateSnapshot)
		r.Get("/snapshots", s.ListSnapshots)
		r.Post("/snapshots/{id}/restore", s.RestoreSnapshot)
		r.Post("/replay", s.ReplayToTimestamp)

		r.Post("/broker/wait", s.WaitForCommand)
		r.Post("/broker/commands", s.SendCommand)
		r.Get("/broker/commands", s.GetPendingCommands)
		r.Delete("/broker/commands/{id}", s.CancelCommand)
		r.Get("/broker/agents", s.GetWaitingAgents)
		r.Delete("/broker/agents/{id}", s.CancelWait)
		r.Get("/broker/history", s.GetCommandHistory)

		r.Get("/events", s.StreamEvents)
	})

	return r
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateComponent handles POST /api/components.
func (s *Server) CreateComponent(w http.ResponseWriter, r *http.Request) {
	var in core.ComponentInput
	if !decode(w, r, &in) {
		return
	}
	comp, err := s.svc.CreateComponent(r.Context(), in)
	respond(w, comp, err, http.StatusCreated)
}

// CreateComponentsBulk handles POST /api/components/bulk.
func (s *Server) CreateComponentsBulk(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Components []core.ComponentInput `json:"components"`
	}
	if !decode(w, r, &in) {
		return
	}
	components, err := s.svc.CreateComponentsBulk(r.Context(), in.Components)
	respond(w, map[string]interface{}{"components": components, "count": len(components)}, err, http.StatusCreated)
}

// GetComponent handles GET /api/components/{id}.
func (s *Server) GetComponent(w http.ResponseWriter, r *http.Request) {
	comp, err := s.svc.GetComponent(r.Context(), chi.URLParam(r, "id"))
	respond(w, comp, err, http.StatusOK)
}

// SearchComponents handles GET /api/components.
func (s *Server) SearchComponents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	components, err := s.svc.SearchComponents(r.Context(), store.ComponentSearch{
		Kind:     core.ComponentKind(query.Get("kind")),
		Name:     query.Get("name"),
		Codebase: query.Get("codebase"),
	})
	respond(w, map[string]interface{}{"components": components, "count": len(components)}, err, http.StatusOK)
}

// UpdateComponent handles PATCH /api/components/{id}.
func (s *Server) UpdateComponent(w http.ResponseWriter, r *http.Request) {
	var patch core.ComponentPatch
	if !decode(w, r, &patch) {
		return
	}
	comp, err := s.svc.UpdateComponent(r.Context(), chi.URLParam(r, "id"), patch)
	respond(w, comp, err, http.StatusOK)
}

// DeleteComponent handles DELETE /api/components/{id}.
func (s *Server) DeleteComponent(w http.ResponseWriter, r *http.Request) {
	err := s.svc.DeleteComponent(r.Context(), chi.URLParam(r, "id"))
	respond(w, map[string]bool{"deleted": err == nil}, err, http.StatusOK)
}

// GetComponentRelationships handles GET /api/components/{id}/relationships.
func (s *Server) GetComponentRelationships(w http.ResponseWriter, r *http.Request) {
	direction := core.Direction(r.URL.Query().Get("direction"))
	rels, err := s.svc.GetComponentRelationships(r.Context(), chi.URLParam(r, "id"), direction)
	respond(w, map[string]interface{}{"relationships": rels, "count": len(rels)}, err, http.StatusOK)
}

// GetDependencyTree handles GET /api/components/{id}/dependencies.
func (s *Server) GetDependencyTree(w http.ResponseWriter, r *http.Request) {
	maxDepth, _ := strconv.Atoi(r.URL.Query().Get("maxDepth"))
	paths, err := s.svc.GetDependencyTree(r.Context(), chi.URLParam(r, "id"), maxDepth)
	respond(w, map[string]interface{}{"paths": paths, "count": len(paths)}, err, http.StatusOK)
}

// CreateRelationship handles POST /api/relationships.
func (s *Server) CreateRelationship(w http.ResponseWriter, r *http.Request) {
	var in core.RelationshipInput
	if !decode(w, r, &in) {
		return
	}
	rel, err := s.svc.CreateRelationship(r.Context(), in)
	respond(w, rel, err, http.StatusCreated)
}

// CreateRelationshipsBulk handles POST /api/relationships/bulk.
func (s *Server) CreateRelationshipsBulk(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Relationships []core.RelationshipInput `json:"relationships"`
	}
	if !decode(w, r, &in) {
		return
	}
	rels, err := s.svc.CreateRelationshipsBulk(r.Context(), in.Relationships)
	respond(w, map[string]interface{}{"relationships": rels, "count": len(rels)}, err, http.StatusCreated)
}

// DeleteRelationship handles DELETE /api/relationships/{id}.
func (s *Server) DeleteRelationship(w http.ResponseWriter, r *http.Request) {
	err := s.svc.DeleteRelationship(r.Context(), chi.URLParam(r, "id"))
	respond(w, map[string]bool{"deleted": err == nil}, err, http.StatusOK)
}

// CreateTask handles POST /api/tasks.
func (s *Server) CreateTask(w http.ResponseWriter, r *http.Request) {
	var in core.TaskInput
	if !decode(w, r, &in) {
		return
	}
	task, err := s.svc.CreateTask(r.Context(), in)
	respond(w, task, err, http.StatusCreated)
}

// CreateTasksBulk handles POST /api/tasks/bulk.
func (s *Server) CreateTasksBulk(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Tasks []core.TaskInput `json:"tasks"`
	}
	if !decode(w, r, &in) {
		return
	}
	tasks, err := s.svc.CreateTasksBulk(r.Context(), in.Tasks)
	respond(w, map[string]interface{}{"tasks": tasks, "count": len(tasks)}, err, http.StatusCreated)
}

// GetTask handles GET /api/tasks/{id}.
func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.svc.GetTask(r.Context(), chi.URLParam(r, "id"))
	respond(w, task, err, http.StatusOK)
}

// GetTasks handles GET /api/tasks.
func (s *Server) GetTasks(w http.ResponseWriter, r *http.Request) {
	status := core.TaskStatus(r.URL.Query().Get("status"))
	tasks, err := s.svc.GetTasks(r.Context(), status)
	respond(w, map[string]interface{}{"tasks": tasks, "count": len(tasks)}, err, http.StatusOK)
}

// SearchTasks handles POST /api/tasks/search.
func (s *Server) SearchTasks(w http.ResponseWriter, r *http.Request) {
	var search core.TaskSearch
	if !decode(w, r, &search) {
		return
	}
	tasks, err := s.svc.SearchTasks(r.Context(), search)
	respond(w, map[string]interface{}{"tasks": tasks, "count": len(tasks)}, err, http.StatusOK)
}

// UpdateTaskStatus handles PATCH /api/tasks/{id}/status.
func (s *Server) UpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status   core.TaskStatus `json:"status"`
		Progress *float64        `json:"progress,omitempty"`
	}
	if !decode(w, r, &in) {
		return
	}
	task, err := s.svc.UpdateTaskStatus(r.Context(), chi.URLParam(r, "id"), in.Status, in.Progress)
	respond(w, task, err, http.StatusOK)
}

// CreateComment handles POST /api/comments.
func (s *Server) CreateComment(w http.ResponseWriter, r *http.Request) {
	var in core.CommentInput
	if !decode(w, r, &in) {
		return
	}
	comment, err := s.svc.CreateComment(r.Context(), in)
	respond(w, comment, err, http.StatusCreated)
}

// GetComment handles GET /api/comments/{id}.
func (s *Server) GetComment(w http.ResponseWriter, r *http.Request) {
	comment, err := s.svc.GetComment(r.Context(), chi.URLParam(r, "id"))
	respond(w, comment, err, http.StatusOK)
}

// GetNodeComments handles GET /api/{components,tasks}/{id}/comments.
func (s *Server) GetNodeComments(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	comments, err := s.svc.GetNodeComments(r.Context(), chi.URLParam(r, "id"), limit)
	respond(w, map[string]interface{}{"comments": comments, "count": len(comments)}, err, http.StatusOK)
}

// UpdateComment handles PATCH /api/comments/{id}.
func (s *Server) UpdateComment(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Content  string        `json:"content"`
		Metadata core.Metadata `json:"metadata,omitempty"`
	}
	if !decode(w, r, &in) {
		return
	}
	comment, err := s.svc.UpdateComment(r.Context(), chi.URLParam(r, "id"), in.Content, in.Metadata)
	respond(w, comment, err, http.StatusOK)
}

// DeleteComment handles DELETE /api/comments/{id}.
func (s *Server) DeleteComment(w http.ResponseWriter, r *http.Request) {
	err := s.svc.DeleteComment(r.Context(), chi.URLParam(r, "id"))
	respond(w, map[string]bool{"deleted": err == nil}, err, http.StatusOK)
}

// GetCodebaseOverview handles GET /api/overview/{codebase}.
func (s *Server) GetCodebaseOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.svc.GetCodebaseOverview(r.Context(), chi.URLParam(r, "codebase"))
	respond(w, map[string]interface{}{"overview": overview}, err, http.StatusOK)
}

// GetChangeHistory handles GET /api/changes.
func (s *Server) GetChangeHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	changes, err := s.svc.GetChangeHistory(r.Context(), api.ChangeHistoryRequest{
		EntityID:  query.Get("entityId"),
		Operation: core.Operation(query.Get("operation")),
		Limit:     limit,
	})
	respond(w, map[string]interface{}{"changes": changes, "count": len(changes)}, err, http.StatusOK)
}

// GetHistoryStats handles GET /api/changes/stats.
func (s *Server) GetHistoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.GetHistoryStats(r.Context())
	respond(w, stats, err, http.StatusOK)
}

// CreateSnapshot handles POST /api/snapshots.
func (s *Server) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	if !decode(w, r, &in) {
		return
	}
	snap, err := s.svc.CreateSnapshot(r.Context(), in.Name, in.Description)
	respond(w, snap, err, http.StatusCreated)
}

// ListSnapshots handles GET /api/snapshots.
func (s *Server) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.svc.ListSnapshots(r.Context())
	respond(w, map[string]interface{}{"snapshots": snaps, "count": len(snaps)}, err, http.StatusOK)
}

// RestoreSnapshot handles POST /api/snapshots/{id}/restore.
func (s *Server) RestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dryRun") == "true"
	result, err := s.svc.RestoreSnapshot(r.Context(), chi.URLParam(r, "id"), dryRun)
	respond(w, result, err, http.StatusOK)
}

// ReplayToTimestamp handles POST /api/replay.
func (s *Server) ReplayToTimestamp(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Timestamp string `json:"timestamp"`
		DryRun    bool   `json:"dryRun,omitempty"`
	}
	if !decode(w, r, &in) {
		return
	}
	target, err := ident.Parse(in.Timestamp)
	if err != nil {
		respondError(w, core.Validation("timestamp must be RFC 3339: %v", err))
		return
	}
	report, err := s.svc.ReplayToTimestamp(r.Context(), target, in.DryRun)
	respond(w, report, err, http.StatusOK)
}

// WaitForCommand handles POST /api/broker/wait. The request blocks until a
// command is delivered, the wait is cancelled, or the timeout elapses;
// closing the connection cancels the wait through the request context.
func (s *Server) WaitForCommand(w http.ResponseWriter, r *http.Request) {
	var req api.WaitRequest
	if !decode(w, r, &req) {
		return
	}
	cmd, err := s.svc.WaitForCommand(r.Context(), req)
	respond(w, cmd, err, http.StatusOK)
}

// SendCommand handles POST /api/broker/commands.
func (s *Server) SendCommand(w http.ResponseWriter, r *http.Request) {
	var in core.CommandInput
	if !decode(w, r, &in) {
		return
	}
	result, err := s.svc.SendCommand(r.Context(), in)
	respond(w, result, err, http.StatusOK)
}

// GetPendingCommands handles GET /api/broker/commands.
func (s *Server) GetPendingCommands(w http.ResponseWriter, r *http.Request) {
	pending := s.svc.GetPendingCommands(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"commands": pending, "count": len(pending)})
}

// CancelCommand handles DELETE /api/broker/commands/{id}.
func (s *Server) CancelCommand(w http.ResponseWriter, r *http.Request) {
	err := s.svc.CancelCommand(r.Context(), chi.URLParam(r, "id"))
	respond(w, map[string]bool{"cancelled": err == nil}, err, http.StatusOK)
}

// GetWaitingAgents handles GET /api/broker/agents.
func (s *Server) GetWaitingAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.svc.GetWaitingAgents(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": agents, "count": len(agents)})
}

// CancelWait handles DELETE /api/broker/agents/{id}.
func (s *Server) CancelWait(w http.ResponseWriter, r *http.Request) {
	err := s.svc.CancelWait(r.Context(), chi.URLParam(r, "id"))
	respond(w, map[string]bool{"cancelled": err == nil}, err, http.StatusOK)
}

// GetCommandHistory handles GET /api/broker/history.
func (s *Server) GetCommandHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	history := s.svc.GetCommandHistory(r.Context(), limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": history, "count": len(history)})
}

// StreamEvents handles GET /api/events: bus events as server-sent events.
// The subscriber is removed when the client disconnects.
func (s *Server) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	var names []string
	if raw := r.URL.Query().Get("names"); raw != "" {
		names = splitCSV(raw)
	}
	sub := s.svc.Bus.Subscribe(names...)
	defer s.svc.Bus.Unsubscribe(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-sub.C:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: " + event.Name + "\ndata: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func splitCSV(raw string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, core.Validation("invalid request body: %v", err))
		return false
	}
	return true
}

func respond(w http.ResponseWriter, payload interface{}, err error, status int) {
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, status, payload)
}

func respondError(w http.ResponseWriter, err error) {
	kind := core.ErrInternal
	message := err.Error()
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		kind = coreErr.Kind
		message = coreErr.Message
	}
	writeJSON(w, statusFor(kind), map[string]string{
		"error": message,
		"kind":  string(kind),
	})
}

func statusFor(kind core.ErrorKind) int {
	switch kind {
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrValidation:
		return http.StatusBadRequest
	case core.ErrConflict:
		return http.StatusConflict
	case core.ErrWaitTimeout:
		return http.StatusRequestTimeout
	case core.ErrWaitCancelled:
		return http.StatusConflict
	case core.ErrBackend:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// ABOUTME: HTTP API handlers for managing pooled agents
// ABOUTME: CRUD, lifecycle, behaviors, interactive auth, tools, events and parsed items

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/agent"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBodyBytes     = 1 << 20
)

// CreateAgentRequest is the JSON request body for POST /api/agents.
type CreateAgentRequest struct {
	Name        string            `json:"name"`
	Credentials store.Credentials `json:"credentials"`
	Behaviors   store.Behaviors   `json:"behaviors,omitempty"`
	Start       bool              `json:"start,omitempty"`
}

// SetBehaviorsRequest is the JSON request body for PUT /api/agents/{id}/behaviors.
type SetBehaviorsRequest struct {
	Behaviors store.Behaviors `json:"behaviors"`
}

// AuthSubmitRequest is the JSON request body for POST /api/agents/{id}/auth/submit.
type AuthSubmitRequest struct {
	Code     string `json:"code"`
	Password string `json:"password,omitempty"`
}

// ToolResponse wraps the result of POST /api/agents/{id}/tools/{tool}.
type ToolResponse struct {
	Tool   string `json:"tool"`
	Result any    `json:"result"`
}

// handleListAgents handles GET /api/agents.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	recs, err := g.manager.List(r.Context())
	if err != nil {
		g.sendAgentError(w, err)
		return
	}
	if recs == nil {
		recs = []*store.AgentRecord{}
	}
	g.writeJSON(w, http.StatusOK, recs)
}

// handleCreateAgent handles POST /api/agents.
func (g *Gateway) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if !g.decodeBody(w, r, &req) {
		return
	}

	rec, err := g.manager.Create(r.Context(), req.Name, req.Credentials, req.Behaviors)
	if err != nil {
		g.sendAgentError(w, err)
		return
	}

	if req.Start {
		if err := g.manager.Start(r.Context(), rec.ID); err != nil {
			g.sendAgentError(w, err)
			return
		}
		if rec, err = g.manager.Get(r.Context(), rec.ID); err != nil {
			g.sendAgentError(w, err)
			return
		}
	}
	g.writeJSON(w, http.StatusCreated, rec)
}

// handleGetAgent handles GET /api/agents/{id}.
func (g *Gateway) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	rec, err := g.manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		g.sendAgentError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, rec)
}

// handleDeleteAgent handles DELETE /api/agents/{id}.
func (g *Gateway) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := g.manager.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		g.sendAgentError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleStartAgent(w http.ResponseWriter, r *http.Request) {
	g.lifecycle(w, r, g.manager.Start)
}

func (g *Gateway) handleStopAgent(w http.ResponseWriter, r *http.Request) {
	g.lifecycle(w, r, g.manager.Stop)
}

func (g *Gateway) handleRestartAgent(w http.ResponseWriter, r *http.Request) {
	g.lifecycle(w, r, g.manager.Restart)
}

// lifecycle runs op on the agent and responds with its record afterwards.
// A session agent that needs interactive auth ends in the error state
// without op failing, so callers read status and last_error from the body.
func (g *Gateway) lifecycle(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	id := chi.URLParam(r, "id")
	if err := op(r.Context(), id); err != nil {
		g.sendAgentError(w, err)
		return
	}
	g.handleGetAgent(w, r)
}

// handleSetBehaviors handles PUT /api/agents/{id}/behaviors.
func (g *Gateway) handleSetBehaviors(w http.ResponseWriter, r *http.Request) {
	var req SetBehaviorsRequest
	if !g.decodeBody(w, r, &req) {
		return
	}

	rec, err := g.manager.SetBehaviors(r.Context(), chi.URLParam(r, "id"), req.Behaviors)
	if err != nil {
		g.sendAgentError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, rec)
}

// handleAuthStart handles POST /api/agents/{id}/auth/start.
func (g *Gateway) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	if err := g.manager.AuthStart(r.Context(), chi.URLParam(r, "id")); err != nil {
		g.sendAgentError(w, err)
		return
	}
	g.writeJSON(w, http.StatusAccepted, map[string]string{"status": "code_sent"})
}

// handleAuthSubmit handles POST /api/agents/{id}/auth/submit.
func (g *Gateway) handleAuthSubmit(w http.ResponseWriter, r *http.Request) {
	var req AuthSubmitRequest
	if !g.decodeBody(w, r, &req) {
		return
	}
	if req.Code == "" {
		g.sendJSONError(w, http.StatusBadRequest, "code is required")
		return
	}

	g.lifecycle(w, r, func(ctx context.Context, id string) error {
		return g.manager.AuthSubmit(ctx, id, req.Code, req.Password)
	})
}

// handleListTools handles GET /api/tools.
func (g *Gateway) handleListTools(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string][]string{"tools": agent.Tools()})
}

// handleCallTool handles POST /api/agents/{id}/tools/{tool}.
// The request body is the tool's JSON arguments and may be empty.
func (g *Gateway) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var args json.RawMessage
	if r.ContentLength != 0 {
		if !g.decodeBody(w, r, &args) {
			return
		}
	}

	tool := chi.URLParam(r, "tool")
	result, err := g.manager.CallTool(r.Context(), chi.URLParam(r, "id"), tool, args)
	if err != nil {
		g.sendAgentError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, ToolResponse{Tool: tool, Result: result})
}

// handleListEvents handles GET /api/events and GET /api/agents/{id}/events.
// Events are returned newest first.
func (g *Gateway) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := g.parseLimit(w, r)
	if !ok {
		return
	}

	agentID := chi.URLParam(r, "id")
	if agentID == "" {
		agentID = r.URL.Query().Get("agent_id")
	}
	if agentID != "" {
		if _, err := g.manager.Get(r.Context(), agentID); err != nil {
			g.sendAgentError(w, err)
			return
		}
	}

	events, err := g.manager.Events(r.Context(), agentID, limit)
	if err != nil {
		g.sendAgentError(w, err)
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	g.writeJSON(w, http.StatusOK, events)
}

// handleListParsed handles GET /api/agents/{id}/parsed.
func (g *Gateway) handleListParsed(w http.ResponseWriter, r *http.Request) {
	limit, ok := g.parseLimit(w, r)
	if !ok {
		return
	}

	agentID := chi.URLParam(r, "id")
	if _, err := g.manager.Get(r.Context(), agentID); err != nil {
		g.sendAgentError(w, err)
		return
	}

	items, err := g.manager.Parsed(r.Context(), agentID, limit)
	if err != nil {
		g.sendAgentError(w, err)
		return
	}
	if items == nil {
		items = []*store.ParsedItem{}
	}
	g.writeJSON(w, http.StatusOK, items)
}

// parseLimit reads ?limit= (default 50, capped at 500).
func (g *Gateway) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 {
		g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(limit, maxListLimit), true
}

// decodeBody decodes a JSON body into dst, writing a 400 on failure.
func (g *Gateway) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// errorStatus maps an agent pool error to an HTTP status and client message.
func errorStatus(err error) (int, string) {
	var transportErr *agent.TransportError
	var persistErr *agent.PersistenceError

	switch {
	case errors.Is(err, agent.ErrNotFound):
		return http.StatusNotFound, "agent not found"
	case errors.Is(err, agent.ErrInvalidArgument),
		errors.Is(err, agent.ErrInvalidCredentials),
		errors.Is(err, agent.ErrInvalidBehavior),
		errors.Is(err, agent.ErrUnsupported),
		errors.Is(err, agent.ErrUnknownTool):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, agent.ErrNotRunning),
		errors.Is(err, agent.ErrAuthNotStarted),
		errors.Is(err, agent.ErrPasswordRequired):
		return http.StatusConflict, err.Error()
	case errors.Is(err, agent.ErrConfiguration):
		return http.StatusServiceUnavailable, err.Error()
	case errors.As(err, &transportErr):
		return http.StatusBadGateway, err.Error()
	case errors.As(err, &persistErr):
		return http.StatusInternalServerError, "internal server error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// sendAgentError logs server-side failures and writes the mapped JSON error.
func (g *Gateway) sendAgentError(w http.ResponseWriter, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		g.logger.Error("agent operation failed", "status", status, "error", err)
	}
	g.sendJSONError(w, status, msg)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// Package server exposes the orchestrator over HTTP. It provides REST
// endpoints for session management, server-rendered terminal output
// fragments, and full-text search over the output log.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/zjrosen/agentdeck/internal/agent"
	"github.com/zjrosen/agentdeck/internal/log"
	"github.com/zjrosen/agentdeck/internal/outputlog"
	"github.com/zjrosen/agentdeck/internal/session"
)

// maxHistoryLimit caps history page sizes.
const maxHistoryLimit = 200

// maxImageUploadBytes caps image paste uploads.
const maxImageUploadBytes = 10 << 20

// Handler provides HTTP endpoints for orchestrator operations.
type Handler struct {
	orch *session.Orchestrator
	// debugDir is the working directory for debug sessions, normally the
	// server's own checkout so the debugging agent can read its docs.
	debugDir string
}

// HandlerConfig configures the API handler.
type HandlerConfig struct {
	// Orchestrator manages session lifecycle (required).
	Orchestrator *session.Orchestrator
	// DebugDir is where debug sessions are spawned. Defaults to the
	// process working directory.
	DebugDir string
}

// NewHandler creates a new API handler wrapping the given orchestrator.
func NewHandler(orch *session.Orchestrator) *Handler {
	return NewHandlerWithConfig(HandlerConfig{Orchestrator: orch})
}

// NewHandlerWithConfig creates a new API handler with full configuration.
func NewHandlerWithConfig(cfg HandlerConfig) *Handler {
	debugDir := cfg.DebugDir
	if debugDir == "" {
		if wd, err := os.Getwd(); err == nil {
			debugDir = wd
		}
	}
	return &Handler{orch: cfg.Orchestrator, debugDir: debugDir}
}

// Routes returns an http.Handler with all API routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Session CRUD
	mux.HandleFunc("POST /api/v1/sessions", h.Create)
	mux.HandleFunc("GET /api/v1/sessions", h.List)
	mux.HandleFunc("GET /api/v1/sessions/slash-commands", h.SlashCommands)
	mux.HandleFunc("GET /api/v1/sessions/recent-dirs", h.RecentDirs)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.Get)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.Delete)

	// Session interaction
	mux.HandleFunc("POST /api/v1/sessions/{id}/input", h.SendInput)
	mux.HandleFunc("POST /api/v1/sessions/{id}/select", h.SendSelection)
	mux.HandleFunc("POST /api/v1/sessions/{id}/image", h.PasteImage)
	mux.HandleFunc("POST /api/v1/sessions/{id}/debug", h.Debug)
	mux.HandleFunc("GET /api/v1/sessions/{id}/output", h.Output)

	// Scrollback search
	mux.HandleFunc("GET /api/v1/search", h.Search)

	// Health check
	mux.HandleFunc("GET /api/v1/health", h.Health)

	return mux
}

// === Request/Response Types ===

// CreateSessionRequest is the request body for creating a session.
type CreateSessionRequest struct {
	// WorkingDir is the directory the agent starts in (required).
	WorkingDir string `json:"working_dir"`
	// Title seeds the session id slug (optional).
	Title string `json:"title,omitempty"`
	// AgentType selects the agent CLI (optional, defaults to claude).
	AgentType string `json:"agent_type,omitempty"`
}

// SendInputRequest is the request body for sending input.
type SendInputRequest struct {
	Text string `json:"text"`
}

// SendSelectionRequest is the request body for selecting a list item.
type SendSelectionRequest struct {
	ItemNumber   int    `json:"item_number"`
	FreeformText string `json:"freeform_text,omitempty"`
}

// DebugSessionRequest is the request body for spawning a debug session.
type DebugSessionRequest struct {
	Description string `json:"description"`
}

// StatusResponse is the generic acknowledgement body.
type StatusResponse struct {
	Status string `json:"status"`
}

// HistoryChunkResponse is one rendered scrollback chunk.
type HistoryChunkResponse struct {
	TS      float64 `json:"ts"`
	Content string  `json:"content"`
}

// HistoryResponse is a page of rendered scrollback, oldest first.
// EarliestTS is null when the page is empty.
type HistoryResponse struct {
	Chunks     []HistoryChunkResponse `json:"chunks"`
	EarliestTS *float64               `json:"earliest_ts"`
}

// SearchResponse wraps full-text search results.
type SearchResponse struct {
	Results []outputlog.SearchResult `json:"results"`
}

// HealthResponse is the health check response body.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// === Handlers ===

// Create handles POST /api/v1/sessions.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return
	}
	if req.WorkingDir == "" {
		h.writeError(w, http.StatusBadRequest, "validation_error", "working_dir is required", "")
		return
	}

	kind := agent.KindClaude
	if req.AgentType != "" {
		parsed, err := agent.ParseKind(req.AgentType)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_error", err.Error(), "")
			return
		}
		kind = parsed
	}

	info, err := h.orch.Create(r.Context(), req.WorkingDir, req.Title, kind)
	if err != nil {
		h.writeSessionError(w, "create_failed", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, info)
}

// List handles GET /api/v1/sessions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	sessions := h.orch.List(r.Context())
	if sessions == nil {
		sessions = []session.SessionInfo{}
	}
	h.writeJSON(w, http.StatusOK, sessions)
}

// Get handles GET /api/v1/sessions/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	info, err := h.orch.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeSessionError(w, "get_failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// SlashCommands handles GET /api/v1/sessions/slash-commands.
// Without a session_id the list is empty; with one it is the slash
// commands of that session's agent.
func (h *Handler) SlashCommands(w http.ResponseWriter, r *http.Request) {
	commands := []agent.SlashCommand{}
	if id := r.URL.Query().Get("session_id"); id != "" {
		info, err := h.orch.Get(r.Context(), id)
		if err != nil {
			h.writeSessionError(w, "get_failed", err)
			return
		}
		adapter, err := agent.For(info.AgentKind)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), "")
			return
		}
		commands = adapter.SlashCommands()
	}
	h.writeJSON(w, http.StatusOK, commands)
}

// RecentDirs handles GET /api/v1/sessions/recent-dirs.
func (h *Handler) RecentDirs(w http.ResponseWriter, r *http.Request) {
	dirs := h.orch.RecentDirs()
	if dirs == nil {
		dirs = []string{}
	}
	h.writeJSON(w, http.StatusOK, dirs)
}

// SendInput handles POST /api/v1/sessions/{id}/input.
func (h *Handler) SendInput(w http.ResponseWriter, r *http.Request) {
	var req SendInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return
	}
	if err := h.orch.SendInput(r.Context(), r.PathValue("id"), req.Text); err != nil {
		h.writeSessionError(w, "input_failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "sent"})
}

// SendSelection handles POST /api/v1/sessions/{id}/select.
func (h *Handler) SendSelection(w http.ResponseWriter, r *http.Request) {
	var req SendSelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return
	}
	if err := h.orch.SendSelection(r.Context(), r.PathValue("id"), req.ItemNumber, req.FreeformText); err != nil {
		h.writeSessionError(w, "select_failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "selected"})
}

var imageExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
}

// PasteImage handles POST /api/v1/sessions/{id}/image.
// Accepts a multipart upload under the "file" field, writes it to a temp
// file, and pastes it into the session via the system clipboard.
func (h *Handler) PasteImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := r.ParseMultipartForm(maxImageUploadBytes); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_upload", "Invalid multipart body", err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_upload", "Missing file field", err.Error())
		return
	}
	defer func() { _ = file.Close() }()

	ct := header.Header.Get("Content-Type")
	ext, ok := imageExtensions[ct]
	if !ok {
		h.writeError(w, http.StatusBadRequest, "unsupported_type", fmt.Sprintf("Unsupported image type: %s", ct), "")
		return
	}
	format := "png"
	if ext == "jpg" {
		format = "jpeg"
	}

	tmpPath := filepath.Join(os.TempDir(), fmt.Sprintf("paste-%s.%s", id, ext))
	out, err := os.Create(tmpPath) //nolint:gosec // G304: name derived from validated session id
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "upload_failed", "Failed to stage image", err.Error())
		return
	}
	defer func() { _ = os.Remove(tmpPath) }()

	_, copyErr := io.Copy(out, file)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		h.writeError(w, http.StatusInternalServerError, "upload_failed", "Failed to stage image", "")
		return
	}

	if err := h.orch.PasteImage(r.Context(), id, tmpPath, format); err != nil {
		h.writeSessionError(w, "paste_failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "pasted"})
}

// Delete handles DELETE /api/v1/sessions/{id}.
// Alive sessions are force-killed; dead ones are removed from tracking.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, err := h.orch.Get(r.Context(), id)
	if err != nil {
		h.writeSessionError(w, "delete_failed", err)
		return
	}

	if info.IsAlive {
		if err := h.orch.Kill(r.Context(), id); err != nil {
			h.writeSessionError(w, "delete_failed", err)
			return
		}
		h.writeJSON(w, http.StatusOK, StatusResponse{Status: "killed"})
		return
	}

	if err := h.orch.RemoveDead(id); err != nil {
		h.writeSessionError(w, "delete_failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "removed"})
}

// Debug handles POST /api/v1/sessions/{id}/debug.
// Spawns a fresh session in the server checkout and asks it, in the
// background, to analyze the captured state of the original session.
func (h *Handler) Debug(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req DebugSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return
	}

	original, err := h.orch.Get(r.Context(), id)
	if err != nil {
		h.writeSessionError(w, "debug_failed", err)
		return
	}
	output, err := h.orch.CaptureOutput(id)
	if err != nil {
		h.writeSessionError(w, "debug_failed", err)
		return
	}

	info, err := h.orch.Create(r.Context(), h.debugDir, "debug", agent.KindClaude)
	if err != nil {
		h.writeSessionError(w, "debug_failed", err)
		return
	}

	// The prompt is delivered once the new agent reaches its input
	// prompt; the request does not wait for that.
	go h.orch.SendDebugPrompt(context.WithoutCancel(r.Context()), info.SessionID, req.Description, output.Content, original.AgentKind)

	h.writeJSON(w, http.StatusCreated, info)
}

// Output handles GET /api/v1/sessions/{id}/output.
//
// mode=live (default) returns an HTML fragment rendered from the live
// pane: 200 when changed or force=true, 204 when unchanged. mode=history
// returns JSON chunks from the output log; `before` (unix seconds)
// paginates backwards.
func (h *Handler) Output(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	q := r.URL.Query()

	if q.Get("mode") == "history" {
		h.history(w, r, id)
		return
	}

	info, err := h.orch.Get(r.Context(), id)
	if err != nil {
		h.writeSessionError(w, "output_failed", err)
		return
	}
	if !info.IsAlive {
		h.writeHTML(w, `<div class="text-center text-base-content/50 py-8">Session ended</div>`)
		return
	}

	output, err := h.orch.CaptureOutput(id)
	if err != nil {
		h.writeSessionError(w, "output_failed", err)
		return
	}

	force := q.Get("force") == "true" || q.Get("force") == "1"
	if !force && !output.Changed && output.Content != "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	htmlStr := `<pre id="terminal-output">` + terminalToHTML(output.Content) + `</pre>`

	parsed := h.orch.ParseOutput(id, output.Content)
	if output.Changed {
		log.Debug(log.CatAPI, "ui state", "session", id, "state", parsed.State, "items", len(parsed.Items))
	}
	if parsed.AutoResponse != "" {
		log.Info(log.CatAPI, "auto response", "session", id, "response", parsed.AutoResponse)
		// The bare digit dismisses the survey; an Enter would land in the
		// agent's input line.
		if err := h.orch.SendRawKeys(r.Context(), id, parsed.AutoResponse, false); err != nil {
			log.Warn(log.CatAPI, "auto response failed", "session", id, "error", err)
		}
	}

	stateJSON, err := json.Marshal(parsed)
	if err != nil {
		log.ErrorErr(log.CatAPI, "marshal ui state", err, "session", id)
	} else {
		// Out-of-band swap target the client reads UI state from.
		htmlStr += `<div id="ui-state-data" hx-swap-oob="true" data-state="` +
			html.EscapeString(string(stateJSON)) + `" style="display:none"></div>`
	}

	h.writeHTML(w, htmlStr)
}

// history serves mode=history output reads.
func (h *Handler) history(w http.ResponseWriter, r *http.Request, id string) {
	outputLog, err := h.orch.OutputLog()
	if err != nil {
		h.writeSessionError(w, "history_failed", err)
		return
	}

	q := r.URL.Query()
	var before float64
	if raw := q.Get("before"); raw != "" {
		before, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_error", "before must be a unix timestamp", "")
			return
		}
	}
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			h.writeError(w, http.StatusBadRequest, "validation_error", "limit must be a positive integer", "")
			return
		}
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	page, err := outputLog.Read(id, before, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "history_failed", "Failed to read history", err.Error())
		return
	}
	log.Debug(log.CatAPI, "history load", "session", id, "before", before, "limit", limit, "chunks", len(page.Chunks))

	resp := HistoryResponse{Chunks: []HistoryChunkResponse{}}
	if len(page.Chunks) > 0 {
		resp.EarliestTS = &page.EarliestTS
	}
	for _, c := range page.Chunks {
		resp.Chunks = append(resp.Chunks, HistoryChunkResponse{TS: c.TS, Content: terminalToHTML(c.Content)})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Search handles GET /api/v1/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "validation_error", "q is required", "")
		return
	}

	outputLog, err := h.orch.OutputLog()
	if err != nil {
		h.writeSessionError(w, "search_failed", err)
		return
	}

	limit := 50
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			h.writeError(w, http.StatusBadRequest, "validation_error", "limit must be a positive integer", "")
			return
		}
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	results, err := outputLog.Search(query, q.Get("session_id"), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "search_failed", "Search failed", err.Error())
		return
	}
	if results == nil {
		results = []outputlog.SearchResult{}
	}
	h.writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// === Helpers ===

// writeSessionError maps orchestrator sentinel errors to HTTP statuses.
func (h *Handler) writeSessionError(w http.ResponseWriter, code string, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Session not found", err.Error())
	case errors.Is(err, session.ErrSessionEnded):
		h.writeError(w, http.StatusConflict, "session_ended", "Session has ended", err.Error())
	case errors.Is(err, session.ErrBadInput):
		h.writeError(w, http.StatusBadRequest, "bad_input", err.Error(), "")
	case errors.Is(err, session.ErrLogUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "log_unavailable", "Output log not available", "")
	default:
		h.writeError(w, http.StatusInternalServerError, code, "Internal error", err.Error())
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatAPI, "Failed to encode JSON response", "error", err)
	}
}

func (h *Handler) writeHTML(w http.ResponseWriter, fragment string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := io.WriteString(w, fragment); err != nil {
		log.Error(log.CatAPI, "Failed to write HTML response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

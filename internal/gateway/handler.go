package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/MEKXH/opsdesk/internal/approval"
	"github.com/MEKXH/opsdesk/internal/conversation"
	"github.com/MEKXH/opsdesk/internal/version"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 1 << 20

// NewHandler builds the router. A non-empty token guards every /v1 route
// with a bearer check.
func NewHandler(token string, deps Deps) http.Handler {
	h := &handler{deps: deps}

	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, requestID(r), http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, requestID(r), http.StatusNotFound, "not_found", "route not found")
	})

	r.Get("/health", h.health)
	r.Get("/version", h.version)

	r.Route("/v1", func(r chi.Router) {
		r.Use(requireToken(token))
		r.Get("/status", h.status)

		r.Group(func(r chi.Router) {
			r.Use(requireOwner)
			r.Post("/chat", h.chat)
			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", h.listConversations)
				r.Get("/{id}", h.getConversation)
				r.Delete("/{id}", h.deleteConversation)
				r.Post("/{id}/resume", h.resume)
			})
		})
	})
	return r
}

type handler struct {
	deps Deps
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"request_id": requestID(r),
	})
}

func (h *handler) version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    version.Version,
		"commit":     version.Commit,
		"request_id": requestID(r),
	})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"request_id": requestID(r)}
	if h.deps.Gate != nil {
		body["agent"] = h.deps.Gate.AgentName()
	}
	if h.deps.Metrics != nil {
		body["runtime"] = h.deps.Metrics.Snapshot()
	}
	if h.deps.Schedules != nil {
		body["schedules"] = h.deps.Schedules.Status()
	}
	writeJSON(w, http.StatusOK, body)
}

type chatRequest struct {
	Message        string         `json:"message"`
	ConversationID string         `json:"conversation_id"`
	Metadata       map[string]any `json:"metadata"`
}

type runResponse struct {
	*approval.RunResult
	RequestID string `json:"request_id"`
}

func (h *handler) chat(w http.ResponseWriter, r *http.Request) {
	rid := requestID(r)
	if h.deps.Gate == nil {
		writeError(w, rid, http.StatusInternalServerError, "internal_error", "approval gate is not configured")
		return
	}

	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, rid, http.StatusBadRequest, "bad_request", "message is required")
		return
	}

	res, err := h.deps.Gate.Run(r.Context(), approval.RunRequest{
		Prompt:         req.Message,
		ConversationID: strings.TrimSpace(req.ConversationID),
		OwnerID:        ownerID(r),
		Metadata:       req.Metadata,
		RequestID:      rid,
	})
	if err != nil {
		writeServiceError(w, r, "chat", err)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{RunResult: res, RequestID: rid})
}

type resumeRequest struct {
	Decisions []approval.Decision `json:"decisions"`
}

func (h *handler) resume(w http.ResponseWriter, r *http.Request) {
	rid := requestID(r)
	if h.deps.Gate == nil {
		writeError(w, rid, http.StatusInternalServerError, "internal_error", "approval gate is not configured")
		return
	}

	var req resumeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.deps.Gate.Resume(r.Context(), approval.ResumeRequest{
		ConversationID: chi.URLParam(r, "id"),
		OwnerID:        ownerID(r),
		Decisions:      req.Decisions,
		RequestID:      rid,
	})
	if err != nil {
		writeServiceError(w, r, "resume", err)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{RunResult: res, RequestID: rid})
}

func (h *handler) listConversations(w http.ResponseWriter, r *http.Request) {
	rid := requestID(r)
	q := conversation.ListQuery{
		OwnerID:   ownerID(r),
		AgentName: strings.TrimSpace(r.URL.Query().Get("agent")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, rid, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		q.Limit = n
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("pending")); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, rid, http.StatusBadRequest, "bad_request", "pending must be a boolean")
			return
		}
		q.PendingOnly = b
	}

	items, err := h.deps.Store.List(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, "list", err)
		return
	}
	if items == nil {
		items = []conversation.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": items,
		"request_id":    rid,
	})
}

type conversationResponse struct {
	*conversation.Conversation
	Pending   []conversation.PendingApproval `json:"pending"`
	RequestID string                         `json:"request_id"`
}

func (h *handler) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.deps.Store.Get(r.Context(), chi.URLParam(r, "id"), ownerID(r))
	if err != nil {
		writeServiceError(w, r, "get", err)
		return
	}
	pending := approval.ExtractPendingFromMessages(conv.Messages)
	if pending == nil {
		pending = []conversation.PendingApproval{}
	}
	writeJSON(w, http.StatusOK, conversationResponse{
		Conversation: conv,
		Pending:      pending,
		RequestID:    requestID(r),
	})
}

func (h *handler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Store.Delete(r.Context(), id, ownerID(r)); err != nil {
		writeServiceError(w, r, "delete", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":    id,
		"request_id": requestID(r),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, requestID(r), http.StatusBadRequest, "bad_request", "invalid json request")
		return false
	}
	return true
}

// writeServiceError maps gate and store errors onto HTTP statuses. A
// conversation owned by someone else is indistinguishable from a missing one.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	rid := requestID(r)

	var ve *approval.ValidationError
	var se *conversation.StorageError
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		writeError(w, rid, http.StatusNotFound, "not_found", "conversation not found")
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"code":          "invalid_request",
			"message":       ve.Error(),
			"tool_call_ids": ve.ToolCallIDs,
			"request_id":    rid,
		})
	case errors.As(err, &se):
		slog.Error("gateway storage failure", "op", op, "request_id", rid, "error", err)
		writeError(w, rid, http.StatusServiceUnavailable, "storage_unavailable", "conversation store unavailable, retry later")
	default:
		slog.Error("gateway request failed", "op", op, "request_id", rid, "error", err)
		writeError(w, rid, http.StatusInternalServerError, "internal_error", "failed to process request")
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":       code,
		"message":    message,
		"request_id": requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

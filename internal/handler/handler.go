package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/simpatient/internal/cases"
	"github.com/pavelanni/simpatient/internal/chat"
	"github.com/pavelanni/simpatient/internal/i18n"
	"github.com/pavelanni/simpatient/internal/model"
	"github.com/pavelanni/simpatient/internal/provider"
	"github.com/pavelanni/simpatient/internal/scoring"
	"github.com/pavelanni/simpatient/internal/store"
)

// maxBodyBytes bounds request bodies; a long transcript fits comfortably.
const maxBodyBytes = 1 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	cases   *cases.Catalogue
	chat    *chat.Service
	scoring *scoring.Service
	store   *store.Store
	version string
}

// New creates a new Handler. db may be nil, in which case the evaluation
// archive routes answer 404.
func New(c *cases.Catalogue, ch *chat.Service, sc *scoring.Service, db *store.Store, version string) *Handler {
	return &Handler{cases: c, chat: ch, scoring: sc, store: db, version: version}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Get("/health", h.handleHealth)

	r.Route("/api/cases", func(r chi.Router) {
		r.Get("/", h.handleListCases)
		r.Post("/reload", h.handleReloadCases)
		r.Get("/{caseID}", h.handleGetCase)
	})
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/", h.handleChat)
		r.Post("/end-session", h.handleEndSession)
		r.Get("/history/{sessionID}", h.handleHistory)
	})
	r.Post("/api/evaluate", h.handleEvaluate)
	r.Post("/api/evaluate/", h.handleEvaluate)
	r.Route("/api/evaluations", func(r chi.Router) {
		r.Get("/", h.handleExportEvaluations)
		r.Get("/{sessionID}", h.handleGetEvaluation)
	})
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	langs := []string{}
	for _, tag := range i18n.Languages() {
		langs = append(langs, tag.String())
	}
	body := map[string]any{
		"name":      i18n.T(r.Context(), "AppTitle"),
		"version":   h.version,
		"languages": langs,
	}
	if h.store != nil {
		n, err := h.store.EvaluationCount(r.Context())
		if err != nil {
			slog.Error("count evaluations", "error", err)
		} else {
			body["evaluations"] = n
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) handleListCases(w http.ResponseWriter, r *http.Request) {
	list, err := h.cases.List(r.Context())
	if err != nil {
		slog.Error("list cases", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []model.Case{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGetCase(w http.ResponseWriter, r *http.Request) {
	cs, err := h.cases.Get(r.Context(), chi.URLParam(r, "caseID"))
	if errors.Is(err, model.ErrCaseNotFound) {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "CaseNotFound"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if !decode(w, r, &req) {
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if field := missing(map[string]string{"session_id": req.SessionID, "case_id": req.CaseID, "message": req.Message}); field != "" {
		writeError(w, http.StatusBadRequest, i18n.Td(r.Context(), "FieldRequired", map[string]any{"Field": field}))
		return
	}

	reply, err := h.chat.Send(r.Context(), req.SessionID, req.CaseID, req.Message)
	if errors.Is(err, model.ErrCaseNotFound) {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "CaseNotFound"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, i18n.T(r.Context(), "ChatFailed"))
		return
	}
	writeJSON(w, http.StatusOK, model.ChatResponse{
		SessionID: req.SessionID,
		Response:  reply,
		CaseID:    req.CaseID,
	})
}

func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, i18n.Td(r.Context(), "FieldRequired", map[string]any{"Field": "session_id"}))
		return
	}
	h.chat.End(sessionID, r.URL.Query().Get("case_id"))
	writeJSON(w, http.StatusOK, map[string]string{"message": i18n.T(r.Context(), "SessionEnded")})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	turns := h.chat.History(sessionID)
	if turns == nil {
		turns = []model.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   turns,
	})
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req model.EvaluationRequest
	if !decode(w, r, &req) {
		return
	}
	if field := missing(map[string]string{"session_id": req.SessionID, "case_id": req.CaseID}); field != "" {
		writeError(w, http.StatusBadRequest, i18n.Td(r.Context(), "FieldRequired", map[string]any{"Field": field}))
		return
	}
	slog.Info("evaluation requested",
		"session", req.SessionID,
		"case_id", req.CaseID,
		"turns", len(req.Messages),
		"idempotency_key", r.Header.Get(provider.IdempotencyHeader),
	)
	writeJSON(w, http.StatusOK, h.scoring.Evaluate(r.Context(), req))
}

// decode reads a JSON body into dst, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		slog.Debug("invalid request body", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, i18n.T(r.Context(), "InvalidRequest"))
		return false
	}
	return true
}

// missing returns the first empty field name in canonical order.
func missing(fields map[string]string) string {
	for _, name := range []string{"session_id", "case_id", "message"} {
		if v, ok := fields[name]; ok && strings.TrimSpace(v) == "" {
			return name
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

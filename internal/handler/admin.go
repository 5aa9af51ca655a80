package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/simpatient/internal/i18n"
)

func (h *Handler) handleReloadCases(w http.ResponseWriter, r *http.Request) {
	n, err := h.cases.Reload(r.Context())
	if err != nil {
		slog.Error("reload cases", "error", err)
		writeError(w, http.StatusInternalServerError, i18n.T(r.Context(), "ReloadFailed"))
		return
	}
	slog.Info("cases reloaded", "count", n)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": i18n.Td(r.Context(), "CasesReloaded", map[string]any{"Count": n}),
		"count":   n,
	})
}

func (h *Handler) handleExportEvaluations(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.NotFound(w, r)
		return
	}
	export, err := h.store.ExportEvaluations(r.Context(), r.URL.Query().Get("case_id"))
	if err != nil {
		slog.Error("export evaluations", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func (h *Handler) handleGetEvaluation(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.NotFound(w, r)
		return
	}
	rec, err := h.store.GetEvaluation(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		slog.Error("get evaluation", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "EvaluationNotFound"))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

package rules

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/expiry-discount/internal/common"
)

// Handler exposes administrative rule management endpoints.
type Handler struct {
	Svc *Service
}

// List handles GET /api/v1/rules.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Svc.List(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, rules)
}

// Get handles GET /api/v1/rules/{ruleID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Svc.Get(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, rule)
}

// Create handles POST /api/v1/rules.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	rule, err := h.Svc.Create(r.Context(), req)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/rules/"+rule.RuleID)
	common.Data(w, http.StatusCreated, rule)
}

// Update handles PATCH /api/v1/rules/{ruleID}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	rule, err := h.Svc.Update(r.Context(), chi.URLParam(r, "ruleID"), req)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, rule)
}

// Activate handles POST /api/v1/rules/{ruleID}/activate.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Svc.Activate(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, rule)
}

// Deactivate handles POST /api/v1/rules/{ruleID}/deactivate and DELETE /api/v1/rules/{ruleID}.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Svc.Deactivate(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, rule)
}

// Preview handles GET /api/v1/rules/preview/{inventoryID}.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	result, err := h.Svc.Preview(r.Context(), chi.URLParam(r, "inventoryID"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, result)
}

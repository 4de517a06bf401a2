package inventory

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/expiry-discount/internal/common"
	"github.com/noah-isme/expiry-discount/internal/domain"
)

// Handler exposes inventory endpoints.
type Handler struct {
	Svc *Service
}

// List handles GET /api/v1/inventory?days=N.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var days *int
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			common.WriteError(w, domain.NewValidationError("days", "must be an integer"))
			return
		}
		days = &n
	}
	views, err := h.Svc.List(r.Context(), days)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	page, perPage := common.ParsePagination(r, len(views))
	items, meta := common.Paginate(views, page, perPage)
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": meta})
}

// Get handles GET /api/v1/inventory/{inventoryID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.Get(r.Context(), chi.URLParam(r, "inventoryID"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view)
}

// Create handles POST /api/v1/inventory.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	batch, err := h.Svc.Create(r.Context(), req)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, batch)
}

// PriceHistory handles GET /api/v1/inventory/{inventoryID}/price-history.
func (h *Handler) PriceHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.Svc.PriceHistory(r.Context(), chi.URLParam(r, "inventoryID"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, history)
}

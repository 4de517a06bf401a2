package audit

import (
	"net/http"
	"strconv"

	"github.com/noah-isme/expiry-discount/internal/common"
	"github.com/noah-isme/expiry-discount/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Handler serves the audit trail of admin writes.
type Handler struct {
	Store Store
}

// List handles GET /api/v1/audit-logs?limit=&offset=, newest first.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	limit, err := queryInt(r, "limit", defaultListLimit, 1, maxListLimit)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0, 0, -1)
	if err != nil {
		common.WriteError(w, err)
		return
	}

	rows, err := h.Store.ListAuditLogs(r.Context(), limit, offset)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch audit logs", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":   rows,
		"limit":  limit,
		"offset": offset,
	})
}

// queryInt parses an optional integer parameter within [lo, hi]; hi < 0 means unbounded.
func queryInt(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || (hi >= 0 && n > hi) {
		if hi >= 0 {
			return 0, domain.NewValidationError(name, "must be an integer between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi))
		}
		return 0, domain.NewValidationError(name, "must be an integer of at least "+strconv.Itoa(lo))
	}
	return n, nil
}

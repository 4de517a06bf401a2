package analytics

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/expiry-discount/internal/common"
	"github.com/noah-isme/expiry-discount/internal/obs"
)

// Handler exposes analytics read endpoints.
type Handler struct {
	Svc    *Service
	Logger zerolog.Logger
}

// Discounts returns the discount analytics report.
func (h *Handler) Discounts(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_NOT_CONFIGURED", "analytics service not configured", nil)
		return
	}
	report, err := h.Svc.Report(r.Context())
	if err != nil {
		logger := obs.Logger(r.Context(), h.Logger)
		logger.Error().Err(err).Msg("build analytics report")
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, report)
}

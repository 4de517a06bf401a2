package discount

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/expiry-discount/internal/common"
	"github.com/noah-isme/expiry-discount/internal/obs"
)

// Runner executes calculation runs and reports the latest one.
type Runner interface {
	Run(ctx context.Context, trigger string) (Summary, error)
	LastRun(ctx context.Context) (Summary, bool)
}

// Handler exposes calculation run endpoints.
type Handler struct {
	Engine Runner
	Logger zerolog.Logger
}

// Calculate triggers a synchronous run and returns its summary.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	if h.Engine == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "discount engine not configured", nil)
		return
	}
	summary, err := h.Engine.Run(r.Context(), TriggerManual)
	if err != nil {
		logger := obs.Logger(r.Context(), h.Logger)
		logger.Warn().Err(err).Msg("manual discount run failed")
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, summary)
}

// LastRun returns the summary of the most recent committed run.
func (h *Handler) LastRun(w http.ResponseWriter, r *http.Request) {
	if h.Engine == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "discount engine not configured", nil)
		return
	}
	summary, ok := h.Engine.LastRun(r.Context())
	if !ok {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "no calculation run has completed yet", nil)
		return
	}
	common.Data(w, http.StatusOK, summary)
}

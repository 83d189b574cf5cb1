package httphandler

import (
	"log/slog"
	"net/http"

	"github.com/pmgasset/td-wifi-api/internal/service"
	"github.com/pmgasset/td-wifi-api/pkg/httputil"
)

// SyncHandler serves the catalog sync trigger. The route is mounted behind
// shared-secret auth; this handler only runs the sync.
type SyncHandler struct {
	catalog *service.CatalogService
	logger  *slog.Logger
}

// NewSyncHandler creates the sync trigger handler.
func NewSyncHandler(catalog *service.CatalogService, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{catalog: catalog, logger: logger}
}

// syncResponse is the sync trigger's wire shape.
type syncResponse struct {
	Success      bool  `json:"success"`
	ProductCount int   `json:"productCount"`
	FilteredOut  int   `json:"filteredOut"`
	DurationMs   int64 `json:"durationMs"`
}

// Trigger handles POST /api/sync. The sync runs synchronously so the caller
// (a cron job or an operator) sees the result, including failures.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	result, err := h.catalog.Sync(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, syncResponse{
		Success:      true,
		ProductCount: result.ProductCount,
		FilteredOut:  result.FilteredOut,
		DurationMs:   result.Duration.Milliseconds(),
	})
}

package handler

import (
	"net/http"

	"github.com/stakahashi/tenken/internal/store"
)

type ReportHandler struct {
	reports store.ReportStore
}

func NewReportHandler(reports store.ReportStore) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// ListReports returns stored reports, newest first.
func (h *ReportHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	if _, ok := parseAuthSession(w, r); !ok {
		return
	}
	snaps, err := h.reports.ListReports(r.Context(), parseLimit(r))
	if err != nil {
		storeErrorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

package handlers

import (
	"net/http"

	"hrms/middleware"
	"hrms/services"
)

type DashboardHandler struct {
	dashboard *services.DashboardService
}

func NewDashboardHandler(dashboard *services.DashboardService) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard}
}

func (h *DashboardHandler) Overview(w http.ResponseWriter, r *http.Request) {
	out, err := h.dashboard.Overview(r.Context(), middleware.GetUserFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *DashboardHandler) Personal(w http.ResponseWriter, r *http.Request) {
	out, err := h.dashboard.Personal(r.Context(), middleware.GetUserFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"hrms/middleware"
	"hrms/models"
	"hrms/services"
)

type LeaveHandler struct {
	leave   *services.LeaveService
	exports *services.ExportService
}

func NewLeaveHandler(leave *services.LeaveService, exports *services.ExportService) *LeaveHandler {
	return &LeaveHandler{leave: leave, exports: exports}
}

func (h *LeaveHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.LeaveInput
	if !decodeJSON(w, r, &in) {
		return
	}
	req, err := h.leave.Create(r.Context(), middleware.GetUserFromContext(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *LeaveHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	status := models.LeaveStatus(r.URL.Query().Get("status"))
	list, err := h.leave.ListMine(r.Context(), middleware.GetUserFromContext(r.Context()), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *LeaveHandler) ListReviewable(w http.ResponseWriter, r *http.Request) {
	list, err := h.leave.ListReviewable(r.Context(), middleware.GetUserFromContext(r.Context()), services.LeaveFilter{
		Status: models.LeaveStatus(r.URL.Query().Get("status")),
		UserID: queryUint(r, "user_id"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *LeaveHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	req, err := h.leave.Get(r.Context(), middleware.GetUserFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type decisionRequest struct {
	Comment string `json:"comment"`
}

func (h *LeaveHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.leave.Approve)
}

func (h *LeaveHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.leave.Decline)
}

type decideFunc func(ctx context.Context, actor *models.User, id uint, comment string) (*models.LeaveRequest, error)

func (h *LeaveHandler) decide(w http.ResponseWriter, r *http.Request, fn decideFunc) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var body decisionRequest
	// An empty body is fine for approvals.
	if !decodeOptionalJSON(w, r, &body) {
		return
	}
	req, err := fn(r.Context(), middleware.GetUserFromContext(r.Context()), id, body.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *LeaveHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.leave.Delete(r.Context(), middleware.GetUserFromContext(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export writes a CSV of the requests overlapping ?year=&month=, defaulting
// to the current month.
func (h *LeaveHandler) Export(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	year := queryInt(r, "year", now.Year())
	month := time.Month(queryInt(r, "month", int(now.Month())))

	var buf bytes.Buffer
	if err := h.exports.LeaveCSV(r.Context(), middleware.GetUserFromContext(r.Context()), year, month, &buf); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", services.LeaveExportName(year, month)))
	_, _ = buf.WriteTo(w)
}

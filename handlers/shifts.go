package handlers

import (
	"net/http"
	"time"

	"hrms/middleware"
	"hrms/services"
)

type ShiftHandler struct {
	shifts    *services.ShiftService
	schedules *services.ScheduleService
}

func NewShiftHandler(shifts *services.ShiftService, schedules *services.ScheduleService) *ShiftHandler {
	return &ShiftHandler{shifts: shifts, schedules: schedules}
}

func (h *ShiftHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.shifts.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ShiftHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	shift, err := h.shifts.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (h *ShiftHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.ShiftInput
	if !decodeJSON(w, r, &in) {
		return
	}
	shift, err := h.shifts.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, shift)
}

func (h *ShiftHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var in services.ShiftInput
	if !decodeJSON(w, r, &in) {
		return
	}
	shift, err := h.shifts.Update(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (h *ShiftHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.shifts.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSchedules defaults to the coming week when no range is given.
func (h *ShiftHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	today := services.Today(time.Now())
	from, err := queryDate(r, "from", today)
	if err != nil {
		badRequest(w, "from must be a YYYY-MM-DD date")
		return
	}
	to, err := queryDate(r, "to", from.AddDate(0, 0, 6))
	if err != nil {
		badRequest(w, "to must be a YYYY-MM-DD date")
		return
	}

	rows, err := h.schedules.List(r.Context(), middleware.GetUserFromContext(r.Context()), services.ScheduleFilter{
		From:         from,
		To:           to,
		UserID:       queryUint(r, "user_id"),
		DepartmentID: queryUint(r, "department_id"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *ShiftHandler) AssignSchedule(w http.ResponseWriter, r *http.Request) {
	var in services.ScheduleInput
	if !decodeJSON(w, r, &in) {
		return
	}
	row, err := h.schedules.Assign(r.Context(), middleware.GetUserFromContext(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (h *ShiftHandler) BulkAssign(w http.ResponseWriter, r *http.Request) {
	var in services.BulkScheduleInput
	if !decodeJSON(w, r, &in) {
		return
	}
	res, err := h.schedules.BulkAssign(r.Context(), middleware.GetUserFromContext(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ShiftHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var in services.ScheduleInput
	if !decodeJSON(w, r, &in) {
		return
	}
	row, err := h.schedules.Update(r.Context(), middleware.GetUserFromContext(r.Context()), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *ShiftHandler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.schedules.Delete(r.Context(), middleware.GetUserFromContext(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

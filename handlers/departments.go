package handlers

import (
	"net/http"

	"hrms/services"
)

type DepartmentHandler struct {
	departments *services.DepartmentService
	positions   *services.PositionService
}

func NewDepartmentHandler(departments *services.DepartmentService, positions *services.PositionService) *DepartmentHandler {
	return &DepartmentHandler{departments: departments, positions: positions}
}

func (h *DepartmentHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.departments.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *DepartmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	d, err := h.departments.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *DepartmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.DepartmentInput
	if !decodeJSON(w, r, &in) {
		return
	}
	d, err := h.departments.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *DepartmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var in services.DepartmentInput
	if !decodeJSON(w, r, &in) {
		return
	}
	d, err := h.departments.Update(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *DepartmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.departments.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DepartmentHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	list, err := h.positions.List(r.Context(), queryUint(r, "department_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *DepartmentHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	p, err := h.positions.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *DepartmentHandler) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var in services.PositionInput
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := h.positions.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *DepartmentHandler) UpdatePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var in services.PositionInput
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := h.positions.Update(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *DepartmentHandler) DeletePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.positions.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

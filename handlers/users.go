package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"hrms/middleware"
	"hrms/models"
	"hrms/services"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type UserHandler struct {
	users   *services.UserService
	exports *services.ExportService
}

func NewUserHandler(users *services.UserService, exports *services.ExportService) *UserHandler {
	return &UserHandler{users: users, exports: exports}
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.users.List(r.Context(), middleware.GetUserFromContext(r.Context()), services.UserFilter{
		DepartmentID: queryUint(r, "department_id"),
		Role:         models.Role(q.Get("role")),
		Status:       models.UserStatus(q.Get("status")),
		Search:       q.Get("search"),
		Page:         queryInt(r, "page", 1),
		PageSize:     queryInt(r, "page_size", 0),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	user, err := h.users.Get(r.Context(), middleware.GetUserFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.UserInput
	if !decodeJSON(w, r, &in) {
		return
	}
	created, err := h.users.Create(r.Context(), middleware.GetUserFromContext(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var in services.UserInput
	if !decodeJSON(w, r, &in) {
		return
	}
	user, err := h.users.Update(r.Context(), middleware.GetUserFromContext(r.Context()), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.users.Delete(r.Context(), middleware.GetUserFromContext(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) Export(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.exports.UsersXLSX(r.Context(), middleware.GetUserFromContext(r.Context()), &buf); err != nil {
		writeError(w, r, err)
		return
	}
	filename := fmt.Sprintf("employees_%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	_, _ = buf.WriteTo(w)
}

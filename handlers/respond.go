package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hrms/logging"
	"hrms/services"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const maxJSONBody = 1 << 20

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// writeError maps service errors onto HTTP statuses. Anything unexpected is
// logged and reported as a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *services.ValidationError
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, services.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: services.ErrInvalidCredentials.Error()})
	case errors.Is(err, services.ErrInvalidToken):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: services.ErrInvalidToken.Error()})
	case errors.Is(err, services.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: reason(err, services.ErrForbidden)})
	case errors.Is(err, services.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: services.ErrNotFound.Error()})
	case errors.Is(err, services.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: reason(err, services.ErrConflict)})
	case errors.Is(err, services.ErrTooLarge), errors.As(err, &tooBig):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "file too large"})
	default:
		logging.FromContext(r.Context(), nil).Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

// reason strips the sentinel suffix pkg/errors appends, leaving the
// wrapping message. A bare sentinel reports itself.
func reason(err, sentinel error) string {
	msg := strings.TrimSuffix(err.Error(), ": "+sentinel.Error())
	if msg == "" {
		return sentinel.Error()
	}
	return msg
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			badRequest(w, "request body is empty")
			return false
		}
		badRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// decodeOptionalJSON is decodeJSON for endpoints where the body may be
// omitted. Chunked requests carry no Content-Length, so emptiness is only
// known once the body is read.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid JSON body")
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: services.ErrNotFound.Error()})
		return 0, false
	}
	return uint(id), true
}

// queryUint returns 0 for a missing or malformed parameter.
func queryUint(r *http.Request, key string) uint {
	v, err := strconv.ParseUint(r.URL.Query().Get(key), 10, 32)
	if err != nil {
		return 0
	}
	return uint(v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return v
}

func queryDate(r *http.Request, key string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return services.ParseDate(raw)
}

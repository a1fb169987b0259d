package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/CovCube/server/internal/auth"
	"github.com/CovCube/server/internal/catalog"
	"github.com/CovCube/server/internal/cube"
	"github.com/CovCube/server/internal/provisioning"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeDeviceFailure  = "device_communication_error"
	ErrCodeServiceFailure = "service_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps errors from the domain packages to a response.
// Anything unrecognised is logged and reported as a 500 with fallback as
// the message, so storage detail never reaches the client.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var verr *cube.ValidationError
	var dce *provisioning.DeviceCommunicationError

	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, verr.Error())
	case errors.Is(err, cube.ErrNotFound):
		writeNotFound(w, "cube not found")
	case errors.Is(err, cube.ErrAlreadyExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "cube already exists")
	case errors.As(err, &dce):
		s.logger.Warn("device communication failed", "addr", dce.Addr, "op", dce.Op, "error", dce.Err,
			"request_id", r.Context().Value(ctxKeyRequestID))
		writeError(w, http.StatusBadGateway, ErrCodeDeviceFailure, "could not communicate with cube at "+dce.Addr)
	case errors.Is(err, catalog.ErrInvalidName):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, catalog.ErrNotFound):
		writeNotFound(w, "type not found")
	case errors.Is(err, catalog.ErrExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "type already exists")
	case errors.Is(err, auth.ErrTokenNotFound):
		writeNotFound(w, "token not found")
	case errors.Is(err, auth.ErrOwnerRequired):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		s.logger.Error(fallback, "error", err, "method", r.Method, "path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID))
		writeInternalError(w, fallback)
	}
}

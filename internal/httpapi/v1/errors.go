package v1

import (
	"errors"
	"net/http"

	"github.com/minerva-erp/glcore/internal/errs"
)

// errorResponse is the standard error payload for the API. Code is a stable
// machine-readable identifier; Error is the human-readable message. Line is
// set when a posting validation failure points at one journal line.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Line  *int   `json:"line,omitempty"`
}

func writeErr(w http.ResponseWriter, status int, msg, code string) {
	toJSON(w, status, errorResponse{Error: msg, Code: code})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeErr(w, http.StatusBadRequest, msg, "bad_request")
}

func notFound(w http.ResponseWriter) {
	writeErr(w, http.StatusNotFound, "not_found", "not_found")
}

// writeDomainErr maps a service error onto an HTTP status and stable code.
// Sentinels the services do not wrap come out as an opaque 500 so internal
// detail never leaks.
func writeDomainErr(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, errs.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, errs.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, errs.ErrSystemAccount):
		status, code = http.StatusForbidden, "system_account"
	case errors.Is(err, errs.ErrDuplicate):
		status, code = http.StatusConflict, "duplicate_posting"
	case errors.Is(err, errs.ErrImmutable):
		status, code = http.StatusConflict, "immutable"
	case errors.Is(err, errs.ErrAmbiguous):
		status, code = http.StatusConflict, "reconciliation_ambiguous"
	case errors.Is(err, errs.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, errs.ErrUnbalanced):
		status, code = http.StatusUnprocessableEntity, "unbalanced_entry"
	case errors.Is(err, errs.ErrInvalidAccount):
		status, code = http.StatusUnprocessableEntity, "invalid_account"
	case errors.Is(err, errs.ErrMissingDimension):
		status, code = http.StatusUnprocessableEntity, "missing_dimension"
	case errors.Is(err, errs.ErrUnprocessable):
		status, code = http.StatusUnprocessableEntity, "unprocessable"
	case errors.Is(err, errs.ErrInvalid):
		status, code = http.StatusBadRequest, "invalid"
	case errors.Is(err, errs.ErrStorageUnavailable):
		status, code = http.StatusServiceUnavailable, "storage_unavailable"
	}
	resp := errorResponse{Error: err.Error(), Code: code}
	if status == http.StatusInternalServerError {
		resp.Error = "internal error"
	}
	var le *errs.LineError
	if errors.As(err, &le) {
		idx := le.Index
		resp.Line = &idx
	}
	toJSON(w, status, resp)
}

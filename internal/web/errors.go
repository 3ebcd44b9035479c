package web

// errors.go turns handler errors into JSON responses.
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls s.respondError(w, r, err)
//  3. statusFor picks the HTTP status, core.MapError the user message
//  4. Technical error is logged with the request ID for correlation
//  5. ErrorResponse is written to the client

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/csvimport/internal/core"
	"github.com/JonMunkholm/csvimport/internal/logging"
)

var (
	errImportNotFound = errors.New("import not found")
	errNoFile         = errors.New("no file provided")
	errFileTooLarge   = errors.New("file too large")
)

// ErrorResponse is the JSON body of every API error.
// Code is machine-readable, Message and Action are for people.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// newErrorResponse maps err to the body sent to clients.
func newErrorResponse(err error) ErrorResponse {
	msg := core.MapError(err)
	return ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
}

// respondError logs err with request context and writes its ErrorResponse.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := newErrorResponse(err)

	level := logging.LevelForStatus(status)
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", body.Code,
		"error", err.Error(),
	)

	writeJSON(w, status, body)
}

// statusFor picks the HTTP status for err. Typed errors are checked before
// the mapped code family.
func statusFor(err error) int {
	var (
		maxBytes     *http.MaxBytesError
		precondition *core.PreconditionError
		mismatch     *core.ColumnCountMismatchError
	)
	switch {
	case errors.As(err, &maxBytes), errors.Is(err, errFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errImportNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusServiceUnavailable
	case errors.As(err, &mismatch), errors.Is(err, core.ErrAppendDeclined):
		return http.StatusConflict
	case errors.As(err, &precondition), errors.Is(err, core.ErrEmptyInput), errors.Is(err, errNoFile):
		return http.StatusBadRequest
	}

	if strings.HasPrefix(core.MapError(err).Code, "FILE") {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeJSON encodes v as the response body with the given status.
// Encoding errors are only logged since the header is already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

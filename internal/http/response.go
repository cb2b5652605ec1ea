package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"mammo-assist/internal/core"
	"mammo-assist/internal/shell"
)

// Response is the standard API response wrapper.
type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *ErrorInfo  `json:"error,omitempty"`
	Meta  *MetaInfo   `json:"meta,omitempty"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MetaInfo contains response metadata.
type MetaInfo struct {
	Timestamp time.Time `json:"timestamp"`
	// Persisted is false when the last snapshot could not be written.
	Persisted *bool `json:"persisted,omitempty"`
}

// Error codes
const (
	CodeNotFound     = "NOT_FOUND"
	CodeBadRequest   = "BAD_REQUEST"
	CodeConflict     = "CONFLICT"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeUpstream     = "UPSTREAM_ERROR"
	CodeInternal     = "INTERNAL_ERROR"
)

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	writeEnvelope(w, status, Response{Data: data, Meta: &MetaInfo{Timestamp: time.Now()}})
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, Response{
		Error: &ErrorInfo{Code: code, Message: message},
		Meta:  &MetaInfo{Timestamp: time.Now()},
	})
}

func writeEnvelope(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// writeCaseJSON is WriteJSON plus the persistence flag.
func (s *Server) writeCaseJSON(w http.ResponseWriter, status int, data interface{}) {
	ok := s.Store.PersistStatus().OK()
	writeEnvelope(w, status, Response{Data: data, Meta: &MetaInfo{Timestamp: time.Now(), Persisted: &ok}})
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrNoImage):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, core.ErrNotPending), errors.Is(err, core.ErrNotAnalyzed):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, core.ErrUpstream), errors.Is(err, core.ErrIncompleteResult), errors.Is(err, core.ErrStream):
		return http.StatusBadGateway, CodeUpstream
	case errors.Is(err, shell.ErrInvalidCredentials):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, shell.ErrMissingFields), errors.Is(err, shell.ErrPasswordMismatch):
		return http.StatusBadRequest, CodeBadRequest
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	WriteError(w, status, code, err.Error())
}

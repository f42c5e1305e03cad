// Package apperr provides coded domain errors and their HTTP rendering.
package apperr

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeInvalidArgument  Code = "invalid_argument"
	CodeUnauthenticated  Code = "unauthenticated"
	CodePermissionDenied Code = "permission_denied"
	CodeNotFound         Code = "not_found"
	CodeConflict         Code = "conflict"
	CodeTooLarge         Code = "payload_too_large"
	CodeUnsupportedMedia Code = "unsupported_media"
	CodeInternal         Code = "internal"
)

// HTTPStatus maps a code to its response status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

// Error is the domain error type.
type Error struct {
	Code    Code
	Message string // safe to show to clients
	Cause   error  // logged, never rendered
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is comparisons by code.
var (
	ErrInvalid      = &Error{Code: CodeInvalidArgument}
	ErrUnauthorized = &Error{Code: CodeUnauthenticated}
	ErrForbidden    = &Error{Code: CodePermissionDenied}
	ErrNotFound     = &Error{Code: CodeNotFound}
	ErrConflict     = &Error{Code: CodeConflict}
)

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func Invalid(message string) *Error   { return New(CodeInvalidArgument, message) }
func Forbidden(message string) *Error { return New(CodePermissionDenied, message) }
func NotFound(message string) *Error  { return New(CodeNotFound, message) }
func Conflict(message string) *Error  { return New(CodeConflict, message) }

// Internal wraps an unexpected failure.
func Internal(message string, cause error) *Error {
	return Wrap(CodeInternal, message, cause)
}

// FromQuery converts a single-row query error: sql.ErrNoRows becomes a not-found
// error carrying notFoundMsg, anything else becomes internal.
func FromQuery(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return NotFound(notFoundMsg)
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("database error", err)
}

// Write renders err as {"error": code, "message": msg}. tag prefixes the log
// line for internal failures.
func Write(w http.ResponseWriter, tag string, err error) {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = Internal("internal error", err)
	}
	status := appErr.Code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Printf("[%s] %v", tag, err)
	}
	msg := appErr.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   string(appErr.Code),
		"message": msg,
	})
}

// WriteJSON renders v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// DecodeJSON decodes the request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return Wrap(CodeInvalidArgument, "invalid JSON payload", err)
	}
	return nil
}

// ParseMultipart caps the body at maxFile plus 1MiB for the other form parts
// and parses it. A body over the cap is payload_too_large.
func ParseMultipart(w http.ResponseWriter, r *http.Request, maxFile int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxFile+1<<20)
	if err := r.ParseMultipartForm(maxFile); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
			return Wrap(CodeTooLarge, fmt.Sprintf("upload exceeds %d bytes", maxFile), err)
		}
		return Wrap(CodeInvalidArgument, "invalid multipart body", err)
	}
	return nil
}

// Package httpx holds the JSON and error conventions shared by the HTTP
// handlers and the Go clients that call them.
package httpx

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"librarium/internal/library"
	"librarium/pkg/eventstore"
)

// JSON is the codec used on both sides of the wire.
var JSON = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeNotFound               = "not_found"
	CodeDuplicateEmail         = "duplicate_email"
	CodeISBNConflict           = "isbn_conflict"
	CodeAlreadyBorrowed        = "already_borrowed"
	CodeNotBorrowed            = "not_borrowed"
	CodeInvalidInput           = "invalid_input"
	CodeRateLimited            = "rate_limited"
	CodeConcurrentModification = "concurrent_modification"
	CodeUnauthorized           = "unauthorized"
	CodeForbidden              = "forbidden"
	CodeInternal               = "internal"
)

var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{library.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{library.ErrDuplicateEmail, http.StatusConflict, CodeDuplicateEmail},
	{library.ErrISBNConflict, http.StatusConflict, CodeISBNConflict},
	{library.ErrAlreadyBorrowed, http.StatusConflict, CodeAlreadyBorrowed},
	{library.ErrNotBorrowed, http.StatusConflict, CodeNotBorrowed},
	{library.ErrInvalidInput, http.StatusBadRequest, CodeInvalidInput},
	{library.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited},
	{library.ErrConcurrentModification, http.StatusConflict, CodeConcurrentModification},
	{eventstore.ErrConcurrencyConflict, http.StatusConflict, CodeConcurrentModification},
	{library.ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized},
	{library.ErrForbidden, http.StatusForbidden, CodeForbidden},
}

// StatusOf maps a service error to its HTTP status and error code.
func StatusOf(err error) (int, string) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// ErrorFromCode rebuilds a service error from an ErrorResponse so callers can
// keep using errors.Is on the client side.
func ErrorFromCode(status int, body ErrorResponse) error {
	for _, e := range errorTable {
		if e.code == body.Code {
			if body.Error == "" || body.Error == e.err.Error() {
				return e.err
			}
			return &remoteError{msg: body.Error, err: e.err}
		}
	}
	if body.Error == "" {
		body.Error = http.StatusText(status)
	}
	return fmt.Errorf("unexpected status %d: %s", status, body.Error)
}

// remoteError keeps the server's message while matching the sentinel.
type remoteError struct {
	msg string
	err error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.err }

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = JSON.NewEncoder(w).Encode(v)
}

// WriteError writes err as an ErrorResponse. Unknown errors are logged and
// reported without detail.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := StatusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		msg = http.StatusText(status)
	}
	WriteJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// DecodeJSON reads a JSON request body into v. Malformed bodies are reported
// as library.ErrInvalidInput.
func DecodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", library.ErrInvalidInput, err)
	}
	if err := JSON.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: malformed JSON body", library.ErrInvalidInput)
	}
	return nil
}

// URLParamUUID parses the named chi route parameter as a UUID.
func URLParamUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s %q is not a valid ID", library.ErrInvalidInput, name, raw)
	}
	return id, nil
}

// Package response writes the uniform JSON envelope used by every API route:
// {"success": bool, "message": string, "payload": any}.
package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Payload any    `json:"payload"`
}

// Create builds an envelope. A nil payload is encoded as null.
func Create(success bool, message string, payload any) Response {
	return Response{Success: success, Message: message, Payload: payload}
}

// Write encodes the envelope with the given status.
func Write(w http.ResponseWriter, status int, res Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

// OK writes a 200 success envelope.
func OK(w http.ResponseWriter, message string, payload any) {
	Write(w, http.StatusOK, Create(true, message, payload))
}

// HandleErrResponse writes a failure envelope. An empty message falls back
// to the status text.
func HandleErrResponse(w http.ResponseWriter, status int, message string, payload any) {
	if message == "" {
		message = http.StatusText(status)
	}
	Write(w, status, Create(false, message, payload))
}

// StatusError is an error that knows which HTTP status it maps to.
type StatusError struct {
	Status  int
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *StatusError) Unwrap() error { return e.Err }

func NewStatusError(status int, message string, err error) *StatusError {
	return &StatusError{Status: status, Message: message, Err: err}
}

const internalErrorMessage = "Internal server error."

// HandleAPIError is the catch-all for errors a handler did not map itself.
// StatusErrors keep their status and message; everything else becomes a
// 500 whose detail only reaches the log.
func HandleAPIError(w http.ResponseWriter, logger *zap.SugaredLogger, err error) {
	var se *StatusError
	if errors.As(err, &se) {
		HandleErrResponse(w, se.Status, se.Message, nil)
		return
	}
	if logger != nil {
		logger.Errorw("unhandled api error", "err", err)
	}
	HandleErrResponse(w, http.StatusInternalServerError, internalErrorMessage, nil)
}

// Recover turns a panicking handler into a 500 envelope.
func Recover(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					if logger != nil {
						logger.Errorw("panic in handler", "panic", rec, "path", r.URL.Path)
					}
					HandleErrResponse(w, http.StatusInternalServerError, internalErrorMessage, nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Decode reads a JSON body into v, answering 400 when it is malformed.
// It reports whether decoding succeeded.
func Decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		HandleErrResponse(w, http.StatusBadRequest, "Invalid request body.", nil)
		return false
	}
	return true
}

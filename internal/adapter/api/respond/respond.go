package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/V4T54L/postbus/internal/domain"
)

// Error codes used in the response envelope.
const (
	CodeValidation     = "VALIDATION"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeForbidden      = "FORBIDDEN"
	CodeInternal       = "INTERNAL"
	CodeUnavailable    = "UNAVAILABLE"
	CodeUnsupported    = "UNSUPPORTED_MEDIA_TYPE"
	CodeTooLarge       = "PAYLOAD_TOO_LARGE"
	CodeNotFound       = "NOT_FOUND"
	CodeNotImplemented = "NOT_IMPLEMENTED"
)

// JSON writes payload as the response body.
func JSON(w http.ResponseWriter, code int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal JSON response", "error", err)
		Raw(w, http.StatusInternalServerError, []byte(`{"success":false,"error":{"code":"INTERNAL","message":"internal server error"}}`))
		return
	}
	Raw(w, code, body)
}

// Raw writes an already encoded JSON body.
func Raw(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

// Error writes {success:false, error:{code, message}}.
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, domain.ErrorResponse(code, message))
}

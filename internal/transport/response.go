package transport

import (
	"encoding/json"
	"net/http"

	"github.com/Jagard11/Launcher/internal/mcp"
)

// ErrorResponse is the body of every non-2xx API reply.
type ErrorResponse struct {
	Error *mcp.APIError `json:"error"`
}

// statusFor maps API error codes to HTTP status codes.
func statusFor(code string) int {
	switch code {
	case "PROJECT_NOT_FOUND", "SESSION_NOT_FOUND":
		return http.StatusNotFound
	case "PROJECT_REMOVED":
		return http.StatusGone
	case "INVALID_INPUT":
		return http.StatusBadRequest
	case "NO_LAUNCH_COMMAND":
		return http.StatusUnprocessableEntity
	case "SCHEDULER_STOPPED", "UNAVAILABLE":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError maps err to an APIError and writes it with the matching status.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := mcp.MapError(err)
	writeJSON(w, statusFor(apiErr.Code), ErrorResponse{Error: apiErr})
}

// WriteResult writes a 200 JSON response.
func WriteResult(w http.ResponseWriter, result any) {
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

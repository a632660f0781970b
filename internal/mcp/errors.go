package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/domain/session"
	"github.com/Jagard11/Launcher/internal/launch"
	"github.com/Jagard11/Launcher/internal/scheduler"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// APIError represents an MCP error response.
type APIError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Details      any    `json:"details,omitempty"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrUnavailable reports an operation whose backing service is not wired.
var ErrUnavailable = errors.New("feature not available in this mode")

// MapError maps domain errors to MCP error codes. Unknown errors become INTERNAL.
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	switch {
	case errors.Is(err, project.ErrProjectNotFound):
		return &APIError{Code: "PROJECT_NOT_FOUND", Message: "project not found", RecoveryHint: "Use list_projects or search_projects to find the ID"}
	case errors.Is(err, project.ErrProjectRemoved):
		return &APIError{Code: "PROJECT_REMOVED", Message: "project was removed from disk", RecoveryHint: "Run force_rescan if the directory is back; it will get a new ID"}
	case errors.Is(err, project.ErrInvalidInput), errors.Is(err, session.ErrInvalidInput):
		return &APIError{Code: "INVALID_INPUT", Message: err.Error(), RecoveryHint: "Check the tool arguments"}
	case errors.Is(err, session.ErrSessionNotFound):
		return &APIError{Code: "SESSION_NOT_FOUND", Message: "scan session not found", RecoveryHint: "Use get_scan_history"}
	case errors.Is(err, launch.ErrNoCommand):
		return &APIError{Code: "NO_LAUNCH_COMMAND", Message: "no launch command is known for this project", RecoveryHint: "Call force_enrich or edit the launcher script, then reset_script"}
	case errors.Is(err, scheduler.ErrUnknownKind):
		return &APIError{Code: "INVALID_INPUT", Message: err.Error(), RecoveryHint: "kind must be quick or full"}
	case errors.Is(err, scheduler.ErrStopped):
		return &APIError{Code: "SCHEDULER_STOPPED", Message: "the scheduler is not running", RecoveryHint: "Run the server with the scheduler enabled"}
	case errors.Is(err, ErrUnavailable):
		return &APIError{Code: "UNAVAILABLE", Message: err.Error()}
	default:
		return &APIError{Code: "INTERNAL", Message: err.Error()}
	}
}

// toolError renders err as a tool-level error result.
func toolError(err error) *sdkmcp.CallToolResult {
	apiErr := MapError(err)
	data, mErr := json.Marshal(apiErr)
	if mErr != nil {
		data = []byte(apiErr.Error())
	}
	return &sdkmcp.CallToolResult{
		IsError: true,
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(data)}},
	}
}

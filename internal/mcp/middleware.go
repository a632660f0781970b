package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Jagard11/Launcher/internal/metrics"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ErrUnauthorized is returned for requests without a valid bearer token.
var ErrUnauthorized = errors.New("unauthorized")

type contextKey int

const sessionIDKey contextKey = iota

// maxLoggedPayload bounds payloads in debug logs; project listings get large.
const maxLoggedPayload = 2048

// getSessionID returns the MCP session recorded by sessionMiddleware.
func getSessionID(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDKey).(string)
	return v
}

// TokenVerifier checks a bearer token.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) error
}

// isProtocolMethod reports methods every client may call before authenticating.
func isProtocolMethod(method string) bool {
	return method == "initialize" || method == "ping" || strings.HasPrefix(method, "notifications/")
}

// authMiddleware rejects non-protocol requests whose Authorization header does
// not carry a token the verifier accepts.
func authMiddleware(verifier TokenVerifier) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			if isProtocolMethod(method) {
				return next(ctx, method, req)
			}
			token, ok := bearerToken(req)
			switch {
			case !ok:
				return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
			case verifier == nil:
				return nil, fmt.Errorf("%w: no token configured", ErrUnauthorized)
			}
			if err := verifier.VerifyToken(ctx, token); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
			}
			return next(ctx, method, req)
		}
	}
}

func bearerToken(req sdkmcp.Request) (string, bool) {
	extra := req.GetExtra()
	if extra == nil || extra.Header == nil {
		return "", false
	}
	token, ok := strings.CutPrefix(extra.Header.Get("Authorization"), "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

// sessionMiddleware stores the caller's session ID in the context for logging.
func sessionMiddleware() sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			if id := sessionOf(req); id != "" {
				ctx = context.WithValue(ctx, sessionIDKey, id)
			}
			return next(ctx, method, req)
		}
	}
}

// sessionOf prefers the Mcp-Session-Id header and falls back to the transport
// session. Some requests carry a session whose accessors panic, so they are guarded.
func sessionOf(req sdkmcp.Request) (id string) {
	if req == nil {
		return ""
	}
	if extra := req.GetExtra(); extra != nil && extra.Header != nil {
		if id = extra.Header.Get("Mcp-Session-Id"); id != "" {
			return id
		}
	}
	defer func() {
		if recover() != nil {
			id = ""
		}
	}()
	if s := req.GetSession(); s != nil {
		return s.ID()
	}
	return ""
}

// countingMiddleware records every inbound request in metrics.MCPRequests.
func countingMiddleware() sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			result, err := next(ctx, method, req)
			outcome := "ok"
			if err != nil {
				outcome = "error"
			} else if r, ok := result.(*sdkmcp.CallToolResult); ok && r.IsError {
				outcome = "tool_error"
			}
			metrics.MCPRequests.WithLabelValues(method, outcome).Inc()
			return result, err
		}
	}
}

// trafficMiddleware logs requests and responses at debug level.
func trafficMiddleware(logger *slog.Logger, direction string) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			if logger == nil || !logger.Enabled(ctx, slog.LevelDebug) {
				return next(ctx, method, req)
			}

			sessionID := getSessionID(ctx)
			if sessionID == "" {
				sessionID = sessionOf(req)
			}
			log := logger.With("direction", direction, "method", method, "session_id", sessionID)
			log.Debug("mcp request", "params", payload(paramsOf(req)))

			started := time.Now()
			result, err := next(ctx, method, req)
			if strings.HasPrefix(method, "notifications/") {
				return result, err
			}
			if err != nil {
				log.Debug("mcp response", "duration", time.Since(started), "error", err)
			} else {
				log.Debug("mcp response", "duration", time.Since(started), "result", payload(result))
			}
			return result, err
		}
	}
}

func paramsOf(req sdkmcp.Request) (p any) {
	if req == nil {
		return nil
	}
	defer func() {
		if recover() != nil {
			p = nil
		}
	}()
	return req.GetParams()
}

// payload renders v as JSON for a log line, cut at maxLoggedPayload.
func payload(v any) string {
	if v == nil {
		return "<nil>"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T", v)
	}
	if len(data) > maxLoggedPayload {
		return string(data[:maxLoggedPayload]) + "...(truncated)"
	}
	return string(data)
}

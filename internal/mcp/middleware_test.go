package mcp

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

type tokenFunc func(ctx context.Context, token string) error

func (f tokenFunc) VerifyToken(ctx context.Context, token string) error { return f(ctx, token) }

func TestAuthMiddleware(t *testing.T) {
	verifier := tokenFunc(func(_ context.Context, token string) error {
		if token != "secret" {
			return errors.New("bad token")
		}
		return nil
	})
	next := func(context.Context, string, sdkmcp.Request) (sdkmcp.Result, error) {
		return &sdkmcp.CallToolResult{}, nil
	}
	handler := authMiddleware(verifier)(next)

	request := func(auth string) sdkmcp.Request {
		h := http.Header{}
		if auth != "" {
			h.Set("Authorization", auth)
		}
		return &sdkmcp.CallToolRequest{Extra: &sdkmcp.RequestExtra{Header: h}}
	}

	tests := []struct {
		name    string
		method  string
		auth    string
		wantErr bool
	}{
		{"valid token", "tools/call", "Bearer secret", false},
		{"wrong token", "tools/call", "Bearer nope", true},
		{"missing header", "tools/call", "", true},
		{"not bearer", "tools/call", "Basic secret", true},
		{"initialize is open", "initialize", "", false},
		{"notifications are open", "notifications/initialized", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := handler(context.Background(), tt.method, request(tt.auth))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnauthorized)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSessionMiddlewareReadsHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Mcp-Session-Id", "sess-1")
	var got string
	handler := sessionMiddleware()(func(ctx context.Context, _ string, _ sdkmcp.Request) (sdkmcp.Result, error) {
		got = getSessionID(ctx)
		return nil, nil
	})

	_, err := handler(context.Background(), "tools/call", &sdkmcp.CallToolRequest{Extra: &sdkmcp.RequestExtra{Header: h}})
	require.NoError(t, err)
	require.Equal(t, "sess-1", got)
}

func TestPayloadTruncates(t *testing.T) {
	require.Equal(t, "<nil>", payload(nil))
	require.Equal(t, `{"a":1}`, payload(map[string]int{"a": 1}))

	long := payload(strings.Repeat("x", 3*maxLoggedPayload))
	require.True(t, strings.HasSuffix(long, "...(truncated)"))
	require.Len(t, long, maxLoggedPayload+len("...(truncated)"))
}

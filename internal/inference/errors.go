package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
)

var (
	// ErrTimeout means the call did not finish within its deadline.
	ErrTimeout = errors.New("inference timed out")
	// ErrUnavailable means the backend could not be reached or refused service.
	ErrUnavailable = errors.New("inference backend unavailable")
	// ErrMalformed means the backend answered with something unusable.
	ErrMalformed = errors.New("malformed inference output")
)

// IsTransient reports whether a retry could reasonably succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}

// classify maps a client error onto the package sentinels while keeping the cause.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if status := statusCode(err); status != 0 {
		if status == http.StatusTooManyRequests || status >= 500 {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}
	return err
}

func statusCode(err error) int {
	var oaiErr *openai.APIError
	if errors.As(err, &oaiErr) {
		return oaiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode
	}
	return 0
}

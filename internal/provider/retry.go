package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

const defaultMaxRetries = 3

// retryableError indicates a transient failure that can be retried.
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// backoffFunc returns how long to wait before the given retry attempt (1-based).
type backoffFunc func(attempt int) time.Duration

// jitteredBackoff grows quadratically with jitter to prevent thundering herd.
func jitteredBackoff(attempt int) time.Duration {
	base := time.Duration(attempt*attempt) * time.Second
	jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
	return base + jitter
}

// doWithRetry executes an HTTP request, retrying transient errors
// (network failures, 5xx, 429) up to maxRetries times.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), maxRetries int, backoff backoffFunc, logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt)
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
			if attempt < maxRetries {
				logger.Warn("request failed, will retry", "error", err)
				continue
			}
			return nil, fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = &retryableError{statusCode: resp.StatusCode, body: string(body)}
			if attempt < maxRetries {
				logger.Warn("server error, will retry", "status", resp.StatusCode)
				continue
			}
			return nil, fmt.Errorf("server error after %d retries: %w", maxRetries, lastErr)
		}

		return resp, nil
	}

	return nil, lastErr
}

package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

const (
	maxAttempts   = 4
	maxRetryAfter = 30 * time.Second
)

// retryBase scales the backoff; tests shrink it.
var retryBase = time.Second

// statusError is a non-success HTTP status from the oracle.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, e.body)
}

// transient reports whether a status is worth another attempt: throttling,
// timeouts and upstream failures.
func transient(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// backoff is attempt² × retryBase plus up to 50% jitter, or the server's
// Retry-After when it sent one.
func backoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return min(time.Duration(secs)*time.Second, maxRetryAfter)
		}
	}
	base := time.Duration(attempt*attempt) * retryBase
	return base + time.Duration(rand.Int64N(int64(base/2)+1))
}

// doWithRetry sends the request built by newReq, retrying network errors and
// transient statuses. Any other response is returned for the caller to read.
func doWithRetry(ctx context.Context, client *http.Client, newReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var (
		lastErr  error
		lastResp *http.Response
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			wait := backoff(attempt-1, lastResp)
			logger.Warn("retrying oracle request", "attempt", attempt, "backoff", wait, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr, lastResp = err, nil
			continue
		}
		if !transient(resp.StatusCode) {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		lastErr, lastResp = &statusError{code: resp.StatusCode, body: string(body)}, resp
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
}

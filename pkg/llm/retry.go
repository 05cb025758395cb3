package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

const (
	maxRetries     = 3
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 8 * time.Second
)

// statusError is a retryable HTTP status (429 or 5xx). Its body has already
// been drained and closed.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s: %s", e.code, http.StatusText(e.code), e.body)
}

// buildError marks request construction failures, which are never retried.
type buildError struct{ err error }

func (e *buildError) Error() string { return e.err.Error() }
func (e *buildError) Unwrap() error { return e.err }

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

//nolint:bodyclose // *http.Response is a type parameter here, not a live body
func newRetryPolicy(base, maxDelay time.Duration) retrypolicy.RetryPolicy[*http.Response] {
	return retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(_ *http.Response, err error) bool {
			if err == nil {
				return false
			}
			var be *buildError
			if errors.As(err, &be) {
				return false
			}
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}).
		WithMaxRetries(maxRetries).
		WithBackoff(base, maxDelay).
		WithJitterFactor(0.1).
		Build()
}

var defaultRetryPolicy = newRetryPolicy(retryBaseDelay, retryMaxDelay)

// doWithRetry sends the request built by build, retrying network errors,
// 429 and 5xx responses up to maxRetries times with exponential backoff.
// build is called once per attempt so request bodies are fresh.
func doWithRetry(ctx context.Context, client *http.Client, build func() (*http.Request, error)) (*http.Response, error) {
	return doWithPolicy(ctx, client, defaultRetryPolicy, build)
}

func doWithPolicy(ctx context.Context, client *http.Client, policy retrypolicy.RetryPolicy[*http.Response], build func() (*http.Request, error)) (*http.Response, error) {
	resp, err := failsafe.With(policy).WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := build()
		if err != nil {
			return nil, &buildError{err: err}
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if retryableStatus(resp.StatusCode) {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			_ = resp.Body.Close()
			return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

package gateway

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	retryAttempts = 5
	retryDelay    = 1200 * time.Millisecond
	retryMaxDelay = 30 * time.Second

	// rateLimitMaxWait caps how long a single request blocks on a
	// rate-limit reset; longer waits are left to the caller to retry.
	rateLimitMaxWait = 30 * time.Second

	maxRequestSize = 1 * 1024 * 1024
)

// retryStatuses are the transient upstream statuses worth retrying. 520 and
// 522 are Cloudflare origin errors that GitHub intermittently returns.
var retryStatuses = map[int]bool{
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
	520:                           true,
	522:                           true,
}

// retryableError marks a response status that should be retried.
type retryableError struct {
	StatusCode int
}

func (e *retryableError) Error() string {
	return http.StatusText(e.StatusCode)
}

// retryTransport retries transient failures with exponential backoff. The
// request body is buffered once so it can be replayed on each attempt.
type retryTransport struct {
	base   http.RoundTripper
	logger *log.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(io.LimitReader(req.Body, maxRequestSize))
		if err != nil {
			return nil, err
		}
		if err := req.Body.Close(); err != nil {
			t.logger.Printf("close request body: %v", err)
		}
	}

	var resp *http.Response
	err := retry.Do(
		func() error {
			if bodyBytes != nil {
				req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			}
			var err error
			resp, err = base.RoundTrip(req)
			if err != nil {
				return err
			}
			if retryStatuses[resp.StatusCode] {
				drainAndClose(resp)
				t.logger.Printf("retrying %s %s after status %d", req.Method, req.URL, resp.StatusCode)
				return &retryableError{StatusCode: resp.StatusCode}
			}
			return nil
		},
		retry.Context(req.Context()),
		retry.Attempts(retryAttempts),
		retry.Delay(retryDelay),
		retry.MaxDelay(retryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var retryErr *retryableError
			return errors.As(err, &retryErr)
		}),
	)
	if err != nil {
		var retryErr *retryableError
		if errors.As(err, &retryErr) && resp != nil {
			// Attempts exhausted on a retryable status: hand the last
			// response back so the caller sees the real status code.
			return resp, nil
		}
		return nil, err
	}
	return resp, nil
}

// rateLimitTransport handles the secondary rate limit GitHub signals with a
// 403 and X-RateLimit-Remaining: 0. It sleeps until the advertised reset,
// bounded by rateLimitMaxWait, then retries exactly once.
type rateLimitTransport struct {
	base   http.RoundTripper
	logger *log.Logger
	now    func() time.Time
	sleep  func(time.Duration)
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusForbidden {
		return resp, err
	}
	if resp.Header.Get("X-RateLimit-Remaining") != "0" {
		return resp, nil
	}
	reset, perr := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	if perr != nil {
		return resp, nil
	}

	wait := time.Unix(reset, 0).Sub(t.now()) + time.Second
	if wait < 0 {
		wait = 0
	}
	if wait > rateLimitMaxWait {
		wait = rateLimitMaxWait
	}
	drainAndClose(resp)
	t.logger.Printf("rate limited, waiting %s before retrying %s", wait, req.URL)
	t.sleep(wait)

	if req.GetBody != nil {
		body, gerr := req.GetBody()
		if gerr != nil {
			return nil, gerr
		}
		req.Body = body
	}
	return t.base.RoundTrip(req)
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

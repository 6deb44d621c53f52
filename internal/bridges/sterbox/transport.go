package sterbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Transport defaults.
const (
	defaultRequestTimeout   = 5 * time.Second
	defaultTransportRetries = 3
	defaultRetryBackoff     = 500 * time.Millisecond
	maxRetryBackoff         = 2 * time.Minute
	dialTimeout             = 5 * time.Second
	idleConnTimeout         = 90 * time.Second
	maxIdleConnsPerHost     = 2

	// drainLimit bounds how much of a rejected body is read before closing.
	drainLimit = 4 << 10
)

// errRetryableStatus marks a server error answer worth retrying.
var errRetryableStatus = errors.New("retryable server status")

// retryStatuses are the answers retried by the transport.
var retryStatuses = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// retryTransport retries idempotent requests answered with a server error.
//
// Every attempt gets its own timeout. Attempts are spaced with exponential
// backoff starting at backoff (0.5s, 1s, 2s by default). When every retry
// still answers with a server error the request fails with
// ErrRetriesExhausted. Transport errors are returned immediately.
type retryTransport struct {
	next           http.RoundTripper
	maxRetries     int
	backoff        time.Duration
	attemptTimeout time.Duration
	logger         Logger
}

// RoundTrip implements http.RoundTripper.
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return t.next.RoundTrip(req)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = t.backoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = maxRetryBackoff
	policy.MaxElapsedTime = 0
	policy.Reset()

	var (
		resp       *http.Response
		attempts   int
		lastStatus int
	)

	operation := func() error {
		attempts++
		r, err := t.attempt(req)
		if err != nil {
			return backoff.Permanent(err)
		}
		if retryStatuses[r.StatusCode] {
			lastStatus = r.StatusCode
			discard(r)
			return fmt.Errorf("%w: %d", errRetryableStatus, r.StatusCode)
		}
		resp = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		t.logger.Debug("retrying device request",
			"path", req.URL.Path,
			"status", lastStatus,
			"attempt", attempts,
			"wait", wait,
		)
	}

	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(t.maxRetries)), req.Context()),
		notify,
	)
	if err != nil {
		if errors.Is(err, errRetryableStatus) {
			return nil, fmt.Errorf("%w: status %d after %d attempts", ErrRetriesExhausted, lastStatus, attempts)
		}
		return nil, err
	}
	return resp, nil
}

// CloseIdleConnections closes idle connections of the wrapped transport.
func (t *retryTransport) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	if ci, ok := t.next.(closeIdler); ok {
		ci.CloseIdleConnections()
	}
}

// attempt performs one request bounded by the per-attempt timeout.
// The timeout is released when the response body is closed.
func (t *retryTransport) attempt(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), t.attemptTimeout)
	resp, err := t.next.RoundTrip(req.Clone(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases an attempt's context with its body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// discard drains a little of a rejected body so the connection can be reused.
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit)) //nolint:errcheck // Best effort
	resp.Body.Close()                                                 //nolint:errcheck // Best effort
}

// newHTTPClient builds a fresh client with its own connection pool.
func newHTTPClient(cfg SessionConfig, logger Logger) *http.Client {
	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: dialTimeout,
		}).DialContext,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
	}

	return &http.Client{
		Transport: &retryTransport{
			next:           base,
			maxRetries:     cfg.TransportRetries,
			backoff:        cfg.RetryBackoff,
			attemptTimeout: cfg.RequestTimeout,
			logger:         logger,
		},
	}
}

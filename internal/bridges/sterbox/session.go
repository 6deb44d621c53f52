package sterbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// authPath is the device's authentication endpoint; the password goes in q0.
	authPath = "u7.cgi"

	defaultMaxConnectionRetries = 5
	defaultConnectionRetryDelay = 5 * time.Second
	defaultAuthRetryDelay       = time.Second

	// maxResponseSize bounds how much of a device answer is read.
	maxResponseSize = 1 << 20

	redacted = "[REDACTED]"
)

// SessionConfig holds the settings of a device session.
type SessionConfig struct {
	// URL is the device address, with or without scheme ("192.168.1.50").
	URL string

	Password string

	// MaxConnectionRetries bounds CheckConnection's reset and re-authenticate
	// cycles before it gives up. Zero disables them; negative selects 5.
	MaxConnectionRetries int

	// ConnectionRetryDelay is slept after each transport reset. Zero means
	// no pause; negative selects 5s.
	ConnectionRetryDelay time.Duration

	// AuthRetryDelay spaces WaitForAuthentication attempts. Default: 1s.
	AuthRetryDelay time.Duration

	// RequestTimeout bounds each HTTP attempt. Default: 5s.
	RequestTimeout time.Duration

	// TransportRetries and RetryBackoff configure the server error retry.
	// Defaults: 3 retries starting at 0.5s.
	TransportRetries int
	RetryBackoff     time.Duration
}

func (c *SessionConfig) applyDefaults() {
	if c.MaxConnectionRetries < 0 {
		c.MaxConnectionRetries = defaultMaxConnectionRetries
	}
	if c.ConnectionRetryDelay < 0 {
		c.ConnectionRetryDelay = defaultConnectionRetryDelay
	}
	if c.AuthRetryDelay <= 0 {
		c.AuthRetryDelay = defaultAuthRetryDelay
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.TransportRetries <= 0 {
		c.TransportRetries = defaultTransportRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
}

// Response is a device answer with its body fully read.
type Response struct {
	StatusCode int
	Body       string
}

// Session owns the HTTP connection to the device.
//
// It authenticates, runs queries and recovers from connection loss by
// replacing its transport wholesale. Replacement waits for in-flight
// requests to finish.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Session struct {
	cfg     SessionConfig
	baseURL *url.URL
	logger  Logger

	mu     sync.RWMutex
	client *http.Client

	retries       atomic.Int32
	authenticated atomic.Bool
	resets        atomic.Uint64

	// sleep waits between recovery attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSession creates a session for the device at cfg.URL.
// No request is made until Authenticate is called.
func NewSession(cfg SessionConfig, logger Logger) (*Session, error) {
	cfg.applyDefaults()

	base, err := parseBaseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	return &Session{
		cfg:     cfg,
		baseURL: base,
		logger:  logger,
		client:  newHTTPClient(cfg, logger),
		sleep:   sleepContext,
	}, nil
}

// parseBaseURL accepts "host", "host:port" or a full http(s) URL and returns
// it with a trailing slash so query fragments can be appended.
func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("sterbox: device url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("sterbox: invalid device url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("sterbox: unsupported device url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("sterbox: device url %q has no host", raw)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// BaseURL returns the device address every request is built from.
func (s *Session) BaseURL() string {
	return s.baseURL.String()
}

// Authenticated reports whether the last authentication attempt succeeded.
func (s *Session) Authenticated() bool {
	return s.authenticated.Load()
}

// ConnectionRetries returns the current connection-recovery attempt count.
func (s *Session) ConnectionRetries() int {
	return int(s.retries.Load())
}

// Resets returns how many times the transport has been replaced.
func (s *Session) Resets() uint64 {
	return s.resets.Load()
}

// Get requests base URL + path. The path is appended verbatim, since query
// fragments carry device syntax that must not be re-encoded.
//
// Returns:
//   - *Response: Status and body for any HTTP answer, including errors
//   - error: ErrConnectionFailed or ErrRetriesExhausted when no usable
//     answer arrived, or the context error on shutdown
func (s *Session) Get(ctx context.Context, path string) (*Response, error) {
	target := s.baseURL.String() + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("building device request: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, ErrRetriesExhausted) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrConnectionFailed, err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: string(body)}, nil
}

// Authenticate performs the login handshake.
//
// Only an HTTP 200 counts as success; the body is ignored. Failures are
// logged and reported as false. Success clears the connection retry count.
func (s *Session) Authenticate(ctx context.Context) bool {
	err := s.authenticate(ctx)
	if err != nil {
		s.authenticated.Store(false)
		s.logger.Debug("authentication attempt failed", "error", err)
		return false
	}

	s.retries.Store(0)
	s.authenticated.Store(true)
	s.logger.Info("authenticated with device", "url", s.BaseURL())
	return true
}

func (s *Session) authenticate(ctx context.Context) error {
	escaped := url.QueryEscape(s.cfg.Password)

	resp, err := s.Get(ctx, authPath+"?q0="+escaped)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrAuthenticationFailed, redact(err.Error(), escaped))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrAuthenticationFailed, resp.StatusCode)
	}
	return nil
}

// redact hides the password in error text that embeds the request URL.
func redact(text, secret string) string {
	if secret == "" {
		return text
	}
	return strings.ReplaceAll(text, secret, redacted)
}

// WaitForAuthentication retries Authenticate every AuthRetryDelay until it
// succeeds. It gives up only when ctx is cancelled.
func (s *Session) WaitForAuthentication(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		if s.Authenticate(ctx) {
			if attempt > 1 {
				s.logger.Info("authentication restored", "attempts", attempt)
			}
			return nil
		}
		if attempt == 1 {
			s.logger.Warn("device authentication failed, retrying until it succeeds",
				"url", s.BaseURL(),
				"retry_delay", s.cfg.AuthRetryDelay,
			)
		}
		if err := s.sleep(ctx, s.cfg.AuthRetryDelay); err != nil {
			return err
		}
	}
}

// CheckConnection requests the device root.
//
// When the device answers 200 the retry count is cleared. Otherwise, while
// fewer than MaxConnectionRetries attempts were made, it replaces the
// transport, waits ConnectionRetryDelay and returns the result of one
// Authenticate. Once the attempts are spent it returns false without
// retrying; callers fall back to WaitForAuthentication.
func (s *Session) CheckConnection(ctx context.Context) bool {
	resp, err := s.Get(ctx, "")
	if err == nil && resp.StatusCode == http.StatusOK {
		s.retries.Store(0)
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	if err != nil {
		s.logger.Debug("connection check failed", "error", err)
	} else {
		s.logger.Debug("connection check failed", "status", resp.StatusCode)
	}

	if int(s.retries.Load()) >= s.cfg.MaxConnectionRetries {
		s.logger.Warn("connection retries exhausted",
			"max_retries", s.cfg.MaxConnectionRetries,
		)
		return false
	}

	attempt := s.retries.Add(1)
	s.logger.Info("reconnecting to device",
		"attempt", attempt,
		"max_retries", s.cfg.MaxConnectionRetries,
	)

	s.Reset()

	if err := s.sleep(ctx, s.cfg.ConnectionRetryDelay); err != nil {
		return false
	}
	return s.Authenticate(ctx)
}

// Reset replaces the HTTP transport and marks the session unauthenticated.
// It blocks until in-flight requests on the old transport complete.
func (s *Session) Reset() {
	fresh := newHTTPClient(s.cfg, s.logger)

	s.mu.Lock()
	old := s.client
	s.client = fresh
	s.mu.Unlock()

	old.CloseIdleConnections()
	s.authenticated.Store(false)
	s.resets.Add(1)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// userAgent identifies this client to the remote service.
const userAgent = "accountsync/0.1"

// TokenSource provides the bearer token for one destination (user-own or a
// linked notebook). Defined at the consumer per "accept interfaces, return
// structs" — the authentication-info provider implements this indirectly
// via a small adapter rather than remote importing internal/sync.
type TokenSource interface {
	Token() (string, error)
}

// RetryPolicy bundles the knobs named in §6.2's request context: max retry
// count and the exponential-backoff shape. Cloned per call, never mutated.
type RetryPolicy struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxRetries     int
	JitterFraction float64
}

// newBackOff builds a cenkalti/backoff ExponentialBackOff from the policy,
// capped at MaxRetries retries after the first attempt via
// backoff.WithMaxRetries.
func (p RetryPolicy) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.MaxInterval = p.MaxDelay
	eb.RandomizationFactor = p.JitterFraction
	eb.Multiplier = 2.0
	eb.MaxElapsedTime = 0 // bounded by MaxRetries, not wall-clock

	return backoff.WithMaxRetries(eb, uint64(p.MaxRetries))
}

// Client is an HTTP client for the Evernote-compatible note-store/user-store
// wire protocol. It handles request construction, bearer authentication,
// retry with exponential backoff, and error classification. Rate-limit and
// auth-expired responses are never retried here — they are returned as
// typed errors for the caller (internal/sync) to translate into a
// StopSynchronizationError.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	retry      RetryPolicy
	logger     *slog.Logger
}

// NewClient creates a wire-protocol client for one note-store or user-store
// endpoint. baseURL is the noteStoreUrl / userStoreUrl named in §3's
// AuthenticationInfo.
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, retry RetryPolicy, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		retry:      retry,
		logger:     logger,
	}
}

// Do executes an authenticated request against the wire protocol, retrying
// transient failures per the client's RetryPolicy. The caller closes the
// response body on success. On a non-retryable error, returns *Error
// wrapping a sentinel (use errors.Is to classify).
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	bo := backoff.WithContext(c.retry.newBackOff(), ctx)

	var (
		resp    *http.Response
		attempt int
	)

	op := func() error {
		r, err := c.doOnce(ctx, method, path, body)
		if err != nil {
			return err
		}

		if r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices {
			resp = r
			return nil
		}

		errBody, readErr := io.ReadAll(r.Body)
		r.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		reqID := r.Header.Get("x-request-id")
		remoteErr := c.classify(r.StatusCode, reqID, errBody, r)

		// Rate-limit and auth-expired bypass the retry policy entirely
		// (§7); the caller translates these into StopSynchronizationError.
		if errIsTerminalForRun(remoteErr) {
			return backoff.Permanent(remoteErr)
		}

		if isRetryable(r.StatusCode) {
			attempt++
			c.logger.Warn("remote: retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", r.StatusCode),
				slog.Int("attempt", attempt),
			)

			return remoteErr
		}

		return backoff.Permanent(remoteErr)
	}

	if err := backoff.Retry(op, bo); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("remote: request canceled: %w", ctx.Err())
		}

		return nil, err
	}

	return resp, nil
}

// errIsTerminalForRun reports whether err is a rate-limit or auth-expired
// condition, which must never be retried transparently — they propagate to
// the Account Synchronizer's outer loop instead (§4.10).
func errIsTerminalForRun(err error) bool {
	re, ok := err.(*Error)
	if !ok {
		return false
	}

	return re.Err == ErrRateLimited || re.Err == ErrAuthExpired
}

// doOnce executes a single HTTP request without retry.
func (c *Client) doOnce(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("remote: creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("remote: obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("remote: HTTP request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return nil, err
	}

	return resp, nil
}

// classify builds an *Error from a terminal (non-2xx) response, honoring
// Retry-After for 429s per §6.2's rate-limit contract.
func (c *Client) classify(statusCode int, reqID string, body []byte, resp *http.Response) *Error {
	waitS := 0
	if statusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				waitS = seconds
			}
		}
	}

	return &Error{
		StatusCode:     statusCode,
		RequestID:      reqID,
		Message:        string(body),
		RateLimitWaitS: waitS,
		Err:            classifyStatus(statusCode),
	}
}

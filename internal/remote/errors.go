// Package remote implements the wire-protocol client consumed by the
// Account Synchronizer: note-store and user-store calls, request-context
// retry policy, and the OAuth2 authentication exchange (§6.2).
package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for remote response classification. Use errors.Is(err,
// remote.ErrRateLimited) to check; StopSynchronizationError construction
// (internal/sync/errors.go) is driven by these, never by raw status codes.
var (
	ErrBadRequest   = errors.New("remote: bad request")
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrRateLimited  = errors.New("remote: rate limit reached")
	ErrAuthExpired  = errors.New("remote: authentication expired")
	ErrNotFound     = errors.New("remote: not found")
	ErrConflict     = errors.New("remote: conflict")
	ErrShardMoved   = errors.New("remote: shard moved, reauthenticate")
	ErrServerError  = errors.New("remote: server error")
	ErrInvalidArg   = errors.New("remote: invalid argument")
)

// Error wraps a sentinel with the status code, request id, a message body,
// and — for rate-limit responses — the server's suggested wait.
type Error struct {
	StatusCode     int
	RequestID      string
	Message        string
	RateLimitWaitS int // seconds the server asked us to wait; 0 if unspecified
	Err            error
}

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("remote: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("remote: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error. Returns nil
// for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrAuthExpired
	case http.StatusForbidden:
		return ErrShardMoved
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried
// by the request-context backoff policy. Rate-limit and auth-expired bypass
// this policy entirely (§7) and are instead surfaced as a
// StopSynchronizationError by the caller.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

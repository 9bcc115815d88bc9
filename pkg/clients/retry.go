// Package clients provides the HTTP client stack used to talk to upstream
// APIs: request execution with connection pooling, bearer-token attachment,
// rate limiting, circuit breaking, and status-aware retry decisions.
package clients

import (
	"net/http"
	"strconv"
	"time"
)

// RetryReason classifies why a request is being retried. It feeds the retry
// metrics label, so values stay low-cardinality.
type RetryReason string

const (
	// RetryRateLimit means the upstream answered 429.
	RetryRateLimit RetryReason = "rate_limit"
	// RetryServerError means the upstream answered a transient 5xx.
	RetryServerError RetryReason = "server_error"
	// RetryTransport means the request never produced a response.
	RetryTransport RetryReason = "transport"
)

// RetryDecision is the outcome of consulting the policy for one failed
// request attempt.
type RetryDecision struct {
	Retry  bool
	Wait   time.Duration
	Reason RetryReason
}

// fatal is the zero decision: do not retry.
var fatal = RetryDecision{}

// RetryPolicy decides, per HTTP response, whether a request should be
// retried and how long to wait first.
//
// Retryable statuses are 429 and the transient server errors 500, 502, 503
// and 504. Every other non-2xx status is fatal on any attempt. A 429 waits
// for the Retry-After header when present and parseable, otherwise
// RetryAfterFallback. Server errors wait 2^attempt seconds. Once attempt
// reaches MaxAttempts the decision turns fatal regardless of status.
//
// The policy is stateless; the caller passes the attempt number and reuses
// the identical query body on retry, so cursor state never advances for a
// page that has not succeeded.
type RetryPolicy struct {
	// MaxAttempts is the attempt ceiling, inclusive of the first try.
	MaxAttempts int
	// RetryAfterFallback is the 429 wait when the header is absent or
	// unparseable.
	RetryAfterFallback time.Duration
}

// DefaultRetryAfterFallback is the 429 wait used when the upstream does not
// say how long to back off.
const DefaultRetryAfterFallback = 60 * time.Second

// NewRetryPolicy returns a policy with the given attempt ceiling.
func NewRetryPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        maxAttempts,
		RetryAfterFallback: DefaultRetryAfterFallback,
	}
}

// Retryable reports whether a status code is ever worth retrying.
func Retryable(status int) bool {
	switch status {
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

// Decide returns the retry decision for a non-2xx response. attempt is
// 1-based and counts tries already made, so the first failure of a request
// is attempt 1.
func (p RetryPolicy) Decide(status int, header http.Header, attempt int) RetryDecision {
	if attempt >= p.MaxAttempts {
		return fatal
	}

	switch status {
	case http.StatusTooManyRequests:
		return RetryDecision{Retry: true, Wait: p.retryAfter(header), Reason: RetryRateLimit}

	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return RetryDecision{Retry: true, Wait: backoff(attempt), Reason: RetryServerError}

	default:
		return fatal
	}
}

// DecideTransport returns the retry decision for a request that failed
// before producing a response (connection refused, timeout, reset).
func (p RetryPolicy) DecideTransport(attempt int) RetryDecision {
	if attempt >= p.MaxAttempts {
		return fatal
	}
	return RetryDecision{Retry: true, Wait: backoff(attempt), Reason: RetryTransport}
}

func (p RetryPolicy) retryAfter(header http.Header) time.Duration {
	raw := header.Get("Retry-After")
	if raw == "" {
		return p.RetryAfterFallback
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return p.RetryAfterFallback
	}
	return time.Duration(secs) * time.Second
}

// backoff is exponential in whole seconds: attempt 1 waits 2s, attempt 3
// waits 8s.
func backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

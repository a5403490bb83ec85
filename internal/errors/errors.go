// Package errors provides error classification, retry with backoff and a
// circuit breaker for calls to external bar providers.
package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/johnayoung/go-ohlcv-ingest/internal/config"
)

// ErrorType represents the classification of an error
type ErrorType string

const (
	// Retryable error types
	ErrorTypeNetwork     ErrorType = "network"      // Network connectivity issues
	ErrorTypeTimeout     ErrorType = "timeout"      // Request timeout
	ErrorTypeRateLimit   ErrorType = "rate_limit"   // Rate limiting from external service
	ErrorTypeServerError ErrorType = "server_error" // HTTP 5xx errors
	ErrorTypeTemporary   ErrorType = "temporary"    // Temporary failures
	ErrorTypeCircuitOpen ErrorType = "circuit_open" // Circuit breaker is open

	// Non-retryable error types
	ErrorTypeAuthentication ErrorType = "authentication" // Authentication/authorization failures
	ErrorTypeBadRequest     ErrorType = "bad_request"    // HTTP 4xx errors (except rate limit)
	ErrorTypeValidation     ErrorType = "validation"     // Data validation errors
	ErrorTypeConfiguration  ErrorType = "configuration"  // Configuration errors

	// Special error types
	ErrorTypeUnknown ErrorType = "unknown" // Unclassified errors
)

// Severity represents the severity level of an error
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ClassifiedError represents an error with metadata for handling decisions
type ClassifiedError struct {
	Err       error     `json:"error"`
	Type      ErrorType `json:"type"`
	Severity  Severity  `json:"severity"`
	Retryable bool      `json:"retryable"`
	Component string    `json:"component"`
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
	Attempts  int       `json:"attempts"`
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %v", ce.Component, ce.Type, ce.Operation, ce.Err)
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Is matches another ClassifiedError by type, otherwise defers to the wrapped error.
func (ce *ClassifiedError) Is(target error) bool {
	if t, ok := target.(*ClassifiedError); ok {
		return ce.Type == t.Type
	}
	return errors.Is(ce.Err, target)
}

// StatusError is returned by HTTP adapters for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, body)
}

// ErrorClassifier classifies errors and runs retries according to the
// configured policies.
type ErrorClassifier struct {
	config config.ErrorHandlingConfig
	logger *slog.Logger
}

// NewErrorClassifier creates a new error classifier with the given configuration
func NewErrorClassifier(cfg config.ErrorHandlingConfig, logger *slog.Logger) *ErrorClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorClassifier{config: cfg, logger: logger}
}

// Classify analyzes an error and returns a ClassifiedError with retry metadata
func (ec *ErrorClassifier) Classify(err error, component, operation string) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	errorType := ClassifyType(err)
	classified := &ClassifiedError{
		Err:       err,
		Type:      errorType,
		Severity:  severityOf(errorType),
		Retryable: ec.isRetryable(errorType),
		Component: component,
		Operation: operation,
		Timestamp: time.Now(),
	}

	ec.logger.Debug("error classified",
		"type", errorType,
		"severity", classified.Severity.String(),
		"retryable", classified.Retryable,
		"component", component,
		"operation", operation,
		"error", err.Error())

	return classified
}

// ClassifyType determines the error type from typed errors first, then from
// the message text.
func ClassifyType(err error) ErrorType {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Type
	}

	var se *StatusError
	if errors.As(err, &se) {
		return typeForStatus(se.StatusCode)
	}

	if isTimeoutError(err) {
		return ErrorTypeTimeout
	}
	if isNetworkError(err) {
		return ErrorTypeNetwork
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case containsAny(errStr, "rate limit", "too many requests", "quota exceeded", "429"):
		return ErrorTypeRateLimit
	case containsAny(errStr, "unauthorized", "forbidden", "authentication", "invalid credentials", "api key"):
		return ErrorTypeAuthentication
	case containsAny(errStr, "server error", "internal server", "service unavailable", "bad gateway"):
		return ErrorTypeServerError
	case containsAny(errStr, "not configured", "missing required", "config"):
		return ErrorTypeConfiguration
	case containsAny(errStr, "validation", "invalid", "malformed", "parse", "unmarshal"):
		return ErrorTypeValidation
	case containsAny(errStr, "temporar", "try again", "unavailable"):
		return ErrorTypeTemporary
	}
	return ErrorTypeUnknown
}

func typeForStatus(code int) ErrorType {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorTypeAuthentication
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case code >= 500:
		return ErrorTypeServerError
	case code >= 400:
		return ErrorTypeBadRequest
	}
	return ErrorTypeUnknown
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// isNetworkError checks if the error is network-related
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return containsAny(strings.ToLower(err.Error()),
		"connection refused",
		"connection reset",
		"connection aborted",
		"no route to host",
		"host unreachable",
		"network unreachable",
		"no such host",
		"eof",
	)
}

// isTimeoutError checks if the error is timeout-related
func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return containsAny(strings.ToLower(err.Error()), "timeout", "deadline exceeded", "timed out")
}

// severityOf assigns a severity level based on error type
func severityOf(errorType ErrorType) Severity {
	switch errorType {
	case ErrorTypeAuthentication, ErrorTypeConfiguration:
		return SeverityHigh
	case ErrorTypeValidation, ErrorTypeBadRequest:
		return SeverityMedium
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeTemporary, ErrorTypeCircuitOpen:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// IsTransientType reports whether errors of this type may succeed on a later attempt.
func IsTransientType(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit,
		ErrorTypeServerError, ErrorTypeTemporary, ErrorTypeCircuitOpen:
		return true
	}
	return false
}

// isRetryable determines if an error type should be retried
func (ec *ErrorClassifier) isRetryable(errorType ErrorType) bool {
	for _, retryableType := range ec.config.GlobalRetryPolicy.RetryableErrors {
		if string(errorType) == retryableType {
			return true
		}
	}
	return IsTransientType(errorType)
}

// Retry executes fn until it succeeds, returns a non-retryable error, the
// policy for component is exhausted, or ctx is done.
func (ec *ErrorClassifier) Retry(ctx context.Context, component, operation string, fn func() error) error {
	policy := ec.policyFor(component)
	strategy := backoff.WithContext(NewBackoff(policy), ctx)

	attempts := 0
	var last *ClassifiedError

	op := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}

		last = ec.Classify(err, component, operation)
		last.Attempts = attempts

		ec.logger.Warn("operation failed",
			"component", component,
			"operation", operation,
			"attempt", attempts,
			"max_attempts", policy.MaxAttempts,
			"error_type", last.Type,
			"retryable", last.Retryable,
			"error", err.Error())

		if !last.Retryable {
			return backoff.Permanent(last)
		}
		return last
	}

	err := backoff.Retry(op, strategy)
	if err == nil {
		if attempts > 1 {
			ec.logger.Debug("operation succeeded after retry",
				"component", component,
				"operation", operation,
				"attempts", attempts)
		}
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && last != nil && last.Retryable {
		return fmt.Errorf("context done during retry: %w", ctxErr)
	}
	return fmt.Errorf("operation failed after %d attempts: %w", attempts, err)
}

// policyFor returns the retry policy for a component
func (ec *ErrorClassifier) policyFor(component string) config.RetryPolicyConfig {
	if policy, ok := ec.config.ComponentPolicies[component]; ok {
		return policy
	}
	return ec.config.GlobalRetryPolicy
}

// NewBackoff creates a backoff strategy from a retry policy. MaxAttempts
// counts the first call, so a policy of 1 never retries.
func NewBackoff(policy config.RetryPolicyConfig) backoff.BackOff {
	initialDelay, _ := time.ParseDuration(policy.InitialDelay)
	maxDelay, _ := time.ParseDuration(policy.MaxDelay)
	if maxDelay < initialDelay {
		maxDelay = initialDelay
	}

	var strategy backoff.BackOff
	switch policy.BackoffStrategy {
	case "fixed":
		strategy = backoff.NewConstantBackOff(initialDelay)
	case "linear":
		strategy = &LinearBackoff{interval: initialDelay, max: maxDelay}
	default:
		exponential := backoff.NewExponentialBackOff()
		exponential.InitialInterval = initialDelay
		exponential.MaxInterval = maxDelay
		exponential.MaxElapsedTime = 0
		if !policy.Jitter {
			exponential.RandomizationFactor = 0
		}
		exponential.Reset()
		strategy = exponential
	}

	if policy.Jitter && policy.BackoffStrategy != "" && policy.BackoffStrategy != "exponential" {
		strategy = &JitteredBackoff{BackOff: strategy}
	}

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return backoff.WithMaxRetries(strategy, uint64(maxAttempts-1))
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	name   string
	config config.CircuitBreakerConfig

	mu           sync.Mutex
	state        CircuitState
	failures     int
	nextRetry    time.Time
	testRequests int
	now          func() time.Time
}

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String returns the string representation of the circuit state
func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, cfg config.CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = 1
	}
	return &CircuitBreaker{
		name:   name,
		config: cfg,
		state:  CircuitClosed,
		now:    time.Now,
	}
}

// Call executes fn through the circuit breaker. While open it returns a
// retryable ClassifiedError of type circuit_open without calling fn.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allowRequest() {
		return &ClassifiedError{
			Err:       fmt.Errorf("circuit breaker is open for %s", cb.name),
			Type:      ErrorTypeCircuitOpen,
			Severity:  SeverityLow,
			Retryable: true,
			Component: "circuit_breaker",
			Operation: cb.name,
			Timestamp: cb.now(),
		}
	}

	err := fn()
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Before(cb.nextRetry) {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.testRequests = 0
		return true
	case CircuitHalfOpen:
		return cb.testRequests < cb.config.HalfOpenRequests
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.onSuccess()
	} else {
		cb.onFailure()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case CircuitHalfOpen:
		cb.testRequests++
		if cb.testRequests >= cb.config.HalfOpenRequests {
			cb.state = CircuitClosed
			cb.failures = 0
			cb.testRequests = 0
		}
	case CircuitClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.open()
		}
	case CircuitHalfOpen:
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	timeout, _ := time.ParseDuration(cb.config.RecoveryTimeout)
	cb.state = CircuitOpen
	cb.testRequests = 0
	cb.nextRetry = cb.now().Add(timeout)
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// LinearBackoff grows the delay by a fixed interval up to max.
type LinearBackoff struct {
	interval time.Duration
	max      time.Duration
	current  time.Duration
}

// NextBackOff returns the next backoff interval
func (lb *LinearBackoff) NextBackOff() time.Duration {
	lb.current += lb.interval
	if lb.max > 0 && lb.current > lb.max {
		lb.current = lb.max
	}
	return lb.current
}

// Reset resets the backoff to its initial state
func (lb *LinearBackoff) Reset() {
	lb.current = 0
}

// JitteredBackoff adds ±10% jitter to another backoff strategy
type JitteredBackoff struct {
	backoff.BackOff
}

// NextBackOff returns the next backoff interval with jitter
func (jb *JitteredBackoff) NextBackOff() time.Duration {
	next := jb.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}

	jitter := float64(next) * 0.1
	offset := (2*rand.Float64() - 1) * jitter
	return next + time.Duration(offset)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// GetErrorType extracts the error type from a classified error
func GetErrorType(err error) ErrorType {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ErrorTypeUnknown
}

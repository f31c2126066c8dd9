// Package core implements the session pool, perception engine, tool
// registry, and coordinated executor that drive a browser on behalf of
// an AI intent.
package core

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy every failure in the core is classified
// into before it crosses a component boundary. Raw driver errors are always
// wrapped into one of these kinds; none are allowed to leak unclassified.
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindInvalidInput     ErrorKind = "invalid_input"
	KindInvalidOutput    ErrorKind = "invalid_output"
	KindTimeout          ErrorKind = "timeout"
	KindElementNotFound  ErrorKind = "element_not_found"
	KindNavigationFailed ErrorKind = "navigation_failed"
	KindJavaScriptError  ErrorKind = "javascript_error"
	KindExecutionFailed  ErrorKind = "execution_failed"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindRateLimit        ErrorKind = "rate_limit"
	KindCacheError       ErrorKind = "cache_error"
	KindPoolExhausted    ErrorKind = "pool_exhausted"
	KindBrowserUnavailable ErrorKind = "browser_unavailable"
)

// retryable reports whether a transient failure of this kind is worth
// retrying by the coordinated executor.
func (k ErrorKind) retryable() bool {
	switch k {
	case KindTimeout, KindJavaScriptError:
		return true
	default:
		return false
	}
}

// CoreError is the single sum type carrying the error taxonomy. It wraps
// the underlying cause (a raw driver/runtime error, or nil) and optional
// context fields useful to a caller deciding what to do next.
type CoreError struct {
	Kind    ErrorKind
	Message string
	Cause   error
	// Context carries structured extras, e.g. fuzzy-match alternatives for
	// ElementNotFound or the tool name for ExecutionFailed.
	Context map[string]interface{}
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, core.Timeout) style sentinel comparisons against
// a zero-value CoreError of the target kind.
func (e *CoreError) Is(target error) bool {
	var other *CoreError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// Retryable reports whether the coordinated executor should retry this
// failure with backoff before surfacing it to the caller.
func (e *CoreError) Retryable() bool { return e.Kind.retryable() }

// New builds a CoreError of the given kind with a message and no cause.
func New(kind ErrorKind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Wrap classifies an arbitrary error into the taxonomy, attaching it as the
// cause. Use this at every boundary where a raw driver error is observed.
func Wrap(kind ErrorKind, message string, cause error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Cause: cause}
}

// WithContext returns a copy of e with the given context key set, for
// chaining at the call site: return core.Wrap(...).WithContext("tool", name).
func (e *CoreError) WithContext(key string, value interface{}) *CoreError {
	cp := *e
	cp.Context = make(map[string]interface{}, len(e.Context)+1)
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	cp.Context[key] = value
	return &cp
}

// Sentinel zero-value errors for errors.Is comparisons, e.g.
// errors.Is(err, core.Timeout).
var (
	Timeout          = &CoreError{Kind: KindTimeout}
	ElementNotFound  = &CoreError{Kind: KindElementNotFound}
	NavigationFailed = &CoreError{Kind: KindNavigationFailed}
	JavaScriptError  = &CoreError{Kind: KindJavaScriptError}
	ExecutionFailed  = &CoreError{Kind: KindExecutionFailed}
	PermissionDenied = &CoreError{Kind: KindPermissionDenied}
	RateLimit        = &CoreError{Kind: KindRateLimit}
	InvalidInput     = &CoreError{Kind: KindInvalidInput}
	InvalidOutput    = &CoreError{Kind: KindInvalidOutput}
	CacheError       = &CoreError{Kind: KindCacheError}
	PoolExhausted    = &CoreError{Kind: KindPoolExhausted}
	BrowserUnavailable = &CoreError{Kind: KindBrowserUnavailable}
	NotFound         = &CoreError{Kind: KindNotFound}
)

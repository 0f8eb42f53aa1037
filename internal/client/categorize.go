package client

import (
	"context"
	"errors"
	"strings"

	"github.com/kjstillabower/weather-report/internal/circuitbreaker"
)

// ErrorCategory is a stable label for error classification in metrics and logs.
type ErrorCategory string

const (
	ErrorCategoryTimeout     ErrorCategory = "timeout"
	ErrorCategoryCanceled    ErrorCategory = "canceled"
	ErrorCategoryNetwork     ErrorCategory = "network"
	ErrorCategoryRateLimited ErrorCategory = "rate_limited"
	ErrorCategoryUpstream4xx ErrorCategory = "upstream_4xx"
	ErrorCategoryUpstream5xx ErrorCategory = "upstream_5xx"
	ErrorCategoryParsing     ErrorCategory = "parsing"
	ErrorCategoryBreakerOpen ErrorCategory = "breaker_open"
	ErrorCategoryUnknown     ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.Canceled) {
		return ErrorCategoryCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCategoryTimeout
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return ErrorCategoryBreakerOpen
	}
	if errors.Is(err, ErrRateLimited) {
		return ErrorCategoryRateLimited
	}
	if code := StatusCode(err); code >= 500 {
		return ErrorCategoryUpstream5xx
	} else if code >= 400 {
		return ErrorCategoryUpstream4xx
	}
	if errors.Is(err, ErrMalformedResponse) {
		return ErrorCategoryParsing
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return ErrorCategoryTimeout
	}
	if errors.Is(err, ErrUnreachable) || strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") {
		return ErrorCategoryNetwork
	}
	if strings.Contains(errStr, "parse") || strings.Contains(errStr, "unmarshal") {
		return ErrorCategoryParsing
	}

	return ErrorCategoryUnknown
}

// FailureReason is the short operator-facing reason printed in a report line
// when no HTTP status is available.
func FailureReason(err error) string {
	switch CategorizeError(err) {
	case ErrorCategoryBreakerOpen:
		return "weather provider unavailable"
	case ErrorCategoryParsing:
		return "malformed response"
	case ErrorCategoryCanceled:
		return "request canceled"
	default:
		return "weather provider unreachable"
	}
}

package extract

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/law-makers/harvest/pkg/models"
)

// Common extraction errors
var (
	ErrQuotaExhausted = NewError(models.KindQuotaExhausted, "credential quota exhausted", nil)
	ErrNotFound       = NewError(models.KindNotFound, "no contact info found", nil)
	ErrPoolExhausted  = NewError(models.KindPoolExhausted, "no credentials available", nil)
)

// Error wraps a failure with its classification
type Error struct {
	Kind       models.ErrorKind
	Message    string
	StatusCode int
	Underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is matches another *Error by Kind
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// NewError creates a new Error
func NewError(kind models.ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Underlying: err}
}

// WithStatus records the HTTP status that produced the error
func (e *Error) WithStatus(code int) *Error {
	e.StatusCode = code
	return e
}

// GetStatusCode exposes the HTTP status for retry decisions
func (e *Error) GetStatusCode() int {
	return e.StatusCode
}

var quotaPatterns = []string{
	"quota",
	"billing",
	"credit",
	"payment required",
	"usage limit",
	"monthly limit",
	"limit exceeded",
	"insufficient",
	"not enough usage",
	"service unavailable",
	"rate limit",
	"platform-feature-disabled",
}

var notFoundPatterns = []string{
	"no contact",
	"not found",
	"no results",
	"no data",
}

// Classify maps err onto the failure taxonomy.
// Typed errors win over message matching.
func Classify(err error) models.ErrorKind {
	if err == nil {
		return models.KindNone
	}

	var e *Error
	if errors.As(err, &e) && e.Kind != models.KindNone {
		return e.Kind
	}

	if errors.Is(err, context.Canceled) {
		return models.KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.KindTransientNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return models.KindTransientNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, p := range quotaPatterns {
		if strings.Contains(msg, p) {
			return models.KindQuotaExhausted
		}
	}
	for _, p := range notFoundPatterns {
		if strings.Contains(msg, p) {
			return models.KindNotFound
		}
	}
	return models.KindUnknown
}

// Rotatable reports whether a failure of this kind should be retried with
// another credential
func Rotatable(kind models.ErrorKind) bool {
	return kind == models.KindQuotaExhausted
}

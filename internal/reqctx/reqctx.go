// Package reqctx carries per-request identity through a context.
package reqctx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type key int

const requestKey key = 0

// HeaderRequestID is the header a caller may use to supply its own id
const HeaderRequestID = "X-Request-ID"

type RequestContext struct {
	RequestID string
	StartTime time.Time
}

// WithRequestContext attaches a RequestContext with a fresh id
func WithRequestContext(ctx context.Context) context.Context {
	return WithRequestID(ctx, "")
}

// WithRequestID attaches a RequestContext using id, or a fresh id when
// id is empty or longer than 128 bytes
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" || len(id) > 128 {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, requestKey, &RequestContext{
		RequestID: id,
		StartTime: time.Now(),
	})
}

func GetRequestContext(ctx context.Context) *RequestContext {
	if rc, ok := ctx.Value(requestKey).(*RequestContext); ok {
		return rc
	}
	return &RequestContext{
		RequestID: "unknown",
		StartTime: time.Now(),
	}
}

// RequestID returns the id stored in ctx, or "unknown"
func RequestID(ctx context.Context) string {
	return GetRequestContext(ctx).RequestID
}

// RequestError wraps an error with request context
type RequestError struct {
	RequestID string
	Err       error
}

// Error implements the error interface
func (e *RequestError) Error() string {
	return fmt.Sprintf("[%s] %v", e.RequestID, e.Err)
}

// Unwrap returns the underlying error
func (e *RequestError) Unwrap() error {
	return e.Err
}

// NewRequestError creates a new RequestError from context
func NewRequestError(ctx context.Context, err error) error {
	rc := GetRequestContext(ctx)
	return &RequestError{
		RequestID: rc.RequestID,
		Err:       err,
	}
}

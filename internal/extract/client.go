// Package extract defines the contract with the remote extraction service
// and the failure taxonomy the scheduler acts on.
package extract

import (
	"context"
	"encoding/json"

	"github.com/law-makers/harvest/internal/credential"
	"github.com/law-makers/harvest/pkg/models"
)

// Client performs one extraction of input using cred.
//
// Implementations may block for minutes and are expected to honour ctx.
// A nil error means success and the payload is returned as-is.
type Client interface {
	Extract(ctx context.Context, input string, cred credential.Credential) (json.RawMessage, error)
}

// QuotaChecker is implemented by clients that can report the remaining
// quota of a credential.
type QuotaChecker interface {
	Quota(ctx context.Context, cred credential.Credential) (models.QuotaInfo, error)
}

// ClientFunc adapts a function to the Client interface
type ClientFunc func(ctx context.Context, input string, cred credential.Credential) (json.RawMessage, error)

// Extract calls f
func (f ClientFunc) Extract(ctx context.Context, input string, cred credential.Credential) (json.RawMessage, error) {
	return f(ctx, input, cred)
}

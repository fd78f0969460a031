package core

import (
	"context"

	"github.com/dkeye/sigrelay/internal/domain"
)

// Authenticator resolves a bearer token to a verified identity.
// It returns domain.ErrInvalidToken or domain.ErrUserInactive on rejection.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Identity, error)
}

// Admission is the per-message throttling collaborator keyed by source
// (client IP). Connect-time admission happens in the transport adapter.
type Admission interface {
	AllowMessage(source string) bool
	RecordFailure(source string)
	ClearFailures(source string)
}

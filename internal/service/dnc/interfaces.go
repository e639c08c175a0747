package dnc

import (
	"context"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/dnc"
)

// Service checks a canonical phone against both do-not-call lists.
type Service interface {
	// Check returns the combined verdict for phone. Remote and cache
	// failures degrade to fail-open results; only an empty phone is an
	// error.
	Check(ctx context.Context, phone string) (*dnc.Verdict, error)
}

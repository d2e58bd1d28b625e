package ports

import (
	"context"

	"github.com/bft-labs/channeld/internal/domain"
)

// Locator maps routing keys to the peer responsible for them.
type Locator interface {
	// Query returns the address of the server handling key for svc.
	// An empty answer is returned as domain.ErrNoLocatorAnswer.
	Query(ctx context.Context, key string, svc domain.ServiceType) (string, error)

	// ServerDown reports that server stopped accepting data.
	ServerDown(ctx context.Context, server string, svc domain.ServiceType) error
}

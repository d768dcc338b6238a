// Package plans exposes the owner's subscription plan allowance.
package plans

import "context"

// Repository reads plan limits.
type Repository interface {
	// KeyLimit returns the number of live keys the owner's plan allows.
	// Zero means unlimited.
	KeyLimit(ctx context.Context, ownerID string) (int, error)
}

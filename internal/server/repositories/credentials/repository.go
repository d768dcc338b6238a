// Package credentials declares the repository contract for license keys.
package credentials

import (
	"context"
	"time"

	"github.com/dmitrijs2005/getkey/internal/server/models"
)

// Repository stores issued license keys.
type Repository interface {
	// Create inserts c and fills in its generated ID and CreatedAt.
	Create(ctx context.Context, c *models.Credential) error

	// CountIssuedSince counts keys for resourceID issued by source to
	// address at or after since.
	CountIssuedSince(ctx context.Context, resourceID, address, source string, since time.Time) (int, error)

	// CountActiveByOwner counts the owner's keys that are neither expired nor
	// revoked at now.
	CountActiveByOwner(ctx context.Context, ownerID string, now time.Time) (int, error)

	// FindByValue loads a key by its value or returns common.ErrorNotFound.
	FindByValue(ctx context.Context, value string) (*models.Credential, error)

	// MarkExpired flips an active or unused key to expired.
	MarkExpired(ctx context.Context, id string) error

	// LockIssuance serialises issuance for one (resource, address) pair
	// until the surrounding transaction ends. It must run inside a tx.
	LockIssuance(ctx context.Context, resourceID, address string) error

	// LockOwner serialises quota checks for one owner until the surrounding
	// transaction ends. It must run inside a tx.
	LockOwner(ctx context.Context, ownerID string) error
}

// Package resources declares the read-only catalogue lookup used by the
// get-key flow.
package resources

import (
	"context"

	"github.com/dmitrijs2005/getkey/internal/server/models"
)

// Repository resolves public resource slugs.
type Repository interface {
	// FindBySlug returns the resource with its owner's get-key settings, or
	// common.ErrorNotFound.
	FindBySlug(ctx context.Context, slug string) (*models.Resource, error)

	// FindByID is FindBySlug keyed by resource id.
	FindByID(ctx context.Context, id string) (*models.Resource, error)
}

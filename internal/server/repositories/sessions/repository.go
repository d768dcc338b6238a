// Package sessions declares the repository contract for get-key sessions.
package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/getkey/internal/server/models"
)

// Repository stores get-key sessions. Every mutation is a single-row
// conditional update scoped to a pending session.
type Repository interface {
	// Create inserts a new pending session.
	Create(ctx context.Context, s *models.Session) error

	// Find loads a session by id and token hash regardless of its status.
	// Implementations return common.ErrorNotFound when no row matches.
	Find(ctx context.Context, id, tokenHash string) (*models.Session, error)

	// SaveProgress persists checkpoint and challenge progress when the row is
	// still pending at s.Version, then bumps s.Version. A lost race yields
	// common.ErrorConflict.
	SaveProgress(ctx context.Context, s *models.Session) error

	// MarkExpired flips a pending session to expired.
	MarkExpired(ctx context.Context, id string) error

	// LockStatus locks the session row until the surrounding transaction
	// ends and returns its current status. Implementations return
	// common.ErrorNotFound when no row matches.
	LockStatus(ctx context.Context, id, tokenHash string) (models.SessionStatus, error)

	// Complete moves a pending session to completed, storing the credential
	// value and the shortened deadline. It reports whether the row changed.
	Complete(ctx context.Context, id, tokenHash, credentialValue string, expiresAt time.Time) (bool, error)

	// DeleteExpired removes sessions whose deadline is before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

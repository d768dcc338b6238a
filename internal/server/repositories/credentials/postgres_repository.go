package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/getkey/internal/common"
	"github.com/dmitrijs2005/getkey/internal/dbx"
	"github.com/dmitrijs2005/getkey/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, c *models.Credential) error {
	query := `
		INSERT INTO license_keys (value, resource_id, owner_id, kind, status, max_devices,
			source, requester_address, note, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		c.Value, c.ResourceID, c.OwnerID, string(c.Kind), string(c.Status), c.MaxDevices,
		c.Source, c.RequesterAddress, c.Note, c.ExpiresAt, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CountIssuedSince(ctx context.Context, resourceID, address, source string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM license_keys
		WHERE resource_id = $1 AND requester_address = $2 AND source = $3 AND created_at >= $4
	`
	var n int
	if err := r.db.QueryRowContext(ctx, query, resourceID, address, source, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CountActiveByOwner(ctx context.Context, ownerID string, now time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM license_keys
		WHERE owner_id = $1 AND status IN ('unused', 'active')
			AND (expires_at IS NULL OR expires_at > $2)
	`
	var n int
	if err := r.db.QueryRowContext(ctx, query, ownerID, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) FindByValue(ctx context.Context, value string) (*models.Credential, error) {
	query := `
		SELECT id, value, resource_id, owner_id, kind, status, max_devices,
			source, requester_address, note, expires_at, created_at
		FROM license_keys
		WHERE value = $1
	`
	var (
		c            models.Credential
		kind, status string
		expiresAt    sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, value).Scan(
		&c.ID, &c.Value, &c.ResourceID, &c.OwnerID, &kind, &status, &c.MaxDevices,
		&c.Source, &c.RequesterAddress, &c.Note, &expiresAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	c.Kind = models.CredentialKind(kind)
	c.Status = models.CredentialStatus(status)
	if expiresAt.Valid {
		c.ExpiresAt = &expiresAt.Time
	}
	return &c, nil
}

func (r *PostgresRepository) MarkExpired(ctx context.Context, id string) error {
	query := `
		UPDATE license_keys
		SET status = 'expired'
		WHERE id = $1 AND status IN ('unused', 'active')
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LockIssuance(ctx context.Context, resourceID, address string) error {
	query := `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`
	if _, err := r.db.ExecContext(ctx, query, resourceID+"|"+address); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LockOwner(ctx context.Context, ownerID string) error {
	query := `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`
	if _, err := r.db.ExecContext(ctx, query, "owner|"+ownerID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

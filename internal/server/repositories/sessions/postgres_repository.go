package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
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

func encodeCheckpoints(done []int) (string, error) {
	if done == nil {
		done = []int{}
	}
	b, err := json.Marshal(done)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *PostgresRepository) Create(ctx context.Context, s *models.Session) error {
	done, err := encodeCheckpoints(s.CheckpointsCompleted)
	if err != nil {
		return fmt.Errorf("encode checkpoints: %w", err)
	}

	query := `
		INSERT INTO getkey_sessions (id, resource_id, owner_id, token_hash, requester_address,
			device_fingerprint, checkpoints_required, checkpoints_completed, challenge_required,
			challenge_passed, status, version, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.ResourceID, s.OwnerID, s.TokenHash, s.RequesterAddress,
		s.DeviceFingerprint, s.CheckpointsRequired, done, s.ChallengeRequired,
		s.ChallengePassed, string(s.Status), s.Version, s.ExpiresAt, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Find(ctx context.Context, id, tokenHash string) (*models.Session, error) {
	query := `
		SELECT id, resource_id, owner_id, token_hash, requester_address, device_fingerprint,
			checkpoints_required, checkpoints_completed, challenge_required, challenge_passed,
			status, credential_value, version, expires_at, created_at
		FROM getkey_sessions
		WHERE id = $1 AND token_hash = $2
	`
	var (
		s      models.Session
		done   []byte
		status string
		value  sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, id, tokenHash).Scan(
		&s.ID, &s.ResourceID, &s.OwnerID, &s.TokenHash, &s.RequesterAddress, &s.DeviceFingerprint,
		&s.CheckpointsRequired, &done, &s.ChallengeRequired, &s.ChallengePassed,
		&status, &value, &s.Version, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if len(done) > 0 {
		if err := json.Unmarshal(done, &s.CheckpointsCompleted); err != nil {
			return nil, fmt.Errorf("decode checkpoints: %w", err)
		}
	}
	s.Status = models.SessionStatus(status)
	if value.Valid {
		s.CredentialValue = &value.String
	}
	return &s, nil
}

func (r *PostgresRepository) SaveProgress(ctx context.Context, s *models.Session) error {
	done, err := encodeCheckpoints(s.CheckpointsCompleted)
	if err != nil {
		return fmt.Errorf("encode checkpoints: %w", err)
	}

	query := `
		UPDATE getkey_sessions
		SET checkpoints_completed = $1, challenge_passed = $2, version = version + 1
		WHERE id = $3 AND token_hash = $4 AND status = 'pending' AND version = $5
	`
	applied, err := dbx.ExecApplied(ctx, r.db, query, done, s.ChallengePassed, s.ID, s.TokenHash, s.Version)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if !applied {
		return common.ErrorConflict
	}
	s.Version++
	return nil
}

func (r *PostgresRepository) MarkExpired(ctx context.Context, id string) error {
	query := `
		UPDATE getkey_sessions
		SET status = 'expired'
		WHERE id = $1 AND status = 'pending'
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LockStatus(ctx context.Context, id, tokenHash string) (models.SessionStatus, error) {
	query := `
		SELECT status
		FROM getkey_sessions
		WHERE id = $1 AND token_hash = $2
		FOR UPDATE
	`
	var status string
	if err := r.db.QueryRowContext(ctx, query, id, tokenHash).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrorNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return models.SessionStatus(status), nil
}

func (r *PostgresRepository) Complete(ctx context.Context, id, tokenHash, credentialValue string, expiresAt time.Time) (bool, error) {
	query := `
		UPDATE getkey_sessions
		SET status = 'completed', credential_value = $1, expires_at = $2, version = version + 1
		WHERE id = $3 AND token_hash = $4 AND status = 'pending'
	`
	applied, err := dbx.ExecApplied(ctx, r.db, query, credentialValue, expiresAt, id, tokenHash)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return applied, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM getkey_sessions
		WHERE expires_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

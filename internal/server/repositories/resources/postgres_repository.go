package resources

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/getkey/internal/common"
	"github.com/dmitrijs2005/getkey/internal/dbx"
	"github.com/dmitrijs2005/getkey/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectResource = `
	SELECT r.id, r.slug, r.owner_id, r.published, r.deleted_at IS NOT NULL,
		COALESCE(s.getkey_enabled, FALSE), COALESCE(s.checkpoint_links, '[]'::jsonb),
		COALESCE(s.checkpoint_count, 0), COALESCE(s.timer_seconds, 0),
		COALESCE(s.challenge_enabled, FALSE), COALESCE(s.key_duration_hours, 0),
		COALESCE(s.cooldown_hours, 0), COALESCE(s.max_keys_per_ip, 0)
	FROM resources r
	LEFT JOIN owner_settings s ON s.owner_id = r.owner_id
`

// FindBySlug joins the resource with owner_settings. An owner without a
// settings row is reported with the get-key feature disabled.
func (r *PostgresRepository) FindBySlug(ctx context.Context, slug string) (*models.Resource, error) {
	return r.findOne(ctx, selectResource+"WHERE r.slug = $1", slug)
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.Resource, error) {
	return r.findOne(ctx, selectResource+"WHERE r.id = $1", id)
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, arg string) (*models.Resource, error) {
	var (
		res   models.Resource
		links []byte
	)
	st := &res.Settings
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&res.ID, &res.Slug, &res.OwnerID, &res.Published, &res.Deleted,
		&st.GetKeyEnabled, &links, &st.CheckpointCount, &st.TimerSeconds,
		&st.ChallengeEnabled, &st.KeyDurationHours, &st.CooldownHours, &st.MaxKeysPerIP)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if len(links) > 0 {
		if err := json.Unmarshal(links, &st.CheckpointLinks); err != nil {
			return nil, fmt.Errorf("decode checkpoint links: %w", err)
		}
	}
	return &res, nil
}

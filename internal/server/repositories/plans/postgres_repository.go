package plans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/getkey/internal/common"
	"github.com/dmitrijs2005/getkey/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) KeyLimit(ctx context.Context, ownerID string) (int, error) {
	query := `
		SELECT p.key_limit
		FROM owners o
		JOIN plans p ON p.id = o.plan_id
		WHERE o.id = $1
	`
	var limit int
	if err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&limit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return limit, nil
}

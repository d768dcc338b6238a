package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/getkey/internal/common"
	"github.com/dmitrijs2005/getkey/internal/dbx"
	"github.com/dmitrijs2005/getkey/internal/server/repositories/repomanager"
)

// OwnerQuota decides whether an owner may receive count more keys.
// Rejections wrap common.ErrQuotaExceeded.
type OwnerQuota interface {
	VerifyKeyQuota(ctx context.Context, ownerID string, count int) error
}

// TxOwnerQuota is an OwnerQuota that can repeat its check inside the
// issuance transaction, serialised per owner.
type TxOwnerQuota interface {
	OwnerQuota
	VerifyKeyQuotaTx(ctx context.Context, tx dbx.DBTX, ownerID string, count int) error
}

// PlanQuota compares the owner's plan key limit with their live keys.
type PlanQuota struct {
	db          *sql.DB
	repoManager repomanager.RepositoryManager
	now         func() time.Time
}

func NewPlanQuota(db *sql.DB, rm repomanager.RepositoryManager, now func() time.Time) *PlanQuota {
	if now == nil {
		now = time.Now
	}
	return &PlanQuota{db: db, repoManager: rm, now: now}
}

// VerifyKeyQuota treats a zero limit as unlimited. An owner without a plan
// is rejected.
func (q *PlanQuota) VerifyKeyQuota(ctx context.Context, ownerID string, count int) error {
	return q.verify(ctx, q.db, ownerID, count)
}

// VerifyKeyQuotaTx takes the owner lock on tx before counting, so concurrent
// issuances for one owner see each other's keys.
func (q *PlanQuota) VerifyKeyQuotaTx(ctx context.Context, tx dbx.DBTX, ownerID string, count int) error {
	if err := q.repoManager.Credentials(tx).LockOwner(ctx, ownerID); err != nil {
		return err
	}
	return q.verify(ctx, tx, ownerID, count)
}

func (q *PlanQuota) verify(ctx context.Context, db dbx.DBTX, ownerID string, count int) error {
	limit, err := q.repoManager.Plans(db).KeyLimit(ctx, ownerID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("owner %s has no plan: %w", ownerID, common.ErrQuotaExceeded)
		}
		return err
	}
	if limit == 0 {
		return nil
	}

	active, err := q.repoManager.Credentials(db).CountActiveByOwner(ctx, ownerID, q.now())
	if err != nil {
		return err
	}
	if active+count > limit {
		return common.ErrQuotaExceeded
	}
	return nil
}

package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/getkey/internal/common"
	"github.com/dmitrijs2005/getkey/internal/dbx"
	"github.com/dmitrijs2005/getkey/internal/server/models"
	"github.com/dmitrijs2005/getkey/internal/server/quota"
	"github.com/dmitrijs2005/getkey/internal/server/repositories/repomanager"
)

const (
	// PublicKeyLifetimeCap bounds every publicly issued key regardless of
	// owner or server configuration.
	PublicKeyLifetimeCap = 6 * time.Hour

	defaultDisplayWindow = 5 * time.Minute
	credentialPrefix     = "gk_"
)

// errSessionNotPending reports that the session left the pending state
// between the caller's read and the completing write.
var errSessionNotPending = errors.New("session is no longer pending")

// IssueRequest describes one public issuance.
type IssueRequest struct {
	SessionID     string
	TokenHash     string
	ResourceID    string
	OwnerID       string
	Address       string
	DurationHours int
	CooldownHours int
	MaxPerAddress int
}

// CredentialIssuer inserts a license key and completes its session in one
// transaction.
type CredentialIssuer struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	guard         *quota.IssuanceGuard
	ownerQuota    quota.TxOwnerQuota
	maxLifetime   time.Duration
	displayWindow time.Duration
	now           func() time.Time
}

// NewCredentialIssuer clamps maxLifetime to PublicKeyLifetimeCap.
func NewCredentialIssuer(db *sql.DB, rm repomanager.RepositoryManager, guard *quota.IssuanceGuard,
	maxLifetime, displayWindow time.Duration, now func() time.Time) *CredentialIssuer {

	if maxLifetime <= 0 || maxLifetime > PublicKeyLifetimeCap {
		maxLifetime = PublicKeyLifetimeCap
	}
	if displayWindow <= 0 {
		displayWindow = defaultDisplayWindow
	}
	if now == nil {
		now = time.Now
	}
	return &CredentialIssuer{
		db:            db,
		repomanager:   rm,
		guard:         guard,
		maxLifetime:   maxLifetime,
		displayWindow: displayWindow,
		now:           now,
	}
}

// lifetime converts the owner's duration setting into a capped duration.
// Non-positive settings get the cap.
func (i *CredentialIssuer) lifetime(hours int) time.Duration {
	if hours <= 0 {
		return i.maxLifetime
	}
	return min(time.Duration(hours)*time.Hour, i.maxLifetime)
}

func newCredentialValue() (string, error) {
	v, err := common.MakeRandHexString(20)
	if err != nil {
		return "", err
	}
	return credentialPrefix + v, nil
}

// WithOwnerQuota makes Issue repeat the owner key limit inside its
// transaction. A nil q disables the check.
func (i *CredentialIssuer) WithOwnerQuota(q quota.TxOwnerQuota) *CredentialIssuer {
	i.ownerQuota = q
	return i
}

// Issue locks the session row, serialises on (resource, address) and then on
// the owner, re-checks both limits, inserts the key and completes the
// session. Locks are always taken in that order. If the session is no longer
// pending the transaction is rolled back and errSessionNotPending returned,
// before any limit is counted.
func (i *CredentialIssuer) Issue(ctx context.Context, req IssueRequest) (*models.Credential, error) {
	value, err := newCredentialValue()
	if err != nil {
		return nil, fmt.Errorf("generate credential value: %w", err)
	}

	now := i.now()
	expiresAt := now.Add(i.lifetime(req.DurationHours))
	cred := &models.Credential{
		Value:            value,
		ResourceID:       req.ResourceID,
		OwnerID:          req.OwnerID,
		Kind:             models.CredentialTimed,
		Status:           models.CredentialActive,
		MaxDevices:       1,
		Source:           common.PublicKeySource,
		RequesterAddress: req.Address,
		Note:             fmt.Sprintf("%s session=%s ip=%s", common.PublicKeySource, req.SessionID, req.Address),
		ExpiresAt:        &expiresAt,
		CreatedAt:        now,
	}

	err = dbx.WithTx(ctx, i.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		status, err := i.repomanager.Sessions(tx).LockStatus(ctx, req.SessionID, req.TokenHash)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return errSessionNotPending
			}
			return fmt.Errorf("error locking session: %w", err)
		}
		if status != models.SessionPending {
			return errSessionNotPending
		}

		keys := i.repomanager.Credentials(tx)
		if err := keys.LockIssuance(ctx, req.ResourceID, req.Address); err != nil {
			return err
		}
		err = i.guard.CheckIssuanceAllowed(ctx, keys, req.ResourceID, req.Address, req.CooldownHours, req.MaxPerAddress)
		if err != nil {
			return err
		}
		if i.ownerQuota != nil {
			if err := i.ownerQuota.VerifyKeyQuotaTx(ctx, tx, req.OwnerID, 1); err != nil {
				return err
			}
		}
		if err := keys.Create(ctx, cred); err != nil {
			return fmt.Errorf("error creating credential: %w", err)
		}

		applied, err := i.repomanager.Sessions(tx).Complete(ctx, req.SessionID, req.TokenHash, value, now.Add(i.displayWindow))
		if err != nil {
			return fmt.Errorf("error completing session: %w", err)
		}
		if !applied {
			return errSessionNotPending
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cred, nil
}

package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/getkey/internal/logging"
	"github.com/dmitrijs2005/getkey/internal/server/models"
	"github.com/dmitrijs2005/getkey/internal/server/repositories/repomanager"
)

// KeyView is the public projection of a license key.
type KeyView struct {
	Value      string
	Kind       models.CredentialKind
	Status     models.CredentialStatus
	MaxDevices int
	ExpiresAt  *time.Time
}

// KeyService answers key lookups. Expiry of keys is applied here, on read.
type KeyService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	now         func() time.Time
}

func NewKeyService(db *sql.DB, rm repomanager.RepositoryManager, logger logging.Logger, now func() time.Time) *KeyService {
	if now == nil {
		now = time.Now
	}
	return &KeyService{db: db, repomanager: rm, logger: logger.With("module", "keys"), now: now}
}

// Check returns the key with its status brought up to date.
func (s *KeyService) Check(ctx context.Context, value string) (*KeyView, error) {
	repo := s.repomanager.Credentials(s.db)

	cred, err := repo.FindByValue(ctx, value)
	if err != nil {
		return nil, err
	}

	if cred.IsLapsed(s.now()) {
		if err := repo.MarkExpired(ctx, cred.ID); err != nil {
			s.logger.Warn(ctx, "failed to mark key expired", "key_id", cred.ID, "error", err)
		}
		cred.Status = models.CredentialExpired
	}

	return &KeyView{
		Value:      cred.Value,
		Kind:       cred.Kind,
		Status:     cred.Status,
		MaxDevices: cred.MaxDevices,
		ExpiresAt:  cred.ExpiresAt,
	}, nil
}

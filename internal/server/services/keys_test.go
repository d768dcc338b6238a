package services

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/getkey/internal/common"
	"github.com/dmitrijs2005/getkey/internal/logging"
	"github.com/dmitrijs2005/getkey/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKeyService(store *memStore, now time.Time) *KeyService {
	return NewKeyService(nil, &fakeRepoManager{store: store}, logging.Nop{}, func() time.Time { return now })
}

func TestKeyService_Check(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	store := newMemStore()
	store.addCredential(&models.Credential{Value: "gk_live", Kind: models.CredentialTimed, Status: models.CredentialActive, MaxDevices: 1, ExpiresAt: &future})
	store.addCredential(&models.Credential{Value: "gk_old", Kind: models.CredentialTimed, Status: models.CredentialActive, MaxDevices: 1, ExpiresAt: &past})
	store.addCredential(&models.Credential{Value: "gk_life", Kind: models.CredentialLifetime, Status: models.CredentialUnused, MaxDevices: 3})

	svc := newKeyService(store, now)
	ctx := context.Background()

	live, err := svc.Check(ctx, "gk_live")
	require.NoError(t, err)
	assert.Equal(t, models.CredentialActive, live.Status)
	assert.Equal(t, 1, live.MaxDevices)

	old, err := svc.Check(ctx, "gk_old")
	require.NoError(t, err)
	assert.Equal(t, models.CredentialExpired, old.Status)
	assert.Equal(t, 1, store.markExpiredKeys)
	assert.Equal(t, models.CredentialExpired, store.creds[1].Status)

	life, err := svc.Check(ctx, "gk_life")
	require.NoError(t, err)
	assert.Equal(t, models.CredentialUnused, life.Status)
	assert.Nil(t, life.ExpiresAt)
	assert.Equal(t, 1, store.markExpiredKeys)

	_, err = svc.Check(ctx, "gk_missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

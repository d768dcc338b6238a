package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/getkey/internal/common"
	"github.com/dmitrijs2005/getkey/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRepo struct {
	count int
	err   error

	gotResource, gotAddress, gotSource string
	gotSince                           time.Time
}

func (r *countingRepo) Create(context.Context, *models.Credential) error { return nil }
func (r *countingRepo) CountIssuedSince(_ context.Context, resourceID, address, source string, since time.Time) (int, error) {
	r.gotResource, r.gotAddress, r.gotSource, r.gotSince = resourceID, address, source, since
	return r.count, r.err
}
func (r *countingRepo) CountActiveByOwner(context.Context, string, time.Time) (int, error) {
	return 0, nil
}
func (r *countingRepo) FindByValue(context.Context, string) (*models.Credential, error) {
	return nil, common.ErrorNotFound
}
func (r *countingRepo) MarkExpired(context.Context, string) error          { return nil }
func (r *countingRepo) LockIssuance(context.Context, string, string) error { return nil }
func (r *countingRepo) LockOwner(context.Context, string) error            { return nil }

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCheckIssuanceAllowed(t *testing.T) {
	g := NewIssuanceGuard(common.PublicKeySource, func() time.Time { return fixedNow })

	repo := &countingRepo{count: 0}
	require.NoError(t, g.CheckIssuanceAllowed(context.Background(), repo, "r1", "1.2.3.4", 12, 2))
	assert.Equal(t, "r1", repo.gotResource)
	assert.Equal(t, "1.2.3.4", repo.gotAddress)
	assert.Equal(t, common.PublicKeySource, repo.gotSource)
	assert.Equal(t, fixedNow.Add(-12*time.Hour), repo.gotSince)

	repo.count = 1
	require.NoError(t, g.CheckIssuanceAllowed(context.Background(), repo, "r1", "1.2.3.4", 12, 2))

	repo.count = 2
	err := g.CheckIssuanceAllowed(context.Background(), repo, "r1", "1.2.3.4", 12, 2)
	require.ErrorIs(t, err, common.ErrRateLimited)
	var rl *common.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 12, rl.CooldownHours)
}

func TestCheckIssuanceAllowed_Defaults(t *testing.T) {
	g := NewIssuanceGuard(common.PublicKeySource, func() time.Time { return fixedNow })
	repo := &countingRepo{count: 1}

	err := g.CheckIssuanceAllowed(context.Background(), repo, "r1", "a", 0, 0)
	var rl *common.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, DefaultCooldownHours, rl.CooldownHours)
	assert.Equal(t, fixedNow.Add(-24*time.Hour), repo.gotSince)
}

func TestCheckIssuanceAllowed_RepoError(t *testing.T) {
	g := NewIssuanceGuard(common.PublicKeySource, nil)
	boom := errors.New("boom")

	err := g.CheckIssuanceAllowed(context.Background(), &countingRepo{err: boom}, "r1", "a", 1, 1)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, common.ErrRateLimited)
}

func TestNormalizeLimits(t *testing.T) {
	c, m := NormalizeLimits(-1, -1)
	assert.Equal(t, 24, c)
	assert.Equal(t, 1, m)

	c, m = NormalizeLimits(3, 5)
	assert.Equal(t, 3, c)
	assert.Equal(t, 5, m)
}

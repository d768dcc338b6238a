// Package quota holds the two issuance guards: the per-address rate limit
// and the owner's plan allowance.
package quota

import (
	"context"
	"time"

	"github.com/dmitrijs2005/getkey/internal/common"
	"github.com/dmitrijs2005/getkey/internal/server/repositories/credentials"
)

const (
	DefaultCooldownHours = 24
	DefaultMaxPerAddress = 1
)

// NormalizeLimits replaces non-positive owner settings with the defaults.
func NormalizeLimits(cooldownHours, maxPerAddress int) (int, int) {
	if cooldownHours <= 0 {
		cooldownHours = DefaultCooldownHours
	}
	if maxPerAddress <= 0 {
		maxPerAddress = DefaultMaxPerAddress
	}
	return cooldownHours, maxPerAddress
}

// IssuanceGuard limits how many keys one requester address may obtain for a
// resource within the cooldown window.
type IssuanceGuard struct {
	source string
	now    func() time.Time
}

// NewIssuanceGuard counts keys tagged with source. A nil now uses time.Now.
func NewIssuanceGuard(source string, now func() time.Time) *IssuanceGuard {
	if now == nil {
		now = time.Now
	}
	return &IssuanceGuard{source: source, now: now}
}

// CheckIssuanceAllowed returns a *common.RateLimitError when address already
// holds maxPerAddress keys for resourceID issued within the trailing
// cooldownHours. repo may be bound to a transaction so that the count sees
// the same snapshot as the insert that follows.
func (g *IssuanceGuard) CheckIssuanceAllowed(ctx context.Context, repo credentials.Repository,
	resourceID, address string, cooldownHours, maxPerAddress int) error {

	cooldownHours, maxPerAddress = NormalizeLimits(cooldownHours, maxPerAddress)
	since := g.now().Add(-time.Duration(cooldownHours) * time.Hour)

	n, err := repo.CountIssuedSince(ctx, resourceID, address, g.source, since)
	if err != nil {
		return err
	}
	if n >= maxPerAddress {
		return &common.RateLimitError{CooldownHours: cooldownHours}
	}
	return nil
}

package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/getkey/internal/common"
	"github.com/dmitrijs2005/getkey/internal/cryptox"
	"github.com/dmitrijs2005/getkey/internal/logging"
	"github.com/dmitrijs2005/getkey/internal/server/challenge"
	"github.com/dmitrijs2005/getkey/internal/server/checkpoints"
	"github.com/dmitrijs2005/getkey/internal/server/config"
	"github.com/dmitrijs2005/getkey/internal/server/events"
	"github.com/dmitrijs2005/getkey/internal/server/metrics"
	"github.com/dmitrijs2005/getkey/internal/server/models"
	"github.com/dmitrijs2005/getkey/internal/server/quota"
	"github.com/dmitrijs2005/getkey/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/getkey/internal/server/tokens"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// maxSaveAttempts bounds optimistic retries of a progress update that lost a
// race against a concurrent request on the same session.
const maxSaveAttempts = 3

// StartResult is returned by Start.
type StartResult struct {
	Token               string
	CheckpointsRequired int
	ChallengeRequired   bool
	Links               []string
	TimerSeconds        int
	ChallengeSiteKey    string
	ExpiresAt           time.Time
}

// SessionView is the read-only projection returned by GetStatus.
type SessionView struct {
	Status               models.SessionStatus
	CheckpointsRequired  int
	CheckpointsCompleted []int
	ChallengeRequired    bool
	ChallengePassed      bool
	CredentialValue      *string
	ExpiresAt            time.Time
}

// IssueResult is the credential handed back by Issue.
type IssueResult struct {
	Value     string
	ExpiresAt *time.Time
}

// Option customises a KeyFlowService.
type Option func(*KeyFlowService)

// WithPublisher sets the publisher used for issuance events.
func WithPublisher(p events.Publisher) Option {
	return func(s *KeyFlowService) { s.publisher = p }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *KeyFlowService) { s.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *KeyFlowService) { s.now = now }
}

// WithCleanupInterval sets the minimum gap between two expired-session purges.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *KeyFlowService) { s.cleanupInterval = d }
}

// KeyFlowService runs the get-key session state machine. It keeps no session
// state in memory: every call reads the session row and applies a
// conditional update.
type KeyFlowService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	codec       tokens.Codec
	verifier    challenge.Verifier
	ownerQuota  quota.OwnerQuota
	guard       *quota.IssuanceGuard
	issuer      *CredentialIssuer
	publisher   events.Publisher
	metrics     *metrics.Recorder
	logger      logging.Logger
	now         func() time.Time

	sessionTTL       time.Duration
	platformLink     string
	challengeSiteKey string

	cleanupInterval time.Duration
	lastCleanup     atomic.Int64
	bg              sync.WaitGroup
}

func NewKeyFlowService(db *sql.DB, rm repomanager.RepositoryManager, cfg *config.Config,
	codec tokens.Codec, verifier challenge.Verifier, ownerQuota quota.OwnerQuota,
	logger logging.Logger, opts ...Option) *KeyFlowService {

	s := &KeyFlowService{
		db:               db,
		repomanager:      rm,
		codec:            codec,
		verifier:         verifier,
		ownerQuota:       ownerQuota,
		logger:           logger.With("module", "keyflow"),
		now:              time.Now,
		sessionTTL:       cfg.SessionTTL,
		platformLink:     cfg.PlatformCheckpointURL,
		challengeSiteKey: cfg.ChallengeSiteKey,
		cleanupInterval:  time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = 30 * time.Minute
	}

	s.guard = quota.NewIssuanceGuard(common.PublicKeySource, s.now)
	s.issuer = NewCredentialIssuer(db, rm, s.guard, cfg.MaxPublicKeyLifetime, cfg.CompletedDisplayTTL, s.now)
	if txQuota, ok := ownerQuota.(quota.TxOwnerQuota); ok {
		s.issuer.WithOwnerQuota(txQuota)
	}
	return s
}

// Wait blocks until background cleanup jobs have finished.
func (s *KeyFlowService) Wait() {
	s.bg.Wait()
}

func (s *KeyFlowService) observe(op string, err error) {
	if err != nil {
		s.metrics.Rejected(op, common.KindOf(err))
	}
}

// Start opens a pending session for the resource identified by resourceSlug.
func (s *KeyFlowService) Start(ctx context.Context, resourceSlug, address, fingerprint string) (res *StartResult, err error) {
	defer func() { s.observe("start", err) }()

	s.purgeExpiredSessions()

	if !slug.IsSlug(resourceSlug) {
		return nil, common.ErrorNotFound
	}
	if address == "" {
		return nil, fmt.Errorf("%w: empty requester address", common.ErrBadRequest)
	}

	resource, err := s.repomanager.Resources(s.db).FindBySlug(ctx, resourceSlug)
	if err != nil {
		return nil, err
	}
	if !resource.Eligible() {
		return nil, common.ErrorNotFound
	}

	st := resource.Settings
	plan := checkpoints.DeriveCheckpointPlan(s.platformLink, st)

	err = s.guard.CheckIssuanceAllowed(ctx, s.repomanager.Credentials(s.db),
		resource.ID, address, st.CooldownHours, st.MaxKeysPerIP)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &models.Session{
		ID:                  uuid.NewString(),
		ResourceID:          resource.ID,
		OwnerID:             resource.OwnerID,
		RequesterAddress:    address,
		DeviceFingerprint:   fingerprint,
		CheckpointsRequired: plan.Required,
		ChallengeRequired:   st.ChallengeEnabled,
		Status:              models.SessionPending,
		ExpiresAt:           now.Add(s.sessionTTL),
		CreatedAt:           now,
	}

	token, err := s.codec.Sign(tokens.Payload{
		SessionID:   sess.ID,
		ResourceID:  sess.ResourceID,
		Address:     address,
		Fingerprint: fingerprint,
	})
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	sess.TokenHash = cryptox.Fingerprint(token)

	if err := s.repomanager.Sessions(s.db).Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	s.metrics.SessionStarted()
	s.logger.Debug(ctx, "session started", "session_id", sess.ID, "resource_id", sess.ResourceID)

	out := &StartResult{
		Token:               token,
		CheckpointsRequired: plan.Required,
		ChallengeRequired:   st.ChallengeEnabled,
		Links:               plan.Links[:plan.Required],
		TimerSeconds:        st.TimerSeconds,
		ExpiresAt:           sess.ExpiresAt,
	}
	if st.ChallengeEnabled {
		out.ChallengeSiteKey = s.challengeSiteKey
	}
	return out, nil
}

// openToken verifies the token and the device binding.
func (s *KeyFlowService) openToken(token, fingerprint string) (tokens.Payload, error) {
	p, err := s.codec.Verify(token)
	if err != nil {
		return tokens.Payload{}, common.ErrInvalidToken
	}
	if p.Fingerprint != "" && p.Fingerprint != fingerprint {
		return tokens.Payload{}, common.ErrDeviceMismatch
	}
	return p, nil
}

// loadSession reads the session referenced by a verified token. When
// address is non-nil it must equal the address recorded at start.
func (s *KeyFlowService) loadSession(ctx context.Context, token string, p tokens.Payload, address *string) (*models.Session, error) {
	sess, err := s.repomanager.Sessions(s.db).Find(ctx, p.SessionID, cryptox.Fingerprint(token))
	if err != nil {
		return nil, err
	}
	if sess.ResourceID != p.ResourceID {
		return nil, common.ErrInvalidToken
	}
	if address != nil && sess.RequesterAddress != *address {
		return nil, common.ErrIPMismatch
	}
	return sess, nil
}

// requirePending rejects sessions that can no longer be advanced, lazily
// marking an overdue pending session as expired.
func (s *KeyFlowService) requirePending(ctx context.Context, sess *models.Session) error {
	switch sess.Status {
	case models.SessionCompleted:
		return common.ErrorNotFound
	case models.SessionExpired:
		return common.ErrExpired
	}
	if sess.IsPastDeadline(s.now()) {
		s.expire(ctx, sess)
		return common.ErrExpired
	}
	return nil
}

func (s *KeyFlowService) expire(ctx context.Context, sess *models.Session) {
	if err := s.repomanager.Sessions(s.db).MarkExpired(ctx, sess.ID); err != nil {
		s.logger.Warn(ctx, "failed to mark session expired", "session_id", sess.ID, "error", err)
		return
	}
	sess.Status = models.SessionExpired
}

// updateSession reloads the session and applies mutate until the
// conditional write succeeds. mutate returns false when there is nothing to
// persist.
func (s *KeyFlowService) updateSession(ctx context.Context, token string, p tokens.Payload, address string,
	mutate func(*models.Session) (bool, error)) error {

	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		sess, err := s.loadSession(ctx, token, p, &address)
		if err != nil {
			return err
		}
		if err := s.requirePending(ctx, sess); err != nil {
			return err
		}

		changed, err := mutate(sess)
		if err != nil || !changed {
			return err
		}

		err = s.repomanager.Sessions(s.db).SaveProgress(ctx, sess)
		if errors.Is(err, common.ErrorConflict) {
			continue
		}
		return err
	}
	return common.ErrorConflict
}

// CompleteCheckpoint records checkpoint index on the session. Recording an
// index twice is a no-op.
func (s *KeyFlowService) CompleteCheckpoint(ctx context.Context, token string, index int, address, fingerprint string) (err error) {
	defer func() { s.observe("checkpoint", err) }()

	p, err := s.openToken(token, fingerprint)
	if err != nil {
		return err
	}

	recorded := false
	err = s.updateSession(ctx, token, p, address, func(sess *models.Session) (bool, error) {
		if index < 0 || index >= sess.CheckpointsRequired {
			return false, common.ErrInvalidIndex
		}
		if sess.HasCheckpoint(index) {
			return false, nil
		}
		if index > 0 && !sess.HasCheckpoint(index-1) {
			return false, common.ErrOutOfOrder
		}
		sess.CheckpointsCompleted = append(sess.CheckpointsCompleted, index)
		recorded = true
		return true, nil
	})
	if err != nil {
		return err
	}
	if recorded {
		s.metrics.CheckpointCompleted()
	}
	return nil
}

// VerifyChallenge checks proof with the external verifier and marks the
// challenge passed. Sessions that need no challenge, or already passed it,
// succeed without contacting the verifier.
func (s *KeyFlowService) VerifyChallenge(ctx context.Context, token, proof, address, fingerprint string) (err error) {
	defer func() { s.observe("challenge", err) }()

	p, err := s.openToken(token, fingerprint)
	if err != nil {
		return err
	}

	verified := false
	return s.updateSession(ctx, token, p, address, func(sess *models.Session) (bool, error) {
		if !sess.ChallengeRequired || sess.ChallengePassed {
			return false, nil
		}
		// A proof is single use, so a retry after a write conflict reuses
		// the verdict instead of asking the verifier again.
		if !verified {
			if err := s.verifyProof(ctx, proof, address); err != nil {
				return false, err
			}
			verified = true
		}
		sess.ChallengePassed = true
		return true, nil
	})
}

func (s *KeyFlowService) verifyProof(ctx context.Context, proof, address string) error {
	err := s.verifier.Verify(ctx, proof, address)
	switch {
	case err == nil:
		s.metrics.Challenge("passed")
		return nil
	case errors.Is(err, common.ErrChallengeFailed):
		s.metrics.Challenge("failed")
		return err
	case errors.Is(err, common.ErrUpstreamVerifier):
		s.metrics.Challenge("error")
		return err
	default:
		s.metrics.Challenge("error")
		return fmt.Errorf("%w: %v", common.ErrUpstreamVerifier, err)
	}
}

// GetStatus returns the session projection. It does not compare network
// addresses; an overdue pending session is reported as expired.
func (s *KeyFlowService) GetStatus(ctx context.Context, token, fingerprint string) (view *SessionView, err error) {
	defer func() { s.observe("status", err) }()

	p, err := s.openToken(token, fingerprint)
	if err != nil {
		return nil, err
	}
	sess, err := s.loadSession(ctx, token, p, nil)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.SessionPending && sess.IsPastDeadline(s.now()) {
		s.expire(ctx, sess)
		sess.Status = models.SessionExpired
	}

	done := append([]int(nil), sess.CheckpointsCompleted...)
	return &SessionView{
		Status:               sess.Status,
		CheckpointsRequired:  sess.CheckpointsRequired,
		CheckpointsCompleted: done,
		ChallengeRequired:    sess.ChallengeRequired,
		ChallengePassed:      sess.ChallengePassed,
		CredentialValue:      sess.CredentialValue,
		ExpiresAt:            sess.ExpiresAt,
	}, nil
}

// Issue turns a fully completed session into a license key. Claiming an
// already completed session returns the key issued the first time.
func (s *KeyFlowService) Issue(ctx context.Context, token, address, fingerprint string) (res *IssueResult, err error) {
	defer func() { s.observe("issue", err) }()

	p, err := s.openToken(token, fingerprint)
	if err != nil {
		return nil, err
	}
	sess, err := s.loadSession(ctx, token, p, &address)
	if err != nil {
		return nil, err
	}

	if sess.Status == models.SessionCompleted {
		return s.existingCredential(ctx, sess)
	}
	if sess.Status == models.SessionExpired {
		return nil, common.ErrExpired
	}
	if sess.IsPastDeadline(s.now()) {
		s.expire(ctx, sess)
		return nil, common.ErrExpired
	}
	if !sess.ReadyForIssue() {
		return nil, common.ErrIncomplete
	}

	resource, err := s.repomanager.Resources(s.db).FindByID(ctx, sess.ResourceID)
	if err != nil {
		return nil, err
	}
	if !resource.Eligible() {
		return nil, common.ErrorNotFound
	}

	if err := s.ownerQuota.VerifyKeyQuota(ctx, resource.OwnerID, 1); err != nil {
		return s.settleLostRace(ctx, token, p, address, err)
	}

	st := resource.Settings
	cred, err := s.issuer.Issue(ctx, IssueRequest{
		SessionID:     sess.ID,
		TokenHash:     sess.TokenHash,
		ResourceID:    resource.ID,
		OwnerID:       resource.OwnerID,
		Address:       sess.RequesterAddress,
		DurationHours: st.KeyDurationHours,
		CooldownHours: st.CooldownHours,
		MaxPerAddress: st.MaxKeysPerIP,
	})
	if err != nil {
		return s.settleLostRace(ctx, token, p, address, err)
	}

	s.metrics.CredentialIssued()
	s.publishIssued(ctx, sess, cred)
	return &IssueResult{Value: cred.Value, ExpiresAt: cred.ExpiresAt}, nil
}

// settleLostRace handles an issuance failure that may have been caused by a
// concurrent claim on the same session. When the session turns out to be
// completed the caller gets the winner's key instead of the limit error the
// winner's key provoked.
func (s *KeyFlowService) settleLostRace(ctx context.Context, token string, p tokens.Payload, address string, cause error) (*IssueResult, error) {
	notPending := errors.Is(cause, errSessionNotPending)
	if !notPending && !errors.Is(cause, common.ErrRateLimited) && !errors.Is(cause, common.ErrQuotaExceeded) {
		return nil, cause
	}

	sess, err := s.loadSession(ctx, token, p, &address)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.SessionCompleted {
		return s.existingCredential(ctx, sess)
	}
	if notPending {
		return nil, common.ErrExpired
	}
	return nil, cause
}

func (s *KeyFlowService) existingCredential(ctx context.Context, sess *models.Session) (*IssueResult, error) {
	if sess.CredentialValue == nil {
		return nil, fmt.Errorf("completed session %s has no credential: %w", sess.ID, common.ErrorInternal)
	}
	out := &IssueResult{Value: *sess.CredentialValue}
	cred, err := s.repomanager.Credentials(s.db).FindByValue(ctx, out.Value)
	if err != nil {
		return nil, err
	}
	out.ExpiresAt = cred.ExpiresAt
	return out, nil
}

func (s *KeyFlowService) publishIssued(ctx context.Context, sess *models.Session, cred *models.Credential) {
	if s.publisher == nil {
		return
	}
	ev := events.CredentialIssued{
		CredentialID:     cred.ID,
		SessionID:        sess.ID,
		ResourceID:       cred.ResourceID,
		OwnerID:          cred.OwnerID,
		RequesterAddress: cred.RequesterAddress,
		IssuedAt:         cred.CreatedAt,
	}
	if cred.ExpiresAt != nil {
		ev.ExpiresAt = *cred.ExpiresAt
	}
	if err := s.publisher.PublishCredentialIssued(ctx, ev); err != nil {
		s.logger.Warn(ctx, "failed to publish issuance event", "session_id", sess.ID, "error", err)
	}
}

package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/getkey/internal/common"
	"github.com/dmitrijs2005/getkey/internal/dbx"
	"github.com/dmitrijs2005/getkey/internal/logging"
	"github.com/dmitrijs2005/getkey/internal/server/config"
	"github.com/dmitrijs2005/getkey/internal/server/events"
	"github.com/dmitrijs2005/getkey/internal/server/models"
	"github.com/dmitrijs2005/getkey/internal/server/quota"
	"github.com/dmitrijs2005/getkey/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/getkey/internal/server/repositories/plans"
	"github.com/dmitrijs2005/getkey/internal/server/repositories/resources"
	"github.com/dmitrijs2005/getkey/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/getkey/internal/server/tokens"
	"github.com/stretchr/testify/require"
)

const (
	testAddr     = "203.0.113.7"
	otherAddr    = "198.51.100.9"
	testDevice   = "device-1"
	testSlug     = "cool-script"
	testResource = "r1"
	testOwner    = "o1"
	platformLink = "https://getkey.example.com/checkpoint"
)

// --- in-memory store ---

type memStore struct {
	mu sync.Mutex

	resources map[string]*models.Resource
	sessions  map[string]*models.Session
	creds     []*models.Credential
	keyLimits map[string]int

	saveConflicts      int
	lockStatusHook     func(st *memStore, id string)
	completeErr        error
	createCredErr      error
	deleteErr          error
	deleteExpiredCalls int
	lockCalls          int
	ownerLockCalls     int
	markExpiredKeys    int
}

func newMemStore() *memStore {
	return &memStore{
		resources: map[string]*models.Resource{},
		sessions:  map[string]*models.Session{},
		keyLimits: map[string]int{},
	}
}

func copySession(s *models.Session) *models.Session {
	c := *s
	c.CheckpointsCompleted = append([]int(nil), s.CheckpointsCompleted...)
	if s.CredentialValue != nil {
		v := *s.CredentialValue
		c.CredentialValue = &v
	}
	return &c
}

func (m *memStore) session(id string) *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	return copySession(s)
}

func (m *memStore) onlySession(t *testing.T) *models.Session {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.sessions, 1)
	for _, s := range m.sessions {
		return copySession(s)
	}
	return nil
}

func (m *memStore) credCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.creds)
}

// addCredentialLocked must be called with mu held.
func (m *memStore) addCredentialLocked(c *models.Credential) {
	cp := *c
	if cp.ID == "" {
		cp.ID = fmt.Sprintf("k%d", len(m.creds)+1)
	}
	c.ID = cp.ID
	m.creds = append(m.creds, &cp)
}

func (m *memStore) addCredential(c *models.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addCredentialLocked(c)
}

type memSessions struct{ *memStore }

func (r memSessions) Create(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = copySession(s)
	return nil
}

func (r memSessions) Find(_ context.Context, id, tokenHash string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.TokenHash != tokenHash {
		return nil, common.ErrorNotFound
	}
	return copySession(s), nil
}

func (r memSessions) SaveProgress(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[s.ID]
	if r.saveConflicts > 0 && ok {
		r.saveConflicts--
		stored.Version++
		return common.ErrorConflict
	}
	if !ok || stored.TokenHash != s.TokenHash || stored.Status != models.SessionPending || stored.Version != s.Version {
		return common.ErrorConflict
	}
	stored.CheckpointsCompleted = append([]int(nil), s.CheckpointsCompleted...)
	stored.ChallengePassed = s.ChallengePassed
	stored.Version++
	s.Version++
	return nil
}

func (r memSessions) MarkExpired(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && s.Status == models.SessionPending {
		s.Status = models.SessionExpired
	}
	return nil
}

func (r memSessions) LockStatus(_ context.Context, id, tokenHash string) (models.SessionStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lockStatusHook != nil {
		r.lockStatusHook(r.memStore, id)
	}
	s, ok := r.sessions[id]
	if !ok || s.TokenHash != tokenHash {
		return "", common.ErrorNotFound
	}
	return s.Status, nil
}

func (r memSessions) Complete(_ context.Context, id, tokenHash, value string, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completeErr != nil {
		return false, r.completeErr
	}
	s, ok := r.sessions[id]
	if !ok || s.TokenHash != tokenHash || s.Status != models.SessionPending {
		return false, nil
	}
	s.Status = models.SessionCompleted
	s.CredentialValue = &value
	s.ExpiresAt = expiresAt
	s.Version++
	return true, nil
}

func (r memSessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteExpiredCalls++
	if r.deleteErr != nil {
		return 0, r.deleteErr
	}
	var n int64
	for id, s := range r.sessions {
		if s.ExpiresAt.Before(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

type memCreds struct{ *memStore }

func (r memCreds) Create(_ context.Context, c *models.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createCredErr != nil {
		return r.createCredErr
	}
	r.addCredentialLocked(c)
	return nil
}

func (r memCreds) CountIssuedSince(_ context.Context, resourceID, address, source string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.creds {
		if c.ResourceID == resourceID && c.RequesterAddress == address && c.Source == source && !c.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r memCreds) CountActiveByOwner(_ context.Context, ownerID string, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.creds {
		if c.OwnerID == ownerID && !c.IsLapsed(now) &&
			(c.Status == models.CredentialActive || c.Status == models.CredentialUnused) {
			n++
		}
	}
	return n, nil
}

func (r memCreds) FindByValue(_ context.Context, value string) (*models.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.creds {
		if c.Value == value {
			cp := *c
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memCreds) MarkExpired(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markExpiredKeys++
	for _, c := range r.creds {
		if c.ID == id && (c.Status == models.CredentialActive || c.Status == models.CredentialUnused) {
			c.Status = models.CredentialExpired
		}
	}
	return nil
}

func (r memCreds) LockIssuance(context.Context, string, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lockCalls++
	return nil
}

func (r memCreds) LockOwner(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ownerLockCalls++
	return nil
}

type memResources struct{ *memStore }

func (r memResources) FindBySlug(_ context.Context, slug string) (*models.Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.resources {
		if res.Slug == slug {
			cp := *res
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memResources) FindByID(_ context.Context, id string) (*models.Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.resources[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *res
	return &cp, nil
}

type memPlans struct{ *memStore }

func (r memPlans) KeyLimit(_ context.Context, ownerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.keyLimits[ownerID]
	if !ok {
		return 0, common.ErrorNotFound
	}
	return n, nil
}

// fakeRepoManager hands out the same in-memory repositories for the pool and
// for transactions; transaction boundaries are asserted through sqlmock.
type fakeRepoManager struct {
	store *memStore
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Resources(dbx.DBTX) resources.Repository      { return memResources{m.store} }
func (m *fakeRepoManager) Sessions(dbx.DBTX) sessions.Repository        { return memSessions{m.store} }
func (m *fakeRepoManager) Credentials(dbx.DBTX) credentials.Repository {
	return memCreds{m.store}
}
func (m *fakeRepoManager) Plans(dbx.DBTX) plans.Repository { return memPlans{m.store} }

// --- collaborators ---

type fakeVerifier struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (v *fakeVerifier) Verify(context.Context, string, string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return v.err
}

func (v *fakeVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

type fakeQuota struct {
	err   error
	calls int
	hook  func()
}

func (q *fakeQuota) VerifyKeyQuota(context.Context, string, int) error {
	q.calls++
	if q.hook != nil {
		q.hook()
	}
	return q.err
}

// fakeTxQuota also answers the in-transaction owner check.
type fakeTxQuota struct {
	fakeQuota
	txErr   error
	txCalls int
}

func (q *fakeTxQuota) VerifyKeyQuotaTx(_ context.Context, tx dbx.DBTX, _ string, _ int) error {
	q.txCalls++
	if tx == nil {
		return errors.New("owner quota checked outside a transaction")
	}
	return q.txErr
}

type fakePublisher struct {
	err    error
	events []events.CredentialIssued
}

func (p *fakePublisher) PublishCredentialIssued(_ context.Context, e events.CredentialIssued) error {
	p.events = append(p.events, e)
	return p.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- harness ---

type harness struct {
	svc      *KeyFlowService
	store    *memStore
	db       *sql.DB
	mock     sqlmock.Sqlmock
	codec    tokens.Codec
	verifier *fakeVerifier
	quota    *fakeQuota
	pub      *fakePublisher
	clock    *fakeClock
}

func defaultSettings() models.OwnerSettings {
	return models.OwnerSettings{
		GetKeyEnabled:    true,
		CheckpointLinks:  []string{"https://ads.example/1", "https://ads.example/2", "https://ads.example/3"},
		CheckpointCount:  2,
		TimerSeconds:     15,
		KeyDurationHours: 24,
		CooldownHours:    24,
		MaxKeysPerIP:     1,
	}
}

func newHarness(t *testing.T, settings models.OwnerSettings) *harness {
	t.Helper()
	q := &fakeQuota{}
	return newHarnessWithQuota(t, settings, q, q)
}

// newHarnessWithQuota wires ownerQuota into the service; fq is the part the
// harness exposes as h.quota.
func newHarnessWithQuota(t *testing.T, settings models.OwnerSettings, fq *fakeQuota, ownerQuota quota.OwnerQuota) *harness {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.PlatformCheckpointURL = platformLink
	cfg.ChallengeSiteKey = "site-key"

	codec, err := tokens.NewEnvelopeCodec([]byte("test-secret"))
	require.NoError(t, err)

	store := newMemStore()
	store.resources[testResource] = &models.Resource{
		ID: testResource, Slug: testSlug, OwnerID: testOwner, Published: true, Settings: settings,
	}

	h := &harness{
		store:    store,
		db:       db,
		mock:     mock,
		codec:    codec,
		verifier: &fakeVerifier{},
		quota:    fq,
		pub:      &fakePublisher{},
		clock:    &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.svc = NewKeyFlowService(db, &fakeRepoManager{store: store}, cfg, codec, h.verifier, ownerQuota,
		logging.Nop{}, WithPublisher(h.pub), WithClock(h.clock.Now))
	t.Cleanup(h.svc.Wait)
	return h
}

func (h *harness) start(t *testing.T) *StartResult {
	t.Helper()
	res, err := h.svc.Start(context.Background(), testSlug, testAddr, testDevice)
	require.NoError(t, err)
	return res
}

func (h *harness) checkpoint(token string, index int) error {
	return h.svc.CompleteCheckpoint(context.Background(), token, index, testAddr, testDevice)
}

func (h *harness) issue(token string) (*IssueResult, error) {
	return h.svc.Issue(context.Background(), token, testAddr, testDevice)
}

// completeAll walks every required checkpoint in order.
func (h *harness) completeAll(t *testing.T, res *StartResult) {
	t.Helper()
	for i := 0; i < res.CheckpointsRequired; i++ {
		require.NoError(t, h.checkpoint(res.Token, i))
	}
}

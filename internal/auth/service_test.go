package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/warden-rbac/warden/internal/shared"
	"github.com/warden-rbac/warden/internal/users"
)

type memorySubjects struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]users.Subject
	logins map[uuid.UUID]users.LoginRecord
}

func newMemorySubjects(subjects ...users.Subject) *memorySubjects {
	m := &memorySubjects{byID: map[uuid.UUID]users.Subject{}, logins: map[uuid.UUID]users.LoginRecord{}}
	for _, s := range subjects {
		m.byID[s.ID] = s
	}
	return m
}

func (m *memorySubjects) Get(_ context.Context, id uuid.UUID) (*users.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &s, nil
}

func (m *memorySubjects) FindByIdentifier(_ context.Context, identifier string) (*users.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.Username == identifier || (s.Mobile != "" && s.Mobile == identifier) {
			return &s, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memorySubjects) Lock(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return shared.ErrNotFound
	}
	s.Status = users.StatusLocked
	m.byID[id] = s
	return nil
}

func (m *memorySubjects) RecordLogin(_ context.Context, id uuid.UUID, rec users.LoginRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins[id] = rec
	return nil
}

// brokenSubjects simulates an unreachable user store.
type brokenSubjects struct{}

var errStoreDown = errors.New("dial tcp 127.0.0.1:5432: connection refused")

func (brokenSubjects) Get(context.Context, uuid.UUID) (*users.Subject, error) { return nil, errStoreDown }
func (brokenSubjects) FindByIdentifier(context.Context, string) (*users.Subject, error) {
	return nil, errStoreDown
}
func (brokenSubjects) Lock(context.Context, uuid.UUID) error { return errStoreDown }
func (brokenSubjects) RecordLogin(context.Context, uuid.UUID, users.LoginRecord) error {
	return errStoreDown
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (c *countingInvalidator) SubjectRolesChanged(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, id)
	return nil
}

func newTestSubject(t *testing.T, username, password string) users.Subject {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return users.Subject{
		ID:           uuid.New(),
		Username:     username,
		Mobile:       "13800000000",
		Email:        username + "@example.com",
		Name:         username,
		Status:       users.StatusActive,
		IsActive:     true,
		PasswordHash: string(hash),
	}
}

type serviceFixture struct {
	service     *Service
	subjects    *memorySubjects
	codec       *TokenCodec
	blacklist   *Blacklist
	invalidator *countingInvalidator
}

func newServiceFixture(t *testing.T, subjects ...users.Subject) serviceFixture {
	t.Helper()
	client, _ := newTestRedis(t)
	blacklist := NewBlacklist(client, 0)
	codec := newTestCodec(t, blacklist)
	store := newMemorySubjects(subjects...)
	inv := &countingInvalidator{}
	svc := NewService(store, codec, blacklist, NewThrottle(client, ThrottleConfig{}), inv, nil)
	return serviceFixture{service: svc, subjects: store, codec: codec, blacklist: blacklist, invalidator: inv}
}

func TestLoginSucceedsWithUsernameOrMobile(t *testing.T) {
	alice := newTestSubject(t, "alice", "s3cret-pass")
	f := newServiceFixture(t, alice)
	ctx := context.Background()

	pair, subject, err := f.service.Login(ctx, LoginInput{Identifier: "alice", Password: "s3cret-pass", IP: "10.0.0.1", Type: "password"})
	require.NoError(t, err)
	require.Equal(t, alice.ID, subject.ID)
	claims, err := f.codec.Verify(ctx, pair.AccessToken, AccessToken)
	require.NoError(t, err)
	require.Equal(t, alice.ID.String(), claims.SubjectID)
	require.Equal(t, "10.0.0.1", f.subjects.logins[alice.ID].IP)

	_, _, err = f.service.Login(ctx, LoginInput{Identifier: "13800000000", Password: "s3cret-pass", IP: "10.0.0.1"})
	require.NoError(t, err)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	alice := newTestSubject(t, "alice", "s3cret-pass")
	f := newServiceFixture(t, alice)
	ctx := context.Background()

	_, _, err := f.service.Login(ctx, LoginInput{Identifier: "alice", Password: "wrong", IP: "10.0.0.1"})
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, _, err = f.service.Login(ctx, LoginInput{Identifier: "nobody", Password: "wrong", IP: "10.0.0.1"})
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLoginLocksAccountAfterRepeatedFailures(t *testing.T) {
	alice := newTestSubject(t, "alice", "s3cret-pass")
	f := newServiceFixture(t, alice)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _, err := f.service.Login(ctx, LoginInput{Identifier: "alice", Password: "wrong", IP: "10.0.0.1"})
		require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	}
	_, _, err := f.service.Login(ctx, LoginInput{Identifier: "alice", Password: "wrong", IP: "10.0.0.1"})
	require.ErrorIs(t, err, shared.ErrAccountLocked)

	_, _, err = f.service.Login(ctx, LoginInput{Identifier: "alice", Password: "s3cret-pass", IP: "10.0.0.1"})
	require.ErrorIs(t, err, shared.ErrAccountLocked)
}

func TestLoginRejectsDisabledAccount(t *testing.T) {
	alice := newTestSubject(t, "alice", "s3cret-pass")
	alice.Status = users.StatusDisabled
	f := newServiceFixture(t, alice)

	ctx := context.Background()

	for i := 0; i < 15; i++ {
		_, _, err := f.service.Login(ctx, LoginInput{Identifier: "alice", Password: "s3cret-pass", IP: "10.0.0.1"})
		require.ErrorIs(t, err, shared.ErrAccountDisabled)
	}
	// attempts on an unusable account count toward the throttle
	_, _, err := f.service.Login(ctx, LoginInput{Identifier: "alice", Password: "s3cret-pass", IP: "10.0.0.1"})
	require.ErrorIs(t, err, shared.ErrThrottled)
}

func TestStoreFailuresSurfaceAsInfrastructure(t *testing.T) {
	client, _ := newTestRedis(t)
	blacklist := NewBlacklist(client, 0)
	codec := newTestCodec(t, blacklist)
	svc := NewService(brokenSubjects{}, codec, blacklist, NewThrottle(client, ThrottleConfig{}), nil, nil)
	ctx := context.Background()

	_, _, err := svc.Login(ctx, LoginInput{Identifier: "alice", Password: "x", IP: "10.0.0.1"})
	require.ErrorIs(t, err, shared.ErrInfrastructure)
	require.NotErrorIs(t, err, errStoreDown)

	pair, err := codec.Create(Identity{ID: uuid.New(), Username: "alice"})
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, shared.ErrInfrastructure)

	require.ErrorIs(t, svc.ForceLogout(ctx, uuid.New()), shared.ErrInfrastructure)
}

func TestLoginThrottledAfterMaxAttempts(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		_, _, err := f.service.Login(ctx, LoginInput{Identifier: "ghost", Password: "x", IP: "10.0.0.7"})
		require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	}
	_, _, err := f.service.Login(ctx, LoginInput{Identifier: "ghost", Password: "x", IP: "10.0.0.7"})
	require.ErrorIs(t, err, shared.ErrThrottled)
}

func TestRefreshRotatesTokens(t *testing.T) {
	alice := newTestSubject(t, "alice", "s3cret-pass")
	f := newServiceFixture(t, alice)
	ctx := context.Background()

	pair, err := f.codec.Create(Identity{ID: alice.ID, Username: alice.Username})
	require.NoError(t, err)

	next, err := f.service.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	_, err = f.service.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)

	_, err = f.service.Refresh(ctx, next.AccessToken)
	require.ErrorIs(t, err, ErrTokenTypeMismatch)

	_, err = f.service.Refresh(ctx, next.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshRedeemsTokenOnceUnderConcurrency(t *testing.T) {
	alice := newTestSubject(t, "alice", "s3cret-pass")
	f := newServiceFixture(t, alice)
	ctx := context.Background()

	pair, err := f.codec.Create(Identity{ID: alice.ID, Username: alice.Username})
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.service.Refresh(ctx, pair.RefreshToken); err != nil {
				errs <- err
				return
			}
			wins.Add(1)
		}()
	}
	wg.Wait()
	close(errs)

	require.Equal(t, int32(1), wins.Load())
	for err := range errs {
		require.ErrorIs(t, err, ErrTokenRevoked)
	}
}

func TestLoginRightAfterForceLogout(t *testing.T) {
	alice := newTestSubject(t, "alice", "s3cret-pass")
	f := newServiceFixture(t, alice)
	ctx := context.Background()
	revokedAt := time.Now().Truncate(time.Second).Add(100 * time.Millisecond)
	f.blacklist.now = func() time.Time { return revokedAt }
	f.codec.now = func() time.Time { return revokedAt }

	old, err := f.codec.Create(Identity{ID: alice.ID, Username: alice.Username})
	require.NoError(t, err)
	require.NoError(t, f.service.ForceLogout(ctx, alice.ID))

	// same second, later millisecond
	f.codec.now = func() time.Time { return revokedAt.Add(300 * time.Millisecond) }
	fresh, _, err := f.service.Login(ctx, LoginInput{Identifier: "alice", Password: "s3cret-pass", IP: "10.0.0.1"})
	require.NoError(t, err)

	_, err = f.codec.Verify(ctx, fresh.AccessToken, AccessToken)
	require.NoError(t, err)
	_, err = f.service.Refresh(ctx, fresh.RefreshToken)
	require.NoError(t, err)

	_, err = f.codec.Verify(ctx, old.AccessToken, AccessToken)
	require.ErrorIs(t, err, ErrTokenRevoked)
	_, err = f.service.Refresh(ctx, old.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)
}

func TestRefreshLimited(t *testing.T) {
	alice := newTestSubject(t, "alice", "s3cret-pass")
	client, _ := newTestRedis(t)
	blacklist := NewBlacklist(client, 0)
	codec := newTestCodec(t, blacklist)
	svc := NewService(newMemorySubjects(alice), codec, blacklist, NewThrottle(client, ThrottleConfig{RefreshLimit: 1}), nil, nil)
	ctx := context.Background()

	pair, err := codec.Create(Identity{ID: alice.ID})
	require.NoError(t, err)
	next, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, next.RefreshToken)
	require.ErrorIs(t, err, shared.ErrThrottled)
}

func TestLogoutRevokesPresentedTokens(t *testing.T) {
	alice := newTestSubject(t, "alice", "s3cret-pass")
	f := newServiceFixture(t, alice)
	ctx := context.Background()

	pair, err := f.codec.Create(Identity{ID: alice.ID})
	require.NoError(t, err)
	require.NoError(t, f.service.Logout(ctx, alice.ID, pair.AccessToken, pair.RefreshToken))

	_, err = f.codec.Verify(ctx, pair.AccessToken, AccessToken)
	require.ErrorIs(t, err, ErrTokenRevoked)
	_, err = f.service.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)
}

func TestForceLogoutRevokesEverything(t *testing.T) {
	alice := newTestSubject(t, "alice", "s3cret-pass")
	f := newServiceFixture(t, alice)
	ctx := context.Background()

	pair, err := f.codec.Create(Identity{ID: alice.ID})
	require.NoError(t, err)
	require.NoError(t, f.service.ForceLogout(ctx, alice.ID))

	_, err = f.codec.Verify(ctx, pair.AccessToken, AccessToken)
	require.ErrorIs(t, err, ErrTokenRevoked)
	_, err = f.service.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)
	require.Equal(t, []uuid.UUID{alice.ID}, f.invalidator.calls)

	// Tokens issued after the cutoff are valid again.
	f.codec.now = func() time.Time { return time.Now().Add(2 * time.Second) }
	later, err := f.codec.Create(Identity{ID: alice.ID})
	require.NoError(t, err)
	f.codec.now = time.Now
	_, err = f.codec.Verify(ctx, later.AccessToken, AccessToken)
	require.NoError(t, err)

	require.ErrorIs(t, f.service.ForceLogout(ctx, uuid.New()), shared.ErrNotFound)
}

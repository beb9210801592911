package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"volleystat/config"
	"volleystat/internal/domain/user"
	volley_errors "volleystat/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]user.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[uuid.UUID]user.User{}}
}

func (r *memUserRepo) Create(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return volley_errors.ErrAlreadyExists
		}
	}
	r.users[u.ID] = *u
	return nil
}

func (r *memUserRepo) GetUserByID(_ context.Context, id uuid.UUID) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return user.User{}, volley_errors.ErrNotFound
	}
	return u, nil
}

func (r *memUserRepo) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return user.User{}, volley_errors.ErrNotFound
}

type memRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	err     error
}

func (r *memRevoker) Revoke(_ context.Context, jti string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[jti] = until
	return nil
}

func (r *memRevoker) IsRevoked(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	_, ok := r.revoked[jti]
	return ok, nil
}

func newAuthFixture() (*AuthService, *memUserRepo, *memRevoker) {
	users := newMemUserRepo()
	revoker := &memRevoker{revoked: map[string]time.Time{}}
	svc := NewAuthService(users, revoker, &config.Config{JWTSecret: "test-secret", JWTExpiryMin: 15})
	return svc, users, revoker
}

func TestAuthService_SignUpAndSignIn(t *testing.T) {
	svc, _, _ := newAuthFixture()
	ctx := context.Background()

	info, err := svc.SignUp(ctx, SignUpInput{Email: " Coach@Club.org ", Password: "volley-ball", DisplayName: "Coach"})
	require.NoError(t, err)
	assert.Equal(t, "coach@club.org", info.Email)

	res, err := svc.SignIn(ctx, SignInInput{Email: "COACH@club.org", Password: "volley-ball"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, int64(15*60), res.ExpiresIn)
	assert.Equal(t, info.ID, res.User.ID)

	claims, err := svc.ParseAccessToken(ctx, res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, info.ID, claims.UserID)

	me, err := svc.Me(ctx, uuid.MustParse(claims.UserID))
	require.NoError(t, err)
	assert.Equal(t, "Coach", me.DisplayName)
}

func TestAuthService_SignUpValidation(t *testing.T) {
	svc, _, _ := newAuthFixture()
	ctx := context.Background()

	_, err := svc.SignUp(ctx, SignUpInput{Email: "not-an-email", Password: "volley-ball"})
	assert.ErrorIs(t, err, volley_errors.ErrInvalidInput)

	_, err = svc.SignUp(ctx, SignUpInput{Email: "a@b.org", Password: "short"})
	assert.ErrorIs(t, err, volley_errors.ErrInvalidInput)

	_, err = svc.SignUp(ctx, SignUpInput{Email: "a@b.org", Password: "volley-ball"})
	require.NoError(t, err)
	_, err = svc.SignUp(ctx, SignUpInput{Email: "a@b.org", Password: "volley-ball"})
	assert.ErrorIs(t, err, volley_errors.ErrAlreadyExists)
}

func TestAuthService_SignInRejectsBadCredentials(t *testing.T) {
	svc, _, _ := newAuthFixture()
	ctx := context.Background()
	_, err := svc.SignUp(ctx, SignUpInput{Email: "a@b.org", Password: "volley-ball"})
	require.NoError(t, err)

	_, err = svc.SignIn(ctx, SignInInput{Email: "a@b.org", Password: "wrong-pass"})
	assert.ErrorIs(t, err, volley_errors.ErrUnauthorized)

	_, err = svc.SignIn(ctx, SignInInput{Email: "nobody@b.org", Password: "volley-ball"})
	assert.ErrorIs(t, err, volley_errors.ErrUnauthorized)

	_, err = svc.SignIn(ctx, SignInInput{})
	assert.ErrorIs(t, err, volley_errors.ErrInvalidInput)
}

func TestAuthService_TokenLifecycle(t *testing.T) {
	svc, _, revoker := newAuthFixture()
	ctx := context.Background()
	start := time.Unix(1700000000, 0)
	svc.now = func() time.Time { return start }

	_, err := svc.SignUp(ctx, SignUpInput{Email: "a@b.org", Password: "volley-ball"})
	require.NoError(t, err)
	res, err := svc.SignIn(ctx, SignInInput{Email: "a@b.org", Password: "volley-ball"})
	require.NoError(t, err)

	t.Run("garbage token", func(t *testing.T) {
		_, err := svc.ParseAccessToken(ctx, "not.a.jwt")
		assert.ErrorIs(t, err, volley_errors.ErrUnauthorized)
	})

	t.Run("deny-list unavailable", func(t *testing.T) {
		revoker.err = errors.New("connection refused")
		defer func() { revoker.err = nil }()
		_, err := svc.ParseAccessToken(ctx, res.AccessToken)
		assert.ErrorIs(t, err, volley_errors.ErrServiceUnavailable)
	})

	t.Run("expired", func(t *testing.T) {
		svc.now = func() time.Time { return start.Add(time.Hour) }
		defer func() { svc.now = func() time.Time { return start } }()
		_, err := svc.ParseAccessToken(ctx, res.AccessToken)
		assert.ErrorIs(t, err, volley_errors.ErrUnauthorized)
	})

	t.Run("signed out", func(t *testing.T) {
		claims, err := svc.ParseAccessToken(ctx, res.AccessToken)
		require.NoError(t, err)

		require.NoError(t, svc.SignOut(ctx, claims))
		assert.True(t, start.Add(15*time.Minute).Equal(revoker.revoked[claims.ID]))

		_, err = svc.ParseAccessToken(ctx, res.AccessToken)
		assert.ErrorIs(t, err, volley_errors.ErrUnauthorized)
	})
}

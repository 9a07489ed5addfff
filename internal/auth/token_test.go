package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/warden-rbac/warden/internal/shared"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func testTokenConfig() TokenConfig {
	return TokenConfig{
		AccessSecret:  "access-secret-for-tests",
		RefreshSecret: "refresh-secret-for-tests",
	}
}

func newTestCodec(t *testing.T, revoked RevocationChecker) *TokenCodec {
	t.Helper()
	codec, err := NewTokenCodec(testTokenConfig(), revoked)
	require.NoError(t, err)
	return codec
}

func TestTokenRoundTrip(t *testing.T) {
	codec := newTestCodec(t, nil)
	id := Identity{ID: uuid.New(), Username: "alice", Email: "alice@example.com", Name: "Alice"}

	pair, err := codec.Create(id)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.InDelta(t, time.Now().Add(30*time.Minute).Unix(), pair.AccessExpiresAt, 2)

	claims, err := codec.Verify(context.Background(), pair.AccessToken, AccessToken)
	require.NoError(t, err)
	require.Equal(t, id.ID.String(), claims.SubjectID)
	require.Equal(t, "alice", claims.Username)
	require.Equal(t, "alice@example.com", claims.Email)
	require.Equal(t, AccessToken, claims.Type)
	require.NotNil(t, claims.IssuedAt)
	require.NotNil(t, claims.ExpiresAt)
	// jti is the only registered claim added beyond iat and exp.
	require.NotEmpty(t, claims.ID)
	require.Empty(t, claims.Issuer)
	require.Empty(t, claims.Audience)

	refresh, err := codec.Verify(context.Background(), pair.RefreshToken, RefreshToken)
	require.NoError(t, err)
	require.Equal(t, id.ID.String(), refresh.SubjectID)
	require.Empty(t, refresh.Email)
	require.InDelta(t, time.Now().Add(7*24*time.Hour).Unix(), refresh.ExpiresAt.Unix(), 2)
	require.NotEmpty(t, refresh.ID)
	require.NotEqual(t, claims.ID, refresh.ID)

	again, err := codec.Create(id)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, again.RefreshToken)
}

func TestTokenIssuedAtKeepsMilliseconds(t *testing.T) {
	codec := newTestCodec(t, nil)
	issued := time.Now().Truncate(time.Second).Add(400 * time.Millisecond)
	codec.now = func() time.Time { return issued }

	pair, err := codec.Create(Identity{ID: uuid.New(), Username: "alice"})
	require.NoError(t, err)
	claims, err := codec.Verify(context.Background(), pair.AccessToken, AccessToken)
	require.NoError(t, err)
	require.InDelta(t, issued.UnixMilli(), claims.IssuedAt.UnixMilli(), 1)
}

func TestTokenTypeMismatch(t *testing.T) {
	codec := newTestCodec(t, nil)
	pair, err := codec.Create(Identity{ID: uuid.New(), Username: "bob"})
	require.NoError(t, err)

	claims, err := codec.Verify(context.Background(), pair.AccessToken, RefreshToken)
	require.ErrorIs(t, err, ErrTokenTypeMismatch)
	require.Nil(t, claims)

	_, err = codec.Verify(context.Background(), pair.RefreshToken, AccessToken)
	require.ErrorIs(t, err, ErrTokenTypeMismatch)
	require.ErrorIs(t, err, shared.ErrAuthentication)
}

func TestTokenSecretsDoNotCrossValidate(t *testing.T) {
	codec := newTestCodec(t, nil)
	forged := Claims{
		SubjectID: uuid.NewString(),
		Type:      RefreshToken,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, forged).SignedString([]byte(testTokenConfig().AccessSecret))
	require.NoError(t, err)

	_, err = codec.Verify(context.Background(), token, RefreshToken)
	require.ErrorIs(t, err, ErrTokenMalformed)
}

func TestTokenAlgorithmIsPinned(t *testing.T) {
	codec := newTestCodec(t, nil)
	claims := Claims{
		SubjectID: uuid.NewString(),
		Type:      AccessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testTokenConfig().AccessSecret))
	require.NoError(t, err)

	_, err = codec.Verify(context.Background(), token, AccessToken)
	require.ErrorIs(t, err, ErrTokenMalformed)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = codec.Verify(context.Background(), unsigned, AccessToken)
	require.ErrorIs(t, err, ErrTokenMalformed)
}

func TestTokenExpired(t *testing.T) {
	codec := newTestCodec(t, nil)
	issued := time.Now().Add(-2 * time.Hour)
	codec.now = func() time.Time { return issued }
	pair, err := codec.Create(Identity{ID: uuid.New(), Username: "carol"})
	require.NoError(t, err)

	codec.now = time.Now
	claims, err := codec.Verify(context.Background(), pair.AccessToken, AccessToken)
	require.ErrorIs(t, err, ErrTokenExpired)
	require.Nil(t, claims)

	expiry, err := codec.ExpiryOf(pair.AccessToken, AccessToken)
	require.NoError(t, err)
	require.Equal(t, issued.Add(30*time.Minute).Unix(), expiry.Unix())
}

func TestTokenMalformed(t *testing.T) {
	codec := newTestCodec(t, nil)
	_, err := codec.Verify(context.Background(), "not-a-jwt", AccessToken)
	require.ErrorIs(t, err, ErrTokenMalformed)

	_, err = codec.Verify(context.Background(), "", AccessToken)
	require.ErrorIs(t, err, ErrTokenMissing)

	_, err = codec.ExpiryOf("not-a-jwt", AccessToken)
	require.ErrorIs(t, err, ErrTokenMalformed)
}

func TestTokenConfigValidation(t *testing.T) {
	_, err := NewTokenCodec(TokenConfig{AccessSecret: "a"}, nil)
	require.Error(t, err)

	_, err = NewTokenCodec(TokenConfig{AccessSecret: "same", RefreshSecret: "same"}, nil)
	require.Error(t, err)

	cfg := testTokenConfig()
	cfg.Algorithm = "RS256"
	_, err = NewTokenCodec(cfg, nil)
	require.Error(t, err)

	cfg.Algorithm = "HS384"
	codec, err := NewTokenCodec(cfg, nil)
	require.NoError(t, err)
	pair, err := codec.Create(Identity{ID: uuid.New()})
	require.NoError(t, err)
	_, err = codec.Verify(context.Background(), pair.AccessToken, AccessToken)
	require.NoError(t, err)
}

type failingRevocation struct{}

func (failingRevocation) IsRevoked(context.Context, string, uuid.UUID, time.Time) (bool, error) {
	return false, errors.New("redis down")
}

func TestTokenRevocationCheck(t *testing.T) {
	client, _ := newTestRedis(t)
	blacklist := NewBlacklist(client, 0)
	codec := newTestCodec(t, blacklist)
	subject := uuid.New()
	pair, err := codec.Create(Identity{ID: subject})
	require.NoError(t, err)

	_, err = codec.Verify(context.Background(), pair.AccessToken, AccessToken)
	require.NoError(t, err)

	require.NoError(t, blacklist.Add(context.Background(), pair.AccessToken, subject, time.Unix(pair.AccessExpiresAt, 0)))
	_, err = codec.Verify(context.Background(), pair.AccessToken, AccessToken)
	require.ErrorIs(t, err, ErrTokenRevoked)

	failing := newTestCodec(t, failingRevocation{})
	_, err = failing.Verify(context.Background(), pair.AccessToken, AccessToken)
	require.ErrorIs(t, err, shared.ErrInfrastructure)
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/warden-rbac/warden/internal/shared"
)

// TokenType distinguishes access from refresh tokens.
type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

// Token errors. All of them wrap shared.ErrAuthentication.
var (
	ErrTokenMissing      = fmt.Errorf("%w: bearer token missing", shared.ErrAuthentication)
	ErrTokenExpired      = fmt.Errorf("%w: token expired", shared.ErrAuthentication)
	ErrTokenMalformed    = fmt.Errorf("%w: token malformed", shared.ErrAuthentication)
	ErrTokenTypeMismatch = fmt.Errorf("%w: token type mismatch", shared.ErrAuthentication)
	ErrTokenRevoked      = fmt.Errorf("%w: token revoked", shared.ErrAuthentication)
)

// Millisecond iat keeps tokens issued right after a force-logout apart from
// the ones it revoked.
func init() {
	jwt.TimePrecision = time.Millisecond
}

const (
	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Identity is the caller data embedded into access tokens.
type Identity struct {
	ID       uuid.UUID
	Username string
	Email    string
	Name     string
}

// Claims is the JWT payload. Refresh tokens carry only id and username.
// Every token also carries a random jti, so rotated tokens never repeat.
type Claims struct {
	SubjectID string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	Type      TokenType `json:"type"`
	jwt.RegisteredClaims
}

// Subject parses the subject id.
func (c *Claims) Subject() (uuid.UUID, error) {
	id, err := uuid.Parse(c.SubjectID)
	if err != nil {
		return uuid.Nil, ErrTokenMalformed
	}
	return id, nil
}

// TokenPair is returned by Create.
type TokenPair struct {
	AccessToken     string `json:"access_token"`
	RefreshToken    string `json:"refresh_token"`
	AccessExpiresAt int64  `json:"expire"`
}

// RevocationChecker reports revoked access tokens.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string, subjectID uuid.UUID, issuedAt time.Time) (bool, error)
}

// TokenConfig configures the codec.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	Algorithm     string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// TokenCodec issues and verifies HMAC signed JWTs.
type TokenCodec struct {
	method     jwt.SigningMethod
	secrets    map[TokenType][]byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	revoked    RevocationChecker
	now        func() time.Time
}

// NewTokenCodec validates cfg and builds a codec. revoked may be nil.
func NewTokenCodec(cfg TokenConfig, revoked RevocationChecker) (*TokenCodec, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("auth: access and refresh secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(cfg.Algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("auth: unsupported signing algorithm %q", cfg.Algorithm)
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	return &TokenCodec{
		method: method,
		secrets: map[TokenType][]byte{
			AccessToken:  []byte(cfg.AccessSecret),
			RefreshToken: []byte(cfg.RefreshSecret),
		},
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		revoked:    revoked,
		now:        time.Now,
	}, nil
}

// Create issues an access/refresh pair for id.
func (c *TokenCodec) Create(id Identity) (TokenPair, error) {
	now := c.now()
	accessExp := jwt.NewNumericDate(now.Add(c.accessTTL))
	access := Claims{
		SubjectID: id.ID.String(),
		Username:  id.Username,
		Email:     id.Email,
		Name:      id.Name,
		Type:      AccessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: accessExp,
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	refresh := Claims{
		SubjectID: id.ID.String(),
		Username:  id.Username,
		Type:      RefreshToken,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.refreshTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	accessToken, err := jwt.NewWithClaims(c.method, access).SignedString(c.secrets[AccessToken])
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth: sign access token: %w", err)
	}
	refreshToken, err := jwt.NewWithClaims(c.method, refresh).SignedString(c.secrets[RefreshToken])
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth: sign refresh token: %w", err)
	}
	return TokenPair{
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		AccessExpiresAt: accessExp.Unix(),
	}, nil
}

// Verify checks signature, expiry and type. Access tokens are also checked
// against the revocation store. On failure no claims are returned.
func (c *TokenCodec) Verify(ctx context.Context, token string, expected TokenType) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenMissing
	}
	if err := c.checkType(token, expected); err != nil {
		return nil, err
	}
	claims, err := c.parse(token, expected)
	if err != nil {
		return nil, err
	}
	if expected == AccessToken && c.revoked != nil {
		subjectID, err := claims.Subject()
		if err != nil {
			return nil, err
		}
		revoked, err := c.revoked.IsRevoked(ctx, token, subjectID, claims.IssuedAt.Time)
		if err != nil {
			return nil, fmt.Errorf("%w: revocation check: %v", shared.ErrInfrastructure, err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}

// ExpiryOf returns the expiry of a correctly signed token, even an expired one.
func (c *TokenCodec) ExpiryOf(token string, typ TokenType) (time.Time, error) {
	secret, ok := c.secrets[typ]
	if !ok {
		return time.Time{}, ErrTokenTypeMismatch
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{c.method.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, ErrTokenMalformed
	}
	return claims.ExpiresAt.Time, nil
}

// checkType peeks at the unverified type claim so a token presented on the
// wrong endpoint reports a mismatch instead of a bad signature.
func (c *TokenCodec) checkType(token string, expected TokenType) error {
	peek := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, peek); err != nil {
		return ErrTokenMalformed
	}
	if peek.Type != expected {
		return ErrTokenTypeMismatch
	}
	return nil
}

func (c *TokenCodec) parse(token string, expected TokenType) (*Claims, error) {
	secret, ok := c.secrets[expected]
	if !ok {
		return nil, ErrTokenTypeMismatch
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil || !parsed.Valid:
		return nil, ErrTokenMalformed
	}
	if claims.Type != expected {
		return nil, ErrTokenTypeMismatch
	}
	if claims.IssuedAt == nil {
		return nil, ErrTokenMalformed
	}
	if _, err := claims.Subject(); err != nil {
		return nil, err
	}
	return claims, nil
}

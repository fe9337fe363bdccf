package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type claim values. A refresh token can never be used where an
// access token is expected and vice versa.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// ErrInvalidToken is the single outcome for every token failure: bad
// signature, expiry, malformed payload, wrong type or stale version.
// Callers must not learn which check tripped.
var ErrInvalidToken = errors.New("invalid token")

// ErrNoSigningKey is returned when a verify-only Authority is asked to mint.
var ErrNoSigningKey = errors.New("no signing key configured")

// Claims is the signed claim set carried by both token types. The version
// pointer is only set on refresh tokens; its absence on an access token is
// what lets the two be told apart structurally as well as by type.
type Claims struct {
	TokenType           string `json:"type"`
	UserID              int64  `json:"user_id"`
	Username            string `json:"username"`
	RefreshTokenVersion *int64 `json:"refresh_token_version,omitempty"`
	jwt.RegisteredClaims
}

// VersionLookup resolves an identity's current refresh token version from
// the persistent store.
type VersionLookup func(ctx context.Context, userID int64) (int64, error)

// Authority signs and validates token pairs with an RSA key pair. A verify-only
// Authority (public key alone) can be handed to downstream services that must
// validate access tokens without being able to mint them.
type Authority struct {
	priv       *rsa.PrivateKey
	pub        *rsa.PublicKey
	accessTTL  time.Duration
	refreshTTL time.Duration

	now func() time.Time
}

// NewAuthority builds a minting Authority from PEM-encoded RSA keys.
func NewAuthority(privPEM, pubPEM []byte, accessTTL, refreshTTL time.Duration) (*Authority, error) {
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, err
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, err
	}
	return &Authority{priv: priv, pub: pub, accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}, nil
}

// NewVerifier builds a verify-only Authority from a PEM-encoded public key.
func NewVerifier(pubPEM []byte) (*Authority, error) {
	pub, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, err
	}
	return &Authority{pub: pub, now: time.Now}, nil
}

// IssueAccess signs a short-lived access token for the identity.
func (a *Authority) IssueAccess(userID int64, username string) (string, error) {
	return a.sign(Claims{
		TokenType: TokenTypeAccess,
		UserID:    userID,
		Username:  username,
	}, a.accessTTL)
}

// IssueRefresh signs a refresh token embedding the identity's current
// refresh token version. The token stays acceptable only while the stored
// version still equals this value.
func (a *Authority) IssueRefresh(userID int64, username string, version int64) (string, error) {
	return a.sign(Claims{
		TokenType:           TokenTypeRefresh,
		UserID:              userID,
		Username:            username,
		RefreshTokenVersion: &version,
	}, a.refreshTTL)
}

func (a *Authority) sign(c Claims, ttl time.Duration) (string, error) {
	if a.priv == nil {
		return "", ErrNoSigningKey
	}
	now := a.now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, c).SignedString(a.priv)
}

// Decode verifies the signature and expiry and returns the claims.
// Any failure collapses to ErrInvalidToken.
func (a *Authority) Decode(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return a.pub, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateAccess decodes an access token and returns its identity claims.
func (a *Authority) ValidateAccess(raw string) (*Claims, error) {
	claims, err := a.Decode(raw)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateRefresh decodes a refresh token and checks its embedded version
// against the identity's current stored version. A bumped version makes
// every previously issued refresh token unacceptable at once; no individual
// token state is kept anywhere.
func (a *Authority) ValidateRefresh(ctx context.Context, raw string, lookup VersionLookup) (*Claims, error) {
	claims, err := a.Decode(raw)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeRefresh || claims.UserID == 0 || claims.RefreshTokenVersion == nil {
		return nil, ErrInvalidToken
	}
	current, err := lookup(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if *claims.RefreshTokenVersion != current {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

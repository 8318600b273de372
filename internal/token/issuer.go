// Package token issues signed test tokens from the resident signing keys.
package token

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zarvd/jwks-test-issuer/internal/key"
)

// Subject is the fixed "sub" claim of every issued test token.
const Subject = "fake_user"

// ErrNoKeysAvailable is returned when the store holds no usable key.
// Issuance never generates a key on its own.
var ErrNoKeysAvailable = errors.New("no keys available")

type SignedToken struct {
	KeyID     string
	Header    string
	Payload   string
	Signature string
}

type Recorder interface {
	TokenIssued(expired bool)
}

type nopRecorder struct{}

func (nopRecorder) TokenIssued(bool) {}

// Issuer signs tokens with the most recently generated resident key.
type Issuer struct {
	logger   *slog.Logger
	store    *key.Store
	now      func() time.Time
	recorder Recorder
}

// NewIssuer returns an issuer reading keys from store. A nil now defaults
// to time.Now.
func NewIssuer(logger *slog.Logger, store *key.Store, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		logger:   logger.With(slog.String("component", "issuer")),
		store:    store,
		now:      now,
		recorder: nopRecorder{},
	}
}

func (i *Issuer) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	i.recorder = r
}

// Issue returns an RS256 token for Subject. The token expires with its
// signing key, or one hour in the past when forceExpired is set.
func (i *Issuer) Issue(ctx context.Context, forceExpired bool) (string, error) {
	active, privateKey, err := i.signingKey()
	if err != nil {
		return "", err
	}

	now := i.now()
	exp := active.ExpiresAt
	if forceExpired {
		exp = now.Add(-time.Hour)
	}

	tk := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": Subject,
		"iat": now.Unix(),
		"exp": exp.Unix(),
	})
	tk.Header["kid"] = active.ID

	signed, err := tk.SignedString(privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	i.recorder.TokenIssued(forceExpired)
	i.logger.Info("Issued token",
		slog.String("key-id", active.ID),
		slog.Bool("expired", forceExpired),
		slog.Time("exp", exp),
	)
	return signed, nil
}

// SignEncodedClaims signs caller supplied base64url encoded claims with the
// active key and returns the token parts.
func (i *Issuer) SignEncodedClaims(ctx context.Context, encodedClaims string) (*SignedToken, error) {
	active, privateKey, err := i.signingKey()
	if err != nil {
		return nil, err
	}

	header := map[string]string{
		"alg": jwt.SigningMethodRS256.Alg(),
		"typ": "JWT",
		"kid": active.ID,
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}
	headerB64 := base64.RawURLEncoding.EncodeToString(headerJSON)

	signature, err := jwt.SigningMethodRS256.Sign(headerB64+"."+encodedClaims, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign claims: %w", err)
	}

	return &SignedToken{
		KeyID:     active.ID,
		Header:    headerB64,
		Payload:   encodedClaims,
		Signature: base64.RawURLEncoding.EncodeToString(signature),
	}, nil
}

func (i *Issuer) signingKey() (key.SigningKey, *rsa.PrivateKey, error) {
	active, ok := i.store.Newest()
	if !ok {
		return key.SigningKey{}, nil, ErrNoKeysAvailable
	}
	privateKey, err := key.DecodeRSAPrivateKey(active.PrivateMaterial)
	if err != nil {
		return key.SigningKey{}, nil, fmt.Errorf("failed to load signing key %s: %w", active.ID, err)
	}
	return active, privateKey, nil
}

package server

import (
	"context"
	"time"

	"github.com/zarvd/jwks-test-issuer/internal/jwks"
	"github.com/zarvd/jwks-test-issuer/internal/key"
	"github.com/zarvd/jwks-test-issuer/internal/token"
)

// KeyManager is what the gRPC signer servers need from the key lifecycle.
type KeyManager interface {
	Sign(ctx context.Context, encodedClaims string) (*token.SignedToken, error)
	PublicKeys() []*jwks.PublicKey
	Expiration() time.Duration
	LastRotatedAt() time.Time
}

var _ KeyManager = (*keyManager)(nil)

type keyManager struct {
	store     *key.Store
	publisher *jwks.Publisher
	issuer    *token.Issuer
	generator *key.Generator
}

// NewKeyManager reports the generator's effective TTL, so the advertised
// expiration always matches the keys actually minted.
func NewKeyManager(store *key.Store, publisher *jwks.Publisher, issuer *token.Issuer, generator *key.Generator) KeyManager {
	return &keyManager{
		store:     store,
		publisher: publisher,
		issuer:    issuer,
		generator: generator,
	}
}

func (m *keyManager) Sign(ctx context.Context, encodedClaims string) (*token.SignedToken, error) {
	return m.issuer.SignEncodedClaims(ctx, encodedClaims)
}

func (m *keyManager) PublicKeys() []*jwks.PublicKey {
	return m.publisher.PublicKeys()
}

func (m *keyManager) Expiration() time.Duration {
	return m.generator.TTL()
}

func (m *keyManager) LastRotatedAt() time.Time {
	return m.store.LastModified()
}

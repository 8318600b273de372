// Package jwks publishes the public halves of the resident signing keys.
package jwks

import (
	"crypto/rsa"
	"encoding/base64"
	"log/slog"
	"math/big"

	"github.com/zarvd/jwks-test-issuer/internal/key"
)

const (
	KeyTypeRSA     = "RSA"
	AlgorithmRS256 = "RS256"
	UseSignature   = "sig"
)

type KeySet struct {
	Keys []Entry `json:"keys"`
}

type Entry struct {
	KeyType   string `json:"kty"`
	KeyID     string `json:"kid"`
	Algorithm string `json:"alg"`
	Use       string `json:"use"`
	N         string `json:"n"`
	E         string `json:"e"`
}

// PublicKey is a key id with its PKIX DER public key.
type PublicKey struct {
	KeyID string
	Key   []byte
}

type Publisher struct {
	logger *slog.Logger
	store  *key.Store
}

func NewPublisher(logger *slog.Logger, store *key.Store) *Publisher {
	return &Publisher{
		logger: logger.With(slog.String("component", "publisher")),
		store:  store,
	}
}

// Publish sweeps expired keys and returns the rest as a key set, newest
// first. An empty store yields an empty, non-nil key list.
func (p *Publisher) Publish() KeySet {
	live := p.store.Live()

	rv := KeySet{Keys: make([]Entry, 0, len(live))}
	for _, k := range live {
		publicKey, err := key.DecodeRSAPublicKey(k.PublicMaterial)
		if err != nil {
			p.logger.Error("skipping unreadable public key", slog.String("key-id", k.ID), slog.Any("error", err))
			continue
		}
		rv.Keys = append(rv.Keys, RSAEntry(k.ID, publicKey))
	}
	return rv
}

// PublicKeys sweeps expired keys and returns the DER encoded public keys,
// newest first.
func (p *Publisher) PublicKeys() []*PublicKey {
	live := p.store.Live()

	rv := make([]*PublicKey, 0, len(live))
	for _, k := range live {
		der, err := key.PublicKeyDER(k.PublicMaterial)
		if err != nil {
			p.logger.Error("skipping unreadable public key", slog.String("key-id", k.ID), slog.Any("error", err))
			continue
		}
		rv = append(rv, &PublicKey{KeyID: k.ID, Key: der})
	}
	return rv
}

// RSAEntry encodes pub as an RS256 signature key. The modulus and exponent
// are unpadded base64url big-endian integers.
func RSAEntry(kid string, pub *rsa.PublicKey) Entry {
	return Entry{
		KeyType:   KeyTypeRSA,
		KeyID:     kid,
		Algorithm: AlgorithmRS256,
		Use:       UseSignature,
		N:         base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:         base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

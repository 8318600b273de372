package key

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Generator creates signing keys and inserts them into a Store.
//
// RSA generation is CPU bound, so it runs in a single generation slot and
// never while the store lock is held.
type Generator struct {
	logger   *slog.Logger
	store    *Store
	ttl      time.Duration
	now      func() time.Time
	slot     *semaphore.Weighted
	recorder Recorder

	newPrivateKey func(bits int) (*rsa.PrivateKey, error)
}

// NewGenerator returns a generator whose keys live for ttl. A nil now
// defaults to time.Now.
func NewGenerator(logger *slog.Logger, store *Store, ttl time.Duration, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Generator{
		logger:   logger,
		store:    store,
		ttl:      ttl,
		now:      now,
		slot:     semaphore.NewWeighted(1),
		recorder: nopRecorder{},
		newPrivateKey: func(bits int) (*rsa.PrivateKey, error) {
			return rsa.GenerateKey(rand.Reader, bits)
		},
	}
}

func (g *Generator) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	g.recorder = r
}

// TTL is the lifetime given to every generated key.
func (g *Generator) TTL() time.Duration {
	return g.ttl
}

// Generate creates a fresh keypair, stores it and returns its id. Any
// failure wraps ErrKeyGeneration and leaves the store untouched.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	if err := g.slot.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}
	newKey, err := g.newKey()
	g.slot.Release(1)
	if err != nil {
		return "", err
	}

	if err := g.store.Insert(newKey); err != nil {
		return "", fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}
	g.recorder.KeyGenerated()
	g.logger.Info("Generated new key",
		slog.String("key-id", newKey.ID),
		slog.Time("expires-at", newKey.ExpiresAt),
	)
	return newKey.ID, nil
}

func (g *Generator) newKey() (SigningKey, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return SigningKey{}, fmt.Errorf("%w: failed to generate key id: %w", ErrKeyGeneration, err)
	}
	privateKey, err := g.newPrivateKey(RSAKeyBits)
	if err != nil {
		return SigningKey{}, fmt.Errorf("%w: failed to generate private key: %w", ErrKeyGeneration, err)
	}
	privatePEM, err := EncodeRSAPrivateKey(privateKey)
	if err != nil {
		return SigningKey{}, fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}
	publicPEM, err := EncodeRSAPublicKey(&privateKey.PublicKey)
	if err != nil {
		return SigningKey{}, fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}

	createdAt := g.now()
	return SigningKey{
		ID:              id.String(),
		PrivateMaterial: privatePEM,
		PublicMaterial:  publicPEM,
		CreatedAt:       createdAt,
		ExpiresAt:       createdAt.Add(g.ttl),
	}, nil
}

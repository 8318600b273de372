package key

import (
	"context"
	"crypto/rsa"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Generate(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewStore(slog.Default(), clock.Now)
	gen := NewGenerator(slog.Default(), store, DefaultTTL, clock.Now)
	recorder := &countingRecorder{}
	gen.SetRecorder(recorder)

	keyID, err := gen.Generate(context.Background())
	require.NoError(t, err)
	_, err = uuid.Parse(keyID)
	require.NoError(t, err)

	all := store.All()
	require.Len(t, all, 1)
	k := all[0]
	require.Equal(t, keyID, k.ID)
	require.Equal(t, clock.Now(), k.CreatedAt)
	require.Equal(t, clock.Now().Add(time.Hour), k.ExpiresAt)
	require.Equal(t, 1, recorder.generated)

	privateKey, err := DecodeRSAPrivateKey(k.PrivateMaterial)
	require.NoError(t, err)
	require.Equal(t, RSAKeyBits, privateKey.N.BitLen())
	require.Equal(t, 65537, privateKey.E)

	publicKey, err := DecodeRSAPublicKey(k.PublicMaterial)
	require.NoError(t, err)
	require.True(t, publicKey.Equal(&privateKey.PublicKey))
}

func TestGenerator_GenerateUniqueIDs(t *testing.T) {
	t.Parallel()

	store := NewStore(slog.Default(), nil)
	gen := NewGenerator(slog.Default(), store, DefaultTTL, nil)

	first, err := gen.Generate(context.Background())
	require.NoError(t, err)

	second, err := gen.Generate(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	require.ElementsMatch(t, []string{first, second}, idsOf(store.All()))
}

func TestGenerator_GenerateFailure(t *testing.T) {
	t.Parallel()

	store := NewStore(slog.Default(), nil)
	gen := NewGenerator(slog.Default(), store, DefaultTTL, nil)
	gen.newPrivateKey = func(int) (*rsa.PrivateKey, error) {
		return nil, errors.New("entropy exhausted")
	}

	keyID, err := gen.Generate(context.Background())
	require.ErrorIs(t, err, ErrKeyGeneration)
	require.ErrorContains(t, err, "entropy exhausted")
	require.Empty(t, keyID)
	require.True(t, store.IsEmpty())
}

func TestGenerator_GenerateCanceled(t *testing.T) {
	t.Parallel()

	store := NewStore(slog.Default(), nil)
	gen := NewGenerator(slog.Default(), store, DefaultTTL, nil)

	// hold the generation slot so Generate has to wait for it
	require.NoError(t, gen.slot.Acquire(context.Background(), 1))
	defer gen.slot.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gen.Generate(ctx)
	require.ErrorIs(t, err, ErrKeyGeneration)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, store.IsEmpty())
}

func TestGenerator_DefaultTTL(t *testing.T) {
	t.Parallel()

	gen := NewGenerator(slog.Default(), NewStore(slog.Default(), nil), 0, nil)
	require.Equal(t, DefaultTTL, gen.TTL())
}

func idsOf(keys []SigningKey) []string {
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k.ID)
	}
	return ids
}

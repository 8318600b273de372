package jwks

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zarvd/jwks-test-issuer/internal/key"
)

func TestPublisher_Publish(t *testing.T) {
	t.Parallel()

	t.Run("one fresh key", func(t *testing.T) {
		store := key.NewStore(slog.Default(), nil)
		gen := key.NewGenerator(slog.Default(), store, key.DefaultTTL, nil)
		keyID, err := gen.Generate(context.Background())
		require.NoError(t, err)

		set := NewPublisher(slog.Default(), store).Publish()
		require.Len(t, set.Keys, 1)

		entry := set.Keys[0]
		require.Equal(t, "RSA", entry.KeyType)
		require.Equal(t, "RS256", entry.Algorithm)
		require.Equal(t, "sig", entry.Use)
		require.Equal(t, keyID, entry.KeyID)
		require.Equal(t, "AQAB", entry.E)

		stored := store.All()[0]
		publicKey, err := key.DecodeRSAPublicKey(stored.PublicMaterial)
		require.NoError(t, err)
		n, err := base64.RawURLEncoding.DecodeString(entry.N)
		require.NoError(t, err)
		require.Zero(t, publicKey.N.Cmp(new(big.Int).SetBytes(n)))
		require.NotContains(t, entry.N, "=")
	})

	t.Run("empty store", func(t *testing.T) {
		store := key.NewStore(slog.Default(), nil)

		set := NewPublisher(slog.Default(), store).Publish()
		require.NotNil(t, set.Keys)
		require.Empty(t, set.Keys)

		b, err := json.Marshal(set)
		require.NoError(t, err)
		require.JSONEq(t, `{"keys":[]}`, string(b))
	})

	t.Run("expired key is reaped and not published", func(t *testing.T) {
		now := time.Now()
		clock := func() time.Time { return now }
		store := key.NewStore(slog.Default(), clock)

		past := func() time.Time { return now.Add(-2 * time.Hour) }
		expiredID, err := key.NewGenerator(slog.Default(), store, key.DefaultTTL, past).Generate(context.Background())
		require.NoError(t, err)
		liveID, err := key.NewGenerator(slog.Default(), store, key.DefaultTTL, clock).Generate(context.Background())
		require.NoError(t, err)

		set := NewPublisher(slog.Default(), store).Publish()
		require.Len(t, set.Keys, 1)
		require.Equal(t, liveID, set.Keys[0].KeyID)
		require.NotEqual(t, expiredID, set.Keys[0].KeyID)
		require.Equal(t, 1, store.Len())
	})

	t.Run("repeated calls are stable", func(t *testing.T) {
		store := key.NewStore(slog.Default(), nil)
		gen := key.NewGenerator(slog.Default(), store, key.DefaultTTL, nil)
		for range 2 {
			_, err := gen.Generate(context.Background())
			require.NoError(t, err)
		}

		publisher := NewPublisher(slog.Default(), store)
		require.Equal(t, publisher.Publish(), publisher.Publish())
	})

	t.Run("unreadable key is skipped", func(t *testing.T) {
		store := key.NewStore(slog.Default(), nil)
		require.NoError(t, store.Insert(key.SigningKey{
			ID:             "broken",
			PublicMaterial: []byte("not pem"),
			ExpiresAt:      time.Now().Add(time.Hour),
		}))

		set := NewPublisher(slog.Default(), store).Publish()
		require.Empty(t, set.Keys)
	})
}

func TestPublisher_PublicKeys(t *testing.T) {
	t.Parallel()

	store := key.NewStore(slog.Default(), nil)
	gen := key.NewGenerator(slog.Default(), store, key.DefaultTTL, nil)
	keyID, err := gen.Generate(context.Background())
	require.NoError(t, err)

	keys := NewPublisher(slog.Default(), store).PublicKeys()
	require.Len(t, keys, 1)
	require.Equal(t, keyID, keys[0].KeyID)

	_, err = x509.ParsePKIXPublicKey(keys[0].Key)
	require.NoError(t, err)
}

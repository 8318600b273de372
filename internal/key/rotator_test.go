package key

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRotator_RotateIfNeeded(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewStore(slog.Default(), clock.Now)
	gen := NewGenerator(slog.Default(), store, DefaultTTL, clock.Now)
	rotator := NewRotator(slog.Default(), store, gen, time.Minute, 15*time.Minute)
	ctx := context.Background()

	// empty store
	first, err := rotator.RotateIfNeeded(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first)
	require.Equal(t, 1, store.Len())

	// plenty of lifetime left
	keyID, err := rotator.RotateIfNeeded(ctx)
	require.NoError(t, err)
	require.Empty(t, keyID)
	require.Equal(t, 1, store.Len())

	// inside the lead window, the old key stays published until it expires
	clock.Advance(50 * time.Minute)
	second, err := rotator.RotateIfNeeded(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, second)
	require.NotEqual(t, first, second)
	require.ElementsMatch(t, []string{first, second}, idsOf(store.Live()))

	newest, ok := store.Newest()
	require.True(t, ok)
	require.Equal(t, second, newest.ID)

	clock.Advance(10 * time.Minute)
	require.Equal(t, []string{second}, idsOf(store.Live()))
}

func TestRotator_LeadNotShorterThanTTL(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewStore(slog.Default(), clock.Now)
	gen := NewGenerator(slog.Default(), store, 10*time.Minute, clock.Now)
	rotator := NewRotator(slog.Default(), store, gen, time.Minute, 15*time.Minute)
	require.Equal(t, 5*time.Minute, rotator.Lead())

	ctx := context.Background()
	_, err := gen.Generate(ctx)
	require.NoError(t, err)

	var generated int
	for range 10 {
		clock.Advance(time.Minute)
		keyID, err := rotator.RotateIfNeeded(ctx)
		require.NoError(t, err)
		if keyID != "" {
			generated++
		}
		require.LessOrEqual(t, store.Len(), 2)
	}
	// one replacement each half TTL
	require.Equal(t, 2, generated)
}

func TestNewRotator_Lead(t *testing.T) {
	t.Parallel()

	store := NewStore(slog.Default(), nil)
	gen := NewGenerator(slog.Default(), store, time.Hour, nil)

	tests := []struct {
		name string
		lead time.Duration
		want time.Duration
	}{
		{name: "within ttl", lead: 15 * time.Minute, want: 15 * time.Minute},
		{name: "equal to ttl", lead: time.Hour, want: 30 * time.Minute},
		{name: "longer than ttl", lead: 2 * time.Hour, want: 30 * time.Minute},
		{name: "zero", lead: 0, want: 30 * time.Minute},
		{name: "negative", lead: -time.Minute, want: 30 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rotator := NewRotator(slog.Default(), store, gen, time.Minute, tt.lead)
			require.Equal(t, tt.want, rotator.Lead())
		})
	}
}

func TestRotator_Run(t *testing.T) {
	t.Parallel()

	store := NewStore(slog.Default(), nil)
	gen := NewGenerator(slog.Default(), store, DefaultTTL, nil)
	rotator := NewRotator(slog.Default(), store, gen, 10*time.Millisecond, 15*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rotator.Run(ctx) }()

	require.Eventually(t, func() bool { return !store.IsEmpty() }, 10*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("rotation loop did not stop")
	}
	require.Equal(t, 1, store.Len())
}

package key

import (
	"context"
	"log/slog"
	"time"
)

// Rotator periodically reaps expired keys and generates a replacement
// before the newest key runs out, so the store does not stay empty once the
// startup key expires.
type Rotator struct {
	logger    *slog.Logger
	store     *Store
	generator *Generator
	interval  time.Duration
	lead      time.Duration
	now       func() time.Time
}

// NewRotator returns a rotator that ticks every interval and rotates when
// the newest key expires within lead. A lead outside (0, ttl) is replaced by
// half the generator's TTL, otherwise every fresh key would already be inside
// the window and each tick would add another one.
func NewRotator(logger *slog.Logger, store *Store, generator *Generator, interval, lead time.Duration) *Rotator {
	logger = logger.With(slog.String("component", "rotator"))
	if ttl := generator.TTL(); lead <= 0 || lead >= ttl {
		logger.Warn("rotation lead out of range, using half the key TTL",
			slog.Duration("lead", lead),
			slog.Duration("key-ttl", ttl),
		)
		lead = ttl / 2
	}
	return &Rotator{
		logger:    logger,
		store:     store,
		generator: generator,
		interval:  interval,
		lead:      lead,
		now:       generator.now,
	}
}

// Lead is the window before expiry in which a replacement is generated.
func (r *Rotator) Lead() time.Duration {
	return r.lead
}

// Run blocks until ctx is done.
func (r *Rotator) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("rotation loop stopped")
			return nil
		case <-ticker.C:
			if _, err := r.RotateIfNeeded(ctx); err != nil {
				// the next tick tries again
				r.logger.Error("failed to rotate key", slog.Any("error", err))
			}
		}
	}
}

// RotateIfNeeded sweeps the store and generates a key when none is left or
// the newest one expires within the lead time. It returns the new key id,
// or "" when nothing was generated.
func (r *Rotator) RotateIfNeeded(ctx context.Context) (string, error) {
	newest, ok := r.store.Newest()
	if ok && newest.ExpiresAt.Sub(r.now()) > r.lead {
		return "", nil
	}

	if ok {
		r.logger.Info("rotating key", slog.String("key-id", newest.ID), slog.Time("expires-at", newest.ExpiresAt))
	} else {
		r.logger.Warn("no signing key left, generating one")
	}
	keyID, err := r.generator.Generate(ctx)
	if err != nil {
		return "", err
	}
	r.logger.Info("Updated active key", slog.String("key-id", keyID), slog.Int("num-keys", r.store.Len()))
	return keyID, nil
}

package key

import (
	"errors"
	"time"
)

const (
	// DefaultTTL is how long a freshly generated key stays valid.
	DefaultTTL = time.Hour

	// RSAKeyBits is the modulus size of every generated key.
	RSAKeyBits = 2048
)

var (
	ErrKeyGeneration   = errors.New("key generation failed")
	ErrDuplicateKey    = errors.New("duplicate key id")
	ErrInvalidMaterial = errors.New("invalid key material")
)

// SigningKey is an RSA keypair with its lifetime metadata.
//
// Keys never change after creation; the Store hands out copies and the
// material slices must be treated as read-only.
type SigningKey struct {
	ID string
	// PKCS#8 PEM. Only used for signing.
	PrivateMaterial []byte
	// PKIX PEM.
	PublicMaterial []byte
	CreatedAt      time.Time
	ExpiresAt      time.Time

	seq uint64
}

// ExpiredAt reports whether the key is no longer usable at t.
func (k SigningKey) ExpiredAt(t time.Time) bool {
	return !k.ExpiresAt.After(t)
}

// Recorder receives key lifecycle events. metrics.Metrics implements it.
type Recorder interface {
	KeyGenerated()
	KeysReaped(n int)
	StoreSize(n int)
}

type nopRecorder struct{}

func (nopRecorder) KeyGenerated()   {}
func (nopRecorder) KeysReaped(int) {}
func (nopRecorder) StoreSize(int)  {}

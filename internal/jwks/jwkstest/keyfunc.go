// Package jwkstest verifies tokens against a published key set, the way a
// relying party would.
package jwkstest

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zarvd/jwks-test-issuer/internal/jwks"
)

var ErrUnknownKeyID = errors.New("unknown kid")

// RSAPublicKey decodes a key set entry back into an RSA public key.
func RSAPublicKey(e jwks.Entry) (*rsa.PublicKey, error) {
	if e.KeyType != jwks.KeyTypeRSA {
		return nil, fmt.Errorf("unsupported key type %q", e.KeyType)
	}
	n, err := base64.RawURLEncoding.DecodeString(e.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	exp, err := base64.RawURLEncoding.DecodeString(e.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(exp).Int64()),
	}, nil
}

// Keyfunc resolves a token's "kid" header against set.
func Keyfunc(set jwks.KeySet) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		for _, e := range set.Keys {
			if e.KeyID == kid {
				return RSAPublicKey(e)
			}
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyID, kid)
	}
}

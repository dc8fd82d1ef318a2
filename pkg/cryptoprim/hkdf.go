package cryptoprim

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/cuemby/basin/pkg/basinerr"
)

// HKDFSHA256 derives outLen bytes from ikm using HKDF-SHA256 with the
// given salt and info, per RFC 5869. The epoch chain and channel keys are
// built on it; the JWE content-key unwrap in ecdh.go uses Concat KDF
// instead.
func HKDFSHA256(ikm, salt, info []byte, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, basinerr.CryptoFailure("hkdf", err)
	}
	return out, nil
}

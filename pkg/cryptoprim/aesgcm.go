// Package cryptoprim implements the primitive cryptographic operations the
// rest of the system composes: AES-GCM authenticated encryption, AES key
// wrap, HKDF-SHA256 derivation, ECDSA P-256 signatures, ECDH+KDF decryption,
// and random byte generation. It deliberately stays at the primitive level;
// key hierarchy and envelope composition live in pkg/keys and pkg/wire.
package cryptoprim

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/cuemby/basin/pkg/basinerr"
)

// KeySize is the AES-256 / DEK / KEK key length in bytes.
const KeySize = 32

// RandomBytes returns n cryptographically random bytes, matching the
// teacher's io.ReadFull(rand.Reader, ...) pattern used throughout
// pkg/security.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, basinerr.CryptoFailure("random_bytes", err)
	}
	return b, nil
}

// SealGCM encrypts plaintext under key with a fresh random IV and the
// supplied AAD, returning the IV and the ciphertext||tag separately so
// callers can lay them out per the wire format of their choosing.
func SealGCM(key, plaintext, aad []byte) (iv, ciphertext []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	iv, err = RandomBytes(gcm.NonceSize())
	if err != nil {
		return nil, nil, err
	}
	ciphertext = gcm.Seal(nil, iv, plaintext, aad)
	return iv, ciphertext, nil
}

// OpenGCM decrypts ciphertext||tag under key, iv and aad.
func OpenGCM(key, iv, ciphertext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != gcm.NonceSize() {
		return nil, basinerr.CryptoFailure("open_gcm", errBadNonceSize)
	}
	plaintext, err := gcm.Open(nil, iv, ciphertext, aad)
	if err != nil {
		return nil, basinerr.CryptoFailure("open_gcm", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, basinerr.CryptoFailure("new_cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, basinerr.CryptoFailure("new_gcm", err)
	}
	return gcm, nil
}

type bondNonceSizeError struct{}

func (bondNonceSizeError) Error() string { return "iv does not match GCM nonce size" }

var errBadNonceSize = bondNonceSizeError{}

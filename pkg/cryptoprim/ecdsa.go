package cryptoprim

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"math/big"

	"github.com/cuemby/basin/pkg/basinerr"
)

// JWK is the minimal P-256 public-key JSON Web Key shape the edit chain
// embeds alongside each signature.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// GenerateSigningKey creates a fresh P-256 ECDSA key pair.
func GenerateSigningKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, basinerr.CryptoFailure("generate_signing_key", err)
	}
	return key, nil
}

// PublicJWK encodes a P-256 public key as a JWK.
func PublicJWK(pub *ecdsa.PublicKey) JWK {
	size := (pub.Curve.Params().BitSize + 7) / 8
	return JWK{
		Kty: "EC",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(pub.X.FillBytes(make([]byte, size))),
		Y:   base64.RawURLEncoding.EncodeToString(pub.Y.FillBytes(make([]byte, size))),
	}
}

// JWKToPublicKey reconstructs an ECDSA public key from a JWK.
func JWKToPublicKey(jwk JWK) (*ecdsa.PublicKey, error) {
	xb, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, basinerr.CryptoFailure("jwk_to_public_key", err)
	}
	yb, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, basinerr.CryptoFailure("jwk_to_public_key", err)
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(xb),
		Y:     new(big.Int).SetBytes(yb),
	}, nil
}

// Sign produces an IEEE P1363 (raw r||s, 64 bytes for P-256) signature
// over SHA-256(data).
func Sign(key *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		return nil, basinerr.CryptoFailure("sign", err)
	}
	size := (key.Curve.Params().BitSize + 7) / 8
	sig := make([]byte, 2*size)
	r.FillBytes(sig[:size])
	s.FillBytes(sig[size:])
	return sig, nil
}

// Verify checks an IEEE P1363 signature produced by Sign.
func Verify(pub *ecdsa.PublicKey, data, sig []byte) bool {
	size := (pub.Curve.Params().BitSize + 7) / 8
	if len(sig) != 2*size {
		return false
	}
	r := new(big.Int).SetBytes(sig[:size])
	s := new(big.Int).SetBytes(sig[size:])
	digest := sha256.Sum256(data)
	return ecdsa.Verify(pub, digest[:], r, s)
}

package keys

import (
	"github.com/cuemby/basin/pkg/cryptoprim"
	"github.com/cuemby/basin/pkg/wire"
)

// GenerateDEK returns a fresh 32-byte per-record Data Encryption Key.
func GenerateDEK() ([]byte, error) {
	return cryptoprim.RandomBytes(cryptoprim.KeySize)
}

// WrapDEK wraps dek under kek (the epoch-KEK for `epoch`) and lays out
// the 44-byte wrapped structure: [epoch BE u32][AES-KW ciphertext].
func WrapDEK(dek, kek []byte, epoch uint32) ([]byte, error) {
	kw, err := cryptoprim.WrapKey(kek, dek)
	if err != nil {
		return nil, err
	}
	return wire.EncodeWrappedDEK(epoch, kw), nil
}

// UnwrapResult carries the recovered DEK and the epoch it was wrapped
// under.
type UnwrapResult struct {
	DEK   []byte
	Epoch uint32
}

// UnwrapDEK unwraps a 44-byte wrapped DEK. The caller must have already
// derived the KEK for the wrapped epoch (typically via PeekEpoch + a
// forward derivation from a known epoch).
func UnwrapDEK(wrapped, kek []byte) (UnwrapResult, error) {
	epoch, kw, err := wire.SplitWrappedDEK(wrapped)
	if err != nil {
		return UnwrapResult{}, err
	}
	dek, err := cryptoprim.UnwrapKey(kek, kw)
	if err != nil {
		return UnwrapResult{}, err
	}
	return UnwrapResult{DEK: dek, Epoch: epoch}, nil
}

// PeekEpoch reads the epoch prefix without performing authenticated
// decryption, so callers can decide which epoch-KEK to derive before
// doing the (potentially expensive, forward-chained) derivation.
func PeekEpoch(wrapped []byte) (uint32, error) {
	return wire.PeekEpoch(wrapped)
}

// RewrapDEK re-wraps an already-unwrapped DEK under a new epoch's KEK.
// Per invariant 8, the plaintext record envelope is never touched by a
// rewrap; only the wrapped-DEK bytes change.
func RewrapDEK(dek, newKEK []byte, newEpoch uint32) ([]byte, error) {
	return WrapDEK(dek, newKEK, newEpoch)
}

package defaultcrypto

import (
	"context"
	"crypto/ecdsa"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/cuemby/basin/pkg/basinerr"
	"github.com/cuemby/basin/pkg/boundary"
	"github.com/cuemby/basin/pkg/cryptoprim"
	"github.com/cuemby/basin/pkg/keys"
	"github.com/cuemby/basin/pkg/wire"
)

// Crypto implements boundary.CryptoCollaborator for one space: record
// envelope encryption under the epoch DEK hierarchy, ECDSA signing for
// the edit chain, and transient channel key derivation.
type Crypto struct {
	spaceID   string
	hierarchy *keys.Hierarchy
	signKey   *ecdsa.PrivateKey

	currentEpoch atomic.Uint32

	mu sync.Mutex
}

// New constructs a Crypto bound to one space's root key and signing
// key. rootKey is the space's epoch_key_0; signKey signs this
// replica's edit-chain entries.
func New(spaceID string, rootKey []byte, signKey *ecdsa.PrivateKey) *Crypto {
	return &Crypto{
		spaceID:   spaceID,
		hierarchy: keys.NewHierarchy(rootKey, spaceID),
		signKey:   signKey,
	}
}

// SetCurrentEpoch records the server-authoritative current epoch,
// learned via the epoch advance protocol (pkg/epoch). EncryptRecord
// always wraps new DEKs under this epoch.
func (c *Crypto) SetCurrentEpoch(epoch uint32) {
	c.currentEpoch.Store(epoch)
}

// CurrentEpoch returns the epoch new records are encrypted under.
func (c *Crypto) CurrentEpoch() uint32 {
	return c.currentEpoch.Load()
}

// EncryptRecord generates a fresh DEK, seals plaintext under it with
// AES-GCM, and wraps the DEK under the current epoch-KEK (spec §4.C
// "record encryption = envelope encryption"). The record id bound into
// ctx via boundary.WithRecordID becomes part of the AAD, so a blob
// cannot be replayed under a different record's identity.
func (c *Crypto) EncryptRecord(ctx context.Context, plaintext []byte) (blob, wrappedDEK []byte, err error) {
	recordID, _ := boundary.RecordIDFromContext(ctx)

	dek, err := keys.GenerateDEK()
	if err != nil {
		return nil, nil, err
	}
	epoch := c.CurrentEpoch()
	kek, err := c.hierarchy.EpochKey(epoch)
	if err != nil {
		return nil, nil, err
	}
	wrapped, err := keys.WrapDEK(dek, kek, epoch)
	if err != nil {
		return nil, nil, err
	}

	aad := wire.RecordAAD(c.spaceID, recordID)
	iv, ciphertext, err := cryptoprim.SealGCM(dek, plaintext, aad)
	if err != nil {
		return nil, nil, err
	}
	var ivArr [wire.IVSize]byte
	copy(ivArr[:], iv)
	encoded := wire.Blob{Version: wire.BlobVersion, IV: ivArr, Ciphertext: ciphertext}.Encode()
	return encoded, wrapped, nil
}

// DecryptRecord reverses EncryptRecord: peek the wrapped DEK's epoch,
// derive that epoch's KEK forward from the cached hierarchy, unwrap the
// DEK, then open the envelope.
func (c *Crypto) DecryptRecord(ctx context.Context, blob, wrappedDEK []byte) ([]byte, error) {
	recordID, _ := boundary.RecordIDFromContext(ctx)

	parsed, err := wire.DecodeBlob(blob)
	if err != nil {
		return nil, err
	}
	epoch, err := keys.PeekEpoch(wrappedDEK)
	if err != nil {
		return nil, err
	}
	kek, err := c.hierarchy.EpochKey(epoch)
	if err != nil {
		return nil, err
	}
	unwrapped, err := keys.UnwrapDEK(wrappedDEK, kek)
	if err != nil {
		return nil, err
	}
	aad := wire.RecordAAD(c.spaceID, recordID)
	return cryptoprim.OpenGCM(unwrapped.DEK, parsed.IV[:], parsed.Ciphertext, aad)
}

// RewrapDEK unwraps a DEK at its current epoch and re-wraps it under
// atEpoch's KEK, never touching the record's ciphertext (spec
// invariant 8, consumed by pkg/epoch's Advance).
func (c *Crypto) RewrapDEK(wrapped []byte, atEpoch uint32) ([]byte, error) {
	epoch, err := keys.PeekEpoch(wrapped)
	if err != nil {
		return nil, err
	}
	kek, err := c.hierarchy.EpochKey(epoch)
	if err != nil {
		return nil, err
	}
	unwrapped, err := keys.UnwrapDEK(wrapped, kek)
	if err != nil {
		return nil, err
	}
	newKEK, err := c.hierarchy.EpochKey(atEpoch)
	if err != nil {
		return nil, err
	}
	return keys.RewrapDEK(unwrapped.DEK, newKEK, atEpoch)
}

// DeriveChannelKey derives the transient presence/event channel key at
// the current epoch.
func (c *Crypto) DeriveChannelKey(spaceID string) ([]byte, error) {
	return c.hierarchy.ChannelKey(c.CurrentEpoch())
}

// Sign produces an ECDSA signature over data for an edit-chain entry.
func (c *Crypto) Sign(data []byte) ([]byte, error) {
	if c.signKey == nil {
		return nil, basinerr.CryptoFailure("sign", errNoSigningKey)
	}
	return cryptoprim.Sign(c.signKey, data)
}

// Verify checks an edit-chain entry's signature against a JWK public
// key recovered from that entry.
func (c *Crypto) Verify(data, sig []byte, pubKey cryptoprim.JWK) bool {
	pub, err := cryptoprim.JWKToPublicKey(pubKey)
	if err != nil {
		return false
	}
	return cryptoprim.Verify(pub, data, sig)
}

// GenerateRecordID mints a new record id.
func (c *Crypto) GenerateRecordID() string {
	return uuid.NewString()
}

type noSigningKeyError struct{}

func (noSigningKeyError) Error() string { return "defaultcrypto: no signing key configured" }

var errNoSigningKey = noSigningKeyError{}

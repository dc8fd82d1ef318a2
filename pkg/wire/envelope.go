// Package wire implements the fixed-layout binary formats that cross the
// sync boundary: the encrypted record envelope, the wrapped-DEK structure,
// and the canonical JSON encoding used for signable content.
package wire

import (
	"encoding/binary"

	"github.com/cuemby/basin/pkg/basinerr"
)

// BlobVersion is the single supported encrypted-blob wire version.
const BlobVersion byte = 0x04

var supportedVersions = map[byte]bool{BlobVersion: true}

// IVSize is the AES-GCM nonce size used by the v4 envelope.
const IVSize = 12

// Blob is a parsed v4 encrypted envelope: version byte, IV, and the
// GCM ciphertext-with-tag.
type Blob struct {
	Version    byte
	IV         [IVSize]byte
	Ciphertext []byte // ciphertext || tag, opaque to this package
}

// Encode lays out a v4 blob as version‖IV‖ciphertext.
func (b Blob) Encode() []byte {
	out := make([]byte, 0, 1+IVSize+len(b.Ciphertext))
	out = append(out, b.Version)
	out = append(out, b.IV[:]...)
	out = append(out, b.Ciphertext...)
	return out
}

// DecodeBlob parses the fixed v4 layout. The version byte drives a
// closed-enum dispatch; any value outside SUPPORTED_VERSIONS fails.
func DecodeBlob(raw []byte) (Blob, error) {
	if len(raw) < 1+IVSize {
		return Blob{}, basinerr.CryptoFailure("decode_blob", errShortBlob)
	}
	version := raw[0]
	if !supportedVersions[version] {
		return Blob{}, basinerr.UnsupportedWireVersion(version)
	}
	var b Blob
	b.Version = version
	copy(b.IV[:], raw[1:1+IVSize])
	b.Ciphertext = append([]byte(nil), raw[1+IVSize:]...)
	return b, nil
}

var errShortBlob = shortBlobError{}

type shortBlobError struct{}

func (shortBlobError) Error() string { return "encrypted blob shorter than version+IV" }

// RecordAAD builds the additional authenticated data bound to a record
// envelope: "v1\0" ‖ spaceId ‖ "\0" ‖ recordId, or empty when no binding
// context is supplied.
func RecordAAD(spaceID, recordID string) []byte {
	if spaceID == "" && recordID == "" {
		return nil
	}
	aad := make([]byte, 0, len(spaceID)+len(recordID)+4)
	aad = append(aad, 'v', '1', 0)
	aad = append(aad, spaceID...)
	aad = append(aad, 0)
	aad = append(aad, recordID...)
	return aad
}

// ChannelAAD builds the AAD for presence/event payloads: a literal kind
// marker, a NUL byte, then the space id.
func ChannelAAD(kind string, spaceID string) []byte {
	aad := make([]byte, 0, len(kind)+1+len(spaceID))
	aad = append(aad, kind...)
	aad = append(aad, 0)
	aad = append(aad, spaceID...)
	return aad
}

// WrappedDEKSize is the fixed length of a wrapped DEK: 4-byte epoch
// prefix plus a 40-byte AES-KW ciphertext of a 32-byte key.
const WrappedDEKSize = 4 + 40

// EncodeWrappedDEK lays out [epoch big-endian u32][AES-KW ciphertext].
func EncodeWrappedDEK(epoch uint32, kw []byte) []byte {
	out := make([]byte, 4, 4+len(kw))
	binary.BigEndian.PutUint32(out, epoch)
	return append(out, kw...)
}

// PeekEpoch reads the first 4 bytes of a wrapped DEK as a big-endian u32
// without performing any authenticated decryption.
func PeekEpoch(wrapped []byte) (uint32, error) {
	if len(wrapped) < 4 {
		return 0, basinerr.CryptoFailure("peek_epoch", errShortBlob)
	}
	return binary.BigEndian.Uint32(wrapped[:4]), nil
}

// SplitWrappedDEK returns the epoch and the raw AES-KW ciphertext.
func SplitWrappedDEK(wrapped []byte) (uint32, []byte, error) {
	if len(wrapped) != WrappedDEKSize {
		return 0, nil, basinerr.CryptoFailure("split_wrapped_dek", errShortBlob)
	}
	epoch := binary.BigEndian.Uint32(wrapped[:4])
	return epoch, wrapped[4:], nil
}

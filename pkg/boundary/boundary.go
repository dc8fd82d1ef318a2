// Package boundary declares the collaborator interfaces a database
// accepts from its host application (spec §6 "External interfaces").
// pkg/engine wires concrete implementations of these in; pkg/sync,
// pkg/epoch, and pkg/presence consume them without depending on any
// concrete transport or crypto backend.
package boundary

import (
	"context"

	"github.com/cuemby/basin/pkg/cryptoprim"
)

// RecordPayload is the wire shape pushed to / pulled from a sync
// transport: the encrypted envelope plus the metadata the server needs
// to order and acknowledge it. CRDT here is the encrypted envelope
// ciphertext (wire.Blob.Encode output), never plaintext — pkg/sync
// encrypts the record's plaintext wire.RecordEnvelope into it before
// push and decrypts it back out after pull. It is nil for a deleted
// record (a tombstone carries no payload to encrypt).
type RecordPayload struct {
	ID         string
	Version    int
	CRDT       []byte
	WrappedDEK []byte
	Deleted    bool
	Sequence   uint64
	Meta       map[string]any
}

// PushAck is one push acknowledgment: the server-assigned sequence for
// a record that was accepted.
type PushAck struct {
	ID       string
	Sequence uint64
}

// PullFailure reports a per-record decode/validation failure
// encountered while pulling; Retryable distinguishes a transient cycle
// retry from a permanent per-record quarantine.
type PullFailure struct {
	ID        string
	Sequence  uint64
	Err       error
	Retryable bool
}

// PullResult is pull's return shape.
type PullResult struct {
	Records        []RecordPayload
	LatestSequence *uint64
	Failures       []PullFailure
}

// SyncTransport is the injected server connection the sync engine
// drives (spec §6 "Sync transport (injected)"). It is stateless from
// the engine's perspective: internal batching/reordering is allowed as
// long as sequences stay monotonic per record.
type SyncTransport interface {
	Push(ctx context.Context, collection string, records []RecordPayload) ([]PushAck, error)
	Pull(ctx context.Context, collection string, since uint64) (PullResult, error)
}

// CryptoCollaborator is the injected crypto trait (spec §6 "Crypto
// collaborator"). Implementations must keep private key bytes
// non-exportable beyond this interface.
type CryptoCollaborator interface {
	EncryptRecord(ctx context.Context, plaintext []byte) (blob []byte, wrappedDEK []byte, err error)
	DecryptRecord(ctx context.Context, blob, wrappedDEK []byte) ([]byte, error)
	RewrapDEK(wrapped []byte, atEpoch uint32) ([]byte, error)
	CurrentEpoch() uint32
	DeriveChannelKey(spaceID string) ([]byte, error)
	Sign(data []byte) ([]byte, error)
	Verify(data, sig []byte, pubKey cryptoprim.JWK) bool
	GenerateRecordID() string
}

// KeyStore is the process-wide key material owner (spec §5 "Keys are
// held by a single key-store owner per process"). Handles are passed
// by reference; callers never receive raw root key bytes.
type KeyStore interface {
	EpochKey(n uint32) ([]byte, error)
	CurrentEpoch() uint32
}

type recordIDKeyType struct{}

var recordIDKey = recordIDKeyType{}

// WithRecordID binds a record id onto ctx so a CryptoCollaborator's
// EncryptRecord/DecryptRecord can fold it into AAD binding (spec §4.C
// "context AAD" binds spaceId+recordId) without the interface needing
// an extra parameter every implementation must thread through.
func WithRecordID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, recordIDKey, id)
}

// RecordIDFromContext recovers the id WithRecordID attached, if any.
func RecordIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(recordIDKey).(string)
	return v, ok
}

// EpochMismatchInfo is the server's authoritative state returned on an
// epochBegin compare-and-set conflict.
type EpochMismatchInfo struct {
	CurrentEpoch uint32
	RewrapEpoch  uint32
}

// EpochTransport is the injected server connection for the epoch
// advance protocol (spec §4.I).
type EpochTransport interface {
	EpochBegin(ctx context.Context, space string, newEpoch uint32, setMinKeyGeneration bool) (*EpochMismatchInfo, error)
	UploadRewrappedDEKs(ctx context.Context, space string, wrapped map[string][]byte) error
	EpochComplete(ctx context.Context, space string, newEpoch uint32) error
}

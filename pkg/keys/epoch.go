// Package keys implements the key hierarchy: the forward-only epoch key
// chain, per-record DEK lifecycle, and channel key derivation. It builds
// entirely on pkg/cryptoprim's HKDF/AES-GCM/AES-KW primitives, the same
// way the teacher's pkg/security derives a single process-wide key once
// (DeriveKeyFromClusterID) and hands narrow views to callers — generalized
// here into a real forward hash chain instead of a single derivation.
package keys

import (
	"encoding/binary"

	"github.com/cuemby/basin/pkg/cryptoprim"
)

// MaxEpochAdvance bounds how far forward the chain will derive in one
// call, defending against a malicious or buggy server claiming an
// absurdly distant epoch (spec §4.I, §9 Design Note).
const MaxEpochAdvance = 1000

const (
	epochSalt   = "epoch-salt:v1"
	channelSalt = "channel-salt:v1"
)

// DeriveEpochKey computes epoch_key_N for (rootKey, spaceID, N) by
// walking the forward-only HKDF chain from epoch_key_0 = rootKey.
// Deterministic and reproducible (invariant 7); knowledge of
// epoch_key_N does not reveal epoch_key_{N-1} since each step is a
// one-way HKDF extract-and-expand, not an invertible transform.
func DeriveEpochKey(rootKey []byte, spaceID string, n uint32) ([]byte, error) {
	return deriveEpochKeyFrom(rootKey, spaceID, 0, n)
}

// DeriveForward continues the chain from a known epoch_key_{from} to
// epoch_key_to without needing the root key, for the common case where a
// replica only ever learns the chain from its current epoch onward. It is
// the same recurrence as DeriveEpochKey starting at a non-zero base.
func DeriveForward(epochKeyFrom []byte, spaceID string, from, to uint32) ([]byte, error) {
	return deriveEpochKeyFrom(epochKeyFrom, spaceID, from, to)
}

func deriveEpochKeyFrom(baseKey []byte, spaceID string, from, to uint32) ([]byte, error) {
	if to < from {
		return nil, errEpochOrder
	}
	if to-from > MaxEpochAdvance {
		return nil, errEpochTooFar
	}
	key := baseKey
	for n := from + 1; n <= to; n++ {
		info := epochInfo(spaceID, n)
		next, err := cryptoprim.HKDFSHA256(key, []byte(epochSalt), info, cryptoprim.KeySize)
		if err != nil {
			return nil, err
		}
		key = next
	}
	return key, nil
}

func epochInfo(spaceID string, n uint32) []byte {
	var nbuf [4]byte
	binary.BigEndian.PutUint32(nbuf[:], n)
	info := make([]byte, 0, len("epoch:v1:")+len(spaceID)+1+4)
	info = append(info, "epoch:v1:"...)
	info = append(info, spaceID...)
	info = append(info, ':')
	info = append(info, nbuf[:]...)
	return info
}

// DeriveChannelKey derives the transient per-epoch, per-space presence/
// event channel key from the current epoch key.
func DeriveChannelKey(epochKey []byte, spaceID string) ([]byte, error) {
	info := append([]byte("channel:v1:"), spaceID...)
	return cryptoprim.HKDFSHA256(epochKey, []byte(channelSalt), info, cryptoprim.KeySize)
}

type epochOrderError struct{}

func (epochOrderError) Error() string { return "epoch chain can only derive forward" }

var errEpochOrder = epochOrderError{}

type epochTooFarError struct{}

func (epochTooFarError) Error() string { return "epoch advance exceeds MaxEpochAdvance" }

var errEpochTooFar = epochTooFarError{}

// Package editchain implements the append-only, hash-linked, ECDSA-signed
// per-record edit history (spec §4.H): entry construction and signing,
// whole-chain verification, diff computation, and state reconstruction
// from a chain of diffs.
package editchain

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/cuemby/basin/pkg/basinerr"
	"github.com/cuemby/basin/pkg/cryptoprim"
	"github.com/cuemby/basin/pkg/wire"
)

// FieldDiff is one field-level change within an edit-chain entry.
type FieldDiff struct {
	Path string `json:"path"`
	From any    `json:"from"`
	To   any    `json:"to"`
}

// Entry is one self-describing, signed edit-chain entry (spec §4.H).
// PrevHash is nil for the chain's first entry.
type Entry struct {
	Author    string
	Timestamp int64
	Diffs     []FieldDiff
	PrevHash  []byte
	Signature []byte
	PublicKey cryptoprim.JWK
}

// entryWire is Entry's on-the-wire shape: binary fields as base64url
// strings, matching the canonical-JSON / JWK conventions used
// everywhere else in this module rather than encoding/json's default
// (standard, not url-safe) []byte base64.
type entryWire struct {
	A string         `json:"a"`
	T int64          `json:"t"`
	D []FieldDiff    `json:"d"`
	P *string        `json:"p"`
	S string         `json:"s"`
	K cryptoprim.JWK `json:"k"`
}

func (e *Entry) toWire() entryWire {
	w := entryWire{
		A: e.Author,
		T: e.Timestamp,
		D: e.Diffs,
		S: base64.RawURLEncoding.EncodeToString(e.Signature),
		K: e.PublicKey,
	}
	if e.PrevHash != nil {
		s := base64.RawURLEncoding.EncodeToString(e.PrevHash)
		w.P = &s
	}
	return w
}

func (w entryWire) toEntry() (*Entry, error) {
	sig, err := base64.RawURLEncoding.DecodeString(w.S)
	if err != nil {
		return nil, fmt.Errorf("editchain: decode signature: %w", err)
	}
	var prevHash []byte
	if w.P != nil {
		prevHash, err = base64.RawURLEncoding.DecodeString(*w.P)
		if err != nil {
			return nil, fmt.Errorf("editchain: decode prevHash: %w", err)
		}
	}
	return &Entry{
		Author:    w.A,
		Timestamp: w.T,
		Diffs:     w.D,
		PrevHash:  prevHash,
		Signature: sig,
		PublicKey: w.K,
	}, nil
}

// signedMessage builds the canonical-JSON payload Sign/Verify operate
// on: {collection, recordId, author, t, d, p}.
func signedMessage(collection, recordID string, e *Entry) ([]byte, error) {
	diffs := make([]any, len(e.Diffs))
	for i, d := range e.Diffs {
		diffs[i] = map[string]any{"path": d.Path, "from": d.From, "to": d.To}
	}
	var p any
	if e.PrevHash != nil {
		p = base64.RawURLEncoding.EncodeToString(e.PrevHash)
	}
	return wire.CanonicalJSON(map[string]any{
		"collection": collection,
		"recordId":   recordID,
		"author":     e.Author,
		"t":          e.Timestamp,
		"d":          diffs,
		"p":          p,
	})
}

// Append creates and signs the next entry in a record's chain. chain is
// empty for the first entry.
func Append(collection, recordID string, chain []*Entry, author string, timestampMs int64, diffs []FieldDiff, key *ecdsa.PrivateKey) (*Entry, error) {
	var prevHash []byte
	if len(chain) > 0 {
		prevHash = HashSignature(chain[len(chain)-1].Signature)
	}

	entry := &Entry{
		Author:    author,
		Timestamp: timestampMs,
		Diffs:     diffs,
		PrevHash:  prevHash,
		PublicKey: cryptoprim.PublicJWK(&key.PublicKey),
	}

	msg, err := signedMessage(collection, recordID, entry)
	if err != nil {
		return nil, err
	}
	sig, err := cryptoprim.Sign(key, msg)
	if err != nil {
		return nil, err
	}
	entry.Signature = sig
	return entry, nil
}

// HashSignature is the hash-link primitive: SHA-256 of a prior entry's
// signature, used as the next entry's prevHash.
func HashSignature(sig []byte) []byte {
	h := sha256.Sum256(sig)
	return h[:]
}

// VerifyChain checks every entry's signature, hash-link, and strictly
// increasing timestamp in order (spec invariant 9).
func VerifyChain(collection, recordID string, chain []*Entry) error {
	var prevHash []byte
	var prevTimestamp int64
	for i, entry := range chain {
		if i == 0 {
			if entry.PrevHash != nil {
				return fmt.Errorf("editchain: entry 0 must have a nil prevHash")
			}
		} else {
			if string(entry.PrevHash) != string(prevHash) {
				return fmt.Errorf("editchain: entry %d has a broken hash link", i)
			}
			if entry.Timestamp <= prevTimestamp {
				return fmt.Errorf("editchain: entry %d timestamp does not strictly increase", i)
			}
		}

		msg, err := signedMessage(collection, recordID, entry)
		if err != nil {
			return err
		}
		pub, err := cryptoprim.JWKToPublicKey(entry.PublicKey)
		if err != nil {
			return basinerr.CryptoFailure("editchain_verify", err)
		}
		if !cryptoprim.Verify(pub, msg, entry.Signature) {
			return fmt.Errorf("editchain: entry %d has an invalid signature", i)
		}
		prevHash = HashSignature(entry.Signature)
		prevTimestamp = entry.Timestamp
	}
	return nil
}

// Diff computes the top-level field-by-field changes between two
// record data maps, covering additions, removals, and updates.
func Diff(before, after map[string]any) []FieldDiff {
	var diffs []FieldDiff
	seen := make(map[string]bool, len(before)+len(after))

	for k, v := range before {
		seen[k] = true
		newV, present := after[k]
		if !present {
			diffs = append(diffs, FieldDiff{Path: k, From: v, To: nil})
		} else if !reflect.DeepEqual(v, newV) {
			diffs = append(diffs, FieldDiff{Path: k, From: v, To: newV})
		}
	}
	for k, v := range after {
		if seen[k] {
			continue
		}
		diffs = append(diffs, FieldDiff{Path: k, From: nil, To: v})
	}
	return diffs
}

// Reconstruct replays a chain's diffs forward from an empty record to
// rebuild the data a record held after its last entry.
func Reconstruct(chain []*Entry) (map[string]any, error) {
	state := make(map[string]any)
	for _, entry := range chain {
		for _, d := range entry.Diffs {
			if d.To == nil {
				delete(state, d.Path)
				continue
			}
			state[d.Path] = d.To
		}
	}
	return state, nil
}

// EncodeChain serializes a chain to the bytes stored in a record's
// editChain field.
func EncodeChain(chain []*Entry) ([]byte, error) {
	wires := make([]entryWire, len(chain))
	for i, e := range chain {
		wires[i] = e.toWire()
	}
	return json.Marshal(wires)
}

// DecodeChain parses bytes previously produced by EncodeChain.
func DecodeChain(data []byte) ([]*Entry, error) {
	var wires []entryWire
	if err := json.Unmarshal(data, &wires); err != nil {
		return nil, fmt.Errorf("editchain: decode chain: %w", err)
	}
	chain := make([]*Entry, len(wires))
	for i, w := range wires {
		e, err := w.toEntry()
		if err != nil {
			return nil, err
		}
		chain[i] = e
	}
	return chain, nil
}

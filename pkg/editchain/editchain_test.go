package editchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/basin/pkg/cryptoprim"
)

func TestAppendAndVerifyChain(t *testing.T) {
	key, err := cryptoprim.GenerateSigningKey()
	require.NoError(t, err)

	e1, err := Append("users", "rec-1", nil, "alice", 1000, []FieldDiff{{Path: "name", From: nil, To: "Alice"}}, key)
	require.NoError(t, err)
	assert.Nil(t, e1.PrevHash)

	e2, err := Append("users", "rec-1", []*Entry{e1}, "alice", 2000, []FieldDiff{{Path: "name", From: "Alice", To: "Alicia"}}, key)
	require.NoError(t, err)
	assert.Equal(t, HashSignature(e1.Signature), e2.PrevHash)

	require.NoError(t, VerifyChain("users", "rec-1", []*Entry{e1, e2}))
}

func TestVerifyChainRejectsTamperedDiff(t *testing.T) {
	key, err := cryptoprim.GenerateSigningKey()
	require.NoError(t, err)

	e1, err := Append("users", "rec-1", nil, "alice", 1000, []FieldDiff{{Path: "name", From: nil, To: "Alice"}}, key)
	require.NoError(t, err)

	tampered := *e1
	tampered.Diffs = []FieldDiff{{Path: "name", From: nil, To: "Mallory"}}

	err = VerifyChain("users", "rec-1", []*Entry{&tampered})
	assert.Error(t, err)
}

func TestVerifyChainRejectsBrokenLink(t *testing.T) {
	key, err := cryptoprim.GenerateSigningKey()
	require.NoError(t, err)

	e1, err := Append("users", "rec-1", nil, "alice", 1000, nil, key)
	require.NoError(t, err)
	e2, err := Append("users", "rec-1", []*Entry{e1}, "alice", 2000, nil, key)
	require.NoError(t, err)

	e2.PrevHash = []byte("not-the-real-hash")
	err = VerifyChain("users", "rec-1", []*Entry{e1, e2})
	assert.Error(t, err)
}

func TestVerifyChainRejectsNonIncreasingTimestamp(t *testing.T) {
	key, err := cryptoprim.GenerateSigningKey()
	require.NoError(t, err)

	e1, err := Append("users", "rec-1", nil, "alice", 2000, nil, key)
	require.NoError(t, err)
	e2, err := Append("users", "rec-1", []*Entry{e1}, "alice", 1000, nil, key)
	require.NoError(t, err)

	err = VerifyChain("users", "rec-1", []*Entry{e1, e2})
	assert.Error(t, err)
}

func TestDiffDetectsAddRemoveUpdate(t *testing.T) {
	before := map[string]any{"name": "Alice", "age": float64(30)}
	after := map[string]any{"name": "Alicia", "email": "alicia@example.com"}

	diffs := Diff(before, after)
	byPath := map[string]FieldDiff{}
	for _, d := range diffs {
		byPath[d.Path] = d
	}

	require.Contains(t, byPath, "name")
	assert.Equal(t, "Alice", byPath["name"].From)
	assert.Equal(t, "Alicia", byPath["name"].To)

	require.Contains(t, byPath, "age")
	assert.Nil(t, byPath["age"].To)

	require.Contains(t, byPath, "email")
	assert.Nil(t, byPath["email"].From)
}

func TestReconstructReplaysChain(t *testing.T) {
	key, err := cryptoprim.GenerateSigningKey()
	require.NoError(t, err)

	e1, err := Append("users", "rec-1", nil, "alice", 1000, []FieldDiff{
		{Path: "name", From: nil, To: "Alice"},
		{Path: "email", From: nil, To: "alice@example.com"},
	}, key)
	require.NoError(t, err)

	e2, err := Append("users", "rec-1", []*Entry{e1}, "alice", 2000, []FieldDiff{
		{Path: "name", From: "Alice", To: "Alicia"},
		{Path: "email", From: "alice@example.com", To: nil},
	}, key)
	require.NoError(t, err)

	state, err := Reconstruct([]*Entry{e1, e2})
	require.NoError(t, err)
	assert.Equal(t, "Alicia", state["name"])
	_, hasEmail := state["email"]
	assert.False(t, hasEmail)
}

func TestEncodeDecodeChainRoundTrip(t *testing.T) {
	key, err := cryptoprim.GenerateSigningKey()
	require.NoError(t, err)

	e1, err := Append("users", "rec-1", nil, "alice", 1000, []FieldDiff{{Path: "name", From: nil, To: "Alice"}}, key)
	require.NoError(t, err)
	e2, err := Append("users", "rec-1", []*Entry{e1}, "alice", 2000, []FieldDiff{{Path: "name", From: "Alice", To: "Alicia"}}, key)
	require.NoError(t, err)

	encoded, err := EncodeChain([]*Entry{e1, e2})
	require.NoError(t, err)

	decoded, err := DecodeChain(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, e1.Signature, decoded[0].Signature)
	assert.Equal(t, e2.PrevHash, decoded[1].PrevHash)

	require.NoError(t, VerifyChain("users", "rec-1", decoded))
}

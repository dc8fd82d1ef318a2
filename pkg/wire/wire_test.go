package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobRoundTrip(t *testing.T) {
	b := Blob{Version: BlobVersion, Ciphertext: []byte("ciphertext-and-tag")}
	copy(b.IV[:], []byte("123456789012"))

	encoded := b.Encode()
	decoded, err := DecodeBlob(encoded)
	require.NoError(t, err)
	assert.Equal(t, b.Version, decoded.Version)
	assert.Equal(t, b.IV, decoded.IV)
	assert.Equal(t, b.Ciphertext, decoded.Ciphertext)
}

func TestDecodeBlobRejectsUnsupportedVersion(t *testing.T) {
	raw := append([]byte{0x05}, make([]byte, IVSize+4)...)
	_, err := DecodeBlob(raw)
	require.Error(t, err)
}

func TestWrappedDEKPeekEpoch(t *testing.T) {
	wrapped := EncodeWrappedDEK(0x7FFFFFFF, make([]byte, 40))
	epoch, err := PeekEpoch(wrapped)
	require.NoError(t, err)
	assert.EqualValues(t, 0x7FFFFFFF, epoch)

	gotEpoch, kw, err := SplitWrappedDEK(wrapped)
	require.NoError(t, err)
	assert.EqualValues(t, 0x7FFFFFFF, gotEpoch)
	assert.Len(t, kw, 40)
}

func TestCanonicalJSONIsKeyOrderIndependent(t *testing.T) {
	a := map[string]any{"b": 1.0, "a": 2.0, "c": map[string]any{"y": 1.0, "x": 2.0}}
	b := map[string]any{"a": 2.0, "c": map[string]any{"x": 2.0, "y": 1.0}, "b": 1.0}

	encA, err := CanonicalJSON(a)
	require.NoError(t, err)
	encB, err := CanonicalJSON(b)
	require.NoError(t, err)
	assert.Equal(t, string(encA), string(encB))
	assert.Equal(t, `{"a":2,"b":1,"c":{"x":2,"y":1}}`, string(encA))
}

func TestPadUnpadRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 60, 252, 1020, 4000} {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i)
		}
		padded, err := Pad(payload)
		require.NoError(t, err)

		found := false
		for _, bucket := range PaddingBuckets {
			if len(padded) == bucket {
				found = true
			}
		}
		assert.True(t, found, "padded length %d is not a known bucket", len(padded))

		unpadded, err := Unpad(padded)
		require.NoError(t, err)
		assert.Equal(t, payload, unpadded)
	}
}

func TestPadRejectsOversizedPayload(t *testing.T) {
	_, err := Pad(make([]byte, 5000))
	require.Error(t, err)
}

package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/basin/pkg/cryptoprim"
)

func TestEpochChainForwardDerivationMatchesDirect(t *testing.T) {
	root, err := cryptoprim.RandomBytes(cryptoprim.KeySize)
	require.NoError(t, err)

	direct, err := DeriveEpochKey(root, "space-1", 5)
	require.NoError(t, err)

	e1, err := DeriveEpochKey(root, "space-1", 1)
	require.NoError(t, err)
	forward, err := DeriveForward(e1, "space-1", 1, 5)
	require.NoError(t, err)

	assert.Equal(t, direct, forward)
}

func TestEpochChainRejectsExcessiveAdvance(t *testing.T) {
	root, _ := cryptoprim.RandomBytes(cryptoprim.KeySize)
	_, err := DeriveEpochKey(root, "space-1", MaxEpochAdvance+1)
	assert.Error(t, err)
}

func TestDEKWrapUnwrapRoundTripAcrossEpochs(t *testing.T) {
	root, _ := cryptoprim.RandomBytes(cryptoprim.KeySize)
	dek, err := GenerateDEK()
	require.NoError(t, err)

	kek3, err := DeriveEpochKey(root, "space-1", 3)
	require.NoError(t, err)
	wrapped, err := WrapDEK(dek, kek3, 3)
	require.NoError(t, err)
	assert.Len(t, wrapped, 44)

	epoch, err := PeekEpoch(wrapped)
	require.NoError(t, err)
	assert.EqualValues(t, 3, epoch)

	unwrapped, err := UnwrapDEK(wrapped, kek3)
	require.NoError(t, err)
	assert.Equal(t, dek, unwrapped.DEK)
	assert.EqualValues(t, 3, unwrapped.Epoch)

	kek7, err := DeriveForward(kek3, "space-1", 3, 7)
	require.NoError(t, err)
	rewrapped, err := RewrapDEK(unwrapped.DEK, kek7, 7)
	require.NoError(t, err)
	assert.Len(t, rewrapped, 44)

	gotEpoch, err := PeekEpoch(rewrapped)
	require.NoError(t, err)
	assert.EqualValues(t, 7, gotEpoch)

	final, err := UnwrapDEK(rewrapped, kek7)
	require.NoError(t, err)
	assert.Equal(t, dek, final.DEK)
}

func TestHierarchyCachesForwardDerivation(t *testing.T) {
	root, _ := cryptoprim.RandomBytes(cryptoprim.KeySize)
	h := NewHierarchy(root, "space-1")

	k5, err := h.EpochKey(5)
	require.NoError(t, err)
	direct, err := DeriveEpochKey(root, "space-1", 5)
	require.NoError(t, err)
	assert.Equal(t, direct, k5)
	assert.EqualValues(t, 5, h.CurrentEpoch())

	k9, err := h.EpochKey(9)
	require.NoError(t, err)
	direct9, err := DeriveEpochKey(root, "space-1", 9)
	require.NoError(t, err)
	assert.Equal(t, direct9, k9)
}

func TestChannelKeyDiffersFromEpochKey(t *testing.T) {
	root, _ := cryptoprim.RandomBytes(cryptoprim.KeySize)
	epochKey, err := DeriveEpochKey(root, "space-1", 2)
	require.NoError(t, err)
	channelKey, err := DeriveChannelKey(epochKey, "space-1")
	require.NoError(t, err)
	assert.NotEqual(t, epochKey, channelKey)
}

package epoch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/basin/pkg/basinerr"
	"github.com/cuemby/basin/pkg/boundary"
	"github.com/cuemby/basin/pkg/keys"
)

type fakeTransport struct {
	mismatch    *boundary.EpochMismatchInfo
	beginCalls  []uint32
	uploaded    map[string][]byte
	completedAt uint32
	completeErr error
	uploadErr   error
}

func (f *fakeTransport) EpochBegin(ctx context.Context, space string, newEpoch uint32, setMinKeyGeneration bool) (*boundary.EpochMismatchInfo, error) {
	f.beginCalls = append(f.beginCalls, newEpoch)
	return f.mismatch, nil
}

func (f *fakeTransport) UploadRewrappedDEKs(ctx context.Context, space string, wrapped map[string][]byte) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploaded = wrapped
	return nil
}

func (f *fakeTransport) EpochComplete(ctx context.Context, space string, newEpoch uint32) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completedAt = newEpoch
	return nil
}

type fakeSource struct {
	wrapped map[string][]byte
}

func (f *fakeSource) ListWrappedDEKs(ctx context.Context) (map[string][]byte, error) {
	return f.wrapped, nil
}

func TestAdvanceRewrapsAllDEKsAndCompletesEpoch(t *testing.T) {
	root := make([]byte, 32)
	h := keys.NewHierarchy(root, "space-1")

	dek, err := keys.GenerateDEK()
	require.NoError(t, err)
	kek0, err := h.EpochKey(0)
	require.NoError(t, err)
	wrapped, err := keys.WrapDEK(dek, kek0, 0)
	require.NoError(t, err)

	source := &fakeSource{wrapped: map[string][]byte{"rec-1": wrapped}}
	transport := &fakeTransport{}
	driver := NewDriver(transport, h, source, "space-1")

	err = driver.Advance(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []uint32{1}, transport.beginCalls)
	assert.Equal(t, uint32(1), transport.completedAt)
	require.Contains(t, transport.uploaded, "rec-1")

	newKEK, err := h.EpochKey(1)
	require.NoError(t, err)
	result, err := keys.UnwrapDEK(transport.uploaded["rec-1"], newKEK)
	require.NoError(t, err)
	assert.Equal(t, dek, result.DEK)
	assert.Equal(t, uint32(1), result.Epoch)
}

func TestAdvanceSkipsDEKsAlreadyAtTargetEpoch(t *testing.T) {
	root := make([]byte, 32)
	h := keys.NewHierarchy(root, "space-1")

	kek1, err := keys.NewHierarchy(root, "space-1").EpochKey(1)
	require.NoError(t, err)
	dek, err := keys.GenerateDEK()
	require.NoError(t, err)
	alreadyWrapped, err := keys.WrapDEK(dek, kek1, 1)
	require.NoError(t, err)

	source := &fakeSource{wrapped: map[string][]byte{"rec-1": alreadyWrapped}}
	transport := &fakeTransport{}
	driver := NewDriver(transport, h, source, "space-1")

	require.NoError(t, driver.Advance(context.Background(), false))
	assert.NotContains(t, transport.uploaded, "rec-1", "DEK already at the target epoch must be skipped, not re-wrapped")
}

func TestAdvanceSurfacesEpochMismatchOnConflict(t *testing.T) {
	root := make([]byte, 32)
	h := keys.NewHierarchy(root, "space-1")

	transport := &fakeTransport{mismatch: &boundary.EpochMismatchInfo{CurrentEpoch: 3, RewrapEpoch: 3}}
	driver := NewDriver(transport, h, &fakeSource{}, "space-1")

	err := driver.Advance(context.Background(), false)
	require.Error(t, err)

	var mismatch *basinerr.EpochMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, uint32(3), mismatch.CurrentEpoch)
	assert.Equal(t, uint32(3), mismatch.RewrapEpoch)
}

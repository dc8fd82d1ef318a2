package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/basin/pkg/keys"
)

func newTestChannel() *Channel {
	root := make([]byte, 32)
	return NewChannel(keys.NewHierarchy(root, "space-1"), "space-1")
}

func TestEncodeDecodePresenceRoundTrip(t *testing.T) {
	ch := newTestChannel()
	now := time.Now().UnixMilli()

	raw, err := ch.EncodePresence(Event{Name: "typing", Payload: map[string]any{"userId": "u1"}, Timestamp: now})
	require.NoError(t, err)

	got, err := ch.DecodePresence(raw)
	require.NoError(t, err)
	assert.Equal(t, "typing", got.Name)
	assert.Equal(t, "u1", got.Payload["userId"])
}

func TestEncodedPayloadIsPaddedToBucket(t *testing.T) {
	ch := newTestChannel()
	raw, err := ch.EncodeEvent(Event{Name: "x", Timestamp: time.Now().UnixMilli()})
	require.NoError(t, err)

	found := false
	for _, bucket := range []int{64, 256, 1024, 4096} {
		if len(raw) == bucket {
			found = true
			break
		}
	}
	assert.True(t, found, "padded length %d should land on a fixed bucket", len(raw))
}

func TestDecodeRejectsReplayedTimestamp(t *testing.T) {
	ch := newTestChannel()
	now := time.Now().UnixMilli()
	raw, err := ch.EncodePresence(Event{Name: "ping", Timestamp: now})
	require.NoError(t, err)

	_, err = ch.DecodePresence(raw)
	require.NoError(t, err)

	_, err = ch.DecodePresence(raw)
	assert.Error(t, err, "a second delivery of the same sealed payload must be rejected as a replay")
}

func TestDecodeRejectsStaleTimestamp(t *testing.T) {
	ch := newTestChannel()
	stale := time.Now().Add(-2 * ReplayWindow).UnixMilli()
	raw, err := ch.EncodePresence(Event{Name: "ping", Timestamp: stale})
	require.NoError(t, err)

	_, err = ch.DecodePresence(raw)
	assert.Error(t, err)
}

func TestSubscribeFiltersByName(t *testing.T) {
	ch := newTestChannel()
	typingSub := ch.Subscribe("typing")
	allSub := ch.Subscribe("")
	defer ch.Unsubscribe(typingSub)
	defer ch.Unsubscribe(allSub)

	raw, err := ch.EncodeEvent(Event{Name: "typing", Timestamp: time.Now().UnixMilli()})
	require.NoError(t, err)
	_, err = ch.DecodeEvent(raw)
	require.NoError(t, err)

	select {
	case e := <-typingSub:
		assert.Equal(t, "typing", e.Name)
	default:
		t.Fatal("expected filtered subscriber to receive the matching event")
	}
	select {
	case e := <-allSub:
		assert.Equal(t, "typing", e.Name)
	default:
		t.Fatal("expected wildcard subscriber to receive the event")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	ch := newTestChannel()
	sub := ch.Subscribe("")
	ch.Unsubscribe(sub)
	assert.NotPanics(t, func() { ch.Unsubscribe(sub) })
}

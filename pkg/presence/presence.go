// Package presence implements the encrypted ephemeral broadcast channel
// (spec §4.J): presence updates and named events, sealed under the
// current channel key, padded to a fixed bucket, and replay-checked by
// timestamp on receive. Grounded on pkg/events.Broker's
// subscriber-channel shape, wrapped with channel-key encrypt/decrypt at
// the send/receive boundary.
package presence

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cuemby/basin/pkg/basinerr"
	"github.com/cuemby/basin/pkg/cryptoprim"
	"github.com/cuemby/basin/pkg/keys"
	"github.com/cuemby/basin/pkg/wire"
)

const (
	kindPresence = "presence:v1"
	kindEvent    = "event:v1"
)

// ReplayWindow bounds how long a timestamp is remembered in order to
// reject a repeated or stale send.
const ReplayWindow = 5 * time.Minute

// Event is one presence update or named event payload.
type Event struct {
	Name      string
	Payload   map[string]any
	Timestamp int64 // ms since epoch
}

type wireEvent struct {
	Name      string         `json:"name"`
	Payload   map[string]any `json:"payload"`
	Timestamp int64          `json:"ts"`
}

// Subscriber receives events whose name matches the filter it was
// registered with ("" matches every name).
type Subscriber chan Event

// Channel is one space's encrypted ephemeral broadcast channel: seal/pad
// on send, unpad/open/replay-check on receive, named dispatch to local
// subscribers.
type Channel struct {
	hierarchy *keys.Hierarchy
	spaceID   string

	mu          sync.RWMutex
	subscribers map[Subscriber]string
	seen        map[int64]time.Time
}

// NewChannel opens a presence/event channel bound to one space's key
// hierarchy.
func NewChannel(hierarchy *keys.Hierarchy, spaceID string) *Channel {
	return &Channel{
		hierarchy:   hierarchy,
		spaceID:     spaceID,
		subscribers: make(map[Subscriber]string),
		seen:        make(map[int64]time.Time),
	}
}

// EncodePresence seals and pads a presence update for transport.
func (c *Channel) EncodePresence(e Event) ([]byte, error) {
	return c.encode(kindPresence, e)
}

// EncodeEvent seals and pads a named event for transport.
func (c *Channel) EncodeEvent(e Event) ([]byte, error) {
	return c.encode(kindEvent, e)
}

func (c *Channel) encode(kind string, e Event) ([]byte, error) {
	key, err := c.hierarchy.ChannelKey(c.hierarchy.CurrentEpoch())
	if err != nil {
		return nil, err
	}
	plaintext, err := json.Marshal(wireEvent{Name: e.Name, Payload: e.Payload, Timestamp: e.Timestamp})
	if err != nil {
		return nil, err
	}
	aad := wire.ChannelAAD(kind, c.spaceID)
	iv, ciphertext, err := cryptoprim.SealGCM(key, plaintext, aad)
	if err != nil {
		return nil, err
	}
	var ivArr [wire.IVSize]byte
	copy(ivArr[:], iv)
	blob := wire.Blob{Version: wire.BlobVersion, IV: ivArr, Ciphertext: ciphertext}.Encode()
	return wire.Pad(blob)
}

// DecodePresence unpads, decrypts, and replay-checks a presence payload,
// dispatching it to matching local subscribers on success.
func (c *Channel) DecodePresence(raw []byte) (Event, error) {
	return c.decode(kindPresence, raw)
}

// DecodeEvent is DecodePresence's named-event counterpart.
func (c *Channel) DecodeEvent(raw []byte) (Event, error) {
	return c.decode(kindEvent, raw)
}

func (c *Channel) decode(kind string, raw []byte) (Event, error) {
	unpadded, err := wire.Unpad(raw)
	if err != nil {
		return Event{}, err
	}
	blob, err := wire.DecodeBlob(unpadded)
	if err != nil {
		return Event{}, err
	}
	key, err := c.hierarchy.ChannelKey(c.hierarchy.CurrentEpoch())
	if err != nil {
		return Event{}, err
	}
	aad := wire.ChannelAAD(kind, c.spaceID)
	plaintext, err := cryptoprim.OpenGCM(key, blob.IV[:], blob.Ciphertext, aad)
	if err != nil {
		return Event{}, err
	}
	var we wireEvent
	if err := json.Unmarshal(plaintext, &we); err != nil {
		return Event{}, basinerr.CryptoFailure("presence_decode", err)
	}

	event := Event{Name: we.Name, Payload: we.Payload, Timestamp: we.Timestamp}
	if !c.checkReplay(event.Timestamp) {
		return Event{}, basinerr.CryptoFailure("presence_decode", errReplayed)
	}
	c.dispatch(event)
	return event, nil
}

func (c *Channel) checkReplay(ts int64) bool {
	sentAt := time.UnixMilli(ts)
	cutoff := time.Now().Add(-ReplayWindow)

	c.mu.Lock()
	defer c.mu.Unlock()

	if sentAt.Before(cutoff) {
		return false
	}
	if _, dup := c.seen[ts]; dup {
		return false
	}
	c.seen[ts] = time.Now()
	for t, seenAt := range c.seen {
		if seenAt.Before(cutoff) {
			delete(c.seen, t)
		}
	}
	return true
}

// Subscribe registers a new subscriber; name "" receives every event.
func (c *Channel) Subscribe(name string) Subscriber {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := make(Subscriber, 32)
	c.subscribers[sub] = name
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Idempotent.
func (c *Channel) Unsubscribe(sub Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscribers[sub]; !ok {
		return
	}
	delete(c.subscribers, sub)
	close(sub)
}

func (c *Channel) dispatch(e Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for sub, name := range c.subscribers {
		if name != "" && name != e.Name {
			continue
		}
		select {
		case sub <- e:
		default:
		}
	}
}

var errReplayed = replayedError{}

type replayedError struct{}

func (replayedError) Error() string { return "presence: timestamp outside replay window or already seen" }

package keys

import "sync"

// Hierarchy caches the highest epoch key a replica has derived so far and
// serves cheaper forward derivations from that point instead of always
// starting at epoch_key_0. It is the runtime home for "process-wide keys
// obtained from the auth boundary" (spec §3, Database attribute).
type Hierarchy struct {
	mu       sync.Mutex
	spaceID  string
	rootKey  []byte
	atEpoch  uint32
	cacheKey []byte
}

// NewHierarchy seeds the cache at epoch 0 (the root key itself).
func NewHierarchy(rootKey []byte, spaceID string) *Hierarchy {
	return &Hierarchy{spaceID: spaceID, rootKey: append([]byte(nil), rootKey...), atEpoch: 0, cacheKey: append([]byte(nil), rootKey...)}
}

// EpochKey returns epoch_key_n, deriving forward from the cached epoch
// when n is ahead of it, or restarting from the root when n is behind
// the cache (the chain cannot be walked backward).
func (h *Hierarchy) EpochKey(n uint32) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n == h.atEpoch {
		return h.cacheKey, nil
	}
	if n > h.atEpoch {
		key, err := DeriveForward(h.cacheKey, h.spaceID, h.atEpoch, n)
		if err != nil {
			return nil, err
		}
		h.atEpoch = n
		h.cacheKey = key
		return key, nil
	}
	// n < h.atEpoch: the requested epoch is behind what we've already
	// advanced past. Re-derive from the root rather than mutate the
	// forward-only cache.
	return DeriveEpochKey(h.rootKey, h.spaceID, n)
}

// CurrentEpoch returns the highest epoch this hierarchy has derived so
// far (not necessarily the server's authoritative current epoch).
func (h *Hierarchy) CurrentEpoch() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.atEpoch
}

// ChannelKey derives the transient channel key at epoch n.
func (h *Hierarchy) ChannelKey(n uint32) ([]byte, error) {
	epochKey, err := h.EpochKey(n)
	if err != nil {
		return nil, err
	}
	return DeriveChannelKey(epochKey, h.spaceID)
}

package wire

import (
	"encoding/binary"

	"github.com/cuemby/basin/pkg/basinerr"
)

// PaddingBuckets are the fixed size buckets presence/event payloads are
// padded to, to blunt length side channels.
var PaddingBuckets = []int{64, 256, 1024, 4096}

// Pad appends zero bytes so the total length (4-byte length trailer
// included) lands on the smallest bucket that fits, then appends a
// trailing big-endian u32 giving the true payload length.
func Pad(payload []byte) ([]byte, error) {
	target := -1
	for _, bucket := range PaddingBuckets {
		if len(payload)+4 <= bucket {
			target = bucket
			break
		}
	}
	if target < 0 {
		return nil, basinerr.QuotaExceeded("payload of %d bytes exceeds largest padding bucket", len(payload))
	}
	out := make([]byte, target)
	copy(out, payload)
	binary.BigEndian.PutUint32(out[target-4:], uint32(len(payload)))
	return out, nil
}

// Unpad reverses Pad, trusting the trailing length marker.
func Unpad(padded []byte) ([]byte, error) {
	if len(padded) < 4 {
		return nil, basinerr.CryptoFailure("unpad", errShortBlob)
	}
	n := binary.BigEndian.Uint32(padded[len(padded)-4:])
	if int(n) > len(padded)-4 {
		return nil, basinerr.CryptoFailure("unpad", errShortBlob)
	}
	return padded[:n], nil
}

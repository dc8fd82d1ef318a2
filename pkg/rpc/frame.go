package rpc

import "encoding/json"

// FrameType discriminates the small set of messages that cross an rpc
// transport. A single Frame type (rather than one Go type per RPC, as
// cuemby-warren's protoc-generated messages do) lets pkg/coordinator
// remap ids and replay frames without knowing what method they carry.
type FrameType string

const (
	FrameRequest      FrameType = "request"
	FrameResponse     FrameType = "response"
	FrameSubscribe    FrameType = "subscribe"
	FrameUnsubscribe  FrameType = "unsubscribe"
	FrameEvent        FrameType = "event"
	FrameNotification FrameType = "notification"
	FrameKeepalive    FrameType = "keepalive"
)

// Frame is the single wire message rpc ever sends. Args/Result/Payload
// are raw JSON so the codec never needs per-method schemas.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	SubID   string          `json:"subId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (f Frame) isTerminal() bool {
	return f.Type == FrameResponse
}

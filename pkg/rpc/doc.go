// Package rpc is the transport-agnostic request/subscribe/notify
// substrate pkg/engine sends frames over between replicas (spec §6
// "RPC substrate"). A Client works identically over an in-process
// transport (same-process leader) or the gRPC transport (cross-process),
// grounded on cuemby-warren's pkg/client + pkg/api dial/serve shape but
// with the generated proto stubs replaced by a single hand-registered
// JSON codec, since basin's frame shape is generic rather than a fixed
// service definition.
package rpc

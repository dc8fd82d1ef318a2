// Package defaultcrypto implements boundary.CryptoCollaborator by
// composing pkg/keys (epoch chain, DEK lifecycle), pkg/cryptoprim
// (AES-GCM, ECDSA), and pkg/wire (envelope/wrapped-DEK layout). It is
// the crypto collaborator pkg/engine wires in by default; a host
// application may supply its own implementation instead (spec §6
// "injected collaborator").
package defaultcrypto

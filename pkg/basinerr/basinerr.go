// Package basinerr declares the error taxonomy shared by the storage
// engine, sync engine and cryptographic layers.
package basinerr

import "fmt"

// Kind discriminates the error taxonomy from spec §7.
type Kind string

const (
	KindSchema            Kind = "schema_error"
	KindReservedField      Kind = "reserved_field"
	KindUnknownField       Kind = "unknown_field"
	KindNotFound           Kind = "not_found"
	KindUniqueViolation    Kind = "unique_violation"
	KindComputedIndex      Kind = "computed_index_error"
	KindUnsupportedWire    Kind = "unsupported_wire_version"
	KindCryptoFailure      Kind = "crypto_failure"
	KindEpochMismatch      Kind = "epoch_mismatch"
	KindTransportTransient Kind = "transport_transient"
	KindTransportPermanent Kind = "transport_permanent"
	KindQuotaExceeded      Kind = "quota_exceeded"
	KindBackendIO          Kind = "backend_io"
)

// Error is the concrete error type for every taxonomy member. Transient
// marks whether the sync path should retry (true) or quarantine (false).
type Error struct {
	Kind      Kind
	Message   string
	Transient bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, basinerr.NotFound) style sentinel checks by
// comparing Kind rather than identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newErr(k Kind, transient bool, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...), Transient: transient}
}

func wrapErr(k Kind, transient bool, cause error, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...), Transient: transient, Cause: cause}
}

func SchemaMismatch(format string, args ...any) *Error {
	return newErr(KindSchema, false, format, args...)
}

func ReservedField(field string) *Error {
	return newErr(KindReservedField, false, "field %q is reserved", field)
}

func UnknownField(path string) *Error {
	return newErr(KindUnknownField, false, "filter references unknown field or operator %q", path)
}

func NotFound(collection, id string) *Error {
	return newErr(KindNotFound, false, "record %q not found in collection %q", id, collection)
}

func UniqueViolation(index, value string) *Error {
	return newErr(KindUniqueViolation, false, "value %q collides with unique index %q", value, index)
}

func ComputedIndexFailed(index string, cause error) *Error {
	return wrapErr(KindComputedIndex, false, cause, "computed index %q failed", index)
}

func UnsupportedWireVersion(version byte) *Error {
	return newErr(KindUnsupportedWire, false, "unsupported wire version 0x%02x", version)
}

func CryptoFailure(op string, cause error) *Error {
	return wrapErr(KindCryptoFailure, false, cause, "crypto operation %q failed", op)
}

// EpochMismatch carries the server's authoritative epoch state so the
// caller can recover.
type EpochMismatch struct {
	*Error
	CurrentEpoch uint32
	RewrapEpoch  uint32
}

func NewEpochMismatch(current, rewrap uint32) *EpochMismatch {
	return &EpochMismatch{
		Error:        newErr(KindEpochMismatch, false, "server epoch is %d (rewrap %d)", current, rewrap),
		CurrentEpoch: current,
		RewrapEpoch:  rewrap,
	}
}

func TransportTransient(cause error) *Error {
	return wrapErr(KindTransportTransient, true, cause, "transient transport error")
}

func TransportPermanent(cause error) *Error {
	return wrapErr(KindTransportPermanent, false, cause, "permanent transport error")
}

func QuotaExceeded(format string, args ...any) *Error {
	return newErr(KindQuotaExceeded, false, format, args...)
}

func BackendIO(cause error) *Error {
	return wrapErr(KindBackendIO, true, cause, "backend I/O error")
}

// Sentinels usable with errors.Is.
var (
	NotFoundKind        = &Error{Kind: KindNotFound}
	UniqueViolationKind = &Error{Kind: KindUniqueViolation}
	SchemaKind          = &Error{Kind: KindSchema}
)

package object

import (
	"errors"
	"fmt"
)

// ErrorCode is the wire-level classification of an engine failure.
type ErrorCode string

const (
	CodeVersionConflict ErrorCode = "VERSION_CONFLICT"
	CodeNameConflict    ErrorCode = "NAME_CONFLICT"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeInvalidUpdate   ErrorCode = "INVALID_UPDATE"
	CodeAccessDenied    ErrorCode = "ACCESS_DENIED"
	CodeInternal        ErrorCode = "INTERNAL"
)

// VersionConflictError reports that another transform was accepted for the
// target since the client last observed it. Recoverable: the client
// re-fetches changes and rebases. Actual carries the current server version
// so the client can resubmit without an extra round trip.
type VersionConflictError struct {
	OID       OID
	Submitted uint64
	Actual    uint64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: submitted %d, current %d", e.OID, e.Submitted, e.Actual)
}

// NameConflictError reports that the parent already has a live child with
// the submitted name. Retrying with the same name will fail again; this is
// surfaced to the user, not auto-retried.
type NameConflictError struct {
	Parent OID
	Name   string
	Holder OID
}

func (e *NameConflictError) Error() string {
	return fmt.Sprintf("name conflict under %s: %q already held by %s", e.Parent, e.Name, e.Holder)
}

// NotFoundError covers unknown stores/objects and tombstone resurrection
// attempts (a tombstoned OID can never be reinserted).
type NotFoundError struct {
	Kind string // "store", "object", "child"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// InvalidUpdateError rejects a malformed Update before it touches the log.
type InvalidUpdateError struct {
	Reason string
}

func (e *InvalidUpdateError) Error() string {
	return "invalid update: " + e.Reason
}

// CodeOf classifies err for response shaping. Unrecognized errors are
// internal (storage/transport), which callers may retry.
func CodeOf(err error) ErrorCode {
	var (
		vc *VersionConflictError
		nc *NameConflictError
		nf *NotFoundError
		iu *InvalidUpdateError
	)
	switch {
	case errors.As(err, &vc):
		return CodeVersionConflict
	case errors.As(err, &nc):
		return CodeNameConflict
	case errors.As(err, &nf):
		return CodeNotFound
	case errors.As(err, &iu):
		return CodeInvalidUpdate
	default:
		return CodeInternal
	}
}

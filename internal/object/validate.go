package object

import (
	"regexp"
	"strings"
)

// Identifier patterns. OIDs, SIDs and DIDs are UUIDs; child names are raw
// filesystem names and only screened for traversal and NUL.
var (
	uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	hashPattern = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
)

const maxChildNameLen = 255

// ValidIdentifier reports whether id is an acceptable object/store/device id.
func ValidIdentifier(id string) bool {
	return uuidPattern.MatchString(id)
}

// ValidChildName reports whether name is usable as a child name.
func ValidChildName(name string) bool {
	if name == "" || len(name) > maxChildNameLen {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\x00")
}

// Validate checks field presence per transform type, rejecting an Update
// before it touches the log.
func (u *Update) Validate() error {
	switch u.Type {
	case InsertChild:
		if u.Child == "" || u.ChildName == "" || u.ChildObjectType == "" {
			return &InvalidUpdateError{Reason: "INSERT_CHILD requires child, child_name, child_object_type"}
		}
		if !ValidIdentifier(string(u.Child)) {
			return &InvalidUpdateError{Reason: "malformed child oid"}
		}
		if u.ChildObjectType != File && u.ChildObjectType != Folder && u.ChildObjectType != MountPoint {
			return &InvalidUpdateError{Reason: "unknown child_object_type " + string(u.ChildObjectType)}
		}
		if !ValidChildName(u.ChildName) {
			return &InvalidUpdateError{Reason: "malformed child_name"}
		}
	case RenameChild:
		if u.Child == "" || u.ChildName == "" {
			return &InvalidUpdateError{Reason: "RENAME_CHILD requires child, child_name"}
		}
		if !ValidIdentifier(string(u.Child)) {
			return &InvalidUpdateError{Reason: "malformed child oid"}
		}
		if !ValidChildName(u.ChildName) {
			return &InvalidUpdateError{Reason: "malformed child_name"}
		}
	case RemoveChild, TombstoneChild:
		if u.Child == "" {
			return &InvalidUpdateError{Reason: string(u.Type) + " requires child"}
		}
		if !ValidIdentifier(string(u.Child)) {
			return &InvalidUpdateError{Reason: "malformed child oid"}
		}
	case MakeContent:
		if u.ContentHash == "" || u.ContentMtime <= 0 {
			return &InvalidUpdateError{Reason: "MAKE_CONTENT requires content_hash, content_mtime"}
		}
		if u.ContentSize < 0 {
			return &InvalidUpdateError{Reason: "negative content_size"}
		}
		if !hashPattern.MatchString(u.ContentHash) {
			return &InvalidUpdateError{Reason: "malformed content_hash"}
		}
	default:
		return &InvalidUpdateError{Reason: "unknown transform_type " + string(u.Type)}
	}
	return nil
}

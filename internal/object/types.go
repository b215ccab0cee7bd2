// Package object holds the value types of the metadata sync engine:
// store/object identity, versions, transform kinds, and the client/server
// request shapes built from them.
package object

import (
	"time"

	"github.com/google/uuid"
)

// SID names a store: an independent namespace (e.g. a shared folder) with
// its own totally-ordered transform log.
type SID string

// OID names a logical object (file, folder, or mount point) within a store.
type OID string

// DID names a device participating in sync.
type DID string

// NewSID returns a fresh store id.
func NewSID() SID { return SID(uuid.New().String()) }

// NewOID returns a fresh object id.
func NewOID() OID { return OID(uuid.New().String()) }

// NewDID returns a fresh device id.
func NewDID() DID { return DID(uuid.New().String()) }

// Type is the kind of a logical object.
type Type string

const (
	File       Type = "FILE"
	Folder     Type = "FOLDER"
	MountPoint Type = "MOUNT_POINT"
)

// TransformType is the closed set of accepted mutations.
type TransformType string

const (
	InsertChild    TransformType = "INSERT_CHILD"
	RenameChild    TransformType = "RENAME_CHILD"
	RemoveChild    TransformType = "REMOVE_CHILD"
	TombstoneChild TransformType = "TOMBSTONE_CHILD"
	MakeContent    TransformType = "MAKE_CONTENT"
)

const (
	// InitialObjectVersion is the version of an object row before any
	// transform has been accepted for it.
	InitialObjectVersion uint64 = 0

	// MaxReturnedTransforms caps one page of the change feed.
	MaxReturnedTransforms = 100
)

// Update is a client's proposed mutation of one target object.
// LocalVersion is the optimistic-concurrency token: the last version the
// client observed for the target. Field set varies by transform type.
type Update struct {
	LocalVersion uint64        `json:"local_version"`
	Type         TransformType `json:"transform_type"`

	// Child transforms only
	Child           OID    `json:"child,omitempty"`
	ChildObjectType Type   `json:"child_object_type,omitempty"`
	ChildName       string `json:"child_name,omitempty"`

	// MAKE_CONTENT only
	ContentHash  string `json:"content_hash,omitempty"`
	ContentSize  int64  `json:"content_size,omitempty"`
	ContentMtime int64  `json:"content_mtime,omitempty"`
}

// Transform is one accepted, versioned mutation, persisted append-only.
// ChangeID strictly increases per store and is the change-feed cursor.
type Transform struct {
	ChangeID uint64        `json:"change_id"`
	Root     SID           `json:"root"`
	OID      OID           `json:"oid"`
	Type     TransformType `json:"transform_type"`
	Version  uint64        `json:"version"`

	Child           OID    `json:"child,omitempty"`
	ChildObjectType Type   `json:"child_object_type,omitempty"`
	ChildName       string `json:"child_name,omitempty"`

	ContentHash  string `json:"content_hash,omitempty"`
	ContentSize  int64  `json:"content_size,omitempty"`
	ContentMtime int64  `json:"content_mtime,omitempty"`

	Originator DID       `json:"originator"`
	AppliedAt  time.Time `json:"applied_at"`
}

// RemoteChange is a Transform named from the consuming device's perspective.
// LogicalTimestamp is the feed cursor to persist once the change is applied
// locally; Originator lets a device skip its own echoed changes.
type RemoteChange struct {
	LogicalTimestamp uint64        `json:"logical_timestamp"`
	Root             SID           `json:"root"`
	OID              OID           `json:"oid"`
	Type             TransformType `json:"transform_type"`
	Version          uint64        `json:"version"`
	Child            OID           `json:"child,omitempty"`
	ChildObjectType  Type          `json:"child_object_type,omitempty"`
	ChildName        string        `json:"child_name,omitempty"`
	ContentHash      string        `json:"content_hash,omitempty"`
	ContentSize      int64         `json:"content_size,omitempty"`
	ContentMtime     int64         `json:"content_mtime,omitempty"`
	Originator       DID           `json:"originator"`
}

// AsRemoteChange converts a persisted transform to its device-facing form.
func (t Transform) AsRemoteChange() RemoteChange {
	return RemoteChange{
		LogicalTimestamp: t.ChangeID,
		Root:             t.Root,
		OID:              t.OID,
		Type:             t.Type,
		Version:          t.Version,
		Child:            t.Child,
		ChildObjectType:  t.ChildObjectType,
		ChildName:        t.ChildName,
		ContentHash:      t.ContentHash,
		ContentSize:      t.ContentSize,
		ContentMtime:     t.ContentMtime,
		Originator:       t.Originator,
	}
}

// LocalChange is a locally-produced intent, queued before it is translated
// into a network Update. LocalVersion is filled in at submission time from
// the daemon's last observed version of the target.
type LocalChange struct {
	Root SID           `json:"root"`
	OID  OID           `json:"oid"`
	Type TransformType `json:"transform_type"`

	Child           OID    `json:"child,omitempty"`
	ChildObjectType Type   `json:"child_object_type,omitempty"`
	ChildName       string `json:"child_name,omitempty"`

	ContentHash  string `json:"content_hash,omitempty"`
	ContentSize  int64  `json:"content_size,omitempty"`
	ContentMtime int64  `json:"content_mtime,omitempty"`
}

// AsUpdate builds the network Update for this change against localVersion.
func (c LocalChange) AsUpdate(localVersion uint64) Update {
	return Update{
		LocalVersion:    localVersion,
		Type:            c.Type,
		Child:           c.Child,
		ChildObjectType: c.ChildObjectType,
		ChildName:       c.ChildName,
		ContentHash:     c.ContentHash,
		ContentSize:     c.ContentSize,
		ContentMtime:    c.ContentMtime,
	}
}

package daemon

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/polaris-sync/polaris/internal/object"
)

// Tree is the daemon's local replica of the object tree for its stores,
// plus the per-store feed cursor and the queue of not-yet-submitted local
// edits. Remote changes and the cursor advance commit in one transaction,
// so a crash between fetch and commit is replayed from the last committed
// cursor without double-applying.
type Tree struct {
	db *sql.DB
}

func NewTree(db *sql.DB) *Tree {
	return &Tree{db: db}
}

// Cursor returns the last committed feed cursor for root (0 if none).
func (t *Tree) Cursor(ctx context.Context, root object.SID) (uint64, error) {
	var c uint64
	err := t.db.QueryRowContext(ctx,
		`SELECT change_id FROM sync_cursors WHERE sid = ?`, string(root)).Scan(&c)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return c, err
}

// KnownVersion returns the last locally observed version of (root, oid).
// Objects never seen start at the initial version.
func (t *Tree) KnownVersion(ctx context.Context, root object.SID, oid object.OID) (uint64, error) {
	var v uint64
	err := t.db.QueryRowContext(ctx,
		`SELECT version FROM local_objects WHERE sid = ? AND oid = ?`,
		string(root), string(oid)).Scan(&v)
	if err == sql.ErrNoRows {
		return object.InitialObjectVersion, nil
	}
	return v, err
}

// LiveChildByName returns the oid of the live child of parent named name,
// or "" if none.
func (t *Tree) LiveChildByName(ctx context.Context, root object.SID, parent object.OID, name string) (object.OID, error) {
	var oid string
	err := t.db.QueryRowContext(ctx,
		`SELECT oid FROM local_objects
		 WHERE sid = ? AND parent_oid = ? AND name = ? AND tombstoned = 0`,
		string(root), string(parent), name).Scan(&oid)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return object.OID(oid), err
}

// UnlinkedOrDead reports whether (root, oid) is tombstoned or has no live
// parent link. Objects never seen locally are neither.
func (t *Tree) UnlinkedOrDead(ctx context.Context, root object.SID, oid object.OID) (bool, error) {
	var tombstoned bool
	var parent sql.NullString
	err := t.db.QueryRowContext(ctx,
		`SELECT tombstoned, parent_oid FROM local_objects WHERE sid = ? AND oid = ?`,
		string(root), string(oid)).Scan(&tombstoned, &parent)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return tombstoned || !parent.Valid, nil
}

// ApplyRemote applies rc to the local tree and advances the cursor, all in
// one transaction. Changes originated by self still advance versions and the
// cursor: the submission path already mirrored them locally, so the mutation
// is a no-op by idempotency, not by skipping.
func (t *Tree) ApplyRemote(ctx context.Context, rc object.RemoteChange) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := t.applyInTx(ctx, tx, rc); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sync_cursors (sid, change_id) VALUES (?, ?)
		 ON CONFLICT(sid) DO UPDATE SET change_id = excluded.change_id
		 WHERE excluded.change_id > sync_cursors.change_id`,
		string(rc.Root), rc.LogicalTimestamp,
	); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return tx.Commit()
}

func (t *Tree) applyInTx(ctx context.Context, tx *sql.Tx, rc object.RemoteChange) error {
	// Target row: upsert at the new version.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO local_objects (sid, oid, version, object_type)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(sid, oid) DO UPDATE SET version = MAX(local_objects.version, excluded.version)`,
		string(rc.Root), string(rc.OID), rc.Version, string(object.Folder),
	); err != nil {
		return fmt.Errorf("upsert target: %w", err)
	}

	switch rc.Type {
	case object.InsertChild:
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO local_objects (sid, oid, version, object_type, parent_oid, name)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(sid, oid) DO UPDATE SET parent_oid = excluded.parent_oid, name = excluded.name`,
			string(rc.Root), string(rc.Child), object.InitialObjectVersion,
			string(rc.ChildObjectType), string(rc.OID), rc.ChildName,
		); err != nil {
			return fmt.Errorf("insert child: %w", err)
		}
	case object.RenameChild:
		if _, err := tx.ExecContext(ctx,
			`UPDATE local_objects SET name = ? WHERE sid = ? AND oid = ?`,
			rc.ChildName, string(rc.Root), string(rc.Child),
		); err != nil {
			return fmt.Errorf("rename child: %w", err)
		}
	case object.RemoveChild:
		if _, err := tx.ExecContext(ctx,
			`UPDATE local_objects SET parent_oid = NULL, name = NULL WHERE sid = ? AND oid = ?`,
			string(rc.Root), string(rc.Child),
		); err != nil {
			return fmt.Errorf("remove child: %w", err)
		}
	case object.TombstoneChild:
		if _, err := tx.ExecContext(ctx,
			`UPDATE local_objects SET parent_oid = NULL, name = NULL, tombstoned = 1
			 WHERE sid = ? AND oid = ?`,
			string(rc.Root), string(rc.Child),
		); err != nil {
			return fmt.Errorf("tombstone child: %w", err)
		}
	case object.MakeContent:
		if _, err := tx.ExecContext(ctx,
			`UPDATE local_objects SET content_hash = ?, content_size = ?, content_mtime = ?
			 WHERE sid = ? AND oid = ?`,
			rc.ContentHash, rc.ContentSize, rc.ContentMtime,
			string(rc.Root), string(rc.OID),
		); err != nil {
			return fmt.Errorf("set content: %w", err)
		}
	}
	return nil
}

// ApplyOwn mirrors an accepted own transform into the local tree without
// touching the cursor; the echoed feed entry advances it later.
func (t *Tree) ApplyOwn(ctx context.Context, tr object.Transform) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	rc := tr.AsRemoteChange()
	if err := t.applyInTx(ctx, tx, rc); err != nil {
		return err
	}
	return tx.Commit()
}

// PendingChange is one queued local edit.
type PendingChange struct {
	Seq    int64
	Change object.LocalChange
}

// Queue appends a local edit to the submission queue.
func (t *Tree) Queue(ctx context.Context, c object.LocalChange) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO pending_changes
		 (sid, oid, transform_type, child_oid, child_object_type, child_name,
		  content_hash, content_size, content_mtime, queued_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(c.Root), string(c.OID), string(c.Type),
		nullStr(string(c.Child)), nullStr(string(c.ChildObjectType)), nullStr(c.ChildName),
		nullStr(c.ContentHash), c.ContentSize, c.ContentMtime,
		float64(time.Now().UnixNano())/1e9,
	)
	if err != nil {
		return fmt.Errorf("queue change: %w", err)
	}
	return nil
}

// Pending returns queued changes for root in submission order.
func (t *Tree) Pending(ctx context.Context, root object.SID) ([]PendingChange, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT seq, oid, transform_type, child_oid, child_object_type, child_name,
		        content_hash, content_size, content_mtime
		 FROM pending_changes WHERE sid = ? ORDER BY seq`,
		string(root),
	)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var out []PendingChange
	for rows.Next() {
		var (
			pc        PendingChange
			child     sql.NullString
			childType sql.NullString
			childName sql.NullString
			hash      sql.NullString
			size      sql.NullInt64
			mtime     sql.NullInt64
		)
		if err := rows.Scan(&pc.Seq, (*string)(&pc.Change.OID), (*string)(&pc.Change.Type),
			&child, &childType, &childName, &hash, &size, &mtime); err != nil {
			return nil, err
		}
		pc.Change.Root = root
		pc.Change.Child = object.OID(child.String)
		pc.Change.ChildObjectType = object.Type(childType.String)
		pc.Change.ChildName = childName.String
		pc.Change.ContentHash = hash.String
		pc.Change.ContentSize = size.Int64
		pc.Change.ContentMtime = mtime.Int64
		out = append(out, pc)
	}
	return out, rows.Err()
}

// Dequeue removes a submitted (or abandoned) change from the queue.
func (t *Tree) Dequeue(ctx context.Context, seq int64) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM pending_changes WHERE seq = ?`, seq)
	return err
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

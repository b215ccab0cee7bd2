// Package translog is the authoritative transform log: it is the sole
// assigner of per-object versions and per-store change ids, and the owner
// of conflict detection. All checks and the write for one submission happen
// inside a single storage transaction, so a concurrent writer simply
// observes a version mismatch and rebases.
package translog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/polaris-sync/polaris/internal/object"
)

type Log struct {
	db *sql.DB
}

func New(db *sql.DB) *Log {
	return &Log{db: db}
}

func nowEpoch() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// CreateStore registers a store namespace. Idempotent.
func (l *Log) CreateStore(ctx context.Context, root object.SID, name string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO stores (sid, name, created_at) VALUES (?, ?, ?)`,
		string(root), name, nowEpoch(),
	)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	return nil
}

// StoreExists reports whether root is a known store.
func (l *Log) StoreExists(ctx context.Context, root object.SID) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx, `SELECT 1 FROM stores WHERE sid = ?`, string(root)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Apply validates upd against the current version of (root, oid), and on
// success atomically bumps the object version, assigns the store's next
// change id, and persists the transform. Conflicts come back as values
// (VersionConflictError, NameConflictError, NotFoundError), not aborts.
func (l *Log) Apply(ctx context.Context, root object.SID, oid object.OID, upd object.Update, originator object.DID) (*object.Transform, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var one int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM stores WHERE sid = ?`, string(root)).Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return nil, &object.NotFoundError{Kind: "store", ID: string(root)}
		}
		return nil, err
	}

	// Target object row. An INSERT_CHILD may implicitly create its target
	// parent at version 0; everything else requires the row to exist.
	var version uint64
	var tombstoned bool
	err = tx.QueryRowContext(ctx,
		`SELECT version, tombstoned FROM objects WHERE sid = ? AND oid = ?`,
		string(root), string(oid),
	).Scan(&version, &tombstoned)
	switch {
	case err == sql.ErrNoRows:
		if upd.Type != object.InsertChild {
			return nil, &object.NotFoundError{Kind: "object", ID: string(oid)}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO objects (sid, oid, version, object_type) VALUES (?, ?, ?, ?)`,
			string(root), string(oid), object.InitialObjectVersion, string(object.Folder),
		); err != nil {
			return nil, fmt.Errorf("create parent row: %w", err)
		}
		version = object.InitialObjectVersion
	case err != nil:
		return nil, err
	case tombstoned:
		return nil, &object.NotFoundError{Kind: "object", ID: string(oid)}
	}

	if upd.LocalVersion != version {
		return nil, &object.VersionConflictError{OID: oid, Submitted: upd.LocalVersion, Actual: version}
	}

	if err := l.checkChild(ctx, tx, root, oid, upd); err != nil {
		return nil, err
	}

	var changeID uint64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(change_id), 0) + 1 FROM transforms WHERE sid = ?`,
		string(root),
	).Scan(&changeID); err != nil {
		return nil, fmt.Errorf("next change id: %w", err)
	}

	newVersion := version + 1
	appliedAt := time.Now().UTC()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transforms
		 (sid, change_id, oid, transform_type, version, child_oid, child_object_type, child_name,
		  content_hash, content_size, content_mtime, originator, applied_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(root), changeID, string(oid), string(upd.Type), newVersion,
		nullStr(string(upd.Child)), nullStr(string(upd.ChildObjectType)), nullStr(upd.ChildName),
		nullStr(upd.ContentHash), upd.ContentSize, upd.ContentMtime,
		string(originator), float64(appliedAt.UnixNano())/1e9,
	); err != nil {
		return nil, fmt.Errorf("insert transform: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE objects SET version = ? WHERE sid = ? AND oid = ?`,
		newVersion, string(root), string(oid),
	); err != nil {
		return nil, fmt.Errorf("bump version: %w", err)
	}

	if err := l.mutateChild(ctx, tx, root, oid, upd); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &object.Transform{
		ChangeID:        changeID,
		Root:            root,
		OID:             oid,
		Type:            upd.Type,
		Version:         newVersion,
		Child:           upd.Child,
		ChildObjectType: upd.ChildObjectType,
		ChildName:       upd.ChildName,
		ContentHash:     upd.ContentHash,
		ContentSize:     upd.ContentSize,
		ContentMtime:    upd.ContentMtime,
		Originator:      originator,
		AppliedAt:       appliedAt,
	}, nil
}

// checkChild enforces the per-type preconditions that go beyond the version
// check: live-sibling name uniqueness and tombstone permanence.
func (l *Log) checkChild(ctx context.Context, tx *sql.Tx, root object.SID, parent object.OID, upd object.Update) error {
	switch upd.Type {
	case object.InsertChild:
		var childTomb bool
		err := tx.QueryRowContext(ctx,
			`SELECT tombstoned FROM objects WHERE sid = ? AND oid = ?`,
			string(root), string(upd.Child),
		).Scan(&childTomb)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == nil && childTomb {
			// Tombstones are permanent: an OID once dead is never reinserted.
			return &object.NotFoundError{Kind: "child", ID: string(upd.Child)}
		}
		return l.checkSiblingName(ctx, tx, root, parent, upd.ChildName, upd.Child)
	case object.RenameChild:
		if err := l.requireLinkedChild(ctx, tx, root, parent, upd.Child); err != nil {
			return err
		}
		return l.checkSiblingName(ctx, tx, root, parent, upd.ChildName, upd.Child)
	case object.RemoveChild, object.TombstoneChild:
		return l.requireLinkedChild(ctx, tx, root, parent, upd.Child)
	default:
		return nil
	}
}

// checkSiblingName fails with NameConflictError if parent already has a live
// child named name other than self.
func (l *Log) checkSiblingName(ctx context.Context, tx *sql.Tx, root object.SID, parent object.OID, name string, self object.OID) error {
	var holder string
	err := tx.QueryRowContext(ctx,
		`SELECT oid FROM objects
		 WHERE sid = ? AND parent_oid = ? AND name = ? AND tombstoned = 0 AND oid != ?`,
		string(root), string(parent), name, string(self),
	).Scan(&holder)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	return &object.NameConflictError{Parent: parent, Name: name, Holder: object.OID(holder)}
}

// requireLinkedChild fails with NotFoundError unless child is a live child
// of parent.
func (l *Log) requireLinkedChild(ctx context.Context, tx *sql.Tx, root object.SID, parent, child object.OID) error {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM objects
		 WHERE sid = ? AND oid = ? AND parent_oid = ? AND tombstoned = 0`,
		string(root), string(child), string(parent),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return &object.NotFoundError{Kind: "child", ID: string(child)}
	}
	return err
}

// mutateChild applies the accepted transform's side effects on the child row.
func (l *Log) mutateChild(ctx context.Context, tx *sql.Tx, root object.SID, parent object.OID, upd object.Update) error {
	switch upd.Type {
	case object.InsertChild:
		// Row may already exist unlinked (after REMOVE_CHILD); relink it.
		res, err := tx.ExecContext(ctx,
			`UPDATE objects SET parent_oid = ?, name = ?
			 WHERE sid = ? AND oid = ? AND tombstoned = 0`,
			string(parent), upd.ChildName, string(root), string(upd.Child),
		)
		if err != nil {
			return fmt.Errorf("relink child: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO objects (sid, oid, version, object_type, parent_oid, name)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			string(root), string(upd.Child), object.InitialObjectVersion,
			string(upd.ChildObjectType), string(parent), upd.ChildName,
		)
		if err != nil {
			return fmt.Errorf("insert child: %w", err)
		}
		return nil
	case object.RenameChild:
		_, err := tx.ExecContext(ctx,
			`UPDATE objects SET name = ? WHERE sid = ? AND oid = ?`,
			upd.ChildName, string(root), string(upd.Child),
		)
		return err
	case object.RemoveChild:
		_, err := tx.ExecContext(ctx,
			`UPDATE objects SET parent_oid = NULL, name = NULL WHERE sid = ? AND oid = ?`,
			string(root), string(upd.Child),
		)
		return err
	case object.TombstoneChild:
		_, err := tx.ExecContext(ctx,
			`UPDATE objects SET parent_oid = NULL, name = NULL, tombstoned = 1 WHERE sid = ? AND oid = ?`,
			string(root), string(upd.Child),
		)
		return err
	default:
		return nil
	}
}

// CurrentVersion reads the current version of (root, oid).
func (l *Log) CurrentVersion(ctx context.Context, root object.SID, oid object.OID) (uint64, error) {
	var version uint64
	err := l.db.QueryRowContext(ctx,
		`SELECT version FROM objects WHERE sid = ? AND oid = ?`,
		string(root), string(oid),
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, &object.NotFoundError{Kind: "object", ID: string(oid)}
	}
	return version, err
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

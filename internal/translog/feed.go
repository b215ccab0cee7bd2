package translog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/polaris-sync/polaris/internal/object"
)

// ChangesSince returns transforms for root with change_id > since, ascending,
// truncated to at most MaxReturnedTransforms. Pure read: the same cursor
// always yields the same page, so polling and push-triggered catch-up share
// this one path.
func (l *Log) ChangesSince(ctx context.Context, root object.SID, since uint64, limit int) ([]object.Transform, error) {
	ok, err := l.StoreExists(ctx, root)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &object.NotFoundError{Kind: "store", ID: string(root)}
	}

	if limit <= 0 || limit > object.MaxReturnedTransforms {
		limit = object.MaxReturnedTransforms
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT change_id, oid, transform_type, version, child_oid, child_object_type, child_name,
		        content_hash, content_size, content_mtime, originator, applied_at
		 FROM transforms
		 WHERE sid = ? AND change_id > ?
		 ORDER BY change_id ASC
		 LIMIT ?`,
		string(root), since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transforms: %w", err)
	}
	defer rows.Close()

	var out []object.Transform
	for rows.Next() {
		var (
			t         object.Transform
			child     sql.NullString
			childType sql.NullString
			childName sql.NullString
			hash      sql.NullString
			size      sql.NullInt64
			mtime     sql.NullInt64
			applied   float64
		)
		if err := rows.Scan(&t.ChangeID, (*string)(&t.OID), (*string)(&t.Type), &t.Version,
			&child, &childType, &childName, &hash, &size, &mtime, (*string)(&t.Originator), &applied); err != nil {
			return nil, fmt.Errorf("scan transform: %w", err)
		}
		t.Root = root
		t.Child = object.OID(child.String)
		t.ChildObjectType = object.Type(childType.String)
		t.ChildName = childName.String
		t.ContentHash = hash.String
		t.ContentSize = size.Int64
		t.ContentMtime = mtime.Int64
		t.AppliedAt = time.Unix(0, int64(applied*1e9)).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// StoreInfo is one row of the store registry, for operator tooling.
type StoreInfo struct {
	SID          object.SID
	Name         string
	Objects      int
	LastChangeID uint64
}

// Stores lists registered stores with object counts and feed heads.
func (l *Log) Stores(ctx context.Context) ([]StoreInfo, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT s.sid, COALESCE(s.name, ''),
		        (SELECT COUNT(*) FROM objects o WHERE o.sid = s.sid),
		        (SELECT COALESCE(MAX(t.change_id), 0) FROM transforms t WHERE t.sid = s.sid)
		 FROM stores s ORDER BY s.created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("query stores: %w", err)
	}
	defer rows.Close()

	var out []StoreInfo
	for rows.Next() {
		var si StoreInfo
		if err := rows.Scan((*string)(&si.SID), &si.Name, &si.Objects, &si.LastChangeID); err != nil {
			return nil, err
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

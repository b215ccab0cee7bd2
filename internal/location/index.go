// Package location tracks which devices hold content for an (oid, version)
// pair. The index is a hint, not a source of truth: entries may be stale or
// missing, and callers fall back to the content backend on a miss. Its
// lifecycle is fully independent of the transform log.
package location

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/polaris-sync/polaris/internal/object"
)

type Index struct {
	db *sql.DB
}

func New(db *sql.DB) *Index {
	return &Index{db: db}
}

// Mark records that loc holds content for (oid, version). Idempotent upsert.
func (ix *Index) Mark(ctx context.Context, oid object.OID, version uint64, loc object.DID) error {
	_, err := ix.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO locations (oid, version, location, marked_at) VALUES (?, ?, ?, ?)`,
		string(oid), version, string(loc), float64(time.Now().UnixNano())/1e9,
	)
	if err != nil {
		return fmt.Errorf("mark location: %w", err)
	}
	return nil
}

// Unmark drops a stale entry, e.g. after a device purges content.
func (ix *Index) Unmark(ctx context.Context, oid object.OID, version uint64, loc object.DID) error {
	_, err := ix.db.ExecContext(ctx,
		`DELETE FROM locations WHERE oid = ? AND version = ? AND location = ?`,
		string(oid), version, string(loc),
	)
	if err != nil {
		return fmt.Errorf("unmark location: %w", err)
	}
	return nil
}

// Has reports whether any location is known to hold (oid, version).
func (ix *Index) Has(ctx context.Context, oid object.OID, version uint64) (bool, error) {
	var one int
	err := ix.db.QueryRowContext(ctx,
		`SELECT 1 FROM locations WHERE oid = ? AND version = ? LIMIT 1`,
		string(oid), version,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Locations returns the set of devices known to hold (oid, version).
func (ix *Index) Locations(ctx context.Context, oid object.OID, version uint64) ([]object.DID, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT location FROM locations WHERE oid = ? AND version = ? ORDER BY marked_at`,
		string(oid), version,
	)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	defer rows.Close()

	var out []object.DID
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, err
		}
		out = append(out, object.DID(loc))
	}
	return out, rows.Err()
}

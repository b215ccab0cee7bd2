// Package batch applies an ordered list of client operations as one request
// while isolating per-item failure: one bad item never rolls back or masks
// its neighbors. Results are positionally aligned with the input so callers
// retry only the entries that failed.
package batch

import (
	"context"

	"github.com/polaris-sync/polaris/internal/location"
	"github.com/polaris-sync/polaris/internal/object"
	"github.com/polaris-sync/polaris/internal/translog"
)

// UpdateItem targets one object with one Update.
type UpdateItem struct {
	Root   object.SID    `json:"root"`
	OID    object.OID    `json:"oid"`
	Update object.Update `json:"update"`
}

// UpdateResult is the per-item outcome of an update batch.
type UpdateResult struct {
	Successful   bool              `json:"successful"`
	Transform    *object.Transform `json:"transform,omitempty"`
	ErrorCode    object.ErrorCode  `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

// LocationItem marks one (oid, version) as present at a location.
type LocationItem struct {
	OID      object.OID `json:"oid"`
	Version  uint64     `json:"version"`
	Location object.DID `json:"location"`
}

// LocationResult is the per-item outcome of a location mark batch.
type LocationResult struct {
	Successful   bool             `json:"successful"`
	ErrorCode    object.ErrorCode `json:"error_code,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// StatusItem queries availability of one (oid, version).
type StatusItem struct {
	OID     object.OID `json:"oid"`
	Version uint64     `json:"version"`
}

// StatusResult is the per-item outcome of a location status batch.
type StatusResult struct {
	Available    bool             `json:"available"`
	Locations    []object.DID     `json:"locations,omitempty"`
	ErrorCode    object.ErrorCode `json:"error_code,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

type Coordinator struct {
	log *translog.Log
	loc *location.Index
}

func New(log *translog.Log, loc *location.Index) *Coordinator {
	return &Coordinator{log: log, loc: loc}
}

// ApplyUpdates runs each item independently against the transform log.
// Earlier items' accepted transforms stay committed even when later items
// fail: each transform is independently valid, and cross-object atomicity
// would require locking unrelated objects.
func (c *Coordinator) ApplyUpdates(ctx context.Context, originator object.DID, items []UpdateItem) []UpdateResult {
	results := make([]UpdateResult, len(items))
	for i, item := range items {
		t, err := c.log.Apply(ctx, item.Root, item.OID, item.Update, originator)
		if err != nil {
			results[i] = UpdateResult{
				Successful:   false,
				ErrorCode:    object.CodeOf(err),
				ErrorMessage: err.Error(),
			}
			continue
		}
		results[i] = UpdateResult{Successful: true, Transform: t}
	}
	return results
}

// MarkLocations applies each location mark independently.
func (c *Coordinator) MarkLocations(ctx context.Context, items []LocationItem) []LocationResult {
	results := make([]LocationResult, len(items))
	for i, item := range items {
		if err := c.loc.Mark(ctx, item.OID, item.Version, item.Location); err != nil {
			results[i] = LocationResult{
				Successful:   false,
				ErrorCode:    object.CodeOf(err),
				ErrorMessage: err.Error(),
			}
			continue
		}
		results[i] = LocationResult{Successful: true}
	}
	return results
}

// LocationStatus answers each availability query independently.
func (c *Coordinator) LocationStatus(ctx context.Context, items []StatusItem) []StatusResult {
	results := make([]StatusResult, len(items))
	for i, item := range items {
		locs, err := c.loc.Locations(ctx, item.OID, item.Version)
		if err != nil {
			results[i] = StatusResult{
				ErrorCode:    object.CodeOf(err),
				ErrorMessage: err.Error(),
			}
			continue
		}
		results[i] = StatusResult{Available: len(locs) > 0, Locations: locs}
	}
	return results
}

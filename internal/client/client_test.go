package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polaris-sync/polaris/internal/api"
	"github.com/polaris-sync/polaris/internal/batch"
	"github.com/polaris-sync/polaris/internal/db"
	"github.com/polaris-sync/polaris/internal/location"
	"github.com/polaris-sync/polaris/internal/object"
	"github.com/polaris-sync/polaris/internal/translog"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "polaris.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	token := "client-test-token"
	auth := api.NewStaticAuthenticator()
	auth.Register(token, api.Principal{User: "alice", Device: object.NewDID()})
	srv := api.NewServer(translog.New(conn), location.New(conn), auth, api.OpenAccess{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL, token)
}

func TestCreateStoreIsIdempotent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	root := object.NewSID()

	require.NoError(t, c.CreateStore(ctx, root, "docs"))
	require.NoError(t, c.CreateStore(ctx, root, "docs"))
}

func TestSubmitRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	root := object.NewSID()
	require.NoError(t, c.CreateStore(ctx, root, ""))

	parent := object.NewOID()
	child := object.NewOID()
	tr, err := c.SubmitUpdate(ctx, root, parent, object.Update{
		LocalVersion: 0, Type: object.InsertChild,
		Child: child, ChildObjectType: object.File, ChildName: "a.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tr.Version)
	assert.Equal(t, parent, tr.OID)
	assert.Equal(t, child, tr.Child)
}

func TestSubmitDecodesTypedErrors(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	root := object.NewSID()
	require.NoError(t, c.CreateStore(ctx, root, ""))

	parent := object.NewOID()
	_, err := c.SubmitUpdate(ctx, root, parent, object.Update{
		LocalVersion: 0, Type: object.InsertChild,
		Child: object.NewOID(), ChildObjectType: object.File, ChildName: "a.txt",
	})
	require.NoError(t, err)

	// Stale token comes back as a version conflict value.
	_, err = c.SubmitUpdate(ctx, root, parent, object.Update{
		LocalVersion: 0, Type: object.InsertChild,
		Child: object.NewOID(), ChildObjectType: object.File, ChildName: "b.txt",
	})
	var vc *object.VersionConflictError
	require.ErrorAs(t, err, &vc)
	assert.Equal(t, parent, vc.OID)
	assert.Equal(t, uint64(0), vc.Submitted)
	assert.Equal(t, uint64(1), vc.Actual)

	// Duplicate live name as a name conflict value.
	dup := object.NewOID()
	_, err = c.SubmitUpdate(ctx, root, parent, object.Update{
		LocalVersion: 1, Type: object.InsertChild,
		Child: dup, ChildObjectType: object.File, ChildName: "a.txt",
	})
	var nc *object.NameConflictError
	require.ErrorAs(t, err, &nc)
	assert.Equal(t, parent, nc.Parent)
	assert.Equal(t, "a.txt", nc.Name)
	assert.NotEqual(t, dup, nc.Holder)
	assert.NotEmpty(t, nc.Holder)

	// Unknown store as not found.
	_, err = c.SubmitUpdate(ctx, object.NewSID(), parent, object.Update{
		LocalVersion: 0, Type: object.InsertChild,
		Child: object.NewOID(), ChildObjectType: object.File, ChildName: "c.txt",
	})
	var nf *object.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestChangesPagesThroughFeed(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	root := object.NewSID()
	require.NoError(t, c.CreateStore(ctx, root, ""))

	parent := object.NewOID()
	names := []string{"a.txt", "b.txt", "c.txt"}
	for i, name := range names {
		_, err := c.SubmitUpdate(ctx, root, parent, object.Update{
			LocalVersion: uint64(i), Type: object.InsertChild,
			Child: object.NewOID(), ChildObjectType: object.File, ChildName: name,
		})
		require.NoError(t, err)
	}

	var got []object.RemoteChange
	cursor := uint64(0)
	for {
		page, err := c.Changes(ctx, root, cursor, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		got = append(got, page...)
		cursor = page[len(page)-1].LogicalTimestamp
	}
	require.Len(t, got, 3)
	for i, ch := range got {
		assert.Equal(t, uint64(i+1), ch.LogicalTimestamp)
		assert.Equal(t, names[i], ch.ChildName)
	}
}

func TestChangesUnknownStore(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Changes(context.Background(), object.NewSID(), 0, 10)
	var nf *object.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestBatchRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	root := object.NewSID()
	require.NoError(t, c.CreateStore(ctx, root, ""))

	parent := object.NewOID()
	results, err := c.SubmitBatch(ctx, []batch.UpdateItem{
		{Root: root, OID: parent, Update: object.Update{
			LocalVersion: 0, Type: object.InsertChild,
			Child: object.NewOID(), ChildObjectType: object.File, ChildName: "a.txt",
		}},
		{Root: root, OID: parent, Update: object.Update{
			LocalVersion: 7, Type: object.InsertChild,
			Child: object.NewOID(), ChildObjectType: object.File, ChildName: "b.txt",
		}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Successful)
	require.False(t, results[1].Successful)
	assert.Equal(t, object.CodeVersionConflict, results[1].ErrorCode)
}

func TestLocationRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	oid := object.NewOID()
	device := object.NewDID()

	marks, err := c.MarkLocations(ctx, []batch.LocationItem{
		{OID: oid, Version: 1, Location: device},
	})
	require.NoError(t, err)
	require.Len(t, marks, 1)
	assert.True(t, marks[0].Successful)

	statuses, err := c.LocationStatus(ctx, []batch.StatusItem{
		{OID: oid, Version: 1},
		{OID: oid, Version: 9},
	})
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Available)
	assert.Equal(t, []object.DID{device}, statuses[0].Locations)
	assert.False(t, statuses[1].Available)
}

func TestErrorFromCodeUnknown(t *testing.T) {
	err := ErrorFromCode(object.CodeInternal, "boom")
	require.Error(t, err)
	var vc *object.VersionConflictError
	assert.False(t, errors.As(err, &vc))
}

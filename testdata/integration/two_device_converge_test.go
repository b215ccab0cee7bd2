package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polaris-sync/polaris/internal/object"
	"github.com/polaris-sync/polaris/testdata/integration/test_utils"
)

// TestTwoDeviceConverge drives two devices editing the same store through
// the full HTTP surface and checks both local trees converge on the same
// namespace.
func TestTwoDeviceConverge(t *testing.T) {
	srv := test_utils.NewTestServer(t)
	ctx := context.Background()

	devA := srv.NewDevice("laptop")
	devB := srv.NewDevice("desktop")

	parent := object.NewOID()
	docs := object.NewOID()
	notes := object.NewOID()

	// A builds a small tree.
	devA.Edit(t, ctx, object.LocalChange{
		Root: srv.Root, OID: parent, Type: object.InsertChild,
		Child: docs, ChildObjectType: object.Folder, ChildName: "docs",
	})
	devA.Edit(t, ctx, object.LocalChange{
		Root: srv.Root, OID: docs, Type: object.InsertChild,
		Child: notes, ChildObjectType: object.File, ChildName: "notes.md",
	})

	// B catches up, then renames the file.
	devB.Sync(t, ctx)
	devB.Edit(t, ctx, object.LocalChange{
		Root: srv.Root, OID: docs, Type: object.RenameChild,
		Child: notes, ChildName: "journal.md",
	})

	// A sees B's rename; B needs one more round for its own echoed change
	// to advance its cursor.
	devA.Sync(t, ctx)
	devB.Sync(t, ctx)

	for _, dev := range []*test_utils.TestDevice{devA, devB} {
		holder, err := dev.Tree.LiveChildByName(ctx, srv.Root, docs, "journal.md")
		require.NoError(t, err)
		assert.Equal(t, notes, holder)
		old, err := dev.Tree.LiveChildByName(ctx, srv.Root, docs, "notes.md")
		require.NoError(t, err)
		assert.Equal(t, object.OID(""), old)
	}

	// Both cursors sit at the head of the same log.
	ca, err := devA.Tree.Cursor(ctx, srv.Root)
	require.NoError(t, err)
	cb, err := devB.Tree.Cursor(ctx, srv.Root)
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
	assert.Equal(t, uint64(3), ca)
}

func TestConflictingEditsConverge(t *testing.T) {
	srv := test_utils.NewTestServer(t)
	ctx := context.Background()

	devA := srv.NewDevice("laptop")
	devB := srv.NewDevice("desktop")
	parent := object.NewOID()

	// Both devices queue an insert under the same never-seen parent, so one
	// of them must lose the version race and rebase.
	require.NoError(t, devA.Loop.Queue(ctx, object.LocalChange{
		Root: srv.Root, OID: parent, Type: object.InsertChild,
		Child: object.NewOID(), ChildObjectType: object.File, ChildName: "from-a.txt",
	}))
	require.NoError(t, devB.Loop.Queue(ctx, object.LocalChange{
		Root: srv.Root, OID: parent, Type: object.InsertChild,
		Child: object.NewOID(), ChildObjectType: object.File, ChildName: "from-b.txt",
	}))

	require.NoError(t, devA.Loop.Round(ctx))
	require.NoError(t, devB.Loop.SubmitPending(ctx))
	devA.Sync(t, ctx)
	devB.Sync(t, ctx)

	v, err := srv.Log.CurrentVersion(ctx, srv.Root, parent)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	for _, dev := range []*test_utils.TestDevice{devA, devB} {
		for _, name := range []string{"from-a.txt", "from-b.txt"} {
			holder, err := dev.Tree.LiveChildByName(ctx, srv.Root, parent, name)
			require.NoError(t, err)
			assert.NotEqual(t, object.OID(""), holder, name)
		}
	}
}

package daemon

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polaris-sync/polaris/internal/db"
	"github.com/polaris-sync/polaris/internal/object"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	conn, err := db.OpenClient(filepath.Join(t.TempDir(), "syncd.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := conn.Close(); err != nil {
			t.Logf("close db: %v", err)
		}
	})
	return NewTree(conn)
}

func insertChange(root object.SID, parent, child object.OID, name string, version, ts uint64) object.RemoteChange {
	return object.RemoteChange{
		LogicalTimestamp: ts,
		Root:             root,
		OID:              parent,
		Type:             object.InsertChild,
		Version:          version,
		Child:            child,
		ChildObjectType:  object.File,
		ChildName:        name,
		Originator:       "other-device",
	}
}

func TestCursorStartsAtZero(t *testing.T) {
	tree := newTestTree(t)
	c, err := tree.Cursor(context.Background(), object.NewSID())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), c)
}

func TestApplyRemoteAdvancesCursorAndTree(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()
	root := object.NewSID()
	parent := object.NewOID()
	child := object.NewOID()

	require.NoError(t, tree.ApplyRemote(ctx, insertChange(root, parent, child, "a.txt", 1, 1)))

	c, err := tree.Cursor(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c)

	v, err := tree.KnownVersion(ctx, root, parent)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	holder, err := tree.LiveChildByName(ctx, root, parent, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, child, holder)
}

func TestApplyRemoteIsReplaySafe(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()
	root := object.NewSID()
	parent := object.NewOID()
	child := object.NewOID()

	rc1 := insertChange(root, parent, child, "a.txt", 1, 1)
	rc2 := insertChange(root, parent, object.NewOID(), "b.txt", 2, 2)
	require.NoError(t, tree.ApplyRemote(ctx, rc1))
	require.NoError(t, tree.ApplyRemote(ctx, rc2))

	// Replaying an already-applied change neither regresses the cursor nor
	// the target version.
	require.NoError(t, tree.ApplyRemote(ctx, rc1))

	c, err := tree.Cursor(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), c)

	v, err := tree.KnownVersion(ctx, root, parent)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
}

func TestRemoveAndTombstoneUnlink(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()
	root := object.NewSID()
	parent := object.NewOID()
	removed := object.NewOID()
	killed := object.NewOID()

	require.NoError(t, tree.ApplyRemote(ctx, insertChange(root, parent, removed, "a.txt", 1, 1)))
	require.NoError(t, tree.ApplyRemote(ctx, insertChange(root, parent, killed, "b.txt", 2, 2)))

	require.NoError(t, tree.ApplyRemote(ctx, object.RemoteChange{
		LogicalTimestamp: 3, Root: root, OID: parent, Type: object.RemoveChild,
		Version: 3, Child: removed, Originator: "other-device",
	}))
	require.NoError(t, tree.ApplyRemote(ctx, object.RemoteChange{
		LogicalTimestamp: 4, Root: root, OID: parent, Type: object.TombstoneChild,
		Version: 4, Child: killed, Originator: "other-device",
	}))

	for _, name := range []string{"a.txt", "b.txt"} {
		holder, err := tree.LiveChildByName(ctx, root, parent, name)
		require.NoError(t, err)
		assert.Equal(t, object.OID(""), holder, name)
	}
}

func TestUnlinkedOrDead(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()
	root := object.NewSID()
	parent := object.NewOID()
	linked := object.NewOID()
	removed := object.NewOID()
	killed := object.NewOID()

	require.NoError(t, tree.ApplyRemote(ctx, insertChange(root, parent, linked, "a.txt", 1, 1)))
	require.NoError(t, tree.ApplyRemote(ctx, insertChange(root, parent, removed, "b.txt", 2, 2)))
	require.NoError(t, tree.ApplyRemote(ctx, insertChange(root, parent, killed, "c.txt", 3, 3)))
	require.NoError(t, tree.ApplyRemote(ctx, object.RemoteChange{
		LogicalTimestamp: 4, Root: root, OID: parent, Type: object.RemoveChild,
		Version: 4, Child: removed, Originator: "other-device",
	}))
	require.NoError(t, tree.ApplyRemote(ctx, object.RemoteChange{
		LogicalTimestamp: 5, Root: root, OID: parent, Type: object.TombstoneChild,
		Version: 5, Child: killed, Originator: "other-device",
	}))

	gone, err := tree.UnlinkedOrDead(ctx, root, linked)
	require.NoError(t, err)
	assert.False(t, gone)

	gone, err = tree.UnlinkedOrDead(ctx, root, removed)
	require.NoError(t, err)
	assert.True(t, gone)

	gone, err = tree.UnlinkedOrDead(ctx, root, killed)
	require.NoError(t, err)
	assert.True(t, gone)

	// Never-seen objects are not presumed gone.
	gone, err = tree.UnlinkedOrDead(ctx, root, object.NewOID())
	require.NoError(t, err)
	assert.False(t, gone)
}

func TestRenameMovesName(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()
	root := object.NewSID()
	parent := object.NewOID()
	child := object.NewOID()

	require.NoError(t, tree.ApplyRemote(ctx, insertChange(root, parent, child, "old.txt", 1, 1)))
	require.NoError(t, tree.ApplyRemote(ctx, object.RemoteChange{
		LogicalTimestamp: 2, Root: root, OID: parent, Type: object.RenameChild,
		Version: 2, Child: child, ChildName: "new.txt", Originator: "other-device",
	}))

	holder, err := tree.LiveChildByName(ctx, root, parent, "new.txt")
	require.NoError(t, err)
	assert.Equal(t, child, holder)
	holder, err = tree.LiveChildByName(ctx, root, parent, "old.txt")
	require.NoError(t, err)
	assert.Equal(t, object.OID(""), holder)
}

func TestApplyOwnLeavesCursorAlone(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()
	root := object.NewSID()
	parent := object.NewOID()
	child := object.NewOID()

	require.NoError(t, tree.ApplyOwn(ctx, object.Transform{
		ChangeID: 5, Root: root, OID: parent, Type: object.InsertChild,
		Version: 1, Child: child, ChildObjectType: object.File, ChildName: "mine.txt",
		Originator: "self",
	}))

	// The mirror advances the local version so follow-up edits carry a fresh
	// token, but the cursor waits for the echoed feed entry.
	v, err := tree.KnownVersion(ctx, root, parent)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	c, err := tree.Cursor(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), c)
}

func TestQueueOrderAndDequeue(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()
	root := object.NewSID()
	parent := object.NewOID()

	for _, name := range []string{"first", "second", "third"} {
		require.NoError(t, tree.Queue(ctx, object.LocalChange{
			Root: root, OID: parent, Type: object.InsertChild,
			Child: object.NewOID(), ChildObjectType: object.Folder, ChildName: name,
		}))
	}

	pending, err := tree.Pending(ctx, root)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "first", pending[0].Change.ChildName)
	assert.Equal(t, "second", pending[1].Change.ChildName)
	assert.Equal(t, "third", pending[2].Change.ChildName)
	assert.Equal(t, root, pending[0].Change.Root)

	require.NoError(t, tree.Dequeue(ctx, pending[0].Seq))
	pending, err = tree.Pending(ctx, root)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "second", pending[0].Change.ChildName)
}

func TestQueueIsScopedPerStore(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()
	rootA := object.NewSID()
	rootB := object.NewSID()

	require.NoError(t, tree.Queue(ctx, object.LocalChange{
		Root: rootA, OID: object.NewOID(), Type: object.InsertChild,
		Child: object.NewOID(), ChildObjectType: object.File, ChildName: "a.txt",
	}))

	pending, err := tree.Pending(ctx, rootB)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// Package test_utils builds miniature polaris deployments for integration
// tests: one in-process server plus any number of simulated devices, each
// with its own local database, content folder, and reconciliation loop.
package test_utils

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/polaris-sync/polaris/internal/api"
	"github.com/polaris-sync/polaris/internal/client"
	"github.com/polaris-sync/polaris/internal/content"
	"github.com/polaris-sync/polaris/internal/daemon"
	"github.com/polaris-sync/polaris/internal/db"
	"github.com/polaris-sync/polaris/internal/location"
	"github.com/polaris-sync/polaris/internal/object"
	"github.com/polaris-sync/polaris/internal/translog"
)

// TestServer is one in-process polarisd.
type TestServer struct {
	URL  string
	Log  *translog.Log
	Loc  *location.Index
	Root object.SID

	t    *testing.T
	auth *api.StaticAuthenticator
}

// TestDevice is one simulated syncd participant.
type TestDevice struct {
	ID      object.DID
	API     *client.Client
	Tree    *daemon.Tree
	Loop    *daemon.Loop
	Content *content.FolderBackend
}

// NewTestServer starts a server with one store and open access.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "polarisd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	s := &TestServer{
		Log:  translog.New(conn),
		Loc:  location.New(conn),
		Root: object.NewSID(),
		t:    t,
		auth: api.NewStaticAuthenticator(),
	}
	srv := api.NewServer(s.Log, s.Loc, s.auth, api.OpenAccess{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	s.URL = ts.URL

	require.NoError(t, s.Log.CreateStore(context.Background(), s.Root, "integration"))
	return s
}

// NewDevice registers a device with the server and wires up its loop.
func (s *TestServer) NewDevice(name string) *TestDevice {
	s.t.Helper()
	id := object.NewDID()
	token := "device-token-" + name
	s.auth.Register(token, api.Principal{User: "integration", Device: id})

	conn, err := db.OpenClient(filepath.Join(s.t.TempDir(), name+".db"))
	require.NoError(s.t, err)
	s.t.Cleanup(func() { conn.Close() })

	d := &TestDevice{
		ID:      id,
		API:     client.New(s.URL, token),
		Tree:    daemon.NewTree(conn),
		Content: content.NewFolderBackend(s.t.TempDir()),
	}
	d.Loop = daemon.NewLoop(s.Root, id, d.API, d.Tree,
		daemon.WithContentBackend(d.Content),
		daemon.WithBackoff(daemon.BackoffConfig{
			MaxAttempts: 8,
			BaseDelay:   time.Millisecond,
			MaxDelay:    10 * time.Millisecond,
			Multiplier:  2.0,
		}),
	)
	return d
}

// Edit queues a local change and runs one reconciliation round.
func (d *TestDevice) Edit(t *testing.T, ctx context.Context, c object.LocalChange) {
	t.Helper()
	require.NoError(t, d.Loop.Queue(ctx, c))
	require.NoError(t, d.Loop.Round(ctx))
}

// Sync runs one reconciliation round without local edits.
func (d *TestDevice) Sync(t *testing.T, ctx context.Context) {
	t.Helper()
	require.NoError(t, d.Loop.Round(ctx))
}

// polarisctl: operator CLI for a polaris deployment.
// Commands: stores, where (read the server database directly), changes,
// mkstore (talk to a running polarisd), token-digest (credential setup).

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/term"

	"github.com/polaris-sync/polaris/internal/api"
	"github.com/polaris-sync/polaris/internal/client"
	"github.com/polaris-sync/polaris/internal/db"
	"github.com/polaris-sync/polaris/internal/location"
	"github.com/polaris-sync/polaris/internal/object"
	"github.com/polaris-sync/polaris/internal/translog"
)

func defaultDBPath() string {
	if v := os.Getenv("POLARIS_DB_PATH"); v != "" {
		return v
	}
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "polaris", "polaris.db")
}

func serverURL() string {
	if v := os.Getenv("POLARIS_SERVER_URL"); v != "" {
		return v
	}
	return "http://127.0.0.1:8086"
}

// token returns the device token from env, or prompts for it.
func token() (string, error) {
	if v := os.Getenv("POLARIS_TOKEN"); v != "" {
		return v, nil
	}
	fmt.Fprint(os.Stderr, "device token: ")
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func cmdStores(args []string) {
	fs := flag.NewFlagSet("stores", flag.ExitOnError)
	dbPath := fs.String("db", defaultDBPath(), "server database path")
	fs.Parse(args)

	conn, err := db.Open(*dbPath)
	if err != nil {
		fatal(err)
	}
	defer conn.Close()

	stores, err := translog.New(conn).Stores(context.Background())
	if err != nil {
		fatal(err)
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"SID", "Name", "Objects", "Head"})
	for _, s := range stores {
		t.AppendRow(table.Row{s.SID, s.Name, s.Objects, s.LastChangeID})
	}
	t.Render()
}

func cmdWhere(args []string) {
	fs := flag.NewFlagSet("where", flag.ExitOnError)
	dbPath := fs.String("db", defaultDBPath(), "server database path")
	fs.Parse(args)
	if fs.NArg() != 2 {
		fatal(fmt.Errorf("usage: polarisctl where <oid> <version>"))
	}
	oid := object.OID(fs.Arg(0))
	version, err := strconv.ParseUint(fs.Arg(1), 10, 64)
	if err != nil {
		fatal(fmt.Errorf("bad version: %w", err))
	}

	conn, err := db.Open(*dbPath)
	if err != nil {
		fatal(err)
	}
	defer conn.Close()

	locs, err := location.New(conn).Locations(context.Background(), oid, version)
	if err != nil {
		fatal(err)
	}
	if len(locs) == 0 {
		fmt.Printf("no known locations for %s@%d\n", oid, version)
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Location"})
	for _, l := range locs {
		t.AppendRow(table.Row{l})
	}
	t.Render()
}

func cmdChanges(args []string) {
	fs := flag.NewFlagSet("changes", flag.ExitOnError)
	since := fs.Uint64("since", 0, "feed cursor to resume from")
	limit := fs.Int("limit", object.MaxReturnedTransforms, "page size")
	server := fs.String("server", serverURL(), "polarisd base URL")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fatal(fmt.Errorf("usage: polarisctl changes <sid>"))
	}

	tok, err := token()
	if err != nil {
		fatal(err)
	}
	c := client.New(*server, tok)
	changes, err := c.Changes(context.Background(), object.SID(fs.Arg(0)), *since, *limit)
	if err != nil {
		fatal(err)
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ChangeID", "OID", "Type", "Version", "Child", "Name", "Originator"})
	for _, rc := range changes {
		t.AppendRow(table.Row{rc.LogicalTimestamp, rc.OID, rc.Type, rc.Version, rc.Child, rc.ChildName, rc.Originator})
	}
	t.Render()
}

func cmdMkstore(args []string) {
	fs := flag.NewFlagSet("mkstore", flag.ExitOnError)
	server := fs.String("server", serverURL(), "polarisd base URL")
	fs.Parse(args)
	name := ""
	if fs.NArg() > 0 {
		name = fs.Arg(0)
	}

	tok, err := token()
	if err != nil {
		fatal(err)
	}
	sid := object.NewSID()
	c := client.New(*server, tok)
	if err := c.CreateStore(context.Background(), sid, name); err != nil {
		fatal(err)
	}
	fmt.Println(sid)
}

func cmdTokenDigest() {
	fmt.Fprint(os.Stderr, "token: ")
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fatal(err)
	}
	fmt.Println(api.TokenDigest(string(b)))
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: polarisctl <stores|where|changes|mkstore|token-digest> [args]")
	os.Exit(2)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "polarisctl: %v\n", err)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	switch os.Args[1] {
	case "stores":
		cmdStores(os.Args[2:])
	case "where":
		cmdWhere(os.Args[2:])
	case "changes":
		cmdChanges(os.Args[2:])
	case "mkstore":
		cmdMkstore(os.Args[2:])
	case "token-digest":
		cmdTokenDigest()
	default:
		usage()
	}
}

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/polaris-sync/polaris/internal/batch"
	"github.com/polaris-sync/polaris/internal/content"
	"github.com/polaris-sync/polaris/internal/object"
)

// API is the slice of the server client the loop depends on.
type API interface {
	SubmitUpdate(ctx context.Context, root object.SID, oid object.OID, upd object.Update) (*object.Transform, error)
	Changes(ctx context.Context, root object.SID, since uint64, limit int) ([]object.RemoteChange, error)
	MarkLocations(ctx context.Context, items []batch.LocationItem) ([]batch.LocationResult, error)
}

// NameConflictFunc surfaces a naming collision to the user/UI layer. The
// loop never auto-retries these: resubmitting the same name fails again.
type NameConflictFunc func(c object.LocalChange, err error)

// Loop reconciles one store: applies remote changes from the feed to the
// local tree and submits queued local edits, rebasing on version conflicts.
type Loop struct {
	root    object.SID
	device  object.DID
	api     API
	tree    *Tree
	store   content.Backend // optional, for availability reporting
	poll    time.Duration
	backoff BackoffConfig

	onNameConflict NameConflictFunc

	wake chan struct{}

	mu    sync.Mutex
	state State
}

type Option func(*Loop)

// WithContentBackend makes the loop verify fetched content and report
// availability after MAKE_CONTENT changes.
func WithContentBackend(b content.Backend) Option {
	return func(l *Loop) { l.store = b }
}

// WithPollInterval overrides the default poll timer.
func WithPollInterval(d time.Duration) Option {
	return func(l *Loop) { l.poll = d }
}

// WithBackoff overrides conflict retry bounds.
func WithBackoff(c BackoffConfig) Option {
	return func(l *Loop) { l.backoff = c }
}

// WithNameConflictHandler installs the user-visible conflict callback.
func WithNameConflictHandler(f NameConflictFunc) Option {
	return func(l *Loop) { l.onNameConflict = f }
}

func NewLoop(root object.SID, device object.DID, api API, tree *Tree, opts ...Option) *Loop {
	l := &Loop{
		root:    root,
		device:  device,
		api:     api,
		tree:    tree,
		poll:    30 * time.Second,
		backoff: DefaultBackoffConfig(),
		onNameConflict: func(c object.LocalChange, err error) {
			log.Printf("syncd: name conflict on %s under %s: %v", c.ChildName, c.OID, err)
		},
		wake: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// State reports the loop's current position.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Wake nudges a synced loop to fetch early, e.g. from a push hint.
// Best-effort: a loop already awake ignores it.
func (l *Loop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Queue records a local edit for submission and wakes the loop.
func (l *Loop) Queue(ctx context.Context, c object.LocalChange) error {
	if err := l.tree.Queue(ctx, c); err != nil {
		return err
	}
	l.Wake()
	return nil
}

// Run drives the loop until ctx is done. One round: fetch and apply all
// missed remote changes, then submit pending local edits, then suspend in
// SYNCED until a hint, a poll tick, or cancellation.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := l.Round(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("syncd: store %s: %v", l.root, err)
		}
		l.setState(StateSynced)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		case <-time.After(l.poll):
		}
	}
}

// Round performs one fetch+apply+submit pass.
func (l *Loop) Round(ctx context.Context) error {
	if err := l.CatchUp(ctx); err != nil {
		return err
	}
	return l.SubmitPending(ctx)
}

// CatchUp pages through the feed from the last committed cursor and applies
// every missed change. Safe to call with a stale cursor at any time.
func (l *Loop) CatchUp(ctx context.Context) error {
	l.setState(StateFetchingChanges)
	for {
		cursor, err := l.tree.Cursor(ctx, l.root)
		if err != nil {
			return fmt.Errorf("read cursor: %w", err)
		}
		page, err := l.api.Changes(ctx, l.root, cursor, object.MaxReturnedTransforms)
		if err != nil {
			return fmt.Errorf("fetch changes: %w", err)
		}
		if len(page) == 0 {
			return nil
		}
		l.setState(StateApplying)
		for _, rc := range page {
			if err := l.tree.ApplyRemote(ctx, rc); err != nil {
				return fmt.Errorf("apply change %d: %w", rc.LogicalTimestamp, err)
			}
			if rc.Type == object.MakeContent && rc.Originator != l.device {
				l.reportAvailability(ctx, rc)
			}
		}
		l.setState(StateFetchingChanges)
	}
}

// reportAvailability verifies content presence in the backend and reports
// it to the location index. Failures are logged, never fatal: the index is
// a hint and the next round can try again.
func (l *Loop) reportAvailability(ctx context.Context, rc object.RemoteChange) {
	if l.store == nil {
		return
	}
	ok, err := l.store.Exists(ctx, rc.ContentHash)
	if err != nil || !ok {
		return
	}
	_, err = l.api.MarkLocations(ctx, []batch.LocationItem{
		{OID: rc.OID, Version: rc.Version, Location: l.device},
	})
	if err != nil {
		log.Printf("syncd: report availability %s@%d: %v", rc.OID, rc.Version, err)
	}
}

// SubmitPending submits queued local edits in order. Version conflicts
// rebase and retry with bounded backoff; name conflicts are surfaced and
// dropped; other errors abort the pass and leave the queue intact.
func (l *Loop) SubmitPending(ctx context.Context) error {
	pending, err := l.tree.Pending(ctx, l.root)
	if err != nil {
		return fmt.Errorf("read pending: %w", err)
	}
	for _, pc := range pending {
		if err := l.submitOne(ctx, pc); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) submitOne(ctx context.Context, pc PendingChange) error {
	c := pc.Change
	for attempt := 1; ; attempt++ {
		localVersion, err := l.tree.KnownVersion(ctx, c.Root, c.OID)
		if err != nil {
			return fmt.Errorf("known version: %w", err)
		}
		t, err := l.api.SubmitUpdate(ctx, c.Root, c.OID, c.AsUpdate(localVersion))
		if err == nil {
			if err := l.tree.ApplyOwn(ctx, *t); err != nil {
				return fmt.Errorf("mirror own transform: %w", err)
			}
			return l.tree.Dequeue(ctx, pc.Seq)
		}

		var nc *object.NameConflictError
		if errors.As(err, &nc) {
			l.onNameConflict(c, err)
			return l.tree.Dequeue(ctx, pc.Seq)
		}

		var vc *object.VersionConflictError
		if !errors.As(err, &vc) {
			return fmt.Errorf("submit %s: %w", c.OID, err)
		}

		// Lost the race: learn the winning transforms, rebase, retry.
		if attempt >= l.backoff.MaxAttempts {
			return fmt.Errorf("submit %s: conflict retries exhausted: %w", c.OID, err)
		}
		l.setState(StateConflictRetry)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.backoff.Delay(attempt)):
		}
		if err := l.CatchUp(ctx); err != nil {
			return err
		}
		superseded, err := l.rebase(ctx, &c)
		if err != nil {
			return err
		}
		if superseded {
			return l.tree.Dequeue(ctx, pc.Seq)
		}
	}
}

// rebase re-derives c against the freshly applied remote state. Returns
// true when the remote history already produced the desired outcome and the
// edit should be dropped instead of resubmitted.
func (l *Loop) rebase(ctx context.Context, c *object.LocalChange) (bool, error) {
	switch c.Type {
	case object.InsertChild, object.RenameChild:
		holder, err := l.tree.LiveChildByName(ctx, c.Root, c.OID, c.ChildName)
		if err != nil {
			return false, err
		}
		if holder == c.Child {
			// Another device already produced this exact linkage.
			return true, nil
		}
	case object.RemoveChild, object.TombstoneChild:
		// If the winning transform already unlinked or killed the child,
		// the edit is moot.
		gone, err := l.tree.UnlinkedOrDead(ctx, c.Root, c.Child)
		if err != nil {
			return false, err
		}
		if gone {
			return true, nil
		}
	}
	return false, nil
}

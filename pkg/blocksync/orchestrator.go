package blocksync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/daybook-app/daybook/pkg/models"
	"github.com/daybook-app/daybook/pkg/snapshot"
	"github.com/daybook-app/daybook/pkg/store"
)

// SessionState describes where an editing session is in its lifecycle.
type SessionState int32

const (
	// SessionUninitialized: no document open yet.
	SessionUninitialized SessionState = iota
	// SessionLoading: the document root and its blocks are being fetched.
	SessionLoading
	// SessionReady: snapshot changes are accepted and synchronized.
	SessionReady
	// SessionSwitching: tearing down one document to open another.
	SessionSwitching
)

func (s SessionState) String() string {
	switch s {
	case SessionUninitialized:
		return "uninitialized"
	case SessionLoading:
		return "loading"
	case SessionReady:
		return "ready"
	case SessionSwitching:
		return "switching"
	}
	return fmt.Sprintf("session(%d)", int32(s))
}

// DefaultChangeDelay is the editor-side debounce: snapshot change events
// are coalesced for this long before the differencer runs at all. The
// operation queue then applies its own, shorter window to the resulting
// operations.
const DefaultChangeDelay = time.Second

// OrchestratorConfig tunes one editing session. Zero values take defaults.
type OrchestratorConfig struct {
	ChangeDelay time.Duration
	Queue       QueueConfig

	// WorkspaceID scopes every document this session opens, and is the
	// workspace a missing root record is recreated under.
	WorkspaceID models.WorkspaceID
	// UserID is stamped on blocks this session creates.
	UserID models.UserID
}

// Orchestrator drives one editing session: it owns the identity cache, the
// differencer, and the operation queue for the documents a client has open,
// and holds the in-memory block set that differencing runs against.
//
// The known block set is maintained optimistically: every operation handed
// to the queue is applied to it immediately, so the next differencer pass
// sees the post-write world even while writes are still buffered. The
// store is only re-read on document open.
type Orchestrator struct {
	store  store.Store
	queue  *Queue
	cache  *IdentityCache
	differ *Differ
	log    zerolog.Logger

	changeTimer *debounceTimer
	changeDelay time.Duration
	workspaceID models.WorkspaceID
	userID      models.UserID

	// syncMu serializes differencing passes. The timer callback and an
	// explicit Save can race; the differencer reads the known blocks that
	// applyLocalLocked mutates, so only one pass may run at a time.
	syncMu sync.Mutex

	mu     sync.Mutex
	state  SessionState
	page   *models.Page
	known  []*models.Block
	latest []snapshot.Item
	dirty  bool
}

func NewOrchestrator(st store.Store, cfg OrchestratorConfig, log zerolog.Logger) *Orchestrator {
	if cfg.ChangeDelay <= 0 {
		cfg.ChangeDelay = DefaultChangeDelay
	}
	cache := NewIdentityCache()
	o := &Orchestrator{
		store:       st,
		queue:       NewQueue(st, cfg.Queue, log),
		cache:       cache,
		differ:      NewDiffer(cache, log),
		log:         log,
		changeDelay: cfg.ChangeDelay,
		workspaceID: cfg.WorkspaceID,
		userID:      cfg.UserID,
	}
	o.changeTimer = newDebounceTimer(o.syncNow)
	return o
}

// Queue exposes the session's operation queue, for save-state observation.
func (o *Orchestrator) Queue() *Queue { return o.queue }

// State reports the session lifecycle state.
func (o *Orchestrator) State() SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Page returns the open document root, or nil before the first OpenPage.
func (o *Orchestrator) Page() *models.Page {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.page
}

// OpenPage loads a document and makes it the session's active one. Any
// previous document is synced and flushed first and its cached identities
// dropped. A missing root record is recreated empty rather than failing
// the open; the client navigated to it, so it should exist.
//
// The returned items are the document's current content: rendered from its
// block set, or parsed from the root's legacy whole-document payload when
// no blocks exist yet.
func (o *Orchestrator) OpenPage(ctx context.Context, pageID models.PageID) (*models.Page, []snapshot.Item, error) {
	o.mu.Lock()
	prev := o.page
	if prev != nil {
		o.state = SessionSwitching
	} else {
		o.state = SessionLoading
	}
	o.mu.Unlock()

	if prev != nil {
		o.changeTimer.Stop()
		o.syncNow()
		if err := o.queue.Flush(ctx); err != nil {
			o.log.Warn().Err(err).Stringer("page_id", prev.ID).Msg("flush on document switch failed; operations remain queued")
		}
		o.cache.Clear(prev.ID)
	}

	o.mu.Lock()
	o.state = SessionLoading
	o.page = nil
	o.known = nil
	o.latest = nil
	o.dirty = false
	o.mu.Unlock()

	page, err := o.store.GetPage(ctx, pageID)
	if errors.Is(err, store.ErrNotFound) {
		page = &models.Page{
			ID:          pageID,
			WorkspaceID: o.workspaceID,
			Kind:        models.PageKindPage,
			CreatedBy:   o.userID,
		}
		if cerr := o.store.CreatePage(ctx, page); cerr != nil {
			return nil, nil, fmt.Errorf("recreate missing page %s: %w", pageID, cerr)
		}
		o.log.Info().Stringer("page_id", pageID).Msg("recreated missing document root")
		err = nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load page %s: %w", pageID, err)
	}

	blocks, err := o.store.ListBlocks(ctx, pageID)
	if err != nil {
		return nil, nil, fmt.Errorf("load blocks of page %s: %w", pageID, err)
	}

	var items []snapshot.Item
	if len(blocks) > 0 {
		items = snapshot.Render(blocks)
	} else if page.Content != "" {
		items = snapshot.ParseStoredContent(page.Content)
	}

	o.mu.Lock()
	o.state = SessionReady
	o.page = page
	o.known = blocks
	o.latest = items
	o.mu.Unlock()

	o.log.Debug().Stringer("page_id", pageID).Int("blocks", len(blocks)).Msg("document opened")
	return page, items, nil
}

// OnChange records the latest editor snapshot and re-arms the change
// debounce. Only the newest snapshot matters; intermediate ones are
// superseded, never synced.
func (o *Orchestrator) OnChange(items []snapshot.Item) {
	o.mu.Lock()
	if o.state != SessionReady {
		o.mu.Unlock()
		return
	}
	o.latest = items
	o.dirty = true
	o.mu.Unlock()

	o.changeTimer.Reschedule(o.changeDelay)
}

// Save forces the full pipeline synchronously: difference the latest
// snapshot, then flush whatever the queue holds. This is the Ctrl+S and
// the document-close path.
func (o *Orchestrator) Save(ctx context.Context) error {
	o.changeTimer.Stop()
	o.syncNow()
	return o.queue.Flush(ctx)
}

// Close tears the session down: one last sync and a best-effort flush.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.changeTimer.Stop()
	o.syncNow()
	return o.queue.Close(ctx)
}

// syncNow runs the differencer against the latest snapshot and enqueues
// the resulting operations. No-op unless a change is pending. Passes are
// serialized; a timer firing into a running Save waits its turn and then
// sees a clean dirty flag.
func (o *Orchestrator) syncNow() {
	o.syncMu.Lock()
	defer o.syncMu.Unlock()

	o.mu.Lock()
	if !o.dirty || o.page == nil {
		o.mu.Unlock()
		return
	}
	page := o.page
	known := o.known
	items := o.latest
	o.dirty = false
	o.mu.Unlock()

	ops := o.differ.BuildOperations(page, known, items, o.userID)
	if len(ops) == 0 {
		return
	}

	o.mu.Lock()
	// Re-check the session still points at the same document; a concurrent
	// OpenPage may have swapped it while we were differencing.
	if o.page != nil && o.page.ID == page.ID {
		o.applyLocalLocked(ops)
	}
	o.mu.Unlock()

	o.log.Debug().Stringer("page_id", page.ID).Int("ops", len(ops)).Msg("snapshot differenced")
	o.queue.Enqueue(ops...)
}

// applyLocalLocked folds operations into the in-memory block set so the
// next differencer pass sees them without waiting for the flush.
func (o *Orchestrator) applyLocalLocked(ops []store.Operation) {
	for _, op := range ops {
		switch op.Kind {
		case store.OpCreate:
			b := *op.Block
			o.known = append(o.known, &b)
		case store.OpUpdate:
			if op.Root {
				if op.Patch != nil && op.Patch.ClearContent {
					o.page.Content = ""
				}
				continue
			}
			for _, b := range o.known {
				if b.ID == op.BlockID {
					op.Patch.Apply(b)
					break
				}
			}
		case store.OpDelete:
			o.known = removeBlock(o.known, op.BlockID)
		case store.OpDeleteAll:
			o.known = nil
		}
	}
}

func removeBlock(blocks []*models.Block, id models.BlockID) []*models.Block {
	for i, b := range blocks {
		if b.ID == id {
			return append(blocks[:i], blocks[i+1:]...)
		}
	}
	return blocks
}

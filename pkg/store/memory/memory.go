// Package memory implements the block store on plain maps. It backs unit
// tests and the standalone demo mode; semantics match the database-backed
// stores, including per-call batch atomicity.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/daybook-app/daybook/pkg/models"
	"github.com/daybook-app/daybook/pkg/store"
)

// DefaultMaxBatchSize mirrors the database backends' per-call ceiling.
const DefaultMaxBatchSize = 400

// Store is a map-backed store.Store. Safe for concurrent use. All reads
// return copies; callers never share memory with the store.
type Store struct {
	mu         sync.RWMutex
	blocks     map[string]*models.Block
	pages      map[string]*models.Page
	workspaces map[string]*models.Workspace
	users      map[string]*models.User

	maxBatch int
	now      func() time.Time
}

// Option tweaks a memory store at construction.
type Option func(*Store)

// WithMaxBatchSize overrides the batch ceiling, mostly for chunking tests.
func WithMaxBatchSize(n int) Option {
	return func(s *Store) { s.maxBatch = n }
}

// WithClock injects the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		blocks:     make(map[string]*models.Block),
		pages:      make(map[string]*models.Page),
		workspaces: make(map[string]*models.Workspace),
		users:      make(map[string]*models.User),
		maxBatch:   DefaultMaxBatchSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

func cloneBlock(b *models.Block) *models.Block {
	c := *b
	if b.ParentID != nil {
		p := *b.ParentID
		c.ParentID = &p
	}
	c.Refs = append([]string(nil), b.Refs...)
	return &c
}

func (s *Store) GetBlock(_ context.Context, id models.BlockID) (*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[id.String()]
	if !ok {
		return nil, fmt.Errorf("block %s: %w", id, store.ErrNotFound)
	}
	return cloneBlock(b), nil
}

func (s *Store) ListBlocks(_ context.Context, pageID models.PageID) ([]*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Block{}
	for _, b := range s.blocks {
		if b.PageID == pageID {
			out = append(out, cloneBlock(b))
		}
	}
	sortBlocks(out)
	return out, nil
}

func (s *Store) ListChildren(_ context.Context, parentID models.BlockID) ([]*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Block{}
	for _, b := range s.blocks {
		if b.ParentID != nil && *b.ParentID == parentID {
			out = append(out, cloneBlock(b))
		}
	}
	sortBlocks(out)
	return out, nil
}

func (s *Store) QueryBlocksByType(_ context.Context, workspaceID models.WorkspaceID, t models.BlockType) ([]*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Block{}
	for _, b := range s.blocks {
		if b.WorkspaceID == workspaceID && b.Type == t {
			out = append(out, cloneBlock(b))
		}
	}
	sortBlocks(out)
	return out, nil
}

func (s *Store) ListBacklinks(_ context.Context, target string) ([]*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Block{}
	for _, b := range s.blocks {
		for _, ref := range b.Refs {
			if ref == target {
				out = append(out, cloneBlock(b))
				break
			}
		}
	}
	sortBlocks(out)
	return out, nil
}

func sortBlocks(blocks []*models.Block) {
	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].Order != blocks[j].Order {
			return blocks[i].Order < blocks[j].Order
		}
		return blocks[i].ID.String() < blocks[j].ID.String()
	})
}

// BatchWrite validates every operation against a staged view before
// touching live state, so a failed batch leaves the store untouched.
func (s *Store) BatchWrite(_ context.Context, ops []store.Operation) error {
	if len(ops) > s.maxBatch {
		return fmt.Errorf("%d operations: %w", len(ops), store.ErrBatchTooLarge)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	// Stage: clone affected records and verify each operation applies.
	staged := make(map[string]*models.Block)
	stagedPages := make(map[string]*models.Page)
	deleted := make(map[string]bool)

	for _, op := range ops {
		switch op.Kind {
		case store.OpCreate:
			if op.Block == nil || op.Block.ID.IsZero() {
				return fmt.Errorf("create without a block draft")
			}
			key := op.Block.ID.String()
			if _, exists := s.blocks[key]; exists && !deleted[key] {
				return fmt.Errorf("create block %s: already exists", op.Block.ID)
			}
			if _, exists := staged[key]; exists {
				return fmt.Errorf("create block %s: duplicated in batch", op.Block.ID)
			}
			b := cloneBlock(op.Block)
			b.CreatedAt = now
			b.UpdatedAt = now
			staged[key] = b
			delete(deleted, key)

		case store.OpUpdate:
			if op.Root {
				key := op.PageID.String()
				page, ok := stagedPages[key]
				if !ok {
					live, exists := s.pages[key]
					if !exists {
						return fmt.Errorf("update page %s: %w", op.PageID, store.ErrNotFound)
					}
					p := *live
					page = &p
					stagedPages[key] = page
				}
				if op.Patch != nil && op.Patch.ClearContent {
					page.Content = ""
				}
				page.UpdatedAt = now
				continue
			}
			key := op.BlockID.String()
			b, ok := staged[key]
			if !ok {
				live, exists := s.blocks[key]
				if !exists || deleted[key] {
					return fmt.Errorf("update block %s: %w", op.BlockID, store.ErrNotFound)
				}
				b = cloneBlock(live)
				staged[key] = b
			}
			op.Patch.Apply(b)
			b.UpdatedAt = now

		case store.OpDelete:
			key := op.BlockID.String()
			_, inStage := staged[key]
			_, inLive := s.blocks[key]
			if !inStage && (!inLive || deleted[key]) {
				return fmt.Errorf("delete block %s: %w", op.BlockID, store.ErrNotFound)
			}
			delete(staged, key)
			deleted[key] = true

		case store.OpDeleteAll:
			return fmt.Errorf("delete_all is not batchable; use DeleteChildren")

		default:
			return fmt.Errorf("unknown operation kind %q", op.Kind)
		}
	}

	if err := s.checkOrderUniqueness(staged, deleted); err != nil {
		return err
	}

	// Commit.
	for key := range deleted {
		delete(s.blocks, key)
	}
	for key, b := range staged {
		s.blocks[key] = b
	}
	for key, p := range stagedPages {
		s.pages[key] = p
	}
	return nil
}

// checkOrderUniqueness verifies that no two siblings would share an order
// key after the batch commits. The database backends leave this to the
// application; the memory store enforces it so tests catch differencer
// bugs early.
func (s *Store) checkOrderUniqueness(staged map[string]*models.Block, deleted map[string]bool) error {
	touchedPages := make(map[models.PageID]bool)
	for _, b := range staged {
		touchedPages[b.PageID] = true
	}

	for pageID := range touchedPages {
		seen := make(map[string]string)
		check := func(b *models.Block) error {
			parentKey := ""
			if b.ParentID != nil {
				parentKey = b.ParentID.String()
			}
			key := fmt.Sprintf("%s/%.9f", parentKey, b.Order)
			if other, dup := seen[key]; dup && other != b.ID.String() {
				return fmt.Errorf("blocks %s and %s of page %s share order %v", other, b.ID, pageID, b.Order)
			}
			seen[key] = b.ID.String()
			return nil
		}
		for key, b := range s.blocks {
			if b.PageID != pageID || deleted[key] {
				continue
			}
			if repl, ok := staged[key]; ok {
				b = repl
			}
			if err := check(b); err != nil {
				return err
			}
		}
		for key, b := range staged {
			if b.PageID != pageID {
				continue
			}
			if _, exists := s.blocks[key]; exists {
				continue // already checked above
			}
			if err := check(b); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) MaxBatchSize() int { return s.maxBatch }

func (s *Store) DeleteChildren(_ context.Context, pageID models.PageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, b := range s.blocks {
		if b.PageID == pageID {
			delete(s.blocks, key)
		}
	}
	return nil
}

func (s *Store) CreatePage(_ context.Context, page *models.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := page.ID.String()
	if _, exists := s.pages[key]; exists {
		return fmt.Errorf("page %s: already exists", page.ID)
	}
	now := s.now()
	page.CreatedAt = now
	page.UpdatedAt = now
	p := *page
	s.pages[key] = &p
	return nil
}

func (s *Store) GetPage(_ context.Context, id models.PageID) (*models.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[id.String()]
	if !ok {
		return nil, fmt.Errorf("page %s: %w", id, store.ErrNotFound)
	}
	p := *page
	return &p, nil
}

func (s *Store) GetPageByDate(_ context.Context, workspaceID models.WorkspaceID, date string) (*models.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, page := range s.pages {
		if page.WorkspaceID == workspaceID && page.Kind == models.PageKindDaily && page.Date == date {
			p := *page
			return &p, nil
		}
	}
	return nil, fmt.Errorf("daily note %s: %w", date, store.ErrNotFound)
}

func (s *Store) UpdatePage(_ context.Context, page *models.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := page.ID.String()
	if _, ok := s.pages[key]; !ok {
		return fmt.Errorf("page %s: %w", page.ID, store.ErrNotFound)
	}
	page.UpdatedAt = s.now()
	p := *page
	s.pages[key] = &p
	return nil
}

func (s *Store) DeletePage(_ context.Context, id models.PageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := id.String()
	if _, ok := s.pages[key]; !ok {
		return fmt.Errorf("page %s: %w", id, store.ErrNotFound)
	}
	delete(s.pages, key)
	for bkey, b := range s.blocks {
		if b.PageID == id {
			delete(s.blocks, bkey)
		}
	}
	return nil
}

func (s *Store) ListPages(_ context.Context, workspaceID models.WorkspaceID) ([]*models.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Page{}
	for _, page := range s.pages {
		if page.WorkspaceID == workspaceID {
			p := *page
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateWorkspace(_ context.Context, workspace *models.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := workspace.ID.String()
	if _, exists := s.workspaces[key]; exists {
		return fmt.Errorf("workspace %s: already exists", workspace.ID)
	}
	now := s.now()
	workspace.CreatedAt = now
	workspace.UpdatedAt = now
	w := *workspace
	s.workspaces[key] = &w
	return nil
}

func (s *Store) GetWorkspaceByName(_ context.Context, name string) (*models.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ws := range s.workspaces {
		if ws.Name == name {
			w := *ws
			return &w, nil
		}
	}
	return nil, fmt.Errorf("workspace %q: %w", name, store.ErrNotFound)
}

func (s *Store) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := user.ID.String()
	if _, exists := s.users[key]; exists {
		return fmt.Errorf("user %s: already exists", user.ID)
	}
	now := s.now()
	user.CreatedAt = now
	user.UpdatedAt = now
	u := *user
	s.users[key] = &u
	return nil
}

func (s *Store) GetUser(_ context.Context, id models.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id.String()]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	u := *user
	return &u, nil
}

// Migrate is a no-op; maps need no schema.
func (s *Store) Migrate(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

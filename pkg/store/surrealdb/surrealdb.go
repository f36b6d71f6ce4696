// Package surrealdb implements the block store on SurrealDB over websocket,
// using native SurrealQL with parameterized queries.
//
// The connection is configured manually with the surrealcbor codec rather
// than via FromEndpointURLString: SurrealDB speaks CBOR internally, and the
// custom codec is what keeps time.Time values and typed record IDs intact
// across the wire. Batch atomicity comes from SurrealDB's transaction
// support within a single Query call: every batch is one BEGIN/COMMIT
// script, so a mid-batch failure cancels the whole transaction.
package surrealdb

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/surrealcbor"

	"github.com/daybook-app/daybook/pkg/models"
	"github.com/daybook-app/daybook/pkg/store"
)

const maxBatchSize = 400

// Store implements store.Store against SurrealDB.
type Store struct {
	db *surrealdb.DB
}

var _ store.Store = (*Store)(nil)

// New connects to SurrealDB at wsURL and targets the given namespace and
// database. Credentials are optional; empty strings skip authentication.
func New(ctx context.Context, wsURL, namespace, database, username, password string) (*Store, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse SurrealDB URL: %w", err)
	}

	conf := connection.NewConfig(u)

	// The surrealcbor codec handles time.Time and RecordID marshaling the
	// way SurrealDB expects; the default codec does not.
	codec := surrealcbor.New()
	conf.Marshaler = codec
	conf.Unmarshaler = codec

	conn := gorillaws.New(conf)
	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("connect to SurrealDB: %w", err)
	}

	if username != "" && password != "" {
		if _, err := db.SignIn(ctx, map[string]any{
			"user": username,
			"pass": password,
		}); err != nil {
			return nil, fmt.Errorf("authenticate with SurrealDB: %w", err)
		}
	}

	if err := db.Use(ctx, namespace, database); err != nil {
		return nil, fmt.Errorf("use %s/%s: %w", namespace, database, err)
	}

	return &Store{db: db}, nil
}

// isNotFound recognizes the driver's empty-result errors.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Expected a single or multiple results but got 0") ||
		strings.Contains(msg, "cannot unmarshal array into Go value")
}

func (s *Store) GetBlock(ctx context.Context, id models.BlockID) (*models.Block, error) {
	block, err := surrealdb.Select[models.Block](ctx, s.db, id.RecordID())
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("block %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get block %s: %w", id, err)
	}
	if block == nil {
		return nil, fmt.Errorf("block %s: %w", id, store.ErrNotFound)
	}
	return block, nil
}

// queryBlocks runs a SELECT returning a block list.
func (s *Store) queryBlocks(ctx context.Context, query string, params map[string]any) ([]*models.Block, error) {
	result, err := surrealdb.Query[[]*models.Block](ctx, s.db, query, params)
	if err != nil {
		return nil, err
	}
	if result == nil || len(*result) == 0 {
		return []*models.Block{}, nil
	}
	blocks := (*result)[0].Result
	if blocks == nil {
		blocks = []*models.Block{}
	}
	return blocks, nil
}

func (s *Store) ListBlocks(ctx context.Context, pageID models.PageID) ([]*models.Block, error) {
	blocks, err := s.queryBlocks(ctx,
		"SELECT * FROM blocks WHERE page_id = $page ORDER BY `order` ASC",
		map[string]any{"page": pageID.RecordID()})
	if err != nil {
		return nil, fmt.Errorf("list blocks of page %s: %w", pageID, err)
	}
	return blocks, nil
}

func (s *Store) ListChildren(ctx context.Context, parentID models.BlockID) ([]*models.Block, error) {
	blocks, err := s.queryBlocks(ctx,
		"SELECT * FROM blocks WHERE parent_id = $parent ORDER BY `order` ASC",
		map[string]any{"parent": parentID.RecordID()})
	if err != nil {
		return nil, fmt.Errorf("list children of block %s: %w", parentID, err)
	}
	return blocks, nil
}

func (s *Store) QueryBlocksByType(ctx context.Context, workspaceID models.WorkspaceID, t models.BlockType) ([]*models.Block, error) {
	blocks, err := s.queryBlocks(ctx,
		"SELECT * FROM blocks WHERE workspace_id = $workspace AND type = $type ORDER BY `order` ASC",
		map[string]any{"workspace": workspaceID.RecordID(), "type": string(t)})
	if err != nil {
		return nil, fmt.Errorf("query blocks by type %s: %w", t, err)
	}
	return blocks, nil
}

func (s *Store) ListBacklinks(ctx context.Context, target string) ([]*models.Block, error) {
	blocks, err := s.queryBlocks(ctx,
		"SELECT * FROM blocks WHERE refs CONTAINS $target ORDER BY `order` ASC",
		map[string]any{"target": target})
	if err != nil {
		return nil, fmt.Errorf("list backlinks of %q: %w", target, err)
	}
	return blocks, nil
}

// BatchWrite compiles the batch into one BEGIN/COMMIT SurrealQL script with
// numbered parameters and executes it as a single Query call, which is how
// SurrealDB scopes a transaction.
func (s *Store) BatchWrite(ctx context.Context, ops []store.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	if len(ops) > maxBatchSize {
		return fmt.Errorf("%d operations: %w", len(ops), store.ErrBatchTooLarge)
	}

	now := time.Now()
	var sb strings.Builder
	params := make(map[string]any, len(ops)*2)
	sb.WriteString("BEGIN;\n")

	for i, op := range ops {
		switch op.Kind {
		case store.OpCreate:
			if op.Block == nil {
				return fmt.Errorf("create without a block draft")
			}
			b := *op.Block
			b.CreatedAt = now
			b.UpdatedAt = now
			idKey := fmt.Sprintf("id%d", i)
			contentKey := fmt.Sprintf("c%d", i)
			params[idKey] = b.ID.RecordID()
			params[contentKey] = &b
			fmt.Fprintf(&sb, "CREATE $%s CONTENT $%s;\n", idKey, contentKey)

		case store.OpUpdate:
			idKey := fmt.Sprintf("id%d", i)
			patchKey := fmt.Sprintf("p%d", i)
			if op.Root {
				params[idKey] = op.PageID.RecordID()
			} else {
				params[idKey] = op.BlockID.RecordID()
			}
			params[patchKey] = patchMap(op.Patch, now)
			fmt.Fprintf(&sb, "UPDATE $%s MERGE $%s;\n", idKey, patchKey)

		case store.OpDelete:
			idKey := fmt.Sprintf("id%d", i)
			params[idKey] = op.BlockID.RecordID()
			fmt.Fprintf(&sb, "DELETE $%s;\n", idKey)

		case store.OpDeleteAll:
			return fmt.Errorf("delete_all is not batchable; use DeleteChildren")

		default:
			return fmt.Errorf("unknown operation kind %q", op.Kind)
		}
	}

	sb.WriteString("COMMIT;")
	if _, err := surrealdb.Query[any](ctx, s.db, sb.String(), params); err != nil {
		return fmt.Errorf("batch write (%d ops): %w", len(ops), err)
	}
	return nil
}

// patchMap converts a BlockPatch into a MERGE document. Only set fields
// appear, so untouched columns survive.
func patchMap(p *models.BlockPatch, now time.Time) map[string]any {
	m := map[string]any{"updated_at": now}
	if p == nil {
		return m
	}
	if p.Type != nil {
		m["type"] = string(*p.Type)
	}
	if p.Text != nil {
		m["text"] = *p.Text
	}
	if p.Level != nil {
		m["level"] = *p.Level
	}
	if p.Language != nil {
		m["language"] = *p.Language
	}
	if p.Checked != nil {
		m["checked"] = *p.Checked
	}
	if p.Order != nil {
		m["order"] = *p.Order
	}
	if p.Refs != nil {
		m["refs"] = *p.Refs
	}
	if p.ClearContent {
		m["content"] = ""
	}
	return m
}

func (s *Store) MaxBatchSize() int { return maxBatchSize }

func (s *Store) DeleteChildren(ctx context.Context, pageID models.PageID) error {
	_, err := surrealdb.Query[any](ctx, s.db,
		"DELETE blocks WHERE page_id = $page",
		map[string]any{"page": pageID.RecordID()})
	if err != nil {
		return fmt.Errorf("delete blocks of page %s: %w", pageID, err)
	}
	return nil
}

func (s *Store) CreatePage(ctx context.Context, page *models.Page) error {
	if page.ID.IsZero() {
		page.ID = models.NewPageID()
	}
	now := time.Now()
	if page.CreatedAt.IsZero() {
		page.CreatedAt = now
	}
	page.UpdatedAt = now
	if _, err := surrealdb.Create[models.Page](ctx, s.db, "pages", page); err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	return nil
}

func (s *Store) GetPage(ctx context.Context, id models.PageID) (*models.Page, error) {
	page, err := surrealdb.Select[models.Page](ctx, s.db, id.RecordID())
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("page %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get page %s: %w", id, err)
	}
	if page == nil {
		return nil, fmt.Errorf("page %s: %w", id, store.ErrNotFound)
	}
	return page, nil
}

func (s *Store) GetPageByDate(ctx context.Context, workspaceID models.WorkspaceID, date string) (*models.Page, error) {
	result, err := surrealdb.Query[[]*models.Page](ctx, s.db,
		"SELECT * FROM pages WHERE workspace_id = $workspace AND kind = 'daily' AND date = $date LIMIT 1",
		map[string]any{"workspace": workspaceID.RecordID(), "date": date})
	if err != nil {
		return nil, fmt.Errorf("get daily note %s: %w", date, err)
	}
	if result == nil || len(*result) == 0 || len((*result)[0].Result) == 0 {
		return nil, fmt.Errorf("daily note %s: %w", date, store.ErrNotFound)
	}
	return (*result)[0].Result[0], nil
}

func (s *Store) UpdatePage(ctx context.Context, page *models.Page) error {
	page.UpdatedAt = time.Now()
	if _, err := surrealdb.Update[models.Page](ctx, s.db, page.ID.RecordID(), page); err != nil {
		return fmt.Errorf("update page %s: %w", page.ID, err)
	}
	return nil
}

func (s *Store) DeletePage(ctx context.Context, id models.PageID) error {
	if err := s.DeleteChildren(ctx, id); err != nil {
		return err
	}
	if _, err := surrealdb.Delete[models.Page](ctx, s.db, id.RecordID()); err != nil {
		return fmt.Errorf("delete page %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListPages(ctx context.Context, workspaceID models.WorkspaceID) ([]*models.Page, error) {
	result, err := surrealdb.Query[[]*models.Page](ctx, s.db,
		"SELECT * FROM pages WHERE workspace_id = $workspace ORDER BY created_at ASC",
		map[string]any{"workspace": workspaceID.RecordID()})
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	if result == nil || len(*result) == 0 {
		return []*models.Page{}, nil
	}
	pages := (*result)[0].Result
	if pages == nil {
		pages = []*models.Page{}
	}
	return pages, nil
}

func (s *Store) CreateWorkspace(ctx context.Context, workspace *models.Workspace) error {
	if workspace.ID.IsZero() {
		workspace.ID = models.NewWorkspaceID()
	}
	now := time.Now()
	if workspace.CreatedAt.IsZero() {
		workspace.CreatedAt = now
	}
	workspace.UpdatedAt = now
	if _, err := surrealdb.Create[models.Workspace](ctx, s.db, "workspaces", workspace); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	return nil
}

func (s *Store) GetWorkspaceByName(ctx context.Context, name string) (*models.Workspace, error) {
	result, err := surrealdb.Query[[]*models.Workspace](ctx, s.db,
		"SELECT * FROM workspaces WHERE name = $name LIMIT 1",
		map[string]any{"name": name})
	if err != nil {
		return nil, fmt.Errorf("get workspace %q: %w", name, err)
	}
	if result == nil || len(*result) == 0 || len((*result)[0].Result) == 0 {
		return nil, fmt.Errorf("workspace %q: %w", name, store.ErrNotFound)
	}
	return (*result)[0].Result[0], nil
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID.IsZero() {
		user.ID = models.NewUserID()
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if _, err := surrealdb.Create[models.User](ctx, s.db, "users", user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id models.UserID) (*models.User, error) {
	user, err := surrealdb.Select[models.User](ctx, s.db, id.RecordID())
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	return user, nil
}

// Migrate defines the query-path indexes. Tables themselves appear on
// first insert; SurrealDB needs no schema beyond this.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		"DEFINE INDEX IF NOT EXISTS blocks_page ON TABLE blocks COLUMNS page_id",
		"DEFINE INDEX IF NOT EXISTS blocks_parent ON TABLE blocks COLUMNS parent_id",
		"DEFINE INDEX IF NOT EXISTS blocks_workspace_type ON TABLE blocks COLUMNS workspace_id, type",
		"DEFINE INDEX IF NOT EXISTS pages_workspace_date ON TABLE pages COLUMNS workspace_id, date",
	}
	for _, stmt := range statements {
		if _, err := surrealdb.Query[any](ctx, s.db, stmt, nil); err != nil {
			return fmt.Errorf("define index: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close(context.Background())
}

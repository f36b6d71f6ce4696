// Package store defines the persistence boundary of daybook.
//
// The [Store] interface abstracts the per-block document store behind the
// sync engine. Three implementations exist:
//
//   - memory: map-backed store used by tests and standalone demo runs
//   - surrealdb: SurrealDB over websocket with the surrealcbor codec
//   - postgres: GORM on top of pgx
//
// Writes flow through [Store.BatchWrite], which is atomic per call: every
// operation in the slice succeeds or none do. Callers must keep a batch at
// or under [Store.MaxBatchSize]; the operation queue is responsible for
// chunking.
package store

import (
	"context"
	"errors"

	"github.com/daybook-app/daybook/pkg/models"
)

var (
	// ErrNotFound reports a lookup that matched nothing.
	ErrNotFound = errors.New("store: not found")
	// ErrBatchTooLarge reports a BatchWrite call over the backend's ceiling.
	ErrBatchTooLarge = errors.New("store: batch exceeds maximum size")
)

// OpKind discriminates pending mutations.
type OpKind string

const (
	OpCreate    OpKind = "create"
	OpUpdate    OpKind = "update"
	OpDelete    OpKind = "delete"
	OpDeleteAll OpKind = "delete_all"
)

// Operation is one pending mutation against the block store. Operations are
// produced by the content differencer, buffered by the operation queue, and
// executed here in batches.
//
// PageID is always set; it is the grouping key for batching and the target
// of DeleteAll. Root marks an update that patches the page record itself
// rather than a block (used to strip legacy content from document roots).
type Operation struct {
	Kind    OpKind
	PageID  models.PageID
	BlockID models.BlockID
	Root    bool
	Block   *models.Block
	Patch   *models.BlockPatch
}

// NewCreate builds a create operation from a block draft. The draft must
// carry its freshly generated ID.
func NewCreate(block *models.Block) Operation {
	return Operation{Kind: OpCreate, PageID: block.PageID, BlockID: block.ID, Block: block}
}

// NewUpdate builds a partial-patch update against one block.
func NewUpdate(pageID models.PageID, blockID models.BlockID, patch *models.BlockPatch) Operation {
	return Operation{Kind: OpUpdate, PageID: pageID, BlockID: blockID, Patch: patch}
}

// NewRootUpdate builds an update targeting the page record itself.
func NewRootUpdate(pageID models.PageID, patch *models.BlockPatch) Operation {
	return Operation{Kind: OpUpdate, PageID: pageID, Root: true, Patch: patch}
}

// NewDelete builds a delete for one block.
func NewDelete(pageID models.PageID, blockID models.BlockID) Operation {
	return Operation{Kind: OpDelete, PageID: pageID, BlockID: blockID}
}

// NewDeleteAll builds a bulk clear of every block under a page root.
func NewDeleteAll(pageID models.PageID) Operation {
	return Operation{Kind: OpDeleteAll, PageID: pageID}
}

// Store is the per-block document store consumed by the sync engine and the
// HTTP layer. Get methods return ErrNotFound for missing records; list
// methods return empty slices for empty results. CreatedAt/UpdatedAt are
// stamped by the store at write time.
type Store interface {
	// Block reads.
	GetBlock(ctx context.Context, id models.BlockID) (*models.Block, error)
	// ListBlocks returns every block of a page, ordered by Order (parents
	// and nested children interleaved in one flat slice).
	ListBlocks(ctx context.Context, pageID models.PageID) ([]*models.Block, error)
	// ListChildren returns the blocks nested directly under a parent
	// block, ordered by Order.
	ListChildren(ctx context.Context, parentID models.BlockID) ([]*models.Block, error)
	// QueryBlocksByType returns all blocks of one type in a workspace.
	QueryBlocksByType(ctx context.Context, workspaceID models.WorkspaceID, t models.BlockType) ([]*models.Block, error)
	// ListBacklinks returns blocks whose Refs contain the given target.
	ListBacklinks(ctx context.Context, target string) ([]*models.Block, error)

	// Block writes.
	//
	// BatchWrite executes create/update/delete operations as one atomic
	// unit. DeleteAll operations are rejected here; they are store-level
	// fan-out deletes and go through DeleteChildren.
	BatchWrite(ctx context.Context, ops []Operation) error
	// MaxBatchSize is the per-call ceiling for BatchWrite.
	MaxBatchSize() int
	// DeleteChildren removes every block belonging to a page root.
	DeleteChildren(ctx context.Context, pageID models.PageID) error

	// Page operations.
	CreatePage(ctx context.Context, page *models.Page) error
	GetPage(ctx context.Context, id models.PageID) (*models.Page, error)
	GetPageByDate(ctx context.Context, workspaceID models.WorkspaceID, date string) (*models.Page, error)
	UpdatePage(ctx context.Context, page *models.Page) error
	DeletePage(ctx context.Context, id models.PageID) error
	ListPages(ctx context.Context, workspaceID models.WorkspaceID) ([]*models.Page, error)

	// Workspace and user bootstrap.
	CreateWorkspace(ctx context.Context, workspace *models.Workspace) error
	GetWorkspaceByName(ctx context.Context, name string) (*models.Workspace, error)
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id models.UserID) (*models.User, error)

	// Migrate initializes or updates backend schema; idempotent.
	Migrate(ctx context.Context) error
	Close() error
}

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daybook-app/daybook/pkg/models"
	"github.com/daybook-app/daybook/pkg/store"
)

func newBlock(pageID models.PageID, ws models.WorkspaceID, order float64, text string) *models.Block {
	return &models.Block{
		ID:          models.NewBlockID(),
		WorkspaceID: ws,
		PageID:      pageID,
		Type:        models.BlockTypeParagraph,
		Text:        text,
		Order:       order,
	}
}

func TestBatchWriteLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	ws := models.NewWorkspaceID()
	page := models.NewPageID()

	a := newBlock(page, ws, 0, "A")
	b := newBlock(page, ws, 1, "B")
	require.NoError(t, s.BatchWrite(ctx, []store.Operation{
		store.NewCreate(a),
		store.NewCreate(b),
	}))

	blocks, err := s.ListBlocks(ctx, page)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, "A", blocks[0].Text)
	require.Equal(t, "B", blocks[1].Text)
	require.False(t, blocks[0].CreatedAt.IsZero())

	text := "A2"
	require.NoError(t, s.BatchWrite(ctx, []store.Operation{
		store.NewUpdate(page, a.ID, &models.BlockPatch{Text: &text}),
		store.NewDelete(page, b.ID),
	}))

	got, err := s.GetBlock(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "A2", got.Text)

	_, err = s.GetBlock(ctx, b.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestBatchWriteIsAtomic(t *testing.T) {
	s := New()
	ctx := context.Background()
	ws := models.NewWorkspaceID()
	page := models.NewPageID()

	good := newBlock(page, ws, 0, "good")
	text := "nope"
	err := s.BatchWrite(ctx, []store.Operation{
		store.NewCreate(good),
		store.NewUpdate(page, models.NewBlockID(), &models.BlockPatch{Text: &text}),
	})
	require.Error(t, err)

	// The valid create must not have landed.
	_, err = s.GetBlock(ctx, good.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestBatchWriteRejectsOversized(t *testing.T) {
	s := New(WithMaxBatchSize(2))
	ctx := context.Background()
	ws := models.NewWorkspaceID()
	page := models.NewPageID()

	ops := []store.Operation{
		store.NewCreate(newBlock(page, ws, 0, "a")),
		store.NewCreate(newBlock(page, ws, 1, "b")),
		store.NewCreate(newBlock(page, ws, 2, "c")),
	}
	err := s.BatchWrite(ctx, ops)
	require.ErrorIs(t, err, store.ErrBatchTooLarge)
	require.Equal(t, 2, s.MaxBatchSize())
}

func TestBatchWriteRejectsDeleteAll(t *testing.T) {
	s := New()
	err := s.BatchWrite(context.Background(), []store.Operation{
		store.NewDeleteAll(models.NewPageID()),
	})
	require.Error(t, err)
}

func TestDeleteChildren(t *testing.T) {
	s := New()
	ctx := context.Background()
	ws := models.NewWorkspaceID()
	pageA := models.NewPageID()
	pageB := models.NewPageID()

	require.NoError(t, s.BatchWrite(ctx, []store.Operation{
		store.NewCreate(newBlock(pageA, ws, 0, "a")),
		store.NewCreate(newBlock(pageA, ws, 1, "b")),
		store.NewCreate(newBlock(pageB, ws, 0, "other")),
	}))

	require.NoError(t, s.DeleteChildren(ctx, pageA))

	blocks, err := s.ListBlocks(ctx, pageA)
	require.NoError(t, err)
	require.Empty(t, blocks)

	// Other pages are untouched.
	blocks, err = s.ListBlocks(ctx, pageB)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
}

func TestListChildren(t *testing.T) {
	s := New()
	ctx := context.Background()
	ws := models.NewWorkspaceID()
	page := models.NewPageID()

	parent := newBlock(page, ws, 0, "list")
	parent.Type = models.BlockTypeBulletGroup
	child := newBlock(page, ws, 0, "nested")
	child.ParentID = &parent.ID

	require.NoError(t, s.BatchWrite(ctx, []store.Operation{
		store.NewCreate(parent),
		store.NewCreate(child),
	}))

	children, err := s.ListChildren(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, "nested", children[0].Text)
}

func TestBacklinksAndTypeQueries(t *testing.T) {
	s := New()
	ctx := context.Background()
	ws := models.NewWorkspaceID()
	page := models.NewPageID()

	linked := newBlock(page, ws, 0, "see [[projects]]")
	linked.Refs = []string{"projects"}
	todo := newBlock(page, ws, 1, "task")
	todo.Type = models.BlockTypeTodo

	require.NoError(t, s.BatchWrite(ctx, []store.Operation{
		store.NewCreate(linked),
		store.NewCreate(todo),
	}))

	backlinks, err := s.ListBacklinks(ctx, "projects")
	require.NoError(t, err)
	require.Len(t, backlinks, 1)
	require.Equal(t, linked.ID, backlinks[0].ID)

	todos, err := s.QueryBlocksByType(ctx, ws, models.BlockTypeTodo)
	require.NoError(t, err)
	require.Len(t, todos, 1)
	require.Equal(t, todo.ID, todos[0].ID)
}

func TestRootUpdateClearsContent(t *testing.T) {
	s := New()
	ctx := context.Background()
	page := &models.Page{
		ID:          models.NewPageID(),
		WorkspaceID: models.NewWorkspaceID(),
		Title:       "legacy",
		Kind:        models.PageKindPage,
		Content:     `[{"type":"paragraph","text":"old"}]`,
	}
	require.NoError(t, s.CreatePage(ctx, page))

	require.NoError(t, s.BatchWrite(ctx, []store.Operation{
		store.NewRootUpdate(page.ID, &models.BlockPatch{ClearContent: true}),
	}))

	got, err := s.GetPage(ctx, page.ID)
	require.NoError(t, err)
	require.Empty(t, got.Content)
}

func TestPagesAndDailyLookup(t *testing.T) {
	s := New()
	ctx := context.Background()
	ws := models.NewWorkspaceID()

	daily := &models.Page{
		ID:          models.NewPageID(),
		WorkspaceID: ws,
		Title:       "2026-08-25",
		Kind:        models.PageKindDaily,
		Date:        "2026-08-25",
	}
	require.NoError(t, s.CreatePage(ctx, daily))

	got, err := s.GetPageByDate(ctx, ws, "2026-08-25")
	require.NoError(t, err)
	require.Equal(t, daily.ID, got.ID)

	_, err = s.GetPageByDate(ctx, ws, "2026-08-26")
	require.ErrorIs(t, err, store.ErrNotFound)

	pages, err := s.ListPages(ctx, ws)
	require.NoError(t, err)
	require.Len(t, pages, 1)

	require.NoError(t, s.DeletePage(ctx, daily.ID))
	_, err = s.GetPage(ctx, daily.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestReadsReturnCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	ws := models.NewWorkspaceID()
	page := models.NewPageID()

	b := newBlock(page, ws, 0, "original")
	require.NoError(t, s.BatchWrite(ctx, []store.Operation{store.NewCreate(b)}))

	got, err := s.GetBlock(ctx, b.ID)
	require.NoError(t, err)
	got.Text = "mutated"

	again, err := s.GetBlock(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, "original", again.Text)
}

func TestBatchWriteRejectsDuplicateSiblingOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	ws := models.NewWorkspaceID()
	page := models.NewPageID()

	a := newBlock(page, ws, 0, "a")
	b := newBlock(page, ws, 1, "b")
	require.NoError(t, s.BatchWrite(ctx, []store.Operation{
		store.NewCreate(a), store.NewCreate(b),
	}))

	// Moving b onto a's order key must fail and commit nothing.
	order := 0.0
	err := s.BatchWrite(ctx, []store.Operation{
		store.NewUpdate(page, b.ID, &models.BlockPatch{Order: &order}),
	})
	require.Error(t, err)

	got, err := s.GetBlock(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, 1.0, got.Order)

	// Children of a block are a separate sibling scope.
	child := newBlock(page, ws, 0, "nested")
	child.ParentID = &a.ID
	require.NoError(t, s.BatchWrite(ctx, []store.Operation{store.NewCreate(child)}))
}

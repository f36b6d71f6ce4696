package blocksync

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/daybook-app/daybook/pkg/models"
	"github.com/daybook-app/daybook/pkg/snapshot"
	"github.com/daybook-app/daybook/pkg/store"
)

func testPage() *models.Page {
	return &models.Page{
		ID:          models.NewPageID(),
		WorkspaceID: models.NewWorkspaceID(),
		Title:       "test",
		Kind:        models.PageKindPage,
	}
}

func newTestDiffer() *Differ {
	return NewDiffer(NewIdentityCache(), zerolog.Nop())
}

// applyOps materializes create operations into a block slice, the way the
// orchestrator folds them into its known set.
func applyOps(t *testing.T, known []*models.Block, ops []store.Operation) []*models.Block {
	t.Helper()
	for _, op := range ops {
		switch op.Kind {
		case store.OpCreate:
			b := *op.Block
			known = append(known, &b)
		case store.OpUpdate:
			if op.Root {
				continue
			}
			for _, b := range known {
				if b.ID == op.BlockID {
					op.Patch.Apply(b)
				}
			}
		case store.OpDelete:
			known = removeBlock(known, op.BlockID)
		case store.OpDeleteAll:
			known = nil
		}
	}
	return known
}

func TestBuildOperationsCreatesFromEmpty(t *testing.T) {
	d := newTestDiffer()
	page := testPage()
	user := models.NewUserID()

	items := []snapshot.Item{
		snapshot.Paragraph{Text: "A"},
		snapshot.BulletList{Items: []snapshot.ListItem{{Text: "x"}, {Text: "y"}}},
	}

	ops := d.BuildOperations(page, nil, items, user)
	require.Len(t, ops, 2)

	require.Equal(t, store.OpCreate, ops[0].Kind)
	require.Equal(t, models.BlockTypeParagraph, ops[0].Block.Type)
	require.Equal(t, "A", ops[0].Block.Text)
	require.Equal(t, 0.0, ops[0].Block.Order)
	require.False(t, ops[0].Block.ID.IsZero())

	require.Equal(t, store.OpCreate, ops[1].Kind)
	require.Equal(t, models.BlockTypeBulletGroup, ops[1].Block.Type)
	require.Equal(t, "x\ny", ops[1].Block.Text)
	require.Equal(t, 1.0, ops[1].Block.Order)

	require.NotEqual(t, ops[0].Block.ID, ops[1].Block.ID)
	require.Equal(t, user, ops[0].Block.CreatedBy)
	require.Equal(t, page.ID, ops[0].Block.PageID)
	require.Nil(t, ops[0].Block.ParentID)
}

func TestBuildOperationsIdempotent(t *testing.T) {
	d := newTestDiffer()
	page := testPage()
	user := models.NewUserID()

	items := []snapshot.Item{
		snapshot.Heading{Level: 2, Text: "Title"},
		snapshot.Paragraph{Text: "body"},
		snapshot.Todo{Checked: true, Text: "done"},
	}

	first := d.BuildOperations(page, nil, items, user)
	require.Len(t, first, 3)
	known := applyOps(t, nil, first)

	second := d.BuildOperations(page, known, items, user)
	require.Empty(t, second, "unchanged snapshot must produce no operations")
}

func TestBuildOperationsStableIdentityAcrossEdits(t *testing.T) {
	d := newTestDiffer()
	page := testPage()
	user := models.NewUserID()

	known := applyOps(t, nil, d.BuildOperations(page, nil, []snapshot.Item{
		snapshot.Paragraph{Text: "A"},
	}, user))
	require.Len(t, known, 1)
	id := known[0].ID

	// Keystroke by keystroke, the same block gets updated.
	for _, text := range []string{"AB", "ABC", "ABCD"} {
		ops := d.BuildOperations(page, known, []snapshot.Item{
			snapshot.Paragraph{Text: text},
		}, user)
		require.Len(t, ops, 1)
		require.Equal(t, store.OpUpdate, ops[0].Kind)
		require.Equal(t, id, ops[0].BlockID)
		require.NotNil(t, ops[0].Patch.Text)
		require.Equal(t, text, *ops[0].Patch.Text)
		known = applyOps(t, known, ops)
	}
}

func TestBuildOperationsEmptySnapshotShortCircuits(t *testing.T) {
	d := newTestDiffer()
	page := testPage()
	user := models.NewUserID()

	known := applyOps(t, nil, d.BuildOperations(page, nil, []snapshot.Item{
		snapshot.Paragraph{Text: "A"},
		snapshot.Paragraph{Text: "B"},
	}, user))

	ops := d.BuildOperations(page, known, nil, user)
	require.Len(t, ops, 1)
	require.Equal(t, store.OpDeleteAll, ops[0].Kind)
	require.Equal(t, page.ID, ops[0].PageID)
	require.Zero(t, d.cache.Len(page.ID), "cache must be dropped with the blocks")

	// Clearing an already empty document is a no-op.
	require.Empty(t, d.BuildOperations(page, nil, nil, user))

	// A single empty leaf counts as empty too.
	ops = d.BuildOperations(page, known, []snapshot.Item{snapshot.Paragraph{}}, user)
	require.Len(t, ops, 1)
	require.Equal(t, store.OpDeleteAll, ops[0].Kind)
}

func TestBuildOperationsRootContentStripped(t *testing.T) {
	d := newTestDiffer()
	page := testPage()
	page.Content = `[{"type":"paragraph","text":"legacy"}]`
	user := models.NewUserID()

	ops := d.BuildOperations(page, nil, []snapshot.Item{snapshot.Paragraph{Text: "legacy"}}, user)
	require.NotEmpty(t, ops)
	require.Equal(t, store.OpUpdate, ops[0].Kind)
	require.True(t, ops[0].Root)
	require.True(t, ops[0].Patch.ClearContent)
}

func TestBuildOperationsTypeChange(t *testing.T) {
	d := newTestDiffer()
	page := testPage()
	user := models.NewUserID()

	known := applyOps(t, nil, d.BuildOperations(page, nil, []snapshot.Item{
		snapshot.Paragraph{Text: "title"},
	}, user))
	oldID := known[0].ID

	// Cold cache: position matching sees a type mismatch at slot 0.
	d.cache.ClearAll()
	ops := d.BuildOperations(page, known, []snapshot.Item{
		snapshot.Heading{Level: 1, Text: "title"},
	}, user)
	require.Len(t, ops, 2)
	require.Equal(t, store.OpDelete, ops[0].Kind)
	require.Equal(t, oldID, ops[0].BlockID)
	require.Equal(t, store.OpCreate, ops[1].Kind)
	require.Equal(t, models.BlockTypeHeading, ops[1].Block.Type)
	require.NotEqual(t, oldID, ops[1].Block.ID)
}

func TestBuildOperationsCacheWinsOverTypeChange(t *testing.T) {
	d := newTestDiffer()
	page := testPage()
	user := models.NewUserID()

	known := applyOps(t, nil, d.BuildOperations(page, nil, []snapshot.Item{
		snapshot.Paragraph{Text: "title"},
	}, user))
	id := known[0].ID

	// Warm cache: the same block survives a type change as an update.
	ops := d.BuildOperations(page, known, []snapshot.Item{
		snapshot.Heading{Level: 1, Text: "title"},
	}, user)
	require.Len(t, ops, 1)
	require.Equal(t, store.OpUpdate, ops[0].Kind)
	require.Equal(t, id, ops[0].BlockID)
	require.NotNil(t, ops[0].Patch.Type)
	require.Equal(t, models.BlockTypeHeading, *ops[0].Patch.Type)
}

func TestBuildOperationsMoveDetection(t *testing.T) {
	d := newTestDiffer()
	page := testPage()
	user := models.NewUserID()

	known := applyOps(t, nil, d.BuildOperations(page, nil, []snapshot.Item{
		snapshot.Paragraph{Text: "A"},
		snapshot.Heading{Level: 1, Text: "H"},
	}, user))
	headingID := known[1].ID

	// Swapped order, cold cache. The heading moves to slot 0; the
	// paragraph at slot 0 is deleted and recreated at slot 1.
	d.cache.ClearAll()
	ops := d.BuildOperations(page, known, []snapshot.Item{
		snapshot.Heading{Level: 1, Text: "H"},
		snapshot.Paragraph{Text: "A"},
	}, user)

	require.Len(t, ops, 3)
	require.Equal(t, store.OpDelete, ops[0].Kind)
	require.Equal(t, store.OpUpdate, ops[1].Kind)
	require.Equal(t, headingID, ops[1].BlockID)
	require.NotNil(t, ops[1].Patch.Order)
	require.Equal(t, 0.0, *ops[1].Patch.Order)
	require.Equal(t, store.OpCreate, ops[2].Kind)
	require.Equal(t, 1.0, ops[2].Block.Order)
}

func TestBuildOperationsSweepDeletesTrailing(t *testing.T) {
	d := newTestDiffer()
	page := testPage()
	user := models.NewUserID()

	known := applyOps(t, nil, d.BuildOperations(page, nil, []snapshot.Item{
		snapshot.Paragraph{Text: "A"},
		snapshot.Paragraph{Text: "B"},
		snapshot.Paragraph{Text: "C"},
	}, user))
	lastID := known[2].ID

	ops := d.BuildOperations(page, known, []snapshot.Item{
		snapshot.Paragraph{Text: "A"},
		snapshot.Paragraph{Text: "B"},
	}, user)
	require.Len(t, ops, 1)
	require.Equal(t, store.OpDelete, ops[0].Kind)
	require.Equal(t, lastID, ops[0].BlockID)
}

func TestBuildOperationsNestedList(t *testing.T) {
	d := newTestDiffer()
	page := testPage()
	user := models.NewUserID()

	items := []snapshot.Item{
		snapshot.BulletList{Items: []snapshot.ListItem{
			{Text: "x"},
			{Text: "y", Children: []snapshot.Item{
				snapshot.BulletList{Items: []snapshot.ListItem{{Text: "z"}}},
			}},
		}},
	}

	ops := d.BuildOperations(page, nil, items, user)
	require.Len(t, ops, 2)

	parent := ops[0].Block
	require.Equal(t, models.BlockTypeBulletGroup, parent.Type)
	require.Equal(t, "x\ny", parent.Text)

	child := ops[1].Block
	require.Equal(t, models.BlockTypeBulletGroup, child.Type)
	require.Equal(t, "z", child.Text)
	require.NotNil(t, child.ParentID)
	require.Equal(t, parent.ID, *child.ParentID)

	// Round trip: unchanged nested snapshot produces nothing.
	known := applyOps(t, nil, ops)
	require.Empty(t, d.BuildOperations(page, known, items, user))
}

func TestBuildOperationsRefsTracked(t *testing.T) {
	d := newTestDiffer()
	page := testPage()
	user := models.NewUserID()

	ops := d.BuildOperations(page, nil, []snapshot.Item{
		snapshot.Paragraph{Text: "see [[projects]] and [[ideas]] and [[projects]]"},
	}, user)
	require.Len(t, ops, 1)
	require.Equal(t, []string{"projects", "ideas"}, ops[0].Block.Refs)

	known := applyOps(t, nil, ops)
	update := d.BuildOperations(page, known, []snapshot.Item{
		snapshot.Paragraph{Text: "see [[ideas]]"},
	}, user)
	require.Len(t, update, 1)
	require.NotNil(t, update[0].Patch.Refs)
	require.Equal(t, []string{"ideas"}, *update[0].Patch.Refs)
}

func TestBuildOperationsDeletesOrphanedChildren(t *testing.T) {
	d := newTestDiffer()
	page := testPage()
	user := models.NewUserID()

	items := []snapshot.Item{
		snapshot.BulletList{Items: []snapshot.ListItem{
			{Text: "x", Children: []snapshot.Item{
				snapshot.BulletList{Items: []snapshot.ListItem{{Text: "nested"}}},
			}},
		}},
	}
	known := applyOps(t, nil, d.BuildOperations(page, nil, items, user))
	require.Len(t, known, 2)

	// Replacing the list with a paragraph must delete the nested child too.
	d.cache.ClearAll()
	ops := d.BuildOperations(page, known, []snapshot.Item{
		snapshot.Paragraph{Text: "plain"},
	}, user)

	deletes := 0
	for _, op := range ops {
		if op.Kind == store.OpDelete {
			deletes++
		}
	}
	require.Equal(t, 2, deletes, "list block and its nested child must both be deleted")
}

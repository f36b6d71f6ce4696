package blocksync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/daybook-app/daybook/pkg/models"
	"github.com/daybook-app/daybook/pkg/snapshot"
	"github.com/daybook-app/daybook/pkg/store/memory"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *memory.Store, *models.Page) {
	t.Helper()
	st := memory.New()
	ws := models.NewWorkspaceID()
	user := models.NewUserID()

	page := &models.Page{
		ID:          models.NewPageID(),
		WorkspaceID: ws,
		Title:       "test",
		Kind:        models.PageKindPage,
		CreatedBy:   user,
	}
	require.NoError(t, st.CreatePage(context.Background(), page))

	o := NewOrchestrator(st, OrchestratorConfig{
		ChangeDelay: time.Hour, // rely on Save to force the pipeline
		Queue:       QueueConfig{FlushDelay: time.Hour},
		WorkspaceID: ws,
		UserID:      user,
	}, zerolog.Nop())
	return o, st, page
}

func TestOrchestratorRoundTrip(t *testing.T) {
	o, st, page := newTestOrchestrator(t)
	ctx := context.Background()

	_, items, err := o.OpenPage(ctx, page.ID)
	require.NoError(t, err)
	require.Empty(t, items)
	require.Equal(t, SessionReady, o.State())

	doc := []snapshot.Item{
		snapshot.Heading{Level: 1, Text: "Today"},
		snapshot.Todo{Checked: false, Text: "write tests"},
		snapshot.BulletList{Items: []snapshot.ListItem{{Text: "x"}, {Text: "y"}}},
	}
	o.OnChange(doc)
	require.NoError(t, o.Save(ctx))

	blocks, err := st.ListBlocks(ctx, page.ID)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	require.Equal(t, doc, snapshot.Render(blocks))
}

func TestOrchestratorStableIdentityAcrossSaves(t *testing.T) {
	o, st, page := newTestOrchestrator(t)
	ctx := context.Background()

	_, _, err := o.OpenPage(ctx, page.ID)
	require.NoError(t, err)

	o.OnChange([]snapshot.Item{snapshot.Paragraph{Text: "A"}})
	require.NoError(t, o.Save(ctx))
	blocks, err := st.ListBlocks(ctx, page.ID)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	id := blocks[0].ID

	o.OnChange([]snapshot.Item{snapshot.Paragraph{Text: "AB"}})
	require.NoError(t, o.Save(ctx))
	blocks, err = st.ListBlocks(ctx, page.ID)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, id, blocks[0].ID, "editing must not mint a new block")
	require.Equal(t, "AB", blocks[0].Text)
}

func TestOrchestratorRecreatesMissingRoot(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	ctx := context.Background()

	missing := models.NewPageID()
	page, items, err := o.OpenPage(ctx, missing)
	require.NoError(t, err)
	require.Equal(t, missing, page.ID)
	require.Empty(t, items)

	stored, err := st.GetPage(ctx, missing)
	require.NoError(t, err)
	require.Equal(t, missing, stored.ID)
}

func TestOrchestratorSwitchFlushesAndClearsCache(t *testing.T) {
	o, st, pageA := newTestOrchestrator(t)
	ctx := context.Background()

	pageB := &models.Page{
		ID:          models.NewPageID(),
		WorkspaceID: pageA.WorkspaceID,
		Title:       "other",
		Kind:        models.PageKindPage,
	}
	require.NoError(t, st.CreatePage(ctx, pageB))

	_, _, err := o.OpenPage(ctx, pageA.ID)
	require.NoError(t, err)
	o.OnChange([]snapshot.Item{snapshot.Paragraph{Text: "unsaved"}})

	// Switching documents syncs and flushes the old one.
	_, _, err = o.OpenPage(ctx, pageB.ID)
	require.NoError(t, err)

	blocks, err := st.ListBlocks(ctx, pageA.ID)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, "unsaved", blocks[0].Text)
	require.Zero(t, o.cache.Len(pageA.ID), "switching drops the old page's identity cache")
}

func TestOrchestratorLegacyContentMigration(t *testing.T) {
	o, st, page := newTestOrchestrator(t)
	ctx := context.Background()

	page.Content = `[{"type":"paragraph","text":"old note"}]`
	require.NoError(t, st.UpdatePage(ctx, page))

	_, items, err := o.OpenPage(ctx, page.ID)
	require.NoError(t, err)
	require.Equal(t, []snapshot.Item{snapshot.Paragraph{Text: "old note"}}, items)

	// Re-submitting the parsed content converts the page to blocks and
	// strips the legacy payload.
	o.OnChange(items)
	require.NoError(t, o.Save(ctx))

	blocks, err := st.ListBlocks(ctx, page.ID)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, "old note", blocks[0].Text)

	stored, err := st.GetPage(ctx, page.ID)
	require.NoError(t, err)
	require.Empty(t, stored.Content)
}

func TestOrchestratorIgnoresChangesBeforeOpen(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	o.OnChange([]snapshot.Item{snapshot.Paragraph{Text: "nowhere"}})
	require.NoError(t, o.Save(context.Background()))
	require.Equal(t, SessionUninitialized, o.State())
}

func TestOrchestratorCloseFlushes(t *testing.T) {
	o, st, page := newTestOrchestrator(t)
	ctx := context.Background()

	_, _, err := o.OpenPage(ctx, page.ID)
	require.NoError(t, err)
	o.OnChange([]snapshot.Item{snapshot.Paragraph{Text: "bye"}})
	require.NoError(t, o.Close(ctx))

	blocks, err := st.ListBlocks(ctx, page.ID)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
}

func TestOrchestratorConcurrentSavesStayConsistent(t *testing.T) {
	o, st, page := newTestOrchestrator(t)
	ctx := context.Background()

	_, _, err := o.OpenPage(ctx, page.ID)
	require.NoError(t, err)

	items := []snapshot.Item{
		snapshot.Heading{Level: 1, Text: "Today"},
		snapshot.Paragraph{Text: "hello"},
	}

	// Racing saves (a timer firing into an explicit Save) must difference
	// one at a time; overlapping passes would double-emit creates for the
	// same positions.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.OnChange(items)
			_ = o.Save(ctx)
		}()
	}
	wg.Wait()

	require.NoError(t, o.Save(ctx))
	require.Zero(t, o.Queue().Len())

	blocks, err := st.ListBlocks(ctx, page.ID)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, "Today", blocks[0].Text)
	require.Equal(t, "hello", blocks[1].Text)
}

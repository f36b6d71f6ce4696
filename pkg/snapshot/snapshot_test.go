package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daybook-app/daybook/pkg/models"
)

func TestDecode(t *testing.T) {
	data := []byte(`[
		{"type":"heading","level":2,"text":"Notes"},
		{"type":"paragraph","text":"hello"},
		{"type":"bullet_list","items":[{"text":"x"},{"text":"y"}]},
		{"type":"code","language":"go","text":"fmt.Println()"},
		{"type":"todo","checked":true,"text":"ship it"},
		{"type":"quote","text":"said someone"}
	]`)

	items, skipped, err := Decode(data)
	require.NoError(t, err)
	require.Zero(t, skipped)
	require.Len(t, items, 6)

	require.Equal(t, Heading{Level: 2, Text: "Notes"}, items[0])
	require.Equal(t, Paragraph{Text: "hello"}, items[1])
	require.Equal(t, BulletList{Items: []ListItem{{Text: "x"}, {Text: "y"}}}, items[2])
	require.Equal(t, Code{Language: "go", Text: "fmt.Println()"}, items[3])
	require.Equal(t, Todo{Checked: true, Text: "ship it"}, items[4])
	require.Equal(t, Quote{Text: "said someone"}, items[5])
}

func TestDecodeSkipsUnknownTypes(t *testing.T) {
	data := []byte(`[
		{"type":"paragraph","text":"keep"},
		{"type":"embed","url":"https://example.com"},
		{"type":"paragraph","text":"also keep"}
	]`)

	items, skipped, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, 1, skipped)
	require.Len(t, items, 2)
}

func TestDecodeClampsHeadingLevel(t *testing.T) {
	items, _, err := Decode([]byte(`[{"type":"heading","level":9,"text":"deep"},{"type":"heading","text":"none"}]`))
	require.NoError(t, err)
	require.Equal(t, 3, items[0].(Heading).Level)
	require.Equal(t, 1, items[1].(Heading).Level)
}

func TestDecodeInvalidPayload(t *testing.T) {
	_, _, err := Decode([]byte(`{"not":"an array"`))
	require.Error(t, err)
}

func TestDecodeNestedListChildren(t *testing.T) {
	data := []byte(`[
		{"type":"bullet_list","items":[
			{"text":"x"},
			{"text":"y","children":[{"type":"numbered_list","items":[{"text":"z"}]}]}
		]}
	]`)
	items, skipped, err := Decode(data)
	require.NoError(t, err)
	require.Zero(t, skipped)
	require.Len(t, items, 1)

	list := items[0].(BulletList)
	require.Len(t, list.Items, 2)
	require.Empty(t, list.Items[0].Children)
	require.Len(t, list.Items[1].Children, 1)
	require.Equal(t, NumberedList{Items: []ListItem{{Text: "z"}}}, list.Items[1].Children[0])
}

func TestParseStoredContent(t *testing.T) {
	require.Nil(t, ParseStoredContent(""))
	require.Nil(t, ParseStoredContent("   "))
	require.Nil(t, ParseStoredContent("{corrupt"))

	items := ParseStoredContent(`[{"type":"paragraph","text":"legacy"}]`)
	require.Equal(t, []Item{Paragraph{Text: "legacy"}}, items)
}

func TestPlainTextJoinsListItems(t *testing.T) {
	list := NumberedList{Items: []ListItem{{Text: "first"}, {Text: "second"}}}
	require.Equal(t, "first\nsecond", list.PlainText())
}

func TestExtractRefs(t *testing.T) {
	require.Nil(t, ExtractRefs("no links here"))
	require.Equal(t, []string{"projects"}, ExtractRefs("see [[projects]]"))
	require.Equal(t, []string{"a", "b"}, ExtractRefs("[[a]] then [[b]] then [[a]] again"))
	require.Equal(t, []string{"spaced name"}, ExtractRefs("link [[ spaced name ]] here"))
	require.Nil(t, ExtractRefs("empty [[ ]] link"))
}

func TestIsEmptyLeaf(t *testing.T) {
	require.True(t, IsEmptyLeaf(Paragraph{}))
	require.False(t, IsEmptyLeaf(Paragraph{Text: "x"}))
	require.True(t, IsEmptyLeaf(BulletList{}))
	require.False(t, IsEmptyLeaf(BulletList{Items: []ListItem{{Text: "x"}}}))
}

func TestRenderRoundTrip(t *testing.T) {
	ws := models.NewWorkspaceID()
	page := models.NewPageID()
	listID := models.NewBlockID()

	blocks := []*models.Block{
		{ID: models.NewBlockID(), WorkspaceID: ws, PageID: page, Type: models.BlockTypeHeading, Level: 1, Text: "Today", Order: 0},
		{ID: listID, WorkspaceID: ws, PageID: page, Type: models.BlockTypeBulletGroup, Text: "x\ny", Order: 1},
		{ID: models.NewBlockID(), WorkspaceID: ws, PageID: page, ParentID: &listID, Type: models.BlockTypeBulletGroup, Text: "z", Order: 0},
		{ID: models.NewBlockID(), WorkspaceID: ws, PageID: page, Type: models.BlockTypeCode, Language: "go", Text: "x := 1", Order: 2},
	}

	items := Render(blocks)
	require.Len(t, items, 3)
	require.Equal(t, Heading{Level: 1, Text: "Today"}, items[0])

	list := items[1].(BulletList)
	require.Equal(t, "x\ny", list.PlainText())
	// Nested children re-attach to the last entry.
	require.Len(t, list.Items[1].Children, 1)
	require.Equal(t, "z", list.Items[1].Children[0].PlainText())

	require.Equal(t, Code{Language: "go", Text: "x := 1"}, items[2])
}

func TestRenderOrdersByOrderKey(t *testing.T) {
	ws := models.NewWorkspaceID()
	page := models.NewPageID()

	blocks := []*models.Block{
		{ID: models.NewBlockID(), WorkspaceID: ws, PageID: page, Type: models.BlockTypeParagraph, Text: "second", Order: 1.5},
		{ID: models.NewBlockID(), WorkspaceID: ws, PageID: page, Type: models.BlockTypeParagraph, Text: "first", Order: 0},
		{ID: models.NewBlockID(), WorkspaceID: ws, PageID: page, Type: models.BlockTypeParagraph, Text: "third", Order: 2},
	}

	items := Render(blocks)
	require.Equal(t, "first", items[0].PlainText())
	require.Equal(t, "second", items[1].PlainText())
	require.Equal(t, "third", items[2].PlainText())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	items := []Item{
		Heading{Level: 2, Text: "T"},
		Paragraph{Text: "p"},
		BulletList{Items: []ListItem{{Text: "x"}, {Text: "y", Children: []Item{
			NumberedList{Items: []ListItem{{Text: "z"}}},
		}}}},
		Todo{Checked: true, Text: "t"},
	}

	data, err := Encode(items)
	require.NoError(t, err)

	decoded, skipped, err := Decode(data)
	require.NoError(t, err)
	require.Zero(t, skipped)
	require.Equal(t, items, decoded)
}

// Package snapshot models the editor-facing document snapshot: an ordered
// sequence of typed content items with plain-text payloads.
//
// The editor component owns rich formatting; the sync engine never sees
// marks or inline styles. What crosses this boundary is a closed tagged
// union, decoded from JSON with explicit rejection of unknown tags.
package snapshot

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/daybook-app/daybook/pkg/models"
)

// Kind tags a content item variant.
type Kind string

const (
	KindParagraph    Kind = "paragraph"
	KindHeading      Kind = "heading"
	KindBulletList   Kind = "bullet_list"
	KindNumberedList Kind = "numbered_list"
	KindQuote        Kind = "quote"
	KindCode         Kind = "code"
	KindTodo         Kind = "todo"
)

// Item is one top-level unit of editor content. Implementations form a
// closed set; the decoder skips anything else.
type Item interface {
	Kind() Kind
	// PlainText is the text payload as the sync engine persists it. List
	// groups report their items newline-joined.
	PlainText() string
}

// Paragraph is a plain text paragraph.
type Paragraph struct {
	Text string `json:"text"`
}

func (Paragraph) Kind() Kind          { return KindParagraph }
func (p Paragraph) PlainText() string { return p.Text }

// Heading is a section heading with depth 1-3.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

func (Heading) Kind() Kind          { return KindHeading }
func (h Heading) PlainText() string { return h.Text }

// ListItem is one entry of a bullet or numbered group. Children carry a
// nested sub-document (typically a nested list) hanging off this entry.
// List items are not separately addressable blocks; the whole group
// persists as a single block.
type ListItem struct {
	Text     string `json:"text"`
	Children []Item `json:"-"`
}

// BulletList is an unordered list group.
type BulletList struct {
	Items []ListItem `json:"items"`
}

func (BulletList) Kind() Kind { return KindBulletList }

func (l BulletList) PlainText() string { return joinItems(l.Items) }

// NumberedList is an ordered list group.
type NumberedList struct {
	Items []ListItem `json:"items"`
}

func (NumberedList) Kind() Kind { return KindNumberedList }

func (l NumberedList) PlainText() string { return joinItems(l.Items) }

// Quote is a block quote.
type Quote struct {
	Text string `json:"text"`
}

func (Quote) Kind() Kind          { return KindQuote }
func (q Quote) PlainText() string { return q.Text }

// Code is a fenced code block.
type Code struct {
	Language string `json:"language,omitempty"`
	Text     string `json:"text"`
}

func (Code) Kind() Kind          { return KindCode }
func (c Code) PlainText() string { return c.Text }

// Todo is a checkbox item.
type Todo struct {
	Checked bool   `json:"checked"`
	Text    string `json:"text"`
}

func (Todo) Kind() Kind          { return KindTodo }
func (t Todo) PlainText() string { return t.Text }

func joinItems(items []ListItem) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.Text
	}
	return strings.Join(parts, "\n")
}

// ListChildren returns per-item nested sub-documents of a list group item,
// or nil for non-list items.
func ListChildren(item Item) [][]Item {
	var entries []ListItem
	switch v := item.(type) {
	case BulletList:
		entries = v.Items
	case NumberedList:
		entries = v.Items
	default:
		return nil
	}
	out := make([][]Item, len(entries))
	for i, e := range entries {
		out[i] = e.Children
	}
	return out
}

// BlockType maps an item variant to the block type it persists as.
func BlockType(k Kind) (models.BlockType, bool) {
	switch k {
	case KindParagraph:
		return models.BlockTypeParagraph, true
	case KindHeading:
		return models.BlockTypeHeading, true
	case KindBulletList:
		return models.BlockTypeBulletGroup, true
	case KindNumberedList:
		return models.BlockTypeNumberedGroup, true
	case KindQuote:
		return models.BlockTypeQuote, true
	case KindCode:
		return models.BlockTypeCode, true
	case KindTodo:
		return models.BlockTypeTodo, true
	}
	return "", false
}

// rawItem is the wire form of an item: a type tag plus variant fields.
type rawItem struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Level    int             `json:"level"`
	Language string          `json:"language"`
	Checked  bool            `json:"checked"`
	Items    []rawListItem   `json:"items"`
	Extra    json.RawMessage `json:"-"`
}

type rawListItem struct {
	Text     string    `json:"text"`
	Children []rawItem `json:"children"`
}

// Decode parses a JSON array of content items. Unknown type tags are
// skipped, not errors: the count of skipped items is returned so callers
// can log the anomaly. A syntactically invalid payload is an error.
func Decode(data []byte) ([]Item, int, error) {
	var raw []rawItem
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("snapshot: invalid content payload: %w", err)
	}
	items, skipped := decodeRaw(raw)
	return items, skipped, nil
}

func decodeRaw(raw []rawItem) ([]Item, int) {
	items := make([]Item, 0, len(raw))
	skipped := 0
	for _, r := range raw {
		item, ok := decodeOne(r)
		if !ok {
			skipped++
			continue
		}
		items = append(items, item)
	}
	return items, skipped
}

func decodeOne(r rawItem) (Item, bool) {
	switch Kind(r.Type) {
	case KindParagraph:
		return Paragraph{Text: r.Text}, true
	case KindHeading:
		level := r.Level
		if level < 1 {
			level = 1
		}
		if level > 3 {
			level = 3
		}
		return Heading{Level: level, Text: r.Text}, true
	case KindBulletList:
		return BulletList{Items: decodeListItems(r.Items)}, true
	case KindNumberedList:
		return NumberedList{Items: decodeListItems(r.Items)}, true
	case KindQuote:
		return Quote{Text: r.Text}, true
	case KindCode:
		return Code{Language: r.Language, Text: r.Text}, true
	case KindTodo:
		return Todo{Checked: r.Checked, Text: r.Text}, true
	}
	return nil, false
}

func decodeListItems(raw []rawListItem) []ListItem {
	items := make([]ListItem, 0, len(raw))
	for _, r := range raw {
		var children []Item
		if len(r.Children) > 0 {
			children, _ = decodeRaw(r.Children)
		}
		items = append(items, ListItem{Text: r.Text, Children: children})
	}
	return items
}

// ParseStoredContent decodes a legacy whole-document content payload from a
// page root. Corrupt or empty payloads yield an empty document; storage
// rot never becomes a user-facing failure.
func ParseStoredContent(raw string) []Item {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	items, _, err := Decode([]byte(raw))
	if err != nil {
		return nil
	}
	return items
}

// IsEmptyLeaf reports whether the item is a single content-free leaf (the
// state an editor shows right after the user deletes everything).
func IsEmptyLeaf(item Item) bool {
	return item.PlainText() == ""
}

var refPattern = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)

// ExtractRefs pulls [[target]] wiki links out of a text payload. Targets
// are deduplicated, order of first appearance preserved.
func ExtractRefs(text string) []string {
	matches := refPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		target := strings.TrimSpace(m[1])
		if target == "" {
			continue
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		refs = append(refs, target)
	}
	if len(refs) == 0 {
		return nil
	}
	return refs
}

// Render converts a page's persisted block set back into a snapshot. The
// input is the flat block slice as returned by ListBlocks; nesting is
// rebuilt from ParentID. Rendering a block set and differencing the result
// against that same set yields zero operations.
func Render(blocks []*models.Block) []Item {
	byParent := make(map[string][]*models.Block)
	for _, b := range blocks {
		key := ""
		if b.ParentID != nil {
			key = b.ParentID.String()
		}
		byParent[key] = append(byParent[key], b)
	}
	for _, siblings := range byParent {
		sort.Slice(siblings, func(i, j int) bool { return siblings[i].Order < siblings[j].Order })
	}
	return renderScope(byParent, "")
}

func renderScope(byParent map[string][]*models.Block, parentKey string) []Item {
	blocks := byParent[parentKey]
	items := make([]Item, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case models.BlockTypeParagraph:
			items = append(items, Paragraph{Text: b.Text})
		case models.BlockTypeHeading:
			items = append(items, Heading{Level: b.Level, Text: b.Text})
		case models.BlockTypeQuote:
			items = append(items, Quote{Text: b.Text})
		case models.BlockTypeCode:
			items = append(items, Code{Language: b.Language, Text: b.Text})
		case models.BlockTypeTodo:
			items = append(items, Todo{Checked: b.Checked, Text: b.Text})
		case models.BlockTypeBulletGroup, models.BlockTypeNumberedGroup:
			entries := splitListText(b.Text)
			nested := renderScope(byParent, b.ID.String())
			if len(entries) > 0 && len(nested) > 0 {
				// Nested sub-documents re-attach to the last item; the
				// editor normalizes placement on load.
				entries[len(entries)-1].Children = nested
			}
			if b.Type == models.BlockTypeBulletGroup {
				items = append(items, BulletList{Items: entries})
			} else {
				items = append(items, NumberedList{Items: entries})
			}
		}
	}
	return items
}

func splitListText(text string) []ListItem {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	items := make([]ListItem, len(lines))
	for i, line := range lines {
		items[i] = ListItem{Text: line}
	}
	return items
}

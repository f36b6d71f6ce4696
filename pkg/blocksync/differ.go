package blocksync

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/daybook-app/daybook/pkg/models"
	"github.com/daybook-app/daybook/pkg/snapshot"
	"github.com/daybook-app/daybook/pkg/store"
)

// orderTolerance bounds the float comparison when matching a snapshot
// position against a stored order key.
const orderTolerance = 1e-6

// Differ converts an editor snapshot plus the previously known block set
// into the minimal operation list that makes persisted state match the
// snapshot.
//
// Identity resolution, per position: the identity cache wins outright; then
// a same-type block at the same order is matched in place; then a type
// change at an occupied slot deletes the occupant and hunts for a moved
// block (same type, same content, untouched) before minting a new ID.
// Whatever survives unmatched at the end is deleted.
type Differ struct {
	cache      *IdentityCache
	log        zerolog.Logger
	newBlockID func() models.BlockID
}

func NewDiffer(cache *IdentityCache, log zerolog.Logger) *Differ {
	return &Differ{
		cache:      cache,
		log:        log,
		newBlockID: models.NewBlockID,
	}
}

// blockFields is the persisted shape of one snapshot item.
type blockFields struct {
	Type     models.BlockType
	Text     string
	Level    int
	Language string
	Checked  bool
	Refs     []string
}

func fieldsOf(item snapshot.Item) blockFields {
	bt, _ := snapshot.BlockType(item.Kind())
	f := blockFields{Type: bt, Text: item.PlainText()}
	f.Refs = snapshot.ExtractRefs(f.Text)
	switch v := item.(type) {
	case snapshot.Heading:
		f.Level = v.Level
	case snapshot.Code:
		f.Language = v.Language
	case snapshot.Todo:
		f.Checked = v.Checked
	}
	return f
}

// BuildOperations diffs the snapshot against the known block set of a page
// and returns the operations to enqueue. The known set must be the page's
// complete block list (nested blocks included); ordering is irrelevant.
func (d *Differ) BuildOperations(page *models.Page, known []*models.Block, items []snapshot.Item, userID models.UserID) []store.Operation {
	var ops []store.Operation

	// Roots are containers, never leaves. A root still carrying a legacy
	// content payload gets it stripped on every touch.
	if page.Content != "" {
		ops = append(ops, store.NewRootUpdate(page.ID, &models.BlockPatch{ClearContent: true}))
	}

	// A cleared document short-circuits to one fan-out delete.
	if isEmptySnapshot(items) {
		d.cache.Clear(page.ID)
		if len(known) > 0 {
			ops = append(ops, store.NewDeleteAll(page.ID))
		}
		return ops
	}

	byParent := make(map[string][]*models.Block)
	for _, b := range known {
		key := ""
		if b.ParentID != nil {
			key = b.ParentID.String()
		}
		byParent[key] = append(byParent[key], b)
	}

	ops = append(ops, d.diffScope(page, nil, items, byParent, userID, true)...)
	return ops
}

// diffScope differences one sibling scope: the page's top level
// (parentID nil, identity cache active) or the children of a list block
// (positional matching only).
func (d *Differ) diffScope(page *models.Page, parentID *models.BlockID, items []snapshot.Item, byParent map[string][]*models.Block, userID models.UserID, useCache bool) []store.Operation {
	scopeKey := ""
	if parentID != nil {
		scopeKey = parentID.String()
	}
	scope := byParent[scopeKey]
	touched := make(map[string]bool)

	var ops []store.Operation
	for i, item := range items {
		want := fieldsOf(item)
		ord := float64(i)

		var target *models.Block
		if useCache {
			if id, ok := d.cache.Get(page.ID, i); ok {
				target = findByID(scope, id, touched)
				if target == nil {
					// Stale entry, e.g. after an external reload. Drop the
					// page's cache and re-learn positions as the pass runs.
					d.log.Debug().Stringer("page_id", page.ID).Int("position", i).Msg("stale identity cache entry")
					d.cache.Clear(page.ID)
				}
			}
		}

		switch {
		case target != nil:
			// Cache hit: always target the cached ID, even across a type
			// change at this slot.
			if patch := diffFields(target, want, ord); !patch.IsEmpty() {
				ops = append(ops, store.NewUpdate(page.ID, target.ID, patch))
			}
			touched[target.ID.String()] = true

		default:
			occupant := findByOrder(scope, ord, touched)
			if occupant != nil && occupant.Type == want.Type {
				if patch := diffFields(occupant, want, ord); !patch.IsEmpty() {
					ops = append(ops, store.NewUpdate(page.ID, occupant.ID, patch))
				}
				touched[occupant.ID.String()] = true
				if useCache {
					d.cache.Set(page.ID, i, occupant.ID)
				}
				target = occupant
				break
			}

			if occupant != nil {
				// Different type claims this slot: it must go before
				// anything else lays claim to the order key.
				ops = append(ops, d.deleteSubtree(page, occupant, byParent, touched)...)

				// Same type and content elsewhere signals a move, not a
				// create/delete pair.
				if moved := findMove(scope, touched, want); moved != nil {
					patch := &models.BlockPatch{Order: &ord}
					ops = append(ops, store.NewUpdate(page.ID, moved.ID, patch))
					touched[moved.ID.String()] = true
					if useCache {
						d.cache.Set(page.ID, i, moved.ID)
					}
					target = moved
					break
				}
			}

			draft := &models.Block{
				ID:            d.newBlockID(),
				WorkspaceID:   page.WorkspaceID,
				PageID:        page.ID,
				ParentID:      parentID,
				Type:          want.Type,
				Text:          want.Text,
				Level:         want.Level,
				Language:      want.Language,
				Checked:       want.Checked,
				Order:         ord,
				Refs:          want.Refs,
				CreatedBy:     userID,
				SchemaVersion: models.CurrentSchemaVersion,
			}
			ops = append(ops, store.NewCreate(draft))
			touched[draft.ID.String()] = true
			if useCache {
				d.cache.Set(page.ID, i, draft.ID)
			}
			target = draft
		}

		// Nested lists hang off their containing list block and are
		// differenced recursively as a sibling scope of their own.
		if childDocs := snapshot.ListChildren(item); childDocs != nil {
			var nested []snapshot.Item
			for _, doc := range childDocs {
				nested = append(nested, doc...)
			}
			if len(nested) > 0 || len(byParent[target.ID.String()]) > 0 {
				ops = append(ops, d.diffScope(page, &target.ID, nested, byParent, userID, false)...)
			}
		}
	}

	// Sweep: whatever this scope still holds unmatched is gone from the
	// snapshot.
	for _, b := range scope {
		if !touched[b.ID.String()] {
			ops = append(ops, d.deleteSubtree(page, b, byParent, touched)...)
		}
	}
	return ops
}

// deleteSubtree deletes a block and every descendant nested under it.
func (d *Differ) deleteSubtree(page *models.Page, b *models.Block, byParent map[string][]*models.Block, touched map[string]bool) []store.Operation {
	ops := []store.Operation{store.NewDelete(page.ID, b.ID)}
	touched[b.ID.String()] = true
	for _, child := range byParent[b.ID.String()] {
		if touched[child.ID.String()] {
			continue
		}
		ops = append(ops, d.deleteSubtree(page, child, byParent, touched)...)
	}
	return ops
}

func diffFields(b *models.Block, want blockFields, ord float64) *models.BlockPatch {
	patch := &models.BlockPatch{}
	if b.Type != want.Type {
		t := want.Type
		patch.Type = &t
	}
	if b.Text != want.Text {
		t := want.Text
		patch.Text = &t
	}
	if b.Level != want.Level {
		l := want.Level
		patch.Level = &l
	}
	if b.Language != want.Language {
		l := want.Language
		patch.Language = &l
	}
	if b.Checked != want.Checked {
		c := want.Checked
		patch.Checked = &c
	}
	if math.Abs(b.Order-ord) > orderTolerance {
		o := ord
		patch.Order = &o
	}
	if !equalRefs(b.Refs, want.Refs) {
		r := append([]string(nil), want.Refs...)
		patch.Refs = &r
	}
	if patch.IsEmpty() {
		return nil
	}
	return patch
}

func isEmptySnapshot(items []snapshot.Item) bool {
	if len(items) == 0 {
		return true
	}
	return len(items) == 1 && snapshot.IsEmptyLeaf(items[0])
}

func findByID(scope []*models.Block, id models.BlockID, touched map[string]bool) *models.Block {
	for _, b := range scope {
		if b.ID == id && !touched[b.ID.String()] {
			return b
		}
	}
	return nil
}

func findByOrder(scope []*models.Block, ord float64, touched map[string]bool) *models.Block {
	for _, b := range scope {
		if touched[b.ID.String()] {
			continue
		}
		if math.Abs(b.Order-ord) <= orderTolerance {
			return b
		}
	}
	return nil
}

func findMove(scope []*models.Block, touched map[string]bool, want blockFields) *models.Block {
	for _, b := range scope {
		if touched[b.ID.String()] {
			continue
		}
		if b.Type == want.Type && b.Text == want.Text {
			return b
		}
	}
	return nil
}

func equalRefs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Package models defines the persisted domain types of daybook: workspaces,
// document roots (pages and daily notes), content blocks, and the typed
// identifiers that address them across every store backend.
package models

import (
	"time"
)

// BlockType classifies a content block. The editor deals in rich nodes; the
// sync engine only sees the block-level type plus a plain-text payload.
type BlockType string

const (
	BlockTypeParagraph     BlockType = "paragraph"
	BlockTypeHeading       BlockType = "heading"
	BlockTypeBulletGroup   BlockType = "bullet_group"
	BlockTypeNumberedGroup BlockType = "numbered_group"
	BlockTypeQuote         BlockType = "quote"
	BlockTypeCode          BlockType = "code"
	BlockTypeTodo          BlockType = "todo"
)

// PageKind distinguishes ordinary pages from calendar-bound daily notes.
type PageKind string

const (
	PageKindPage  PageKind = "page"
	PageKindDaily PageKind = "daily"
)

// CurrentSchemaVersion tags newly written blocks for forward migrations.
const CurrentSchemaVersion = 1

// Block is a persisted unit of document content.
//
// A block belongs to exactly one page. ParentID is nil for blocks sitting
// directly under the page root and set for nested blocks (a nested list
// hangs off its containing list block). Order is a real-number sibling sort
// key; fractional values are legal so an insert never renumbers siblings,
// but no two siblings may share a value.
type Block struct {
	ID          BlockID     `gorm:"primaryKey" json:"id"`
	WorkspaceID WorkspaceID `gorm:"index;not null" json:"workspace_id"`
	PageID      PageID      `gorm:"index;not null" json:"page_id"`
	ParentID    *BlockID    `gorm:"index" json:"parent_id,omitempty"`
	Type        BlockType   `gorm:"not null" json:"type"`

	// Text is the plain-text payload for leaf blocks. Bullet and numbered
	// groups store their items newline-joined; list items are not separately
	// addressable blocks.
	Text string `json:"text,omitempty"`

	// Level is the heading depth (1-3); zero for non-headings.
	Level int `json:"level,omitempty"`

	// Language is the syntax hint for code blocks.
	Language string `json:"language,omitempty"`

	// Checked is the completion state for todo blocks.
	Checked bool `json:"checked,omitempty"`

	Order float64 `gorm:"not null" json:"order"`

	// Refs holds outgoing [[link]] targets, denormalized so backlink
	// queries never have to parse text.
	Refs []string `gorm:"serializer:json" json:"refs,omitempty"`

	CreatedBy     UserID    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	SchemaVersion int       `json:"schema_version"`
}

// Page is a document root: an ordinary page or a daily note. Roots are
// containers only; the legacy Content field is a remnant of the era when a
// whole document was stored as one JSON blob on the root, and the sync
// engine strips it whenever it touches a root that still carries one.
type Page struct {
	ID          PageID      `gorm:"primaryKey" json:"id"`
	WorkspaceID WorkspaceID `gorm:"index;not null" json:"workspace_id"`
	Title       string      `gorm:"not null" json:"title"`
	Kind        PageKind    `gorm:"not null" json:"kind"`

	// Date is set for daily notes, formatted YYYY-MM-DD.
	Date string `gorm:"index" json:"date,omitempty"`

	// Content is legacy whole-document JSON. Invalid state when the page
	// has child blocks; see BlockPatch.ClearContent.
	Content string `json:"content,omitempty"`

	CreatedBy UserID    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Workspace is the top-level container. Daybook runs authentication-free:
// a single default workspace is bootstrapped on startup.
type Workspace struct {
	ID        WorkspaceID `gorm:"primaryKey" json:"id"`
	Name      string      `gorm:"not null" json:"name"`
	OwnerID   UserID      `json:"owner_id"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// User is the acting identity stamped onto blocks as CreatedBy.
type User struct {
	ID        UserID    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BlockPatch is a partial field patch carried by an update operation. Nil
// fields are left untouched by the store.
type BlockPatch struct {
	Type     *BlockType `json:"type,omitempty"`
	Text     *string    `json:"text,omitempty"`
	Level    *int       `json:"level,omitempty"`
	Language *string    `json:"language,omitempty"`
	Checked  *bool      `json:"checked,omitempty"`
	Order    *float64   `json:"order,omitempty"`
	Refs     *[]string  `json:"refs,omitempty"`

	// ClearContent removes the legacy content payload from a document
	// root. Only meaningful on root-targeted updates.
	ClearContent bool `json:"clear_content,omitempty"`
}

// IsEmpty reports whether the patch would change nothing.
func (p *BlockPatch) IsEmpty() bool {
	if p == nil {
		return true
	}
	return p.Type == nil && p.Text == nil && p.Level == nil &&
		p.Language == nil && p.Checked == nil && p.Order == nil &&
		p.Refs == nil && !p.ClearContent
}

// Apply merges the patch into a block in place.
func (p *BlockPatch) Apply(b *Block) {
	if p == nil {
		return
	}
	if p.Type != nil {
		b.Type = *p.Type
	}
	if p.Text != nil {
		b.Text = *p.Text
	}
	if p.Level != nil {
		b.Level = *p.Level
	}
	if p.Language != nil {
		b.Language = *p.Language
	}
	if p.Checked != nil {
		b.Checked = *p.Checked
	}
	if p.Order != nil {
		b.Order = *p.Order
	}
	if p.Refs != nil {
		b.Refs = append([]string(nil), (*p.Refs)...)
	}
}

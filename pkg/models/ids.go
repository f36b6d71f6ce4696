package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	surrealdb_models "github.com/surrealdb/surrealdb.go/pkg/models"
)

// ID prefixes. Every identifier in the system is an opaque string of the
// form <prefix><random-suffix>. The prefix makes block IDs and document
// root IDs distinguishable on sight and guarantees the two namespaces
// never collide.
const (
	blockIDPrefix     = "blk_"
	pageIDPrefix      = "pag_"
	workspaceIDPrefix = "wks_"
	userIDPrefix      = "usr_"

	idSuffixLen = 20
)

// newIDSuffix returns a random lower-hex suffix. The entropy source is a
// v4 UUID, truncated; 80 bits is plenty for uniqueness within a workspace.
func newIDSuffix() string {
	u := uuid.New()
	hex := strings.ReplaceAll(u.String(), "-", "")
	return hex[:idSuffixLen]
}

func parsePrefixed(s, prefix, what string) (string, error) {
	if !strings.HasPrefix(s, prefix) || len(s) <= len(prefix) {
		return "", fmt.Errorf("invalid %s ID %q: want prefix %q", what, s, prefix)
	}
	return s, nil
}

// unmarshalCBORRecordID decodes a SurrealDB RecordID (CBOR tag 8, encoded
// as [table, id]) into the raw ID string. A bare CBOR string is accepted
// too so that IDs survive round trips through plain documents.
func unmarshalCBORRecordID(data []byte, expectedTable string, target *string) error {
	if len(data) == 0 {
		return fmt.Errorf("empty CBOR data")
	}
	if data[0]>>5 == 6 {
		var tag cbor.Tag
		if err := cbor.Unmarshal(data, &tag); err != nil {
			return fmt.Errorf("failed to unmarshal CBOR tag: %w", err)
		}
		if tag.Number != 8 {
			return fmt.Errorf("expected RecordID tag (8), got %d", tag.Number)
		}
		arr, ok := tag.Content.([]any)
		if !ok || len(arr) != 2 {
			return fmt.Errorf("invalid RecordID format: expected [table, id] array")
		}
		table, ok := arr[0].(string)
		if !ok {
			return fmt.Errorf("invalid RecordID format: table name must be string")
		}
		if table != expectedTable {
			return fmt.Errorf("expected table %s, got %s", expectedTable, table)
		}
		id, ok := arr[1].(string)
		if !ok {
			return fmt.Errorf("invalid RecordID format: ID must be string")
		}
		*target = id
		return nil
	}
	var s string
	if err := cbor.Unmarshal(data, &s); err != nil {
		return err
	}
	*target = s
	return nil
}

func scanStringID(value any, target *string) error {
	if value == nil {
		*target = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*target = v
	case []byte:
		*target = string(v)
	default:
		return fmt.Errorf("cannot scan type %T into ID", value)
	}
	return nil
}

// BlockID is a typed ID for content blocks.
type BlockID struct {
	id string
}

func NewBlockID() BlockID {
	return BlockID{id: blockIDPrefix + newIDSuffix()}
}

func ParseBlockID(s string) (BlockID, error) {
	id, err := parsePrefixed(s, blockIDPrefix, "block")
	if err != nil {
		return BlockID{}, err
	}
	return BlockID{id: id}, nil
}

func (b BlockID) String() string { return b.id }
func (b BlockID) IsZero() bool   { return b.id == "" }

func (b BlockID) RecordID() surrealdb_models.RecordID {
	return surrealdb_models.RecordID{Table: "blocks", ID: b.id}
}

func (b BlockID) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.id)
}

func (b *BlockID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		b.id = ""
		return nil
	}
	id, err := ParseBlockID(s)
	if err != nil {
		return err
	}
	*b = id
	return nil
}

func (b BlockID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{
		Number:  8,
		Content: []any{"blocks", b.id},
	})
}

func (b *BlockID) UnmarshalCBOR(data []byte) error {
	return unmarshalCBORRecordID(data, "blocks", &b.id)
}

func (b BlockID) Value() (driver.Value, error) {
	if b.IsZero() {
		return nil, nil
	}
	return b.id, nil
}

func (b *BlockID) Scan(value any) error {
	return scanStringID(value, &b.id)
}

func (BlockID) GormDataType() string { return "text" }

// PageID is a typed ID for document roots (pages and daily notes).
type PageID struct {
	id string
}

func NewPageID() PageID {
	return PageID{id: pageIDPrefix + newIDSuffix()}
}

func ParsePageID(s string) (PageID, error) {
	id, err := parsePrefixed(s, pageIDPrefix, "page")
	if err != nil {
		return PageID{}, err
	}
	return PageID{id: id}, nil
}

func (p PageID) String() string { return p.id }
func (p PageID) IsZero() bool   { return p.id == "" }

func (p PageID) RecordID() surrealdb_models.RecordID {
	return surrealdb_models.RecordID{Table: "pages", ID: p.id}
}

func (p PageID) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.id)
}

func (p *PageID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		p.id = ""
		return nil
	}
	id, err := ParsePageID(s)
	if err != nil {
		return err
	}
	*p = id
	return nil
}

func (p PageID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{
		Number:  8,
		Content: []any{"pages", p.id},
	})
}

func (p *PageID) UnmarshalCBOR(data []byte) error {
	return unmarshalCBORRecordID(data, "pages", &p.id)
}

func (p PageID) Value() (driver.Value, error) {
	if p.IsZero() {
		return nil, nil
	}
	return p.id, nil
}

func (p *PageID) Scan(value any) error {
	return scanStringID(value, &p.id)
}

func (PageID) GormDataType() string { return "text" }

// WorkspaceID is a typed ID for workspaces.
type WorkspaceID struct {
	id string
}

func NewWorkspaceID() WorkspaceID {
	return WorkspaceID{id: workspaceIDPrefix + newIDSuffix()}
}

func ParseWorkspaceID(s string) (WorkspaceID, error) {
	id, err := parsePrefixed(s, workspaceIDPrefix, "workspace")
	if err != nil {
		return WorkspaceID{}, err
	}
	return WorkspaceID{id: id}, nil
}

func (w WorkspaceID) String() string { return w.id }
func (w WorkspaceID) IsZero() bool   { return w.id == "" }

func (w WorkspaceID) RecordID() surrealdb_models.RecordID {
	return surrealdb_models.RecordID{Table: "workspaces", ID: w.id}
}

func (w WorkspaceID) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.id)
}

func (w *WorkspaceID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		w.id = ""
		return nil
	}
	id, err := ParseWorkspaceID(s)
	if err != nil {
		return err
	}
	*w = id
	return nil
}

func (w WorkspaceID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{
		Number:  8,
		Content: []any{"workspaces", w.id},
	})
}

func (w *WorkspaceID) UnmarshalCBOR(data []byte) error {
	return unmarshalCBORRecordID(data, "workspaces", &w.id)
}

func (w WorkspaceID) Value() (driver.Value, error) {
	if w.IsZero() {
		return nil, nil
	}
	return w.id, nil
}

func (w *WorkspaceID) Scan(value any) error {
	return scanStringID(value, &w.id)
}

func (WorkspaceID) GormDataType() string { return "text" }

// UserID is a typed ID for user accounts.
type UserID struct {
	id string
}

func NewUserID() UserID {
	return UserID{id: userIDPrefix + newIDSuffix()}
}

func ParseUserID(s string) (UserID, error) {
	id, err := parsePrefixed(s, userIDPrefix, "user")
	if err != nil {
		return UserID{}, err
	}
	return UserID{id: id}, nil
}

func (u UserID) String() string { return u.id }
func (u UserID) IsZero() bool   { return u.id == "" }

func (u UserID) RecordID() surrealdb_models.RecordID {
	return surrealdb_models.RecordID{Table: "users", ID: u.id}
}

func (u UserID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.id)
}

func (u *UserID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		u.id = ""
		return nil
	}
	id, err := ParseUserID(s)
	if err != nil {
		return err
	}
	*u = id
	return nil
}

func (u UserID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{
		Number:  8,
		Content: []any{"users", u.id},
	})
}

func (u *UserID) UnmarshalCBOR(data []byte) error {
	return unmarshalCBORRecordID(data, "users", &u.id)
}

func (u UserID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return u.id, nil
}

func (u *UserID) Scan(value any) error {
	return scanStringID(value, &u.id)
}

func (UserID) GormDataType() string { return "text" }

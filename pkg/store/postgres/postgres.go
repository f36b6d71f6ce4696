// Package postgres implements the block store on PostgreSQL through GORM.
//
// Schema comes from AutoMigrate over the model structs; batch atomicity
// comes from wrapping each BatchWrite in one database transaction, so the
// relational backend gives the same all-or-nothing semantics as the
// document one.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/daybook-app/daybook/pkg/models"
	"github.com/daybook-app/daybook/pkg/store"
)

const maxBatchSize = 400

// orderColumn quotes the sort key; "order" is reserved in SQL.
const orderColumn = `"order" ASC`

// Store implements store.Store on PostgreSQL.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

func New(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return &Store{db: db}, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return err
}

func (s *Store) GetBlock(ctx context.Context, id models.BlockID) (*models.Block, error) {
	var block models.Block
	if err := s.db.WithContext(ctx).First(&block, "id = ?", id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("block %s", id))
	}
	return &block, nil
}

func (s *Store) ListBlocks(ctx context.Context, pageID models.PageID) ([]*models.Block, error) {
	blocks := []*models.Block{}
	err := s.db.WithContext(ctx).
		Where("page_id = ?", pageID).
		Order(orderColumn).
		Find(&blocks).Error
	return blocks, err
}

func (s *Store) ListChildren(ctx context.Context, parentID models.BlockID) ([]*models.Block, error) {
	blocks := []*models.Block{}
	err := s.db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order(orderColumn).
		Find(&blocks).Error
	return blocks, err
}

func (s *Store) QueryBlocksByType(ctx context.Context, workspaceID models.WorkspaceID, t models.BlockType) ([]*models.Block, error) {
	blocks := []*models.Block{}
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND type = ?", workspaceID, t).
		Order(orderColumn).
		Find(&blocks).Error
	return blocks, err
}

func (s *Store) ListBacklinks(ctx context.Context, target string) ([]*models.Block, error) {
	// Refs is stored as a JSON array column; containment via jsonb.
	blocks := []*models.Block{}
	err := s.db.WithContext(ctx).
		Where("refs::jsonb @> ?", fmt.Sprintf(`[%q]`, target)).
		Order(orderColumn).
		Find(&blocks).Error
	return blocks, err
}

// BatchWrite applies the batch inside one transaction.
func (s *Store) BatchWrite(ctx context.Context, ops []store.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	if len(ops) > maxBatchSize {
		return fmt.Errorf("%d operations: %w", len(ops), store.ErrBatchTooLarge)
	}
	now := time.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range ops {
			switch op.Kind {
			case store.OpCreate:
				if op.Block == nil {
					return fmt.Errorf("create without a block draft")
				}
				b := *op.Block
				b.CreatedAt = now
				b.UpdatedAt = now
				if err := tx.Create(&b).Error; err != nil {
					return fmt.Errorf("create block %s: %w", b.ID, err)
				}

			case store.OpUpdate:
				if op.Root {
					updates := map[string]any{"updated_at": now}
					if op.Patch != nil && op.Patch.ClearContent {
						updates["content"] = ""
					}
					res := tx.Model(&models.Page{}).Where("id = ?", op.PageID).Updates(updates)
					if res.Error != nil {
						return fmt.Errorf("update page %s: %w", op.PageID, res.Error)
					}
					if res.RowsAffected == 0 {
						return fmt.Errorf("update page %s: %w", op.PageID, store.ErrNotFound)
					}
					continue
				}
				res := tx.Model(&models.Block{}).Where("id = ?", op.BlockID).Updates(patchUpdates(op.Patch, now))
				if res.Error != nil {
					return fmt.Errorf("update block %s: %w", op.BlockID, res.Error)
				}
				if res.RowsAffected == 0 {
					return fmt.Errorf("update block %s: %w", op.BlockID, store.ErrNotFound)
				}

			case store.OpDelete:
				res := tx.Delete(&models.Block{}, "id = ?", op.BlockID)
				if res.Error != nil {
					return fmt.Errorf("delete block %s: %w", op.BlockID, res.Error)
				}
				if res.RowsAffected == 0 {
					return fmt.Errorf("delete block %s: %w", op.BlockID, store.ErrNotFound)
				}

			case store.OpDeleteAll:
				return fmt.Errorf("delete_all is not batchable; use DeleteChildren")

			default:
				return fmt.Errorf("unknown operation kind %q", op.Kind)
			}
		}
		return nil
	})
}

// patchUpdates converts a BlockPatch into a GORM updates map. Only set
// fields appear.
func patchUpdates(p *models.BlockPatch, now time.Time) map[string]any {
	updates := map[string]any{"updated_at": now}
	if p == nil {
		return updates
	}
	if p.Type != nil {
		updates["type"] = *p.Type
	}
	if p.Text != nil {
		updates["text"] = *p.Text
	}
	if p.Level != nil {
		updates["level"] = *p.Level
	}
	if p.Language != nil {
		updates["language"] = *p.Language
	}
	if p.Checked != nil {
		updates["checked"] = *p.Checked
	}
	if p.Order != nil {
		updates["order"] = *p.Order
	}
	if p.Refs != nil {
		// The refs column is JSON-serialized; map-based Updates bypass the
		// struct serializer, so encode here.
		encoded, err := json.Marshal(*p.Refs)
		if err == nil {
			updates["refs"] = string(encoded)
		}
	}
	return updates
}

func (s *Store) MaxBatchSize() int { return maxBatchSize }

func (s *Store) DeleteChildren(ctx context.Context, pageID models.PageID) error {
	return s.db.WithContext(ctx).Delete(&models.Block{}, "page_id = ?", pageID).Error
}

func (s *Store) CreatePage(ctx context.Context, page *models.Page) error {
	return s.db.WithContext(ctx).Create(page).Error
}

func (s *Store) GetPage(ctx context.Context, id models.PageID) (*models.Page, error) {
	var page models.Page
	if err := s.db.WithContext(ctx).First(&page, "id = ?", id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("page %s", id))
	}
	return &page, nil
}

func (s *Store) GetPageByDate(ctx context.Context, workspaceID models.WorkspaceID, date string) (*models.Page, error) {
	var page models.Page
	err := s.db.WithContext(ctx).
		First(&page, "workspace_id = ? AND kind = ? AND date = ?", workspaceID, models.PageKindDaily, date).Error
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("daily note %s", date))
	}
	return &page, nil
}

func (s *Store) UpdatePage(ctx context.Context, page *models.Page) error {
	return s.db.WithContext(ctx).Save(page).Error
}

func (s *Store) DeletePage(ctx context.Context, id models.PageID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.Block{}, "page_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Page{}, "id = ?", id).Error
	})
}

func (s *Store) ListPages(ctx context.Context, workspaceID models.WorkspaceID) ([]*models.Page, error) {
	pages := []*models.Page{}
	err := s.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at ASC").
		Find(&pages).Error
	return pages, err
}

func (s *Store) CreateWorkspace(ctx context.Context, workspace *models.Workspace) error {
	return s.db.WithContext(ctx).Create(workspace).Error
}

func (s *Store) GetWorkspaceByName(ctx context.Context, name string) (*models.Workspace, error) {
	var workspace models.Workspace
	if err := s.db.WithContext(ctx).First(&workspace, "name = ?", name).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("workspace %q", name))
	}
	return &workspace, nil
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

func (s *Store) GetUser(ctx context.Context, id models.UserID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("user %s", id))
	}
	return &user, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&models.User{},
		&models.Workspace{},
		&models.Page{},
		&models.Block{},
	)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

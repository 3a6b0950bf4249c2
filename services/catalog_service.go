package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nft-reward-system/database"
	"nft-reward-system/models"
)

// reserveAttempts bounds retries when a concurrent reservation claims the
// picked row between the pick and the update.
const reserveAttempts = 5

// CatalogService hands out catalog items to workflows. Every state change
// is a single conditional update.
type CatalogService struct {
	DB  *gorm.DB
	Now func() time.Time

	// beforeClaim runs between picking a row and claiming it.
	beforeClaim func(tx *gorm.DB, itemID string)
}

func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{DB: db, Now: func() time.Time { return time.Now().UTC() }}
}

// WithDB returns a copy bound to tx.
func (s *CatalogService) WithDB(tx *gorm.DB) *CatalogService {
	cp := *s
	cp.DB = tx
	return &cp
}

// Reserve moves one available item of the pool to reserved for workflowID.
// Calling it again for the same workflow returns the item it already holds.
func (s *CatalogService) Reserve(ctx context.Context, categoryID string, tier models.Tier, ultimate bool, workflowID string) (*models.CatalogItem, error) {
	db := s.DB.WithContext(ctx)

	if item, err := s.heldBy(db, workflowID); err == nil {
		return item, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("check existing reservation: %w", err)
	}

	pool := func(db *gorm.DB) *gorm.DB {
		return db.Model(&models.CatalogItem{}).
			Where("category_id = ? AND tier = ? AND ultimate = ? AND state = ?",
				categoryID, tier, ultimate, models.ReservationAvailable)
	}

	for attempt := 0; attempt < reserveAttempts; attempt++ {
		var claimed bool
		err := db.Transaction(func(tx *gorm.DB) error {
			pick := pool(tx).Order("created_at ASC, id ASC").Limit(1)
			if database.IsPostgres(tx) {
				pick = pick.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
			}
			var ids []string
			if err := pick.Pluck("id", &ids).Error; err != nil {
				return fmt.Errorf("pick catalog item: %w", err)
			}
			if len(ids) == 0 {
				return nil
			}
			if s.beforeClaim != nil {
				s.beforeClaim(tx, ids[0])
			}

			now := s.Now()
			res := tx.Model(&models.CatalogItem{}).
				Where("id = ? AND state = ?", ids[0], models.ReservationAvailable).
				Updates(map[string]any{
					"state":       models.ReservationReserved,
					"reserved_by": workflowID,
					"reserved_at": now,
					"updated_at":  now,
				})
			if res.Error != nil {
				return fmt.Errorf("reserve catalog item: %w", res.Error)
			}
			claimed = res.RowsAffected == 1
			return nil
		})
		if err != nil {
			return nil, err
		}
		if claimed {
			item, err := s.heldBy(db, workflowID)
			if err != nil {
				return nil, fmt.Errorf("load reserved item: %w", err)
			}
			log.Printf("[CATALOG] 🔒 reserved %s (%s/%s) for workflow %s", item.ID, categoryID, tier, workflowID)
			return item, nil
		}

		var available int64
		if err := pool(db).Count(&available).Error; err != nil {
			return nil, fmt.Errorf("count available items: %w", err)
		}
		if available == 0 {
			return nil, fmt.Errorf("%w for category %s (%s)", ErrNoStock, categoryID, tier)
		}
	}
	return nil, fmt.Errorf("reserve catalog item: pool %s/%s too contended after %d attempts", categoryID, tier, reserveAttempts)
}

func (s *CatalogService) heldBy(db *gorm.DB, workflowID string) (*models.CatalogItem, error) {
	var item models.CatalogItem
	err := db.Where("reserved_by = ? AND state = ?", workflowID, models.ReservationReserved).First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Release reverts reserved → available, only while workflowID still holds
// the item. It reports whether anything was released.
func (s *CatalogService) Release(ctx context.Context, itemID, workflowID string) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.CatalogItem{}).
		Where("id = ? AND state = ? AND reserved_by = ?", itemID, models.ReservationReserved, workflowID).
		Updates(map[string]any{
			"state":       models.ReservationAvailable,
			"reserved_by": "",
			"reserved_at": nil,
			"updated_at":  s.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("release catalog item %s: %w", itemID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseAll releases whatever workflowID still holds.
func (s *CatalogService) ReleaseAll(ctx context.Context, workflowID string) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.CatalogItem{}).
		Where("state = ? AND reserved_by = ?", models.ReservationReserved, workflowID).
		Updates(map[string]any{
			"state":       models.ReservationAvailable,
			"reserved_by": "",
			"reserved_at": nil,
			"updated_at":  s.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("release reservations of %s: %w", workflowID, res.Error)
	}
	if res.RowsAffected > 0 {
		log.Printf("[CATALOG] 🔓 released %d item(s) held by workflow %s", res.RowsAffected, workflowID)
	}
	return res.RowsAffected, nil
}

// MarkMinted moves reserved → minted. Re-running it for an item the same
// workflow already minted is a no-op.
func (s *CatalogService) MarkMinted(ctx context.Context, itemID, workflowID string, at time.Time) error {
	db := s.DB.WithContext(ctx)
	res := db.Model(&models.CatalogItem{}).
		Where("id = ? AND state = ? AND reserved_by = ?", itemID, models.ReservationReserved, workflowID).
		Updates(map[string]any{
			"state":      models.ReservationMinted,
			"minted_at":  at,
			"updated_at": at,
		})
	if res.Error != nil {
		return fmt.Errorf("mark item %s minted: %w", itemID, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var item models.CatalogItem
	if err := db.First(&item, "id = ?", itemID).Error; err != nil {
		return fmt.Errorf("load item %s: %w", itemID, err)
	}
	if item.State == models.ReservationMinted && item.ReservedBy == workflowID {
		return nil
	}
	return fmt.Errorf("%w: item %s is %s", ErrReservationLost, itemID, item.State)
}

// NewCatalogItem is one row of a catalog import.
type NewCatalogItem struct {
	CategoryID string      `json:"category_id"`
	Tier       models.Tier `json:"tier"`
	Ultimate   bool        `json:"ultimate"`
	TokenID    string      `json:"token_id"`
	Name       string      `json:"name"`
}

// CreateItems inserts available items. Token ids already present are skipped.
func (s *CatalogService) CreateItems(ctx context.Context, items []NewCatalogItem) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	rows := make([]models.CatalogItem, 0, len(items))
	for i, it := range items {
		if it.CategoryID == "" || it.TokenID == "" {
			return 0, fmt.Errorf("item %d: category_id and token_id are required", i)
		}
		tier := it.Tier
		if tier == "" {
			tier = models.TierCategory
		}
		switch tier {
		case models.TierCategory, models.TierMaster, models.TierSeasonalUltimate:
		default:
			return 0, fmt.Errorf("item %d: unknown tier %q", i, it.Tier)
		}
		rows = append(rows, models.CatalogItem{
			ID:         uuid.NewString(),
			CategoryID: it.CategoryID,
			Tier:       tier,
			Ultimate:   it.Ultimate,
			State:      models.ReservationAvailable,
			TokenID:    it.TokenID,
			Name:       it.Name,
		})
	}
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "token_id"}}, DoNothing: true}).
		Create(&rows)
	if res.Error != nil {
		return 0, fmt.Errorf("create catalog items: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// StockCount is the number of available items in one pool.
type StockCount struct {
	CategoryID string      `json:"category_id"`
	Tier       models.Tier `json:"tier"`
	Ultimate   bool        `json:"ultimate"`
	Available  int64       `json:"available"`
}

func (s *CatalogService) Stock(ctx context.Context) ([]StockCount, error) {
	var out []StockCount
	err := s.DB.WithContext(ctx).Model(&models.CatalogItem{}).
		Select("category_id, tier, ultimate, COUNT(*) AS available").
		Where("state = ?", models.ReservationAvailable).
		Group("category_id, tier, ultimate").
		Order("category_id, tier, ultimate").
		Scan(&out).Error
	return out, err
}

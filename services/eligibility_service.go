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

	"nft-reward-system/models"
)

// NewEligibility is sent by the gameplay service on a qualifying outcome.
// ID is optional; when set, re-sending the same eligibility is a no-op.
type NewEligibility struct {
	ID         string    `json:"id,omitempty"`
	PlayerID   string    `json:"player_id"`
	CategoryID string    `json:"category_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type EligibilityService struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewEligibilityService(db *gorm.DB) *EligibilityService {
	return &EligibilityService{DB: db, Now: func() time.Time { return time.Now().UTC() }}
}

func (s *EligibilityService) Create(ctx context.Context, in NewEligibility) (*models.Eligibility, error) {
	if in.PlayerID == "" || in.CategoryID == "" {
		return nil, errors.New("player_id and category_id are required")
	}
	if !in.ExpiresAt.After(s.Now()) {
		return nil, errors.New("expires_at must be in the future")
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}

	e := models.Eligibility{
		ID:         id,
		PlayerID:   in.PlayerID,
		CategoryID: in.CategoryID,
		Status:     models.EligibilityActive,
		ExpiresAt:  in.ExpiresAt.UTC(),
	}
	db := s.DB.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&e).Error; err != nil {
		return nil, fmt.Errorf("create eligibility: %w", err)
	}

	var stored models.Eligibility
	if err := db.First(&stored, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("load eligibility: %w", err)
	}
	if stored.PlayerID != in.PlayerID || stored.CategoryID != in.CategoryID {
		return nil, fmt.Errorf("eligibility %s already exists with different contents", id)
	}
	return &stored, nil
}

func (s *EligibilityService) Get(ctx context.Context, id string) (*models.Eligibility, error) {
	var e models.Eligibility
	if err := s.DB.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEligibilityNotFound
		}
		return nil, err
	}
	return &e, nil
}

// ExpireStale marks active, past-expiry eligibilities expired. Eligibilities
// held by a running mint are left alone; that mint decides their fate.
func (s *EligibilityService) ExpireStale(ctx context.Context) (int64, error) {
	db := s.DB.WithContext(ctx)
	running := db.Model(&models.WorkflowInstance{}).
		Select("subject_id").
		Where("type = ? AND status = ?", models.WorkflowMint, models.WorkflowRunning)

	now := s.Now()
	res := db.Model(&models.Eligibility{}).
		Where("status = ? AND expires_at <= ? AND id NOT IN (?)", models.EligibilityActive, now, running).
		Updates(map[string]any{"status": models.EligibilityExpired, "updated_at": now})
	if res.Error != nil {
		return 0, fmt.Errorf("expire eligibilities: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.Printf("[Scheduler] ⏰ expired %d eligibility(ies)", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

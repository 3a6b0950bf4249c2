package models

import (
	"time"

	"gorm.io/datatypes"
)

type ForgeType string

const (
	ForgeCategory ForgeType = "category"
	ForgeMaster   ForgeType = "master"
	ForgeSeasonal ForgeType = "seasonal"
)

// OutputTier is the tier of the ultimate-pool item a forge type produces.
func (f ForgeType) OutputTier() (Tier, bool) {
	switch f {
	case ForgeCategory:
		return TierCategory, true
	case ForgeMaster:
		return TierMaster, true
	case ForgeSeasonal:
		return TierSeasonalUltimate, true
	}
	return "", false
}

type ForgeRequestStatus string

const (
	ForgeRequestPending   ForgeRequestStatus = "pending"
	ForgeRequestCompleted ForgeRequestStatus = "completed"
	ForgeRequestFailed    ForgeRequestStatus = "failed"
)

// ForgeRequest is the fixed input of a forge workflow. InputAssetIDs never
// change after creation.
type ForgeRequest struct {
	ID               string                      `gorm:"primaryKey;type:varchar(64)" json:"id"`
	PlayerID         string                      `gorm:"type:varchar(64);not null;index" json:"player_id"`
	ForgeType        ForgeType                   `gorm:"type:varchar(16);not null" json:"forge_type"`
	InputAssetIDs    datatypes.JSONSlice[string] `gorm:"not null" json:"input_asset_ids"`
	TargetCategoryID string                      `gorm:"type:varchar(64);not null" json:"target_category_id"`
	SeasonID         string                      `gorm:"type:varchar(64)" json:"season_id,omitempty"`
	Status           ForgeRequestStatus          `gorm:"type:varchar(16);not null;default:'pending'" json:"status"`
	OutputAssetID    string                      `gorm:"type:varchar(64)" json:"output_asset_id,omitempty"`
	CompletedAt      *time.Time                  `json:"completed_at,omitempty"`
	CreatedAt        time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

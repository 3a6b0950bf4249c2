package models

import "time"

// Tier of a collectible. Mints hand out category items; forges hand out
// master and seasonal-ultimate items from the ultimate pool.
type Tier string

const (
	TierCategory         Tier = "category"
	TierMaster           Tier = "master"
	TierSeasonalUltimate Tier = "seasonal-ultimate"
)

// ReservationState of a catalog row. available → reserved → minted, with
// reserved → available only through a matching release.
type ReservationState string

const (
	ReservationAvailable ReservationState = "available"
	ReservationReserved  ReservationState = "reserved"
	ReservationMinted    ReservationState = "minted"
)

// CatalogItem is a pre-generated, not-yet-minted collectible.
type CatalogItem struct {
	ID         string           `gorm:"primaryKey;type:varchar(64)" json:"id"`
	CategoryID string           `gorm:"type:varchar(64);not null;index:idx_catalog_pick,priority:1" json:"category_id"`
	Tier       Tier             `gorm:"type:varchar(32);not null;index:idx_catalog_pick,priority:2" json:"tier"`
	Ultimate   bool             `gorm:"not null;default:false;index:idx_catalog_pick,priority:3" json:"ultimate"`
	State      ReservationState `gorm:"type:varchar(16);not null;default:'available';index:idx_catalog_pick,priority:4" json:"state"`
	TokenID    string           `gorm:"type:varchar(128);not null;uniqueIndex" json:"token_id"`
	Name       string           `json:"name"`
	ReservedBy string           `gorm:"type:varchar(64);index" json:"-"`
	ReservedAt *time.Time       `json:"-"`
	MintedAt   *time.Time       `json:"minted_at,omitempty"`
	CreatedAt  time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

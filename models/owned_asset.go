package models

import "time"

// BurnState of an owned asset. owned → burn-pending → burned, never back.
type BurnState string

const (
	BurnOwned   BurnState = "owned"
	BurnPending BurnState = "burn-pending"
	BurnBurned  BurnState = "burned"
)

// OwnedAsset is a collectible confirmed on-chain and attributed to a player.
type OwnedAsset struct {
	ID             string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	OwnerPlayerID  string     `gorm:"type:varchar(64);not null;index" json:"owner_player_id"`
	CategoryID     string     `gorm:"type:varchar(64);not null" json:"category_id"`
	Tier           Tier       `gorm:"type:varchar(32);not null" json:"tier"`
	Fingerprint    string     `gorm:"type:varchar(128);not null;index" json:"fingerprint"` // on-chain token id
	CatalogItemID  string     `gorm:"type:varchar(64)" json:"-"`
	MintTxHash     string     `gorm:"type:varchar(128)" json:"mint_tx_hash,omitempty"`
	BurnState      BurnState  `gorm:"type:varchar(16);not null;default:'owned';index" json:"burn_state"`
	BurnTxHash     string     `gorm:"type:varchar(128)" json:"burn_tx_hash,omitempty"`
	BurnedAt       *time.Time `json:"burned_at,omitempty"`
	ForgeRequestID string     `gorm:"type:varchar(64);index" json:"-"`

	// OriginRef is "eligibility:<id>" or "forge:<id>" for assets issued here.
	// Unique, so a re-run finalize can never create a second asset.
	OriginRef *string `gorm:"type:varchar(128);uniqueIndex" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// EligibilityOrigin is the OriginRef of an asset minted for an eligibility.
func EligibilityOrigin(eligibilityID string) string { return "eligibility:" + eligibilityID }

// ForgeOrigin is the OriginRef of an asset produced by a forge request.
func ForgeOrigin(forgeRequestID string) string { return "forge:" + forgeRequestID }

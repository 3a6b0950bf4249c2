// models/wallet_mirror.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// WalletMirror mirrors player wallet data from the wallet sync service.
// Mint and forge outputs are delivered to the player's active address.
// Table name: wallet_mirrors
type WalletMirror struct {
	ID        string    `gorm:"primaryKey;type:varchar(64);not null" json:"id"`
	UserID    string    `gorm:"type:varchar(64);not null;index" json:"user_id"` // External player ID
	Chain     string    `gorm:"type:varchar(64);not null;index" json:"chain"`
	Address   string    `gorm:"type:varchar(128);not null;uniqueIndex" json:"address"` // Primary lookup key
	IsActive  bool      `gorm:"not null" json:"is_active"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`

	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

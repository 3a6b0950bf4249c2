// models/eligibility.go
package models

import "time"

// EligibilityStatus tracks the lifecycle of a mint right.
type EligibilityStatus string

const (
	EligibilityActive  EligibilityStatus = "active"
	EligibilityUsed    EligibilityStatus = "used"
	EligibilityExpired EligibilityStatus = "expired"
)

// Eligibility is a time-boxed right for a player to mint one item of a category.
// Created by the gameplay service on a perfect score.
type Eligibility struct {
	ID         string            `gorm:"primaryKey;type:varchar(64)" json:"id"`
	PlayerID   string            `gorm:"type:varchar(64);not null;index" json:"player_id"`
	CategoryID string            `gorm:"type:varchar(64);not null;index" json:"category_id"`
	Status     EligibilityStatus `gorm:"type:varchar(16);not null;default:'active';index" json:"status"`
	ExpiresAt  time.Time         `gorm:"not null;index" json:"expires_at"`
	UsedAt     *time.Time        `json:"used_at,omitempty"`
	CreatedAt  time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsRedeemable reports whether the eligibility can still back a mint at t.
func (e *Eligibility) IsRedeemable(t time.Time) bool {
	return e.Status == EligibilityActive && t.Before(e.ExpiresAt)
}

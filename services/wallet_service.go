package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"nft-reward-system/models"
)

// WalletService resolves delivery addresses from the wallet mirror.
type WalletService struct {
	DB *gorm.DB
}

func NewWalletService(db *gorm.DB) *WalletService {
	return &WalletService{DB: db}
}

// AddressFor returns the player's most recently updated active address.
func (s *WalletService) AddressFor(ctx context.Context, playerID string) (string, error) {
	var wallet models.WalletMirror
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", playerID, true).
		Order("updated_at DESC").
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNoWallet, playerID)
		}
		return "", fmt.Errorf("look up wallet for %s: %w", playerID, err)
	}
	return wallet.Address, nil
}

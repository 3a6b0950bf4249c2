package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nft-reward-system/models"
	"nft-reward-system/utils"
)

// WalletSyncClient mirrors player wallets from the wallet sync service so
// workflows can resolve delivery addresses locally.
type WalletSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewWalletSyncClient(db *gorm.DB, baseURL, token string) *WalletSyncClient {
	return &WalletSyncClient{
		BaseURL:    baseURL,
		Token:      token,
		DB:         db,
		HTTPClient: utils.HTTPClient,
	}
}

func (c *WalletSyncClient) GetChangedWallets(ctx context.Context, since time.Time) ([]models.WalletMirror, error) {
	since = since.UTC()

	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/wallets", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	q := u.Query()
	q.Set("since", since.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call sync service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Wallets []models.WalletMirror `json:"wallets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode sync service response: %w", err)
	}
	return response.Wallets, nil
}

// SyncOnce pulls changes since the given time and upserts them by address.
func (c *WalletSyncClient) SyncOnce(ctx context.Context, since time.Time) (int, error) {
	wallets, err := c.GetChangedWallets(ctx, since)
	if err != nil {
		return 0, err
	}
	if len(wallets) == 0 {
		return 0, nil
	}

	err = c.DB.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "address"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_id",
				"chain",
				"is_active",
				"updated_at",
			}),
		},
	).Create(&wallets).Error
	if err != nil {
		return 0, fmt.Errorf("failed to upsert %d wallet(s): %w", len(wallets), err)
	}
	return len(wallets), nil
}

// PollWallets keeps the mirror current until ctx is done.
func PollWallets(ctx context.Context, client *WalletSyncClient, pollInterval time.Duration) {
	log.Println("[WALLET_SYNC] Starting wallet polling (DB-backed)...")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[WALLET_SYNC] Wallet polling stopped.")
			return
		case <-ticker.C:
			started := time.Now().UTC()
			n, err := client.SyncOnce(ctx, lastSyncTime)
			if err != nil {
				// Keep lastSyncTime so the same window is retried.
				log.Printf("[WALLET_SYNC] ❌ %v", err)
				continue
			}
			lastSyncTime = started
			if n > 0 {
				log.Printf("[WALLET_SYNC] ✅ Upserted %d wallet(s) into wallet_mirrors.", n)
			}
		}
	}
}

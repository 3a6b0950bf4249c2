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
	"nft-reward-system/workflow"
)

const (
	StepValidateEligibility = "validate-eligibility"
	StepReserveItem         = "reserve-item"
	StepSubmitTransaction   = "submit-transaction"
	StepAwaitConfirmation   = "await-confirmation"
	StepFinalizeRecords     = "finalize-records"
)

// MintWorkflow turns an eligibility into a minted, player-owned asset.
type MintWorkflow struct {
	DB      *gorm.DB
	Catalog *CatalogService
	Wallets *WalletService
	Ledger  LedgerClient
}

func (m *MintWorkflow) Definition() workflow.Definition {
	return workflow.Definition{
		Type: models.WorkflowMint,
		Steps: []workflow.Step{
			{Name: StepValidateEligibility, Label: "Checking your eligibility", Run: m.validateEligibility},
			{Name: StepReserveItem, Label: "Reserving your item", Run: m.reserveItem},
			{Name: StepSubmitTransaction, Label: "Sending your item", Run: m.submitTransaction, PointOfNoReturn: true},
			{Name: StepAwaitConfirmation, Label: "Waiting for blockchain confirmation", Run: m.awaitConfirmation,
				Poll: &workflow.PollPolicy{}, Irreversible: true},
			{Name: StepFinalizeRecords, Label: "Adding the item to your collection", Run: m.finalizeRecords},
		},
		Compensate: m.compensate,
	}
}

func (m *MintWorkflow) eligibility(ctx context.Context, id string) (*models.Eligibility, error) {
	var e models.Eligibility
	if err := m.DB.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, workflow.Terminal(models.FailureBusinessRule, ErrEligibilityNotFound)
		}
		return nil, workflow.Transient(fmt.Errorf("load eligibility: %w", err))
	}
	return &e, nil
}

func (m *MintWorkflow) validateEligibility(ctx context.Context, run *workflow.Run) (workflow.Result, error) {
	e, err := m.eligibility(ctx, run.SubjectID())
	if err != nil {
		return workflow.Result{}, err
	}
	if e.Status != models.EligibilityActive {
		return workflow.Result{}, workflow.Terminal(models.FailureBusinessRule,
			fmt.Errorf("this reward has already been %s", e.Status))
	}
	if stuck, err := workflow.NewStore(m.DB).FindUnresolved(ctx, models.WorkflowMint, e.ID, run.ID()); err == nil {
		return workflow.Result{}, workflow.Terminal(models.FailureBusinessRule,
			fmt.Errorf("an earlier claim of this reward (%s) is being reviewed by support", stuck.ID))
	} else if !errors.Is(err, workflow.ErrNotFound) {
		return workflow.Result{}, workflow.Transient(err)
	}
	if !e.IsRedeemable(run.Now()) {
		return workflow.Result{}, workflow.Terminal(models.FailureBusinessRule,
			errors.New("this reward expired before it could be claimed"))
	}

	address, err := m.Wallets.AddressFor(ctx, e.PlayerID)
	if err != nil {
		if errors.Is(err, ErrNoWallet) {
			return workflow.Result{}, workflow.Terminal(models.FailureBusinessRule,
				errors.New("connect a wallet to receive your item"))
		}
		return workflow.Result{}, workflow.Transient(err)
	}

	return workflow.Result{Output: map[string]string{
		"player_id":   e.PlayerID,
		"category_id": e.CategoryID,
		"address":     address,
	}}, nil
}

func (m *MintWorkflow) reserveItem(ctx context.Context, run *workflow.Run) (workflow.Result, error) {
	category := run.Output(StepValidateEligibility, "category_id")
	item, err := m.Catalog.Reserve(ctx, category, models.TierCategory, false, run.ID())
	if err != nil {
		if errors.Is(err, ErrNoStock) {
			return workflow.Result{}, workflow.Terminal(models.FailureBusinessRule,
				fmt.Errorf("no %s items are left to award right now", category))
		}
		return workflow.Result{}, workflow.Transient(err)
	}
	return workflow.Result{Output: map[string]string{
		"item_id":  item.ID,
		"token_id": item.TokenID,
	}}, nil
}

func (m *MintWorkflow) submitTransaction(ctx context.Context, run *workflow.Run) (workflow.Result, error) {
	hash, err := submitOnce(ctx, m.Ledger, TxIntent{
		IdempotencyKey: idempotencyKey(run.ID(), StepSubmitTransaction),
		Kind:           TxTransfer,
		ToAddress:      run.Output(StepValidateEligibility, "address"),
		TokenIDs:       []string{run.Output(StepReserveItem, "token_id")},
		Metadata: map[string]string{
			"workflow_id":    run.ID(),
			"eligibility_id": run.SubjectID(),
		},
	})
	if err != nil {
		return workflow.Result{}, err
	}
	log.Printf("[MINT] 📤 workflow %s submitted transfer %s", run.ID(), hash)
	return workflow.Result{ExternalRef: hash}, nil
}

func (m *MintWorkflow) awaitConfirmation(ctx context.Context, run *workflow.Run) (workflow.Result, error) {
	hash := run.ExternalRef(StepSubmitTransaction)
	if err := awaitConfirmation(ctx, m.Ledger, hash); err != nil {
		return workflow.Result{}, err
	}
	return workflow.Result{ExternalRef: hash}, nil
}

func (m *MintWorkflow) finalizeRecords(_ context.Context, run *workflow.Run) (workflow.Result, error) {
	f := MintFinalization{
		WorkflowID:    run.ID(),
		EligibilityID: run.SubjectID(),
		PlayerID:      run.Output(StepValidateEligibility, "player_id"),
		CategoryID:    run.Output(StepValidateEligibility, "category_id"),
		CatalogItemID: run.Output(StepReserveItem, "item_id"),
		TokenID:       run.Output(StepReserveItem, "token_id"),
		TxHash:        run.ExternalRef(StepSubmitTransaction),
		At:            run.Now(),
	}
	return workflow.Result{
		Apply: func(tx *gorm.DB) error {
			asset, err := FinalizeMint(tx, m.Catalog, f)
			if err != nil {
				return err
			}
			log.Printf("[MINT] ✅ workflow %s issued asset %s to player %s", run.ID(), asset.ID, f.PlayerID)
			return nil
		},
	}, nil
}

func (m *MintWorkflow) compensate(ctx context.Context, tx *gorm.DB, run *workflow.Run) error {
	_, err := m.Catalog.WithDB(tx).ReleaseAll(ctx, run.ID())
	return err
}

// MintFinalization is everything the finalize step writes.
type MintFinalization struct {
	WorkflowID    string
	EligibilityID string
	PlayerID      string
	CategoryID    string
	CatalogItemID string
	TokenID       string
	TxHash        string
	At            time.Time
}

// FinalizeMint marks the catalog item minted, creates the player's asset and
// uses up the eligibility, all through tx. Running it again for the same
// eligibility returns the asset created the first time.
func FinalizeMint(tx *gorm.DB, catalog *CatalogService, f MintFinalization) (*models.OwnedAsset, error) {
	ctx := tx.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if err := markMinted(ctx, tx, catalog, f.CatalogItemID, f.WorkflowID, f.At); err != nil {
		return nil, err
	}

	origin := models.EligibilityOrigin(f.EligibilityID)
	asset, err := issueAsset(tx, models.OwnedAsset{
		ID:            uuid.NewString(),
		OwnerPlayerID: f.PlayerID,
		CategoryID:    f.CategoryID,
		Tier:          models.TierCategory,
		Fingerprint:   f.TokenID,
		CatalogItemID: f.CatalogItemID,
		MintTxHash:    f.TxHash,
		BurnState:     models.BurnOwned,
		OriginRef:     &origin,
	})
	if err != nil {
		return nil, err
	}

	res := tx.Model(&models.Eligibility{}).
		Where("id = ? AND status IN ?", f.EligibilityID, []models.EligibilityStatus{models.EligibilityActive, models.EligibilityExpired}).
		Updates(map[string]any{"status": models.EligibilityUsed, "used_at": f.At})
	if res.Error != nil {
		return nil, workflow.Transient(fmt.Errorf("mark eligibility used: %w", res.Error))
	}
	return asset, nil
}

func markMinted(ctx context.Context, tx *gorm.DB, catalog *CatalogService, itemID, workflowID string, at time.Time) error {
	err := catalog.WithDB(tx).MarkMinted(ctx, itemID, workflowID, at)
	if errors.Is(err, ErrReservationLost) {
		return workflow.Terminal(models.FailureInfrastructure, err)
	}
	if err != nil {
		return workflow.Transient(err)
	}
	return nil
}

// issueAsset creates asset unless one with the same OriginRef exists, and
// returns whichever row holds that origin.
func issueAsset(tx *gorm.DB, asset models.OwnedAsset) (*models.OwnedAsset, error) {
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "origin_ref"}},
		DoNothing: true,
	}).Create(&asset).Error
	if err != nil {
		return nil, workflow.Transient(fmt.Errorf("create owned asset: %w", err))
	}

	var stored models.OwnedAsset
	if err := tx.Where("origin_ref = ?", *asset.OriginRef).First(&stored).Error; err != nil {
		return nil, workflow.Transient(fmt.Errorf("load owned asset: %w", err))
	}
	return &stored, nil
}

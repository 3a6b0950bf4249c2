package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"nft-reward-system/models"
	"nft-reward-system/workflow"
)

const (
	StepValidateOwnership     = "validate-ownership"
	StepReserveOutputItem     = "reserve-output-item"
	StepSubmitBurn            = "submit-burn"
	StepAwaitBurnConfirmation = "await-burn-confirmation"
	StepSubmitMint            = "submit-mint"
	StepAwaitMintConfirmation = "await-mint-confirmation"
	StepFinalizeForge         = "finalize-records"
)

// ForgeWorkflow burns a player's input assets and mints one ultimate asset.
// Mint is never submitted before the burn confirmation is checkpointed.
type ForgeWorkflow struct {
	DB      *gorm.DB
	Catalog *CatalogService
	Wallets *WalletService
	Ledger  LedgerClient
}

func (f *ForgeWorkflow) Definition() workflow.Definition {
	return workflow.Definition{
		Type: models.WorkflowForge,
		Steps: []workflow.Step{
			{Name: StepValidateOwnership, Label: "Checking your items", Run: f.validateOwnership},
			{Name: StepReserveOutputItem, Label: "Reserving your Ultimate", Run: f.reserveOutputItem},
			{Name: StepSubmitBurn, Label: "Burning your items", Run: f.submitBurn, PointOfNoReturn: true},
			{Name: StepAwaitBurnConfirmation, Label: "Waiting for burn confirmation", Run: f.awaitBurnConfirmation,
				Poll: &workflow.PollPolicy{}, Irreversible: true},
			{Name: StepSubmitMint, Label: "Minting your Ultimate", Run: f.submitMint},
			{Name: StepAwaitMintConfirmation, Label: "Waiting for mint confirmation", Run: f.awaitMintConfirmation,
				Poll: &workflow.PollPolicy{}},
			{Name: StepFinalizeForge, Label: "Adding the Ultimate to your collection", Run: f.finalizeRecords},
		},
		Compensate: f.compensate,
	}
}

func (f *ForgeWorkflow) request(ctx context.Context, id string) (*models.ForgeRequest, error) {
	var req models.ForgeRequest
	if err := f.DB.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, workflow.Terminal(models.FailureBusinessRule, fmt.Errorf("%w: request not found", ErrForgeRequestInvalid))
		}
		return nil, workflow.Transient(fmt.Errorf("load forge request: %w", err))
	}
	return &req, nil
}

func (f *ForgeWorkflow) inputs(ctx context.Context, req *models.ForgeRequest) ([]models.OwnedAsset, error) {
	var assets []models.OwnedAsset
	if err := f.DB.WithContext(ctx).Where("id IN ?", []string(req.InputAssetIDs)).Order("id").Find(&assets).Error; err != nil {
		return nil, workflow.Transient(fmt.Errorf("load input assets: %w", err))
	}
	return assets, nil
}

func (f *ForgeWorkflow) validateOwnership(ctx context.Context, run *workflow.Run) (workflow.Result, error) {
	req, err := f.request(ctx, run.SubjectID())
	if err != nil {
		return workflow.Result{}, err
	}
	assets, err := f.inputs(ctx, req)
	if err != nil {
		return workflow.Result{}, err
	}
	if len(assets) != len(req.InputAssetIDs) {
		return workflow.Result{}, workflow.Terminal(models.FailureBusinessRule,
			errors.New("some of the selected items no longer exist"))
	}
	for _, a := range assets {
		if a.OwnerPlayerID != req.PlayerID {
			return workflow.Result{}, workflow.Terminal(models.FailureBusinessRule,
				errors.New("you no longer own all of the selected items"))
		}
		if a.BurnState != models.BurnOwned {
			return workflow.Result{}, workflow.Terminal(models.FailureBusinessRule,
				errors.New("some of the selected items have already been forged"))
		}
		if a.ForgeRequestID != "" && a.ForgeRequestID != req.ID {
			return workflow.Result{}, workflow.Terminal(models.FailureBusinessRule,
				errors.New("some of the selected items are part of another forge"))
		}
	}

	address, err := f.Wallets.AddressFor(ctx, req.PlayerID)
	if err != nil {
		if errors.Is(err, ErrNoWallet) {
			return workflow.Result{}, workflow.Terminal(models.FailureBusinessRule,
				errors.New("connect a wallet to receive your Ultimate"))
		}
		return workflow.Result{}, workflow.Transient(err)
	}

	ids := []string(req.InputAssetIDs)
	return workflow.Result{
		Output: map[string]string{
			"player_id": req.PlayerID,
			"address":   address,
		},
		Apply: func(tx *gorm.DB) error {
			res := tx.Model(&models.OwnedAsset{}).
				Where("id IN ? AND owner_player_id = ? AND burn_state = ? AND (forge_request_id = '' OR forge_request_id IS NULL OR forge_request_id = ?)",
					ids, req.PlayerID, models.BurnOwned, req.ID).
				Update("forge_request_id", req.ID)
			if res.Error != nil {
				return workflow.Transient(fmt.Errorf("claim input assets: %w", res.Error))
			}
			if res.RowsAffected != int64(len(ids)) {
				return workflow.Terminal(models.FailureBusinessRule,
					errors.New("some of the selected items are part of another forge"))
			}
			return nil
		},
	}, nil
}

func (f *ForgeWorkflow) reserveOutputItem(ctx context.Context, run *workflow.Run) (workflow.Result, error) {
	req, err := f.request(ctx, run.SubjectID())
	if err != nil {
		return workflow.Result{}, err
	}
	tier, ok := req.ForgeType.OutputTier()
	if !ok {
		return workflow.Result{}, workflow.Terminal(models.FailureBusinessRule,
			fmt.Errorf("%w: unknown forge type %q", ErrForgeRequestInvalid, req.ForgeType))
	}
	item, err := f.Catalog.Reserve(ctx, req.TargetCategoryID, tier, true, run.ID())
	if err != nil {
		if errors.Is(err, ErrNoStock) {
			return workflow.Result{}, workflow.Terminal(models.FailureBusinessRule,
				errors.New("no Ultimate items of this kind are left right now"))
		}
		return workflow.Result{}, workflow.Transient(err)
	}
	return workflow.Result{Output: map[string]string{
		"item_id":     item.ID,
		"token_id":    item.TokenID,
		"category_id": item.CategoryID,
		"tier":        string(item.Tier),
	}}, nil
}

func (f *ForgeWorkflow) submitBurn(ctx context.Context, run *workflow.Run) (workflow.Result, error) {
	req, err := f.request(ctx, run.SubjectID())
	if err != nil {
		return workflow.Result{}, err
	}
	assets, err := f.inputs(ctx, req)
	if err != nil {
		return workflow.Result{}, err
	}
	tokens := make([]string, 0, len(assets))
	for _, a := range assets {
		tokens = append(tokens, a.Fingerprint)
	}

	hash, err := submitOnce(ctx, f.Ledger, TxIntent{
		IdempotencyKey: idempotencyKey(run.ID(), StepSubmitBurn),
		Kind:           TxBurn,
		TokenIDs:       tokens,
		Metadata: map[string]string{
			"workflow_id":      run.ID(),
			"forge_request_id": req.ID,
		},
	})
	if err != nil {
		return workflow.Result{}, err
	}
	log.Printf("[FORGE] 🔥 workflow %s submitted burn %s for %d asset(s)", run.ID(), hash, len(tokens))

	ids := []string(req.InputAssetIDs)
	return workflow.Result{
		ExternalRef: hash,
		Apply: func(tx *gorm.DB) error {
			err := tx.Model(&models.OwnedAsset{}).
				Where("id IN ? AND forge_request_id = ? AND burn_state IN ?",
					ids, req.ID, []models.BurnState{models.BurnOwned, models.BurnPending}).
				Updates(map[string]any{"burn_state": models.BurnPending, "burn_tx_hash": hash}).Error
			if err != nil {
				return workflow.Transient(fmt.Errorf("mark assets burn-pending: %w", err))
			}
			return nil
		},
	}, nil
}

func (f *ForgeWorkflow) awaitBurnConfirmation(ctx context.Context, run *workflow.Run) (workflow.Result, error) {
	hash := run.ExternalRef(StepSubmitBurn)
	if err := awaitConfirmation(ctx, f.Ledger, hash); err != nil {
		return workflow.Result{}, err
	}
	forgeID := run.SubjectID()
	at := run.Now()
	return workflow.Result{
		ExternalRef: hash,
		Apply: func(tx *gorm.DB) error {
			err := tx.Model(&models.OwnedAsset{}).
				Where("forge_request_id = ? AND burn_state IN ?",
					forgeID, []models.BurnState{models.BurnPending, models.BurnBurned}).
				Updates(map[string]any{"burn_state": models.BurnBurned, "burned_at": at, "burn_tx_hash": hash}).Error
			if err != nil {
				return workflow.Transient(fmt.Errorf("mark assets burned: %w", err))
			}
			log.Printf("[FORGE] 🔥 workflow %s burn %s confirmed", run.ID(), hash)
			return nil
		},
	}, nil
}

func (f *ForgeWorkflow) submitMint(ctx context.Context, run *workflow.Run) (workflow.Result, error) {
	if !run.Completed(StepAwaitBurnConfirmation) {
		return workflow.Result{}, workflow.Terminal(models.FailureInfrastructure,
			errors.New("mint attempted before burn confirmation was recorded"))
	}
	hash, err := submitOnce(ctx, f.Ledger, TxIntent{
		IdempotencyKey: idempotencyKey(run.ID(), StepSubmitMint),
		Kind:           TxMint,
		ToAddress:      run.Output(StepValidateOwnership, "address"),
		TokenIDs:       []string{run.Output(StepReserveOutputItem, "token_id")},
		Metadata: map[string]string{
			"workflow_id":      run.ID(),
			"forge_request_id": run.SubjectID(),
			"burn_tx_hash":     run.ExternalRef(StepSubmitBurn),
		},
	})
	if err != nil {
		return workflow.Result{}, err
	}
	log.Printf("[FORGE] 📤 workflow %s submitted mint %s", run.ID(), hash)
	return workflow.Result{ExternalRef: hash}, nil
}

func (f *ForgeWorkflow) awaitMintConfirmation(ctx context.Context, run *workflow.Run) (workflow.Result, error) {
	hash := run.ExternalRef(StepSubmitMint)
	if err := awaitConfirmation(ctx, f.Ledger, hash); err != nil {
		return workflow.Result{}, err
	}
	return workflow.Result{ExternalRef: hash}, nil
}

func (f *ForgeWorkflow) finalizeRecords(_ context.Context, run *workflow.Run) (workflow.Result, error) {
	fin := ForgeFinalization{
		WorkflowID:     run.ID(),
		ForgeRequestID: run.SubjectID(),
		PlayerID:       run.Output(StepValidateOwnership, "player_id"),
		CategoryID:     run.Output(StepReserveOutputItem, "category_id"),
		Tier:           models.Tier(run.Output(StepReserveOutputItem, "tier")),
		CatalogItemID:  run.Output(StepReserveOutputItem, "item_id"),
		TokenID:        run.Output(StepReserveOutputItem, "token_id"),
		TxHash:         run.ExternalRef(StepSubmitMint),
		At:             run.Now(),
	}
	return workflow.Result{
		Apply: func(tx *gorm.DB) error {
			asset, err := FinalizeForge(tx, f.Catalog, fin)
			if err != nil {
				return err
			}
			log.Printf("[FORGE] ✅ workflow %s issued ultimate %s to player %s", run.ID(), asset.ID, fin.PlayerID)
			return nil
		},
	}, nil
}

// compensate undoes a forge that failed before its burn was submitted: the
// output reservation and the input claims are released.
func (f *ForgeWorkflow) compensate(ctx context.Context, tx *gorm.DB, run *workflow.Run) error {
	if _, err := f.Catalog.WithDB(tx).ReleaseAll(ctx, run.ID()); err != nil {
		return err
	}
	err := tx.Model(&models.OwnedAsset{}).
		Where("forge_request_id = ? AND burn_state = ?", run.SubjectID(), models.BurnOwned).
		Update("forge_request_id", "").Error
	if err != nil {
		return fmt.Errorf("release input claims: %w", err)
	}
	return tx.Model(&models.ForgeRequest{}).
		Where("id = ? AND status = ?", run.SubjectID(), models.ForgeRequestPending).
		Update("status", models.ForgeRequestFailed).Error
}

// ForgeFinalization is everything the forge finalize step writes.
type ForgeFinalization struct {
	WorkflowID     string
	ForgeRequestID string
	PlayerID       string
	CategoryID     string
	Tier           models.Tier
	CatalogItemID  string
	TokenID        string
	TxHash         string
	At             time.Time
}

// FinalizeForge marks the output item minted, issues the ultimate asset and
// completes the forge request. Re-entrant per forge request.
func FinalizeForge(tx *gorm.DB, catalog *CatalogService, fin ForgeFinalization) (*models.OwnedAsset, error) {
	ctx := tx.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if err := markMinted(ctx, tx, catalog, fin.CatalogItemID, fin.WorkflowID, fin.At); err != nil {
		return nil, err
	}

	origin := models.ForgeOrigin(fin.ForgeRequestID)
	asset, err := issueAsset(tx, models.OwnedAsset{
		ID:            uuid.NewString(),
		OwnerPlayerID: fin.PlayerID,
		CategoryID:    fin.CategoryID,
		Tier:          fin.Tier,
		Fingerprint:   fin.TokenID,
		CatalogItemID: fin.CatalogItemID,
		MintTxHash:    fin.TxHash,
		BurnState:     models.BurnOwned,
		OriginRef:     &origin,
	})
	if err != nil {
		return nil, err
	}

	err = tx.Model(&models.ForgeRequest{}).
		Where("id = ?", fin.ForgeRequestID).
		Updates(map[string]any{
			"status":          models.ForgeRequestCompleted,
			"output_asset_id": asset.ID,
			"completed_at":    fin.At,
		}).Error
	if err != nil {
		return nil, workflow.Transient(fmt.Errorf("complete forge request: %w", err))
	}
	return asset, nil
}

// NewForgeRequest is the trigger payload of a forge.
type NewForgeRequest struct {
	PlayerID         string           `json:"player_id"`
	ForgeType        models.ForgeType `json:"forge_type"`
	InputAssetIDs    []string         `json:"input_asset_ids"`
	TargetCategoryID string           `json:"target_category_id"`
	SeasonID         string           `json:"season_id,omitempty"`
}

// Validate checks the request shape. Ownership is checked by the workflow.
func (r NewForgeRequest) Validate() error {
	if strings.TrimSpace(r.PlayerID) == "" {
		return invalidForge("player_id is required")
	}
	if _, ok := r.ForgeType.OutputTier(); !ok {
		return invalidForge("unknown forge_type %q", r.ForgeType)
	}
	if r.ForgeType == models.ForgeSeasonal && r.SeasonID == "" {
		return invalidForge("season_id is required for seasonal forges")
	}
	if strings.TrimSpace(r.TargetCategoryID) == "" {
		return invalidForge("target_category_id is required")
	}
	if len(r.InputAssetIDs) == 0 {
		return invalidForge("input_asset_ids must not be empty")
	}
	seen := make(map[string]bool, len(r.InputAssetIDs))
	for _, id := range r.InputAssetIDs {
		if id == "" || seen[id] {
			return invalidForge("input_asset_ids must be distinct and non-empty")
		}
		seen[id] = true
	}
	return nil
}

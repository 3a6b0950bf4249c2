package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"nft-reward-system/models"
	"nft-reward-system/workflow"
)

// Public status vocabulary.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusConfirmed  = "confirmed"
	StatusFailed     = "failed"
)

// StatusView is what players and clients see. It never carries internal
// step names or reservation ids.
type StatusView struct {
	WorkflowID    string           `json:"workflow_id"`
	Type          string           `json:"type"`
	Status        string           `json:"status"`
	HumanStep     string           `json:"human_step,omitempty"`
	TxHashes      []string         `json:"tx_hashes"`
	OutputAsset   *OutputAssetView `json:"output_asset,omitempty"`
	FailureReason *FailureView     `json:"failure_reason,omitempty"`
}

type OutputAssetView struct {
	AssetID    string      `json:"asset_id"`
	CategoryID string      `json:"category_id"`
	Tier       models.Tier `json:"tier"`
	TokenID    string      `json:"token_id"`
	TxHash     string      `json:"tx_hash"`
}

type FailureView struct {
	Category        models.FailureCategory `json:"category"`
	Message         string                 `json:"message"`
	RequiresSupport bool                   `json:"requires_support"`
}

var failureMessages = map[models.FailureCategory]string{
	models.FailureInfrastructure: "We could not complete this right now. Please try again later.",
	models.FailureLedgerRejected: "The blockchain rejected the transaction.",
	models.FailureTimeout:        "The blockchain did not confirm the transaction in time.",
	models.FailureStuck:          "Your items were burned but the new item could not be issued yet. Our support team will complete it.",
	models.FailureCancelled:      "This request was cancelled.",
}

// StatusService is read-only.
type StatusService struct {
	DB     *gorm.DB
	Engine *workflow.Engine
}

func NewStatusService(db *gorm.DB, engine *workflow.Engine) *StatusService {
	return &StatusService{DB: db, Engine: engine}
}

// GetStatus returns workflow.ErrNotFound for unknown ids.
func (s *StatusService) GetStatus(ctx context.Context, workflowID string) (*StatusView, error) {
	inst, err := s.Engine.Store().Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	var asset *models.OwnedAsset
	if inst.Status == models.WorkflowSucceeded {
		if asset, err = s.outputAsset(ctx, inst); err != nil {
			return nil, err
		}
	}
	def, _ := s.Engine.Definition(inst.Type)
	return BuildStatusView(inst, def, asset), nil
}

func (s *StatusService) outputAsset(ctx context.Context, inst *models.WorkflowInstance) (*models.OwnedAsset, error) {
	var origin string
	switch inst.Type {
	case models.WorkflowMint:
		origin = models.EligibilityOrigin(inst.SubjectID)
	case models.WorkflowForge:
		origin = models.ForgeOrigin(inst.SubjectID)
	default:
		return nil, nil
	}
	var asset models.OwnedAsset
	err := s.DB.WithContext(ctx).Where("origin_ref = ?", origin).First(&asset).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load output asset: %w", err)
	}
	return &asset, nil
}

// BuildStatusView maps an instance onto the public vocabulary. def may be
// nil when the type is no longer registered.
func BuildStatusView(inst *models.WorkflowInstance, def *workflow.Definition, asset *models.OwnedAsset) *StatusView {
	view := &StatusView{
		WorkflowID: inst.ID,
		Type:       string(inst.Type),
		TxHashes:   []string{},
	}

	seen := make(map[string]bool)
	completed := 0
	for _, rec := range inst.History {
		if rec.Outcome != models.OutcomeCompleted {
			continue
		}
		completed++
		if rec.ExternalRef != "" && !seen[rec.ExternalRef] {
			seen[rec.ExternalRef] = true
			view.TxHashes = append(view.TxHashes, rec.ExternalRef)
		}
	}

	switch inst.Status {
	case models.WorkflowSucceeded:
		view.Status = StatusConfirmed
		if asset != nil {
			view.OutputAsset = &OutputAssetView{
				AssetID:    asset.ID,
				CategoryID: asset.CategoryID,
				Tier:       asset.Tier,
				TokenID:    asset.Fingerprint,
				TxHash:     asset.MintTxHash,
			}
		}
	case models.WorkflowFailed:
		view.Status = StatusFailed
		view.FailureReason = failureView(inst)
	default:
		if completed == 0 {
			view.Status = StatusPending
		} else {
			view.Status = StatusInProgress
		}
		view.HumanStep = humanStep(def, inst.CurrentStep)
	}
	return view
}

func humanStep(def *workflow.Definition, current string) string {
	if def == nil {
		return "Processing"
	}
	if i := def.Index(current); i >= 0 {
		return def.Steps[i].HumanLabel()
	}
	return "Processing"
}

func failureView(inst *models.WorkflowInstance) *FailureView {
	category := inst.FailureCategory
	if category == "" {
		category = models.FailureInfrastructure
	}
	msg := failureMessages[category]
	if category == models.FailureStuck && inst.Type == models.WorkflowMint {
		msg = "Your item was sent but could not be added to your collection yet. Our support team will complete it."
	}
	// Business-rule reasons are written by the steps for the player.
	if category == models.FailureBusinessRule {
		msg = inst.FailureReason
	}
	if inst.NeedsRemediation && category != models.FailureStuck {
		msg += " Our support team has been notified."
	}
	return &FailureView{
		Category:        category,
		Message:         msg,
		RequiresSupport: inst.NeedsRemediation,
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"nft-reward-system/models"
	"nft-reward-system/workflow"
)

// Nudger starts advancing a new instance without waiting for the next tick.
type Nudger interface {
	Nudge(workflowID string)
}

// WorkflowService is the trigger surface used by the gameplay collaborator
// and by operators.
type WorkflowService struct {
	DB     *gorm.DB
	Engine *workflow.Engine
	Nudger Nudger
}

func NewWorkflowService(db *gorm.DB, engine *workflow.Engine) *WorkflowService {
	return &WorkflowService{DB: db, Engine: engine}
}

// CreateMintWorkflow starts a mint for an eligibility and returns at once.
// A running mint for the same eligibility yields *WorkflowInProgressError;
// a mint that failed after submitting and awaits remediation yields
// *RemediationPendingError.
func (s *WorkflowService) CreateMintWorkflow(ctx context.Context, eligibilityID string) (*models.WorkflowInstance, error) {
	var e models.Eligibility
	if err := s.DB.WithContext(ctx).First(&e, "id = ?", eligibilityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEligibilityNotFound
		}
		return nil, fmt.Errorf("load eligibility: %w", err)
	}

	if existing, err := s.Engine.Store().FindRunning(ctx, models.WorkflowMint, eligibilityID); err == nil {
		return nil, &WorkflowInProgressError{WorkflowID: existing.ID}
	} else if !errors.Is(err, workflow.ErrNotFound) {
		return nil, err
	}
	if stuck, err := s.Engine.Store().FindUnresolved(ctx, models.WorkflowMint, eligibilityID, ""); err == nil {
		return nil, &RemediationPendingError{WorkflowID: stuck.ID}
	} else if !errors.Is(err, workflow.ErrNotFound) {
		return nil, err
	}

	inst, err := s.Engine.Enqueue(s.DB.WithContext(ctx), models.WorkflowMint, eligibilityID)
	if err != nil {
		// Lost a race with a concurrent trigger for the same eligibility.
		if existing, findErr := s.Engine.Store().FindRunning(ctx, models.WorkflowMint, eligibilityID); findErr == nil {
			return nil, &WorkflowInProgressError{WorkflowID: existing.ID}
		}
		return nil, err
	}

	log.Printf("[MINT] 🚀 workflow %s started for eligibility %s", inst.ID, eligibilityID)
	s.nudge(inst.ID)
	return inst, nil
}

// CreateForgeWorkflow persists the forge request and its workflow together.
func (s *WorkflowService) CreateForgeWorkflow(ctx context.Context, in NewForgeRequest) (*models.WorkflowInstance, *models.ForgeRequest, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}

	req := &models.ForgeRequest{
		ID:               uuid.NewString(),
		PlayerID:         in.PlayerID,
		ForgeType:        in.ForgeType,
		InputAssetIDs:    in.InputAssetIDs,
		TargetCategoryID: in.TargetCategoryID,
		SeasonID:         in.SeasonID,
		Status:           models.ForgeRequestPending,
	}

	var inst *models.WorkflowInstance
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(req).Error; err != nil {
			return fmt.Errorf("create forge request: %w", err)
		}
		var err error
		inst, err = s.Engine.Enqueue(tx, models.WorkflowForge, req.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	log.Printf("[FORGE] 🚀 workflow %s started for forge request %s (%d inputs)", inst.ID, req.ID, len(in.InputAssetIDs))
	s.nudge(inst.ID)
	return inst, req, nil
}

// Cancel requests cancellation; see workflow.Engine.Cancel for the rules.
func (s *WorkflowService) Cancel(ctx context.Context, workflowID, reason string) (*models.WorkflowInstance, error) {
	return s.Engine.Cancel(ctx, workflowID, reason)
}

// History is the ordered audit log of one instance.
func (s *WorkflowService) History(ctx context.Context, workflowID string) ([]models.WorkflowStepRecord, error) {
	return s.Engine.Store().History(ctx, workflowID)
}

// Remediation lists failed instances that need an operator.
func (s *WorkflowService) Remediation(ctx context.Context) ([]models.WorkflowInstance, error) {
	return s.Engine.Store().ListRemediation(ctx)
}

func (s *WorkflowService) nudge(id string) {
	if s.Nudger != nil {
		s.Nudger.Nudge(id)
	}
}

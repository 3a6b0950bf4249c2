package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"nft-reward-system/models"
)

// Store persists workflow instances and their step history.
type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// Create inserts a new instance using tx, so callers can create it together
// with the records it refers to.
func (s *Store) Create(tx *gorm.DB, inst *models.WorkflowInstance) error {
	if err := tx.Create(inst).Error; err != nil {
		return fmt.Errorf("create workflow instance: %w", err)
	}
	return nil
}

// Load returns an instance with its history ordered by sequence.
func (s *Store) Load(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	var inst models.WorkflowInstance
	err := s.DB.WithContext(ctx).
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		First(&inst, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load workflow %s: %w", id, err)
	}
	return &inst, nil
}

// FindRunning returns the running instance of a type for a subject, if any.
func (s *Store) FindRunning(ctx context.Context, t models.WorkflowType, subjectID string) (*models.WorkflowInstance, error) {
	var inst models.WorkflowInstance
	err := s.DB.WithContext(ctx).
		Where("type = ? AND subject_id = ? AND status = ?", t, subjectID, models.WorkflowRunning).
		First(&inst).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &inst, nil
}

// FindUnresolved returns a remediation-flagged failed instance of a type for
// a subject, other than exceptID. Its external side effect may still land,
// so the subject must not be retried until an operator resolves it.
func (s *Store) FindUnresolved(ctx context.Context, t models.WorkflowType, subjectID, exceptID string) (*models.WorkflowInstance, error) {
	var inst models.WorkflowInstance
	err := s.DB.WithContext(ctx).
		Where("type = ? AND subject_id = ? AND status = ? AND needs_remediation = ? AND id <> ?",
			t, subjectID, models.WorkflowFailed, true, exceptID).
		Order("updated_at DESC").
		First(&inst).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &inst, nil
}

// History returns the ordered audit log of an instance.
func (s *Store) History(ctx context.Context, id string) ([]models.WorkflowStepRecord, error) {
	var count int64
	if err := s.DB.WithContext(ctx).Model(&models.WorkflowInstance{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNotFound
	}
	var records []models.WorkflowStepRecord
	err := s.DB.WithContext(ctx).Where("workflow_id = ?", id).Order("seq ASC").Find(&records).Error
	return records, err
}

// ListDue returns ids of running instances whose next run time has passed,
// oldest first.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.DB.WithContext(ctx).Model(&models.WorkflowInstance{}).
		Where("status = ? AND next_run_at <= ?", models.WorkflowRunning, now).
		Order("next_run_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// ListRemediation returns failed instances flagged for manual remediation.
func (s *Store) ListRemediation(ctx context.Context) ([]models.WorkflowInstance, error) {
	var out []models.WorkflowInstance
	err := s.DB.WithContext(ctx).
		Where("status = ? AND needs_remediation = ?", models.WorkflowFailed, true).
		Order("updated_at DESC").
		Find(&out).Error
	return out, err
}

// ListUnarchived returns terminal instances not yet exported, with history.
func (s *Store) ListUnarchived(ctx context.Context, limit int) ([]models.WorkflowInstance, error) {
	var out []models.WorkflowInstance
	err := s.DB.WithContext(ctx).
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where("status IN ? AND archived_at IS NULL", []models.WorkflowStatus{models.WorkflowSucceeded, models.WorkflowFailed}).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkArchived stamps the archive time of a terminal instance.
func (s *Store) MarkArchived(ctx context.Context, id string, at time.Time) error {
	return s.DB.WithContext(ctx).Model(&models.WorkflowInstance{}).
		Where("id = ? AND archived_at IS NULL", id).
		Update("archived_at", at).Error
}

// guard scopes an update to the exact state the engine last observed.
func guard(tx *gorm.DB, inst *models.WorkflowInstance) *gorm.DB {
	return tx.Model(&models.WorkflowInstance{}).
		Where("id = ? AND status = ? AND current_step = ? AND step_attempts = ?",
			inst.ID, models.WorkflowRunning, inst.CurrentStep, inst.StepAttempts)
}

func (s *Store) beginAttempt(ctx context.Context, inst *models.WorkflowInstance, poll bool, now time.Time) error {
	updates := map[string]any{
		"step_attempts": inst.StepAttempts + 1,
		"updated_at":    now,
	}
	if poll && inst.PollStartedAt == nil {
		updates["poll_started_at"] = now
	}
	res := guard(s.DB.WithContext(ctx), inst).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("begin attempt: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrCheckpointLost
	}
	inst.StepAttempts++
	if poll && inst.PollStartedAt == nil {
		t := now
		inst.PollStartedAt = &t
	}
	return nil
}

func (s *Store) reschedule(ctx context.Context, inst *models.WorkflowInstance, at time.Time, failures int, lastErr string, now time.Time) error {
	res := guard(s.DB.WithContext(ctx), inst).Updates(map[string]any{
		"next_run_at":   at,
		"step_failures": failures,
		"last_error":    lastErr,
		"updated_at":    now,
	})
	if res.Error != nil {
		return fmt.Errorf("reschedule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrCheckpointLost
	}
	inst.NextRunAt = at
	inst.StepFailures = failures
	inst.LastError = lastErr
	return nil
}

// Package workflow is a durable step executor. It knows nothing about what
// the steps do: it persists each step outcome before moving on, retries
// transient failures with backoff, re-invokes poll-steps on an interval and
// records terminal failures for the status service and for operators.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"nft-reward-system/models"
)

const defaultLockTTL = 2 * time.Minute

type Engine struct {
	store   *Store
	locker  Locker
	policy  Policy
	now     func() time.Time
	lockTTL time.Duration

	mu   sync.RWMutex
	defs map[models.WorkflowType]*Definition
}

type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLockTTL sets how long an instance lock survives a crashed holder.
func WithLockTTL(d time.Duration) Option {
	return func(e *Engine) { e.lockTTL = d }
}

func New(store *Store, locker Locker, policy Policy, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		locker:  locker,
		policy:  policy,
		now:     func() time.Time { return time.Now().UTC() },
		lockTTL: defaultLockTTL,
		defs:    make(map[models.WorkflowType]*Definition),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Store() *Store { return e.store }

// Now returns the engine clock.
func (e *Engine) Now() time.Time { return e.now() }

// Register adds a workflow definition. Registering a type twice replaces it.
func (e *Engine) Register(def Definition) error {
	if err := def.validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	d := def
	e.defs[def.Type] = &d
	return nil
}

// Definition returns the registered definition for a type.
func (e *Engine) Definition(t models.WorkflowType) (*Definition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.defs[t]
	return d, ok
}

// Enqueue creates a running instance positioned at the first step. It is
// due immediately.
func (e *Engine) Enqueue(tx *gorm.DB, t models.WorkflowType, subjectID string) (*models.WorkflowInstance, error) {
	def, ok := e.Definition(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	now := e.now()
	inst := &models.WorkflowInstance{
		ID:          uuid.NewString(),
		Type:        t,
		SubjectID:   subjectID,
		CurrentStep: def.Steps[0].Name,
		Status:      models.WorkflowRunning,
		NextRunAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.Create(tx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Advance runs one tick for an instance: it executes steps in order until
// one fails, a poll-step is still pending or the instance finishes. It
// returns ErrInstanceBusy when another tick holds the instance.
func (e *Engine) Advance(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	release, ok, err := e.locker.Acquire(ctx, lockKey(id), e.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return nil, ErrInstanceBusy
	}
	defer release()

	inst, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.IsTerminal() || inst.NextRunAt.After(e.now()) {
		return inst, nil
	}
	def, ok := e.Definition(inst.Type)
	if !ok {
		return inst, fmt.Errorf("%w: %s", ErrUnknownType, inst.Type)
	}

	run := newRun(inst, e.now())
	for !inst.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return inst, err
		}
		idx := def.Index(inst.CurrentStep)
		if idx < 0 {
			return inst, e.fail(ctx, inst, def, run, 0, models.FailureInfrastructure,
				fmt.Sprintf("unknown step %q", inst.CurrentStep), false)
		}
		step := def.Steps[idx]

		if run.Completed(step.Name) {
			if err := e.skip(ctx, inst, def, idx); err != nil {
				return inst, err
			}
			continue
		}

		if err := e.store.beginAttempt(ctx, inst, step.IsPoll(), e.now()); err != nil {
			return inst, err
		}
		run.now = e.now()
		res, stepErr := step.Run(ctx, run)
		if stepErr == nil {
			stepErr = e.checkpoint(ctx, inst, def, run, idx, res)
			if errors.Is(stepErr, ErrCheckpointLost) {
				return inst, stepErr
			}
		}
		if stepErr != nil {
			return inst, e.handleFailure(ctx, inst, def, run, idx, stepErr)
		}
	}
	return inst, nil
}

// skip moves past a step that already has a recorded outcome.
func (e *Engine) skip(ctx context.Context, inst *models.WorkflowInstance, def *Definition, idx int) error {
	updates := map[string]any{
		"step_attempts":   0,
		"step_failures":   0,
		"poll_started_at": nil,
		"updated_at":      e.now(),
	}
	last := idx == len(def.Steps)-1
	if last {
		updates["status"] = models.WorkflowSucceeded
	} else {
		updates["current_step"] = def.Steps[idx+1].Name
	}
	res := guard(e.store.DB.WithContext(ctx), inst).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("skip completed step: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrCheckpointLost
	}
	e.moveOn(inst, def, idx)
	return nil
}

func (e *Engine) moveOn(inst *models.WorkflowInstance, def *Definition, idx int) {
	inst.StepAttempts = 0
	inst.StepFailures = 0
	inst.PollStartedAt = nil
	inst.LastError = ""
	if idx == len(def.Steps)-1 {
		inst.Status = models.WorkflowSucceeded
		return
	}
	inst.CurrentStep = def.Steps[idx+1].Name
}

type applyError struct{ err error }

func (a *applyError) Error() string { return a.err.Error() }
func (a *applyError) Unwrap() error { return a.err }

// checkpoint durably records a step outcome and advances the instance in
// one transaction, together with the step's own Apply writes.
func (e *Engine) checkpoint(ctx context.Context, inst *models.WorkflowInstance, def *Definition, run *Run, idx int, res Result) error {
	step := def.Steps[idx]
	now := e.now()
	last := idx == len(def.Steps)-1

	updates := map[string]any{
		"step_attempts":   0,
		"step_failures":   0,
		"poll_started_at": nil,
		"last_error":      "",
		"next_run_at":     now,
		"updated_at":      now,
	}
	if last {
		updates["status"] = models.WorkflowSucceeded
	} else {
		updates["current_step"] = def.Steps[idx+1].Name
	}

	var output map[string]any
	if len(res.Output) > 0 {
		output = make(map[string]any, len(res.Output))
		for k, v := range res.Output {
			output[k] = v
		}
	}
	rec := models.WorkflowStepRecord{
		WorkflowID:  inst.ID,
		Seq:         len(inst.History) + 1,
		StepName:    step.Name,
		Outcome:     models.OutcomeCompleted,
		ExternalRef: res.ExternalRef,
		Output:      output,
		RecordedAt:  now,
	}

	err := e.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := guard(tx, inst).Updates(updates)
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return ErrCheckpointLost
		}
		if res.Apply != nil {
			if err := res.Apply(tx); err != nil {
				return &applyError{err}
			}
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		var ae *applyError
		if errors.As(err, &ae) {
			return ae.err
		}
		if errors.Is(err, ErrCheckpointLost) {
			log.Printf("[ENGINE] ⚠️ workflow %s changed under step %s, dropping result", inst.ID, step.Name)
			return err
		}
		return Transient(fmt.Errorf("checkpoint %s: %w", step.Name, err))
	}

	inst.History = append(inst.History, rec)
	run.record(rec)
	e.moveOn(inst, def, idx)
	inst.NextRunAt = now
	if last {
		log.Printf("[ENGINE] ✅ workflow %s (%s) succeeded", inst.ID, inst.Type)
	}
	return nil
}

func (e *Engine) handleFailure(ctx context.Context, inst *models.WorkflowInstance, def *Definition, run *Run, idx int, stepErr error) error {
	step := def.Steps[idx]
	now := e.now()
	msg := Message(stepErr)

	pollExpired := false
	var poll PollPolicy
	if step.IsPoll() {
		poll = e.policy.PollFor(step)
		pollExpired = inst.PollStartedAt != nil && now.Sub(*inst.PollStartedAt) >= poll.MaxWait
	}

	if errors.Is(stepErr, ErrPending) && step.IsPoll() {
		if pollExpired {
			return e.fail(ctx, inst, def, run, idx, models.FailureTimeout,
				fmt.Sprintf("no confirmation after %s", poll.MaxWait), false)
		}
		return e.store.reschedule(ctx, inst, now.Add(poll.Interval), inst.StepFailures, "", now)
	}

	class, category := Classify(stepErr)
	if class == ClassTerminal {
		return e.fail(ctx, inst, def, run, idx, category, msg, false)
	}

	failures := inst.StepFailures + 1
	retry := e.policy.RetryFor(step)
	if pollExpired {
		return e.fail(ctx, inst, def, run, idx, models.FailureTimeout,
			fmt.Sprintf("no confirmation after %s: %s", poll.MaxWait, msg), false)
	}
	if failures >= retry.MaxAttempts {
		return e.fail(ctx, inst, def, run, idx, category,
			fmt.Sprintf("retries exhausted after %d attempts: %s", failures, msg), false)
	}

	delay := retry.Backoff(failures)
	log.Printf("[ENGINE] 🔁 workflow %s step %s failed (%d/%d), retrying in %s: %s",
		inst.ID, step.Name, failures, retry.MaxAttempts, delay, msg)
	return e.store.reschedule(ctx, inst, now.Add(delay), failures, msg, now)
}

// fail marks the instance failed at step idx. Before the point of no return
// the definition's compensation runs in the same transaction; at or after it
// the instance is flagged for manual remediation instead.
func (e *Engine) fail(ctx context.Context, inst *models.WorkflowInstance, def *Definition, run *Run, idx int, category models.FailureCategory, reason string, cancelled bool) error {
	step := def.Steps[idx]
	now := e.now()
	pnr := def.pointOfNoReturn()

	compensate := cancelled || idx < pnr
	remediation := !compensate
	if remediation && def.irreversibleDone(run) {
		reason = fmt.Sprintf("%s: %s", category, reason)
		category = models.FailureStuck
	}

	rec := models.WorkflowStepRecord{
		WorkflowID: inst.ID,
		Seq:        len(inst.History) + 1,
		StepName:   step.Name,
		Outcome:    models.OutcomeFailed,
		Detail:     fmt.Sprintf("%s: %s", category, reason),
		RecordedAt: now,
	}

	err := e.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.WorkflowInstance{}).
			Where("id = ? AND status = ?", inst.ID, models.WorkflowRunning).
			Updates(map[string]any{
				"status":            models.WorkflowFailed,
				"failure_step":      step.Name,
				"failure_category":  category,
				"failure_reason":    reason,
				"needs_remediation": remediation,
				"last_error":        reason,
				"updated_at":        now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCheckpointLost
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		if compensate && def.Compensate != nil {
			if err := def.Compensate(ctx, tx, run); err != nil {
				return fmt.Errorf("compensate: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record failure of workflow %s: %w", inst.ID, err)
	}

	inst.Status = models.WorkflowFailed
	inst.FailureStep = step.Name
	inst.FailureCategory = category
	inst.FailureReason = reason
	inst.NeedsRemediation = remediation
	inst.LastError = reason
	inst.History = append(inst.History, rec)

	if remediation {
		log.Printf("[ENGINE] CRITICAL workflow %s (%s) failed at %s after point of no return [%s]: %s, manual remediation required",
			inst.ID, inst.Type, step.Name, category, reason)
	} else {
		log.Printf("[ENGINE] ❌ workflow %s (%s) failed at %s [%s]: %s", inst.ID, inst.Type, step.Name, category, reason)
	}
	return nil
}

// Cancel fails a running instance at its current step. It is refused once
// the point-of-no-return step has been attempted.
func (e *Engine) Cancel(ctx context.Context, id, reason string) (*models.WorkflowInstance, error) {
	release, ok, err := e.locker.Acquire(ctx, lockKey(id), e.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return nil, ErrInstanceBusy
	}
	defer release()

	inst, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.IsTerminal() {
		return inst, ErrAlreadyTerminal
	}
	def, ok := e.Definition(inst.Type)
	if !ok {
		return inst, fmt.Errorf("%w: %s", ErrUnknownType, inst.Type)
	}
	idx := def.Index(inst.CurrentStep)
	pnr := def.pointOfNoReturn()
	if idx < 0 || idx > pnr || (idx == pnr && inst.StepAttempts > 0) {
		return inst, ErrCancelNotAllowed
	}
	if reason == "" {
		reason = "cancelled by request"
	}
	run := newRun(inst, e.now())
	if err := e.fail(ctx, inst, def, run, idx, models.FailureCancelled, reason, true); err != nil {
		return inst, err
	}
	return inst, nil
}

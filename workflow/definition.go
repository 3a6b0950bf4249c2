package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"nft-reward-system/models"
)

// StepFunc performs one step. It must be idempotent with respect to its own
// side effect: a second invocation after a lost checkpoint has to find the
// effect already done rather than repeat it.
type StepFunc func(ctx context.Context, run *Run) (Result, error)

// Result is what a successful step checkpoints.
type Result struct {
	ExternalRef string
	Output      map[string]string

	// Apply runs inside the checkpoint transaction. Domain writes that must
	// become durable together with the step outcome go here.
	Apply func(tx *gorm.DB) error
}

// Step is one named unit of a workflow definition.
type Step struct {
	Name  string
	Label string
	Run   StepFunc

	// Poll marks a poll-step and carries its default interval/max wait.
	// Zero fields inherit the engine policy.
	Poll  *PollPolicy
	Retry *RetryPolicy

	// PointOfNoReturn marks the step that submits the external side
	// effect. Failures before it are compensated and the workflow can be
	// cancelled; failures at or after it are flagged for remediation.
	PointOfNoReturn bool

	// Irreversible marks a step whose checkpoint records an effect that can
	// never be undone. A later failure is reported as stuck.
	Irreversible bool
}

// IsPoll reports whether the step is a poll-step.
func (s Step) IsPoll() bool { return s.Poll != nil }

// HumanLabel is the player-facing name of the step.
func (s Step) HumanLabel() string {
	if s.Label != "" {
		return s.Label
	}
	return cases.Title(language.English).String(strings.ReplaceAll(s.Name, "-", " "))
}

// Definition is an ordered list of steps for one workflow type.
type Definition struct {
	Type  models.WorkflowType
	Steps []Step

	// Compensate undoes the effects of completed pre-submission steps. It
	// runs in the same transaction that marks the instance failed.
	Compensate func(ctx context.Context, tx *gorm.DB, run *Run) error
}

func (d *Definition) validate() error {
	if d.Type == "" {
		return fmt.Errorf("definition has no type")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("definition %s has no steps", d.Type)
	}
	seen := make(map[string]bool, len(d.Steps))
	pnr := 0
	for _, s := range d.Steps {
		if s.Name == "" || s.Run == nil {
			return fmt.Errorf("definition %s: step needs a name and a function", d.Type)
		}
		if seen[s.Name] {
			return fmt.Errorf("definition %s: duplicate step %q", d.Type, s.Name)
		}
		seen[s.Name] = true
		if s.PointOfNoReturn {
			pnr++
		}
	}
	if pnr > 1 {
		return fmt.Errorf("definition %s: more than one point of no return", d.Type)
	}
	return nil
}

// Index returns the position of the named step, or -1.
func (d *Definition) Index(name string) int {
	for i, s := range d.Steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// pointOfNoReturn returns the index of the point-of-no-return step, or
// len(Steps) when the definition has none.
func (d *Definition) pointOfNoReturn() int {
	for i, s := range d.Steps {
		if s.PointOfNoReturn {
			return i
		}
	}
	return len(d.Steps)
}

func (d *Definition) irreversibleDone(run *Run) bool {
	for _, s := range d.Steps {
		if s.Irreversible && run.Completed(s.Name) {
			return true
		}
	}
	return false
}

// Run is the read-only view of an instance handed to step functions.
type Run struct {
	instance *models.WorkflowInstance
	now      time.Time
	done     map[string]models.WorkflowStepRecord
}

func newRun(inst *models.WorkflowInstance, now time.Time) *Run {
	r := &Run{instance: inst, now: now, done: make(map[string]models.WorkflowStepRecord)}
	for _, rec := range inst.History {
		r.record(rec)
	}
	return r
}

func (r *Run) record(rec models.WorkflowStepRecord) {
	if rec.Outcome == models.OutcomeCompleted {
		r.done[rec.StepName] = rec
	}
}

func (r *Run) ID() string                { return r.instance.ID }
func (r *Run) SubjectID() string         { return r.instance.SubjectID }
func (r *Run) Type() models.WorkflowType { return r.instance.Type }

// Now is the engine clock reading taken for this invocation.
func (r *Run) Now() time.Time { return r.now }

// Attempt is the 1-based attempt number of the current step.
func (r *Run) Attempt() int { return r.instance.StepAttempts }

// Completed reports whether the named step has a checkpoint.
func (r *Run) Completed(step string) bool {
	_, ok := r.done[step]
	return ok
}

// CompletedAt returns the checkpoint time of the named step.
func (r *Run) CompletedAt(step string) (time.Time, bool) {
	rec, ok := r.done[step]
	return rec.RecordedAt, ok
}

// ExternalRef returns the external reference checkpointed by a step.
func (r *Run) ExternalRef(step string) string {
	return r.done[step].ExternalRef
}

// Output returns one value checkpointed by a step.
func (r *Run) Output(step, key string) string {
	rec, ok := r.done[step]
	if !ok || rec.Output == nil {
		return ""
	}
	if v, ok := rec.Output[key].(string); ok {
		return v
	}
	return ""
}

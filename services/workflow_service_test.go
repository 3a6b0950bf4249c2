package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-reward-system/models"
	"nft-reward-system/workflow"
)

type recordingNudger struct{ ids []string }

func (n *recordingNudger) Nudge(id string) { n.ids = append(n.ids, id) }

func TestCreateMintWorkflowRejectsDuplicates(t *testing.T) {
	e := newEnv(t)
	nudger := &recordingNudger{}
	e.workflows.Nudger = nudger
	el := e.eligibility(t, "player-1", "dragons")
	ctx := context.Background()

	first, err := e.workflows.CreateMintWorkflow(ctx, el.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowRunning, first.Status)
	assert.Equal(t, StepValidateEligibility, first.CurrentStep)
	assert.Equal(t, []string{first.ID}, nudger.ids)

	_, err = e.workflows.CreateMintWorkflow(ctx, el.ID)
	require.ErrorIs(t, err, ErrWorkflowInProgress)
	var inProgress *WorkflowInProgressError
	require.True(t, errors.As(err, &inProgress))
	assert.Equal(t, first.ID, inProgress.WorkflowID)
	assert.Len(t, nudger.ids, 1)
}

func TestCreateMintWorkflowAfterFailureStartsAgain(t *testing.T) {
	e := newEnv(t)
	el := e.eligibility(t, "player-1", "dragons")
	ctx := context.Background()

	first, err := e.workflows.CreateMintWorkflow(ctx, el.ID)
	require.NoError(t, err)
	done := e.drive(t, first.ID)
	require.Equal(t, models.WorkflowFailed, done.Status)

	e.wallet(t, "player-1")
	e.items(t, "dragons", models.TierCategory, false, 1)
	second, err := e.workflows.CreateMintWorkflow(ctx, el.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, models.WorkflowSucceeded, e.drive(t, second.ID).Status)
}

func TestCreateMintWorkflowRefusedWhileFailedMintAwaitsRemediation(t *testing.T) {
	e := newEnv(t)
	e.wallet(t, "player-1")
	e.items(t, "dragons", models.TierCategory, false, 2)
	e.ledger.ConfirmAfter = 1 << 20
	el := e.eligibility(t, "player-1", "dragons")
	ctx := context.Background()

	first, err := e.workflows.CreateMintWorkflow(ctx, el.ID)
	require.NoError(t, err)
	done := e.drive(t, first.ID)
	require.Equal(t, models.WorkflowFailed, done.Status)
	require.True(t, done.NeedsRemediation)

	e.ledger.ConfirmAfter = 1
	_, err = e.workflows.CreateMintWorkflow(ctx, el.ID)
	require.ErrorIs(t, err, ErrEligibilityNeedsRemediation)
	var pending *RemediationPendingError
	require.True(t, errors.As(err, &pending))
	assert.Equal(t, first.ID, pending.WorkflowID)

	var instances int64
	require.NoError(t, e.db.Model(&models.WorkflowInstance{}).Count(&instances).Error)
	assert.EqualValues(t, 1, instances)
	assert.Equal(t, 1, e.ledger.TotalSubmissions(TxTransfer))
}

func TestCreateMintWorkflowUnknownEligibility(t *testing.T) {
	e := newEnv(t)
	_, err := e.workflows.CreateMintWorkflow(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrEligibilityNotFound)
}

func TestCreateForgeWorkflowInvalidRequestWritesNothing(t *testing.T) {
	e := newEnv(t)
	_, _, err := e.workflows.CreateForgeWorkflow(context.Background(), NewForgeRequest{PlayerID: "player-1"})
	assert.ErrorIs(t, err, ErrForgeRequestInvalid)

	var requests, instances int64
	require.NoError(t, e.db.Model(&models.ForgeRequest{}).Count(&requests).Error)
	require.NoError(t, e.db.Model(&models.WorkflowInstance{}).Count(&instances).Error)
	assert.Zero(t, requests)
	assert.Zero(t, instances)
}

func TestWorkflowHistoryAndCancel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	inst, err := e.workflows.CreateMintWorkflow(ctx, e.eligibility(t, "player-1", "dragons").ID)
	require.NoError(t, err)

	history, err := e.workflows.History(ctx, inst.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = e.workflows.Cancel(ctx, inst.ID, "")
	require.NoError(t, err)
	_, err = e.workflows.Cancel(ctx, inst.ID, "")
	assert.ErrorIs(t, err, workflow.ErrAlreadyTerminal)

	history, err = e.workflows.History(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.OutcomeFailed, history[0].Outcome)
	assert.Equal(t, "cancelled: cancelled by request", history[0].Detail)

	_, err = e.workflows.History(ctx, "missing")
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

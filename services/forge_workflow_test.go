package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-reward-system/models"
)

func startForge(t *testing.T, e *env, inputs []string) (*models.WorkflowInstance, *models.ForgeRequest) {
	t.Helper()
	inst, req, err := e.workflows.CreateForgeWorkflow(context.Background(), NewForgeRequest{
		PlayerID:         "player-1",
		ForgeType:        models.ForgeCategory,
		InputAssetIDs:    inputs,
		TargetCategoryID: "dragons",
	})
	require.NoError(t, err)
	return inst, req
}

func inputAssets(t *testing.T, e *env, ids []string) []models.OwnedAsset {
	t.Helper()
	var assets []models.OwnedAsset
	require.NoError(t, e.db.Where("id IN ?", ids).Find(&assets).Error)
	require.Len(t, assets, len(ids))
	return assets
}

func TestForgeWorkflowHappyPath(t *testing.T) {
	e := newEnv(t)
	e.wallet(t, "player-1")
	e.items(t, "dragons", models.TierCategory, true, 1)
	inputs := e.assets(t, "player-1", "dragons", 10)

	inst, req := startForge(t, e, inputs)
	done := e.drive(t, inst.ID)
	require.Equal(t, models.WorkflowSucceeded, done.Status, done.FailureReason)

	assert.Equal(t, []string{
		"validate-ownership/completed",
		"reserve-output-item/completed",
		"submit-burn/completed",
		"await-burn-confirmation/completed",
		"submit-mint/completed",
		"await-mint-confirmation/completed",
		"finalize-records/completed",
	}, stepNames(done))

	for _, a := range inputAssets(t, e, inputs) {
		assert.Equal(t, models.BurnBurned, a.BurnState)
		assert.Equal(t, req.ID, a.ForgeRequestID)
		assert.NotNil(t, a.BurnedAt)
		assert.Equal(t, 1, e.ledger.Submissions(TxBurn, a.Fingerprint))
	}
	assert.Equal(t, 1, e.ledger.TotalSubmissions(TxMint))

	var stored models.ForgeRequest
	require.NoError(t, e.db.First(&stored, "id = ?", req.ID).Error)
	assert.Equal(t, models.ForgeRequestCompleted, stored.Status)

	var output models.OwnedAsset
	require.NoError(t, e.db.First(&output, "id = ?", stored.OutputAssetID).Error)
	assert.Equal(t, "player-1", output.OwnerPlayerID)
	assert.Equal(t, models.TierCategory, output.Tier)
	assert.Equal(t, models.BurnOwned, output.BurnState)

	view, err := e.status.GetStatus(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, view.Status)
	assert.Len(t, view.TxHashes, 2)
	require.NotNil(t, view.OutputAsset)
	assert.Equal(t, output.ID, view.OutputAsset.AssetID)
}

func TestForgeWorkflowMintWaitsForBurnConfirmation(t *testing.T) {
	e := newEnv(t)
	e.wallet(t, "player-1")
	e.items(t, "dragons", models.TierCategory, true, 1)
	e.ledger.ConfirmAfter = 3
	inst, _ := startForge(t, e, e.assets(t, "player-1", "dragons", 3))

	got, err := e.engine.Advance(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, StepAwaitBurnConfirmation, got.CurrentStep)
	assert.Equal(t, 0, e.ledger.TotalSubmissions(TxMint))

	done := e.drive(t, inst.ID)
	require.Equal(t, models.WorkflowSucceeded, done.Status)
	burnConfirmed := historyIndex(done, StepAwaitBurnConfirmation, models.OutcomeCompleted)
	mintSubmitted := historyIndex(done, StepSubmitMint, models.OutcomeCompleted)
	require.GreaterOrEqual(t, burnConfirmed, 0)
	assert.Less(t, burnConfirmed, mintSubmitted)
	assert.True(t, done.History[burnConfirmed].RecordedAt.Before(done.History[mintSubmitted].RecordedAt))
}

func TestForgeWorkflowLostBurnResponseBurnsOnce(t *testing.T) {
	e := newEnv(t)
	e.wallet(t, "player-1")
	e.items(t, "dragons", models.TierCategory, true, 1)
	e.ledger.LoseNextResponses(TxBurn, 1)
	inputs := e.assets(t, "player-1", "dragons", 10)

	inst, _ := startForge(t, e, inputs)
	done := e.drive(t, inst.ID)
	require.Equal(t, models.WorkflowSucceeded, done.Status)

	for _, a := range inputAssets(t, e, inputs) {
		assert.Equal(t, 1, e.ledger.Submissions(TxBurn, a.Fingerprint), "token %s", a.Fingerprint)
	}
	assert.Equal(t, 10, e.ledger.TotalSubmissions(TxBurn))
}

func TestForgeWorkflowMintFailureAfterBurnIsStuck(t *testing.T) {
	e := newEnv(t)
	e.wallet(t, "player-1")
	e.items(t, "dragons", models.TierCategory, true, 1)
	e.ledger.FailNextSubmits(TxMint, 5)
	inputs := e.assets(t, "player-1", "dragons", 10)
	ctx := context.Background()

	inst, req := startForge(t, e, inputs)
	done := e.drive(t, inst.ID)

	assert.Equal(t, models.WorkflowFailed, done.Status)
	assert.Equal(t, models.FailureStuck, done.FailureCategory)
	assert.Equal(t, StepSubmitMint, done.FailureStep)
	assert.True(t, done.NeedsRemediation)
	assert.Contains(t, done.FailureReason, "infrastructure: retries exhausted after 5 attempts")

	for _, a := range inputAssets(t, e, inputs) {
		assert.Equal(t, models.BurnBurned, a.BurnState)
	}
	var outputs int64
	require.NoError(t, e.db.Model(&models.OwnedAsset{}).Where("origin_ref = ?", models.ForgeOrigin(req.ID)).Count(&outputs).Error)
	assert.Zero(t, outputs)

	var stored models.ForgeRequest
	require.NoError(t, e.db.First(&stored, "id = ?", req.ID).Error)
	assert.Equal(t, models.ForgeRequestPending, stored.Status)

	var item models.CatalogItem
	require.NoError(t, e.db.First(&item).Error)
	assert.Equal(t, models.ReservationReserved, item.State, "output stays reserved for the operator")

	view, err := e.status.GetStatus(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, view.Status)
	require.NotNil(t, view.FailureReason)
	assert.True(t, view.FailureReason.RequiresSupport)
	assert.Equal(t, failureMessages[models.FailureStuck], view.FailureReason.Message)

	queue, err := e.workflows.Remediation(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, inst.ID, queue[0].ID)
}

func TestForgeWorkflowCompensatesBeforeBurn(t *testing.T) {
	t.Run("inputs owned by someone else", func(t *testing.T) {
		e := newEnv(t)
		e.wallet(t, "player-1")
		e.items(t, "dragons", models.TierCategory, true, 1)
		inputs := append(e.assets(t, "player-1", "dragons", 2), e.assets(t, "player-2", "dragons", 1)...)

		inst, req := startForge(t, e, inputs)
		done := e.drive(t, inst.ID)
		assert.Equal(t, models.FailureBusinessRule, done.FailureCategory)
		assert.Equal(t, StepValidateOwnership, done.FailureStep)
		assert.False(t, done.NeedsRemediation)

		var stored models.ForgeRequest
		require.NoError(t, e.db.First(&stored, "id = ?", req.ID).Error)
		assert.Equal(t, models.ForgeRequestFailed, stored.Status)
		assert.Equal(t, 0, e.ledger.TotalSubmissions(TxBurn))
	})

	t.Run("input claimed by another forge", func(t *testing.T) {
		e := newEnv(t)
		e.wallet(t, "player-1")
		e.items(t, "dragons", models.TierCategory, true, 1)
		inputs := e.assets(t, "player-1", "dragons", 3)
		require.NoError(t, e.db.Model(&models.OwnedAsset{}).Where("id = ?", inputs[0]).
			Update("forge_request_id", "forge-other").Error)

		inst, _ := startForge(t, e, inputs)
		done := e.drive(t, inst.ID)
		assert.Equal(t, "some of the selected items are part of another forge", done.FailureReason)

		var claimed models.OwnedAsset
		require.NoError(t, e.db.First(&claimed, "id = ?", inputs[0]).Error)
		assert.Equal(t, "forge-other", claimed.ForgeRequestID)
	})

	t.Run("no ultimate stock", func(t *testing.T) {
		e := newEnv(t)
		e.wallet(t, "player-1")
		e.items(t, "dragons", models.TierCategory, false, 1)
		inputs := e.assets(t, "player-1", "dragons", 3)

		inst, req := startForge(t, e, inputs)
		done := e.drive(t, inst.ID)
		assert.Equal(t, models.FailureBusinessRule, done.FailureCategory)
		assert.Equal(t, StepReserveOutputItem, done.FailureStep)

		for _, a := range inputAssets(t, e, inputs) {
			assert.Equal(t, models.BurnOwned, a.BurnState)
			assert.Empty(t, a.ForgeRequestID, "claim released")
		}
		var stored models.ForgeRequest
		require.NoError(t, e.db.First(&stored, "id = ?", req.ID).Error)
		assert.Equal(t, models.ForgeRequestFailed, stored.Status)
	})
}

func TestForgeWorkflowBurnRejectedNeedsRemediation(t *testing.T) {
	e := newEnv(t)
	e.wallet(t, "player-1")
	e.items(t, "dragons", models.TierCategory, true, 1)
	e.ledger.RejectSubmits(TxBurn)
	inputs := e.assets(t, "player-1", "dragons", 2)

	inst, _ := startForge(t, e, inputs)
	done := e.drive(t, inst.ID)
	assert.Equal(t, models.FailureLedgerRejected, done.FailureCategory)
	assert.True(t, done.NeedsRemediation)
	assert.Equal(t, 0, e.ledger.TotalSubmissions(TxMint))

	for _, a := range inputAssets(t, e, inputs) {
		assert.Equal(t, models.BurnOwned, a.BurnState)
	}
}

func TestNewForgeRequestValidate(t *testing.T) {
	valid := NewForgeRequest{
		PlayerID:         "player-1",
		ForgeType:        models.ForgeSeasonal,
		InputAssetIDs:    []string{"a", "b"},
		TargetCategoryID: "dragons",
		SeasonID:         "s1",
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(r *NewForgeRequest)
	}{
		{"missing player", func(r *NewForgeRequest) { r.PlayerID = " " }},
		{"unknown type", func(r *NewForgeRequest) { r.ForgeType = "mythic" }},
		{"seasonal without season", func(r *NewForgeRequest) { r.SeasonID = "" }},
		{"missing target", func(r *NewForgeRequest) { r.TargetCategoryID = "" }},
		{"no inputs", func(r *NewForgeRequest) { r.InputAssetIDs = nil }},
		{"duplicate inputs", func(r *NewForgeRequest) { r.InputAssetIDs = []string{"a", "a"} }},
		{"empty input id", func(r *NewForgeRequest) { r.InputAssetIDs = []string{"a", ""} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			r.InputAssetIDs = append([]string(nil), valid.InputAssetIDs...)
			tt.mutate(&r)
			assert.ErrorIs(t, r.Validate(), ErrForgeRequestInvalid)
		})
	}
}

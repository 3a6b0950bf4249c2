package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"nft-reward-system/models"
	"nft-reward-system/testutil"
	"nft-reward-system/workflow"
)

type env struct {
	db        *gorm.DB
	clock     *testutil.Clock
	ledger    *SandboxLedger
	engine    *workflow.Engine
	catalog   *CatalogService
	wallets   *WalletService
	workflows *WorkflowService
	status    *StatusService
}

func testPolicy() workflow.Policy {
	return workflow.Policy{
		DefaultRetry: workflow.RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: 10 * time.Second, Multiplier: 2},
		DefaultPoll:  workflow.PollPolicy{Interval: 10 * time.Second, MaxWait: 5 * time.Minute},
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewDB(t)
	clock := testutil.NewClock()
	ledger := NewSandboxLedger(1)
	engine := workflow.New(workflow.NewStore(db), workflow.NewMemoryLocker(), testPolicy(), workflow.WithClock(clock.Now))

	catalog := NewCatalogService(db)
	catalog.Now = clock.Now
	wallets := NewWalletService(db)

	mint := &MintWorkflow{DB: db, Catalog: catalog, Wallets: wallets, Ledger: ledger}
	forge := &ForgeWorkflow{DB: db, Catalog: catalog, Wallets: wallets, Ledger: ledger}
	require.NoError(t, engine.Register(mint.Definition()))
	require.NoError(t, engine.Register(forge.Definition()))

	return &env{
		db:        db,
		clock:     clock,
		ledger:    ledger,
		engine:    engine,
		catalog:   catalog,
		wallets:   wallets,
		workflows: NewWorkflowService(db, engine),
		status:    NewStatusService(db, engine),
	}
}

func (e *env) wallet(t *testing.T, playerID string) string {
	t.Helper()
	now := e.clock.Now()
	w := models.WalletMirror{
		ID:        uuid.NewString(),
		UserID:    playerID,
		Chain:     "polygon",
		Address:   "0x" + playerID,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, e.db.Create(&w).Error)
	return w.Address
}

func (e *env) items(t *testing.T, categoryID string, tier models.Tier, ultimate bool, n int) {
	t.Helper()
	rows := make([]NewCatalogItem, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, NewCatalogItem{
			CategoryID: categoryID,
			Tier:       tier,
			Ultimate:   ultimate,
			TokenID:    fmt.Sprintf("%s-%s-%t-%d", categoryID, tier, ultimate, i),
		})
	}
	created, err := e.catalog.CreateItems(context.Background(), rows)
	require.NoError(t, err)
	require.EqualValues(t, n, created)
}

func (e *env) eligibility(t *testing.T, playerID, categoryID string) *models.Eligibility {
	t.Helper()
	el := models.Eligibility{
		ID:         uuid.NewString(),
		PlayerID:   playerID,
		CategoryID: categoryID,
		Status:     models.EligibilityActive,
		ExpiresAt:  e.clock.Now().Add(24 * time.Hour),
	}
	require.NoError(t, e.db.Create(&el).Error)
	return &el
}

// assets gives playerID n owned category assets and returns their ids.
func (e *env) assets(t *testing.T, playerID, categoryID string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		a := models.OwnedAsset{
			ID:            uuid.NewString(),
			OwnerPlayerID: playerID,
			CategoryID:    categoryID,
			Tier:          models.TierCategory,
			Fingerprint:   fmt.Sprintf("owned-%s-%d", playerID, i),
			BurnState:     models.BurnOwned,
		}
		require.NoError(t, e.db.Create(&a).Error)
		ids = append(ids, a.ID)
	}
	return ids
}

// drive advances id until it is terminal, moving the clock past every
// backoff and poll interval.
func (e *env) drive(t *testing.T, id string) *models.WorkflowInstance {
	t.Helper()
	for i := 0; i < 100; i++ {
		inst, err := e.engine.Advance(context.Background(), id)
		require.NoError(t, err)
		if inst.IsTerminal() {
			return e.load(t, id)
		}
		e.clock.Advance(15 * time.Second)
	}
	t.Fatalf("workflow %s did not finish", id)
	return nil
}

func (e *env) load(t *testing.T, id string) *models.WorkflowInstance {
	t.Helper()
	inst, err := e.engine.Store().Load(context.Background(), id)
	require.NoError(t, err)
	return inst
}

func stepNames(inst *models.WorkflowInstance) []string {
	out := make([]string, 0, len(inst.History))
	for _, rec := range inst.History {
		out = append(out, rec.StepName+"/"+string(rec.Outcome))
	}
	return out
}

func historyIndex(inst *models.WorkflowInstance, step string, outcome models.StepOutcome) int {
	for i, rec := range inst.History {
		if rec.StepName == step && rec.Outcome == outcome {
			return i
		}
	}
	return -1
}

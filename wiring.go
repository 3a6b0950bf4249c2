package main

import (
	"context"
	"fmt"
	"log"

	"gorm.io/gorm"

	"nft-reward-system/config"
	"nft-reward-system/database"
	"nft-reward-system/services"
	"nft-reward-system/utils"
	"nft-reward-system/workers"
	"nft-reward-system/workflow"
)

// container holds the wired services shared by the commands.
type container struct {
	cfg         *config.Config
	db          *gorm.DB
	engine      *workflow.Engine
	catalog     *services.CatalogService
	wallets     *services.WalletService
	eligibility *services.EligibilityService
	workflows   *services.WorkflowService
	status      *services.StatusService
	archive     *services.ArchiveService
	worker      *workers.WorkflowWorker
	closers     []func()
}

func newContainer(ctx context.Context, cfg *config.Config) (*container, error) {
	db, err := database.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	c := &container{cfg: cfg, db: db}

	var locker workflow.Locker
	if cfg.RedisAddr != "" {
		rl := workflow.NewRedisLocker(cfg.RedisAddr, "nft-reward-system")
		if err := rl.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.closers = append(c.closers, func() { _ = rl.Close() })
		locker = rl
		log.Printf("🔒 Instance locks backed by redis at %s", cfg.RedisAddr)
	} else {
		locker = workflow.NewMemoryLocker()
		log.Println("⚠️  REDIS_ADDR not set, using in-process instance locks (single replica only)")
	}

	var ledger services.LedgerClient
	switch cfg.LedgerMode {
	case "sandbox":
		ledger = services.NewSandboxLedger(2)
		log.Println("⚠️  LEDGER_MODE=sandbox, transactions are simulated")
	default:
		ledger = services.NewHTTPLedgerClient(cfg.LedgerURL, cfg.LedgerToken)
	}

	c.engine = workflow.New(workflow.NewStore(db), locker, cfg.Policy)
	c.catalog = services.NewCatalogService(db)
	c.wallets = services.NewWalletService(db)
	c.eligibility = services.NewEligibilityService(db)

	mint := &services.MintWorkflow{DB: db, Catalog: c.catalog, Wallets: c.wallets, Ledger: ledger}
	forge := &services.ForgeWorkflow{DB: db, Catalog: c.catalog, Wallets: c.wallets, Ledger: ledger}
	if err := c.engine.Register(mint.Definition()); err != nil {
		return nil, err
	}
	if err := c.engine.Register(forge.Definition()); err != nil {
		return nil, err
	}

	c.worker = workers.NewWorkflowWorker(c.engine, cfg.TickBatchSize, cfg.TickConcurrency)
	c.workflows = services.NewWorkflowService(db, c.engine)
	c.workflows.Nudger = c.worker
	c.status = services.NewStatusService(db, c.engine)

	if cfg.R2.Enabled() {
		r2, err := utils.NewR2Client(ctx, cfg.R2.AccountID, cfg.R2.AccessKeyID, cfg.R2.AccessKeySecret, cfg.R2.Bucket)
		if err != nil {
			return nil, err
		}
		c.archive = services.NewArchiveService(c.engine.Store(), r2)
	}
	return c, nil
}

func (c *container) Close() {
	for _, fn := range c.closers {
		fn()
	}
	if sqlDB, err := c.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

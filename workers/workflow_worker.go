// workers/workflow_worker.go
package workers

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"

	"nft-reward-system/workflow"
)

// WorkflowWorker advances due workflow instances. Distinct instances run
// concurrently up to Concurrency; the engine's instance lock keeps two
// ticks off the same instance, including across replicas.
type WorkflowWorker struct {
	engine      *workflow.Engine
	batchSize   int
	concurrency int
	nudges      chan string
}

func NewWorkflowWorker(engine *workflow.Engine, batchSize, concurrency int) *WorkflowWorker {
	return &WorkflowWorker{
		engine:      engine,
		batchSize:   batchSize,
		concurrency: concurrency,
		nudges:      make(chan string, 256),
	}
}

// Tick advances every instance due now, up to one batch, and returns how
// many were advanced.
func (w *WorkflowWorker) Tick(ctx context.Context) (int, error) {
	ids, err := w.engine.Store().ListDue(ctx, w.engine.Now(), w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var advanced int32
	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if w.advance(ctx, id) {
				atomic.AddInt32(&advanced, 1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(advanced), nil
}

func (w *WorkflowWorker) advance(ctx context.Context, id string) bool {
	_, err := w.engine.Advance(ctx, id)
	switch {
	case err == nil:
		return true
	case errors.Is(err, workflow.ErrInstanceBusy), errors.Is(err, workflow.ErrCheckpointLost):
		return false
	default:
		log.Printf("[TICK] ❌ advance %s: %v", id, err)
		return false
	}
}

// Nudge asks for an immediate advance of id. It never blocks; when the
// queue is full the next tick picks the instance up.
func (w *WorkflowWorker) Nudge(id string) {
	select {
	case w.nudges <- id:
	default:
	}
}

// serveNudges advances nudged instances, at most Concurrency at a time.
// Nudges queue up in the channel while every slot is busy.
func (w *WorkflowWorker) serveNudges(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return
		case id := <-w.nudges:
			g.Go(func() error {
				w.advance(ctx, id)
				return nil
			})
		}
	}
}

// Start schedules Tick every interval and serves nudges until ctx is done.
func (w *WorkflowWorker) Start(ctx context.Context, interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			n, err := w.Tick(ctx)
			if err != nil {
				log.Printf("[TICK] DB error: %v", err)
				return
			}
			if n > 0 {
				log.Printf("[TICK] advanced %d workflow(s)", n)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}
	sched.Start()

	go w.serveNudges(ctx)

	log.Printf("🔁 Workflow worker started (every %s, batch %d, concurrency %d)", interval, w.batchSize, w.concurrency)
	return sched, nil
}

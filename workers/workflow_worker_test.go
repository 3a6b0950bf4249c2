package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-reward-system/models"
	"nft-reward-system/testutil"
	"nft-reward-system/workflow"
)

func TestTickAdvancesDueInstances(t *testing.T) {
	db := testutil.NewDB(t)
	clock := testutil.NewClock()
	engine := workflow.New(workflow.NewStore(db), workflow.NewMemoryLocker(), workflow.DefaultPolicy(), workflow.WithClock(clock.Now))

	var runs int32
	step := func(context.Context, *workflow.Run) (workflow.Result, error) {
		atomic.AddInt32(&runs, 1)
		return workflow.Result{}, nil
	}
	require.NoError(t, engine.Register(workflow.Definition{
		Type:  "drop",
		Steps: []workflow.Step{{Name: "one", Run: step}, {Name: "two", Run: step}},
	}))

	var ids []string
	for _, subject := range []string{"a", "b", "c"} {
		inst, err := engine.Enqueue(db, "drop", subject)
		require.NoError(t, err)
		ids = append(ids, inst.ID)
	}

	worker := NewWorkflowWorker(engine, 10, 2)
	n, err := worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.EqualValues(t, 6, runs)

	for _, id := range ids {
		inst, err := engine.Store().Load(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowSucceeded, inst.Status)
	}

	n, err = worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNudgeNeverBlocks(t *testing.T) {
	worker := NewWorkflowWorker(nil, 1, 1)
	for i := 0; i < 1000; i++ {
		worker.Nudge("wf")
	}
	assert.Len(t, worker.nudges, cap(worker.nudges))
}

func TestNudgesRespectConcurrencyLimit(t *testing.T) {
	db := testutil.NewDB(t)
	engine := workflow.New(workflow.NewStore(db), workflow.NewMemoryLocker(), workflow.DefaultPolicy())

	var active, peak int32
	step := func(context.Context, *workflow.Run) (workflow.Result, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return workflow.Result{}, nil
	}
	require.NoError(t, engine.Register(workflow.Definition{
		Type:  "drop",
		Steps: []workflow.Step{{Name: "one", Run: step}},
	}))

	worker := NewWorkflowWorker(engine, 10, 1)
	var ids []string
	for _, subject := range []string{"a", "b", "c", "d"} {
		inst, err := engine.Enqueue(db, "drop", subject)
		require.NoError(t, err)
		ids = append(ids, inst.ID)
		worker.Nudge(inst.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.serveNudges(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		for _, id := range ids {
			inst, err := engine.Store().Load(context.Background(), id)
			if err != nil || inst.Status != models.WorkflowSucceeded {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	<-done
	assert.EqualValues(t, 1, atomic.LoadInt32(&peak))
}

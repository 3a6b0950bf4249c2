package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-reward-system/models"
)

type memoryBucket struct {
	objects map[string][]byte
	failFor string
}

func (b *memoryBucket) PutJSON(_ context.Context, key string, body []byte) error {
	if b.failFor != "" && strings.Contains(key, b.failFor) {
		return errors.New("bucket unavailable")
	}
	if b.objects == nil {
		b.objects = map[string][]byte{}
	}
	b.objects[key] = body
	return nil
}

func TestArchiveKey(t *testing.T) {
	tests := []struct {
		inst models.WorkflowInstance
		want string
	}{
		{models.WorkflowInstance{ID: "wf-1", Type: models.WorkflowMint, Status: models.WorkflowSucceeded},
			"workflows/mint/succeeded/wf-1.json"},
		{models.WorkflowInstance{ID: "wf-2", Type: models.WorkflowForge, Status: models.WorkflowFailed, FailureCategory: models.FailureLedgerRejected},
			"workflows/forge/failed-ledger-rejected/wf-2.json"},
		{models.WorkflowInstance{ID: "wf-3", Type: models.WorkflowMint, Status: models.WorkflowFailed, FailureCategory: models.FailureBusinessRule},
			"workflows/mint/failed-business-rule/wf-3.json"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ArchiveKey(&tt.inst))
	}
}

func TestArchiveFinishedExportsTerminalInstancesOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.wallet(t, "player-1")
	e.items(t, "dragons", models.TierCategory, false, 1)

	ok, err := e.workflows.CreateMintWorkflow(ctx, e.eligibility(t, "player-1", "dragons").ID)
	require.NoError(t, err)
	e.drive(t, ok.ID)
	running, err := e.workflows.CreateMintWorkflow(ctx, e.eligibility(t, "player-2", "dragons").ID)
	require.NoError(t, err)

	bucket := &memoryBucket{}
	archive := NewArchiveService(e.engine.Store(), bucket)
	archive.Now = e.clock.Now

	n, err := archive.ArchiveFinished(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	body, found := bucket.objects["workflows/mint/succeeded/"+ok.ID+".json"]
	require.True(t, found)
	var exported models.WorkflowInstance
	require.NoError(t, json.Unmarshal(body, &exported))
	assert.Len(t, exported.History, 5)
	for key := range bucket.objects {
		assert.NotContains(t, key, running.ID)
	}

	n, err = archive.ArchiveFinished(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchiveFinishedRetriesFailedUploads(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	inst, err := e.workflows.CreateMintWorkflow(ctx, e.eligibility(t, "player-1", "dragons").ID)
	require.NoError(t, err)
	e.drive(t, inst.ID)

	bucket := &memoryBucket{failFor: inst.ID}
	archive := NewArchiveService(e.engine.Store(), bucket)

	n, err := archive.ArchiveFinished(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	bucket.failFor = ""
	n, err = archive.ArchiveFinished(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

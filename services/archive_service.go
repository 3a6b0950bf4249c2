package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"nft-reward-system/models"
	"nft-reward-system/workflow"
)

// ObjectPutter stores one object. utils.R2Client implements it.
type ObjectPutter interface {
	PutJSON(ctx context.Context, key string, body []byte) error
}

// ArchiveService exports the audit trail of finished workflows.
type ArchiveService struct {
	Store     *workflow.Store
	Bucket    ObjectPutter
	BatchSize int
	Now       func() time.Time
}

func NewArchiveService(store *workflow.Store, bucket ObjectPutter) *ArchiveService {
	return &ArchiveService{
		Store:     store,
		Bucket:    bucket,
		BatchSize: 100,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// ArchiveKey is the object key of an instance's audit export.
func ArchiveKey(inst *models.WorkflowInstance) string {
	outcome := string(inst.Status)
	if inst.Status == models.WorkflowFailed && inst.FailureCategory != "" {
		outcome += " " + strings.ReplaceAll(string(inst.FailureCategory), "_", " ")
	}
	return fmt.Sprintf("workflows/%s/%s/%s.json", inst.Type, slug.Make(outcome), inst.ID)
}

// ArchiveFinished uploads one batch of unarchived terminal instances and
// returns how many were archived. A failed upload is retried next run.
func (s *ArchiveService) ArchiveFinished(ctx context.Context) (int, error) {
	batch, err := s.Store.ListUnarchived(ctx, s.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list unarchived workflows: %w", err)
	}

	archived := 0
	for i := range batch {
		inst := &batch[i]
		body, err := json.Marshal(inst)
		if err != nil {
			return archived, fmt.Errorf("marshal workflow %s: %w", inst.ID, err)
		}
		key := ArchiveKey(inst)
		if err := s.Bucket.PutJSON(ctx, key, body); err != nil {
			log.Printf("[ARCHIVE] ❌ upload %s failed: %v", key, err)
			continue
		}
		if err := s.Store.MarkArchived(ctx, inst.ID, s.Now()); err != nil {
			return archived, fmt.Errorf("mark workflow %s archived: %w", inst.ID, err)
		}
		archived++
	}
	if archived > 0 {
		log.Printf("[ARCHIVE] 📦 archived %d workflow(s)", archived)
	}
	return archived, nil
}

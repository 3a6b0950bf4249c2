// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartMaintenanceScheduler runs the eligibility expiry sweep and, when a
// bucket is configured, the audit archive export.
func StartMaintenanceScheduler(ctx context.Context, eligibility *EligibilityService, archive *ArchiveService, sweepEvery, archiveEvery time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(sweepEvery),
		gocron.NewTask(func() {
			if _, err := eligibility.ExpireStale(ctx); err != nil {
				log.Printf("[Scheduler] eligibility sweep failed: %v", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	if archive != nil {
		_, err = sched.NewJob(
			gocron.DurationJob(archiveEvery),
			gocron.NewTask(func() {
				if _, err := archive.ArchiveFinished(ctx); err != nil {
					log.Printf("[Scheduler] archive failed: %v", err)
				}
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, err
		}
	}

	sched.Start()
	return sched, nil
}

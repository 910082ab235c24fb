package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/socialq/cron"
	"github.com/xraph/socialq/dlq"
	"github.com/xraph/socialq/job"
)

// MaintenanceQueue carries the engine's own housekeeping jobs.
const MaintenanceQueue = "maintenance"

// EnqueueRaw enqueues a pre-serialized payload on the named queue. It
// satisfies cron.EnqueueFunc.
func (eng *Engine) EnqueueRaw(ctx context.Context, queue, name string, payload []byte) (*job.Job, error) {
	return eng.Queue(queue).EnqueueRaw(ctx, name, payload)
}

// ScheduleDLQRetention registers the DLQ purge job on MaintenanceQueue and
// adds an entry to s that enqueues it on schedule. Each run removes
// entries that failed more than retention ago.
func (eng *Engine) ScheduleDLQRetention(s *cron.Scheduler, schedule string, retention time.Duration) error {
	payload, err := json.Marshal(dlq.PurgeJob{OlderThan: retention})
	if err != nil {
		return fmt.Errorf("socialq/engine: dlq retention payload: %w", err)
	}

	q := eng.Queue(MaintenanceQueue)
	if _, ok := eng.registry.Binding(q.name, dlq.PurgeJobName); !ok {
		Register(q, job.NewDefinition(dlq.PurgeJobName, eng.dlqService.HandlePurge, job.WithConcurrency(1)))
	}

	return s.Add(cron.Entry{
		Name:     "dlq-retention",
		Schedule: schedule,
		Queue:    MaintenanceQueue,
		JobName:  dlq.PurgeJobName,
		Payload:  payload,
	})
}

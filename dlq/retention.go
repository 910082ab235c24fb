package dlq

import (
	"context"
	"fmt"
	"time"
)

// PurgeJobName is the job that applies DLQ retention.
const PurgeJobName = "purgeDLQ"

// PurgeJob removes entries that failed more than OlderThan ago.
type PurgeJob struct {
	OlderThan time.Duration `json:"olderThan" validate:"gt=0"`
}

// HandlePurge is the handler for PurgeJobName.
func (s *Service) HandlePurge(ctx context.Context, p PurgeJob) error {
	if _, err := s.Purge(ctx, time.Now().UTC().Add(-p.OlderThan)); err != nil {
		return fmt.Errorf("socialq/dlq: retention purge: %w", err)
	}
	return nil
}

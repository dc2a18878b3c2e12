package cleanup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type sessionPruner interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Job prunes session records whose refresh token already expired. Blacklist
// entries carry their own TTL and need no sweeping.
type Job struct {
	pruner sessionPruner
	now    func() time.Time
	logger *zap.Logger
}

func NewSessionCleanupJob(pruner sessionPruner, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		pruner: pruner,
		now:    time.Now,
		logger: logger,
	}
}

func (j *Job) Run(ctx context.Context) error {
	if j.pruner == nil {
		return nil
	}

	cutoff := j.now().UTC()
	rows, err := j.pruner.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup expired sessions: %w", err)
	}
	if rows > 0 {
		j.logger.Info("cleanup expired sessions completed", zap.Int64("deleted", rows))
	}

	return nil
}

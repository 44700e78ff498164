package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// ExpireSweeper transitions due blanket orders to expired.
type ExpireSweeper interface {
	ExpireDueOrders(ctx context.Context, asOf time.Time) (int, error)
}

// BlanketExpireJob runs the nightly expiry sweep over open blanket
// orders whose validity date has passed.
type BlanketExpireJob struct {
	Service ExpireSweeper
	Logger  *slog.Logger
	clock   func() time.Time
}

// NewBlanketExpireJob initialises the expiry sweep handler.
func NewBlanketExpireJob(service ExpireSweeper, logger *slog.Logger) *BlanketExpireJob {
	return &BlanketExpireJob{
		Service: service,
		Logger:  logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the sweep. The sweep is idempotent, so retries after
// partial failures are safe.
func (j *BlanketExpireJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("blanket expire: handler not configured")
	}
	var payload BlanketExpirePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = j.clock()
	}

	start := j.clock()
	count, err := j.Service.ExpireDueOrders(ctx, asOf)
	if err != nil {
		j.Logger.Error("blanket expiry sweep failed", slog.Any("error", err))
		return err
	}
	j.Logger.Info("blanket expiry sweep finished",
		slog.Int("expired", count),
		slog.Duration("took", j.clock().Sub(start)),
	)
	return nil
}

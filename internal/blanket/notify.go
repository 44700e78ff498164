package blanket

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Notifier records human-readable lifecycle messages against a record.
// Implementations are best effort: the service logs notifier failures
// and never lets them block a business transition.
type Notifier interface {
	Post(ctx context.Context, entity string, recordID int64, body string) error
}

// MessageLog persists messages into record_messages.
type MessageLog struct {
	pool *pgxpool.Pool
}

func NewMessageLog(pool *pgxpool.Pool) *MessageLog {
	return &MessageLog{pool: pool}
}

func (l *MessageLog) Post(ctx context.Context, entity string, recordID int64, body string) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO record_messages (entity, record_id, body, posted_at) VALUES ($1, $2, $3, NOW())`,
		entity, recordID, body,
	)
	return err
}

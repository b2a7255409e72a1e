package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Bus implements store.Bus on Postgres LISTEN/NOTIFY. Publish goes through
// the shared pool; each subscription holds its own connection, because a
// listening connection cannot run other queries.
type Bus struct {
	db     Querier
	dsn    string
	logger *zap.Logger
}

// NewBus constructs a Bus. The DSN is used to open dedicated listener
// connections for subscriptions.
func NewBus(db Querier, dsn string, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{db: db, dsn: dsn, logger: logger}
}

// Publish implements store.Bus.
func (b *Bus) Publish(ctx context.Context, channel, payload string) error {
	if _, err := b.db.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload); err != nil {
		return fmt.Errorf("notify %s: %w", channel, err)
	}
	return nil
}

// Subscribe implements store.Bus. The returned stream closes when ctx ends
// or the listener connection is lost; at-most-once delivery means consumers
// recover missed payloads from their checkpoints, not from the bus.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	conn, err := pgx.Connect(ctx, b.dsn)
	if err != nil {
		return nil, fmt.Errorf("open listener connection: %w", err)
	}
	quoted := pgx.Identifier{channel}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+quoted); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	out := make(chan string, 64)
	go func() {
		defer close(out)
		defer func() {
			_ = conn.Close(context.Background())
		}()
		for {
			notification, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					b.logger.Error("listener connection lost",
						zap.String("channel", channel), zap.Error(err))
				}
				return
			}
			select {
			case out <- notification.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

package coordination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBroadcaster carries registry messages over LISTEN/NOTIFY, so
// clients on different hosts that share a database can coordinate.
type PostgresBroadcaster struct {
	pool    *pgxpool.Pool
	channel string
	logger  *slog.Logger
}

func NewPostgresBroadcaster(pool *pgxpool.Pool, channel string, logger *slog.Logger) (*PostgresBroadcaster, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresBroadcaster{
		pool:    pool,
		channel: channel,
		logger:  logger.With("component", "postgres_broadcaster", "channel", channel),
	}, nil
}

func (b *PostgresBroadcaster) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal registry message: %w", err)
	}
	if _, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", b.channel, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", b.channel, err)
	}
	return nil
}

// Subscribe holds one pooled connection in LISTEN until cancel.
func (b *PostgresBroadcaster) Subscribe(ctx context.Context, fn func(Message)) (func(), error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{b.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", b.channel, err)
	}

	listenCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		// The wait is interrupted by cancel, which leaves the connection
		// unusable; Release discards it instead of returning it to the pool.
		defer conn.Release()

		for {
			n, err := conn.Conn().WaitForNotification(listenCtx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					b.logger.Error("listen loop stopped", "error", err)
				}
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(n.Payload), &msg); err != nil {
				b.logger.Warn("dropping malformed registry message", "error", err)
				continue
			}
			fn(msg)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			<-done
		})
	}, nil
}

// Package listener provides a Postgres LISTEN/NOTIFY consumer that keeps
// the API's response cache coherent with ingest. It holds a dedicated pgx
// connection (not from the pool) listening on the incidents_refreshed
// channel, and flushes the cache whenever an ingest run reports that it
// rebuilt the derived tables.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/albapepper/retail-security-data/internal/config"
)

const (
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// Flusher drops every cached response.
type Flusher interface {
	Flush()
}

// Start opens a dedicated connection and listens on the refresh channel. It
// reconnects automatically on connection loss, flushing once on every
// reconnect since notifications sent while disconnected are lost. Blocks
// until ctx is cancelled. Intended to be called with `go`.
func Start(ctx context.Context, dbURL string, cache Flusher, logger *slog.Logger) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, cache, logger)
		if ctx.Err() != nil {
			logger.Info("Refresh listener stopped (context cancelled)")
			return
		}

		logger.Error("Refresh listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = nextBackoff(backoff)
		case <-ctx.Done():
			return
		}
	}
}

func nextBackoff(b time.Duration) time.Duration {
	return min(b*2, maxReconnect)
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, cache Flusher, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{config.RefreshChannel}.Sanitize())
	if err != nil {
		return fmt.Errorf("LISTEN %s: %w", config.RefreshChannel, err)
	}
	logger.Info("Refresh listener connected", "channel", config.RefreshChannel)
	cache.Flush()

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		Handle(notification, cache, logger)
	}
}

// Handle applies one notification. The payload is the ingest run id and is
// only logged.
func Handle(n *pgconn.Notification, cache Flusher, logger *slog.Logger) {
	if n.Channel != config.RefreshChannel {
		logger.Warn("Ignoring notification on unexpected channel", "channel", n.Channel)
		return
	}
	cache.Flush()
	logger.Info("Incidents refreshed, response cache flushed", "run_id", n.Payload)
}

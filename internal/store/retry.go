package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	maxRetries     = 3
	baseRetryDelay = 50 * time.Millisecond
)

// IsConflictError reports SQLITE_BUSY and "database is locked" errors, the
// SQLite concurrency failures worth retrying.
func IsConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withRetry runs fn, retrying conflict errors with exponential backoff.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseRetryDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("[STORE] Database locked, retrying",
			"op", op,
			"attempt", i+1,
			"delay", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
	if IsConflictError(err) {
		return fmt.Errorf("%s after %d attempts: %w", op, maxRetries, err)
	}
	return err
}

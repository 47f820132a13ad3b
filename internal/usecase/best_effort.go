package usecase

import (
	"context"
	"log/slog"
)

// bestEffort runs a side effect whose failure must never reach the caller.
// Errors are logged and dropped.
func bestEffort(ctx context.Context, logger *slog.Logger, op string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		logger.Warn("best-effort operation failed", "op", op, "error", err)
	}
}

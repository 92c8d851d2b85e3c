package otp

import (
	"context"
	"log/slog"
	"time"
)

// RunSweeper calls cache.Sweep every interval until ctx is done.
func RunSweeper(ctx context.Context, cache Cache, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := cache.Sweep(ctx)
			if err != nil {
				log.Warn("otp sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Debug("otp sweep", "removed", n)
			}
		}
	}
}

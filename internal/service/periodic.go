package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// runPeriodic runs scan once right away and then on every tick until ctx is
// done. Scan errors are logged and never stop the loop.
func runPeriodic(ctx context.Context, name string, interval time.Duration, logger *zap.Logger, scan func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := scan(ctx); err != nil && ctx.Err() == nil {
		logger.Error("initial scan failed", zap.String("sweep", name), zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := scan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error("scan failed", zap.String("sweep", name), zap.Error(err))
			}
		}
	}
}

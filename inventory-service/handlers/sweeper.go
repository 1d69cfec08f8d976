package handlers

import (
	"context"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/application"
	"go.uber.org/zap"
)

// HoldSweeper periodically releases tentative holds that outlived their
// TTL, for sagas whose orchestrator never came back.
type HoldSweeper struct {
	expire   *application.ExpireHolds
	ttl      time.Duration
	interval time.Duration
	logger   *zap.Logger
}

// NewHoldSweeper creates a sweeper running every interval.
func NewHoldSweeper(expire *application.ExpireHolds, ttl, interval time.Duration, logger *zap.Logger) *HoldSweeper {
	return &HoldSweeper{
		expire:   expire,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps until ctx is cancelled. A failed sweep is logged and retried
// on the next tick.
func (s *HoldSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep releases expired holds batch by batch until none are left.
func (s *HoldSweeper) Sweep(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		res, err := s.expire.Execute(ctx, &application.ExpireHoldsCommand{TTL: s.ttl})
		if res != nil {
			total += res.Expired
		}
		if err != nil {
			s.logger.Error("failed to expire holds", zap.Error(err))
			break
		}
		if res.Expired == 0 {
			break
		}
	}
	if total > 0 {
		s.logger.Info("expired tentative holds", zap.Int("count", total), zap.Duration("ttl", s.ttl))
	}
	return total
}

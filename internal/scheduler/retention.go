package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/clipsync/clipsync/internal/logger"
)

// Enforcer trims one owner's history down to maxItems.
type Enforcer interface {
	EnforceRetention(ctx context.Context, owner string, maxItems int) (int, error)
}

// OwnerLister lists owners that currently hold items.
type OwnerLister interface {
	Owners(ctx context.Context) ([]string, error)
}

// Limits resolves an owner's history cap; 0 selects the default.
type Limits interface {
	MaxItems(owner string) int
}

// RetentionSweeper periodically re-applies every owner's history cap.
// Inserts already enforce it; the sweep catches caps lowered by a users
// file reload and owners who stopped submitting.
type RetentionSweeper struct {
	enforcer   Enforcer
	owners     OwnerLister
	limits     Limits
	defaultCap int
	logger     logger.Logger
	interval   time.Duration
	stopCh     chan struct{}
}

// NewRetentionSweeper creates a sweeper.
func NewRetentionSweeper(
	enforcer Enforcer,
	owners OwnerLister,
	limits Limits,
	defaultCap int,
	log logger.Logger,
	interval time.Duration,
) *RetentionSweeper {
	return &RetentionSweeper{
		enforcer:   enforcer,
		owners:     owners,
		limits:     limits,
		defaultCap: defaultCap,
		logger:     log,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (rs *RetentionSweeper) Start(ctx context.Context) error {
	if rs.interval <= 0 {
		return fmt.Errorf("retention interval must be > 0, got %v", rs.interval)
	}

	ticker := time.NewTicker(rs.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := rs.Sweep(ctx); err != nil {
					rs.logger.Error("retention sweep failed",
						logger.Error(err))
				}
			case <-rs.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the sweeper
func (rs *RetentionSweeper) Stop() {
	close(rs.stopCh)
}

// Sweep enforces every owner's cap once and returns how many items were
// evicted. A failing owner is logged and skipped.
func (rs *RetentionSweeper) Sweep(ctx context.Context) (int, error) {
	owners, err := rs.owners.Owners(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list owners: %w", err)
	}

	evicted := 0
	for _, owner := range owners {
		if ctx.Err() != nil {
			return evicted, ctx.Err()
		}

		maxItems := rs.defaultCap
		if rs.limits != nil {
			if n := rs.limits.MaxItems(owner); n > 0 {
				maxItems = n
			}
		}

		n, err := rs.enforcer.EnforceRetention(ctx, owner, maxItems)
		if err != nil {
			rs.logger.Warn("retention enforcement failed",
				logger.Owner(owner),
				logger.Action("retention"),
				logger.Error(err))
			continue
		}
		evicted += n
	}

	if evicted > 0 {
		rs.logger.Info("retention sweep completed",
			logger.Int("owners", len(owners)),
			logger.Int("evicted", evicted))
	} else {
		rs.logger.Debug("retention sweep found nothing to evict",
			logger.Int("owners", len(owners)))
	}
	return evicted, nil
}

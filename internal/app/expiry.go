package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ParamigosApps/appbar-sub000/internal/config"
)

// SweepLocker elects one sweeping replica at a time.
type SweepLocker interface {
	TryLock(ctx context.Context) (release func(context.Context) error, acquired bool, err error)
}

type nopLocker struct{}

func (nopLocker) TryLock(context.Context) (func(context.Context) error, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}

// ExpiryManager periodically expires pending holds past their TTL. Reads
// through HoldService expire lazily as well, so a missed sweep only delays
// capacity release.
type ExpiryManager struct {
	holds    *HoldService
	locker   SweepLocker
	interval time.Duration
	batch    int
	deps
}

// NewExpiryManager builds a sweeper. A nil locker sweeps unconditionally.
func NewExpiryManager(holds *HoldService, locker SweepLocker, cfg config.Engine, opts ...Option) *ExpiryManager {
	if locker == nil {
		locker = nopLocker{}
	}
	defaults := config.DefaultEngine()
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = defaults.SweepInterval
	}
	batch := cfg.SweepBatchSize
	if batch <= 0 {
		batch = defaults.SweepBatchSize
	}
	return &ExpiryManager{
		holds:    holds,
		locker:   locker,
		interval: interval,
		batch:    batch,
		deps:     newDeps(opts),
	}
}

// Sweep expires one bounded batch of overdue holds and returns how many
// this call expired. Individual failures do not stop the batch.
func (m *ExpiryManager) Sweep(ctx context.Context) (int, error) {
	release, ok, err := m.locker.TryLock(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		m.logger.Debug("sweep skipped; another replica holds the lock")
		return 0, nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("release sweep lock", zap.Error(err))
		}
	}()

	holds, err := m.holds.ListExpiredHolds(ctx, m.batch)
	if err != nil {
		return 0, err
	}

	var (
		expired int
		errs    []error
	)
	for _, h := range holds {
		ok, err := m.holds.ExpireHold(ctx, h.ID)
		if err != nil {
			m.logger.Error("expire hold", zap.String("hold_id", h.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		m.logger.Info("sweep finished", zap.Int("expired", expired), zap.Int("scanned", len(holds)))
	}
	return expired, errors.Join(errs...)
}

// Run sweeps every interval until ctx is cancelled.
func (m *ExpiryManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("expiry sweeper started", zap.Duration("interval", m.interval), zap.Int("batch", m.batch))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("expiry sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

package retention

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

type Pruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper deletes turns older than a maximum age on a fixed interval.
type Sweeper struct {
	pruner   Pruner
	maxAge   time.Duration
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewSweeper(pruner Pruner, maxAge, interval time.Duration, logger *zap.Logger) (*Sweeper, error) {
	if pruner == nil {
		return nil, errors.New("retention: pruner must not be nil")
	}
	if maxAge <= 0 {
		return nil, errors.New("retention: max age must be positive")
	}
	if interval <= 0 {
		return nil, errors.New("retention: sweep interval must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		pruner:   pruner,
		maxAge:   maxAge,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Sweep runs one pass and returns the number of deleted turns.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.maxAge)
	n, err := s.pruner.PruneOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("pruned expired turns", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// Run sweeps once immediately and then every interval until ctx is done.
// Failed sweeps are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("retention sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

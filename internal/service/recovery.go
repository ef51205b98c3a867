package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/notifier-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval = 5 * time.Second
	defaultSweepLimit    = 100
	defaultDispatchGrace = 30 * time.Second
)

// MatchingSweep picks up requests whose matching never started or stalled,
// matches them and dispatches the result.
type MatchingSweep struct {
	requests   repository.RequestRepository
	matcher    *RuleMatcher
	dispatcher *Dispatcher
	logger     *zap.Logger
	interval   time.Duration
	limit      int
	now        func() time.Time
}

func NewMatchingSweep(
	requests repository.RequestRepository,
	matcher *RuleMatcher,
	dispatcher *Dispatcher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*MatchingSweep, error) {
	if requests == nil || matcher == nil || dispatcher == nil {
		return nil, fmt.Errorf("request repository, matcher and dispatcher are required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MatchingSweep{
		requests:   requests,
		matcher:    matcher,
		dispatcher: dispatcher,
		logger:     logger,
		interval:   interval,
		limit:      limit,
		now:        time.Now,
	}, nil
}

func (s *MatchingSweep) Start(ctx context.Context) error {
	return runPeriodic(ctx, "matching", s.interval, s.logger, func(ctx context.Context) error {
		_, err := s.Sweep(ctx)
		return err
	})
}

// Sweep matches one page of stale requests and returns how many it handled.
func (s *MatchingSweep) Sweep(ctx context.Context) (int, error) {
	ids, err := s.requests.FindMatchable(ctx, s.now().UTC().Add(-s.matcher.staleAfter), s.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch matchable requests: %w", err)
	}

	handled := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return handled, err
		}
		if _, err := s.matcher.Match(ctx, id); err != nil {
			s.logger.Error("recovery matching failed", zap.String("requestId", id), zap.Error(err))
			continue
		}
		if _, err := s.dispatcher.Dispatch(ctx, id); err != nil {
			s.logger.Error("recovery dispatch failed", zap.String("requestId", id), zap.Error(err))
			continue
		}
		handled++
	}
	return handled, nil
}

// DispatchSweep re-dispatches toSchedule recipients left behind by a crashed
// or failed dispatch, and those reopened by a retry.
type DispatchSweep struct {
	requests   repository.RequestRepository
	dispatcher *Dispatcher
	logger     *zap.Logger
	interval   time.Duration
	grace      time.Duration
	limit      int
	now        func() time.Time
}

func NewDispatchSweep(
	requests repository.RequestRepository,
	dispatcher *Dispatcher,
	interval time.Duration,
	grace time.Duration,
	limit int,
	logger *zap.Logger,
) (*DispatchSweep, error) {
	if requests == nil || dispatcher == nil {
		return nil, fmt.Errorf("request repository and dispatcher are required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if grace <= 0 {
		grace = defaultDispatchGrace
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchSweep{
		requests:   requests,
		dispatcher: dispatcher,
		logger:     logger,
		interval:   interval,
		grace:      grace,
		limit:      limit,
		now:        time.Now,
	}, nil
}

func (s *DispatchSweep) Start(ctx context.Context) error {
	return runPeriodic(ctx, "dispatch", s.interval, s.logger, func(ctx context.Context) error {
		_, err := s.Sweep(ctx)
		return err
	})
}

// Sweep returns the number of recipients moved to scheduled.
func (s *DispatchSweep) Sweep(ctx context.Context) (int, error) {
	ids, err := s.requests.FindPendingDispatch(ctx, s.now().UTC().Add(-s.grace), s.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch requests pending dispatch: %w", err)
	}

	total := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		moved, err := s.dispatcher.Dispatch(ctx, id)
		total += moved
		if err != nil {
			s.logger.Error("re-dispatch failed", zap.String("requestId", id), zap.Error(err))
		}
	}
	if total > 0 {
		s.logger.Info("re-dispatched pending recipients", zap.Int("recipients", total))
	}
	return total, nil
}

package scheduler

import (
	"context"
	"time"

	"tradeloop/internal/logger"
)

// AlignedScheduler 在每个 Interval 边界之后 Offset 处执行任务（例如 1m K 线收盘后 5s）。
// 任务串行执行：上一轮未结束时不会开始下一轮。
type AlignedScheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewAlignedScheduler(name string, interval, offset time.Duration) *AlignedScheduler {
	return &AlignedScheduler{
		Name:     name,
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
	}
}

// Run 阻塞直到 ctx 结束。
func (s *AlignedScheduler) Run(ctx context.Context, task func(context.Context)) error {
	if s == nil || task == nil {
		return nil
	}
	if s.Interval <= 0 {
		logger.Warnf("AlignedScheduler[%s]: invalid interval=%s, exit", s.Name, s.Interval)
		return nil
	}
	if s.Offset < 0 || s.Offset >= s.Interval {
		logger.Warnf("AlignedScheduler[%s]: offset=%s out of range, clamp to 0", s.Name, s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("AlignedScheduler[%s]: started interval=%s offset=%s run_immediately=%v at=%s",
		s.Name, s.Interval, s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		task(ctx)
	}

	for {
		now := s.nowFn().UTC()
		_, wakeAt, wait := s.nextTimes(now)
		logger.Debugf("AlignedScheduler[%s]: next run at=%s (in %s) uptime=%s",
			s.Name, wakeAt.Format(time.RFC3339), wait.Truncate(time.Second), now.Sub(startAt).Truncate(time.Second))

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				logger.Infof("AlignedScheduler[%s]: ctx done, exit", s.Name)
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		task(ctx)
	}
}

func (s *AlignedScheduler) nextTimes(now time.Time) (boundary time.Time, wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	boundary = now.Truncate(s.Interval)
	wakeAt = boundary.Add(s.Offset)
	if !wakeAt.After(now) {
		boundary = boundary.Add(s.Interval)
		wakeAt = boundary.Add(s.Offset)
	}
	return boundary, wakeAt, wakeAt.Sub(now)
}

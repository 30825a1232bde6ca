package dispatch

import (
	"context"
	"time"
)

// backoff 是单个 provider 内的重试状态：已尝试次数、累计等待、下一次等待。
type backoff struct {
	attempt   int
	elapsed   time.Duration
	nextDelay time.Duration
	maxDelay  time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &backoff{nextDelay: base, maxDelay: max}
}

// step 记录一次失败的尝试并返回本次应等待的时长（base, 2*base, 4*base ... 封顶 maxDelay）。
func (b *backoff) step() time.Duration {
	d := b.nextDelay
	b.attempt++
	b.elapsed += d
	b.nextDelay *= 2
	if b.nextDelay > b.maxDelay {
		b.nextDelay = b.maxDelay
	}
	return d
}

// sleepCtx 只阻塞调用方；ctx 结束时提前返回。
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

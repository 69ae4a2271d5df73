package middleware

import (
	"context"
	"testing"
	"time"

	"resume-insight-go/internal/config"

	"github.com/stretchr/testify/assert"
)

func newLocalLimiter(limit int, window string) *PollRateLimiter {
	return NewPollRateLimiter(config.RateLimitConfig{
		Limit:    limit,
		Window:   window,
		InMemory: true,
	}, nil)
}

func TestAllowLocalUnderLimit(t *testing.T) {
	rl := newLocalLimiter(6, "60s")
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		assert.True(t, rl.allow(ctx, "10.0.0.1"), "第%d次请求应放行", i+1)
	}
	// 第7次超限
	assert.False(t, rl.allow(ctx, "10.0.0.1"))
}

func TestAllowLocalPerCallerIsolation(t *testing.T) {
	rl := newLocalLimiter(2, "60s")
	ctx := context.Background()

	assert.True(t, rl.allow(ctx, "10.0.0.1"))
	assert.True(t, rl.allow(ctx, "10.0.0.1"))
	assert.False(t, rl.allow(ctx, "10.0.0.1"))

	// 另一个调用方不受影响
	assert.True(t, rl.allow(ctx, "10.0.0.2"))
}

func TestAllowLocalWindowExpiry(t *testing.T) {
	rl := newLocalLimiter(2, "50ms")
	ctx := context.Background()

	assert.True(t, rl.allow(ctx, "10.0.0.1"))
	assert.True(t, rl.allow(ctx, "10.0.0.1"))
	assert.False(t, rl.allow(ctx, "10.0.0.1"))

	// 窗口滑过之后额度恢复
	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.allow(ctx, "10.0.0.1"))
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := NewPollRateLimiter(config.RateLimitConfig{}, nil)
	assert.Equal(t, 6, rl.limit)
	assert.Equal(t, 60*time.Second, rl.window)
}

package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"resume-insight-go/internal/config"
	"resume-insight-go/internal/logger"
	"resume-insight-go/internal/storage"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// PollRateLimiter 状态查询接口的限流器，按调用方IP做滑动窗口计数
// 多实例部署时窗口状态放在Redis里共享；Redis不可用或显式配置时
// 退化为进程内窗口（仅适用于单实例）
type PollRateLimiter struct {
	redis  *storage.Redis // 可为nil
	limit  int
	window time.Duration

	mu    sync.Mutex
	local map[string][]time.Time
}

// NewPollRateLimiter 创建限流器
func NewPollRateLimiter(cfg config.RateLimitConfig, redis *storage.Redis) *PollRateLimiter {
	limit := cfg.Limit
	if limit <= 0 {
		limit = 6
	}
	if cfg.InMemory {
		redis = nil
	}
	return &PollRateLimiter{
		redis:  redis,
		limit:  limit,
		window: config.GetDuration(cfg.Window, 60*time.Second),
		local:  make(map[string][]time.Time),
	}
}

// Middleware 返回hertz中间件
// 超限返回429并带Retry-After头；限流器自身故障时放行，
// 宁可短暂超卖也不能把查询入口打死
func (rl *PollRateLimiter) Middleware() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		callerID := ctx.ClientIP()
		if callerID == "" {
			callerID = "unknown"
		}

		allowed := rl.allow(c, callerID)
		if !allowed {
			ctx.Header("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			ctx.AbortWithStatusJSON(consts.StatusTooManyRequests, utils.H{
				"error": "请求过于频繁，请稍后重试",
			})
			return
		}
		ctx.Next(c)
	}
}

func (rl *PollRateLimiter) allow(ctx context.Context, callerID string) bool {
	if rl.redis != nil {
		allowed, err := rl.redis.AllowPollRequest(ctx, callerID, rl.limit, rl.window)
		if err == nil {
			return allowed
		}
		logger.Ctx(ctx).Warn().Err(err).Msg("Redis限流检查失败，回退到进程内窗口")
	}
	return rl.allowLocal(callerID)
}

// allowLocal 进程内滑动窗口：保留窗口期内的时间戳，计数判断后追加
func (rl *PollRateLimiter) allowLocal(callerID string) bool {
	now := time.Now()
	cutoff := now.Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	stamps := rl.local[callerID]
	kept := stamps[:0]
	for _, t := range stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= rl.limit {
		rl.local[callerID] = kept
		return false
	}

	rl.local[callerID] = append(kept, now)
	return true
}

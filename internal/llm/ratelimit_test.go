package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketBurstThenDeny(t *testing.T) {
	// qpm=60, capacity=5: 突发5个之后立即耗尽
	tb := NewTokenBucket(60, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, tb.Allow(), "第%d个令牌应可用", i+1)
	}
	assert.False(t, tb.Allow())
}

func TestTokenBucketRefills(t *testing.T) {
	// 600 qpm = 每秒10个令牌
	tb := NewTokenBucket(600, 1)
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	time.Sleep(150 * time.Millisecond)
	assert.True(t, tb.Allow())
}

func TestTokenBucketCapacityDefault(t *testing.T) {
	tb := NewTokenBucket(10, 0)
	assert.Equal(t, 5.0, tb.capacity)

	// qpm=1时容量兜底为1
	tb = NewTokenBucket(1, 0)
	assert.Equal(t, 1.0, tb.capacity)
}

func TestTokenBucketWaitRespectsContext(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	assert.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := tb.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryWithBackoffTransientError(t *testing.T) {
	tb := NewTokenBucket(6000, 10).WithRetryPolicy(time.Millisecond, 3)

	calls := 0
	err := tb.RetryWithBackoff(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoffPermanentError(t *testing.T) {
	tb := NewTokenBucket(6000, 10).WithRetryPolicy(time.Millisecond, 3)

	calls := 0
	err := tb.RetryWithBackoff(context.Background(), func() error {
		calls++
		return errors.New("invalid api key")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRateLimitedChatModelProxies(t *testing.T) {
	mock := NewMockChatModel(MockResponse{Content: "代理响应"})
	rl := NewRateLimitedChatModel(mock, 600)

	resp, err := rl.Generate(context.Background(), []*schema.Message{schema.UserMessage("你好")})
	require.NoError(t, err)
	assert.Equal(t, "代理响应", resp.Content)
	assert.Equal(t, 1, mock.CallCount())
}

func TestIsTransientError(t *testing.T) {
	assert.True(t, isTransientError(errors.New("request timeout")))
	assert.True(t, isTransientError(errors.New("429 Too Many Requests")))
	assert.True(t, isTransientError(errors.New("unexpected EOF")))
	assert.False(t, isTransientError(errors.New("invalid api key")))
	assert.False(t, isTransientError(nil))
}

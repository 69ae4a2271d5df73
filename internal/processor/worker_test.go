package processor

import (
	"encoding/json"
	"errors"
	"testing"

	"resume-insight-go/internal/config"
	"resume-insight-go/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleMessageCorruptBodyAcked(t *testing.T) {
	w := &Worker{pipeline: happyPipeline(newFakeJobStore())}

	// 损坏的消息体重回队列只会无限循环，必须确认丢弃
	assert.True(t, w.handleMessage([]byte("不是JSON")))
}

func TestHandleMessageMissingJobUUIDAcked(t *testing.T) {
	w := &Worker{pipeline: happyPipeline(newFakeJobStore())}

	body, err := json.Marshal(storage.AnalysisTaskMessage{SourceRef: "upload-1"})
	require.NoError(t, err)
	assert.True(t, w.handleMessage(body))
}

func TestHandleMessageInfraErrorRequeued(t *testing.T) {
	store := newFakeJobStore(processingJob())
	store.getErr = errors.New("数据库连接失败")
	w := &Worker{pipeline: happyPipeline(store)}

	body, err := json.Marshal(testTask())
	require.NoError(t, err)
	assert.False(t, w.handleMessage(body))
}

func TestHandleMessageSuccessAcked(t *testing.T) {
	store := newFakeJobStore(processingJob())
	w := &Worker{pipeline: happyPipeline(store)}

	body, err := json.Marshal(testTask())
	require.NoError(t, err)
	assert.True(t, w.handleMessage(body))
	assert.NotNil(t, store.completed["job-1"])
}

func TestWorkerStopIdempotent(t *testing.T) {
	w := NewWorker(nil, nil, &config.RabbitMQConfig{}, 0)
	assert.Equal(t, 1, w.workers)

	// 没有消费者时Stop安全，重复调用不会二次关闭
	w.stopChans = append(w.stopChans, make(chan struct{}))
	w.Stop()
	w.Stop()

	_, open := <-w.stopChans[0]
	assert.False(t, open)
}

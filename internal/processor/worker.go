package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"resume-insight-go/internal/config"
	"resume-insight-go/internal/logger"
	"resume-insight-go/internal/storage"
)

// Worker 分析任务的消费端工作池
// 每个工作者是一个独立的RabbitMQ消费者，prefetch=1保证单任务处理完才取下一条
type Worker struct {
	mq       *storage.RabbitMQ
	pipeline *AnalysisPipeline
	cfg      *config.RabbitMQConfig
	workers  int

	stopOnce  sync.Once
	stopChans []chan struct{}
}

// NewWorker 创建工作池，workers小于1时按1处理
func NewWorker(mq *storage.RabbitMQ, pipeline *AnalysisPipeline, cfg *config.RabbitMQConfig, workers int) *Worker {
	if workers < 1 {
		workers = 1
	}
	return &Worker{
		mq:       mq,
		pipeline: pipeline,
		cfg:      cfg,
		workers:  workers,
	}
}

// Start 声明拓扑并启动所有消费者
func (w *Worker) Start(ctx context.Context) error {
	if err := w.mq.EnsureExchange(w.cfg.AnalysisEventsExchange, "direct", true); err != nil {
		return fmt.Errorf("声明分析事件交换机失败: %w", err)
	}
	if err := w.mq.EnsureQueue(w.cfg.AnalysisTaskQueue, true); err != nil {
		return fmt.Errorf("声明分析任务队列失败: %w", err)
	}
	if err := w.mq.BindQueue(w.cfg.AnalysisTaskQueue, w.cfg.AnalysisEventsExchange, w.cfg.AnalysisTaskRoutingKey); err != nil {
		return fmt.Errorf("绑定分析任务队列失败: %w", err)
	}
	if w.cfg.NotificationExchange != "" {
		if err := w.mq.EnsureExchange(w.cfg.NotificationExchange, "topic", true); err != nil {
			return fmt.Errorf("声明通知交换机失败: %w", err)
		}
	}

	prefetch := w.cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}

	for i := 0; i < w.workers; i++ {
		stop, err := w.mq.StartConsumer(w.cfg.AnalysisTaskQueue, prefetch, w.handleMessage)
		if err != nil {
			return fmt.Errorf("启动消费者 %d 失败: %w", i, err)
		}
		w.stopChans = append(w.stopChans, stop)
	}

	logger.Info().
		Int("workers", w.workers).
		Str("queue", w.cfg.AnalysisTaskQueue).
		Msg("分析工作池已启动")
	return nil
}

// handleMessage 单条消息的处理入口，返回true确认消息，false重回队列
func (w *Worker) handleMessage(body []byte) bool {
	var task storage.AnalysisTaskMessage
	if err := json.Unmarshal(body, &task); err != nil {
		// 消息体损坏，重回队列只会无限循环，直接确认丢弃
		logger.Error().Err(err).Msg("分析任务消息反序列化失败，丢弃")
		return true
	}
	if task.JobUUID == "" {
		logger.Error().Msg("分析任务消息缺少job_uuid，丢弃")
		return true
	}

	if err := w.pipeline.Run(context.Background(), &task); err != nil {
		logger.Warn().Err(err).Str("job_uuid", task.JobUUID).Msg("分析任务处理失败，消息重回队列")
		return false
	}
	return true
}

// Stop 通知所有消费者停止取新消息，幂等
// 处理中的消息会先走完ack/nack，优雅退出时应先Stop再关闭连接
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		for _, stop := range w.stopChans {
			close(stop)
		}
		logger.Info().Int("workers", len(w.stopChans)).Msg("分析工作池已停止")
	})
}

package processor

import (
	"context"
	"time"

	"resume-insight-go/internal/storage/models"
	"resume-insight-go/internal/taxonomy"
	"resume-insight-go/internal/types"
)

// ProfileExtractor 从简历原文抽取结构化画像
type ProfileExtractor interface {
	Extract(ctx context.Context, rawText string) (*types.ExtractedProfile, error)
}

// ProfessionClassifier 把职业名称映射到职业分类ID
type ProfessionClassifier interface {
	Classify(ctx context.Context, jobTitle string) (taxonomy.Match, error)
}

// SalaryEstimator 基于画像和职业分类预测薪资区间
type SalaryEstimator interface {
	Estimate(ctx context.Context, profile *types.ExtractedProfile, professionID int) (types.SalaryRange, error)
}

// Advisor 生成简历改进建议，实现方保证永不失败
type Advisor interface {
	Generate(ctx context.Context, rawText string, profile *types.ExtractedProfile) string
}

// JobStore 分析任务的状态存取
type JobStore interface {
	GetAnalysisJob(ctx context.Context, jobUUID string) (*models.AnalysisJob, error)
	CompleteAnalysisJob(ctx context.Context, jobUUID string, outcome *types.AnalysisOutcome) error
	FailAnalysisJob(ctx context.Context, jobUUID string, stage string, cause string) error
}

// TextSource 读取已解析的简历文本
type TextSource interface {
	GetParsedText(ctx context.Context, objectKey string) (string, error)
}

// Notifier 投递分析完成通知，可为nil表示不发通知
type Notifier interface {
	PublishJSON(ctx context.Context, exchangeName, routingKey string, data interface{}, persistent bool) error
}

// StageTimeouts 各阶段的超时上限
type StageTimeouts struct {
	Extract   time.Duration
	Predict   time.Duration
	Recommend time.Duration
}

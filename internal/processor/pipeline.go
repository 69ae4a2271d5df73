package processor

import (
	"context"
	"errors"
	"time"

	"resume-insight-go/internal/constants"
	"resume-insight-go/internal/logger"
	"resume-insight-go/internal/storage"
	"resume-insight-go/internal/tracing"
	"resume-insight-go/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AnalysisPipeline 简历分析流水线
// 四个阶段顺序执行：画像抽取、职业分类、薪资预测、建议生成。
// 前三个阶段任一失败则任务进入错误态；建议阶段失败降级为兜底文案，不影响任务完成。
type AnalysisPipeline struct {
	store      JobStore
	texts      TextSource
	extractor  ProfileExtractor
	classifier ProfessionClassifier
	estimator  SalaryEstimator
	advisor    Advisor
	notifier   Notifier

	timeouts       StageTimeouts
	notifyExchange string
	notifyKey      string

	tracer trace.Tracer
}

// NewAnalysisPipeline 创建分析流水线
func NewAnalysisPipeline(
	store JobStore,
	texts TextSource,
	extractor ProfileExtractor,
	classifier ProfessionClassifier,
	estimator SalaryEstimator,
	advisor Advisor,
	timeouts StageTimeouts,
) *AnalysisPipeline {
	return &AnalysisPipeline{
		store:      store,
		texts:      texts,
		extractor:  extractor,
		classifier: classifier,
		estimator:  estimator,
		advisor:    advisor,
		timeouts:   timeouts,
		tracer:     otel.Tracer("analysis-pipeline"),
	}
}

// WithNotifier 配置完成通知的投递目标
func (p *AnalysisPipeline) WithNotifier(notifier Notifier, exchange, routingKey string) *AnalysisPipeline {
	p.notifier = notifier
	p.notifyExchange = exchange
	p.notifyKey = routingKey
	return p
}

// Run 执行一次完整的分析任务
// 返回nil表示消息应当确认（包括任务已进入终态的情况）；
// 返回错误表示基础设施故障，消息应当重回队列稍后重试
func (p *AnalysisPipeline) Run(ctx context.Context, task *storage.AnalysisTaskMessage) error {
	log := logger.Ctx(ctx).With().Str("job_uuid", task.JobUUID).Logger()

	job, err := p.store.GetAnalysisJob(ctx, task.JobUUID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			log.Error().Msg("收到未知任务的消息，丢弃")
			return nil
		}
		return err
	}

	// 消息重复投递时任务可能已经处理完，终态任务直接确认
	if job.Status != constants.StatusProcessing {
		log.Info().Str("status", job.Status).Msg("任务已进入终态，跳过重复投递")
		return nil
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("analysis.job_uuid", task.JobUUID),
			attribute.String("analysis.source_ref", task.SourceRef),
			// 通知邮箱属于个人信息，入追踪前掩码
			attribute.String("analysis.notify_email", tracing.SafeAttributeValue("notify_email", task.NotifyEmail, tracing.DefaultMaxLength)),
		),
	)
	defer span.End()

	start := time.Now()

	// 阶段1: 画像抽取（读取解析文本也算在本阶段的超时预算内）
	extractCtx, cancelExtract := context.WithTimeout(ctx, p.timeouts.Extract)
	rawText, profile, err := p.runExtract(extractCtx, task)
	cancelExtract()
	if err != nil {
		log.Warn().Err(err).Msg("画像抽取失败")
		return p.failJob(ctx, span, task, constants.StageExtract, err)
	}
	log.Debug().Str("job_title", profile.JobTitle).Msg("画像抽取完成")

	// 阶段2: 职业分类
	match, err := p.classifier.Classify(ctx, profile.JobTitle)
	if err != nil {
		log.Warn().Err(err).Msg("职业分类失败")
		return p.failJob(ctx, span, task, constants.StageClassify, err)
	}
	log.Debug().Int("profession_id", match.ID).Float64("confidence", match.Confidence).Msg("职业分类完成")

	// 阶段3: 薪资预测
	predictCtx, cancelPredict := context.WithTimeout(ctx, p.timeouts.Predict)
	salary, err := p.estimator.Estimate(predictCtx, profile, match.ID)
	cancelPredict()
	if err != nil {
		log.Warn().Err(err).Msg("薪资预测失败")
		return p.failJob(ctx, span, task, constants.StagePredict, err)
	}

	// 阶段4: 建议生成，失败由实现方内部降级，流水线不感知
	recommendCtx, cancelRecommend := context.WithTimeout(ctx, p.timeouts.Recommend)
	recommendation := p.advisor.Generate(recommendCtx, rawText, profile)
	cancelRecommend()

	outcome := &types.AnalysisOutcome{
		Profile:         profile,
		ProfessionID:    match.ID,
		ProfessionLabel: match.Label,
		Salary:          salary,
		Recommendation:  recommendation,
	}

	if err := p.store.CompleteAnalysisJob(ctx, task.JobUUID, outcome); err != nil {
		if errors.Is(err, storage.ErrJobAlreadyTerminal) || errors.Is(err, storage.ErrJobNotFound) {
			log.Warn().Err(err).Msg("完成写入被终态保护拒绝")
			return nil
		}
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return err
	}

	log.Info().Dur("elapsed", time.Since(start)).Msg("分析任务完成")
	p.notify(ctx, task, constants.StatusCompleted)
	return nil
}

// runExtract 读取解析文本并抽取画像，原文同时返回给建议阶段复用
func (p *AnalysisPipeline) runExtract(ctx context.Context, task *storage.AnalysisTaskMessage) (string, *types.ExtractedProfile, error) {
	rawText, err := p.texts.GetParsedText(ctx, task.RawTextPath)
	if err != nil {
		return "", nil, err
	}
	profile, err := p.extractor.Extract(ctx, rawText)
	if err != nil {
		return "", nil, err
	}
	return rawText, profile, nil
}

// failJob 把任务置为错误态
// 终态保护拒绝说明任务已被并发处理完，按成功确认处理；
// 数据库故障则上抛让消息重试
func (p *AnalysisPipeline) failJob(ctx context.Context, span trace.Span, task *storage.AnalysisTaskMessage, stage string, cause error) error {
	errType := tracing.ErrorTypeInternal
	if errors.Is(cause, context.DeadlineExceeded) {
		errType = tracing.ErrorTypeTimeout
	}
	tracing.RecordErrorWithInfo(span, cause, errType, attribute.String("analysis.failed_stage", stage))

	if err := p.store.FailAnalysisJob(ctx, task.JobUUID, stage, cause.Error()); err != nil {
		if errors.Is(err, storage.ErrJobAlreadyTerminal) || errors.Is(err, storage.ErrJobNotFound) {
			return nil
		}
		return err
	}
	p.notify(ctx, task, constants.StatusError)
	return nil
}

// notify 尽力投递完成通知，失败不影响任务结果
func (p *AnalysisPipeline) notify(ctx context.Context, task *storage.AnalysisTaskMessage, status string) {
	if p.notifier == nil || task.NotifyEmail == "" {
		return
	}
	msg := storage.AnalysisNotifyMessage{
		JobUUID:     task.JobUUID,
		SourceRef:   task.SourceRef,
		Status:      status,
		NotifyEmail: task.NotifyEmail,
		FinishedAt:  time.Now(),
	}
	if err := p.notifier.PublishJSON(ctx, p.notifyExchange, p.notifyKey, msg, true); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("job_uuid", task.JobUUID).Msg("投递完成通知失败")
	}
}

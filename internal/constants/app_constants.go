package constants

const (
	// 分析任务状态
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"

	// 流水线阶段名称，写入failed_stage字段
	StageExtract   = "extract"
	StageClassify  = "classify"
	StagePredict   = "predict"
	StageRecommend = "recommend"

	// 推荐阶段失败时的兜底文案
	FallbackRecommendation = "暂时无法生成个性化建议，请稍后重试。通用建议：突出与目标岗位直接相关的技能和量化成果，保持简历结构清晰。"

	// 出站消息事件类型
	EventTypeAnalysisTask = "analysis.task.created"
)

package storage

import "time"

// AnalysisTaskMessage 分析任务消息
// 由出站箱中继投递到分析任务队列，消费者据此执行流水线
type AnalysisTaskMessage struct {
	JobUUID     string    `json:"job_uuid"`               // 任务UUID
	SourceRef   string    `json:"source_ref"`             // 来源文档引用（上传UUID）
	RawTextPath string    `json:"raw_text_path"`          // 解析文本在MinIO中的对象键
	NotifyEmail string    `json:"notify_email,omitempty"` // 完成后的通知地址
	SubmittedAt time.Time `json:"submitted_at"`           // 提交时间
}

// AnalysisNotifyMessage 分析完成通知消息
// 投递到通知交换机，由外部通知服务消费
type AnalysisNotifyMessage struct {
	JobUUID     string    `json:"job_uuid"`
	SourceRef   string    `json:"source_ref"`
	Status      string    `json:"status"` // completed / error
	NotifyEmail string    `json:"notify_email"`
	FinishedAt  time.Time `json:"finished_at"`
}

package models

import (
	"time"

	"gorm.io/datatypes"
)

// AnalysisJob 简历分析任务表
// source_ref 上的唯一索引是幂等提交的权威保障，查找只是优化
type AnalysisJob struct {
	JobUUID   string `gorm:"type:char(36);primaryKey"`
	SourceRef string `gorm:"type:varchar(255);not null;uniqueIndex:idx_analysis_jobs_source_ref"`

	RequesterID *string `gorm:"type:varchar(255)"`
	NotifyEmail *string `gorm:"type:varchar(255)"`

	// processing / completed / error，只允许单向迁移到终态
	Status string `gorm:"type:varchar(20);default:'processing';not null;index:idx_analysis_jobs_status_created_at"`

	// 仅在completed时非空
	Result datatypes.JSON `gorm:"type:json"`
	// 仅在error时非空
	FailedStage  string `gorm:"type:varchar(50)"`
	ErrorMessage string `gorm:"type:text"`

	CreatedAt   time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_analysis_jobs_status_created_at,sort:asc"`
	CompletedAt *time.Time `gorm:"type:datetime(6)"`
}

func (AnalysisJob) TableName() string {
	return "analysis_jobs"
}

// ResumeUpload 简历上传记录表
// upload_uuid 即提交分析时使用的source_ref
type ResumeUpload struct {
	UploadUUID          string    `gorm:"type:char(36);primaryKey"`
	OriginalFilename    string    `gorm:"type:varchar(255)"`
	OriginalFilePathOSS string    `gorm:"type:varchar(1024)"`
	ParsedTextPathOSS   string    `gorm:"type:varchar(1024)"`
	CreatedAt           time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

func (ResumeUpload) TableName() string {
	return "resume_uploads"
}

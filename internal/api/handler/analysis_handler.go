package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"resume-insight-go/internal/config"
	"resume-insight-go/internal/constants"
	"resume-insight-go/internal/logger"
	"resume-insight-go/internal/parser"
	"resume-insight-go/internal/storage"
	"resume-insight-go/internal/storage/models"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/gofrs/uuid/v5"
)

// 上传文件大小上限 10MB
const maxUploadBytes = 10 << 20

// 原始文件预签名下载链接的有效期
const presignExpiry = time.Hour

// AnalysisHandler 简历分析的HTTP入口
type AnalysisHandler struct {
	cfg          *config.Config
	storage      *storage.Storage
	pdfExtractor *parser.PDFTextExtractor
}

// NewAnalysisHandler 创建分析处理器
func NewAnalysisHandler(cfg *config.Config, store *storage.Storage, pdfExtractor *parser.PDFTextExtractor) *AnalysisHandler {
	return &AnalysisHandler{
		cfg:          cfg,
		storage:      store,
		pdfExtractor: pdfExtractor,
	}
}

// StartAnalysisRequest 提交分析请求体
type StartAnalysisRequest struct {
	SourceRef   string `json:"source_ref"`
	NotifyEmail string `json:"notify_email"`
	RequesterID string `json:"requester_id"`
}

// StartAnalysisResponse 提交分析响应体
type StartAnalysisResponse struct {
	JobUUID string `json:"job_uuid"`
	Status  string `json:"status"`
	Created bool   `json:"created"`
}

// AnalysisStatusResponse 任务状态查询响应体
type AnalysisStatusResponse struct {
	JobUUID      string      `json:"job_uuid"`
	SourceRef    string      `json:"source_ref"`
	Status       string      `json:"status"`
	Result       interface{} `json:"result,omitempty"`
	FailedStage  string      `json:"failed_stage,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

// UploadResponse 简历上传响应体，upload_uuid即后续提交分析的source_ref
type UploadResponse struct {
	UploadUUID      string `json:"upload_uuid"`
	TextChars       int    `json:"text_chars"`
	OriginalFileURL string `json:"original_file_url,omitempty"`
}

// HandleUpload 处理简历PDF上传
// 上传即同步解析文本并双写MinIO，解析失败的文件直接拒绝，
// 避免把必然失败的任务放进流水线
func (h *AnalysisHandler) HandleUpload(c context.Context, ctx *app.RequestContext) {
	// 对象存储降级启动时上传通道不可用，显式拒绝而不是空指针崩溃
	if h.storage.MinIO == nil {
		ctx.JSON(consts.StatusServiceUnavailable, utils.H{"error": "对象存储暂不可用，请稍后重试"})
		return
	}

	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "文件未找到"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		ctx.JSON(consts.StatusRequestEntityTooLarge, utils.H{"error": "文件过大"})
		return
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if ext == "" {
		ext = ".pdf"
	}
	if ext != ".pdf" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "仅支持PDF文件"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "打开文件失败"})
		return
	}
	defer file.Close()

	fileBytes, err := io.ReadAll(file)
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "读取文件失败"})
		return
	}

	newUUID, err := uuid.NewV7()
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "生成UUID失败"})
		return
	}
	uploadUUID := newUUID.String()

	text, err := h.pdfExtractor.ExtractTextFromBytes(c, fileBytes, fileHeader.Filename)
	if err != nil {
		logger.Ctx(c).Warn().Err(err).Str("filename", fileHeader.Filename).Msg("PDF解析失败")
		ctx.JSON(consts.StatusUnprocessableEntity, utils.H{"error": "PDF解析失败"})
		return
	}
	if strings.TrimSpace(text) == "" {
		ctx.JSON(consts.StatusUnprocessableEntity, utils.H{"error": "PDF中没有可提取的文本"})
		return
	}

	originalKey, err := h.storage.MinIO.UploadResumeFile(c, uploadUUID, ext, bytes.NewReader(fileBytes), int64(len(fileBytes)))
	if err != nil {
		logger.Ctx(c).Error().Err(err).Msg("上传原始简历失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "存储原始文件失败"})
		return
	}

	parsedKey, err := h.storage.MinIO.UploadParsedText(c, uploadUUID, text)
	if err != nil {
		logger.Ctx(c).Error().Err(err).Msg("上传解析文本失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "存储解析文本失败"})
		return
	}

	upload := &models.ResumeUpload{
		UploadUUID:          uploadUUID,
		OriginalFilename:    fileHeader.Filename,
		OriginalFilePathOSS: originalKey,
		ParsedTextPathOSS:   parsedKey,
	}
	if err := h.storage.MySQL.CreateResumeUpload(c, upload); err != nil {
		logger.Ctx(c).Error().Err(err).Msg("写入上传记录失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "写入上传记录失败"})
		return
	}

	// 预签名下载链接是附带信息，生成失败不影响上传结果
	fileURL, err := h.storage.MinIO.GetPresignedURL(c, originalKey, presignExpiry)
	if err != nil {
		logger.Ctx(c).Warn().Err(err).Msg("生成预签名URL失败")
	}

	ctx.JSON(consts.StatusOK, UploadResponse{
		UploadUUID:      uploadUUID,
		TextChars:       len(text),
		OriginalFileURL: fileURL,
	})
}

// StartAnalysis 提交分析任务
// 同一source_ref幂等：重复提交返回既有任务，不会产生第二条流水线。
// 任务创建和出站消息落库在同一事务内，保证"有任务必有消息"
func (h *AnalysisHandler) StartAnalysis(c context.Context, ctx *app.RequestContext) {
	var req StartAnalysisRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
		return
	}
	req.SourceRef = strings.TrimSpace(req.SourceRef)
	if req.SourceRef == "" || len(req.SourceRef) > 255 {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "source_ref不能为空且长度不超过255"})
		return
	}
	req.NotifyEmail = strings.TrimSpace(req.NotifyEmail)
	if req.NotifyEmail != "" && !strings.Contains(req.NotifyEmail, "@") {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "notify_email格式不正确"})
		return
	}

	upload, err := h.storage.MySQL.GetResumeUpload(c, req.SourceRef)
	if err != nil {
		if errors.Is(err, storage.ErrUploadNotFound) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "source_ref对应的上传记录不存在"})
			return
		}
		logger.Ctx(c).Error().Err(err).Msg("查询上传记录失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "内部错误"})
		return
	}

	var requesterID, notifyEmail *string
	if req.RequesterID != "" {
		requesterID = &req.RequesterID
	}
	if req.NotifyEmail != "" {
		notifyEmail = &req.NotifyEmail
	}

	tx := h.storage.MySQL.DB().WithContext(c).Begin()
	if tx.Error != nil {
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "内部错误"})
		return
	}
	defer tx.Rollback()

	job, created, err := h.storage.MySQL.CreateOrGetAnalysisJob(c, tx, req.SourceRef, requesterID, notifyEmail)
	if err != nil {
		logger.Ctx(c).Error().Err(err).Str("source_ref", req.SourceRef).Msg("创建分析任务失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "创建任务失败"})
		return
	}

	if created {
		task := storage.AnalysisTaskMessage{
			JobUUID:     job.JobUUID,
			SourceRef:   job.SourceRef,
			RawTextPath: upload.ParsedTextPathOSS,
			NotifyEmail: req.NotifyEmail,
			SubmittedAt: time.Now(),
		}
		if err := h.storage.MySQL.EnqueueOutboxMessage(
			tx,
			job.JobUUID,
			constants.EventTypeAnalysisTask,
			task,
			h.cfg.RabbitMQ.AnalysisEventsExchange,
			h.cfg.RabbitMQ.AnalysisTaskRoutingKey,
		); err != nil {
			logger.Ctx(c).Error().Err(err).Msg("写入出站消息失败")
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "创建任务失败"})
			return
		}
	}

	if err := tx.Commit().Error; err != nil {
		logger.Ctx(c).Error().Err(err).Msg("提交分析任务事务失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "创建任务失败"})
		return
	}

	statusCode := consts.StatusOK
	if created {
		statusCode = consts.StatusCreated
	}
	ctx.JSON(statusCode, StartAnalysisResponse{
		JobUUID: job.JobUUID,
		Status:  job.Status,
		Created: created,
	})
}

// GetAnalysis 查询分析任务状态
// 限流在前置中间件完成，这里只处理404和状态投影
func (h *AnalysisHandler) GetAnalysis(c context.Context, ctx *app.RequestContext) {
	jobUUID := ctx.Param("analysis_id")
	if _, err := uuid.FromString(jobUUID); err != nil {
		ctx.JSON(consts.StatusNotFound, utils.H{"error": "任务不存在"})
		return
	}

	job, err := h.storage.MySQL.GetAnalysisJob(c, jobUUID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "任务不存在"})
			return
		}
		logger.Ctx(c).Error().Err(err).Str("job_uuid", jobUUID).Msg("查询分析任务失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "内部错误"})
		return
	}

	ctx.JSON(consts.StatusOK, buildStatusResponse(job))
}

// ListStale 列出疑似卡死的任务（长时间停留在processing）
func (h *AnalysisHandler) ListStale(c context.Context, ctx *app.RequestContext) {
	limit := 50
	if raw := ctx.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	staleAfter := config.GetDuration(h.cfg.Pipeline.StaleAfter, 10*time.Minute)
	jobs, err := h.storage.MySQL.FindStaleAnalysisJobs(c, time.Now().Add(-staleAfter), limit)
	if err != nil {
		logger.Ctx(c).Error().Err(err).Msg("查询滞留任务失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "内部错误"})
		return
	}

	items := make([]AnalysisStatusResponse, 0, len(jobs))
	for i := range jobs {
		items = append(items, buildStatusResponse(&jobs[i]))
	}
	ctx.JSON(consts.StatusOK, utils.H{
		"count": len(items),
		"items": items,
	})
}

// Health 健康检查
func (h *AnalysisHandler) Health(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
}

// buildStatusResponse 按任务状态投影响应字段
// completed暴露result，error暴露失败阶段和原因，processing两者皆无
func buildStatusResponse(job *models.AnalysisJob) AnalysisStatusResponse {
	resp := AnalysisStatusResponse{
		JobUUID:     job.JobUUID,
		SourceRef:   job.SourceRef,
		Status:      job.Status,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}
	switch job.Status {
	case constants.StatusCompleted:
		if len(job.Result) > 0 {
			// datatypes.JSON 原样透传，避免二次解析
			resp.Result = rawJSON(job.Result)
		}
	case constants.StatusError:
		resp.FailedStage = job.FailedStage
		resp.ErrorMessage = job.ErrorMessage
	}
	return resp
}

// rawJSON 让已经是JSON的字节串在响应序列化时原样输出
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

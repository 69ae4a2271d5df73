package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"resume-insight-go/internal/config"
	"resume-insight-go/internal/constants"
	"resume-insight-go/internal/storage/models"
	"resume-insight-go/internal/tracing"
	"resume-insight-go/internal/types"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("resume-insight-go/storage/mysql")

// 任务状态机相关的哨兵错误
var (
	// ErrJobNotFound 指定的分析任务不存在
	ErrJobNotFound = errors.New("分析任务不存在")
	// ErrJobAlreadyTerminal 任务已处于终态，拒绝再次迁移
	ErrJobAlreadyTerminal = errors.New("分析任务已处于终态")
	// ErrUploadNotFound 指定的上传记录不存在
	ErrUploadNotFound = errors.New("上传记录不存在")
)

// GormTracingPlugin 是一个GORM插件，用于向OpenTelemetry中添加数据库操作的追踪点
type GormTracingPlugin struct {
	tracer trace.Tracer
	dbName string
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}

	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}

	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}

	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}

	if err := cb.Row().Before("gorm:row").Register("otel:before_row", p.before("ROW")); err != nil {
		return err
	}
	if err := cb.Row().After("gorm:row").Register("otel:after_row", p.after()); err != nil {
		return err
	}

	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after()); err != nil {
		return err
	}

	return nil
}

type gormSpanKey struct{}

// before 返回在GORM操作之前执行的回调函数
func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		spanName := fmt.Sprintf("%s %s", operation, tableName)
		newCtx, span := p.tracer.Start(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		)

		// 将span保存在DB上下文中，以便在after回调中使用
		db.Statement.Context = context.WithValue(newCtx, gormSpanKey{}, span)
	}
}

// after 返回在GORM操作之后执行的回调函数
func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(gormSpanKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))

		if db.Error != nil {
			if errors.Is(db.Error, gorm.ErrRecordNotFound) {
				// ErrRecordNotFound 是业务逻辑正常情况的一部分，不应作为错误处理
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			} else {
				span.SetAttributes(attribute.String("error.type", "database_error"))
				span.RecordError(db.Error)
				span.SetStatus(codes.Error, db.Error.Error())
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// NewGormTracingPlugin 创建一个新的GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer: mysqlTracer,
		dbName: dbName,
	}
}

// MySQL 提供关系数据库功能，是任务状态的唯一可信来源
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	// 构建DSN，添加超时设置
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Warn),
		PrepareStmt:                              true,
		// 把方言错误翻译为gorm.ErrDuplicatedKey等统一错误
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	m := &MySQL{
		db:  db,
		cfg: cfg,
	}

	// 注册OpenTelemetry追踪插件
	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	if err := m.autoMigrateSchema(); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	log.Println("成功连接到MySQL并自动迁移数据库结构")
	return m, nil
}

// autoMigrateSchema 使用GORM自动迁移数据库表结构
func (m *MySQL) autoMigrateSchema() error {
	// 创建一个静默的logger以关闭迁移期间的SQL日志打印
	silentLogger := logger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	silentDB := m.db.Session(&gorm.Session{Logger: silentLogger})

	err := silentDB.AutoMigrate(
		&models.AnalysisJob{},
		&models.ResumeUpload{},
		&models.OutboxMessage{},
	)
	if err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// CreateOrGetAnalysisJob 幂等创建分析任务
// 先按source_ref查找；未命中时插入新任务。两个并发提交同时未命中时，
// 唯一索引会让后到者拿到重复键错误，此时回查并返回先到者创建的任务。
// 返回的created指示本次调用是否真正创建了新任务。
func (m *MySQL) CreateOrGetAnalysisJob(ctx context.Context, tx *gorm.DB, sourceRef string, requesterID, notifyEmail *string) (*models.AnalysisJob, bool, error) {
	ctx, span := mysqlTracer.Start(ctx, "CreateOrGetAnalysisJob", trace.WithAttributes(
		attribute.String("job.source_ref", tracing.SafeAttributeValue("source_ref", sourceRef, tracing.DefaultMaxLength)),
	))
	defer span.End()

	db := m.db
	if tx != nil {
		db = tx
	}

	var existing models.AnalysisJob
	err := db.WithContext(ctx).Where("source_ref = ?", sourceRef).First(&existing).Error
	if err == nil {
		span.SetAttributes(attribute.Bool("job.created", false), attribute.String("job.uuid", existing.JobUUID))
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, false, fmt.Errorf("查询分析任务失败: %w", err)
	}

	newUUID, err := uuid.NewV7()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return nil, false, fmt.Errorf("生成UUIDv7失败: %w", err)
	}

	job := &models.AnalysisJob{
		JobUUID:     newUUID.String(),
		SourceRef:   sourceRef,
		RequesterID: requesterID,
		NotifyEmail: notifyEmail,
		Status:      constants.StatusProcessing,
	}

	err = db.WithContext(ctx).Create(job).Error
	if err == nil {
		span.SetAttributes(attribute.Bool("job.created", true), attribute.String("job.uuid", job.JobUUID))
		return job, true, nil
	}

	// 并发提交撞上唯一索引，回查赢家。
	// 回查必须走独立会话而不是调用方事务：REPEATABLE READ下，
	// 事务的一致性快照建立于赢家提交之前，事务内回查看不到赢家的行
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		var winner models.AnalysisJob
		if qerr := m.db.WithContext(ctx).Where("source_ref = ?", sourceRef).First(&winner).Error; qerr != nil {
			tracing.RecordError(span, qerr, tracing.ErrorTypeDB)
			return nil, false, fmt.Errorf("重复键后回查分析任务失败: %w", qerr)
		}
		span.SetAttributes(attribute.Bool("job.created", false), attribute.String("job.uuid", winner.JobUUID))
		return &winner, false, nil
	}

	tracing.RecordError(span, err, tracing.ErrorTypeDB)
	return nil, false, fmt.Errorf("创建分析任务失败: %w", err)
}

// GetAnalysisJob 按任务UUID读取任务
func (m *MySQL) GetAnalysisJob(ctx context.Context, jobUUID string) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	err := m.db.WithContext(ctx).Where("job_uuid = ?", jobUUID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询分析任务失败: %w", err)
	}
	return &job, nil
}

// CompleteAnalysisJob 将任务迁移到completed终态
// WHERE status='processing' 保证终态不可变：已经终结的任务不会被改写
func (m *MySQL) CompleteAnalysisJob(ctx context.Context, jobUUID string, outcome *types.AnalysisOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("序列化分析结果失败: %w", err)
	}

	now := time.Now()
	result := m.db.WithContext(ctx).Model(&models.AnalysisJob{}).
		Where("job_uuid = ? AND status = ?", jobUUID, constants.StatusProcessing).
		Updates(map[string]interface{}{
			"status":       constants.StatusCompleted,
			"result":       payload,
			"completed_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("完成分析任务失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return m.terminalTransitionRejected(ctx, jobUUID)
	}
	return nil
}

// FailAnalysisJob 将任务迁移到error终态，记录失败阶段与原因
func (m *MySQL) FailAnalysisJob(ctx context.Context, jobUUID string, stage string, cause string) error {
	now := time.Now()
	result := m.db.WithContext(ctx).Model(&models.AnalysisJob{}).
		Where("job_uuid = ? AND status = ?", jobUUID, constants.StatusProcessing).
		Updates(map[string]interface{}{
			"status":        constants.StatusError,
			"failed_stage":  stage,
			"error_message": cause,
			"completed_at":  &now,
		})
	if result.Error != nil {
		return fmt.Errorf("标记分析任务失败状态出错: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return m.terminalTransitionRejected(ctx, jobUUID)
	}
	return nil
}

// terminalTransitionRejected 区分"任务不存在"和"任务已终结"两种零行更新
func (m *MySQL) terminalTransitionRejected(ctx context.Context, jobUUID string) error {
	var count int64
	if err := m.db.WithContext(ctx).Model(&models.AnalysisJob{}).Where("job_uuid = ?", jobUUID).Count(&count).Error; err != nil {
		return fmt.Errorf("确认任务状态失败: %w", err)
	}
	if count == 0 {
		return ErrJobNotFound
	}
	return ErrJobAlreadyTerminal
}

// FindStaleAnalysisJobs 列出疑似卡死的任务：创建时间早于阈值但仍在processing
func (m *MySQL) FindStaleAnalysisJobs(ctx context.Context, olderThan time.Time, limit int) ([]models.AnalysisJob, error) {
	var jobs []models.AnalysisJob
	err := m.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", constants.StatusProcessing, olderThan).
		Order("created_at asc").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("查询滞留任务失败: %w", err)
	}
	return jobs, nil
}

// CreateResumeUpload 记录一次简历上传
func (m *MySQL) CreateResumeUpload(ctx context.Context, upload *models.ResumeUpload) error {
	if err := m.db.WithContext(ctx).Create(upload).Error; err != nil {
		return fmt.Errorf("创建上传记录失败: %w", err)
	}
	return nil
}

// GetResumeUpload 按上传UUID读取上传记录
func (m *MySQL) GetResumeUpload(ctx context.Context, uploadUUID string) (*models.ResumeUpload, error) {
	var upload models.ResumeUpload
	err := m.db.WithContext(ctx).Where("upload_uuid = ?", uploadUUID).First(&upload).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUploadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询上传记录失败: %w", err)
	}
	return &upload, nil
}

// EnqueueOutboxMessage 在给定事务内落一条出站消息
// 必须与触发它的业务写入同事务，这是出站箱模式的全部意义
func (m *MySQL) EnqueueOutboxMessage(tx *gorm.DB, aggregateID, eventType string, payload interface{}, exchange, routingKey string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化出站消息失败: %w", err)
	}
	msg := &models.OutboxMessage{
		AggregateID:      aggregateID,
		EventType:        eventType,
		Payload:          string(body),
		TargetExchange:   exchange,
		TargetRoutingKey: routingKey,
		Status:           models.OutboxStatusPending,
	}
	if err := tx.Create(msg).Error; err != nil {
		return fmt.Errorf("写入出站消息失败: %w", err)
	}
	return nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"resume-match-go/internal/config"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("resume-match-go/storage/mysql")

// GormTracingPlugin GORM插件，为数据库操作注入OpenTelemetry追踪
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	disableErrSkip bool
}

// NewGormTracingPlugin 创建GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		disableErrSkip: true,
	}
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
	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after()); err != nil {
		return err
	}

	return nil
}

type gormSpanKey struct{}

// before 返回操作前回调：开启span并挂到Statement上下文
func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}

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

		db.Statement.Context = context.WithValue(newCtx, gormSpanKey{}, span)
	}
}

// after 返回操作后回调：补充属性、记录错误并结束span
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
				// 未找到记录属于正常业务分支
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			} else {
				span.RecordError(db.Error)
				span.SetStatus(codes.Error, db.Error.Error())
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// MySQL 关系库访问层
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 连接MySQL并自动迁移表结构
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	var logLevel logger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = logger.Silent
	case 2:
		logLevel = logger.Error
	case 3:
		logLevel = logger.Warn
	default:
		logLevel = logger.Info
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
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

	m := &MySQL{db: db, cfg: cfg}

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	if err := m.autoMigrateSchema(); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	return m, nil
}

// autoMigrateSchema 静默迁移全部表结构
func (m *MySQL) autoMigrateSchema() error {
	silentLogger := logger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
		},
	)
	silentDB := m.db.Session(&gorm.Session{Logger: silentLogger})

	return silentDB.AutoMigrate(
		&models.Category{},
		&models.Job{},
		&models.Candidate{},
		&models.ResumeSubmission{},
		&models.JobScore{},
		&models.ProcessLog{},
	)
}

// DB 返回GORM连接实例
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

// GetOrCreateCategory 按名称取分类，不存在则创建。
// 并发下撞唯一索引时回读一次。
func (m *MySQL) GetOrCreateCategory(ctx context.Context, name string) (*models.Category, error) {
	if name == "" {
		return nil, fmt.Errorf("分类名不能为空")
	}

	var category models.Category
	err := m.db.WithContext(ctx).Where("name = ?", name).First(&category).Error
	if err == nil {
		return &category, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查询分类失败: %w", err)
	}

	category = models.Category{Name: name}
	if err := m.db.WithContext(ctx).Create(&category).Error; err != nil {
		if readErr := m.db.WithContext(ctx).Where("name = ?", name).First(&category).Error; readErr == nil {
			return &category, nil
		}
		return nil, fmt.Errorf("创建分类失败: %w", err)
	}
	return &category, nil
}

// GetCategoryByID 按主键取分类
func (m *MySQL) GetCategoryByID(ctx context.Context, categoryID uint64) (*models.Category, error) {
	var category models.Category
	if err := m.db.WithContext(ctx).Where("category_id = ?", categoryID).First(&category).Error; err != nil {
		return nil, err
	}
	return &category, nil
}

// ListCategories 列出全部分类，服务启动时预热分类索引用
func (m *MySQL) ListCategories(ctx context.Context) ([]models.Category, error) {
	var categories []models.Category
	if err := m.db.WithContext(ctx).Order("category_id").Find(&categories).Error; err != nil {
		return nil, err
	}
	return categories, nil
}

// CreateJob 新建岗位记录
func (m *MySQL) CreateJob(ctx context.Context, job *models.Job) error {
	return m.db.WithContext(ctx).Create(job).Error
}

// GetJobByID 按 JobID 取岗位
func (m *MySQL) GetJobByID(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := m.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateResumeSubmission 新建简历提交快照
func (m *MySQL) CreateResumeSubmission(ctx context.Context, sub *models.ResumeSubmission) error {
	return m.db.WithContext(ctx).Create(sub).Error
}

// UpdateResumeProcessingStatus 更新简历处理状态
func (m *MySQL) UpdateResumeProcessingStatus(ctx context.Context, submissionUUID, status string) error {
	return m.db.WithContext(ctx).
		Model(&models.ResumeSubmission{}).
		Where("submission_uuid = ?", submissionUUID).
		Update("processing_status", status).Error
}

// LinkSubmissionToCandidate 身份归并后把提交记录挂到候选人，并落降级标记
func (m *MySQL) LinkSubmissionToCandidate(ctx context.Context, submissionUUID, candidateID string, degraded bool) error {
	return m.db.WithContext(ctx).
		Model(&models.ResumeSubmission{}).
		Where("submission_uuid = ?", submissionUUID).
		Updates(map[string]interface{}{
			"candidate_id": candidateID,
			"degraded":     degraded,
		}).Error
}

// ListSubmissionsByStatus 按处理状态列出提交记录
func (m *MySQL) ListSubmissionsByStatus(ctx context.Context, status string, limit int) ([]models.ResumeSubmission, error) {
	var subs []models.ResumeSubmission
	q := m.db.WithContext(ctx).Where("processing_status = ?", status).Order("created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// GetSubmissionByUUID 按UUID取提交记录
func (m *MySQL) GetSubmissionByUUID(ctx context.Context, submissionUUID string) (*models.ResumeSubmission, error) {
	var sub models.ResumeSubmission
	if err := m.db.WithContext(ctx).Where("submission_uuid = ?", submissionUUID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpsertJobScore 写入评分，(submission_uuid, job_id) 冲突时覆盖旧评分
func (m *MySQL) UpsertJobScore(ctx context.Context, score *models.JobScore) error {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.UpsertJobScore",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemMySQL,
			attribute.String("db.sql.table", "job_scores"),
			attribute.String("job.id", score.JobID),
		))
	defer span.End()

	err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "submission_uuid"}, {Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"candidate_id", "criteria_json", "final_score", "degraded", "evaluated_at",
		}),
	}).Create(score).Error

	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// ListJobScores 按岗位取评分，final_score 降序
func (m *MySQL) ListJobScores(ctx context.Context, jobID string, limit int) ([]models.JobScore, error) {
	var scores []models.JobScore
	q := m.db.WithContext(ctx).Where("job_id = ?", jobID).Order("final_score DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&scores).Error; err != nil {
		return nil, err
	}
	return scores, nil
}

// FindCandidateByEmail 按小写邮箱精确查候选人，邮箱是唯一身份键。
// 未找到时返回 gorm.ErrRecordNotFound。
func (m *MySQL) FindCandidateByEmail(ctx context.Context, email string) (*models.Candidate, error) {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.FindCandidateByEmail",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemMySQL,
			attribute.String("db.sql.table", "candidates"),
			attribute.String("candidate.email", tracing.SafeAttributeValue("email", email, tracing.DefaultMaxLength)),
		))
	defer span.End()

	if email == "" {
		return nil, fmt.Errorf("邮箱不能为空")
	}

	var candidate models.Candidate
	if err := m.db.WithContext(ctx).Where("email = ?", email).First(&candidate).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Ok, "record not found")
		} else {
			tracing.RecordError(span, err, tracing.ErrorTypeDB)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("candidate.id", candidate.CandidateID))
	span.SetStatus(codes.Ok, "")
	return &candidate, nil
}

// CreateCandidate 新建候选人记录
func (m *MySQL) CreateCandidate(ctx context.Context, candidate *models.Candidate) error {
	return m.db.WithContext(ctx).Create(candidate).Error
}

// UpdateCandidate 整行保存候选人
func (m *MySQL) UpdateCandidate(ctx context.Context, candidate *models.Candidate) error {
	return m.db.WithContext(ctx).Save(candidate).Error
}

// SaveProcessLog 写一条流水线审计日志，失败只影响审计不影响主流程
func (m *MySQL) SaveProcessLog(ctx context.Context, logType, process, message string) error {
	return m.db.WithContext(ctx).Create(&models.ProcessLog{
		LogType: logType,
		Process: process,
		Message: message,
	}).Error
}

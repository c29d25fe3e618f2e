package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"resume-match-go/internal/constants"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/scoring"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"
	"resume-match-go/internal/vector"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var jobTracer = otel.Tracer("resume-match-go/api/job")

// 批量评分互斥锁的有效期，超过视为持有者已死
const scoreLockTTL = 10 * time.Minute

// 岗位排行缓存有效期
const rankingCacheTTL = 24 * time.Hour

// JobHandler 岗位处理器。
// 负责JD入库（分类+结构化解析+向量登记）和岗位维度的批量评分。
type JobHandler struct {
	storage     *storage.Storage
	classifier  *scoring.Classifier
	scorer      *scoring.Scorer
	embedder    embedding.Embedder
	resumeIndex *vector.Index
	publisher   *storage.EventPublisher
	topK        int
}

// NewJobHandler 创建岗位处理器
func NewJobHandler(
	st *storage.Storage,
	classifier *scoring.Classifier,
	scorer *scoring.Scorer,
	embedder embedding.Embedder,
	resumeIndex *vector.Index,
	publisher *storage.EventPublisher,
	topK int,
) *JobHandler {
	if topK <= 0 {
		topK = constants.DefaultTopK
	}
	return &JobHandler{
		storage:     st,
		classifier:  classifier,
		scorer:      scorer,
		embedder:    embedder,
		resumeIndex: resumeIndex,
		publisher:   publisher,
		topK:        topK,
	}
}

// JobCreateResponse 岗位创建响应
type JobCreateResponse struct {
	JobID          string   `json:"job_id"`
	Category       string   `json:"category"`
	CategorySource string   `json:"category_source"`
	Qualifications []string `json:"qualifications,omitempty"`
	Requirements   []string `json:"requirements,omitempty"`
}

// HandleCreateJob 处理JD上传：分类、结构化解析并落库。
// 结构化解析失败只降级为空列表，不阻塞岗位创建。
func (h *JobHandler) HandleCreateJob(ctx context.Context, jobTitle, jdText string) (*JobCreateResponse, error) {
	if jobTitle == "" || jdText == "" {
		return nil, fmt.Errorf("岗位标题和描述不能为空")
	}

	classification, category, err := h.classifier.Classify(ctx, jobTitle, jdText)
	if err != nil {
		return nil, fmt.Errorf("JD分类失败: %w", err)
	}

	analysis, err := h.scorer.AnalyzeJob(ctx, jobTitle, jdText)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("job_title", jobTitle).Msg("JD结构化解析失败, 按空列表入库")
		analysis = &types.JobAnalysis{}
	}

	uuidV7, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("生成UUIDv7失败: %w", err)
	}

	qualsJSON, err := models.SliceToJSON(analysis.Qualifications)
	if err != nil {
		return nil, fmt.Errorf("序列化资质列表失败: %w", err)
	}
	reqsJSON, err := models.SliceToJSON(analysis.Requirements)
	if err != nil {
		return nil, fmt.Errorf("序列化要求列表失败: %w", err)
	}

	job := &models.Job{
		JobID:              uuidV7.String(),
		JobTitle:           jobTitle,
		JobDescriptionText: jdText,
		CategoryID:         &category.CategoryID,
		QualificationsJSON: qualsJSON,
		RequirementsJSON:   reqsJSON,
	}
	if err := h.storage.MySQL.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("岗位落库失败: %w", err)
	}

	logger.Ctx(ctx).Info().
		Str("job_id", job.JobID).
		Str("category", classification.Category).
		Str("source", classification.Source).
		Msg("岗位创建完成")

	return &JobCreateResponse{
		JobID:          job.JobID,
		Category:       classification.Category,
		CategorySource: classification.Source,
		Qualifications: analysis.Qualifications,
		Requirements:   analysis.Requirements,
	}, nil
}

// ScoreJobResponse 批量评分响应
type ScoreJobResponse struct {
	JobID   string               `json:"job_id"`
	Scored  int                  `json:"scored"`
	Failed  int                  `json:"failed"`
	Reports []*types.ScoreReport `json:"reports"`
}

// HandleScoreJob 对一个岗位做批量评分：
// 向量预筛top-k → 逐份维度评分 → upsert落库 → 发布评分事件 → 刷新排行缓存。
// 同一岗位同一时刻只允许一轮评分在跑。
func (h *JobHandler) HandleScoreJob(ctx context.Context, jobID string) (*ScoreJobResponse, error) {
	ctx, span := jobTracer.Start(ctx, "Job.BatchScore")
	defer span.End()
	span.SetAttributes(attribute.String("job_id", jobID))

	job, err := h.storage.MySQL.GetJobByID(ctx, jobID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, fmt.Errorf("岗位 %s 不存在: %w", jobID, err)
	}

	lockValue, err := h.storage.Redis.AcquireScoreLock(ctx, jobID, scoreLockTTL)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return nil, fmt.Errorf("抢占评分锁失败: %w", err)
	}
	if lockValue == "" {
		return nil, fmt.Errorf("岗位 %s 已有评分任务在执行", jobID)
	}
	defer func() {
		if _, err := h.storage.Redis.ReleaseScoreLock(ctx, jobID, lockValue); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Msg("释放评分锁失败")
		}
	}()

	jobCtx := h.jobContext(ctx, job)

	// 向量预筛
	jdText := job.JobTitle + "\n" + job.JobDescriptionText
	ranked, err := scoring.PreselectResumes(ctx, h.embedder, h.resumeIndex, jdText, h.topK)
	if err != nil {
		return nil, fmt.Errorf("简历预筛失败: %w", err)
	}
	if len(ranked) == 0 {
		return &ScoreJobResponse{JobID: jobID, Reports: []*types.ScoreReport{}}, nil
	}

	docs := h.loadResumeDocs(ctx, ranked)
	results := h.scorer.BatchScore(ctx, jobCtx, docs)

	resp := &ScoreJobResponse{JobID: jobID, Reports: make([]*types.ScoreReport, 0, len(results))}
	rankingEntries := make(map[string]float64, len(results))
	for _, res := range results {
		if res.Err != nil || res.Report == nil {
			resp.Failed++
			continue
		}
		if err := h.persistScore(ctx, res.Report); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("submission_uuid", res.SubmissionUUID).
				Str("job_id", jobID).
				Msg("评分落库失败")
			resp.Failed++
			continue
		}
		resp.Scored++
		resp.Reports = append(resp.Reports, res.Report)
		rankingEntries[res.Report.SubmissionUUID] = res.Report.FinalScore
	}

	if len(rankingEntries) > 0 {
		if err := h.storage.Redis.CacheJobRanking(ctx, jobID, rankingEntries, rankingCacheTTL); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Msg("刷新排行缓存失败")
		}
	}
	h.saveLog(ctx, "INFO", "job_scoring",
		fmt.Sprintf("job %s scored %d resumes, %d failed", jobID, resp.Scored, resp.Failed))

	return resp, nil
}

// JobScoresResponse 岗位评分排行响应
type JobScoresResponse struct {
	JobID   string               `json:"job_id"`
	Total   int                  `json:"total"`
	Reports []*types.ScoreReport `json:"reports"`
}

// HandleListScores 按最终分倒序返回岗位的评分报告
func (h *JobHandler) HandleListScores(ctx context.Context, jobID string, limit int) (*JobScoresResponse, error) {
	if _, err := h.storage.MySQL.GetJobByID(ctx, jobID); err != nil {
		return nil, fmt.Errorf("岗位 %s 不存在: %w", jobID, err)
	}

	rows, err := h.storage.MySQL.ListJobScores(ctx, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("查询评分失败: %w", err)
	}

	resp := &JobScoresResponse{JobID: jobID, Total: len(rows), Reports: make([]*types.ScoreReport, 0, len(rows))}
	for i := range rows {
		resp.Reports = append(resp.Reports, scoreRowToReport(&rows[i]))
	}
	return resp, nil
}

// jobContext 把岗位行转成评分上下文，JSON列解析失败按空列表处理。
// 入库时的分类结果一并带上，作为评分的首个维度。
func (h *JobHandler) jobContext(ctx context.Context, job *models.Job) *scoring.JobContext {
	jobCtx := &scoring.JobContext{
		JobID:       job.JobID,
		Title:       job.JobTitle,
		Description: job.JobDescriptionText,
	}
	if job.CategoryID != nil {
		if category, err := h.storage.MySQL.GetCategoryByID(ctx, *job.CategoryID); err != nil {
			logger.Ctx(ctx).Warn().Err(err).
				Str("job_id", job.JobID).
				Uint64("category_id", *job.CategoryID).
				Msg("回读岗位分类失败, 评分不带分类维度")
		} else {
			jobCtx.Category = category.Name
		}
	}
	if len(job.QualificationsJSON) > 0 {
		_ = json.Unmarshal(job.QualificationsJSON, &jobCtx.Qualifications)
	}
	if len(job.RequirementsJSON) > 0 {
		_ = json.Unmarshal(job.RequirementsJSON, &jobCtx.Requirements)
	}
	return jobCtx
}

// loadResumeDocs 按预筛结果回读解析文本和候选人归属，读不到的跳过
func (h *JobHandler) loadResumeDocs(ctx context.Context, ranked []types.RankedSubmission) []scoring.ResumeDoc {
	docs := make([]scoring.ResumeDoc, 0, len(ranked))
	for _, r := range ranked {
		text, err := h.storage.MinIO.GetParsedText(ctx, r.SubmissionUUID)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).
				Str("submission_uuid", r.SubmissionUUID).
				Msg("回读解析文本失败, 该简历跳过本轮评分")
			continue
		}

		doc := scoring.ResumeDoc{SubmissionUUID: r.SubmissionUUID, Text: text}
		if sub, err := h.storage.MySQL.GetSubmissionByUUID(ctx, r.SubmissionUUID); err == nil && sub.CandidateID != nil {
			doc.CandidateUUID = *sub.CandidateID
		}
		docs = append(docs, doc)
	}
	return docs
}

// persistScore 评分报告落库并发布事件，事件失败不回滚落库
func (h *JobHandler) persistScore(ctx context.Context, report *types.ScoreReport) error {
	criteriaJSON, err := json.Marshal(report.Criteria)
	if err != nil {
		return fmt.Errorf("序列化评分维度失败: %w", err)
	}

	row := &models.JobScore{
		SubmissionUUID: report.SubmissionUUID,
		JobID:          report.JobID,
		CriteriaJSON:   criteriaJSON,
		FinalScore:     report.FinalScore,
		Degraded:       report.Degraded,
		EvaluatedAt:    time.Unix(report.EvaluatedAt, 0),
	}
	if report.CandidateUUID != "" {
		row.CandidateID = &report.CandidateUUID
	}
	if err := h.storage.MySQL.UpsertJobScore(ctx, row); err != nil {
		tracing.RecordErrorWithInfo(trace.SpanFromContext(ctx), err, tracing.ErrorTypeDB,
			attribute.String("submission_uuid", report.SubmissionUUID))
		return err
	}

	if h.publisher != nil {
		h.publisher.PublishScored(ctx, report)
	}
	return nil
}

// scoreRowToReport 评分行转回报告，维度JSON解析失败保留总分
func scoreRowToReport(row *models.JobScore) *types.ScoreReport {
	report := &types.ScoreReport{
		SubmissionUUID: row.SubmissionUUID,
		JobID:          row.JobID,
		FinalScore:     row.FinalScore,
		Degraded:       row.Degraded,
		EvaluatedAt:    row.EvaluatedAt.Unix(),
	}
	if row.CandidateID != nil {
		report.CandidateUUID = *row.CandidateID
	}
	if len(row.CriteriaJSON) > 0 {
		_ = json.Unmarshal(row.CriteriaJSON, &report.Criteria)
	}
	return report
}

func (h *JobHandler) saveLog(ctx context.Context, logType, process, message string) {
	if err := h.storage.MySQL.SaveProcessLog(ctx, logType, process, message); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("写入流水线审计日志失败")
	}
}

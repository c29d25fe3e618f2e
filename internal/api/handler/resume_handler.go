package handler

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"resume-match-go/internal/constants"
	"resume-match-go/internal/extractor"
	"resume-match-go/internal/identity"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/parser"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"
	"resume-match-go/internal/vector"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var resumeTracer = otel.Tracer("resume-match-go/api/resume")

// ResumeHandler 简历上传处理器。
// 串起对象存储、MD5去重、PDF解析、两段式字段提取、身份归并和向量入索引。
type ResumeHandler struct {
	storage     *storage.Storage
	pdf         parser.PDFExtractor
	extractor   *extractor.HybridExtractor
	resolver    *identity.Resolver
	embedder    embedding.Embedder
	resumeIndex *vector.Index
	publisher   *storage.EventPublisher
}

// NewResumeHandler 创建简历上传处理器
func NewResumeHandler(
	st *storage.Storage,
	pdf parser.PDFExtractor,
	ext *extractor.HybridExtractor,
	resolver *identity.Resolver,
	embedder embedding.Embedder,
	resumeIndex *vector.Index,
	publisher *storage.EventPublisher,
) *ResumeHandler {
	return &ResumeHandler{
		storage:     st,
		pdf:         pdf,
		extractor:   ext,
		resolver:    resolver,
		embedder:    embedder,
		resumeIndex: resumeIndex,
		publisher:   publisher,
	}
}

// ResumeUploadResponse 简历上传响应
type ResumeUploadResponse struct {
	SubmissionUUID string `json:"submission_uuid"`
	CandidateUUID  string `json:"candidate_uuid,omitempty"`
	Status         string `json:"status"`
	// 文件级重复时指向首次提交
	DuplicateOf string   `json:"duplicate_of,omitempty"`
	Degraded    bool     `json:"degraded,omitempty"`
	Missing     []string `json:"missing,omitempty"`
}

// HandleResumeUpload 处理一次简历上传。
// 同一文件（MD5）重复上传直接短路返回首次提交的UUID，不重复入库。
func (h *ResumeHandler) HandleResumeUpload(ctx context.Context, fileBytes []byte, filename string) (*ResumeUploadResponse, error) {
	ctx, span := resumeTracer.Start(ctx, "Resume.Upload")
	defer span.End()
	span.SetAttributes(attribute.String("resume.filename",
		tracing.SafeAttributeValue("filename", filename, tracing.DefaultMaxLength)))

	uuidV7, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("生成UUIDv7失败: %w", err)
	}
	submissionUUID := uuidV7.String()
	span.SetAttributes(attribute.String("submission_uuid", submissionUUID))

	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".pdf"
	}

	// 1. 原件入对象存储，顺手拿到MD5
	objectKey, md5Hex, err := h.storage.MinIO.UploadResumeStreaming(
		ctx, submissionUUID, ext, bytes.NewReader(fileBytes), int64(len(fileBytes)))
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStorage)
		return nil, fmt.Errorf("上传简历到MinIO失败: %w", err)
	}

	// 2. 文件MD5去重，原子地注册或取回首次提交
	duplicate, firstUUID, err := h.storage.Redis.CheckAndSetFileMD5(ctx, md5Hex, submissionUUID)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("md5", md5Hex).Msg("MD5去重检查失败, 按非重复继续")
	}
	if duplicate {
		// 本次上传的对象是多余的
		if delErr := h.storage.MinIO.DeleteResumeFile(ctx, objectKey); delErr != nil {
			logger.Ctx(ctx).Warn().Err(delErr).Str("object_key", objectKey).Msg("清理重复上传对象失败")
		}
		logger.Ctx(ctx).Info().
			Str("md5", md5Hex).
			Str("duplicate_of", firstUUID).
			Str("filename", filename).
			Msg("检测到重复文件, 跳过处理")
		return &ResumeUploadResponse{
			SubmissionUUID: submissionUUID,
			Status:         constants.StatusContentDuplicate,
			DuplicateOf:    firstUUID,
		}, nil
	}

	// 3. 提交记录落库
	sub := &models.ResumeSubmission{
		SubmissionUUID:      submissionUUID,
		OriginalFilename:    filename,
		OriginalFilePathOSS: objectKey,
		RawFileMD5:          md5Hex,
		ProcessingStatus:    constants.StatusPendingParsing,
	}
	if err := h.storage.MySQL.CreateResumeSubmission(ctx, sub); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, fmt.Errorf("创建提交记录失败: %w", err)
	}
	if h.publisher != nil {
		h.publisher.PublishReceived(ctx, &storage.ResumeReceivedEvent{
			SubmissionUUID:      submissionUUID,
			OriginalFilename:    filename,
			OriginalFilePathOSS: objectKey,
			RawFileMD5:          md5Hex,
			UploadTime:          time.Now().Unix(),
		})
	}

	// 4. PDF转文本
	text, _, err := h.pdf.ExtractTextFromBytes(ctx, fileBytes, filename, nil)
	if err != nil || strings.TrimSpace(text) == "" {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		h.markFailed(ctx, submissionUUID, constants.StatusTextExtractionFailed,
			fmt.Sprintf("PDF文本提取失败: %v", err))
		return nil, fmt.Errorf("PDF文本提取失败: %w", err)
	}
	span.SetAttributes(attribute.String("resume.text_preview", tracing.SafeResumeContent(text)))
	if _, err := h.storage.MinIO.UploadParsedText(ctx, submissionUUID, text); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("submission_uuid", submissionUUID).Msg("解析文本保存失败")
	}

	// 5. 两段式字段提取
	result, err := h.extractor.Extract(ctx, submissionUUID, text)
	if err != nil {
		tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeOracle,
			attribute.String("submission_uuid", submissionUUID))
		h.markFailed(ctx, submissionUUID, constants.StatusExtractionFailed,
			fmt.Sprintf("字段提取失败: %v", err))
		return nil, err
	}

	// 6. 身份归并
	candidate, created, err := h.resolver.Resolve(ctx, submissionUUID, result.Profile, objectKey)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		h.markFailed(ctx, submissionUUID, constants.StatusIdentityFailed,
			fmt.Sprintf("身份归并失败: %v", err))
		return nil, err
	}
	if err := h.storage.MySQL.LinkSubmissionToCandidate(ctx, submissionUUID, candidate.CandidateID, result.Degraded); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("submission_uuid", submissionUUID).Msg("关联候选人失败")
	}

	// 7. 简历向量入索引，供岗位评分预筛
	if err := h.indexResume(ctx, submissionUUID, text); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		h.markFailed(ctx, submissionUUID, constants.StatusVectorizationFailed,
			fmt.Sprintf("简历向量化失败: %v", err))
		return nil, err
	}

	if err := h.storage.MySQL.UpdateResumeProcessingStatus(ctx, submissionUUID, constants.StatusProcessingCompleted); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("submission_uuid", submissionUUID).Msg("更新处理状态失败")
	}
	h.saveLog(ctx, "INFO", "resume_upload",
		fmt.Sprintf("submission %s processed, candidate %s (created=%t)", submissionUUID, candidate.CandidateID, created))

	logger.Ctx(ctx).Info().
		Str("submission_uuid", submissionUUID).
		Str("candidate_uuid", candidate.CandidateID).
		Bool("degraded", result.Degraded).
		Strs("missing", result.Missing).
		Int("oracle_calls", result.OracleCalls).
		Msg("简历处理完成")

	return &ResumeUploadResponse{
		SubmissionUUID: submissionUUID,
		CandidateUUID:  candidate.CandidateID,
		Status:         constants.StatusProcessingCompleted,
		Degraded:       result.Degraded,
		Missing:        result.Missing,
	}, nil
}

// indexResume 嵌入简历全文并写入内存索引
func (h *ResumeHandler) indexResume(ctx context.Context, submissionUUID, text string) error {
	vectors, err := h.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return types.NewOracleError(submissionUUID, fmt.Sprintf("嵌入简历失败: %v", err))
	}
	if len(vectors) == 0 {
		return types.NewOracleError(submissionUUID, "嵌入简历返回空结果")
	}

	vec := make([]float32, len(vectors[0]))
	for i, v := range vectors[0] {
		vec[i] = float32(v)
	}
	if _, err := h.resumeIndex.Insert(submissionUUID, vec); err != nil {
		return fmt.Errorf("简历向量入索引失败: %w", err)
	}
	return nil
}

func (h *ResumeHandler) markFailed(ctx context.Context, submissionUUID, status, message string) {
	if err := h.storage.MySQL.UpdateResumeProcessingStatus(ctx, submissionUUID, status); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("submission_uuid", submissionUUID).Msg("更新失败状态失败")
	}
	h.saveLog(ctx, "ERROR", "resume_upload", message)
}

func (h *ResumeHandler) saveLog(ctx context.Context, logType, process, message string) {
	if err := h.storage.MySQL.SaveProcessLog(ctx, logType, process, message); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("写入流水线审计日志失败")
	}
}

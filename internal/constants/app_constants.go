package constants

import "time"

const (
	// MaxContextTokens oracle 上下文的硬上限（按空白分词估算）
	MaxContextTokens = 65536

	// JDTokenCap JD 文本在预算分配中的子上限，超长 JD 先截到这里
	JDTokenCap = 60000

	// DefaultTopK 向量检索默认返回条数
	DefaultTopK = 10

	// ScoreScaleMax 单项评分维度的上限 (0-10)
	ScoreScaleMax = 10.0

	// CategoryMatchThreshold JD 分类向量检索的置信度阈值，低于则走 oracle 兜底
	CategoryMatchThreshold = 0.80

	// EmbeddingCacheDuration 嵌入向量缓存有效期
	EmbeddingCacheDuration = 7 * 24 * time.Hour

	// ResumeScoredRoutingKey 评分完成事件的路由键
	ResumeScoredRoutingKey = "resume.scored"

	// ResumeReceivedRoutingKey 简历入库事件的路由键
	ResumeReceivedRoutingKey = "resume.received"
)

// 简历处理状态机
const (
	StatusPendingParsing       = "PENDING_PARSING"
	StatusContentDuplicate     = "CONTENT_DUPLICATE_SKIPPED"
	StatusTextExtractionFailed = "TEXT_EXTRACTION_FAILED"
	StatusExtractionFailed     = "EXTRACTION_FAILED"
	StatusIdentityFailed       = "IDENTITY_RESOLUTION_FAILED"
	StatusVectorizationFailed  = "VECTORIZATION_FAILED"
	StatusProcessingCompleted  = "PROCESSING_COMPLETED"
)

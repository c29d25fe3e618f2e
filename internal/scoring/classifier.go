package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"resume-match-go/internal/constants"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/parser"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"
	"resume-match-go/internal/vector"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// fallbackCategory oracle 兜底也失败时使用的分类名
const fallbackCategory = "Other"

// CategoryStore 分类持久化所需的最小接口
type CategoryStore interface {
	GetOrCreateCategory(ctx context.Context, name string) (*models.Category, error)
}

// Classifier JD分类器。
// 先走向量索引匹配已知分类，置信度不足时用文本oracle兜底，
// 新分类自动登记到索引和数据库，不因未知分类报错。
type Classifier struct {
	embedder  embedding.Embedder
	llmModel  model.ToolCallingChatModel
	store     CategoryStore
	index     *vector.Index
	threshold float32
}

// ClassifierOption 分类器配置选项
type ClassifierOption func(*Classifier)

// WithMatchThreshold 设置向量匹配的置信度阈值
func WithMatchThreshold(threshold float32) ClassifierOption {
	return func(c *Classifier) {
		c.threshold = threshold
	}
}

// NewClassifier 创建JD分类器
func NewClassifier(embedder embedding.Embedder, llmModel model.ToolCallingChatModel, store CategoryStore, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		embedder:  embedder,
		llmModel:  llmModel,
		store:     store,
		index:     vector.NewIndex(),
		threshold: constants.CategoryMatchThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterCategory 把分类名嵌入后登记到索引，重复登记跳过
func (c *Classifier) RegisterCategory(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("分类名不能为空")
	}
	if c.index.Contains(name) {
		return nil
	}

	vectors, err := c.embedder.EmbedStrings(ctx, []string{name})
	if err != nil {
		return fmt.Errorf("嵌入分类名失败: %w", err)
	}
	if len(vectors) == 0 {
		return fmt.Errorf("嵌入分类名返回空结果")
	}

	if _, err := c.index.Insert(name, toFloat32(vectors[0])); err != nil {
		return fmt.Errorf("分类向量入索引失败: %w", err)
	}
	return nil
}

// Classify 对JD做分类，返回分类结果和对应的数据库行。
// 向量命中高于阈值直接采用；否则oracle兜底；oracle失败退回默认分类。
func (c *Classifier) Classify(ctx context.Context, jobTitle, jdText string) (*types.JobClassification, *models.Category, error) {
	name, classification := c.classifyByIndex(ctx, jobTitle, jdText)
	if name == "" {
		name, classification = c.classifyByOracle(ctx, jobTitle, jdText)
	}

	category, err := c.store.GetOrCreateCategory(ctx, name)
	if err != nil {
		return nil, nil, fmt.Errorf("落库分类 %q 失败: %w", name, err)
	}

	// 新分类登记进索引，失败不影响分类结果
	if !c.index.Contains(name) {
		if regErr := c.RegisterCategory(ctx, name); regErr != nil {
			logger.Ctx(ctx).Warn().Err(regErr).Str("category", name).Msg("登记分类向量失败")
		}
	}

	return classification, category, nil
}

func (c *Classifier) classifyByIndex(ctx context.Context, jobTitle, jdText string) (string, *types.JobClassification) {
	if c.index.Len() == 0 {
		return "", nil
	}

	vectors, err := c.embedder.EmbedStrings(ctx, []string{jobTitle + "\n" + jdText})
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("JD嵌入失败, 跳过向量分类")
		return "", nil
	}
	if len(vectors) == 0 {
		return "", nil
	}

	matches, err := c.index.Search(toFloat32(vectors[0]), 1)
	if err != nil || len(matches) == 0 {
		return "", nil
	}

	best := matches[0]
	if best.Similarity < c.threshold {
		logger.Ctx(ctx).Debug().
			Str("candidate", best.Key).
			Float32("similarity", best.Similarity).
			Float32("threshold", c.threshold).
			Msg("向量分类置信度不足, 走oracle兜底")
		return "", nil
	}

	return best.Key, &types.JobClassification{
		Category:   best.Key,
		Confidence: float64(best.Similarity),
		Source:     "index",
	}
}

func (c *Classifier) classifyByOracle(ctx context.Context, jobTitle, jdText string) (string, *types.JobClassification) {
	prompt := fmt.Sprintf(`Classify the following job description into a short professional category name (e.g. "Backend Engineering", "Data Engineering", "Product Management").

Job title: %s

Job description:
%s

Return only a JSON object in this format:
{"category": "<category name>"}`, jobTitle, jdText)

	messages := []*schema.Message{
		schema.SystemMessage("You are a job classification assistant. Always reply with valid JSON."),
		schema.UserMessage(prompt),
	}

	reply, err := c.llmModel.Generate(ctx, messages)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("oracle分类失败, 使用默认分类")
		return fallbackCategory, &types.JobClassification{Category: fallbackCategory, Source: "fallback"}
	}

	var parsed struct {
		Category string `json:"category"`
	}
	raw := parser.ExtractJSON(parser.CleanLLMReply(reply.Content))
	if raw == "" || json.Unmarshal([]byte(raw), &parsed) != nil || strings.TrimSpace(parsed.Category) == "" {
		logger.Ctx(ctx).Warn().Str("reply", reply.Content).Msg("oracle分类回复不可解析, 使用默认分类")
		return fallbackCategory, &types.JobClassification{Category: fallbackCategory, Source: "fallback"}
	}

	name := strings.TrimSpace(parsed.Category)
	return name, &types.JobClassification{Category: name, Confidence: 0, Source: "oracle"}
}

// toFloat32 嵌入接口产出float64, 索引存float32
func toFloat32(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}

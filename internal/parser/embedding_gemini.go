package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"resume-match-go/internal/config"
	"resume-match-go/internal/logger"

	"github.com/cloudwego/eino/components/embedding"
)

// EmbeddingCache 嵌入向量读穿缓存所需的最小接口
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, text string) ([]float64, error)
	SetEmbedding(ctx context.Context, text string, vector []float64) error
}

// GeminiEmbedder 实现 cloudwego/eino 的 embedding.Embedder 接口，
// 走 Gemini batchEmbedContents HTTP 接口。
type GeminiEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	httpClient *http.Client
}

// NewGeminiEmbedder 创建Gemini嵌入器
func NewGeminiEmbedder(cfg config.GeminiConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-embedding-001"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	timeout := config.GetDuration(cfg.Timeout, 30*time.Second)

	return &GeminiEmbedder{
		apiKey:     cfg.APIKey,
		model:      model,
		dimensions: cfg.Dimensions,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// GetDimensions 返回配置的输出维度
func (g *GeminiEmbedder) GetDimensions() int {
	return g.dimensions
}

type geminiEmbedRequest struct {
	Requests []geminiEmbedContent `json:"requests"`
}

type geminiEmbedContent struct {
	Model                string        `json:"model"`
	Content              geminiContent `json:"content"`
	OutputDimensionality int           `json:"outputDimensionality,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiEmbedResponse struct {
	Embeddings []struct {
		Values []float64 `json:"values"`
	} `json:"embeddings"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// EmbedStrings 批量嵌入文本
func (g *GeminiEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	options := &embedding.Options{}
	embedding.GetCommonOptions(options, opts...)

	effectiveModel := g.model
	if options.Model != nil && *options.Model != "" {
		effectiveModel = *options.Model
	}

	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	reqBody := geminiEmbedRequest{Requests: make([]geminiEmbedContent, len(texts))}
	for i, text := range texts {
		reqBody.Requests[i] = geminiEmbedContent{
			Model:                "models/" + effectiveModel,
			Content:              geminiContent{Parts: []geminiPart{{Text: text}}},
			OutputDimensionality: g.dimensions,
		}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("序列化嵌入请求失败: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:batchEmbedContents", g.baseURL, effectiveModel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送嵌入请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var parsed geminiEmbedResponse
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil {
			return nil, fmt.Errorf("嵌入API调用失败, 状态码: %d, 状态: %s, 错误: %s",
				resp.StatusCode, parsed.Error.Status, parsed.Error.Message)
		}
		return nil, fmt.Errorf("嵌入API调用失败, 状态码: %d, 响应: %s", resp.StatusCode, string(body))
	}

	var parsed geminiEmbedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("解析嵌入响应失败: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("嵌入API返回错误: %s", parsed.Error.Message)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("嵌入数量不匹配: 请求%d条, 返回%d条", len(texts), len(parsed.Embeddings))
	}

	out := make([][]float64, len(parsed.Embeddings))
	for i, e := range parsed.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

var _ embedding.Embedder = (*GeminiEmbedder)(nil)

// CachedEmbedder 带Redis读穿缓存的嵌入器装饰器。
// 缓存故障不阻断嵌入，只记日志后直连底层嵌入器。
type CachedEmbedder struct {
	inner embedding.Embedder
	cache EmbeddingCache
}

// NewCachedEmbedder 创建缓存装饰器
func NewCachedEmbedder(inner embedding.Embedder, cache EmbeddingCache) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache}
}

// EmbedStrings 先查缓存，只对未命中的文本调底层嵌入器，结果回填缓存
func (c *CachedEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if c.cache == nil {
		return c.inner.EmbedStrings(ctx, texts, opts...)
	}

	out := make([][]float64, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		vector, err := c.cache.GetEmbedding(ctx, text)
		if err == nil && len(vector) > 0 {
			out[i] = vector
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.inner.EmbedStrings(ctx, missTexts, opts...)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("嵌入数量不匹配: 请求%d条, 返回%d条", len(missTexts), len(fresh))
	}

	for j, vector := range fresh {
		out[missIdx[j]] = vector
		if cacheErr := c.cache.SetEmbedding(ctx, missTexts[j], vector); cacheErr != nil {
			logger.Ctx(ctx).Warn().Err(cacheErr).Msg("回填嵌入缓存失败")
		}
	}
	return out, nil
}

var _ embedding.Embedder = (*CachedEmbedder)(nil)

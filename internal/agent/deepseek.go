package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"resume-match-go/internal/logger"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	defaultDeepSeekAPIURL = "https://api.deepseek.com/v1/chat/completions"
	defaultDeepSeekModel  = "deepseek-chat"
)

// DeepSeekChatModel 通过 OpenAI 兼容接口调用 DeepSeek，
// 实现 eino 的 model.ToolCallingChatModel 接口。
type DeepSeekChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// DeepSeekOption DeepSeekChatModel 配置选项
type DeepSeekOption func(*DeepSeekChatModel)

// WithTemperature 设置采样温度
func WithTemperature(t float64) DeepSeekOption {
	return func(m *DeepSeekChatModel) {
		m.temperature = t
	}
}

// WithMaxTokens 设置回复token上限
func WithMaxTokens(n int) DeepSeekOption {
	return func(m *DeepSeekChatModel) {
		m.maxTokens = n
	}
}

// WithHTTPTimeout 设置HTTP超时
func WithHTTPTimeout(d time.Duration) DeepSeekOption {
	return func(m *DeepSeekChatModel) {
		m.httpClient.Timeout = d
	}
}

// NewDeepSeekChatModel 创建 DeepSeek 客户端
func NewDeepSeekChatModel(apiKey, modelName, apiURL string, opts ...DeepSeekOption) (*DeepSeekChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = defaultDeepSeekModel
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = defaultDeepSeekAPIURL
	}

	m := &DeepSeekChatModel{
		apiKey:      apiKey,
		modelName:   modelName,
		apiURL:      apiURL,
		temperature: 0.1,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// OpenAI 兼容的请求/响应结构
type chatCompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []*schema.Message `json:"messages"`
	Temperature float64           `json:"temperature"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
}

type chatCompletionChoice struct {
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
	Message      struct {
		Role    string  `json:"role"`
		Content *string `json:"content"`
	} `json:"message"`
}

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Model   string                 `json:"model"`
	Choices []chatCompletionChoice `json:"choices"`
}

// Generate 实现 model.ChatModel 接口
func (m *DeepSeekChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	reqPayload := chatCompletionRequest{
		Model:       m.modelName,
		Messages:    messages,
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
	}

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	logger.Ctx(ctx).Debug().
		Str("model", m.modelName).
		Int("messages", len(messages)).
		Msg("调用DeepSeek接口")

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API 请求失败，状态 %s: %s", httpResp.Status, string(bodyBytes))
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(bodyBytes, &resp); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("API 返回空choices: %s", string(bodyBytes))
	}

	choice := resp.Choices[0].Message
	content := ""
	if choice.Content != nil {
		content = *choice.Content
	}
	role := schema.RoleType(choice.Role)
	if role == "" {
		role = schema.Assistant
	}

	return &schema.Message{Role: role, Content: content}, nil
}

// Stream 未实现，本服务只用同步调用
func (m *DeepSeekChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("DeepSeekChatModel 未实现 Stream")
}

// WithTools 满足 model.ToolCallingChatModel 接口；本服务不使用工具调用
func (m *DeepSeekChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

var _ model.ToolCallingChatModel = (*DeepSeekChatModel)(nil)

package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"resume-match-go/internal/budget"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/parser"
	"resume-match-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
)

// oracle 回复里使用的字段键，与提示词中的JSON键一一对应
var oracleFieldKeys = map[string]string{
	types.FieldName:            "name",
	types.FieldEmail:           "email",
	types.FieldPhone:           "phone",
	types.FieldLinkedIn:        "linkedin_url",
	types.FieldLocation:        "current_location",
	types.FieldYearsExperience: "years_of_experience",
	types.FieldDegree:          "education_level",
	types.FieldLastTitle:       "last_position_title",
	types.FieldSkills:          "skills",
}

// HybridExtractor 两趟式字段提取器：
// 第一趟正则（ExtractBasic），第二趟只就缺失字段询问 oracle，
// 合并时第一趟的值永远优先。
type HybridExtractor struct {
	llmModel model.ToolCallingChatModel
	budget   *budget.Manager
}

// Option HybridExtractor 配置选项
type Option func(*HybridExtractor)

// WithBudgetManager 覆盖默认预算管理器
func WithBudgetManager(m *budget.Manager) Option {
	return func(e *HybridExtractor) {
		if m != nil {
			e.budget = m
		}
	}
}

// NewHybridExtractor 创建提取器，llmModel 为 nil 时第二趟直接跳过
func NewHybridExtractor(llmModel model.ToolCallingChatModel, opts ...Option) *HybridExtractor {
	e := &HybridExtractor{
		llmModel: llmModel,
		budget:   budget.NewManager(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract 执行两趟提取。
// 简历超出token预算时跳过 oracle，返回第一趟结果并标记降级（零次 oracle 调用）。
// 两趟后仍缺失的字段记录在 Missing 里，不视为流水线失败。
func (e *HybridExtractor) Extract(ctx context.Context, submissionUUID, resumeText string) (*types.ExtractionResult, error) {
	log := logger.Ctx(ctx)

	profile := ExtractBasic(resumeText)
	result := &types.ExtractionResult{Profile: profile}

	missing := profile.MissingFields()
	if len(missing) == 0 {
		return result, nil
	}

	// 超预算：不发起任何 oracle 调用，降级返回
	if e.budget.EstimateTokens(resumeText) > e.budget.MaxTokens() {
		log.Warn().
			Str("submission_uuid", submissionUUID).
			Int("tokens", e.budget.EstimateTokens(resumeText)).
			Msg("简历超出token预算，跳过oracle补齐")
		result.Degraded = true
		result.Missing = missing
		return result, nil
	}

	if e.llmModel == nil {
		result.Missing = missing
		return result, nil
	}

	filled, err := e.askOracle(ctx, resumeText, missing)
	result.OracleCalls = 1
	if err != nil {
		// oracle 失败不阻断流水线，带着第一趟结果继续
		log.Warn().
			Err(err).
			Str("submission_uuid", submissionUUID).
			Msg("oracle补齐缺失字段失败，仅保留正则结果")
		result.Missing = missing
		return result, nil
	}

	// COALESCE：第一趟已有的值不被覆盖
	profile.Merge(filled)
	result.Missing = profile.MissingFields()
	return result, nil
}

// askOracle 只就缺失字段构造提示词并解析回复
func (e *HybridExtractor) askOracle(ctx context.Context, resumeText string, missing []string) (*types.CandidateProfile, error) {
	prompt := buildMissingFieldsPrompt(resumeText, missing)

	messages := []*einoschema.Message{
		einoschema.SystemMessage("You are a resume parsing assistant. Return exactly the requested JSON."),
		einoschema.UserMessage(prompt),
	}

	response, err := e.llmModel.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrOracleFailure, err)
	}
	if response == nil || response.Content == "" {
		return nil, fmt.Errorf("%w: 空回复", types.ErrOracleFailure)
	}

	jsonStr := parser.ExtractJSON(parser.CleanLLMReply(response.Content))
	if jsonStr == "" {
		return nil, fmt.Errorf("%w: 回复中未找到JSON对象", types.ErrOracleFailure)
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		if err2 := json.Unmarshal([]byte(parser.SanitizeJSON(jsonStr)), &raw); err2 != nil {
			return nil, fmt.Errorf("%w: JSON反序列化失败: %v", types.ErrOracleFailure, err)
		}
	}

	return profileFromOracle(raw, missing), nil
}

// profileFromOracle 把 oracle 的JSON对象转成画像，只保留本次询问过的字段
func profileFromOracle(raw map[string]any, missing []string) *types.CandidateProfile {
	p := &types.CandidateProfile{}
	for _, field := range missing {
		key := oracleFieldKeys[field]
		val, ok := raw[key]
		if !ok || val == nil {
			continue
		}
		switch field {
		case types.FieldSkills:
			if arr, ok := val.([]any); ok {
				for _, item := range arr {
					if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
						p.Skills = append(p.Skills, strings.TrimSpace(s))
					}
				}
			}
		case types.FieldYearsExperience:
			switch v := val.(type) {
			case float64:
				p.YearsExperience = strconv.Itoa(int(v))
			case string:
				if strings.TrimSpace(v) != "" {
					p.YearsExperience = strings.TrimSpace(v)
				}
			}
		case types.FieldEmail:
			if s, ok := val.(string); ok && s != "" {
				p.Email = strings.ToLower(strings.TrimSpace(s))
			}
		default:
			if s, ok := val.(string); ok && strings.TrimSpace(s) != "" {
				setStringField(p, field, strings.TrimSpace(s))
			}
		}
	}
	return p
}

func setStringField(p *types.CandidateProfile, field, value string) {
	switch field {
	case types.FieldName:
		p.Name = value
	case types.FieldPhone:
		p.Phone = value
	case types.FieldLinkedIn:
		p.LinkedIn = value
	case types.FieldLocation:
		p.Location = value
	case types.FieldDegree:
		p.Degree = value
	case types.FieldLastTitle:
		p.LastTitle = value
	}
}

// buildMissingFieldsPrompt 生成只包含缺失字段的英文提示词
func buildMissingFieldsPrompt(resumeText string, missing []string) string {
	keys := make([]string, 0, len(missing))
	for _, f := range missing {
		keys = append(keys, oracleFieldKeys[f])
	}

	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = `"` + k + `"`
	}
	keyList, _ := json.MarshalIndent(keys, "", "  ")

	var sb strings.Builder
	sb.WriteString("You are an AI assistant specialized in parsing resumes. Extract only the following fields (if present) in valid JSON format: ")
	sb.WriteString(strings.Join(quoted, ", "))
	sb.WriteString("\n\nReturn a JSON object with keys exactly matching:\n")
	sb.Write(keyList)
	sb.WriteString(`

Each missing field should be one of:
- "name": Full name (First Last), or null.
- "email": Email address, or null.
- "phone": Phone number, or null.
- "linkedin_url": LinkedIn URL, or null.
- "current_location": City, State or null.
- "years_of_experience": integer or null.
- "education_level": Highest degree (e.g., "PhD in Nursing") or null.
- "last_position_title": Most recent job title or null.
- "skills": array of up to 10 skill strings or [].

Resume Text:
"""
`)
	sb.WriteString(resumeText)
	sb.WriteString(`
"""

Respond with only a JSON object containing exactly those keys (no extra commentary).`)
	return sb.String()
}

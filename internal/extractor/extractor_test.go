package extractor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"resume-match-go/internal/agent"
	"resume-match-go/internal/budget"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResume = `Ada Lovelace
Austin, TX
ada@example.com | (555) 123-4567 | https://www.linkedin.com/in/ada-lovelace
B.S. in Mathematics

Professional Experience
Senior Software Engineer
Initech, 2015 - present
Built pipelines over 10+ years experience in production.

Skills
Go, Python, SQL; Distributed Systems
`

func TestExtractBasicHeaderFields(t *testing.T) {
	p := ExtractBasic(sampleResume)

	assert.Equal(t, "Ada Lovelace", p.Name)
	assert.Equal(t, "ada@example.com", p.Email)
	assert.Equal(t, "(555) 123-4567", p.Phone)
	assert.Equal(t, "https://www.linkedin.com/in/ada-lovelace", p.LinkedIn)
	assert.Equal(t, "Austin, TX", p.Location)
	assert.Equal(t, "10", p.YearsExperience)
	assert.Equal(t, "B.S.", p.Degree)
	assert.Equal(t, "Senior Software Engineer", p.LastTitle)
	assert.Equal(t, []string{"Go", "Python", "SQL", "Distributed Systems"}, p.Skills)
}

func TestExtractBasicEmailLowercased(t *testing.T) {
	p := ExtractBasic("Jane Doe\nJANE.DOE@Example.COM")
	assert.Equal(t, "jane.doe@example.com", p.Email)
}

func TestExtractBasicLinkedInHrefVariant(t *testing.T) {
	text := `John Smith
<a href="https://linkedin.com/in/john-smith">profile</a>`
	p := ExtractBasic(text)
	assert.Equal(t, "https://linkedin.com/in/john-smith", p.LinkedIn)
}

func TestExtractBasicLocationOnlyNearTop(t *testing.T) {
	top := "Jane Doe\nAustin, TX\n"
	p := ExtractBasic(top)
	assert.Equal(t, "Austin, TX", p.Location)

	// 位置信息出现在第10行之后不取
	deep := "Jane Doe\n" + strings.Repeat("filler line\n", 12) + "Austin, TX\n"
	p = ExtractBasic(deep)
	assert.Empty(t, p.Location)
}

func TestExtractBasicSkillsFilterLongEntries(t *testing.T) {
	text := `Jane Doe

Skills
Go, ` + strings.Repeat("x", 50) + `, Docker, Go
`
	p := ExtractBasic(text)
	// 超长条目被过滤，重复条目去重
	assert.Equal(t, []string{"Go", "Docker"}, p.Skills)
}

func TestExtractPass1OnlyWhenComplete(t *testing.T) {
	// 九个字段第一趟全部命中时，第二趟不发起任何调用
	mock := agent.NewMockChatClient("", errors.New("不应被调用"))
	e := NewHybridExtractor(mock)

	result, err := e.Extract(context.Background(), "sub-1", sampleResume)
	require.NoError(t, err)
	require.NotNil(t, result.Profile)

	assert.Empty(t, result.Missing)
	assert.Equal(t, 0, result.OracleCalls)
	assert.Zero(t, mock.CallCount)
	assert.False(t, result.Degraded)
}

func TestExtractOversizedResumeSkipsOracle(t *testing.T) {
	mock := agent.NewMockChatClient(`{"name": "Should Not Happen"}`, nil)
	e := NewHybridExtractor(mock, WithBudgetManager(budget.NewManager(budget.WithMaxTokens(10))))

	big := "lower case line\n" + strings.Repeat("word ", 50)
	result, err := e.Extract(context.Background(), "sub-2", big)
	require.NoError(t, err)

	assert.True(t, result.Degraded, "超预算简历应标记降级")
	assert.Equal(t, 0, result.OracleCalls, "降级路径不得发起oracle调用")
	assert.Zero(t, mock.CallCount)
	assert.NotEmpty(t, result.Missing)
}

func TestExtractOracleFillsOnlyMissing(t *testing.T) {
	// 简历里正则能拿到 email，oracle 试图改写 email 并补 name
	resume := "all lowercase header line\ncontact: bob@example.com"
	mock := agent.NewMockChatClient("```json\n{\"name\": \"Bob Builder\", \"email\": \"evil@example.com\", \"last_position_title\": \"Foreman\"}\n```", nil)
	e := NewHybridExtractor(mock)

	result, err := e.Extract(context.Background(), "sub-3", resume)
	require.NoError(t, err)
	require.Equal(t, 1, result.OracleCalls)

	// 第一趟的 email 不被 oracle 覆盖
	assert.Equal(t, "bob@example.com", result.Profile.Email)
	assert.Equal(t, "Bob Builder", result.Profile.Name)
	assert.Equal(t, "Foreman", result.Profile.LastTitle)

	// 提示词只包含缺失字段，不应再要 email
	require.NotEmpty(t, mock.ReceivedMessages)
	prompt := mock.ReceivedMessages[len(mock.ReceivedMessages)-1].Content
	assert.NotContains(t, prompt, `"email",`, "email 已提取到，不应出现在询问列表")
}

func TestExtractOracleFailureKeepsPass1(t *testing.T) {
	resume := "header line in lowercase\ncarol@example.com"
	mock := agent.NewMockChatClient("", errors.New("connection refused"))
	e := NewHybridExtractor(mock)

	result, err := e.Extract(context.Background(), "sub-4", resume)
	require.NoError(t, err, "oracle失败不应阻断流水线")

	assert.Equal(t, "carol@example.com", result.Profile.Email)
	assert.Contains(t, result.Missing, "name")
}

func TestExtractUnparsableOracleReply(t *testing.T) {
	resume := "lowercase header\ndave@example.com"
	mock := agent.NewMockChatClient("我无法解析这份简历。", nil)
	e := NewHybridExtractor(mock)

	result, err := e.Extract(context.Background(), "sub-5", resume)
	require.NoError(t, err)
	assert.Equal(t, "dave@example.com", result.Profile.Email)
	assert.Contains(t, result.Missing, "name")
}

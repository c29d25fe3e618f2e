package budget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokensMonotonic(t *testing.T) {
	m := NewManager()

	text := ""
	prev := 0
	for _, word := range []string{"golang", "backend", "engineer", "five", "years"} {
		text = text + " " + word
		cur := m.EstimateTokens(text)
		assert.GreaterOrEqual(t, cur, prev, "追加单词后估算不应变小")
		prev = cur
	}
	assert.Equal(t, 5, prev)
}

func TestTruncateBounds(t *testing.T) {
	m := NewManager()
	text := "one two three four five six seven"

	for n := 0; n <= 10; n++ {
		out := m.Truncate(text, n)
		assert.LessOrEqual(t, m.EstimateTokens(out), n, "截断结果估算不应超过n")
		// 截断不应产生原文中不存在的词
		for _, w := range strings.Fields(out) {
			assert.Contains(t, text, w)
		}
	}

	// n足够大时原样返回
	assert.Equal(t, text, m.Truncate(text, 100))
	assert.Equal(t, "", m.Truncate(text, 0))
}

func TestAllocateBothFit(t *testing.T) {
	m := NewManager(WithMaxTokens(100))

	alloc := m.Allocate("short jd", "a small resume text")
	assert.Equal(t, "short jd", alloc.JDText)
	assert.Equal(t, "a small resume text", alloc.ResumeText)
	assert.Equal(t, 2, alloc.JDBudget)
	assert.Equal(t, 98, alloc.ResumeBudget)
	assert.False(t, alloc.JDTruncated)
	assert.False(t, alloc.ResumeTruncated)
	assert.False(t, alloc.Summarized)
}

func TestAllocateJDCapped(t *testing.T) {
	// globalLimit=100, capA=80, JD估算90 → JD'≤80, 简历'≤20 且非空
	m := NewManager(WithMaxTokens(100), WithJDCap(80))

	jd := strings.Repeat("requirement ", 90)
	resume := strings.Repeat("kubernetes experience ", 15)

	alloc := m.Allocate(jd, resume)
	assert.True(t, alloc.JDTruncated)
	assert.LessOrEqual(t, m.EstimateTokens(alloc.JDText), 80)
	assert.LessOrEqual(t, m.EstimateTokens(alloc.ResumeText), 20)
	assert.NotEmpty(t, alloc.ResumeText)
	assert.Equal(t, 20, alloc.ResumeBudget)
}

func TestAllocateJDOverGlobalLimit(t *testing.T) {
	// JD超过全局上限也不报错：截到 min(jdCap, maxTokens) 后继续
	m := NewManager(WithMaxTokens(10))

	alloc := m.Allocate(strings.Repeat("word ", 20), "golang developer resume content here")
	assert.True(t, alloc.JDTruncated)
	assert.Equal(t, 10, alloc.JDBudget)
	assert.Equal(t, 0, alloc.ResumeBudget)
	// 额度为零时简历退到关键词摘要，永不为空
	assert.True(t, alloc.Summarized)
	assert.NotEmpty(t, alloc.ResumeText)
}

func TestAllocateResumeTruncated(t *testing.T) {
	m := NewManager(WithMaxTokens(200))

	jd := strings.Repeat("req ", 100)
	resume := strings.Repeat("exp ", 150)

	alloc := m.Allocate(jd, resume)
	assert.False(t, alloc.JDTruncated)
	assert.Equal(t, 100, alloc.ResumeBudget)
	assert.True(t, alloc.ResumeTruncated, "额度100在摘要阈值之上走前缀截断")
	assert.False(t, alloc.Summarized)
	assert.LessOrEqual(t, m.EstimateTokens(alloc.ResumeText), 100)
}

func TestAllocateSmallRemainderSummarizes(t *testing.T) {
	m := NewManager(WithMaxTokens(100))

	jd := strings.Repeat("req ", 80)
	resume := strings.Repeat("kubernetes deployment pipeline ", 40)

	alloc := m.Allocate(jd, resume)
	assert.Equal(t, 20, alloc.ResumeBudget)
	assert.True(t, alloc.Summarized, "额度20低于摘要阈值")
	assert.NotEmpty(t, alloc.ResumeText)
	assert.LessOrEqual(t, m.EstimateTokens(alloc.ResumeText), 20)
	assert.Contains(t, alloc.ResumeText, "kubernetes")
}

func TestAllocateZeroRemainderNeverEmpty(t *testing.T) {
	m := NewManager(WithMaxTokens(10))

	jd := strings.Repeat("word ", 10)
	alloc := m.Allocate(jd, strings.Repeat("golang backend services ", 30))

	assert.Equal(t, 0, alloc.ResumeBudget)
	assert.True(t, alloc.Summarized)
	require.NotEmpty(t, alloc.ResumeText)
	assert.LessOrEqual(t, m.EstimateTokens(alloc.ResumeText), SummaryKeywordCount)
}

func TestAllocateStopwordOnlyResume(t *testing.T) {
	m := NewManager(WithMaxTokens(10))

	// 摘要提不出关键词时退回前缀截断，仍然非空
	alloc := m.Allocate(strings.Repeat("word ", 10), "a an of to in is")
	assert.True(t, alloc.Summarized)
	assert.NotEmpty(t, alloc.ResumeText)
}

func TestSummarizeKeywords(t *testing.T) {
	m := NewManager()

	text := "Go Go Go developer with kubernetes kubernetes and the a of docker"
	out := m.SummarizeKeywords(text, 2)

	words := strings.Fields(out)
	require.Len(t, words, 2)
	// 词频最高的两个词，停用词被过滤
	assert.Equal(t, []string{"kubernetes", "developer"}, words)

	// n大于候选词数时全部返回
	all := m.SummarizeKeywords(text, 100)
	assert.Contains(t, all, "docker")
	assert.NotContains(t, strings.Fields(all), "the")

	assert.Equal(t, "", m.SummarizeKeywords(text, 0))
}

package budget

import (
	"regexp"
	"sort"
	"strings"

	"resume-match-go/internal/constants"
)

// 关键词摘要降级的参数：
// 简历额度低于 SummaryThreshold 时前缀截断丢信息太多，改用摘要；
// 额度为零时摘要退到 SummaryKeywordCount 个关键词兜底，保证永不为空串。
const (
	SummaryThreshold    = 64
	SummaryKeywordCount = 32
)

// Manager 负责 oracle 上下文的token预算：估算、分配、截断与关键词降级。
// 估算按空白分词，偏保守但单调：追加文本不会让估算变小。
type Manager struct {
	maxTokens int
	jdCap     int
}

// Option Manager 配置选项
type Option func(*Manager)

// WithMaxTokens 覆盖默认的上下文硬上限
func WithMaxTokens(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxTokens = n
		}
	}
}

// WithJDCap 覆盖JD文本的子上限
func WithJDCap(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.jdCap = n
		}
	}
}

// NewManager 创建预算管理器，默认上限 constants.MaxContextTokens
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		maxTokens: constants.MaxContextTokens,
		jdCap:     constants.JDTokenCap,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MaxTokens 返回当前上下文硬上限
func (m *Manager) MaxTokens() int {
	return m.maxTokens
}

// EstimateTokens 按空白分词估算token数
func (m *Manager) EstimateTokens(text string) int {
	return len(strings.Fields(text))
}

// Truncate 最多保留前n个token，不切断单词。
// 截断结果的估算值一定不超过n。
func (m *Manager) Truncate(text string, n int) string {
	if n <= 0 {
		return ""
	}
	fields := strings.Fields(text)
	if len(fields) <= n {
		return text
	}
	return strings.Join(fields[:n], " ")
}

// Allocation 预算分配结果。JDText/ResumeText 是压缩后可直接入提示词的文本。
type Allocation struct {
	JDText     string
	ResumeText string

	JDBudget     int
	ResumeBudget int

	// JD超出子上限被截断
	JDTruncated bool
	// 简历被前缀截断
	ResumeTruncated bool
	// 简历被降级为关键词摘要
	Summarized bool
}

// Allocate 在硬上限内分配两段文本的预算：
// JD先截断到子上限 min(jdCap, maxTokens)，简历拿剩余额度（下限0）。
// 剩余额度低于摘要阈值时简历降级为关键词摘要；额度为零时摘要按
// SummaryKeywordCount 兜底，结果永不为空串，下游评分总能拿到一些信号。
func (m *Manager) Allocate(jdText, resumeText string) Allocation {
	jdCap := m.jdCap
	if jdCap > m.maxTokens {
		jdCap = m.maxTokens
	}

	alloc := Allocation{JDText: jdText}
	if m.EstimateTokens(jdText) > jdCap {
		alloc.JDText = m.Truncate(jdText, jdCap)
		alloc.JDTruncated = true
	}
	alloc.JDBudget = m.EstimateTokens(alloc.JDText)

	remainder := m.maxTokens - alloc.JDBudget
	if remainder < 0 {
		remainder = 0
	}
	alloc.ResumeBudget = remainder

	switch {
	case m.EstimateTokens(resumeText) <= remainder:
		alloc.ResumeText = resumeText
	case remainder >= SummaryThreshold:
		alloc.ResumeText = m.Truncate(resumeText, remainder)
		alloc.ResumeTruncated = true
	default:
		n := remainder
		if n <= 0 {
			n = SummaryKeywordCount
		}
		alloc.ResumeText = m.SummarizeKeywords(resumeText, n)
		if alloc.ResumeText == "" {
			// 全是停用词或超短词时摘要会空，退回前缀截断
			alloc.ResumeText = m.Truncate(resumeText, n)
		}
		alloc.Summarized = true
	}
	return alloc
}

// 关键词提取用的词符与停用词
var (
	wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

	stopwords = map[string]struct{}{
		"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
		"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "is": {},
		"it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
		"to": {}, "was": {}, "were": {}, "will": {}, "with": {}, "i": {}, "my": {},
	}
)

// SummarizeKeywords 截断会破坏信号时的降级手段：
// 按词频排序取前n个关键词拼成摘要，频次相同按首次出现顺序。
func (m *Manager) SummarizeKeywords(text string, n int) string {
	if n <= 0 {
		return ""
	}

	type wordStat struct {
		word  string
		count int
		first int
	}

	stats := make(map[string]*wordStat)
	order := 0
	for _, raw := range wordPattern.FindAllString(text, -1) {
		w := strings.ToLower(raw)
		if len(w) < 3 {
			continue
		}
		if _, skip := stopwords[w]; skip {
			continue
		}
		if s, ok := stats[w]; ok {
			s.count++
		} else {
			stats[w] = &wordStat{word: w, count: 1, first: order}
		}
		order++
	}

	ranked := make([]*wordStat, 0, len(stats))
	for _, s := range stats {
		ranked = append(ranked, s)
	}
	sort.Slice(ranked, func(a, b int) bool {
		if ranked[a].count != ranked[b].count {
			return ranked[a].count > ranked[b].count
		}
		return ranked[a].first < ranked[b].first
	})

	if n > len(ranked) {
		n = len(ranked)
	}
	words := make([]string, n)
	for i := 0; i < n; i++ {
		words[i] = ranked[i].word
	}
	return strings.Join(words, " ")
}

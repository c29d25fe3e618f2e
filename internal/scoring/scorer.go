package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"resume-match-go/internal/budget"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/parser"
	"resume-match-go/internal/types"
	"resume-match-go/internal/vector"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// 评分请求中命名的维度数量上限
const maxCriteria = 8

// 岗位没有分类和要求可用时的兜底维度名
const defaultCriterion = "Overall fit"

// JobContext 评分所需的岗位上下文
type JobContext struct {
	JobID          string
	Title          string
	Description    string
	Category       string
	Qualifications []string
	Requirements   []string
}

// ResumeDoc 待评分的一份简历
type ResumeDoc struct {
	SubmissionUUID string
	CandidateUUID  string
	Text           string
}

// BatchResult 批量评分中单份简历的结果，Err非空表示该份失败
type BatchResult struct {
	SubmissionUUID string
	Report         *types.ScoreReport
	Err            error
}

// Scorer 评分编排器。
// 负责JD解析、单份简历的维度评分和批量评分的worker池调度。
type Scorer struct {
	llmModel model.ToolCallingChatModel
	budget   *budget.Manager
	workers  int
}

// ScorerOption 配置选项
type ScorerOption func(*Scorer)

// WithWorkers 设置批量评分worker数
func WithWorkers(n int) ScorerOption {
	return func(s *Scorer) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithBudgetManager 替换token预算管理器
func WithBudgetManager(m *budget.Manager) ScorerOption {
	return func(s *Scorer) {
		s.budget = m
	}
}

// NewScorer 创建评分编排器
func NewScorer(llmModel model.ToolCallingChatModel, opts ...ScorerOption) *Scorer {
	s := &Scorer{
		llmModel: llmModel,
		budget:   budget.NewManager(),
		workers:  4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AnalyzeJob 让oracle把JD解析成结构化的资质与要求列表
func (s *Scorer) AnalyzeJob(ctx context.Context, jobTitle, jdText string) (*types.JobAnalysis, error) {
	prompt := fmt.Sprintf(`Analyze the following job description and extract its structure.

Job title: %s

Job description:
%s

Return only a JSON object in this format:
{
  "category": "<short professional category>",
  "qualifications": ["<hard qualification 1>", "..."],
  "requirements": ["<skill or experience requirement 1>", "..."]
}`, jobTitle, jdText)

	messages := []*schema.Message{
		schema.SystemMessage("You are a recruiting assistant that extracts structured data from job descriptions. Always reply with valid JSON."),
		schema.UserMessage(prompt),
	}

	reply, err := s.llmModel.Generate(ctx, messages)
	if err != nil {
		return nil, types.NewOracleError("", fmt.Sprintf("JD解析调用失败: %v", err))
	}

	var analysis types.JobAnalysis
	if err := unmarshalOracleJSON(reply.Content, &analysis); err != nil {
		return nil, types.NewOracleError("", fmt.Sprintf("JD解析回复不可解析: %v", err))
	}
	return &analysis, nil
}

// ScoreResume 对一份简历做维度评分。
// 简历本身超过硬上限时直接产出降级零分报告，零次oracle调用；
// oracle失败先用关键词摘要重试一次，仍失败就落到带失败原因的降级报告。
// 最终分永远由权重归一化后重算，不采信oracle给的总分。
func (s *Scorer) ScoreResume(ctx context.Context, job *JobContext, doc ResumeDoc) (*types.ScoreReport, error) {
	if rawTokens := s.budget.EstimateTokens(doc.Text); rawTokens > s.budget.MaxTokens() {
		logger.Ctx(ctx).Warn().
			Err(types.NewBudgetError(doc.SubmissionUUID, fmt.Sprintf("简历 %d tokens 超出硬上限 %d", rawTokens, s.budget.MaxTokens()))).
			Str("job_id", job.JobID).
			Msg("简历超出硬上限, 跳过oracle评分")
		return s.degradedReport(job, doc, "Resume too large to process."), nil
	}

	alloc := s.budget.Allocate(s.jobPrompt(job), doc.Text)
	if alloc.JDTruncated || alloc.ResumeTruncated || alloc.Summarized {
		logger.Ctx(ctx).Debug().
			Str("submission_uuid", doc.SubmissionUUID).
			Int("resume_budget", alloc.ResumeBudget).
			Bool("jd_truncated", alloc.JDTruncated).
			Bool("summarized", alloc.Summarized).
			Msg("上下文超预算, 已压缩后送评")
	}

	names := criteriaNames(job)
	degraded := alloc.Summarized

	criteria, err := s.askCriteria(ctx, alloc.JDText, alloc.ResumeText, names, doc.SubmissionUUID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		criteria, err = s.retryWithSummary(ctx, alloc, names, job, doc, err)
		if err != nil {
			// 兜底路径永远给出完整报告，不空手而归
			return s.degradedReport(job, doc, fmt.Sprintf("Error: %v", err)), nil
		}
		degraded = true
	}

	report := &types.ScoreReport{
		SubmissionUUID: doc.SubmissionUUID,
		JobID:          job.JobID,
		CandidateUUID:  doc.CandidateUUID,
		Criteria:       criteria,
		FinalScore:     weightedFinalScore(criteria),
		Degraded:       degraded,
		EvaluatedAt:    time.Now().Unix(),
	}
	return report, nil
}

// retryWithSummary oracle失败后的降级重试：简历换成关键词摘要再问一次。
// 首次请求已经是摘要时不再重复，直接带原错误返回。
func (s *Scorer) retryWithSummary(ctx context.Context, alloc budget.Allocation, names []string, job *JobContext, doc ResumeDoc, cause error) ([]types.CriterionScore, error) {
	if alloc.Summarized {
		return nil, cause
	}

	summary := s.budget.SummarizeKeywords(doc.Text, budget.SummaryKeywordCount)
	if summary == "" {
		summary = alloc.ResumeText
	}
	logger.Ctx(ctx).Warn().Err(cause).
		Str("submission_uuid", doc.SubmissionUUID).
		Str("job_id", job.JobID).
		Msg("评分调用失败, 改用关键词摘要重试")

	criteria, err := s.askCriteria(ctx, alloc.JDText, summary, names, doc.SubmissionUUID)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Str("submission_uuid", doc.SubmissionUUID).
			Str("job_id", job.JobID).
			Msg("摘要重试仍失败, 产出降级零分报告")
		return nil, err
	}
	return criteria, nil
}

// BatchScore 用有界worker池对多份简历批量评分。
// 单份失败只记录在对应的BatchResult里，不中断其余简历。
func (s *Scorer) BatchScore(ctx context.Context, job *JobContext, docs []ResumeDoc) []BatchResult {
	results := make([]BatchResult, len(docs))
	if len(docs) == 0 {
		return results
	}

	workers := s.workers
	if workers > len(docs) {
		workers = len(docs)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				doc := docs[i]
				report, err := s.ScoreResume(ctx, job, doc)
				if err != nil {
					logger.Ctx(ctx).Error().Err(err).
						Str("submission_uuid", doc.SubmissionUUID).
						Str("job_id", job.JobID).
						Msg("单份简历评分失败")
				}
				results[i] = BatchResult{
					SubmissionUUID: doc.SubmissionUUID,
					Report:         report,
					Err:            err,
				}
			}
		}()
	}

	for i := range docs {
		select {
		case <-ctx.Done():
			// 剩余的标记为取消
			for j := i; j < len(docs); j++ {
				results[j] = BatchResult{SubmissionUUID: docs[j].SubmissionUUID, Err: ctx.Err()}
			}
			close(jobs)
			wg.Wait()
			return results
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	return results
}

// PreselectResumes 用JD向量在简历索引里预筛top-k
func PreselectResumes(ctx context.Context, embedder embedding.Embedder, idx *vector.Index, jdText string, k int) ([]types.RankedSubmission, error) {
	if idx.Len() == 0 {
		return []types.RankedSubmission{}, nil
	}

	vectors, err := embedder.EmbedStrings(ctx, []string{jdText})
	if err != nil {
		return nil, fmt.Errorf("嵌入JD失败: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("嵌入JD返回空结果")
	}

	matches, err := idx.Search(toFloat32(vectors[0]), k)
	if err != nil {
		return nil, err
	}

	ranked := make([]types.RankedSubmission, len(matches))
	for i, m := range matches {
		ranked[i] = types.RankedSubmission{SubmissionUUID: m.Key, Similarity: m.Similarity}
	}
	return ranked, nil
}

func (s *Scorer) jobPrompt(job *JobContext) string {
	var b strings.Builder
	b.WriteString("Job title: ")
	b.WriteString(job.Title)
	b.WriteString("\n\nJob description:\n")
	b.WriteString(job.Description)
	if len(job.Qualifications) > 0 {
		b.WriteString("\n\nKey qualifications:\n")
		for _, q := range job.Qualifications {
			b.WriteString("- ")
			b.WriteString(q)
			b.WriteString("\n")
		}
	}
	if len(job.Requirements) > 0 {
		b.WriteString("\nKey requirements:\n")
		for _, r := range job.Requirements {
			b.WriteString("- ")
			b.WriteString(r)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// criteriaNames 评分请求中命名的维度集合：分类在前，随后是资质与要求。
// 报告里的维度顺序以这里为准，oracle回复的顺序不可信。
func criteriaNames(job *JobContext) []string {
	names := make([]string, 0, maxCriteria)
	seen := make(map[string]struct{}, maxCriteria)
	add := func(raw string) {
		n := strings.TrimSpace(raw)
		if n == "" || len(names) >= maxCriteria {
			return
		}
		key := strings.ToLower(n)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		names = append(names, n)
	}

	add(job.Category)
	for _, q := range job.Qualifications {
		add(q)
	}
	for _, r := range job.Requirements {
		add(r)
	}
	if len(names) == 0 {
		names = append(names, defaultCriterion)
	}
	return names
}

// askCriteria 请求oracle对命名维度逐一评分并做防御性解析。
// 回复按请求顺序重排：按维度名配对，oracle自创的维度丢弃，
// 漏掉的维度以零分零权重补位；一个都对不上视为oracle失败。
func (s *Scorer) askCriteria(ctx context.Context, jdPrompt, resumeText string, names []string, submissionUUID string) ([]types.CriterionScore, error) {
	var list strings.Builder
	for i, n := range names {
		fmt.Fprintf(&list, "%d. %q\n", i+1, n)
	}

	prompt := fmt.Sprintf(`Evaluate how well the following resume matches the job. Score the resume on each of these criteria, and only these, from 0 to 10, and assign each a weight:

%s
%s

Resume:
%s

Return only a JSON object in this format:
{
  "criteria": [
    {"name": "<criterion name exactly as listed>", "weight": <number>, "score": <0-10>, "justification": "<one sentence>"}
  ]
}`, list.String(), jdPrompt, resumeText)

	messages := []*schema.Message{
		schema.SystemMessage("You are a strict technical recruiter. Always reply with valid JSON."),
		schema.UserMessage(prompt),
	}

	reply, err := s.llmModel.Generate(ctx, messages)
	if err != nil {
		return nil, types.NewOracleError(submissionUUID, fmt.Sprintf("评分调用失败: %v", err))
	}

	var parsed struct {
		Criteria []types.CriterionScore `json:"criteria"`
	}
	if err := unmarshalOracleJSON(reply.Content, &parsed); err != nil {
		return nil, types.NewOracleError(submissionUUID, fmt.Sprintf("评分回复不可解析: %v", err))
	}

	byName := make(map[string]types.CriterionScore, len(parsed.Criteria))
	for _, c := range parsed.Criteria {
		byName[strings.ToLower(strings.TrimSpace(c.Name))] = c
	}

	matched := 0
	criteria := make([]types.CriterionScore, 0, len(names))
	for _, n := range names {
		c, ok := byName[strings.ToLower(n)]
		if !ok {
			criteria = append(criteria, types.CriterionScore{Name: n, Justification: "Not scored by the model"})
			continue
		}
		matched++
		// 解析边界处夹紧越界值
		c.Name = n
		if c.Score < 0 {
			c.Score = 0
		}
		if c.Score > 10 {
			c.Score = 10
		}
		if c.Weight <= 0 {
			c.Weight = 1
		}
		criteria = append(criteria, c)
	}
	if matched == 0 {
		return nil, types.NewOracleError(submissionUUID, "评分回复中没有任何请求过的维度")
	}
	return criteria, nil
}

// weightedFinalScore 权重归一化后的加权总分 (0-10)
func weightedFinalScore(criteria []types.CriterionScore) float64 {
	var weightSum, scoreSum float64
	for _, c := range criteria {
		weightSum += c.Weight
		scoreSum += c.Weight * c.Score
	}
	if weightSum == 0 {
		return 0
	}
	return scoreSum / weightSum
}

// degradedReport 本地兜底报告：请求的每个维度零分零权重并注明失败原因
func (s *Scorer) degradedReport(job *JobContext, doc ResumeDoc, cause string) *types.ScoreReport {
	names := criteriaNames(job)
	criteria := make([]types.CriterionScore, len(names))
	for i, n := range names {
		criteria[i] = types.CriterionScore{Name: n, Justification: cause}
	}
	return &types.ScoreReport{
		SubmissionUUID: doc.SubmissionUUID,
		JobID:          job.JobID,
		CandidateUUID:  doc.CandidateUUID,
		Criteria:       criteria,
		FinalScore:     0,
		Degraded:       true,
		EvaluatedAt:    time.Now().Unix(),
	}
}

// unmarshalOracleJSON 围栏剥离+花括号截取+引号修复的三段式解析
func unmarshalOracleJSON(raw string, v any) error {
	cleaned := parser.CleanLLMReply(raw)
	jsonStr := parser.ExtractJSON(cleaned)
	if jsonStr == "" {
		return fmt.Errorf("回复中未找到JSON对象")
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		repaired := parser.SanitizeJSON(jsonStr)
		if err2 := json.Unmarshal([]byte(repaired), v); err2 != nil {
			return err
		}
	}
	return nil
}

package scoring

import (
	"context"
	"errors"
	"strings"
	"testing"

	"resume-match-go/internal/agent"
	"resume-match-go/internal/budget"
	"resume-match-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testJob = &JobContext{
	JobID:       "job-1",
	Title:       "T",
	Description: "D",
}

func TestAnalyzeJob(t *testing.T) {
	mock := agent.NewMockChatClient("```json\n{\"category\": \"Backend Engineering\", \"qualifications\": [\"BS in CS\"], \"requirements\": [\"Go\", \"MySQL\"]}\n```", nil)
	s := NewScorer(mock)

	analysis, err := s.AnalyzeJob(context.Background(), "Backend Engineer", "We build services in Go.")
	require.NoError(t, err)

	assert.Equal(t, "Backend Engineering", analysis.Category)
	assert.Equal(t, []string{"BS in CS"}, analysis.Qualifications)
	assert.Equal(t, []string{"Go", "MySQL"}, analysis.Requirements)
}

func TestAnalyzeJobUnparsable(t *testing.T) {
	mock := agent.NewMockChatClient("抱歉，我无法处理。", nil)
	s := NewScorer(mock)

	_, err := s.AnalyzeJob(context.Background(), "T", "D")
	assert.ErrorIs(t, err, types.ErrOracleFailure)
}

func TestCriteriaNames(t *testing.T) {
	job := &JobContext{
		Category:       "Backend",
		Qualifications: []string{"BS in CS", "backend"},
		Requirements:   []string{"Go", "go", "", "SQL"},
	}
	// 分类在前，大小写去重，空白剔除
	assert.Equal(t, []string{"Backend", "BS in CS", "Go", "SQL"}, criteriaNames(job))

	// 什么都没有时落到兜底维度
	assert.Equal(t, []string{defaultCriterion}, criteriaNames(&JobContext{}))
}

func TestScoreResumeRecomputesFinalScore(t *testing.T) {
	job := &JobContext{
		JobID:        "job-1",
		Title:        "T",
		Description:  "D",
		Requirements: []string{"Go expertise", "SQL", "Communication"},
	}
	// oracle 给出越界分数和一个总分字段，总分必须被忽略并重算
	reply := `{
		"final_score": 9.9,
		"criteria": [
			{"name": "Go expertise", "weight": 3, "score": 12, "justification": "strong"},
			{"name": "SQL", "weight": 1, "score": -2, "justification": "weak"},
			{"name": "Communication", "weight": 0, "score": 5, "justification": "ok"}
		]
	}`
	mock := agent.NewMockChatClient(reply, nil)
	s := NewScorer(mock)

	report, err := s.ScoreResume(context.Background(), job, ResumeDoc{SubmissionUUID: "sub-1", Text: "resume text"})
	require.NoError(t, err)

	require.Len(t, report.Criteria, 3)
	assert.Equal(t, 10.0, report.Criteria[0].Score, "超上限夹紧到10")
	assert.Equal(t, 0.0, report.Criteria[1].Score, "低于下限夹紧到0")
	assert.Equal(t, 1.0, report.Criteria[2].Weight, "非正权重回退为1")

	// (3*10 + 1*0 + 1*5) / 5 = 7
	assert.InDelta(t, 7.0, report.FinalScore, 1e-9)
	assert.NotEqual(t, 9.9, report.FinalScore)
	assert.False(t, report.Degraded)
	assert.Equal(t, "job-1", report.JobID)
}

func TestScoreResumeRekeysByRequestOrder(t *testing.T) {
	job := &JobContext{
		JobID:        "job-2",
		Title:        "T",
		Description:  "D",
		Category:     "Backend",
		Requirements: []string{"Go", "Kubernetes"},
	}
	// oracle乱序返回、自创维度、漏掉一个维度
	reply := `{"criteria": [
		{"name": "kubernetes", "weight": 1, "score": 4, "justification": "some"},
		{"name": "Creativity", "weight": 5, "score": 10, "justification": "invented"},
		{"name": "backend", "weight": 2, "score": 8, "justification": "solid"}
	]}`
	mock := agent.NewMockChatClient(reply, nil)
	s := NewScorer(mock)

	report, err := s.ScoreResume(context.Background(), job, ResumeDoc{SubmissionUUID: "sub-2", Text: "resume"})
	require.NoError(t, err)

	require.Len(t, report.Criteria, 3)
	// 顺序跟随请求，不跟随回复
	assert.Equal(t, "Backend", report.Criteria[0].Name)
	assert.Equal(t, "Go", report.Criteria[1].Name)
	assert.Equal(t, "Kubernetes", report.Criteria[2].Name)

	assert.Equal(t, 8.0, report.Criteria[0].Score)
	assert.Equal(t, 4.0, report.Criteria[2].Score)
	// 漏掉的维度零分零权重补位，不影响加权总分
	assert.Zero(t, report.Criteria[1].Score)
	assert.Zero(t, report.Criteria[1].Weight)

	// (2*8 + 1*4) / 3
	assert.InDelta(t, 20.0/3.0, report.FinalScore, 1e-9)
}

func TestScoreResumeExceedsHardCeiling(t *testing.T) {
	mock := agent.NewMockChatClient("", errors.New("不应被调用"))
	s := NewScorer(mock, WithBudgetManager(budget.NewManager(budget.WithMaxTokens(100))))

	report, err := s.ScoreResume(context.Background(), testJob,
		ResumeDoc{SubmissionUUID: "sub-3", Text: strings.Repeat("word ", 200)})
	require.NoError(t, err)

	assert.True(t, report.Degraded)
	assert.Zero(t, report.FinalScore)
	assert.Zero(t, mock.CallCount, "超硬上限的简历不得发起oracle调用")
	require.NotEmpty(t, report.Criteria)
	assert.Equal(t, "Resume too large to process.", report.Criteria[0].Justification)
}

func TestScoreResumeJDOverLimitStillScores(t *testing.T) {
	reply := `{"criteria": [{"name": "Overall fit", "weight": 1, "score": 6, "justification": "ok"}]}`
	mock := agent.NewMockChatClient(reply, nil)
	// jobPrompt "Job title: T\n\nJob description:\nD" 共6个token，JD截到5后简历额度为0
	s := NewScorer(mock, WithBudgetManager(budget.NewManager(budget.WithMaxTokens(5))))

	report, err := s.ScoreResume(context.Background(), testJob,
		ResumeDoc{SubmissionUUID: "sub-4", Text: "kubernetes deployment pipeline golang"})
	require.NoError(t, err)

	assert.Equal(t, 1, mock.CallCount, "JD超限走截断而不是拒绝评分")
	assert.True(t, report.Degraded, "简历被摘要降级后报告要带降级标记")
	assert.InDelta(t, 6.0, report.FinalScore, 1e-9)

	require.NotEmpty(t, mock.ReceivedMessages)
	prompt := mock.ReceivedMessages[len(mock.ReceivedMessages)-1].Content
	assert.Contains(t, prompt, "kubernetes", "额度为零时简历以关键词摘要形式送评")
}

func TestScoreResumeKeywordSummaryFallback(t *testing.T) {
	reply := `{"criteria": [{"name": "Overall fit", "weight": 1, "score": 6}]}`
	mock := agent.NewMockChatClient(reply, nil)
	// JD占6个token, 简历额度为20, 低于摘要阈值走关键词摘要
	s := NewScorer(mock, WithBudgetManager(budget.NewManager(budget.WithMaxTokens(26))))

	// 24个token：未超26的硬上限，但超出20的剩余额度
	resume := strings.Repeat("kubernetes deployment pipeline ", 8)
	report, err := s.ScoreResume(context.Background(), testJob, ResumeDoc{SubmissionUUID: "sub-5", Text: resume})
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.True(t, report.Degraded)

	require.NotEmpty(t, mock.ReceivedMessages)
	prompt := mock.ReceivedMessages[len(mock.ReceivedMessages)-1].Content
	assert.Contains(t, prompt, "kubernetes", "摘要关键词应进入提示词")
	assert.NotContains(t, prompt, strings.TrimSpace(resume), "简历原文不应原样进入提示词")
}

func TestScoreResumeRetriesWithSummaryOnOracleFailure(t *testing.T) {
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{Error: errors.New("connection reset")},
		{Content: `{"criteria": [{"name": "Overall fit", "weight": 1, "score": 7, "justification": "ok"}]}`},
	})
	s := NewScorer(mock)

	resume := strings.Repeat("kubernetes deployment pipeline ", 40)
	report, err := s.ScoreResume(context.Background(), testJob, ResumeDoc{SubmissionUUID: "sub-6", Text: resume})
	require.NoError(t, err)

	assert.Equal(t, 2, mock.CallCount, "失败后用摘要重试一次")
	assert.True(t, report.Degraded)
	assert.InDelta(t, 7.0, report.FinalScore, 1e-9)

	// 重试的提示词应是摘要而不是原文
	retryPrompt := mock.ReceivedMessages[len(mock.ReceivedMessages)-1].Content
	assert.Contains(t, retryPrompt, "kubernetes")
	assert.Less(t, len(retryPrompt), len(resume))
}

func TestScoreResumeOracleUnavailableDegrades(t *testing.T) {
	mock := agent.NewMockChatClient("", errors.New("connection reset"))
	s := NewScorer(mock)

	report, err := s.ScoreResume(context.Background(), testJob, ResumeDoc{SubmissionUUID: "sub-7", Text: "resume text"})
	require.NoError(t, err, "oracle彻底不可用也不向上抛错")
	require.NotNil(t, report)

	assert.Equal(t, 2, mock.CallCount)
	assert.True(t, report.Degraded)
	assert.Zero(t, report.FinalScore)
	assert.Equal(t, "sub-7", report.SubmissionUUID)
	require.NotEmpty(t, report.Criteria)
	assert.Contains(t, report.Criteria[0].Justification, "Error:", "降级报告要写明失败原因")
}

func TestScoreResumeUnusableReplyDegrades(t *testing.T) {
	// 回复可解析但没有任何请求过的维度
	mock := agent.NewMockChatClient(`{"criteria": []}`, nil)
	s := NewScorer(mock)

	report, err := s.ScoreResume(context.Background(), testJob, ResumeDoc{SubmissionUUID: "sub-8", Text: "text"})
	require.NoError(t, err)

	assert.Equal(t, 2, mock.CallCount)
	assert.True(t, report.Degraded)
	assert.Zero(t, report.FinalScore)
	assert.NotEmpty(t, report.Criteria)
}

func TestBatchScoreDegradedResultsStillReported(t *testing.T) {
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{Error: errors.New("connection reset")},
		{Error: errors.New("connection reset")},
		{Content: `{"criteria": [{"name": "Overall fit", "weight": 1, "score": 8}]}`},
	})
	s := NewScorer(mock, WithWorkers(1))

	docs := []ResumeDoc{
		{SubmissionUUID: "sub-a", Text: "resume a"},
		{SubmissionUUID: "sub-b", Text: "resume b"},
	}
	results := s.BatchScore(context.Background(), testJob, docs)

	require.Len(t, results, 2)
	// 第一份oracle两次都失败，落为降级报告而不是错误
	require.NoError(t, results[0].Err)
	require.NotNil(t, results[0].Report)
	assert.True(t, results[0].Report.Degraded)
	assert.Zero(t, results[0].Report.FinalScore)

	require.NoError(t, results[1].Err, "第二份不受影响")
	require.NotNil(t, results[1].Report)
	assert.False(t, results[1].Report.Degraded)
	assert.InDelta(t, 8.0, results[1].Report.FinalScore, 1e-9)
}

func TestBatchScoreEmpty(t *testing.T) {
	s := NewScorer(agent.NewMockChatClient("", nil))
	assert.Empty(t, s.BatchScore(context.Background(), testJob, nil))
}

func TestWeightedFinalScoreNormalization(t *testing.T) {
	criteria := []types.CriterionScore{
		{Weight: 2, Score: 10},
		{Weight: 2, Score: 5},
	}
	assert.InDelta(t, 7.5, weightedFinalScore(criteria), 1e-9)
	assert.Zero(t, weightedFinalScore(nil))
}

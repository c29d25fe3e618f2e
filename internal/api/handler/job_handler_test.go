package handler

import (
	"context"
	"testing"
	"time"

	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobContextParsesJSONColumns(t *testing.T) {
	job := &models.Job{
		JobID:              "job-1",
		JobTitle:           "Backend Engineer",
		JobDescriptionText: "Build services.",
		QualificationsJSON: models.StringToJSON(`["BS in CS"]`),
		RequirementsJSON:   models.StringToJSON(`["Go","MySQL"]`),
	}

	h := &JobHandler{}
	jobCtx := h.jobContext(context.Background(), job)

	assert.Equal(t, "job-1", jobCtx.JobID)
	assert.Empty(t, jobCtx.Category)
	assert.Equal(t, []string{"BS in CS"}, jobCtx.Qualifications)
	assert.Equal(t, []string{"Go", "MySQL"}, jobCtx.Requirements)
}

func TestJobContextToleratesBrokenJSON(t *testing.T) {
	job := &models.Job{
		JobID:              "job-2",
		JobTitle:           "T",
		JobDescriptionText: "D",
		QualificationsJSON: models.StringToJSON(`{not valid`),
	}

	h := &JobHandler{}
	jobCtx := h.jobContext(context.Background(), job)

	assert.Empty(t, jobCtx.Qualifications)
	assert.Equal(t, "D", jobCtx.Description)
}

func TestScoreRowToReport(t *testing.T) {
	candidateID := "cand-1"
	evaluated := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	row := &models.JobScore{
		SubmissionUUID: "sub-1",
		JobID:          "job-1",
		CandidateID:    &candidateID,
		CriteriaJSON:   models.StringToJSON(`[{"name":"Go","weight":2,"score":8,"justification":"solid"}]`),
		FinalScore:     8,
		Degraded:       false,
		EvaluatedAt:    evaluated,
	}

	report := scoreRowToReport(row)

	assert.Equal(t, "sub-1", report.SubmissionUUID)
	assert.Equal(t, "cand-1", report.CandidateUUID)
	assert.Equal(t, evaluated.Unix(), report.EvaluatedAt)
	require.Len(t, report.Criteria, 1)
	assert.Equal(t, types.CriterionScore{Name: "Go", Weight: 2, Score: 8, Justification: "solid"}, report.Criteria[0])
}

func TestScoreRowToReportBrokenCriteria(t *testing.T) {
	row := &models.JobScore{
		SubmissionUUID: "sub-2",
		JobID:          "job-1",
		CriteriaJSON:   models.StringToJSON(`oops`),
		FinalScore:     3.5,
		Degraded:       true,
		EvaluatedAt:    time.Now(),
	}

	report := scoreRowToReport(row)

	assert.Empty(t, report.Criteria)
	assert.Equal(t, 3.5, report.FinalScore)
	assert.True(t, report.Degraded)
}

package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Category JD 分类表，名称唯一，按需 get-or-create
type Category struct {
	CategoryID uint64    `gorm:"primaryKey;autoIncrement"`
	Name       string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_categories_name_unique"`
	CreatedAt  time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

func (Category) TableName() string {
	return "categories"
}

// Job 岗位描述表
type Job struct {
	JobID              string         `gorm:"type:char(36);primaryKey"`
	JobTitle           string         `gorm:"type:varchar(255);not null"`
	JobDescriptionText string         `gorm:"type:text;not null"`
	CategoryID         *uint64        `gorm:"index:idx_jobs_category_id"`
	QualificationsJSON datatypes.JSON `gorm:"type:json"`
	RequirementsJSON   datatypes.JSON `gorm:"type:json"`
	Status             string         `gorm:"type:varchar(50);default:'ACTIVE';index:idx_jobs_status"`
	CreatedAt          time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt          time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`

	Category *Category `gorm:"foreignKey:CategoryID;references:CategoryID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

func (Job) TableName() string {
	return "jobs"
}

// Candidate 候选人主表。
// Email 小写存储且唯一，是身份合并的键；画像字段按 COALESCE 语义更新。
type Candidate struct {
	CandidateID       string         `gorm:"type:char(36);primaryKey"`
	Name              string         `gorm:"type:varchar(255)"`
	Email             string         `gorm:"type:varchar(255);uniqueIndex:idx_candidates_email_unique"`
	Phone             string         `gorm:"type:varchar(50)"`
	LinkedinURL       string         `gorm:"type:varchar(512)"`
	CurrentLocation   string         `gorm:"type:varchar(255)"`
	YearsExperience   string         `gorm:"type:varchar(20)"`
	EducationLevel    string         `gorm:"type:varchar(255)"`
	LastPositionTitle string         `gorm:"type:varchar(255)"`
	SkillsJSON        datatypes.JSON `gorm:"type:json"`
	ResumePath        string         `gorm:"type:varchar(1024)"`
	CreatedAt         time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt         time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Candidate) TableName() string {
	return "candidates"
}

// ResumeSubmission 一次简历上传的快照
type ResumeSubmission struct {
	SubmissionUUID      string    `gorm:"type:char(36);primaryKey"`
	CandidateID         *string   `gorm:"type:char(36);index:idx_rs_candidate_id"`
	OriginalFilename    string    `gorm:"type:varchar(255)"`
	OriginalFilePathOSS string    `gorm:"type:varchar(1024)"`
	RawFileMD5          string    `gorm:"type:char(32);index:idx_rs_raw_file_md5"`
	ProcessingStatus    string    `gorm:"type:varchar(50);default:'PENDING_PARSING';index:idx_rs_processing_status"`
	Degraded            bool      `gorm:"default:false"`
	CreatedAt           time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt           time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`

	Candidate *Candidate `gorm:"foreignKey:CandidateID;references:CandidateID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

func (ResumeSubmission) TableName() string {
	return "resume_submissions"
}

// JobScore 岗位×简历评分表，(SubmissionUUID, JobID) 唯一，重复评分走upsert
type JobScore struct {
	ScoreID       uint64         `gorm:"primaryKey;autoIncrement"`
	SubmissionUUID string        `gorm:"type:char(36);not null;uniqueIndex:idx_js_submission_job_unique,priority:1"`
	JobID         string         `gorm:"type:char(36);not null;index:idx_js_job_id_final_score,priority:1;uniqueIndex:idx_js_submission_job_unique,priority:2"`
	CandidateID   *string        `gorm:"type:char(36);index:idx_js_candidate_id"`
	CriteriaJSON  datatypes.JSON `gorm:"type:json"`
	FinalScore    float64        `gorm:"type:double;index:idx_js_job_id_final_score,priority:2"`
	Degraded      bool           `gorm:"default:false"`
	EvaluatedAt   time.Time      `gorm:"type:datetime(6)"`
	CreatedAt     time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt     time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (JobScore) TableName() string {
	return "job_scores"
}

// ProcessLog 流水线审计日志表
type ProcessLog struct {
	LogID     uint64    `gorm:"primaryKey;autoIncrement"`
	LogType   string    `gorm:"type:varchar(20);not null;index:idx_pl_log_type"`
	Process   string    `gorm:"type:varchar(100);not null;index:idx_pl_process"`
	Message   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

func (ProcessLog) TableName() string {
	return "process_logs"
}

// StringToJSON 字符串转 datatypes.JSON
func StringToJSON(s string) datatypes.JSON {
	return datatypes.JSON(s)
}

// SliceToJSON 任意可序列化切片转 datatypes.JSON
func SliceToJSON(v any) (datatypes.JSON, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}

package types

import "strings"

// CandidateProfile 简历中提取出的候选人结构化字段。
// 空字符串/空切片表示该字段缺失。
type CandidateProfile struct {
	Name            string   `json:"name,omitempty"`
	Email           string   `json:"email,omitempty"`
	Phone           string   `json:"phone,omitempty"`
	LinkedIn        string   `json:"linkedin,omitempty"`
	Location        string   `json:"location,omitempty"`
	YearsExperience string   `json:"years_experience,omitempty"`
	Degree          string   `json:"degree,omitempty"`
	LastTitle       string   `json:"last_title,omitempty"`
	Skills          []string `json:"skills,omitempty"`
}

// 字段名常量，供提取器与缺字段提示复用
const (
	FieldName            = "name"
	FieldEmail           = "email"
	FieldPhone           = "phone"
	FieldLinkedIn        = "linkedin"
	FieldLocation        = "location"
	FieldYearsExperience = "years_experience"
	FieldDegree          = "degree"
	FieldLastTitle       = "last_title"
	FieldSkills          = "skills"
)

// AllProfileFields 提取器关心的全部字段，顺序固定
var AllProfileFields = []string{
	FieldName, FieldEmail, FieldPhone, FieldLinkedIn, FieldLocation,
	FieldYearsExperience, FieldDegree, FieldLastTitle, FieldSkills,
}

// IdentityKey 返回候选人的身份键：小写 email。
// 这个域没有可靠的次级自然键，email 缺失时返回空串。
func (p *CandidateProfile) IdentityKey() string {
	return strings.ToLower(strings.TrimSpace(p.Email))
}

// Merge 以 COALESCE 语义合并另一份画像：
// 接收者已有的非空字段保持不变，空字段用 other 的值补齐。
func (p *CandidateProfile) Merge(other *CandidateProfile) {
	if other == nil {
		return
	}
	if p.Name == "" {
		p.Name = other.Name
	}
	if p.Email == "" {
		p.Email = other.Email
	}
	if p.Phone == "" {
		p.Phone = other.Phone
	}
	if p.LinkedIn == "" {
		p.LinkedIn = other.LinkedIn
	}
	if p.Location == "" {
		p.Location = other.Location
	}
	if p.YearsExperience == "" {
		p.YearsExperience = other.YearsExperience
	}
	if p.Degree == "" {
		p.Degree = other.Degree
	}
	if p.LastTitle == "" {
		p.LastTitle = other.LastTitle
	}
	if len(p.Skills) == 0 {
		p.Skills = other.Skills
	}
}

// MissingFields 返回仍为空的字段名列表，顺序与 AllProfileFields 一致。
func (p *CandidateProfile) MissingFields() []string {
	var missing []string
	for _, f := range AllProfileFields {
		if !p.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Has 判断某字段是否已有值
func (p *CandidateProfile) Has(field string) bool {
	switch field {
	case FieldName:
		return p.Name != ""
	case FieldEmail:
		return p.Email != ""
	case FieldPhone:
		return p.Phone != ""
	case FieldLinkedIn:
		return p.LinkedIn != ""
	case FieldLocation:
		return p.Location != ""
	case FieldYearsExperience:
		return p.YearsExperience != ""
	case FieldDegree:
		return p.Degree != ""
	case FieldLastTitle:
		return p.LastTitle != ""
	case FieldSkills:
		return len(p.Skills) > 0
	}
	return false
}

// ExtractionResult 两趟提取流程的产物
type ExtractionResult struct {
	Profile *CandidateProfile `json:"profile"`
	// Pass 2 结束后仍缺失的字段
	Missing []string `json:"missing,omitempty"`
	// 简历超预算时跳过 oracle，标记为降级结果
	Degraded bool `json:"degraded"`
	// 本次提取实际发起的 oracle 调用次数
	OracleCalls int `json:"oracle_calls"`
}

// CriterionScore 单项评分维度的结果 (0-10)
type CriterionScore struct {
	Name          string  `json:"name"`
	Weight        float64 `json:"weight"`
	Score         float64 `json:"score"`
	Justification string  `json:"justification,omitempty"`
}

// ScoreReport 一次"简历×JD"评估的完整结果。
// FinalScore 永远由编排器按权重重算，不采信 oracle 给出的总分。
type ScoreReport struct {
	SubmissionUUID string           `json:"submission_uuid"`
	JobID          string           `json:"job_id"`
	CandidateUUID  string           `json:"candidate_uuid,omitempty"`
	Criteria       []CriterionScore `json:"criteria"`
	FinalScore     float64          `json:"final_score"`
	Degraded       bool             `json:"degraded"`
	EvaluatedAt    int64            `json:"evaluated_at"`
}

// JobClassification JD 分类结果
type JobClassification struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	// 来源: "index" 向量检索命中 / "oracle" LLM 兜底
	Source string `json:"source"`
}

// JobAnalysis oracle 对 JD 的结构化解析
type JobAnalysis struct {
	Category       string   `json:"category"`
	Qualifications []string `json:"qualifications"`
	Requirements   []string `json:"requirements"`
}

// RankedSubmission 向量检索得到的候选简历及相似度
type RankedSubmission struct {
	SubmissionUUID string  `json:"submission_uuid"`
	Similarity     float32 `json:"similarity"`
}

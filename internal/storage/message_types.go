package storage

// ResumeScoredEvent 评分完成事件，发布到评分exchange供下游订阅
type ResumeScoredEvent struct {
	SubmissionUUID string  `json:"submission_uuid"`
	JobID          string  `json:"job_id"`
	CandidateUUID  string  `json:"candidate_uuid,omitempty"`
	FinalScore     float64 `json:"final_score"`
	Degraded       bool    `json:"degraded"`
	// Unix秒
	EvaluatedAt int64 `json:"evaluated_at"`
}

// ResumeReceivedEvent 简历入库事件，携带去重与对象存储信息
type ResumeReceivedEvent struct {
	SubmissionUUID      string `json:"submission_uuid"`
	TargetJobID         string `json:"target_job_id,omitempty"`
	OriginalFilename    string `json:"original_filename"`
	OriginalFilePathOSS string `json:"original_file_path_oss"`
	// 原始文件MD5，处理失败时据此回滚去重登记
	RawFileMD5 string `json:"raw_file_md5,omitempty"`
	UploadTime int64  `json:"upload_time,omitempty"`
}

package constants

// Redis Key 前缀和格式常量
// 统一命名规范: match:{module}:{entity}:{unique_id}
const (
	// AppPrefix 所有Redis Key的统一应用前缀
	AppPrefix = "match"

	// EmbeddingModulePrefix 嵌入模块
	EmbeddingModulePrefix = "embed"
	// FileModulePrefix 文件模块
	FileModulePrefix = "file"

	// KeyEmbeddingCache 嵌入向量缓存 (STRING, JSON数组)
	// 格式: match:embed:vector:{sha256(text)}
	KeyEmbeddingCache = AppPrefix + ":" + EmbeddingModulePrefix + ":vector:%s"

	// KeyFileMD5Set 上传文件MD5去重集合 (SET)
	// 格式: match:file:dedup_set
	KeyFileMD5Set = AppPrefix + ":" + FileModulePrefix + ":dedup_set"

	// KeyFileMD5ToSubmissionUUID MD5到SubmissionUUID的映射 (STRING)
	// 格式: match:file:md5_to_uuid:{md5}
	KeyFileMD5ToSubmissionUUID = AppPrefix + ":" + FileModulePrefix + ":md5_to_uuid:%s"

	// KeyJobRanking 岗位评分排行缓存 (ZSET, member=submission_uuid, score=final_score)
	// 格式: match:job:ranking:{job_id}
	KeyJobRanking = AppPrefix + ":job:ranking:%s"

	// KeyJobScoreLock 岗位批量评分互斥锁 (STRING, SETNX)
	// 格式: match:job:score_lock:{job_id}
	KeyJobScoreLock = AppPrefix + ":job:score_lock:%s"
)

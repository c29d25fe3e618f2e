package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"resume-match-go/internal/config"
	"resume-match-go/internal/constants"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFound key不存在，包装 redis.Nil 便于上层判断
var ErrNotFound = redis.Nil

var redisTracer = otel.Tracer("resume-match-go/storage/redis")

// Redis 封装go-redis客户端，承担嵌入缓存、文件去重和排行缓存
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter 创建Redis连接并注册OpenTelemetry钩子
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond,
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond,
	}

	client := redis.NewClient(opt)

	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{
		Client: client,
		config: cfg,
	}, nil
}

// Close 关闭连接
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping 探活
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// GetMD5ExpireDuration 返回配置的MD5去重记录过期时间
func (r *Redis) GetMD5ExpireDuration() time.Duration {
	days := r.config.MD5RecordExpireDays
	if days <= 0 {
		days = 365
	}
	return time.Duration(days) * 24 * time.Hour
}

// EmbeddingCacheKey 嵌入缓存key，用文本的sha256做指纹
func EmbeddingCacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf(constants.KeyEmbeddingCache, hex.EncodeToString(sum[:]))
}

// GetEmbedding 读取缓存的嵌入向量，未命中返回 ErrNotFound
func (r *Redis) GetEmbedding(ctx context.Context, text string) ([]float64, error) {
	if r.Client == nil {
		return nil, fmt.Errorf("redis client is not initialized")
	}

	raw, err := r.Client.Get(ctx, EmbeddingCacheKey(text)).Result()
	if err != nil {
		return nil, err
	}

	var vector []float64
	if err := json.Unmarshal([]byte(raw), &vector); err != nil {
		return nil, fmt.Errorf("反序列化嵌入向量失败: %w", err)
	}
	return vector, nil
}

// SetEmbedding 缓存嵌入向量
func (r *Redis) SetEmbedding(ctx context.Context, text string, vector []float64) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}

	raw, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("序列化嵌入向量失败: %w", err)
	}
	return r.Client.Set(ctx, EmbeddingCacheKey(text), raw, constants.EmbeddingCacheDuration).Err()
}

// CheckAndSetFileMD5 原子地检查并登记上传文件的MD5。
// 返回 exists=true 时附带首次登记该MD5的 submission_uuid，
// 调用方据此直接复用已有提交而不重复处理。
func (r *Redis) CheckAndSetFileMD5(ctx context.Context, md5Hex string, submissionUUID string) (exists bool, existingUUID string, err error) {
	ctx, span := redisTracer.Start(ctx, "Redis.CheckAndSetFileMD5",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		semconv.DBSystemRedis,
		attribute.String("net.peer.name", r.config.Address),
		attribute.String("db.operation", "EVAL"),
		attribute.String("db.redis.key", constants.KeyFileMD5Set),
		attribute.String("db.redis.member", md5Hex),
	)

	if r.Client == nil {
		err = fmt.Errorf("redis client is not initialized")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, "", err
	}

	mapKey := fmt.Sprintf(constants.KeyFileMD5ToSubmissionUUID, md5Hex)

	// Lua脚本保证SISMEMBER/SADD/映射写入的原子性
	script := `
		local exists = redis.call('SISMEMBER', KEYS[1], ARGV[1])
		if exists == 1 then
			return redis.call('GET', KEYS[2])
		end
		redis.call('SADD', KEYS[1], ARGV[1])
		redis.call('EXPIRE', KEYS[1], ARGV[3])
		redis.call('SET', KEYS[2], ARGV[2], 'EX', ARGV[3])
		return false
	`

	expirySeconds := int64(r.GetMD5ExpireDuration().Seconds())
	res, err := r.Client.Eval(ctx, script,
		[]string{constants.KeyFileMD5Set, mapKey},
		md5Hex, submissionUUID, expirySeconds).Result()
	if err != nil {
		// Lua返回false时go-redis以redis.Nil上抛，表示本次是首次登记
		if err == redis.Nil {
			span.SetAttributes(attribute.Bool("already_exists", false))
			span.SetStatus(codes.Ok, "")
			return false, "", nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, "", fmt.Errorf("执行原子检查和登记MD5失败: %w", err)
	}

	existingUUID, _ = res.(string)
	span.SetAttributes(
		attribute.Bool("already_exists", true),
		attribute.String("existing_submission_uuid", existingUUID),
	)
	span.SetStatus(codes.Ok, "")
	return true, existingUUID, nil
}

// RemoveFileMD5 从去重集合移除MD5并删除映射，供处理失败后回滚
func (r *Redis) RemoveFileMD5(ctx context.Context, md5Hex string) error {
	ctx, span := redisTracer.Start(ctx, "Redis.RemoveFileMD5",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		semconv.DBSystemRedis,
		attribute.String("db.operation", "SREM"),
		attribute.String("db.redis.key", constants.KeyFileMD5Set),
		attribute.String("db.redis.member", md5Hex),
	)

	pipe := r.Client.Pipeline()
	remCmd := pipe.SRem(ctx, constants.KeyFileMD5Set, md5Hex)
	pipe.Del(ctx, fmt.Sprintf(constants.KeyFileMD5ToSubmissionUUID, md5Hex))
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("从去重集合移除MD5失败: %w", err)
	}

	span.SetAttributes(attribute.Int64("removed_count", remCmd.Val()))
	span.SetStatus(codes.Ok, "")
	return nil
}

// CacheJobRanking 把一个岗位的完整评分排行写入ZSET缓存
func (r *Redis) CacheJobRanking(ctx context.Context, jobID string, entries map[string]float64, ttl time.Duration) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	if len(entries) == 0 {
		return nil
	}

	key := fmt.Sprintf(constants.KeyJobRanking, jobID)

	members := make([]redis.Z, 0, len(entries))
	for submissionUUID, finalScore := range entries {
		members = append(members, redis.Z{Score: finalScore, Member: submissionUUID})
	}

	pipe := r.Client.Pipeline()
	pipe.Del(ctx, key)
	pipe.ZAdd(ctx, key, members...)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// GetCachedJobRanking 从ZSET按分数从高到低取排行分页
func (r *Redis) GetCachedJobRanking(ctx context.Context, jobID string, offset, limit int64) (uuids []string, totalCount int64, err error) {
	ctx, span := redisTracer.Start(ctx, "Redis.GetCachedJobRanking", trace.WithAttributes(
		semconv.DBSystemRedis,
		attribute.String("job.id", jobID),
		attribute.Int64("redis.offset", offset),
		attribute.Int64("redis.limit", limit),
	))
	defer span.End()

	key := fmt.Sprintf(constants.KeyJobRanking, jobID)

	pipe := r.Client.Pipeline()
	countCmd := pipe.ZCard(ctx, key)
	rangeCmd := pipe.ZRevRange(ctx, key, offset, offset+limit-1)
	_, err = pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		span.RecordError(err)
		return nil, 0, err
	}

	uuids, err = rangeCmd.Result()
	if err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to get ranking members: %w", err)
	}

	totalCount, err = countCmd.Result()
	if err != nil {
		return uuids, 0, err
	}

	return uuids, totalCount, nil
}

// AcquireScoreLock 为岗位批量评分抢一把互斥锁，返回持有者标识，空串表示未抢到
func (r *Redis) AcquireScoreLock(ctx context.Context, jobID string, expiration time.Duration) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}
	lockKey := fmt.Sprintf(constants.KeyJobScoreLock, jobID)
	lockValue := fmt.Sprintf("%d", time.Now().UnixNano())
	ok, err := r.Client.SetNX(ctx, lockKey, lockValue, expiration).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return lockValue, nil
	}
	return "", nil
}

// ReleaseScoreLock 释放批量评分锁，Lua脚本保证只释放自己持有的锁
func (r *Redis) ReleaseScoreLock(ctx context.Context, jobID string, lockValue string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis client is not initialized")
	}
	lockKey := fmt.Sprintf(constants.KeyJobScoreLock, jobID)
	script := `
        if redis.call("get", KEYS[1]) == ARGV[1] then
            return redis.call("del", KEYS[1])
        else
            return 0
        end
    `
	res, err := r.Client.Eval(ctx, script, []string{lockKey}, lockValue).Result()
	if err != nil {
		return false, err
	}

	if released, ok := res.(int64); ok && released == 1 {
		return true, nil
	}
	return false, nil
}

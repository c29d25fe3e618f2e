package types

import (
	"errors"
	"fmt"
)

// 定义流水线的基础错误类型
var (
	// ErrExtractionMiss 两趟提取后字段仍然缺失
	ErrExtractionMiss = errors.New("字段提取缺失")
	// ErrOracleFailure oracle 调用失败或回复不可解析
	ErrOracleFailure = errors.New("oracle调用失败")
	// ErrBudgetExceeded 截断后仍超出上下文预算
	ErrBudgetExceeded = errors.New("超出token预算")
	// ErrDimensionMismatch 向量维度与索引不一致
	ErrDimensionMismatch = errors.New("向量维度不匹配")
	// ErrMissingIdentityKey 简历没有可用的 email，无法确定候选人身份
	ErrMissingIdentityKey = errors.New("缺少身份键")
)

// PipelineError 包含详细上下文的自定义错误
type PipelineError struct {
	SubmissionUUID string
	Op             string
	BaseErr        error
	Detail         string
}

func (e *PipelineError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, UUID:%s): %s", e.BaseErr, e.Op, e.SubmissionUUID, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, UUID:%s)", e.BaseErr, e.Op, e.SubmissionUUID)
}

func (e *PipelineError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *PipelineError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// 错误构造函数
func NewExtractionMissError(uuid, detail string) error {
	return &PipelineError{
		SubmissionUUID: uuid,
		Op:             "extract",
		BaseErr:        ErrExtractionMiss,
		Detail:         detail,
	}
}

func NewOracleError(uuid, detail string) error {
	return &PipelineError{
		SubmissionUUID: uuid,
		Op:             "oracle",
		BaseErr:        ErrOracleFailure,
		Detail:         detail,
	}
}

func NewBudgetError(uuid, detail string) error {
	return &PipelineError{
		SubmissionUUID: uuid,
		Op:             "budget",
		BaseErr:        ErrBudgetExceeded,
		Detail:         detail,
	}
}

func NewIdentityError(uuid, detail string) error {
	return &PipelineError{
		SubmissionUUID: uuid,
		Op:             "identity",
		BaseErr:        ErrMissingIdentityKey,
		Detail:         detail,
	}
}

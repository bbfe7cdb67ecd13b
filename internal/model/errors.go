package model

import "errors"

// ============================================================================
// 错误分类
// ============================================================================
//
// 【为什么要分类？】
//
// 不同的失败需要不同的处置：
//   ValidationError  —— 消息本身有问题，重投也不会好，丢弃并计数
//   TransientError   —— 存储超时/连接抖动，指数退避重试，重试耗尽后不确认，等传输层重投
//   ConsistencyError —— 已落库的状态违反约束，该账户的通道停机告警，其他账户不受影响
//
// 重复事件不是错误，走去重路径静默确认。
// ============================================================================

// ValidationError 信封校验失败
type ValidationError struct {
	Reason string
}

func NewValidationError(reason string) *ValidationError {
	return &ValidationError{Reason: reason}
}

func (e *ValidationError) Error() string {
	return "事件校验失败: " + e.Reason
}

// TransientError 可重试的存储故障
type TransientError struct {
	Op  string // 出错的存储操作
	Err error
}

func NewTransientError(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

func (e *TransientError) Error() string {
	return "存储瞬时故障[" + e.Op + "]: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// ConsistencyError 聚合状态违反一致性约束
type ConsistencyError struct {
	Reason string
}

func NewConsistencyError(reason string) *ConsistencyError {
	return &ConsistencyError{Reason: reason}
}

func (e *ConsistencyError) Error() string {
	return "一致性校验失败: " + e.Reason
}

// IsValidation 是否为校验错误
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransient 是否为可重试的瞬时错误
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsConsistency 是否为一致性错误
func IsConsistency(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}

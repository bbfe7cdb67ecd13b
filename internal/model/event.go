package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 事件类型常量
// ============================================================================

const (
	EventKindAccountOpened        = "ACCOUNT_OPENED"         // 开户
	EventKindAccountStatusChanged = "ACCOUNT_STATUS_CHANGED" // 账户状态变更
	EventKindTransactionPosted    = "TRANSACTION_POSTED"     // 交易入账
)

var validEventKinds = map[string]bool{
	EventKindAccountOpened:        true,
	EventKindAccountStatusChanged: true,
	EventKindTransactionPosted:    true,
}

func IsValidEventKind(kind string) bool {
	return validEventKinds[kind]
}

// ============================================================================
// 事件信封
// ============================================================================

// AccountEvent 账户事件信封
// 一条消息对应一个业务事件，消费端按 IdempotencyKey 去重
//
// 【重要】时间语义：
//  1. OccurredAt 是业务时间 —— 用于日/月分桶和同日覆盖判断
//  2. ReceivedAt 是投递时间 —— 只用于观测，不参与任何计算
type AccountEvent struct {
	Kind           string       `json:"kind"`
	AccountID      string       `json:"account_id"`
	OccurredAt     time.Time    `json:"occurred_at"`
	ReceivedAt     time.Time    `json:"received_at,omitempty"`
	IdempotencyKey string       `json:"idempotency_key"`
	Payload        EventPayload `json:"payload"`
}

// EventPayload 事件负载
// 按 Kind 取用对应字段：交易事件用 Amount/Category/TransactionType，
// 状态事件用 OldStatus/NewStatus
type EventPayload struct {
	Amount          decimal.Decimal `json:"amount"`           // 带符号金额，正数入账，负数出账
	Category        string          `json:"category,omitempty"`
	TransactionType string          `json:"transaction_type,omitempty"`
	OldStatus       string          `json:"old_status,omitempty"`
	NewStatus       string          `json:"new_status,omitempty"`
}

// Validate 校验信封必填字段
// 校验失败的事件直接丢弃，不重试
func (e *AccountEvent) Validate() error {
	if !IsValidEventKind(e.Kind) {
		return NewValidationError("未知的事件类型: " + e.Kind)
	}
	if e.AccountID == "" {
		return NewValidationError("account_id 不能为空")
	}
	if e.OccurredAt.IsZero() {
		return NewValidationError("occurred_at 不能为空")
	}
	if e.IdempotencyKey == "" {
		return NewValidationError("idempotency_key 不能为空")
	}
	// 金额缺省和显式写零在 JSON 里无法区分，交易事件一律要求非零金额
	if e.Kind == EventKindTransactionPosted && e.Payload.Amount.IsZero() {
		return NewValidationError("transaction_posted 事件的 amount 不能为零")
	}
	return nil
}

// ParseAccountEvent 反序列化事件信封并校验
func ParseAccountEvent(data []byte) (*AccountEvent, error) {
	var ev AccountEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, NewValidationError("事件反序列化失败: " + err.Error())
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// ============================================================================
// 重算完成通知
// ============================================================================

// RecalculatedNotice 分析重算完成通知
// 每次聚合状态成功落库后发出，仅尽力投递
type RecalculatedNotice struct {
	NoticeNo        string          `json:"notice_no"`
	AccountID       string          `json:"account_id"`
	SpendingPattern string          `json:"spending_pattern"`
	VolatilityScore decimal.Decimal `json:"volatility_score"`
	LastUpdated     time.Time       `json:"last_updated"`
}

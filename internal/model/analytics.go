package model

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 消费模式常量
// ============================================================================

const (
	PatternInactive   = "INACTIVE"   // 无交易
	PatternStable     = "STABLE"     // 平稳
	PatternVariable   = "VARIABLE"   // 波动中等
	PatternVolatile   = "VOLATILE"   // 波动剧烈
	PatternIncreasing = "INCREASING" // 连续三月净额递增
	PatternDecreasing = "DECREASING" // 连续三月净额递减
	PatternErratic    = "ERRATIC"    // 无规律（需 12 个月以上数据）
	PatternSeasonal   = "SEASONAL"   // 季节性（需 12 个月以上数据）
)

var validPatterns = map[string]bool{
	PatternInactive:   true,
	PatternStable:     true,
	PatternVariable:   true,
	PatternVolatile:   true,
	PatternIncreasing: true,
	PatternDecreasing: true,
	PatternErratic:    true,
	PatternSeasonal:   true,
}

func IsValidPattern(pattern string) bool {
	return validPatterns[pattern]
}

// 分桶 key 格式，构造与校验时统一检查，不在更新点各自散落
var (
	monthKeyPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)
	dayKeyPattern   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

const (
	MonthKeyLayout = "2006-01"
	DayKeyLayout   = "2006-01-02"
)

// ============================================================================
// 账户分析聚合状态
// ============================================================================

// DailyBalance 单日余额快照
// AsOf 记录产生该快照的交易业务时间，同一天以业务时间晚者为准
type DailyBalance struct {
	Balance decimal.Decimal `json:"balance"`
	AsOf    time.Time       `json:"as_of"`
}

// AccountAnalytics 账户分析聚合状态
// 每个账户一条记录，MongoDB 为权威存储，Redis 只作为读侧缓存
//
// 【重要】一致性约束：
//  1. TransactionCount = DepositCount + WithdrawalCount
//  2. TotalBalance = TotalIncome - TotalExpenses（后两者为非负幅值）
//  3. 月分桶 key 格式 YYYY-MM，日分桶 key 格式 YYYY-MM-DD
//  4. 任何已落库的快照都满足上述约束，读侧可能读到旧值但不会读到不一致的值
type AccountAnalytics struct {
	AccountID string `json:"account_id"`

	TotalBalance  decimal.Decimal `json:"total_balance"`
	TotalIncome   decimal.Decimal `json:"total_income"`
	TotalExpenses decimal.Decimal `json:"total_expenses"`

	TransactionCount uint64 `json:"transaction_count"`
	DepositCount     uint64 `json:"deposit_count"`
	WithdrawalCount  uint64 `json:"withdrawal_count"`

	LargestDeposit    decimal.Decimal `json:"largest_deposit"`
	LargestWithdrawal decimal.Decimal `json:"largest_withdrawal"`

	AverageTransactionAmount decimal.Decimal `json:"average_transaction_amount"`

	FirstTransactionDate *time.Time `json:"first_transaction_date,omitempty"`
	LastTransactionDate  *time.Time `json:"last_transaction_date,omitempty"`

	DailyBalances   map[string]DailyBalance    `json:"daily_balances"`
	MonthlyIncome   map[string]decimal.Decimal `json:"monthly_income"`
	MonthlyExpenses map[string]decimal.Decimal `json:"monthly_expenses"`
	CategoryTotals  map[string]decimal.Decimal `json:"category_totals"`

	PrimaryCategory string          `json:"primary_category,omitempty"`
	VolatilityScore decimal.Decimal `json:"volatility_score"`
	SpendingPattern string          `json:"spending_pattern"`

	// 最近处理过的幂等键（有界环，先进先出），用于吸收传输层的重复投递
	ProcessedKeys []string `json:"processed_keys"`

	LastUpdated  time.Time `json:"last_updated"`
	CalculatedAt time.Time `json:"calculated_at"`
}

// NewAccountAnalytics 创建空聚合状态
// 首次收到某账户的事件时惰性创建
func NewAccountAnalytics(accountID string) *AccountAnalytics {
	return &AccountAnalytics{
		AccountID:       accountID,
		DailyBalances:   make(map[string]DailyBalance),
		MonthlyIncome:   make(map[string]decimal.Decimal),
		MonthlyExpenses: make(map[string]decimal.Decimal),
		CategoryTotals:  make(map[string]decimal.Decimal),
		SpendingPattern: PatternInactive,
	}
}

// Clone 深拷贝
// 折叠函数不修改输入状态，全部在副本上进行
func (a *AccountAnalytics) Clone() *AccountAnalytics {
	c := *a

	c.DailyBalances = make(map[string]DailyBalance, len(a.DailyBalances))
	for k, v := range a.DailyBalances {
		c.DailyBalances[k] = v
	}
	c.MonthlyIncome = make(map[string]decimal.Decimal, len(a.MonthlyIncome))
	for k, v := range a.MonthlyIncome {
		c.MonthlyIncome[k] = v
	}
	c.MonthlyExpenses = make(map[string]decimal.Decimal, len(a.MonthlyExpenses))
	for k, v := range a.MonthlyExpenses {
		c.MonthlyExpenses[k] = v
	}
	c.CategoryTotals = make(map[string]decimal.Decimal, len(a.CategoryTotals))
	for k, v := range a.CategoryTotals {
		c.CategoryTotals[k] = v
	}

	c.ProcessedKeys = make([]string, len(a.ProcessedKeys))
	copy(c.ProcessedKeys, a.ProcessedKeys)

	if a.FirstTransactionDate != nil {
		t := *a.FirstTransactionDate
		c.FirstTransactionDate = &t
	}
	if a.LastTransactionDate != nil {
		t := *a.LastTransactionDate
		c.LastTransactionDate = &t
	}

	return &c
}

// HasProcessed 幂等键是否已处理过
func (a *AccountAnalytics) HasProcessed(key string) bool {
	for _, k := range a.ProcessedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// RecordProcessed 记录幂等键，超过窗口大小时淘汰最早的键
func (a *AccountAnalytics) RecordProcessed(key string, window int) {
	if window <= 0 {
		window = 1
	}
	a.ProcessedKeys = append(a.ProcessedKeys, key)
	if over := len(a.ProcessedKeys) - window; over > 0 {
		a.ProcessedKeys = a.ProcessedKeys[over:]
	}
}

// Validate 校验聚合状态的一致性约束
// 加载后、折叠前调用，违反约束说明存储中的数据已损坏，该账户的处理通道停机告警
func (a *AccountAnalytics) Validate() error {
	if a.AccountID == "" {
		return NewConsistencyError("account_id 为空")
	}
	if a.TransactionCount != a.DepositCount+a.WithdrawalCount {
		return NewConsistencyError(fmt.Sprintf(
			"交易计数不一致: count=%d deposit=%d withdrawal=%d",
			a.TransactionCount, a.DepositCount, a.WithdrawalCount))
	}
	if !a.TotalBalance.Equal(a.TotalIncome.Sub(a.TotalExpenses)) {
		return NewConsistencyError(fmt.Sprintf(
			"余额不等于收支之差: balance=%s income=%s expenses=%s",
			a.TotalBalance, a.TotalIncome, a.TotalExpenses))
	}
	if a.FirstTransactionDate != nil && a.LastTransactionDate != nil &&
		a.FirstTransactionDate.After(*a.LastTransactionDate) {
		return NewConsistencyError("首笔交易时间晚于末笔交易时间")
	}
	for k := range a.MonthlyIncome {
		if !monthKeyPattern.MatchString(k) {
			return NewConsistencyError("monthly_income key 格式非法: " + k)
		}
	}
	for k := range a.MonthlyExpenses {
		if !monthKeyPattern.MatchString(k) {
			return NewConsistencyError("monthly_expenses key 格式非法: " + k)
		}
	}
	for k := range a.DailyBalances {
		if !dayKeyPattern.MatchString(k) {
			return NewConsistencyError("daily_balances key 格式非法: " + k)
		}
	}
	if a.VolatilityScore.IsNegative() {
		return NewConsistencyError("volatility_score 为负: " + a.VolatilityScore.String())
	}
	if a.SpendingPattern != "" && !IsValidPattern(a.SpendingPattern) {
		return NewConsistencyError("未知的消费模式: " + a.SpendingPattern)
	}
	return nil
}

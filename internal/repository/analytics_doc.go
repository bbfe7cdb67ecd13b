package repository

import (
	"time"

	"accountanalytics/internal/model"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ============================================================================
// MongoDB 文档适配
// ============================================================================
//
// 聚合状态在内存中只有一种规范类型（model.AccountAnalytics），
// 两个存储各有一个序列化适配器：这里是 MongoDB 侧，金额统一转为
// Decimal128 —— 既保持精确又能被范围索引使用。
// ============================================================================

type dailyBalanceDoc struct {
	Balance primitive.Decimal128 `bson:"balance"`
	AsOf    time.Time            `bson:"asOf"`
}

type analyticsDoc struct {
	ID        string `bson:"_id"`
	AccountID string `bson:"accountId"`

	TotalBalance  primitive.Decimal128 `bson:"totalBalance"`
	TotalIncome   primitive.Decimal128 `bson:"totalIncome"`
	TotalExpenses primitive.Decimal128 `bson:"totalExpenses"`

	TransactionCount uint64 `bson:"transactionCount"`
	DepositCount     uint64 `bson:"depositCount"`
	WithdrawalCount  uint64 `bson:"withdrawalCount"`

	LargestDeposit    primitive.Decimal128 `bson:"largestDeposit"`
	LargestWithdrawal primitive.Decimal128 `bson:"largestWithdrawal"`

	AverageTransactionAmount primitive.Decimal128 `bson:"averageTransactionAmount"`

	FirstTransactionDate *time.Time `bson:"firstTransactionDate,omitempty"`
	LastTransactionDate  *time.Time `bson:"lastTransactionDate,omitempty"`

	DailyBalances   map[string]dailyBalanceDoc      `bson:"dailyBalances"`
	MonthlyIncome   map[string]primitive.Decimal128 `bson:"monthlyIncome"`
	MonthlyExpenses map[string]primitive.Decimal128 `bson:"monthlyExpenses"`
	CategoryTotals  map[string]primitive.Decimal128 `bson:"categoryTotals"`

	PrimaryCategory string               `bson:"primaryCategory,omitempty"`
	VolatilityScore primitive.Decimal128 `bson:"volatilityScore"`
	SpendingPattern string               `bson:"spendingPattern"`

	ProcessedKeys []string `bson:"processedKeys"`

	LastUpdated  time.Time `bson:"lastUpdated"`
	CalculatedAt time.Time `bson:"calculatedAt"`
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, errors.WithStack(err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Decimal{}, errors.WithStack(err)
	}
	return d, nil
}

func toDecimal128Map(in map[string]decimal.Decimal) (map[string]primitive.Decimal128, error) {
	out := make(map[string]primitive.Decimal128, len(in))
	for k, v := range in {
		d, err := toDecimal128(v)
		if err != nil {
			return nil, err
		}
		out[k] = d
	}
	return out, nil
}

func fromDecimal128Map(in map[string]primitive.Decimal128) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		d, err := fromDecimal128(v)
		if err != nil {
			return nil, err
		}
		out[k] = d
	}
	return out, nil
}

func newAnalyticsDoc(a *model.AccountAnalytics) (*analyticsDoc, error) {
	doc := &analyticsDoc{
		ID:                   a.AccountID,
		AccountID:            a.AccountID,
		TransactionCount:     a.TransactionCount,
		DepositCount:         a.DepositCount,
		WithdrawalCount:      a.WithdrawalCount,
		FirstTransactionDate: a.FirstTransactionDate,
		LastTransactionDate:  a.LastTransactionDate,
		PrimaryCategory:      a.PrimaryCategory,
		SpendingPattern:      a.SpendingPattern,
		ProcessedKeys:        a.ProcessedKeys,
		LastUpdated:          a.LastUpdated,
		CalculatedAt:         a.CalculatedAt,
	}

	var err error
	if doc.TotalBalance, err = toDecimal128(a.TotalBalance); err != nil {
		return nil, err
	}
	if doc.TotalIncome, err = toDecimal128(a.TotalIncome); err != nil {
		return nil, err
	}
	if doc.TotalExpenses, err = toDecimal128(a.TotalExpenses); err != nil {
		return nil, err
	}
	if doc.LargestDeposit, err = toDecimal128(a.LargestDeposit); err != nil {
		return nil, err
	}
	if doc.LargestWithdrawal, err = toDecimal128(a.LargestWithdrawal); err != nil {
		return nil, err
	}
	if doc.AverageTransactionAmount, err = toDecimal128(a.AverageTransactionAmount); err != nil {
		return nil, err
	}
	if doc.VolatilityScore, err = toDecimal128(a.VolatilityScore); err != nil {
		return nil, err
	}
	if doc.MonthlyIncome, err = toDecimal128Map(a.MonthlyIncome); err != nil {
		return nil, err
	}
	if doc.MonthlyExpenses, err = toDecimal128Map(a.MonthlyExpenses); err != nil {
		return nil, err
	}
	if doc.CategoryTotals, err = toDecimal128Map(a.CategoryTotals); err != nil {
		return nil, err
	}

	doc.DailyBalances = make(map[string]dailyBalanceDoc, len(a.DailyBalances))
	for k, v := range a.DailyBalances {
		b, err := toDecimal128(v.Balance)
		if err != nil {
			return nil, err
		}
		doc.DailyBalances[k] = dailyBalanceDoc{Balance: b, AsOf: v.AsOf}
	}

	return doc, nil
}

func (d *analyticsDoc) toModel() (*model.AccountAnalytics, error) {
	a := &model.AccountAnalytics{
		AccountID:            d.AccountID,
		TransactionCount:     d.TransactionCount,
		DepositCount:         d.DepositCount,
		WithdrawalCount:      d.WithdrawalCount,
		FirstTransactionDate: d.FirstTransactionDate,
		LastTransactionDate:  d.LastTransactionDate,
		PrimaryCategory:      d.PrimaryCategory,
		SpendingPattern:      d.SpendingPattern,
		ProcessedKeys:        d.ProcessedKeys,
		LastUpdated:          d.LastUpdated,
		CalculatedAt:         d.CalculatedAt,
	}

	var err error
	if a.TotalBalance, err = fromDecimal128(d.TotalBalance); err != nil {
		return nil, err
	}
	if a.TotalIncome, err = fromDecimal128(d.TotalIncome); err != nil {
		return nil, err
	}
	if a.TotalExpenses, err = fromDecimal128(d.TotalExpenses); err != nil {
		return nil, err
	}
	if a.LargestDeposit, err = fromDecimal128(d.LargestDeposit); err != nil {
		return nil, err
	}
	if a.LargestWithdrawal, err = fromDecimal128(d.LargestWithdrawal); err != nil {
		return nil, err
	}
	if a.AverageTransactionAmount, err = fromDecimal128(d.AverageTransactionAmount); err != nil {
		return nil, err
	}
	if a.VolatilityScore, err = fromDecimal128(d.VolatilityScore); err != nil {
		return nil, err
	}
	if a.MonthlyIncome, err = fromDecimal128Map(d.MonthlyIncome); err != nil {
		return nil, err
	}
	if a.MonthlyExpenses, err = fromDecimal128Map(d.MonthlyExpenses); err != nil {
		return nil, err
	}
	if a.CategoryTotals, err = fromDecimal128Map(d.CategoryTotals); err != nil {
		return nil, err
	}

	a.DailyBalances = make(map[string]model.DailyBalance, len(d.DailyBalances))
	for k, v := range d.DailyBalances {
		b, err := fromDecimal128(v.Balance)
		if err != nil {
			return nil, err
		}
		a.DailyBalances[k] = model.DailyBalance{Balance: b, AsOf: v.AsOf}
	}

	if a.ProcessedKeys == nil {
		a.ProcessedKeys = []string{}
	}

	return a, nil
}

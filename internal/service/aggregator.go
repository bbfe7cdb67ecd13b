package service

import (
	"accountanalytics/internal/model"

	"github.com/shopspring/decimal"
)

// Aggregator 聚合折叠器
// Fold 是纯函数：不做 I/O，不修改输入状态，任何路径都返回完整的新状态或错误
type Aggregator struct{}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Fold 把一个事件折叠进聚合状态，返回新状态
//
// 【重要】金额语义：正数入账（存款），负数出账（取款），
// TotalIncome/TotalExpenses 均记为非负幅值，恒有
// TotalBalance = TotalIncome - TotalExpenses
func (a *Aggregator) Fold(state *model.AccountAnalytics, ev *model.AccountEvent) (*model.AccountAnalytics, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	next := state.Clone()

	switch ev.Kind {
	case model.EventKindTransactionPosted:
		a.foldTransaction(next, ev)
	case model.EventKindAccountOpened, model.EventKindAccountStatusChanged:
		// 账户生命周期事件不影响任何数值聚合，
		// 账户状态由下游的账户档案服务单独维护
	default:
		return nil, model.NewValidationError("未知的事件类型: " + ev.Kind)
	}

	return next, nil
}

func (a *Aggregator) foldTransaction(next *model.AccountAnalytics, ev *model.AccountEvent) {
	amount := ev.Payload.Amount
	occurred := ev.OccurredAt.UTC()

	// 余额按带符号金额累加，收入/支出按幅值累加
	next.TotalBalance = next.TotalBalance.Add(amount)

	if amount.IsNegative() {
		magnitude := amount.Neg()
		next.TotalExpenses = next.TotalExpenses.Add(magnitude)
		next.WithdrawalCount++

		// 极值采用严格大于比较，相等时保留先出现的值
		if magnitude.GreaterThan(next.LargestWithdrawal) {
			next.LargestWithdrawal = magnitude
		}

		monthKey := occurred.Format(model.MonthKeyLayout)
		next.MonthlyExpenses[monthKey] = next.MonthlyExpenses[monthKey].Add(magnitude)

		if ev.Payload.Category != "" {
			next.CategoryTotals[ev.Payload.Category] = next.CategoryTotals[ev.Payload.Category].Add(magnitude)
			next.PrimaryCategory = primaryCategory(next.CategoryTotals)
		}
	} else {
		next.TotalIncome = next.TotalIncome.Add(amount)
		next.DepositCount++

		if amount.GreaterThan(next.LargestDeposit) {
			next.LargestDeposit = amount
		}

		monthKey := occurred.Format(model.MonthKeyLayout)
		next.MonthlyIncome[monthKey] = next.MonthlyIncome[monthKey].Add(amount)
	}

	next.TransactionCount++

	// 均值每次由总量重算，不做增量平均，避免精度漂移
	totalled := next.TotalIncome.Add(next.TotalExpenses)
	next.AverageTransactionAmount = totalled.Div(decimal.NewFromInt(int64(next.TransactionCount)))

	// 首末交易时间按业务时间取 min/max
	if next.FirstTransactionDate == nil || occurred.Before(*next.FirstTransactionDate) {
		t := occurred
		next.FirstTransactionDate = &t
	}
	if next.LastTransactionDate == nil || occurred.After(*next.LastTransactionDate) {
		t := occurred
		next.LastTransactionDate = &t
	}

	// 日分桶记录交易后的余额快照，同一天按业务时间后来者覆盖（与到达顺序无关）
	dayKey := occurred.Format(model.DayKeyLayout)
	if prev, ok := next.DailyBalances[dayKey]; !ok || !prev.AsOf.After(occurred) {
		next.DailyBalances[dayKey] = model.DailyBalance{
			Balance: next.TotalBalance,
			AsOf:    occurred,
		}
	}
}

// primaryCategory 支出最多的类别，金额相同时取字典序靠前者（保证确定性）
func primaryCategory(totals map[string]decimal.Decimal) string {
	var best string
	var bestAmount decimal.Decimal

	for category, amount := range totals {
		if best == "" ||
			amount.GreaterThan(bestAmount) ||
			(amount.Equal(bestAmount) && category < best) {
			best = category
			bestAmount = amount
		}
	}
	return best
}

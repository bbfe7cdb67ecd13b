package service

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"accountanalytics/internal/model"

	fuzz "github.com/google/gofuzz"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func txEvent(accountID, key, amount string, occurred time.Time) *model.AccountEvent {
	return &model.AccountEvent{
		Kind:           model.EventKindTransactionPosted,
		AccountID:      accountID,
		OccurredAt:     occurred,
		IdempotencyKey: key,
		Payload: model.EventPayload{
			Amount: decimal.RequireFromString(amount),
		},
	}
}

func foldAll(t *testing.T, agg *Aggregator, state *model.AccountAnalytics, events ...*model.AccountEvent) *model.AccountAnalytics {
	t.Helper()
	for _, ev := range events {
		next, err := agg.Fold(state, ev)
		require.NoError(t, err)
		state = next
	}
	return state
}

func TestFoldSingleMonth(t *testing.T) {
	agg := NewAggregator()
	state := model.NewAccountAnalytics("acc-1")

	// 单月内：1日存入1000，5日取出200，10日存入50
	state = foldAll(t, agg, state,
		txEvent("acc-1", "tx-1", "1000", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
		txEvent("acc-1", "tx-2", "-200", time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)),
		txEvent("acc-1", "tx-3", "50", time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)),
	)

	assert.True(t, state.TotalBalance.Equal(decimal.RequireFromString("850")), "balance=%s", state.TotalBalance)
	assert.EqualValues(t, 3, state.TransactionCount)
	assert.EqualValues(t, 2, state.DepositCount)
	assert.EqualValues(t, 1, state.WithdrawalCount)
	assert.True(t, state.LargestDeposit.Equal(decimal.RequireFromString("1000")))
	assert.True(t, state.LargestWithdrawal.Equal(decimal.RequireFromString("200")))

	// 均值由总量重算：(1050+200)/3
	assert.Equal(t, "416.67", state.AverageTransactionAmount.Round(2).String())

	// 月分桶
	assert.True(t, state.MonthlyIncome["2024-01"].Equal(decimal.RequireFromString("1050")))
	assert.True(t, state.MonthlyExpenses["2024-01"].Equal(decimal.RequireFromString("200")))

	// 日分桶记录交易后的余额
	assert.Len(t, state.DailyBalances, 3)
	assert.True(t, state.DailyBalances["2024-01-01"].Balance.Equal(decimal.RequireFromString("1000")))
	assert.True(t, state.DailyBalances["2024-01-05"].Balance.Equal(decimal.RequireFromString("800")))
	assert.True(t, state.DailyBalances["2024-01-10"].Balance.Equal(decimal.RequireFromString("850")))

	// 首末交易时间
	require.NotNil(t, state.FirstTransactionDate)
	require.NotNil(t, state.LastTransactionDate)
	assert.Equal(t, 1, state.FirstTransactionDate.Day())
	assert.Equal(t, 10, state.LastTransactionDate.Day())

	require.NoError(t, state.Validate())
}

func TestFoldIsPure(t *testing.T) {
	agg := NewAggregator()
	state := foldAll(t, agg, model.NewAccountAnalytics("acc-1"),
		txEvent("acc-1", "tx-1", "100", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	before, err := json.Marshal(state)
	require.NoError(t, err)

	_, err = agg.Fold(state, txEvent("acc-1", "tx-2", "-30", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	after, err := json.Marshal(state)
	require.NoError(t, err)

	// 折叠绝不修改输入状态
	assert.Equal(t, string(before), string(after))
}

func TestFoldLifecycleEventsAreNoop(t *testing.T) {
	agg := NewAggregator()
	state := foldAll(t, agg, model.NewAccountAnalytics("acc-1"),
		txEvent("acc-1", "tx-1", "100", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	before, _ := json.Marshal(state)

	for _, kind := range []string{model.EventKindAccountOpened, model.EventKindAccountStatusChanged} {
		next, err := agg.Fold(state, &model.AccountEvent{
			Kind:           kind,
			AccountID:      "acc-1",
			OccurredAt:     time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			IdempotencyKey: "lc-" + kind,
			Payload:        model.EventPayload{NewStatus: "FROZEN"},
		})
		require.NoError(t, err)

		after, _ := json.Marshal(next)
		assert.Equal(t, string(before), string(after), "生命周期事件不应改动数值聚合: %s", kind)
	}
}

func TestFoldRejectsUnknownKind(t *testing.T) {
	agg := NewAggregator()
	state := model.NewAccountAnalytics("acc-1")

	_, err := agg.Fold(state, &model.AccountEvent{
		Kind:           "SOMETHING_ELSE",
		AccountID:      "acc-1",
		OccurredAt:     time.Now(),
		IdempotencyKey: "x",
	})
	assert.True(t, model.IsValidation(err))
}

func TestFoldExtremaTiesKeepEarlier(t *testing.T) {
	agg := NewAggregator()
	day1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	state := foldAll(t, agg, model.NewAccountAnalytics("acc-1"),
		txEvent("acc-1", "tx-1", "500", day1),
		txEvent("acc-1", "tx-2", "500", day1.Add(time.Hour)),
	)

	// 相等不更新，极值仍来自第一笔
	assert.True(t, state.LargestDeposit.Equal(decimal.RequireFromString("500")))
	assert.EqualValues(t, 2, state.DepositCount)
}

func TestFoldDailyBucketByBusinessTime(t *testing.T) {
	agg := NewAggregator()
	morning := time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)
	evening := time.Date(2024, 1, 5, 21, 0, 0, 0, time.UTC)

	// 晚间的交易先到达，早间的交易后到达
	state := foldAll(t, agg, model.NewAccountAnalytics("acc-1"),
		txEvent("acc-1", "tx-evening", "100", evening),
		txEvent("acc-1", "tx-morning", "10", morning),
	)

	// 同一天以业务时间晚者为准，与到达顺序无关：
	// 晚间交易时余额 100，早间交易到达后总余额 110，但快照仍属于晚间那笔
	require.NoError(t, state.Validate())
	snap := state.DailyBalances["2024-01-05"]
	assert.True(t, snap.AsOf.Equal(evening))
	assert.True(t, snap.Balance.Equal(decimal.RequireFromString("100")))
}

func TestFoldPrimaryCategory(t *testing.T) {
	agg := NewAggregator()
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	ev1 := txEvent("acc-1", "tx-1", "-100", day)
	ev1.Payload.Category = "groceries"
	ev2 := txEvent("acc-1", "tx-2", "-300", day.AddDate(0, 0, 1))
	ev2.Payload.Category = "rent"
	ev3 := txEvent("acc-1", "tx-3", "-50", day.AddDate(0, 0, 2))
	ev3.Payload.Category = "groceries"

	state := foldAll(t, agg, model.NewAccountAnalytics("acc-1"), ev1, ev2, ev3)

	assert.Equal(t, "rent", state.PrimaryCategory)
	assert.True(t, state.CategoryTotals["groceries"].Equal(decimal.RequireFromString("150")))
}

// 随机事件序列下一致性约束恒成立
func TestFoldInvariantsHoldUnderFuzz(t *testing.T) {
	type fuzzTx struct {
		Cents     int32
		DayOffset uint16
	}

	agg := NewAggregator()
	state := model.NewAccountAnalytics("acc-fuzz")
	base := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	f := fuzz.New()

	for i := 0; i < 500; i++ {
		var tx fuzzTx
		f.Fuzz(&tx)
		if tx.Cents == 0 {
			tx.Cents = 1 // 零金额在信封校验就被拒绝，不进入折叠
		}

		amount := decimal.New(int64(tx.Cents), -2)
		occurred := base.AddDate(0, 0, int(tx.DayOffset%400))

		next, err := agg.Fold(state, txEvent("acc-fuzz", fmt.Sprintf("tx-%d", i), amount.String(), occurred))
		require.NoError(t, err)
		state = next
	}

	require.NoError(t, state.Validate())
	assert.EqualValues(t, 500, state.TransactionCount)
	assert.Equal(t, state.TransactionCount, state.DepositCount+state.WithdrawalCount)
	assert.True(t, state.TotalBalance.Equal(state.TotalIncome.Sub(state.TotalExpenses)))
}

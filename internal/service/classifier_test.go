package service

import (
	"fmt"
	"testing"
	"time"

	"accountanalytics/internal/config"
	"accountanalytics/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAnalyticsConfig() *config.AnalyticsConfig {
	return &config.AnalyticsConfig{
		HighThreshold:     0.75,
		ModerateThreshold: 0.35,
		DedupWindow:       500,
	}
}

// stateWithNets 按给定的月净额序列构造状态，从 startMonth 起逐月排布
func stateWithNets(startMonth time.Time, nets ...string) *model.AccountAnalytics {
	a := model.NewAccountAnalytics("acc-1")
	for i, raw := range nets {
		net := decimal.RequireFromString(raw)
		key := startMonth.AddDate(0, i, 0).Format(model.MonthKeyLayout)
		if net.IsNegative() {
			a.MonthlyExpenses[key] = net.Neg()
		} else {
			a.MonthlyIncome[key] = net
		}
		a.TransactionCount++
		if net.IsNegative() {
			a.WithdrawalCount++
		} else {
			a.DepositCount++
		}
	}
	return a
}

var startMonth = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestClassifyInactive(t *testing.T) {
	cls := NewClassifier(testAnalyticsConfig())

	score, pattern := cls.Classify(model.NewAccountAnalytics("acc-1"))

	assert.True(t, score.IsZero())
	assert.Equal(t, model.PatternInactive, pattern)
}

func TestClassifyIncreasing(t *testing.T) {
	cls := NewClassifier(testAnalyticsConfig())

	// 连续三个月净额 100, 200, 300
	_, pattern := cls.Classify(stateWithNets(startMonth, "100", "200", "300"))
	assert.Equal(t, model.PatternIncreasing, pattern)
}

func TestClassifyDecreasing(t *testing.T) {
	cls := NewClassifier(testAnalyticsConfig())

	_, pattern := cls.Classify(stateWithNets(startMonth, "300", "200", "100"))
	assert.Equal(t, model.PatternDecreasing, pattern)
}

func TestClassifyVolatile(t *testing.T) {
	cls := NewClassifier(testAnalyticsConfig())

	// 四个月交替 +500/-500，变异系数远超高阈值
	score, pattern := cls.Classify(stateWithNets(startMonth, "500", "-500", "500", "-500"))

	assert.Equal(t, model.PatternVolatile, pattern)
	cv, _ := score.Float64()
	assert.Greater(t, cv, 0.75)
}

func TestClassifyStable(t *testing.T) {
	cls := NewClassifier(testAnalyticsConfig())

	// 净额几乎不变且无单调趋势
	_, pattern := cls.Classify(stateWithNets(startMonth, "100", "101", "100", "101"))
	assert.Equal(t, model.PatternStable, pattern)
}

func TestClassifyVariable(t *testing.T) {
	cls := NewClassifier(testAnalyticsConfig())

	// 波动明显但未达高阈值，也无连续趋势
	score, pattern := cls.Classify(stateWithNets(startMonth, "100", "200", "90", "180"))

	cv, _ := score.Float64()
	require.GreaterOrEqual(t, cv, 0.35)
	require.Less(t, cv, 0.75)
	assert.Equal(t, model.PatternVariable, pattern)
}

func TestClassifyDeterministic(t *testing.T) {
	cls := NewClassifier(testAnalyticsConfig())
	state := stateWithNets(startMonth, "500", "-500", "500", "-500")

	score1, pattern1 := cls.Classify(state)
	score2, pattern2 := cls.Classify(state)

	assert.True(t, score1.Equal(score2))
	assert.Equal(t, pattern1, pattern2)
}

func TestClassifyTrendRequiresConsecutiveMonths(t *testing.T) {
	cls := NewClassifier(testAnalyticsConfig())

	// 三个月递增但中间隔了一个月，不构成趋势
	a := model.NewAccountAnalytics("acc-1")
	a.MonthlyIncome["2024-01"] = decimal.RequireFromString("100")
	a.MonthlyIncome["2024-02"] = decimal.RequireFromString("200")
	a.MonthlyIncome["2024-04"] = decimal.RequireFromString("300")
	a.TransactionCount, a.DepositCount = 3, 3

	_, pattern := cls.Classify(a)
	assert.NotEqual(t, model.PatternIncreasing, pattern)
}

func TestClassifySeasonal(t *testing.T) {
	cls := NewClassifier(testAnalyticsConfig())

	// 四年周期性净额，滞后 12 月自相关显著
	nets := make([]string, 0, 48)
	cycle := []int{100, 120, 150, 200, 400, 800, 900, 850, 400, 200, 150, 110}
	for i := 0; i < 48; i++ {
		nets = append(nets, fmt.Sprint(cycle[i%12]))
	}

	_, pattern := cls.Classify(stateWithNets(startMonth.AddDate(-3, 0, 0), nets...))
	assert.Equal(t, model.PatternSeasonal, pattern)
}

func TestClassifyErratic(t *testing.T) {
	cls := NewClassifier(testAnalyticsConfig())

	// 12 个月数据，无周期性，单月异常尖峰把变异系数推过高阈值的两倍
	nets := []string{"10", "10", "10", "10", "10", "5000", "10", "10", "10", "10", "10", "10"}

	score, pattern := cls.Classify(stateWithNets(startMonth, nets...))

	cv, _ := score.Float64()
	require.GreaterOrEqual(t, cv, 1.5)
	assert.Equal(t, model.PatternErratic, pattern)
}

func TestClassifyVolatilityWindow(t *testing.T) {
	cfg := testAnalyticsConfig()
	cfg.VolatilityWindowMonth = 3
	cls := NewClassifier(cfg)

	// 早期剧烈波动，窗口内（最近 3 个月）平稳
	state := stateWithNets(startMonth, "900", "-900", "900", "100", "101", "100")
	score, _ := cls.Classify(state)

	cv, _ := score.Float64()
	assert.Less(t, cv, 0.35, "窗口应排除早期月份: cv=%v", cv)
}

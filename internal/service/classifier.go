package service

import (
	"math"
	"sort"
	"time"

	"accountanalytics/internal/config"
	"accountanalytics/internal/model"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
)

// 季节性判定常量：季节性规则只在至少 12 个月数据时参与评估
const (
	seasonalMinMonths    = 12
	seasonalLag          = 12
	seasonalCorrMin      = 0.7 // 滞后 12 月自相关阈值
	erraticFactor        = 2.0 // 无规律判定 = 波动率超过高阈值的倍数
	trendWindow          = 3   // 趋势判定的连续月数
	volatilityScoreScale = 6   // 波动率保留小数位
)

// Classifier 消费模式分类器
// Classify 是纯函数，对同一状态的两次调用结果完全一致
type Classifier struct {
	cfg *config.AnalyticsConfig
}

func NewClassifier(cfg *config.AnalyticsConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify 计算波动率与消费模式标签
//
// 波动率 = 月净额序列的样本标准差 / 月净额绝对值的均值（变异系数），
// 不足两个月或均值为零时记 0。
//
// 模式按规则顺序判定，先命中者生效：
//  1. 无交易            -> INACTIVE
//  2. (>=12个月) 季节分解 -> SEASONAL / ERRATIC
//  3. 波动率 >= 高阈值   -> VOLATILE
//  4. 近三个连续月递增    -> INCREASING
//  5. 近三个连续月递减    -> DECREASING
//  6. 波动率 >= 中阈值   -> VARIABLE
//  7. 其他              -> STABLE
func (c *Classifier) Classify(state *model.AccountAnalytics) (decimal.Decimal, string) {
	nets := monthlyNets(state, c.cfg.VolatilityWindowMonth)
	score := volatilityScore(nets)
	cv, _ := score.Float64()

	if state.TransactionCount == 0 {
		return score, model.PatternInactive
	}

	if len(nets) >= seasonalMinMonths {
		if pattern, ok := seasonalPattern(nets, cv, c.cfg.HighThreshold); ok {
			return score, pattern
		}
	}

	if cv >= c.cfg.HighThreshold {
		return score, model.PatternVolatile
	}

	if trend, ok := recentTrend(nets); ok {
		return score, trend
	}

	if cv >= c.cfg.ModerateThreshold {
		return score, model.PatternVariable
	}

	return score, model.PatternStable
}

type monthlyNet struct {
	Month time.Time
	Net   decimal.Decimal
}

// monthlyNets 月净额序列（收入 - 支出），按月份升序
// windowMonths > 0 时只保留最近的 windowMonths 个月
func monthlyNets(state *model.AccountAnalytics, windowMonths int) []monthlyNet {
	months := make(map[string]bool, len(state.MonthlyIncome)+len(state.MonthlyExpenses))
	for m := range state.MonthlyIncome {
		months[m] = true
	}
	for m := range state.MonthlyExpenses {
		months[m] = true
	}

	keys := make([]string, 0, len(months))
	for m := range months {
		keys = append(keys, m)
	}
	sort.Strings(keys)

	if windowMonths > 0 && len(keys) > windowMonths {
		keys = keys[len(keys)-windowMonths:]
	}

	nets := make([]monthlyNet, 0, len(keys))
	for _, k := range keys {
		t, err := time.Parse(model.MonthKeyLayout, k)
		if err != nil {
			// key 格式在落库前已校验，这里按防御跳过
			continue
		}
		net := state.MonthlyIncome[k].Sub(state.MonthlyExpenses[k])
		nets = append(nets, monthlyNet{Month: t, Net: net})
	}

	return nets
}

// volatilityScore 月净额序列的变异系数
func volatilityScore(nets []monthlyNet) decimal.Decimal {
	if len(nets) < 2 {
		return decimal.Zero
	}

	values := make([]float64, len(nets))
	absValues := make([]float64, len(nets))
	for i, n := range nets {
		v, _ := n.Net.Float64()
		values[i] = v
		absValues[i] = math.Abs(v)
	}

	meanAbs, err := stats.Mean(absValues)
	if err != nil || meanAbs == 0 {
		return decimal.Zero
	}

	sd, err := stats.StandardDeviationSample(values)
	if err != nil {
		return decimal.Zero
	}

	return decimal.NewFromFloat(sd / meanAbs).Round(volatilityScoreScale)
}

// recentTrend 最近三个月的趋势判定
// 要求最近三个月份在日历上连续，且净额严格单调
func recentTrend(nets []monthlyNet) (string, bool) {
	if len(nets) < trendWindow {
		return "", false
	}

	last := nets[len(nets)-trendWindow:]
	for i := 1; i < trendWindow; i++ {
		if !last[i].Month.Equal(last[i-1].Month.AddDate(0, 1, 0)) {
			return "", false
		}
	}

	increasing, decreasing := true, true
	for i := 1; i < trendWindow; i++ {
		if !last[i].Net.GreaterThan(last[i-1].Net) {
			increasing = false
		}
		if !last[i].Net.LessThan(last[i-1].Net) {
			decreasing = false
		}
	}

	if increasing {
		return model.PatternIncreasing, true
	}
	if decreasing {
		return model.PatternDecreasing, true
	}
	return "", false
}

// seasonalPattern 季节分解规则（可选，数据不足 12 个月时不参与）
// 滞后 12 月自相关显著则视为季节性，否则波动远超高阈值视为无规律
func seasonalPattern(nets []monthlyNet, cv, highThreshold float64) (string, bool) {
	values := make([]float64, len(nets))
	for i, n := range nets {
		v, _ := n.Net.Float64()
		values[i] = v
	}

	if corr := lagAutocorrelation(values, seasonalLag); corr >= seasonalCorrMin {
		return model.PatternSeasonal, true
	}
	if cv >= highThreshold*erraticFactor {
		return model.PatternErratic, true
	}
	return "", false
}

// lagAutocorrelation 滞后 lag 的自相关系数；样本不足时返回 0
func lagAutocorrelation(values []float64, lag int) float64 {
	if len(values) <= lag {
		return 0
	}

	mean, err := stats.Mean(values)
	if err != nil {
		return 0
	}

	var num, den float64
	for i := 0; i < len(values); i++ {
		den += (values[i] - mean) * (values[i] - mean)
	}
	if den == 0 {
		return 0
	}
	for i := 0; i+lag < len(values); i++ {
		num += (values[i] - mean) * (values[i+lag] - mean)
	}

	return num / den
}

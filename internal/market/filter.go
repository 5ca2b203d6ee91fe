// Package market 维护市场注册表、行情同步与机会筛选
package market

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/betbot/kalshibot/internal/domain"
)

// 筛选拒绝原因，按检查顺序短路返回第一个不满足项
const (
	ReasonMarketClosed      = "market_closed"
	ReasonProbabilityTooLow = "probability_too_low"
	ReasonLowLiquidity      = "insufficient_liquidity"
	ReasonLowVolume         = "insufficient_volume"
	ReasonSpreadTooWide     = "spread_too_wide"
	ReasonMissingPrices     = "missing_prices"
	ReasonNoRoomForProfit   = "insufficient_room_for_profit"
)

// priceCeiling 二元合约的价格上限，止盈目标必须在此之下
var priceCeiling = decimal.NewFromFloat(0.99)

// Filter 机会筛选器，全部阈值在构造时注入且不可变
type Filter struct {
	minProbability decimal.Decimal
	minLiquidity   decimal.Decimal
	minVolume      decimal.Decimal
	maxSpreadPct   decimal.Decimal
	takeProfitPct  decimal.Decimal
}

// NewFilter 创建筛选器
func NewFilter(minProbability, minLiquidity, minVolume, maxSpreadPct, takeProfitPct float64) *Filter {
	return &Filter{
		minProbability: decimal.NewFromFloat(minProbability),
		minLiquidity:   decimal.NewFromFloat(minLiquidity),
		minVolume:      decimal.NewFromFloat(minVolume),
		maxSpreadPct:   decimal.NewFromFloat(maxSpreadPct),
		takeProfitPct:  decimal.NewFromFloat(takeProfitPct),
	}
}

// Check 按固定顺序检查市场是否满足入场条件
// 返回 (true, "") 或 (false, 第一个不满足的原因)
func (f *Filter) Check(m *domain.Market) (bool, string) {
	if !m.IsActive() {
		return false, ReasonMarketClosed
	}

	prob, ok := m.Probability()
	if !ok || prob.LessThan(f.minProbability) {
		return false, ReasonProbabilityTooLow
	}

	if m.Liquidity.LessThan(f.minLiquidity) {
		return false, ReasonLowLiquidity
	}

	if decimal.NewFromInt(m.Volume).LessThan(f.minVolume) {
		return false, ReasonLowVolume
	}

	spreadPct, ok := m.SpreadPct()
	if !ok {
		return false, ReasonMissingPrices
	}
	if spreadPct.GreaterThan(f.maxSpreadPct) {
		return false, ReasonSpreadTooWide
	}

	if !f.hasRoomForProfit(m) {
		return false, ReasonNoRoomForProfit
	}

	return true, ""
}

// hasRoomForProfit 入场价按止盈比例抬升后必须仍低于 0.99 上限
func (f *Filter) hasRoomForProfit(m *domain.Market) bool {
	if m.YesAsk == nil {
		return false
	}
	target := m.YesAsk.Mul(decimal.NewFromInt(1).Add(f.takeProfitPct))
	return target.LessThan(priceCeiling)
}

// Score 计算机会评分 (0-100)，未通过筛选时返回 false
// 加权: 概率 40 + 流动性(对数) 30 + 点差 20 + 成交量(对数) 10
func (f *Filter) Score(m *domain.Market) (float64, bool) {
	if ok, _ := f.Check(m); !ok {
		return 0, false
	}

	score := 0.0

	// 概率: [阈值, 0.95] 线性映射到 [0, 1]
	if prob, ok := m.Probability(); ok {
		span := decimal.NewFromFloat(0.95).Sub(f.minProbability)
		if span.IsPositive() {
			probScore, _ := prob.Sub(f.minProbability).Div(span).Float64()
			score += clamp01(probScore) * 40
		}
	}

	// 流动性: log2(流动性/下限)，2 倍下限即满分
	if f.minLiquidity.IsPositive() {
		ratio, _ := m.Liquidity.Div(f.minLiquidity).Float64()
		score += clamp01(math.Log(ratio)/math.Ln2) * 30
	}

	// 点差: 越窄越高
	if spreadPct, ok := m.SpreadPct(); ok && f.maxSpreadPct.IsPositive() {
		frac, _ := spreadPct.Div(f.maxSpreadPct).Float64()
		score += clamp01(1-frac) * 20
	}

	// 成交量: log2(成交量/下限)，2 倍下限即满分
	if f.minVolume.IsPositive() && m.Volume > 0 {
		ratio, _ := decimal.NewFromInt(m.Volume).Div(f.minVolume).Float64()
		score += clamp01(math.Log(ratio)/math.Ln2) * 10
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score, true
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

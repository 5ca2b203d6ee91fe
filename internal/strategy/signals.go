// Package strategy 负责入场信号生成与离场判定
package strategy

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/kalshibot/internal/domain"
)

var (
	one           = decimal.NewFromInt(1)
	confidenceCap = decimal.NewFromFloat(0.95)
	defaultConfid = decimal.NewFromInt(70)
	strongCutoff  = decimal.NewFromInt(90)
	mediumCutoff  = decimal.NewFromInt(75)
)

// SignalGenerator 由市场状态生成入场信号
type SignalGenerator struct {
	entryThreshold decimal.Decimal
	takeProfitPct  decimal.Decimal
	stopLossPct    decimal.Decimal
}

// NewSignalGenerator 创建信号生成器
func NewSignalGenerator(entryThreshold, takeProfitPct, stopLossPct float64) *SignalGenerator {
	return &SignalGenerator{
		entryThreshold: decimal.NewFromFloat(entryThreshold),
		takeProfitPct:  decimal.NewFromFloat(takeProfitPct),
		stopLossPct:    decimal.NewFromFloat(stopLossPct),
	}
}

// Generate 生成入场信号
// 入场价取卖一价，缺失时退回最新成交价；sizeDollars 为仓位金额（美元）
func (g *SignalGenerator) Generate(m *domain.Market, sizeDollars decimal.Decimal) (*domain.TradingSignal, error) {
	entry := m.YesAsk
	if entry == nil {
		entry = m.LastPrice
	}
	if entry == nil || !entry.IsPositive() {
		return nil, errors.New("市场无可用入场价")
	}

	count := sizeDollars.Div(*entry).IntPart()
	if count <= 0 {
		return nil, errors.Errorf("仓位金额 %s 不足一张合约", sizeDollars)
	}

	stopLoss := entry.Mul(one.Sub(g.stopLossPct))
	takeProfit := entry.Mul(one.Add(g.takeProfitPct))

	confidence := g.confidence(m)

	sig := &domain.TradingSignal{
		Ticker:          m.Ticker,
		Side:            domain.SideYes,
		EntryPrice:      *entry,
		Count:           int(count),
		StopLossPrice:   stopLoss,
		TakeProfitPrice: takeProfit,
		Confidence:      confidence,
		Strength:        strengthFor(confidence),
		Rationale:       fmt.Sprintf("高概率入场机会: %s", m.Ticker),
		CreatedAt:       time.Now(),
	}

	if err := sig.Validate(); err != nil {
		return nil, errors.Wrap(err, "信号校验失败")
	}
	return sig, nil
}

// confidence 把概率从 [阈值, 0.95] 线性映射到 [60, 100]
// 无概率数据时给默认值 70
func (g *SignalGenerator) confidence(m *domain.Market) decimal.Decimal {
	prob, ok := m.Probability()
	if !ok {
		return defaultConfid
	}

	span := confidenceCap.Sub(g.entryThreshold)
	if !span.IsPositive() {
		return defaultConfid
	}
	c := prob.Sub(g.entryThreshold).Div(span).Mul(decimal.NewFromInt(40)).Add(decimal.NewFromInt(60))
	if c.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if c.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.NewFromInt(100)
	}
	return c
}

// strengthFor 置信度分档: >=90 STRONG, >=75 MEDIUM, 其余 WEAK
func strengthFor(confidence decimal.Decimal) domain.SignalStrength {
	switch {
	case confidence.GreaterThanOrEqual(strongCutoff):
		return domain.StrengthStrong
	case confidence.GreaterThanOrEqual(mediumCutoff):
		return domain.StrengthMedium
	default:
		return domain.StrengthWeak
	}
}

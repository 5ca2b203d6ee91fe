package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/kalshibot/internal/domain"
	"github.com/betbot/kalshibot/pkg/logger"
)

// Config 策略参数，构造后不可变
type Config struct {
	EntryThreshold     float64
	TakeProfitPct      float64
	StopLossPct        float64
	MaxHoldTime        time.Duration
	MaxPositionSizePct float64
	MinPositionSize    float64
	MaxPositionSize    float64
}

// Engine 策略引擎，组合信号生成与离场判定
type Engine struct {
	cfg     Config
	signals *SignalGenerator
	exits   *ExitManager

	maxPositionSizePct decimal.Decimal
	minPositionSize    decimal.Decimal
	maxPositionSize    decimal.Decimal
}

// NewEngine 创建策略引擎
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:                cfg,
		signals:            NewSignalGenerator(cfg.EntryThreshold, cfg.TakeProfitPct, cfg.StopLossPct),
		exits:              NewExitManager(cfg.MaxHoldTime),
		maxPositionSizePct: decimal.NewFromFloat(cfg.MaxPositionSizePct),
		minPositionSize:    decimal.NewFromFloat(cfg.MinPositionSize),
		maxPositionSize:    decimal.NewFromFloat(cfg.MaxPositionSize),
	}
}

// EvaluateMarket 评估市场并尝试生成入场信号
// 生成或校验失败时返回 nil（只记日志，绝不 panic）
func (e *Engine) EvaluateMarket(m *domain.Market, available decimal.Decimal) *domain.TradingSignal {
	size := e.PositionSize(available)
	if size.LessThan(e.minPositionSize) {
		logger.Debugf("[strategy] 仓位金额过小: %s < %s", size, e.minPositionSize)
		return nil
	}

	sig, err := e.signals.Generate(m, size)
	if err != nil {
		logger.Warnf("[strategy] 信号生成失败: %s %v", m.Ticker, err)
		return nil
	}

	logger.Infof("[strategy] 入场信号: %s entry=%s stop=%s take=%s count=%d confidence=%s",
		sig.Ticker, sig.EntryPrice, sig.StopLossPrice, sig.TakeProfitPrice, sig.Count, sig.Confidence)
	return sig
}

// PositionSize 仓位金额 = clamp(可用余额 × 占比, 下限, 上限)，再截到可用余额
func (e *Engine) PositionSize(available decimal.Decimal) decimal.Decimal {
	size := available.Mul(e.maxPositionSizePct)

	if size.LessThan(e.minPositionSize) {
		size = e.minPositionSize
	}
	if size.GreaterThan(e.maxPositionSize) {
		size = e.maxPositionSize
	}
	if size.GreaterThan(available) {
		size = available
	}
	return size
}

// CheckExit 判断持仓是否应当离场
func (e *Engine) CheckExit(p *domain.Position, current decimal.Decimal, marketClosing bool, now time.Time) (bool, domain.ExitReason) {
	return e.exits.ShouldExit(p, current, marketClosing, now)
}

// ExitPrice 计算平仓价格
func (e *Engine) ExitPrice(p *domain.Position, current decimal.Decimal, reason domain.ExitReason) decimal.Decimal {
	return e.exits.ExitPrice(p, current, reason)
}

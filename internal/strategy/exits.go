package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/kalshibot/internal/domain"
)

// ExitManager 离场判定
// 按固定优先级检查: 市场关闭 > 止损 > 止盈 > 超时
type ExitManager struct {
	maxHoldTime time.Duration
}

// NewExitManager 创建离场判定器
func NewExitManager(maxHoldTime time.Duration) *ExitManager {
	return &ExitManager{maxHoldTime: maxHoldTime}
}

// ShouldExit 判断持仓是否应当离场，返回首个命中的原因
// 未触发离场时更新浮盈/回撤水位线
func (e *ExitManager) ShouldExit(p *domain.Position, current decimal.Decimal, marketClosing bool, now time.Time) (bool, domain.ExitReason) {
	if marketClosing {
		return true, domain.ExitMarketClosed
	}
	if current.LessThanOrEqual(p.StopLossPrice) {
		return true, domain.ExitStopLoss
	}
	if current.GreaterThanOrEqual(p.TakeProfitPrice) {
		return true, domain.ExitTakeProfit
	}
	if p.HoldDuration(now) >= e.maxHoldTime {
		return true, domain.ExitTimeout
	}

	p.UpdateWatermarks(current)
	return false, ""
}

// ExitPrice 按离场原因确定平仓价格:
// 止损/止盈用持仓预设的限价（假定挂单在该价位成交），
// 超时/市场关闭用当前市价
func (e *ExitManager) ExitPrice(p *domain.Position, current decimal.Decimal, reason domain.ExitReason) decimal.Decimal {
	switch reason {
	case domain.ExitStopLoss:
		return p.StopLossPrice
	case domain.ExitTakeProfit:
		return p.TakeProfitPrice
	default:
		return current
	}
}

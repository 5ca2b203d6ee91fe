package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PositionStatus 仓位状态
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "OPEN"
	PositionStatusClosing PositionStatus = "CLOSING"
	PositionStatusClosed  PositionStatus = "CLOSED"
)

// ExitReason 平仓原因，按优先级排列:
// MARKET_CLOSED > STOP_LOSS > TAKE_PROFIT > TIMEOUT
type ExitReason string

const (
	ExitMarketClosed ExitReason = "MARKET_CLOSED"
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitTakeProfit   ExitReason = "TAKE_PROFIT"
	ExitTimeout      ExitReason = "TIMEOUT"
	ExitManual       ExitReason = "MANUAL"
)

// Position 持仓记录
type Position struct {
	ID              string
	Ticker          string
	Side            OrderSide
	EntryOrderID    string // 入场订单本地 id
	StopOrderID     string // 止损单 id（可能为空，挂单失败时）
	TakeOrderID     string // 止盈单 id（可能为空）
	ExitOrderID     string // 平仓单 id（主动平仓时）
	EntryPrice      decimal.Decimal
	Count           int
	StopLossPrice   decimal.Decimal
	TakeProfitPrice decimal.Decimal
	Status          PositionStatus
	OpenedAt        time.Time
	ClosedAt        *time.Time
	ExitReason      ExitReason
	ExitPrice       decimal.Decimal
	RealizedPnL     decimal.Decimal
	MaxProfitPct    decimal.Decimal // 持仓期间最大浮盈比例
	MaxDrawdownPct  decimal.Decimal // 持仓期间最大浮亏比例（负值）
}

// NewPosition 以入场成交价建立持仓
func NewPosition(ticker string, side OrderSide, entryOrderID string, entryPrice decimal.Decimal, count int, stopLoss, takeProfit decimal.Decimal) *Position {
	return &Position{
		ID:              uuid.NewString(),
		Ticker:          ticker,
		Side:            side,
		EntryOrderID:    entryOrderID,
		EntryPrice:      entryPrice,
		Count:           count,
		StopLossPrice:   stopLoss,
		TakeProfitPrice: takeProfit,
		Status:          PositionStatusOpen,
		OpenedAt:        time.Now(),
	}
}

// Notional 仓位名义金额（美元）
func (p *Position) Notional() decimal.Decimal {
	return p.EntryPrice.Mul(decimal.NewFromInt(int64(p.Count)))
}

// UnrealizedPnL 按当前价计算浮动盈亏
func (p *Position) UnrealizedPnL(current decimal.Decimal) decimal.Decimal {
	return current.Sub(p.EntryPrice).Mul(decimal.NewFromInt(int64(p.Count)))
}

// PnLPct 按当前价计算浮动盈亏比例
func (p *Position) PnLPct(current decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return current.Sub(p.EntryPrice).Div(p.EntryPrice)
}

// HoldDuration 持仓时长
func (p *Position) HoldDuration(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// UpdateWatermarks 更新最大浮盈/最大回撤水位线
func (p *Position) UpdateWatermarks(current decimal.Decimal) {
	pct := p.PnLPct(current)
	if pct.GreaterThan(p.MaxProfitPct) {
		p.MaxProfitPct = pct
	}
	if pct.LessThan(p.MaxDrawdownPct) {
		p.MaxDrawdownPct = pct
	}
}

// Close 关闭仓位并记录已实现盈亏，重复调用是幂等的
func (p *Position) Close(exitPrice decimal.Decimal, reason ExitReason, now time.Time) {
	if p.Status == PositionStatusClosed {
		return
	}
	p.Status = PositionStatusClosed
	p.ExitPrice = exitPrice
	p.ExitReason = reason
	p.RealizedPnL = exitPrice.Sub(p.EntryPrice).Mul(decimal.NewFromInt(int64(p.Count)))
	closedAt := now
	p.ClosedAt = &closedAt
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade 一笔完整交易的持久化记录，开仓时写入，平仓时更新
type Trade struct {
	ID          string           `json:"id"`
	PositionID  string           `json:"position_id"`
	Ticker      string           `json:"ticker"`
	Side        OrderSide        `json:"side"`
	EntryPrice  decimal.Decimal  `json:"entry_price"`
	ExitPrice   *decimal.Decimal `json:"exit_price,omitempty"`
	Count       int              `json:"count"`
	RealizedPnL *decimal.Decimal `json:"realized_pnl,omitempty"`
	ExitReason  ExitReason       `json:"exit_reason,omitempty"`
	Confidence  decimal.Decimal  `json:"confidence"`
	Rationale   string           `json:"rationale,omitempty"`
	OpenedAt    time.Time        `json:"opened_at"`
	ClosedAt    *time.Time       `json:"closed_at,omitempty"`
}

// TradeFromPosition 由持仓生成交易记录
func TradeFromPosition(p *Position, sig *TradingSignal) *Trade {
	t := &Trade{
		ID:         p.ID,
		PositionID: p.ID,
		Ticker:     p.Ticker,
		Side:       p.Side,
		EntryPrice: p.EntryPrice,
		Count:      p.Count,
		OpenedAt:   p.OpenedAt,
	}
	if sig != nil {
		t.Confidence = sig.Confidence
		t.Rationale = sig.Rationale
	}
	return t
}

// ApplyClose 用平仓结果更新交易记录
func (t *Trade) ApplyClose(p *Position) {
	exit := p.ExitPrice
	pnl := p.RealizedPnL
	t.ExitPrice = &exit
	t.RealizedPnL = &pnl
	t.ExitReason = p.ExitReason
	t.ClosedAt = p.ClosedAt
}

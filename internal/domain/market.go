package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus 市场状态
type MarketStatus string

const (
	MarketStatusUnopened MarketStatus = "unopened"
	MarketStatusActive   MarketStatus = "active"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusSettled  MarketStatus = "settled"
)

// Market 二元市场的本地视图
// 报价在第一条行情到达前为 nil
type Market struct {
	Ticker       string
	EventTicker  string
	Title        string
	Category     string
	Status       MarketStatus
	YesBid       *decimal.Decimal // YES 买一价（美元）
	YesAsk       *decimal.Decimal // YES 卖一价（美元）
	NoBid        *decimal.Decimal
	NoAsk        *decimal.Decimal
	LastPrice    *decimal.Decimal // 最新成交价（美元）
	Volume       int64
	OpenInterest int64
	Liquidity    decimal.Decimal // 美元
	CloseTime    time.Time
	UpdatedAt    time.Time
}

// IsActive 市场是否处于可交易状态
func (m *Market) IsActive() bool {
	return m.Status == MarketStatusActive
}

// HasQuotes YES 双边报价是否齐全
func (m *Market) HasQuotes() bool {
	return m.YesBid != nil && m.YesAsk != nil
}

// YesMid YES 中间价，报价不全时返回 false
func (m *Market) YesMid() (decimal.Decimal, bool) {
	if !m.HasQuotes() {
		return decimal.Zero, false
	}
	return m.YesBid.Add(*m.YesAsk).Div(decimal.NewFromInt(2)), true
}

// SpreadPct 点差相对买一价的比例，买一价为 0 时返回 0
func (m *Market) SpreadPct() (decimal.Decimal, bool) {
	if !m.HasQuotes() {
		return decimal.Zero, false
	}
	if m.YesBid.IsZero() {
		return decimal.Zero, true
	}
	spread := m.YesAsk.Sub(*m.YesBid)
	return spread.Div(*m.YesBid), true
}

// Probability 隐含概率 = 最新成交价，未有成交时返回 false
func (m *Market) Probability() (decimal.Decimal, bool) {
	if m.LastPrice == nil {
		return decimal.Zero, false
	}
	return *m.LastPrice, true
}

// TimeToClose 距离市场关闭的时长，已过期返回 0
func (m *Market) TimeToClose(now time.Time) time.Duration {
	if m.CloseTime.IsZero() || !m.CloseTime.After(now) {
		return 0
	}
	return m.CloseTime.Sub(now)
}

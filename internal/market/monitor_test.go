package market

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/betbot/kalshibot/internal/domain"
	"github.com/betbot/kalshibot/internal/stream"
)

type fakeLister struct {
	markets []*domain.Market
}

func (f *fakeLister) GetMarkets(_ context.Context, _ string) ([]*domain.Market, error) {
	return f.markets, nil
}

func envelope(t *testing.T, msgType string, payload any) *stream.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("构造消息失败: %v", err)
	}
	return &stream.Envelope{Type: msgType, Msg: raw}
}

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	lister := &fakeLister{markets: []*domain.Market{
		{Ticker: "KXBTC-A", Status: domain.MarketStatusActive, Volume: 20000, Liquidity: decimal.NewFromInt(1000)},
	}}
	mo := NewMonitor(lister, newTestFilter())
	if _, err := mo.Discover(context.Background()); err != nil {
		t.Fatalf("市场发现失败: %v", err)
	}
	return mo
}

// TestMonitorDiscover 市场发现应填充注册表
func TestMonitorDiscover(t *testing.T) {
	mo := newTestMonitor(t)
	if mo.MarketCount() != 1 {
		t.Fatalf("市场数 = %d, 期望 1", mo.MarketCount())
	}
	if _, ok := mo.Market("KXBTC-A"); !ok {
		t.Error("KXBTC-A 应在注册表中")
	}
	if _, ok := mo.Market("KXBTC-UNKNOWN"); ok {
		t.Error("未发现的市场不应在注册表中")
	}
}

// TestMonitorSnapshotSyncsQuotes 订单簿快照应同步买一/卖一到市场
func TestMonitorSnapshotSyncsQuotes(t *testing.T) {
	mo := newTestMonitor(t)

	mo.HandleMessage(envelope(t, stream.TypeOrderbookSnapshot, map[string]any{
		"market_ticker": "KXBTC-A",
		"yes":           [][2]int64{{80, 50}, {79, 30}},
		"no":            [][2]int64{{15, 20}},
	}))

	m, _ := mo.Market("KXBTC-A")
	if m.YesBid == nil || !m.YesBid.Equal(decimal.NewFromFloat(0.80)) {
		t.Errorf("买一 = %v, 期望 0.80", m.YesBid)
	}
	if m.YesAsk == nil || !m.YesAsk.Equal(decimal.NewFromFloat(0.85)) {
		t.Errorf("卖一 = %v, 期望 0.85", m.YesAsk)
	}
	// 流动性 = 买一价位挂单量 × 价格 = 50 × 0.80
	if !m.Liquidity.Equal(decimal.NewFromInt(40)) {
		t.Errorf("流动性 = %s, 期望 40", m.Liquidity)
	}
}

// TestMonitorDeltaUpdatesQuotes 订单簿增量应反映到市场报价
func TestMonitorDeltaUpdatesQuotes(t *testing.T) {
	mo := newTestMonitor(t)
	mo.HandleMessage(envelope(t, stream.TypeOrderbookSnapshot, map[string]any{
		"market_ticker": "KXBTC-A",
		"yes":           [][2]int64{{80, 50}},
		"no":            [][2]int64{{15, 20}},
	}))

	// 清掉 80 价位, 买一消失后新增 82
	mo.HandleMessage(envelope(t, stream.TypeOrderbookDelta, map[string]any{
		"market_ticker": "KXBTC-A", "price": 80, "delta": -50, "side": "yes",
	}))
	mo.HandleMessage(envelope(t, stream.TypeOrderbookDelta, map[string]any{
		"market_ticker": "KXBTC-A", "price": 82, "delta": 10, "side": "yes",
	}))

	m, _ := mo.Market("KXBTC-A")
	if m.YesBid == nil || !m.YesBid.Equal(decimal.NewFromFloat(0.82)) {
		t.Errorf("买一 = %v, 期望 0.82", m.YesBid)
	}
}

// TestMonitorTickerUpdates 行情消息应更新成交价与报价
func TestMonitorTickerUpdates(t *testing.T) {
	mo := newTestMonitor(t)

	mo.HandleMessage(envelope(t, stream.TypeTicker, map[string]any{
		"market_ticker": "KXBTC-A",
		"yes_price":     88, "yes_bid": 88, "yes_ask": 89,
		"volume": 30000,
	}))

	m, _ := mo.Market("KXBTC-A")
	if m.LastPrice == nil || !m.LastPrice.Equal(decimal.NewFromFloat(0.88)) {
		t.Errorf("成交价 = %v, 期望 0.88", m.LastPrice)
	}
	if m.Volume != 30000 {
		t.Errorf("成交量 = %d, 期望 30000", m.Volume)
	}
}

// TestMonitorOpportunityCallback 市场通过筛选后应触发机会回调
func TestMonitorOpportunityCallback(t *testing.T) {
	mo := newTestMonitor(t)

	var fired int
	var gotTicker string
	var gotScore float64
	mo.OnOpportunity(func(m *domain.Market, score float64) {
		fired++
		gotTicker = m.Ticker
		gotScore = score
	})

	// 行情满足全部条件: 概率 0.88, 流动性 1000, 成交量 30000, 点差 ~1.1%
	mo.HandleMessage(envelope(t, stream.TypeTicker, map[string]any{
		"market_ticker": "KXBTC-A",
		"yes_price":     88, "yes_bid": 88, "yes_ask": 89,
		"volume": 30000,
	}))

	if fired != 1 {
		t.Fatalf("回调次数 = %d, 期望 1", fired)
	}
	if gotTicker != "KXBTC-A" {
		t.Errorf("回调 ticker = %s", gotTicker)
	}
	if gotScore <= 0 || gotScore > 100 {
		t.Errorf("评分 = %v, 应在 (0, 100]", gotScore)
	}

	// 概率跌破阈值后不再触发
	mo.HandleMessage(envelope(t, stream.TypeTicker, map[string]any{
		"market_ticker": "KXBTC-A", "yes_price": 70,
	}))
	if fired != 1 {
		t.Errorf("低概率行情不应触发回调, 次数 = %d", fired)
	}
}

// TestMonitorOpportunityThrottled 节流窗口内同一市场不应重复回调
func TestMonitorOpportunityThrottled(t *testing.T) {
	mo := newTestMonitor(t)

	var fired int
	mo.OnOpportunity(func(m *domain.Market, score float64) { fired++ })

	good := map[string]any{
		"market_ticker": "KXBTC-A",
		"yes_price":     88, "yes_bid": 88, "yes_ask": 89,
		"volume": 30000,
	}
	mo.HandleMessage(envelope(t, stream.TypeTicker, good))
	mo.HandleMessage(envelope(t, stream.TypeTicker, good))
	mo.HandleMessage(envelope(t, stream.TypeTicker, good))

	if fired != 1 {
		t.Errorf("回调次数 = %d, 期望节流后只有 1 次", fired)
	}

	// 窗口过期后可再次触发
	mo.throttle.Reset("KXBTC-A")
	mo.HandleMessage(envelope(t, stream.TypeTicker, good))
	if fired != 2 {
		t.Errorf("节流重置后回调次数 = %d, 期望 2", fired)
	}
}

// TestMonitorFillDispatch 成交与订单更新消息应转发给对应回调
func TestMonitorFillDispatch(t *testing.T) {
	mo := newTestMonitor(t)

	var fills []*stream.FillMsg
	var updates []*stream.OrderUpdateMsg
	mo.OnFill(func(f *stream.FillMsg) { fills = append(fills, f) })
	mo.OnOrderUpdate(func(u *stream.OrderUpdateMsg) { updates = append(updates, u) })

	mo.HandleMessage(envelope(t, stream.TypeFill, map[string]any{
		"market_ticker": "KXBTC-A", "order_id": "exch-1", "count": 10, "yes_price": 88,
	}))
	mo.HandleMessage(envelope(t, stream.TypeOrderUpdate, map[string]any{
		"market_ticker": "KXBTC-A", "order_id": "exch-1", "status": "executed",
	}))

	if len(fills) != 1 || fills[0].OrderID != "exch-1" {
		t.Errorf("成交回调错误: %+v", fills)
	}
	if len(updates) != 1 || updates[0].Status != "executed" {
		t.Errorf("订单更新回调错误: %+v", updates)
	}
}

// TestMonitorMalformedDropped 畸形消息应被丢弃且不影响已有状态
func TestMonitorMalformedDropped(t *testing.T) {
	mo := newTestMonitor(t)
	mo.HandleMessage(envelope(t, stream.TypeOrderbookSnapshot, map[string]any{
		"market_ticker": "KXBTC-A",
		"yes":           [][2]int64{{80, 50}},
		"no":            [][2]int64{{15, 20}},
	}))

	mo.HandleMessage(&stream.Envelope{Type: stream.TypeOrderbookDelta, Msg: json.RawMessage(`{"price":"bad"}`)})
	mo.HandleMessage(&stream.Envelope{Type: "mystery", Msg: json.RawMessage(`{}`)})

	m, _ := mo.Market("KXBTC-A")
	if m.YesBid == nil || !m.YesBid.Equal(decimal.NewFromFloat(0.80)) {
		t.Error("畸形消息不应破坏已有报价")
	}
}

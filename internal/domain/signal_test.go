package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func validSignal() *TradingSignal {
	return &TradingSignal{
		Ticker:          "KXBTC-TEST",
		Side:            SideYes,
		EntryPrice:      decimal.NewFromFloat(0.80),
		Count:           100,
		StopLossPrice:   decimal.NewFromFloat(0.792),
		TakeProfitPrice: decimal.NewFromFloat(0.816),
		Confidence:      decimal.NewFromInt(70),
		Strength:        StrengthWeak,
	}
}

// TestSignalValidateOK 合法信号应通过校验
// 盈亏比 = 0.016/0.008 = 2.0
func TestSignalValidateOK(t *testing.T) {
	if err := validSignal().Validate(); err != nil {
		t.Errorf("合法信号被拒绝: %v", err)
	}
}

// TestSignalValidateRejects 各类非法信号应被拒绝
func TestSignalValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*TradingSignal)
	}{
		{"缺少 ticker", func(s *TradingSignal) { s.Ticker = "" }},
		{"数量为零", func(s *TradingSignal) { s.Count = 0 }},
		{"止损高于入场", func(s *TradingSignal) { s.StopLossPrice = decimal.NewFromFloat(0.85) }},
		{"止盈低于入场", func(s *TradingSignal) { s.TakeProfitPrice = decimal.NewFromFloat(0.79) }},
		{"入场价越界", func(s *TradingSignal) { s.EntryPrice = decimal.NewFromFloat(1.00) }},
		{"止盈价越界", func(s *TradingSignal) { s.TakeProfitPrice = decimal.NewFromFloat(0.995) }},
		{"金额低于下限", func(s *TradingSignal) { s.Count = 10 }}, // 0.80*10 = $8 < $10
		{"盈亏比不足", func(s *TradingSignal) {
			// reward=0.004, risk=0.008 -> RR=0.5
			s.TakeProfitPrice = decimal.NewFromFloat(0.804)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := validSignal()
			tc.mutate(s)
			if err := s.Validate(); err == nil {
				t.Errorf("%s: 期望校验失败", tc.name)
			}
		})
	}
}

// TestMarketYesMid 中间价与点差比例
func TestMarketYesMid(t *testing.T) {
	bid := decimal.NewFromFloat(0.80)
	ask := decimal.NewFromFloat(0.85)
	m := &Market{Ticker: "KXBTC-TEST", Status: MarketStatusActive, YesBid: &bid, YesAsk: &ask}

	mid, ok := m.YesMid()
	if !ok {
		t.Fatal("报价齐全时 YesMid 应可用")
	}
	if !mid.Equal(decimal.NewFromFloat(0.825)) {
		t.Errorf("中间价 = %s, 期望 0.825", mid)
	}

	spread, ok := m.SpreadPct()
	if !ok {
		t.Fatal("报价齐全时 SpreadPct 应可用")
	}
	// 0.05 / 0.80
	want := decimal.NewFromFloat(0.05).Div(decimal.NewFromFloat(0.80))
	if !spread.Equal(want) {
		t.Errorf("点差比例 = %s, 期望 %s", spread, want)
	}
}

// TestMarketMissingQuotes 报价不全时相关计算不可用
func TestMarketMissingQuotes(t *testing.T) {
	bid := decimal.NewFromFloat(0.80)
	m := &Market{Ticker: "KXBTC-TEST", YesBid: &bid}

	if _, ok := m.YesMid(); ok {
		t.Error("缺少卖一价时 YesMid 不应可用")
	}
	if m.HasQuotes() {
		t.Error("缺少卖一价时 HasQuotes 应为 false")
	}
}
